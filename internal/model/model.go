// Package model defines the core domain types for the seat reservation engine.
package model

import "time"

// Event is the inventory row for a bookable event. Title, venue, capacity and
// event time are owned by the event catalog; AvailableSeats is owned by the
// reservation engine once the event exists.
type Event struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Venue          string    `json:"venue"`
	Capacity       int       `json:"capacity"`
	AvailableSeats int       `json:"available_seats"`
	EventTime      time.Time `json:"event_time"`
	Version        int64     `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BookedSeats returns the number of seats held by confirmed bookings.
func (e *Event) BookedSeats() int {
	return e.Capacity - e.AvailableSeats
}

// IsSoldOut returns true when no seats remain.
func (e *Event) IsSoldOut() bool {
	return e.AvailableSeats <= 0
}

// HasStarted reports whether the event time is at or before now.
func (e *Event) HasStarted(now time.Time) bool {
	return !e.EventTime.After(now)
}

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	return s == BookingConfirmed || s == BookingCancelled
}

// Booking is a user's claim on some number of an event's seats.
type Booking struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	EventID         string        `json:"event_id"`
	NumberOfTickets int           `json:"number_of_tickets"`
	Status          BookingStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsCancelled returns true once the booking has been cancelled.
func (b *Booking) IsCancelled() bool {
	return b.Status == BookingCancelled
}

// BookingView is a booking joined with the catalog fields of its event.
type BookingView struct {
	Booking
	EventTitle string    `json:"event_title"`
	EventTime  time.Time `json:"event_time"`
	Venue      string    `json:"venue"`
}

// BookingPage is one page of a booking listing.
type BookingPage struct {
	Bookings   []BookingView `json:"bookings"`
	Page       int           `json:"current_page"`
	PageSize   int           `json:"page_size"`
	Total      int           `json:"total_bookings"`
	TotalPages int           `json:"total_pages"`
}

// NewBookingPage computes the page totals for a listing.
func NewBookingPage(bookings []BookingView, page, pageSize, total int) *BookingPage {
	if bookings == nil {
		bookings = []BookingView{}
	}
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return &BookingPage{
		Bookings:   bookings,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}

// BookingFilter narrows an administrative booking listing.
type BookingFilter struct {
	UserID   string
	EventID  string
	Status   BookingStatus
	Page     int
	PageSize int
}

// Offset returns the row offset for the filter's page.
func (f BookingFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// Availability is an unlocked display read of an event's inventory.
type Availability struct {
	EventID        string    `json:"event_id"`
	Title          string    `json:"title"`
	Capacity       int       `json:"capacity"`
	AvailableSeats int       `json:"available_seats"`
	EventTime      time.Time `json:"event_time"`
	SoldOut        bool      `json:"sold_out"`
}

// InventoryAudit compares the seat counter against the booking ledger.
type InventoryAudit struct {
	EventID          string `json:"event_id"`
	Capacity         int    `json:"capacity"`
	AvailableSeats   int    `json:"available_seats"`
	ConfirmedTickets int    `json:"confirmed_tickets"`
	Consistent       bool   `json:"consistent"`
}

// NewInventoryAudit fills in Consistent from the three counters.
func NewInventoryAudit(eventID string, capacity, available, confirmed int) *InventoryAudit {
	return &InventoryAudit{
		EventID:          eventID,
		Capacity:         capacity,
		AvailableSeats:   available,
		ConfirmedTickets: confirmed,
		Consistent: available == capacity-confirmed &&
			available >= 0 && available <= capacity,
	}
}

// Role is the caller's role as asserted by the identity provider.
type Role string

const (
	RoleUser      Role = "user"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
)

// Requester is the authenticated caller of an operation.
type Requester struct {
	UserID string
	Email  string
	Role   Role
}

// IsAdmin returns true for administrators.
func (r Requester) IsAdmin() bool {
	return r.Role == RoleAdmin
}

// CreateEventRequest seeds an inventory row. Used by the load test harness
// and integration tests; catalog management lives outside this service.
type CreateEventRequest struct {
	Title     string
	Venue     string
	Capacity  int
	EventTime time.Time
}

// ReserveRequest is the payload for reserving seats.
type ReserveRequest struct {
	EventID         string `json:"event_id"`
	NumberOfTickets int    `json:"number_of_tickets"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Kind      Kind   `json:"kind"`
	Remaining *int   `json:"remaining,omitempty"`
}
