package service

import (
	"context"
	"strings"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/policy"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ListBookingsForUser returns one page of the requester's bookings, newest
// first, with the total count. It takes no locks.
func (s *BookingService) ListBookingsForUser(ctx context.Context, requester model.Requester, page, pageSize int) (*model.BookingPage, error) {
	ctx, span := telemetry.StartSpan(ctx, "booking.list_for_user")
	defer span.End()

	if err := policy.Check(policy.ActionListOwnBookings, requester, requester.UserID); err != nil {
		return nil, err
	}
	page, pageSize = s.normalizePage(page, pageSize)
	offset := (page - 1) * pageSize

	var (
		views []model.BookingView
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		views, err = s.ledger.ListByUser(gctx, requester.UserID, pageSize, offset)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.ledger.CountByUser(gctx, requester.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, s.fail(span, "list bookings", err, zap.String("user_id", requester.UserID))
	}
	return model.NewBookingPage(views, page, pageSize, total), nil
}

// GetBooking returns a booking visible to the requester.
func (s *BookingService) GetBooking(ctx context.Context, requester model.Requester, bookingID string) (*model.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "booking.get", attribute.String("booking.id", bookingID))
	defer span.End()

	if _, err := uuid.Parse(strings.TrimSpace(bookingID)); err != nil {
		return nil, model.ErrBookingNotFound
	}
	b, err := s.ledger.GetBooking(ctx, strings.TrimSpace(bookingID))
	if err != nil {
		return nil, s.fail(span, "get booking", err, zap.String("booking_id", bookingID))
	}
	if err := policy.Check(policy.ActionViewBooking, requester, b.UserID); err != nil {
		return nil, err
	}
	return b, nil
}

// ListBookings is the administrative listing across all users.
func (s *BookingService) ListBookings(ctx context.Context, requester model.Requester, f model.BookingFilter) (*model.BookingPage, error) {
	ctx, span := telemetry.StartSpan(ctx, "booking.list_all")
	defer span.End()

	if err := policy.Check(policy.ActionListAllBookings, requester, ""); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, model.ErrInvalidRequest
	}
	f.Page, f.PageSize = s.normalizePage(f.Page, f.PageSize)

	views, total, err := s.ledger.ListBookings(ctx, f)
	if err != nil {
		return nil, s.fail(span, "list all bookings", err)
	}
	return model.NewBookingPage(views, f.Page, f.PageSize, total), nil
}

// Availability is an unlocked display read; it must not drive reservation
// decisions.
func (s *BookingService) Availability(ctx context.Context, eventID string) (*model.Availability, error) {
	ctx, span := telemetry.StartSpan(ctx, "booking.availability", attribute.String("event.id", eventID))
	defer span.End()

	if _, err := uuid.Parse(strings.TrimSpace(eventID)); err != nil {
		return nil, model.ErrEventNotFound
	}
	ev, err := s.inventory.GetEvent(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return nil, s.fail(span, "availability", err, zap.String("event_id", eventID))
	}
	return &model.Availability{
		EventID:        ev.ID,
		Title:          ev.Title,
		Capacity:       ev.Capacity,
		AvailableSeats: ev.AvailableSeats,
		EventTime:      ev.EventTime,
		SoldOut:        ev.IsSoldOut(),
	}, nil
}

// AuditInventory checks available_seats = capacity - confirmed tickets for
// one event.
func (s *BookingService) AuditInventory(ctx context.Context, requester model.Requester, eventID string) (*model.InventoryAudit, error) {
	ctx, span := telemetry.StartSpan(ctx, "booking.audit", attribute.String("event.id", eventID))
	defer span.End()

	if err := policy.Check(policy.ActionAuditInventory, requester, ""); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(strings.TrimSpace(eventID)); err != nil {
		return nil, model.ErrEventNotFound
	}
	audit, err := s.inventory.AuditEvent(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return nil, s.fail(span, "audit inventory", err, zap.String("event_id", eventID))
	}
	if !audit.Consistent {
		s.log.Error("inventory invariant violated",
			zap.String("event_id", audit.EventID),
			zap.Int("capacity", audit.Capacity),
			zap.Int("available_seats", audit.AvailableSeats),
			zap.Int("confirmed_tickets", audit.ConfirmedTickets),
		)
	}
	return audit, nil
}

func (s *BookingService) normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}
	return page, pageSize
}
