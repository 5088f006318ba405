package model

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindConflict           Kind = "conflict"
	KindCapacityExceeded   Kind = "capacity_exceeded"
	KindTemporalConstraint Kind = "temporal_constraint"
	KindAuthorization      Kind = "authorization"
	KindNotFound           Kind = "not_found"
	KindTimeout            Kind = "timeout"
	KindInternal           Kind = "internal"
)

// Error is a typed business error with a stable machine code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrInvalidTicketCount = &Error{KindValidation, "invalid_ticket_count", "number of tickets must be a positive integer"}
	ErrInvalidEventID     = &Error{KindValidation, "invalid_event_id", "a valid event id is required"}
	ErrInvalidRequest     = &Error{KindValidation, "invalid_request", "invalid request"}

	ErrDuplicateBooking       = &Error{KindConflict, "duplicate_booking", "you already have a confirmed booking for this event"}
	ErrAlreadyCancelled       = &Error{KindConflict, "already_cancelled", "booking is already cancelled"}
	ErrConcurrentModification = &Error{KindConflict, "concurrent_modification", "booking was modified concurrently, please retry"}

	ErrInsufficientCapacity = &Error{KindCapacityExceeded, "insufficient_capacity", "not enough available seats"}

	ErrEventClosed = &Error{KindTemporalConstraint, "event_closed", "event has already taken place"}

	ErrForbidden    = &Error{KindAuthorization, "forbidden", "you are not allowed to perform this action"}
	ErrUnauthorized = &Error{KindAuthorization, "unauthorized", "authentication required"}

	ErrEventNotFound   = &Error{KindNotFound, "event_not_found", "event not found"}
	ErrBookingNotFound = &Error{KindNotFound, "booking_not_found", "booking not found"}

	ErrLockTimeout = &Error{KindTimeout, "lock_timeout", "event is busy, please retry"}

	ErrInternal = &Error{KindInternal, "internal_error", "internal server error"}
)

// ErrStaleInventory is returned by guarded inventory writes when the row
// changed after it was read. It never leaves the storage layer on its own:
// the transaction runner either retries or converts it.
var ErrStaleInventory = errors.New("inventory row changed since it was read")

// CapacityError reports how many seats were left when a reservation failed.
type CapacityError struct {
	Remaining int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("Not enough available seats. Only %d seats remaining.", e.Remaining)
}

func (e *CapacityError) Unwrap() error {
	return ErrInsufficientCapacity
}

// KindOf returns the kind of err, KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound checks for any not_found error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict checks for any conflict error.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// IsBusinessError reports whether err is a recoverable business failure
// rather than a storage or transport problem.
func IsBusinessError(err error) bool {
	switch KindOf(err) {
	case KindInternal, KindTimeout:
		return false
	}
	return true
}
