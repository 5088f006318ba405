package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/notify"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/policy"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Reserve converts available seats of an event into a confirmed booking for
// the requester.
//
// The duplicate check, the locked re-read of the inventory, the guarded
// decrement and the insert all run in one transaction; any failure rolls all
// of them back. A confirmation is queued for delivery after commit and its
// outcome never affects the result.
func (s *BookingService) Reserve(ctx context.Context, requester model.Requester, eventID string, tickets int) (*model.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "booking.reserve",
		attribute.String("event.id", eventID),
		attribute.Int("booking.tickets", tickets),
	)
	defer span.End()

	if err := policy.Check(policy.ActionReserve, requester, requester.UserID); err != nil {
		return nil, err
	}
	if tickets <= 0 {
		return nil, model.ErrInvalidTicketCount
	}
	eventID = strings.TrimSpace(eventID)
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, model.ErrInvalidEventID
	}

	var (
		booking *model.Booking
		event   model.Event
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.ledger.FindConfirmed(ctx, requester.UserID, eventID)
		if err != nil {
			return err
		}
		if existing != nil {
			return model.ErrDuplicateBooking
		}

		return s.tx.WithExclusiveEventLock(ctx, eventID, func(ctx context.Context, ev *model.Event) error {
			now := s.clock.Now()
			if ev.HasStarted(now) {
				return model.ErrEventClosed
			}
			if ev.AvailableSeats < tickets {
				return &model.CapacityError{Remaining: ev.AvailableSeats}
			}
			if err := s.inventory.DecrementSeats(ctx, ev, tickets); err != nil {
				return err
			}

			b := &model.Booking{
				ID:              uuid.NewString(),
				UserID:          requester.UserID,
				EventID:         eventID,
				NumberOfTickets: tickets,
				Status:          model.BookingConfirmed,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.ledger.CreateBooking(ctx, b); err != nil {
				return err
			}
			booking, event = b, *ev
			return nil
		})
	})
	if err != nil {
		return nil, s.fail(span, "reserve", err,
			zap.String("user_id", requester.UserID),
			zap.String("event_id", eventID),
			zap.Int("tickets", tickets),
		)
	}

	span.SetAttributes(attribute.String("booking.id", booking.ID))
	s.log.Info("booking confirmed",
		zap.String("booking_id", booking.ID),
		zap.String("user_id", booking.UserID),
		zap.String("event_id", booking.EventID),
		zap.Int("tickets", tickets),
		zap.Int("seats_left", event.AvailableSeats),
	)
	s.notifier.Submit(confirmationMessage(requester, booking, &event))
	return booking, nil
}

// Cancel cancels a confirmed booking and returns its seats to the event.
// Only the owner or an administrator may cancel, and only before the event
// starts. The event lock is taken before the booking row is updated so that
// cancellation and reservation acquire rows in the same order.
func (s *BookingService) Cancel(ctx context.Context, requester model.Requester, bookingID string) (*model.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "booking.cancel", attribute.String("booking.id", bookingID))
	defer span.End()

	bookingID = strings.TrimSpace(bookingID)
	if _, err := uuid.Parse(bookingID); err != nil {
		return nil, model.ErrBookingNotFound
	}

	var (
		cancelled *model.Booking
		event     model.Event
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.ledger.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := policy.Check(policy.ActionCancelBooking, requester, b.UserID); err != nil {
			return err
		}
		if b.IsCancelled() {
			return model.ErrAlreadyCancelled
		}

		return s.tx.WithExclusiveEventLock(ctx, b.EventID, func(ctx context.Context, ev *model.Event) error {
			now := s.clock.Now()
			if ev.HasStarted(now) {
				return model.ErrEventClosed
			}
			if err := s.ledger.MarkCancelled(ctx, b.ID, now); err != nil {
				return err
			}
			if err := s.inventory.IncrementSeats(ctx, ev, b.NumberOfTickets); err != nil {
				return err
			}

			b.Status = model.BookingCancelled
			b.UpdatedAt = now
			cancelled, event = b, *ev
			return nil
		})
	})
	if err != nil {
		return nil, s.fail(span, "cancel", err,
			zap.String("user_id", requester.UserID),
			zap.String("booking_id", bookingID),
		)
	}

	s.log.Info("booking cancelled",
		zap.String("booking_id", cancelled.ID),
		zap.String("cancelled_by", requester.UserID),
		zap.String("event_id", cancelled.EventID),
		zap.Int("seats_returned", cancelled.NumberOfTickets),
	)
	s.notifier.Submit(cancellationMessage(requester, cancelled, &event))
	return cancelled, nil
}

// fail records err on the span and logs it. Business failures are expected
// and logged at debug; storage failures and timeouts are logged with full
// context and wrapped with op.
func (s *BookingService) fail(span trace.Span, op string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.Error(err))
	switch model.KindOf(err) {
	case model.KindInternal:
		telemetry.RecordError(span, err)
		s.log.Error(op+" failed", fields...)
		return fmt.Errorf("%s: %w", op, err)
	case model.KindTimeout:
		telemetry.RecordError(span, err)
		s.log.Warn(op+" timed out waiting for event lock", fields...)
		return err
	default:
		span.SetAttributes(attribute.String("booking.outcome", string(model.KindOf(err))))
		s.log.Debug(op+" rejected", fields...)
		return err
	}
}

func recipient(r model.Requester) string {
	if r.Email != "" {
		return r.Email
	}
	return r.UserID
}

func confirmationMessage(r model.Requester, b *model.Booking, ev *model.Event) notify.Message {
	return notify.Message{
		Kind:      notify.KindBookingConfirmed,
		Recipient: recipient(r),
		Subject:   fmt.Sprintf("Booking confirmed: %s", ev.Title),
		Body: fmt.Sprintf("Your booking %s for %d ticket(s) to %s at %s on %s is confirmed.",
			b.ID, b.NumberOfTickets, ev.Title, ev.Venue, ev.EventTime.Format("Mon, 02 Jan 2006 15:04 MST")),
		UserID:    b.UserID,
		BookingID: b.ID,
		EventID:   b.EventID,
		Tickets:   b.NumberOfTickets,
		CreatedAt: b.UpdatedAt,
	}
}

func cancellationMessage(r model.Requester, b *model.Booking, ev *model.Event) notify.Message {
	to := r.Email
	if r.UserID != b.UserID || to == "" {
		// Cancelled by an administrator: address the owner by id.
		to = b.UserID
	}
	return notify.Message{
		Kind:      notify.KindBookingCancelled,
		Recipient: to,
		Subject:   fmt.Sprintf("Booking cancelled: %s", ev.Title),
		Body: fmt.Sprintf("Your booking %s for %d ticket(s) to %s has been cancelled.",
			b.ID, b.NumberOfTickets, ev.Title),
		UserID:    b.UserID,
		BookingID: b.ID,
		EventID:   b.EventID,
		Tickets:   b.NumberOfTickets,
		CreatedAt: b.UpdatedAt,
	}
}
