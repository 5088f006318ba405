package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, capacity int) *model.Event {
	t.Helper()
	ev, err := s.Create(context.Background(), model.CreateEventRequest{
		Title:     "Concert",
		Venue:     "Main Hall",
		Capacity:  capacity,
		EventTime: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return ev
}

func booking(userID, eventID string, tickets int) *model.Booking {
	return &model.Booking{
		ID:              uuid.NewString(),
		UserID:          userID,
		EventID:         eventID,
		NumberOfTickets: tickets,
		Status:          model.BookingConfirmed,
		CreatedAt:       time.Now(),
	}
}

func TestRollbackUndoesEverything(t *testing.T) {
	s := New(time.Second)
	ev := seed(t, s, 5)
	boom := errors.New("boom")

	err := s.WithExclusiveEventLock(context.Background(), ev.ID, func(ctx context.Context, locked *model.Event) error {
		require.NoError(t, s.DecrementSeats(ctx, locked, 3))
		require.NoError(t, s.CreateBooking(ctx, booking("u1", ev.ID, 3)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetEvent(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.AvailableSeats)
	assert.Equal(t, int64(0), got.Version)

	n, _ := s.CountByUser(context.Background(), "u1")
	assert.Zero(t, n)
}

func TestPanicRollsBackAndReleases(t *testing.T) {
	s := New(50 * time.Millisecond)
	ev := seed(t, s, 5)

	assert.Panics(t, func() {
		_ = s.WithExclusiveEventLock(context.Background(), ev.ID, func(ctx context.Context, locked *model.Event) error {
			_ = s.DecrementSeats(ctx, locked, 1)
			panic("coordinator crashed")
		})
	})

	err := s.WithExclusiveEventLock(context.Background(), ev.ID, func(ctx context.Context, locked *model.Event) error {
		assert.Equal(t, 5, locked.AvailableSeats)
		return nil
	})
	assert.NoError(t, err)
}

func TestCancelledContextRollsBack(t *testing.T) {
	s := New(time.Second)
	ev := seed(t, s, 5)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithExclusiveEventLock(ctx, ev.ID, func(ctx context.Context, locked *model.Event) error {
		require.NoError(t, s.DecrementSeats(ctx, locked, 2))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	got, _ := s.GetEvent(context.Background(), ev.ID)
	assert.Equal(t, 5, got.AvailableSeats)
}

func TestLockTimeoutAndIsolation(t *testing.T) {
	s := New(30 * time.Millisecond)
	a := seed(t, s, 5)
	b := seed(t, s, 5)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- s.WithExclusiveEventLock(context.Background(), a.ID, func(ctx context.Context, _ *model.Event) error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := s.WithExclusiveEventLock(context.Background(), a.ID, func(context.Context, *model.Event) error { return nil })
	assert.ErrorIs(t, err, model.ErrLockTimeout)

	err = s.WithExclusiveEventLock(context.Background(), b.ID, func(context.Context, *model.Event) error { return nil })
	assert.NoError(t, err)

	close(release)
	assert.NoError(t, <-done)

	err = s.WithExclusiveEventLock(context.Background(), "missing", func(context.Context, *model.Event) error { return nil })
	assert.ErrorIs(t, err, model.ErrEventNotFound)
}

func TestNestedTxReentersLock(t *testing.T) {
	s := New(30 * time.Millisecond)
	ev := seed(t, s, 5)

	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		return s.WithExclusiveEventLock(ctx, ev.ID, func(ctx context.Context, _ *model.Event) error {
			return s.WithTx(ctx, func(ctx context.Context) error {
				return s.WithExclusiveEventLock(ctx, ev.ID, func(context.Context, *model.Event) error { return nil })
			})
		})
	})
	assert.NoError(t, err)
}

func TestGuardedWrites(t *testing.T) {
	s := New(time.Second)
	ev := seed(t, s, 2)
	ctx := context.Background()

	stale := *ev
	require.NoError(t, s.DecrementSeats(ctx, ev, 1))
	assert.ErrorIs(t, s.DecrementSeats(ctx, &stale, 1), model.ErrStaleInventory)
	assert.ErrorIs(t, s.DecrementSeats(ctx, ev, 2), model.ErrStaleInventory)
	assert.ErrorIs(t, s.IncrementSeats(ctx, ev, 2), model.ErrStaleInventory)
	assert.NoError(t, s.IncrementSeats(ctx, ev, 1))
}

func TestLedger(t *testing.T) {
	s := New(time.Second)
	ev := seed(t, s, 10)
	ctx := context.Background()

	first := booking("u1", ev.ID, 1)
	require.NoError(t, s.CreateBooking(ctx, first))
	assert.ErrorIs(t, s.CreateBooking(ctx, booking("u1", ev.ID, 1)), model.ErrDuplicateBooking)

	found, err := s.FindConfirmed(ctx, "u1", ev.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	require.NoError(t, s.MarkCancelled(ctx, first.ID, time.Now()))
	assert.ErrorIs(t, s.MarkCancelled(ctx, first.ID, time.Now()), model.ErrConcurrentModification)
	found, err = s.FindConfirmed(ctx, "u1", ev.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	require.NoError(t, s.CreateBooking(ctx, booking("u1", ev.ID, 2)))
	require.NoError(t, s.CreateBooking(ctx, booking("u2", ev.ID, 3)))

	views, err := s.ListByUser(ctx, "u1", 1, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "Concert", views[0].EventTitle)

	all, total, err := s.ListBookings(ctx, model.BookingFilter{Status: model.BookingConfirmed, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	_, err = s.GetBooking(ctx, uuid.NewString())
	assert.ErrorIs(t, err, model.ErrBookingNotFound)
}
