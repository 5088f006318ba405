package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBooking(userID, eventID string, tickets int) *model.Booking {
	now := time.Now().UTC()
	return &model.Booking{
		ID:              uuid.NewString(),
		UserID:          userID,
		EventID:         eventID,
		NumberOfTickets: tickets,
		Status:          model.BookingConfirmed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestParseLockStrategy(t *testing.T) {
	s, err := ParseLockStrategy("optimistic")
	require.NoError(t, err)
	assert.Equal(t, LockOptimistic, s)

	_, err = ParseLockStrategy("mutex")
	assert.Error(t, err)
}

func TestPostgresRepositories(t *testing.T) {
	pool := testutil.NewTestPool(t)
	events := NewEventRepository(pool)
	bookings := NewBookingRepository(pool)
	store := NewStore(pool, StoreConfig{Strategy: LockPessimistic, LockTimeout: 200 * time.Millisecond})
	future := time.Now().Add(24 * time.Hour)

	t.Run("GetEvent and missing ids", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		id := testutil.InsertEvent(t, ctx, pool, "Concert", 10, future)

		ev, err := events.GetEvent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 10, ev.AvailableSeats)
		assert.Equal(t, "Concert", ev.Title)

		_, err = events.GetEvent(ctx, uuid.NewString())
		assert.ErrorIs(t, err, model.ErrEventNotFound)
		_, err = bookings.GetBooking(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, model.ErrBookingNotFound)
	})

	t.Run("rollback discards decrement and insert", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		id := testutil.InsertEvent(t, ctx, pool, "Concert", 5, future)
		boom := errors.New("boom")

		err := store.WithTx(ctx, func(ctx context.Context) error {
			return store.WithExclusiveEventLock(ctx, id, func(ctx context.Context, ev *model.Event) error {
				require.NoError(t, events.DecrementSeats(ctx, ev, 2))
				require.NoError(t, bookings.CreateBooking(ctx, newBooking("u1", id, 2)))
				return boom
			})
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 5, testutil.AvailableSeats(t, ctx, pool, id))

		b, err := bookings.FindConfirmed(ctx, "u1", id)
		require.NoError(t, err)
		assert.Nil(t, b)
	})

	t.Run("guarded decrement refuses to oversell", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		id := testutil.InsertEvent(t, ctx, pool, "Concert", 2, future)

		err := store.WithExclusiveEventLock(ctx, id, func(ctx context.Context, ev *model.Event) error {
			return events.DecrementSeats(ctx, ev, 3)
		})
		assert.ErrorIs(t, err, model.ErrStaleInventory)
		assert.Equal(t, 2, testutil.AvailableSeats(t, ctx, pool, id))
	})

	t.Run("partial unique index rejects second confirmed booking", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		id := testutil.InsertEvent(t, ctx, pool, "Concert", 5, future)

		first := newBooking("u1", id, 1)
		require.NoError(t, bookings.CreateBooking(ctx, first))
		assert.ErrorIs(t, bookings.CreateBooking(ctx, newBooking("u1", id, 1)), model.ErrDuplicateBooking)

		require.NoError(t, bookings.MarkCancelled(ctx, first.ID, time.Now()))
		assert.ErrorIs(t, bookings.MarkCancelled(ctx, first.ID, time.Now()), model.ErrConcurrentModification)
		assert.NoError(t, bookings.CreateBooking(ctx, newBooking("u1", id, 1)))

		assert.ErrorIs(t, bookings.CreateBooking(ctx, newBooking("u2", uuid.NewString(), 1)), model.ErrEventNotFound)
	})

	t.Run("second locker times out", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		id := testutil.InsertEvent(t, ctx, pool, "Concert", 5, future)

		locked := make(chan struct{})
		release := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.WithExclusiveEventLock(ctx, id, func(ctx context.Context, ev *model.Event) error {
				close(locked)
				<-release
				return nil
			})
		}()

		<-locked
		err := store.WithExclusiveEventLock(ctx, id, func(ctx context.Context, ev *model.Event) error {
			return nil
		})
		close(release)
		wg.Wait()
		assert.ErrorIs(t, err, model.ErrLockTimeout)

		other := testutil.InsertEvent(t, ctx, pool, "Other", 5, future)
		assert.NoError(t, store.WithExclusiveEventLock(ctx, other, func(ctx context.Context, ev *model.Event) error {
			return nil
		}))
	})

	t.Run("optimistic store retries lost races", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		id := testutil.InsertEvent(t, ctx, pool, "Concert", 50, future)
		optimistic := NewStore(pool, StoreConfig{Strategy: LockOptimistic, MaxAttempts: 50, Backoff: time.Millisecond})

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- optimistic.WithExclusiveEventLock(ctx, id, func(ctx context.Context, ev *model.Event) error {
					return events.DecrementSeats(ctx, ev, 1)
				})
			}()
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, model.ErrConcurrentModification)
			}
		}
		assert.Equal(t, 50-succeeded, testutil.AvailableSeats(t, ctx, pool, id))
	})

	t.Run("list and audit", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		id := testutil.InsertEvent(t, ctx, pool, "Concert", 10, future)

		for _, user := range []string{"u1", "u2", "u3"} {
			require.NoError(t, store.WithExclusiveEventLock(ctx, id, func(ctx context.Context, ev *model.Event) error {
				if err := events.DecrementSeats(ctx, ev, 2); err != nil {
					return err
				}
				return bookings.CreateBooking(ctx, newBooking(user, id, 2))
			}))
		}

		views, err := bookings.ListByUser(ctx, "u2", 10, 0)
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, "Concert", views[0].EventTitle)
		assert.Equal(t, "Main Hall", views[0].Venue)

		n, err := bookings.CountByUser(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		all, total, err := bookings.ListBookings(ctx, model.BookingFilter{EventID: id, Status: model.BookingConfirmed, Page: 1, PageSize: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, all, 2)

		audit, err := events.AuditEvent(ctx, id)
		require.NoError(t, err)
		assert.True(t, audit.Consistent)
		assert.Equal(t, 6, audit.ConfirmedTickets)
		assert.Equal(t, 4, audit.AvailableSeats)
	})
}
