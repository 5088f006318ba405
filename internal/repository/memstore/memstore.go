// Package memstore is an in-process implementation of the inventory and
// booking ledger. Each event has a one-slot semaphore standing in for the
// row lock, and every transaction keeps an undo journal so that failed or
// aborted units of work leave no trace. It backs the unit tests and the
// in-memory mode of the load test harness.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/google/uuid"
)

type txKey struct{}

type txState struct {
	undo []func()
	held []string
}

// Store holds events and bookings in memory.
type Store struct {
	mu       sync.Mutex
	events   map[string]*model.Event
	bookings map[string]*model.Booking
	locks    map[string]chan struct{}

	lockTimeout time.Duration
}

// New returns an empty Store. A positive lockTimeout bounds how long
// WithExclusiveEventLock waits for another holder.
func New(lockTimeout time.Duration) *Store {
	return &Store{
		events:      make(map[string]*model.Event),
		bookings:    make(map[string]*model.Booking),
		locks:       make(map[string]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

// Create seeds an event with every seat available.
func (s *Store) Create(_ context.Context, req model.CreateEventRequest) (*model.Event, error) {
	now := time.Now().UTC()
	ev := &model.Event{
		ID:             uuid.NewString(),
		Title:          req.Title,
		Venue:          req.Venue,
		Capacity:       req.Capacity,
		AvailableSeats: req.Capacity,
		EventTime:      req.EventTime,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.mu.Lock()
	s.events[ev.ID] = ev
	s.locks[ev.ID] = make(chan struct{}, 1)
	s.mu.Unlock()

	out := *ev
	return &out, nil
}

// WithTx runs fn as one unit of work. Nested calls join the outer unit.
// Mutations are undone if fn fails, panics, or ctx is done before fn
// returns; event locks are released when the outermost call ends.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	tx := &txState{}
	defer func() {
		if p := recover(); p != nil {
			s.rollback(tx)
			s.release(tx)
			panic(p)
		}
		if err != nil {
			s.rollback(tx)
		}
		s.release(tx)
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Store) rollback(tx *txState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (s *Store) release(tx *txState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range tx.held {
		<-s.locks[id]
	}
	tx.held = nil
}

// record appends an undo step to the unit of work in ctx. Callers hold s.mu.
func record(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(txKey{}).(*txState); ok {
		tx.undo = append(tx.undo, undo)
	}
}

// WithExclusiveEventLock holds the event's semaphore until the enclosing unit
// of work ends and passes fn a copy of the event read under it.
func (s *Store) WithExclusiveEventLock(ctx context.Context, eventID string, fn func(ctx context.Context, ev *model.Event) error) error {
	tx, ok := ctx.Value(txKey{}).(*txState)
	if !ok {
		return s.WithTx(ctx, func(ctx context.Context) error {
			return s.WithExclusiveEventLock(ctx, eventID, fn)
		})
	}

	if err := s.acquire(ctx, tx, eventID); err != nil {
		return err
	}
	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	return fn(ctx, ev)
}

func (s *Store) acquire(ctx context.Context, tx *txState, eventID string) error {
	if slices.Contains(tx.held, eventID) {
		return nil
	}

	s.mu.Lock()
	sem, ok := s.locks[eventID]
	s.mu.Unlock()
	if !ok {
		return model.ErrEventNotFound
	}

	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		t := time.NewTimer(s.lockTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case sem <- struct{}{}:
		tx.held = append(tx.held, eventID)
		return nil
	case <-timeout:
		return model.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetEvent returns a copy of the event.
func (s *Store) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, model.ErrEventNotFound
	}
	out := *ev
	return &out, nil
}

// DecrementSeats subtracts n seats if ev is current and has them.
func (s *Store) DecrementSeats(ctx context.Context, ev *model.Event, n int) error {
	return s.adjustSeats(ctx, ev, -n)
}

// IncrementSeats returns n seats, never beyond capacity.
func (s *Store) IncrementSeats(ctx context.Context, ev *model.Event, n int) error {
	return s.adjustSeats(ctx, ev, n)
}

func (s *Store) adjustSeats(ctx context.Context, ev *model.Event, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.events[ev.ID]
	if !ok {
		return model.ErrEventNotFound
	}
	next := cur.AvailableSeats + delta
	if cur.Version != ev.Version || next < 0 || next > cur.Capacity {
		return model.ErrStaleInventory
	}

	prev := *cur
	cur.AvailableSeats = next
	cur.Version++
	cur.UpdatedAt = time.Now().UTC()
	record(ctx, func() { *cur = prev })

	ev.AvailableSeats = cur.AvailableSeats
	ev.Version = cur.Version
	return nil
}

// AuditEvent compares the seat counter with confirmed tickets.
func (s *Store) AuditEvent(_ context.Context, id string) (*model.InventoryAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, model.ErrEventNotFound
	}
	confirmed := 0
	for _, b := range s.bookings {
		if b.EventID == id && b.Status == model.BookingConfirmed {
			confirmed += b.NumberOfTickets
		}
	}
	return model.NewInventoryAudit(id, ev.Capacity, ev.AvailableSeats, confirmed), nil
}

// FindConfirmed returns the user's confirmed booking for the event, or nil.
func (s *Store) FindConfirmed(_ context.Context, userID, eventID string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.confirmedLocked(userID, eventID); b != nil {
		out := *b
		return &out, nil
	}
	return nil, nil
}

func (s *Store) confirmedLocked(userID, eventID string) *model.Booking {
	for _, b := range s.bookings {
		if b.UserID == userID && b.EventID == eventID && b.Status == model.BookingConfirmed {
			return b
		}
	}
	return nil
}

// CreateBooking inserts b, enforcing one confirmed booking per user and event.
func (s *Store) CreateBooking(ctx context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Status == model.BookingConfirmed && s.confirmedLocked(b.UserID, b.EventID) != nil {
		return model.ErrDuplicateBooking
	}
	stored := *b
	s.bookings[b.ID] = &stored
	record(ctx, func() { delete(s.bookings, b.ID) })
	return nil
}

// GetBooking returns a copy of the booking.
func (s *Store) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, model.ErrBookingNotFound
	}
	out := *b
	return &out, nil
}

// MarkCancelled moves a confirmed booking to cancelled.
func (s *Store) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok || b.Status != model.BookingConfirmed {
		return model.ErrConcurrentModification
	}
	prev := *b
	b.Status = model.BookingCancelled
	b.UpdatedAt = at
	record(ctx, func() { *b = prev })
	return nil
}

// ListByUser returns one page of the user's bookings, newest first.
func (s *Store) ListByUser(_ context.Context, userID string, limit, offset int) ([]model.BookingView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := s.viewsLocked(func(b *model.Booking) bool { return b.UserID == userID })
	return paginate(views, limit, offset), nil
}

// CountByUser counts the user's bookings.
func (s *Store) CountByUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.bookings {
		if b.UserID == userID {
			n++
		}
	}
	return n, nil
}

// ListBookings returns a filtered page of all bookings and the filtered total.
func (s *Store) ListBookings(_ context.Context, f model.BookingFilter) ([]model.BookingView, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := s.viewsLocked(func(b *model.Booking) bool {
		return (f.UserID == "" || b.UserID == f.UserID) &&
			(f.EventID == "" || b.EventID == f.EventID) &&
			(f.Status == "" || b.Status == f.Status)
	})
	return paginate(views, f.PageSize, f.Offset()), len(views), nil
}

func (s *Store) viewsLocked(match func(*model.Booking) bool) []model.BookingView {
	var views []model.BookingView
	for _, b := range s.bookings {
		if !match(b) {
			continue
		}
		ev, ok := s.events[b.EventID]
		if !ok {
			continue
		}
		views = append(views, model.BookingView{
			Booking:    *b,
			EventTitle: ev.Title,
			EventTime:  ev.EventTime,
			Venue:      ev.Venue,
		})
	}
	slices.SortFunc(views, func(a, b model.BookingView) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return views
}

func paginate(views []model.BookingView, limit, offset int) []model.BookingView {
	if offset >= len(views) {
		return nil
	}
	end := len(views)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return views[offset:end]
}
