// Package service implements the reservation and cancellation coordinators
// and the booking read operations on top of the inventory and ledger stores.
package service

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/clock"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/notify"
	"go.uber.org/zap"
)

// Transactor provides the atomic scope and the per-event lock.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	WithExclusiveEventLock(ctx context.Context, eventID string, fn func(ctx context.Context, ev *model.Event) error) error
}

// InventoryStore reads and adjusts event seat counters.
type InventoryStore interface {
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	DecrementSeats(ctx context.Context, ev *model.Event, n int) error
	IncrementSeats(ctx context.Context, ev *model.Event, n int) error
	AuditEvent(ctx context.Context, id string) (*model.InventoryAudit, error)
}

// LedgerStore reads and writes bookings.
type LedgerStore interface {
	FindConfirmed(ctx context.Context, userID, eventID string) (*model.Booking, error)
	CreateBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	MarkCancelled(ctx context.Context, id string, at time.Time) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.BookingView, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	ListBookings(ctx context.Context, f model.BookingFilter) ([]model.BookingView, int, error)
}

// Submitter accepts notifications for background delivery.
type Submitter interface {
	Submit(msg notify.Message) bool
}

// Config holds the optional collaborators of BookingService.
type Config struct {
	Clock           clock.Clock
	Logger          *zap.Logger
	Notifications   Submitter
	DefaultPageSize int
	MaxPageSize     int
}

// BookingService coordinates reservations and cancellations.
type BookingService struct {
	tx        Transactor
	inventory InventoryStore
	ledger    LedgerStore
	notifier  Submitter
	clock     clock.Clock
	log       *zap.Logger

	defaultPageSize int
	maxPageSize     int
}

// NewBookingService constructs a BookingService with its dependencies.
func NewBookingService(tx Transactor, inventory InventoryStore, ledger LedgerStore, cfg Config) *BookingService {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Notifications == nil {
		cfg.Notifications = discard{}
	}
	if cfg.DefaultPageSize < 1 {
		cfg.DefaultPageSize = 10
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = 100
	}
	return &BookingService{
		tx:              tx,
		inventory:       inventory,
		ledger:          ledger,
		notifier:        cfg.Notifications,
		clock:           cfg.Clock,
		log:             cfg.Logger,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
	}
}

type discard struct{}

func (discard) Submit(notify.Message) bool { return false }
