// Package repository implements the Postgres inventory and booking ledger.
// It uses pgx directly (no ORM) and carries the active transaction in the
// context so that every repository call inside Store.WithTx joins it.
package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

// LockStrategy selects how WithExclusiveEventLock serializes writers.
type LockStrategy string

const (
	// LockPessimistic takes a row lock with SELECT ... FOR UPDATE.
	LockPessimistic LockStrategy = "pessimistic"
	// LockOptimistic reads the row version and lets guarded writes detect
	// lost races; the whole transaction is then retried.
	LockOptimistic LockStrategy = "optimistic"
)

// ParseLockStrategy accepts "pessimistic" or "optimistic".
func ParseLockStrategy(s string) (LockStrategy, error) {
	switch LockStrategy(s) {
	case LockPessimistic, LockOptimistic:
		return LockStrategy(s), nil
	}
	return "", fmt.Errorf("unknown lock strategy %q", s)
}

// StoreConfig tunes the transaction runner.
type StoreConfig struct {
	Strategy    LockStrategy
	LockTimeout time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// Store owns transaction scope and the per-event lock primitive.
type Store struct {
	pool   *pgxpool.Pool
	events *EventRepository
	cfg    StoreConfig
}

// NewStore constructs a Store on an injected pool.
func NewStore(pool *pgxpool.Pool, cfg StoreConfig) *Store {
	if cfg.Strategy == "" {
		cfg.Strategy = LockPessimistic
	}
	if cfg.MaxAttempts < 1 || cfg.Strategy == LockPessimistic {
		cfg.MaxAttempts = 1
	}
	return &Store{pool: pool, events: NewEventRepository(pool), cfg: cfg}
}

// Strategy reports the configured lock strategy.
func (s *Store) Strategy() LockStrategy {
	return s.cfg.Strategy
}

// WithTx runs fn in a single transaction. Calls nested inside an active
// transaction join it. The transaction is rolled back when fn returns an
// error, panics, or the caller's context is cancelled before commit.
//
// Under the optimistic strategy a lost race (model.ErrStaleInventory) reruns
// fn in a fresh transaction; after the last attempt it surfaces as
// model.ErrConcurrentModification.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !errors.Is(err, model.ErrStaleInventory) {
			return err
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}
		if werr := s.wait(ctx, attempt); werr != nil {
			return werr
		}
	}
	return fmt.Errorf("%w: inventory changed on each of %d attempts", model.ErrConcurrentModification, s.cfg.MaxAttempts)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	rollbackCtx := context.WithoutCancel(ctx)
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(rollbackCtx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(rollbackCtx)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return mapPgError("commit transaction", err)
	}
	return nil
}

// wait sleeps before the next optimistic attempt with a jittered linear backoff.
func (s *Store) wait(ctx context.Context, attempt int) error {
	if s.cfg.Backoff <= 0 {
		return ctx.Err()
	}
	d := time.Duration(attempt)*s.cfg.Backoff + rand.N(s.cfg.Backoff)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithExclusiveEventLock gives fn exclusive write access to one event's
// inventory row and passes it the row as read under that access. Locks on
// one event never block another. Called outside a transaction it opens one.
//
// Pessimistic: the row lock is held until the transaction ends; waiting
// longer than the lock timeout fails with model.ErrLockTimeout.
// Optimistic: no lock is taken; DecrementSeats and IncrementSeats fail with
// model.ErrStaleInventory if the row moved, and WithTx retries.
func (s *Store) WithExclusiveEventLock(ctx context.Context, eventID string, fn func(ctx context.Context, ev *model.Event) error) error {
	if txFromContext(ctx) == nil {
		return s.WithTx(ctx, func(ctx context.Context) error {
			return s.WithExclusiveEventLock(ctx, eventID, fn)
		})
	}

	ctx, span := telemetry.StartSpan(ctx, "repository.event_lock",
		attribute.String("event.id", eventID),
		attribute.String("lock.strategy", string(s.cfg.Strategy)),
	)
	defer span.End()

	var (
		ev  *model.Event
		err error
	)
	switch s.cfg.Strategy {
	case LockOptimistic:
		ev, err = s.events.GetEvent(ctx, eventID)
	default:
		if err = s.setLockTimeout(ctx); err == nil {
			ev, err = s.events.lockForUpdate(ctx, eventID)
		}
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return fn(ctx, ev)
}

func (s *Store) setLockTimeout(ctx context.Context) error {
	if s.cfg.LockTimeout <= 0 {
		return nil
	}
	ms := fmt.Sprintf("%dms", s.cfg.LockTimeout.Milliseconds())
	if _, err := conn(ctx, s.pool).Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
		return mapPgError("set lock timeout", err)
	}
	return nil
}
