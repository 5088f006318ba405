// Command loadtest hammers a single event with concurrent reservations and
// then audits the inventory. It runs against Postgres (using the same
// configuration as the server) or against the in-memory store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/config"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/database"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/database/migrations"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/logger"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/repository"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/repository/memstore"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type backend struct {
	svc    *service.BookingService
	create func(context.Context, model.CreateEventRequest) (*model.Event, error)
	close  func()
}

func main() {
	driver := flag.String("driver", "memory", "storage driver: memory or postgres")
	strategy := flag.String("strategy", "", "lock strategy for postgres (defaults to BOOKING_LOCK_STRATEGY)")
	capacity := flag.Int("capacity", 100, "seats in the test event")
	requests := flag.Int("requests", 1000, "reservation attempts")
	concurrency := flag.Int("concurrency", 50, "concurrent callers")
	tickets := flag.Int("tickets", 1, "tickets per reservation")
	flag.Parse()

	log, err := logger.New("development", "warn")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	b, err := open(ctx, *driver, *strategy, log)
	if err != nil {
		log.Fatal("open backend", zap.Error(err))
	}
	defer b.close()

	ev, err := b.create(ctx, model.CreateEventRequest{
		Title:     fmt.Sprintf("load test %s", time.Now().Format(time.RFC3339)),
		Venue:     "Load Test Arena",
		Capacity:  *capacity,
		EventTime: time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		log.Fatal("seed event", zap.Error(err))
	}

	var (
		confirmed, rejected, failed atomic.Int64
		mu                          sync.Mutex
		latencies                   = make([]time.Duration, 0, *requests)
		byCode                      = make(map[string]int)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)
	start := time.Now()
	for i := 0; i < *requests; i++ {
		requester := model.Requester{UserID: fmt.Sprintf("load-user-%d", i), Role: model.RoleUser}
		g.Go(func() error {
			t0 := time.Now()
			_, err := b.svc.Reserve(gctx, requester, ev.ID, *tickets)
			elapsed := time.Since(t0)

			code := "ok"
			var typed *model.Error
			switch {
			case err == nil:
				confirmed.Add(1)
			case errors.As(err, &typed) && model.IsBusinessError(err):
				rejected.Add(1)
				code = typed.Code
			default:
				failed.Add(1)
				code = string(model.KindOf(err))
			}

			mu.Lock()
			latencies = append(latencies, elapsed)
			byCode[code]++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	total := time.Since(start)

	audit, err := b.svc.AuditInventory(ctx, model.Requester{UserID: "loadtest", Role: model.RoleAdmin}, ev.ID)
	if err != nil {
		log.Fatal("audit", zap.Error(err))
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("driver=%s requests=%d concurrency=%d tickets=%d capacity=%d\n",
		*driver, *requests, *concurrency, *tickets, *capacity)
	fmt.Printf("elapsed=%s throughput=%.1f req/s\n", total.Round(time.Millisecond), float64(*requests)/total.Seconds())
	fmt.Printf("confirmed=%d rejected=%d failed=%d\n", confirmed.Load(), rejected.Load(), failed.Load())
	for code, n := range byCode {
		fmt.Printf("  %-24s %d\n", code, n)
	}
	fmt.Printf("latency p50=%s p95=%s p99=%s\n",
		percentile(latencies, 0.50), percentile(latencies, 0.95), percentile(latencies, 0.99))
	fmt.Printf("audit capacity=%d available=%d confirmed_tickets=%d consistent=%t\n",
		audit.Capacity, audit.AvailableSeats, audit.ConfirmedTickets, audit.Consistent)

	if !audit.Consistent || int(confirmed.Load())*(*tickets) > *capacity {
		fmt.Println("OVERSOLD")
		os.Exit(2)
	}
}

func open(ctx context.Context, driver, strategy string, log *zap.Logger) (*backend, error) {
	switch driver {
	case "memory":
		store := memstore.New(5 * time.Second)
		return &backend{
			svc:    service.NewBookingService(store, store, store, service.Config{Logger: log}),
			create: store.Create,
			close:  func() {},
		}, nil

	case "postgres":
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if strategy == "" {
			strategy = cfg.Booking.LockStrategy
		}
		lock, err := repository.ParseLockStrategy(strategy)
		if err != nil {
			return nil, err
		}
		pool, err := database.NewPool(ctx, cfg.Database, false, log)
		if err != nil {
			return nil, err
		}
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		events := repository.NewEventRepository(pool)
		store := repository.NewStore(pool, repository.StoreConfig{
			Strategy:    lock,
			LockTimeout: cfg.Booking.LockTimeout,
			MaxAttempts: cfg.Booking.OptimisticMaxAttempts,
			Backoff:     cfg.Booking.OptimisticBackoff,
		})
		return &backend{
			svc:    service.NewBookingService(store, events, repository.NewBookingRepository(pool), service.Config{Logger: log}),
			create: events.Create,
			close:  pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown driver %q", driver)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)-1) * p)
	return sorted[i].Round(time.Microsecond)
}
