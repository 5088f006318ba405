// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/config"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/database"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/database/migrations"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/handler"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/logger"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/notify"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/repository"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/service"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/telemetry"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.App.Environment, cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting service",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("lock_strategy", cfg.Booking.LockStrategy),
	)

	// ── 1. Tracing ────────────────────────────────────────────────────────
	if err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}

	// ── 2. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.Database, cfg.OTel.Enabled, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := migrations.Apply(ctx, pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		log.Info("database schema up to date")
	}

	// ── 3. Optional Redis for idempotency keys ────────────────────────────
	probes := map[string]func(context.Context) error{
		"database": func(ctx context.Context) error { return database.HealthCheck(ctx, pool) },
	}
	var idem *handler.IdempotencyConfig
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		defer func() { _ = rdb.Close() }()
		if cfg.OTel.Enabled {
			if err := redisotel.InstrumentTracing(rdb); err != nil {
				log.Warn("redis tracing disabled", zap.Error(err))
			}
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Idempotency fails open, so an unreachable Redis is not fatal.
			log.Warn("redis unreachable at startup", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		}
		idem = &handler.IdempotencyConfig{Redis: rdb, TTL: cfg.Redis.IdempotencyTTL, Logger: log}
		probes["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// ── 4. Notifications ──────────────────────────────────────────────────
	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.Kafka.Enabled {
		kn, err := notify.NewKafkaNotifier(ctx, notify.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			log.Warn("kafka unavailable, logging notifications instead", zap.Error(err))
		} else {
			defer kn.Close()
			notifier = kn
		}
	}
	dispatcher := notify.NewDispatcher(notifier, log, notify.DispatcherConfig{
		Workers:     cfg.Booking.NotifyWorkers,
		QueueSize:   cfg.Booking.NotifyQueueSize,
		SendTimeout: cfg.Booking.NotifySendTimeout,
	})
	dispatcher.Start()

	// ── 5. Wire up layers ────────────────────────────────────────────────
	strategy, err := repository.ParseLockStrategy(cfg.Booking.LockStrategy)
	if err != nil {
		return err
	}
	store := repository.NewStore(pool, repository.StoreConfig{
		Strategy:    strategy,
		LockTimeout: cfg.Booking.LockTimeout,
		MaxAttempts: cfg.Booking.OptimisticMaxAttempts,
		Backoff:     cfg.Booking.OptimisticBackoff,
	})
	svc := service.NewBookingService(
		store,
		repository.NewEventRepository(pool),
		repository.NewBookingRepository(pool),
		service.Config{
			Logger:          log,
			Notifications:   dispatcher,
			DefaultPageSize: cfg.Booking.DefaultPageSize,
			MaxPageSize:     cfg.Booking.MaxPageSize,
		},
	)

	router := handler.NewRouter(handler.RouterConfig{
		Service:        svc,
		Logger:         log,
		JWTSecret:      cfg.JWT.Secret,
		JWTIssuer:      cfg.JWT.Issuer,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Idempotency:    idem,
		Probes:         probes,
	})

	// ── 6. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(router, "http.server"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("graceful shutdown: %w", err))
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("notification drain: %w", err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}
	log.Info("server stopped")
	return errors.Join(errs...)
}
