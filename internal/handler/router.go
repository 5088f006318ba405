package handler

import (
	"context"
	"net/http"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RouterConfig carries everything NewRouter wires into the routes.
type RouterConfig struct {
	Service        *service.BookingService
	Logger         *zap.Logger
	JWTSecret      string
	JWTIssuer      string
	AllowedOrigins []string
	// Idempotency is optional; reservations are not deduplicated without it.
	Idempotency *IdempotencyConfig
	// Probes are run by /ready.
	Probes map[string]func(context.Context) error
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	bookings := NewBookingHandler(cfg.Service)

	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(log))
	r.Use(CORS(cfg.AllowedOrigins))

	r.Get("/health", HealthCheck)
	r.Get("/ready", ReadinessCheck(log, cfg.Probes))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events/{id}/availability", bookings.Availability)

		r.Group(func(r chi.Router) {
			r.Use(Authenticator(cfg.JWTSecret, cfg.JWTIssuer, log))

			r.Route("/bookings", func(r chi.Router) {
				r.With(idempotent(cfg.Idempotency)...).Post("/", bookings.Reserve)
				r.Get("/my", bookings.ListMine)
				r.Get("/{id}", bookings.Get)
				r.Delete("/{id}", bookings.Cancel)
			})

			r.Route("/admin", func(r chi.Router) {
				r.With(RequireRole(model.RoleAdmin)).Get("/bookings", bookings.ListAll)
				r.With(RequireRole(model.RoleOrganizer)).Get("/events/{id}/audit", bookings.Audit)
			})
		})
	})

	return r
}

func idempotent(cfg *IdempotencyConfig) []func(http.Handler) http.Handler {
	if cfg == nil || cfg.Redis == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{Idempotency(*cfg)}
}
