// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"go.uber.org/zap"
)

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindAuthorization:
		return http.StatusForbidden
	case model.KindConflict, model.KindCapacityExceeded:
		return http.StatusConflict
	case model.KindTemporalConstraint:
		return http.StatusUnprocessableEntity
	case model.KindTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders a service error. Internal errors are replaced by
// a generic body; their detail has already been logged by the service.
func writeServiceError(w http.ResponseWriter, err error) {
	var typed *model.Error
	if !errors.As(err, &typed) {
		typed = model.ErrInternal
	}

	resp := model.ErrorResponse{Error: typed.Message, Code: typed.Code, Kind: typed.Kind}
	status := statusFor(typed.Kind)

	if errors.Is(err, model.ErrUnauthorized) {
		status = http.StatusUnauthorized
	}
	var capErr *model.CapacityError
	if errors.As(err, &capErr) {
		remaining := capErr.Remaining
		resp.Error = capErr.Error()
		resp.Remaining = &remaining
	}
	if typed.Kind == model.KindTimeout {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadinessCheck handles GET /ready by running every probe with a short
// deadline.
func ReadinessCheck(log *zap.Logger, probes map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]string, len(probes))
		ready := true
		for name, probe := range probes {
			if err := probe(ctx); err != nil {
				log.Warn("readiness probe failed", zap.String("probe", name), zap.Error(err))
				checks[name] = "unavailable"
				ready = false
				continue
			}
			checks[name] = "ok"
		}

		status := http.StatusOK
		body := map[string]any{"status": "ready", "checks": checks}
		if !ready {
			status = http.StatusServiceUnavailable
			body["status"] = "not ready"
		}
		writeJSON(w, status, body)
	}
}
