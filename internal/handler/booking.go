package handler

import (
	"net/http"
	"strconv"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/Shivanand-hulikatti/event-booking-engine/internal/service"
	"github.com/go-chi/chi/v5"
)

// BookingHandler holds the HTTP handlers for reservations and bookings.
type BookingHandler struct {
	svc *service.BookingService
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(svc *service.BookingService) *BookingHandler {
	return &BookingHandler{svc: svc}
}

// Reserve handles POST /api/v1/bookings
// Reserves number_of_tickets seats of event_id for the caller.
func (h *BookingHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req model.ReserveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrInvalidRequest.Code, "invalid request body: "+err.Error())
		return
	}

	booking, err := h.svc.Reserve(r.Context(), RequesterFrom(r.Context()), req.EventID, req.NumberOfTickets)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, booking)
}

// Cancel handles DELETE /api/v1/bookings/{id}
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	booking, err := h.svc.Cancel(r.Context(), RequesterFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

// Get handles GET /api/v1/bookings/{id}
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	booking, err := h.svc.GetBooking(r.Context(), RequesterFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

// ListMine handles GET /api/v1/bookings/my?page=&limit=
func (h *BookingHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	page, limit, ok := pagination(w, r)
	if !ok {
		return
	}

	result, err := h.svc.ListBookingsForUser(r.Context(), RequesterFrom(r.Context()), page, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListAll handles GET /api/v1/admin/bookings?user_id=&event_id=&status=&page=&limit=
func (h *BookingHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	page, limit, ok := pagination(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	result, err := h.svc.ListBookings(r.Context(), RequesterFrom(r.Context()), model.BookingFilter{
		UserID:   q.Get("user_id"),
		EventID:  q.Get("event_id"),
		Status:   model.BookingStatus(q.Get("status")),
		Page:     page,
		PageSize: limit,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Availability handles GET /api/v1/events/{id}/availability
func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Availability(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// Audit handles GET /api/v1/admin/events/{id}/audit
func (h *BookingHandler) Audit(w http.ResponseWriter, r *http.Request) {
	audit, err := h.svc.AuditInventory(r.Context(), RequesterFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, audit)
}

// pagination reads page and limit. Missing values are left at zero for the
// service to default; malformed values are rejected.
func pagination(w http.ResponseWriter, r *http.Request) (page, limit int, ok bool) {
	q := r.URL.Query()
	for name, dst := range map[string]*int{"page": &page, "limit": &limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, model.ErrInvalidRequest.Code, name+" must be a positive integer")
			return 0, 0, false
		}
		*dst = n
	}
	return page, limit, true
}
