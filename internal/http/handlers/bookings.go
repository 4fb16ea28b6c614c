package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/pharma-scheduling/internal/booking"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

type bookingService interface {
	CreateBooking(ctx context.Context, req booking.Request) *booking.Response
	ModifyBooking(ctx context.Context, mod booking.Modification) *booking.Response
	CancelBooking(ctx context.Context, c booking.Cancellation) *booking.Response
}

// BookingHandler exposes the booking orchestrator.
type BookingHandler struct {
	bookings bookingService
	logger   *logging.Logger
}

func NewBookingHandler(bookings bookingService, logger *logging.Logger) *BookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{bookings: bookings, logger: logger}
}

// Create books a new visit.
// POST /api/v1/bookings
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req booking.Request
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := h.bookings.CreateBooking(r.Context(), req)
	writeJSON(w, bookingStatus(resp, http.StatusCreated), resp)
}

// Modify changes an existing visit.
// PATCH /api/v1/bookings/{appointmentID}
func (h *BookingHandler) Modify(w http.ResponseWriter, r *http.Request) {
	var mod booking.Modification
	if err := decodeJSON(w, r, &mod); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	mod.AppointmentID = chi.URLParam(r, "appointmentID")
	resp := h.bookings.ModifyBooking(r.Context(), mod)
	writeJSON(w, bookingStatus(resp, http.StatusOK), resp)
}

// Cancel cancels a visit. An empty body cancels with defaults.
// POST /api/v1/bookings/{appointmentID}/cancel
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var c booking.Cancellation
	if err := decodeOptionalJSON(w, r, &c); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.AppointmentID = chi.URLParam(r, "appointmentID")
	resp := h.bookings.CancelBooking(r.Context(), c)
	writeJSON(w, bookingStatus(resp, http.StatusOK), resp)
}

// bookingStatus maps an orchestrator response onto an HTTP status. The body always carries the
// full response so clients can read errors, alternatives and next steps.
func bookingStatus(resp *booking.Response, success int) int {
	switch {
	case resp == nil:
		return http.StatusInternalServerError
	case resp.Success:
		return success
	case len(resp.Conflicts) > 0:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
