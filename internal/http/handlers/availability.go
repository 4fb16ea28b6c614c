package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/wolfman30/pharma-scheduling/internal/availability"
	"github.com/wolfman30/pharma-scheduling/internal/pharma"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

type availabilityEngine interface {
	CalculateAvailability(ctx context.Context, req availability.Request) (*availability.Report, error)
	FindOptimalSlots(ctx context.Context, req availability.Request, maxSlots int) ([]availability.OptimizedSlot, error)
	Location() *time.Location
}

// AvailabilityHandler serves slot searches.
type AvailabilityHandler struct {
	engine availabilityEngine
	logger *logging.Logger
}

func NewAvailabilityHandler(engine availabilityEngine, logger *logging.Logger) *AvailabilityHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AvailabilityHandler{engine: engine, logger: logger}
}

// AvailabilityQuery is the wire form of an availability search. Dates are practice-local
// "YYYY-MM-DD".
type AvailabilityQuery struct {
	ActivityID       string   `json:"activity_id"`
	StartDate        string   `json:"start_date"`
	EndDate          string   `json:"end_date"`
	PreferredTimes   []string `json:"preferred_times,omitempty"`
	ExcludeWeekends  bool     `json:"exclude_weekends"`
	MinLeadTimeHours int      `json:"min_lead_time_hours"`
	RepID            string   `json:"rep_id,omitempty"`
	MaxResults       int      `json:"max_results,omitempty"`
}

// OptimalSlotsResponse wraps FindOptimalSlots results.
type OptimalSlotsResponse struct {
	ActivityID string                       `json:"activity_id"`
	Slots      []availability.OptimizedSlot `json:"slots"`
}

func (h *AvailabilityHandler) parse(w http.ResponseWriter, r *http.Request) (availability.Request, bool) {
	var q AvailabilityQuery
	if err := decodeJSON(w, r, &q); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return availability.Request{}, false
	}
	if q.ActivityID == "" {
		jsonError(w, "activity_id is required", http.StatusBadRequest)
		return availability.Request{}, false
	}
	loc := h.engine.Location()
	start, err := pharma.ParseDate(q.StartDate, loc)
	if err != nil {
		jsonError(w, "start_date must be formatted YYYY-MM-DD", http.StatusBadRequest)
		return availability.Request{}, false
	}
	end, err := pharma.ParseDate(q.EndDate, loc)
	if err != nil {
		jsonError(w, "end_date must be formatted YYYY-MM-DD", http.StatusBadRequest)
		return availability.Request{}, false
	}
	return availability.Request{
		ActivityID:       q.ActivityID,
		StartDate:        start,
		EndDate:          end,
		PreferredTimes:   q.PreferredTimes,
		ExcludeWeekends:  q.ExcludeWeekends,
		MinLeadTimeHours: q.MinLeadTimeHours,
		RepID:            q.RepID,
		MaxResults:       q.MaxResults,
	}, true
}

// Calculate returns the full availability report.
// POST /api/v1/availability
func (h *AvailabilityHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	report, err := h.engine.CalculateAvailability(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Optimal returns the best slots only.
// POST /api/v1/availability/optimal
func (h *AvailabilityHandler) Optimal(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	slots, err := h.engine.FindOptimalSlots(r.Context(), req, req.MaxResults)
	if err != nil {
		h.writeEngineError(w, req, err)
		return
	}
	if slots == nil {
		slots = []availability.OptimizedSlot{}
	}
	writeJSON(w, http.StatusOK, OptimalSlotsResponse{ActivityID: req.ActivityID, Slots: slots})
}

func (h *AvailabilityHandler) writeEngineError(w http.ResponseWriter, req availability.Request, err error) {
	switch {
	case errors.Is(err, pharma.ErrActivityNotFound):
		jsonError(w, "activity not found", http.StatusNotFound)
	case errors.Is(err, availability.ErrInvalidWindow):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("availability calculation failed", "activity_id", req.ActivityID, "error", err)
		jsonError(w, "failed to calculate availability", http.StatusInternalServerError)
	}
}
