package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/pharma-scheduling/internal/worker/sweeper"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

type sweepRunner interface {
	RunOnce(ctx context.Context, kind sweeper.Kind) (*sweeper.Result, error)
}

// SweepHandler lets an external scheduler trigger a sweep over HTTP.
type SweepHandler struct {
	sweeps sweepRunner
	logger *logging.Logger
}

func NewSweepHandler(sweeps sweepRunner, logger *logging.Logger) *SweepHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SweepHandler{sweeps: sweeps, logger: logger}
}

// Run executes one sweep synchronously.
// POST /internal/sweeps/{kind}
func (h *SweepHandler) Run(w http.ResponseWriter, r *http.Request) {
	kind, err := sweeper.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	result, err := h.sweeps.RunOnce(r.Context(), kind)
	switch {
	case errors.Is(err, sweeper.ErrSweepRunning):
		jsonError(w, err.Error(), http.StatusConflict)
	case err != nil:
		h.logger.Error("manual sweep failed", "sweep", string(kind), "error", err)
		jsonError(w, "sweep failed", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}
