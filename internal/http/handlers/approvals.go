package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/pharma-scheduling/internal/approval"
	httpmiddleware "github.com/wolfman30/pharma-scheduling/internal/http/middleware"
	"github.com/wolfman30/pharma-scheduling/internal/pharma"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

type approvalEngine interface {
	GetWorkflowStatus(ctx context.Context, appointmentID string) (*approval.WorkflowStatus, error)
	ProcessApprovalDecision(ctx context.Context, d approval.Decision) (*approval.WorkflowStatus, error)
}

// ApprovalHandler serves workflow status and approver decisions.
type ApprovalHandler struct {
	engine approvalEngine
	logger *logging.Logger
}

func NewApprovalHandler(engine approvalEngine, logger *logging.Logger) *ApprovalHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ApprovalHandler{engine: engine, logger: logger}
}

// DecisionRequest is an approver's decision on one stage. The approver is taken from the token.
type DecisionRequest struct {
	StageID          string                `json:"stage_id"`
	Decision         approval.DecisionType `json:"decision"`
	Comments         string                `json:"comments,omitempty"`
	RequestedChanges map[string]string     `json:"requested_changes,omitempty"`
}

// Status returns the derived workflow status.
// GET /api/v1/approvals/{appointmentID}
func (h *ApprovalHandler) Status(w http.ResponseWriter, r *http.Request) {
	appointmentID := chi.URLParam(r, "appointmentID")
	status, err := h.engine.GetWorkflowStatus(r.Context(), appointmentID)
	if err != nil {
		h.writeError(w, appointmentID, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Decide records an approve, deny or request_changes decision.
// POST /api/v1/approvals/{appointmentID}/decisions
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	approver, ok := httpmiddleware.ApproverEmailFromContext(r.Context())
	if !ok {
		jsonError(w, "approver identity required", http.StatusUnauthorized)
		return
	}
	var req DecisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.StageID) == "" {
		jsonError(w, "stage_id is required", http.StatusBadRequest)
		return
	}

	appointmentID := chi.URLParam(r, "appointmentID")
	status, err := h.engine.ProcessApprovalDecision(r.Context(), approval.Decision{
		AppointmentID:    appointmentID,
		StageID:          req.StageID,
		ApproverEmail:    approver,
		Decision:         req.Decision,
		Comments:         req.Comments,
		RequestedChanges: req.RequestedChanges,
	})
	if err != nil {
		h.writeError(w, appointmentID, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *ApprovalHandler) writeError(w http.ResponseWriter, appointmentID string, err error) {
	switch {
	case errors.Is(err, approval.ErrWorkflowNotFound),
		errors.Is(err, pharma.ErrAppointmentNotFound),
		errors.Is(err, pharma.ErrStageNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, approval.ErrInvalidDecision):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, approval.ErrNotStageApprover):
		jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, approval.ErrStageNotPending),
		errors.Is(err, approval.ErrStageNotActive),
		errors.Is(err, approval.ErrStageSuperseded),
		errors.Is(err, approval.ErrAppointmentNotPending),
		errors.Is(err, pharma.ErrStateConflict):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("approval request failed", "appointment_id", appointmentID, "error", err)
		jsonError(w, "failed to process approval request", http.StatusInternalServerError)
	}
}
