package approval

import (
	"fmt"
	"sort"

	"github.com/wolfman30/pharma-scheduling/internal/pharma"
)

// OverallStatus is the derived state of a workflow.
type OverallStatus string

const (
	StatusPending   OverallStatus = "pending"
	StatusApproved  OverallStatus = "approved"
	StatusDenied    OverallStatus = "denied"
	StatusEscalated OverallStatus = "escalated"
)

// WorkflowStatus summarizes an appointment's approval workflow.
type WorkflowStatus struct {
	AppointmentID    string                 `json:"appointment_id"`
	OverallStatus    OverallStatus          `json:"overall_status"`
	CurrentStage     int                    `json:"current_stage,omitempty"`
	PendingApprovers []string               `json:"pending_approvers"`
	CompletedStages  []int                  `json:"completed_stages"`
	BlockingReasons  []string               `json:"blocking_reasons,omitempty"`
	AutoApproved     bool                   `json:"auto_approved,omitempty"`
	Stages           []pharma.ApprovalStage `json:"stages"`
}

// Terminal reports whether the workflow has reached a final outcome.
func (w *WorkflowStatus) Terminal() bool {
	return w.OverallStatus == StatusApproved || w.OverallStatus == StatusDenied
}

// DeriveStatus computes the overall workflow status from its stages. Stages that were escalated are
// replaced by the stages created for them and do not count on their own. Skipped stages were closed
// without a decision and never count toward the required total.
//
//   - denied when any required stage is denied
//   - approved when every required stage is approved (or, without required stages, when nothing is pending)
//   - escalated when any stage has been escalated
//   - pending otherwise
func DeriveStatus(stages []pharma.ApprovalStage) WorkflowStatus {
	sorted := append([]pharma.ApprovalStage(nil), stages...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].WorkflowStage < sorted[j].WorkflowStage })

	status := WorkflowStatus{
		PendingApprovers: []string{},
		CompletedStages:  []int{},
		Stages:           sorted,
	}
	if len(sorted) > 0 {
		status.AppointmentID = sorted[0].AppointmentID
	}

	var (
		required, requiredApproved int
		anyPending, anyDenied      bool
		anyEscalated               bool
		firstPending, firstActive  int
	)
	for i := range sorted {
		s := &sorted[i]
		if s.Superseded() {
			anyEscalated = true
			continue
		}
		switch s.ApprovalStatus {
		case pharma.ApprovalPending:
			anyPending = true
			if firstPending == 0 {
				firstPending = s.WorkflowStage
			}
			if s.Active() {
				if firstActive == 0 {
					firstActive = s.WorkflowStage
				}
				status.PendingApprovers = append(status.PendingApprovers, s.ApproverEmail)
			}
			if s.RequiredApproval {
				status.BlockingReasons = append(status.BlockingReasons,
					fmt.Sprintf("awaiting approval from %s (stage %d)", s.ApproverEmail, s.WorkflowStage))
			}
		case pharma.ApprovalDenied:
			status.CompletedStages = append(status.CompletedStages, s.WorkflowStage)
			if s.RequiredApproval {
				anyDenied = true
				reason := fmt.Sprintf("stage %d denied by %s", s.WorkflowStage, s.ApproverEmail)
				if s.Comments != "" {
					reason += ": " + s.Comments
				}
				status.BlockingReasons = append(status.BlockingReasons, reason)
			}
		default:
			status.CompletedStages = append(status.CompletedStages, s.WorkflowStage)
		}
		if s.RequiredApproval && s.ApprovalStatus != pharma.ApprovalSkipped {
			required++
			if s.ApprovalStatus == pharma.ApprovalApproved {
				requiredApproved++
			}
		}
	}

	status.CurrentStage = firstActive
	if status.CurrentStage == 0 {
		status.CurrentStage = firstPending
	}

	switch {
	case anyDenied:
		status.OverallStatus = StatusDenied
	case required > 0 && requiredApproved == required:
		status.OverallStatus = StatusApproved
	case required == 0 && len(sorted) > 0 && !anyPending:
		status.OverallStatus = StatusApproved
	case anyEscalated:
		status.OverallStatus = StatusEscalated
	default:
		status.OverallStatus = StatusPending
	}
	if status.Terminal() {
		status.CurrentStage = 0
		status.PendingApprovers = []string{}
		if status.OverallStatus == StatusApproved {
			status.BlockingReasons = nil
		}
	}
	return status
}
