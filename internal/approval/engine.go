// Package approval runs the multi-stage approval workflow for pharma representative visits.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/pharma-scheduling/internal/audit"
	"github.com/wolfman30/pharma-scheduling/internal/notify"
	"github.com/wolfman30/pharma-scheduling/internal/observability/metrics"
	"github.com/wolfman30/pharma-scheduling/internal/pharma"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

var approvalTracer = otel.Tracer("pharma/approval")

var (
	ErrStageNotPending          = errors.New("approval: stage already decided")
	ErrStageNotActive           = errors.New("approval: stage not yet active")
	ErrStageSuperseded          = errors.New("approval: stage was escalated")
	ErrNotStageApprover         = errors.New("approval: not the approver for this stage")
	ErrInvalidDecision          = errors.New("approval: invalid decision")
	ErrEscalationChainExhausted = errors.New("approval: escalation chain exhausted")
	ErrWorkflowNotFound         = errors.New("approval: workflow not found")
	ErrWorkflowExists           = errors.New("approval: workflow already active")
	ErrAppointmentNotPending    = errors.New("approval: appointment is not awaiting approval")
)

// DecisionType is an approver's answer to a stage.
type DecisionType string

const (
	DecisionApprove        DecisionType = "approve"
	DecisionDeny           DecisionType = "deny"
	DecisionRequestChanges DecisionType = "request_changes"
)

// Valid reports whether d is a known decision.
func (d DecisionType) Valid() bool {
	return d == DecisionApprove || d == DecisionDeny || d == DecisionRequestChanges
}

// InitiateRequest starts a workflow for an appointment.
type InitiateRequest struct {
	AppointmentID string          `json:"appointment_id"`
	SubmittedBy   string          `json:"submitted_by"`
	Priority      notify.Priority `json:"priority,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// Decision is an approver's decision on one stage.
type Decision struct {
	AppointmentID    string            `json:"appointment_id"`
	StageID          string            `json:"stage_id"`
	ApproverEmail    string            `json:"approver_email"`
	Decision         DecisionType      `json:"decision"`
	Comments         string            `json:"comments,omitempty"`
	RequestedChanges map[string]string `json:"requested_changes,omitempty"`
}

// SweepResult summarizes one CheckPendingEscalations run.
type SweepResult struct {
	Checked   int `json:"checked"`
	Escalated int `json:"escalated"`
	Reminded  int `json:"reminded"`
	Failed    int `json:"failed"`
}

// ReminderCanceller drops the visit reminders queued for an appointment.
type ReminderCanceller interface {
	CancelForAppointment(ctx context.Context, appointmentID string) (int, error)
}

// Deps are the engine's collaborators. Only Queries is required.
type Deps struct {
	Queries   pharma.Queries
	Configs   ConfigStore
	Notifier  notify.Notifier
	Audit     audit.Recorder
	Reminders ReminderCanceller
	Clock     func() time.Time
	Location  *time.Location
	Metrics   *metrics.SchedulingMetrics
	Logger    *logging.Logger
}

// Engine applies approval state transitions. Every transition goes through a compare-and-set in
// the store so concurrent sweeps and decisions never double-apply.
type Engine struct {
	queries  pharma.Queries
	configs  ConfigStore
	notifier notify.Notifier
	audit    audit.Recorder
	reminder ReminderCanceller
	now      func() time.Time
	loc      *time.Location
	metrics  *metrics.SchedulingMetrics
	logger   *logging.Logger
}

func NewEngine(d Deps) *Engine {
	if d.Queries == nil {
		panic("approval: queries cannot be nil")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Configs == nil {
		d.Configs = NewStaticConfigStore()
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewRecordingNotifier()
	}
	if d.Audit == nil {
		d.Audit = audit.NewMemoryRecorder()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return &Engine{
		queries:  d.Queries,
		configs:  d.Configs,
		notifier: d.Notifier,
		audit:    d.Audit,
		reminder: d.Reminders,
		now:      d.Clock,
		loc:      d.Location,
		metrics:  d.Metrics,
		logger:   d.Logger.Component("approval"),
	}
}

// workflowContext bundles what every transition needs to know about the appointment.
type workflowContext struct {
	appt     *pharma.Appointment
	activity *pharma.Activity
	rep      *pharma.Representative
	cfg      *WorkflowConfig
}

func (e *Engine) loadContext(ctx context.Context, appointmentID string) (*workflowContext, error) {
	appt, err := e.queries.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("approval: load appointment: %w", err)
	}
	activity, err := e.queries.GetActivity(ctx, appt.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("approval: load activity: %w", err)
	}
	wc := &workflowContext{appt: appt, activity: activity}

	if rep, err := e.queries.GetRepresentative(ctx, appt.RepID); err != nil {
		e.logger.Warn("representative lookup failed", "appointment_id", appt.ID, "rep_id", appt.RepID, "error", err)
	} else {
		wc.rep = rep
	}

	cfg, err := e.configs.Resolve(ctx, activity.ID, activity.Location)
	if err != nil || cfg == nil {
		e.logger.Warn("workflow config lookup failed, using default", "activity_id", activity.ID, "error", err)
		def := DefaultWorkflowConfig()
		cfg = &def
	}
	wc.cfg = cfg
	return wc, nil
}

// InitiateApproval creates the approval stages for an appointment, or approves it outright when the
// auto-approval conditions hold.
func (e *Engine) InitiateApproval(ctx context.Context, req InitiateRequest) (*WorkflowStatus, error) {
	ctx, span := approvalTracer.Start(ctx, "approval.initiate")
	defer span.End()
	span.SetAttributes(attribute.String("pharma.appointment_id", req.AppointmentID))

	wc, err := e.loadContext(ctx, req.AppointmentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if wc.appt.Status == pharma.AppointmentCancelled || wc.appt.ApprovalStatus != pharma.ApprovalPending {
		return nil, fmt.Errorf("%w: status %s, approval %s", ErrAppointmentNotPending, wc.appt.Status, wc.appt.ApprovalStatus)
	}

	existing, err := e.queries.ListStages(ctx, req.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("approval: list stages: %w", err)
	}
	offset := 0
	for _, s := range existing {
		if s.ApprovalStatus == pharma.ApprovalPending && !s.Superseded() {
			return nil, ErrWorkflowExists
		}
		if s.WorkflowStage > offset {
			offset = s.WorkflowStage
		}
	}

	now := e.now()
	if ok, reasons := EvaluateAutoApproval(wc.cfg, wc.appt, wc.rep, now, e.loc); ok {
		return e.autoApprove(ctx, wc, reasons)
	}

	var stages []pharma.ApprovalStage
	for _, sc := range wc.cfg.OrderedStages() {
		if sc.AutoSkip.SkipIfRequesterIsApprover && sameEmail(sc.ApproverEmail, req.SubmittedBy) {
			e.logger.Info("approval stage auto-skipped", "appointment_id", req.AppointmentID,
				"stage", sc.Stage, "approver", sc.ApproverEmail)
			continue
		}
		stages = append(stages, pharma.ApprovalStage{
			AppointmentID:    req.AppointmentID,
			WorkflowStage:    offset + len(stages) + 1,
			ApproverEmail:    sc.ApproverEmail,
			RequiredApproval: sc.Required,
			ApprovalStatus:   pharma.ApprovalPending,
			EscalationHours:  sc.EscalationHours,
			CreatedAt:        now,
		})
	}
	if len(stages) == 0 {
		return e.autoApprove(ctx, wc, []string{"every approval stage was skipped"})
	}

	// Sequential workflows open the first stage plus any stages behind optional ones, up to and
	// including the first required stage.
	activated := now
	for i := range stages {
		if wc.cfg.ParallelApproval || i == 0 || (!stages[i-1].RequiredApproval && stages[i-1].Active()) {
			stages[i].ActivatedAt = &activated
		}
	}
	if err := e.queries.CreateStages(ctx, stages); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("approval: create stages: %w", err)
	}
	e.logger.Info("approval workflow initiated", "appointment_id", req.AppointmentID,
		"stages", len(stages), "parallel", wc.cfg.ParallelApproval)

	for i := range stages {
		if stages[i].Active() {
			e.notifyApprover(ctx, wc, &stages[i], notify.TypeApprovalRequested, req.Priority, nil)
		}
	}

	status := DeriveStatus(stages)
	status.AppointmentID = req.AppointmentID
	return &status, nil
}

func (e *Engine) autoApprove(ctx context.Context, wc *workflowContext, reasons []string) (*WorkflowStatus, error) {
	if err := e.queries.ApproveAppointment(ctx, wc.appt.ID); err != nil {
		return nil, fmt.Errorf("approval: auto-approve: %w", err)
	}
	e.logger.Info("appointment auto-approved", "appointment_id", wc.appt.ID, "reasons", reasons)
	e.metrics.ObserveDecision("auto_approved")
	if err := e.audit.LogAutoApproval(ctx, wc.appt.ID, reasons); err != nil {
		e.logger.Error("audit auto-approval failed", "appointment_id", wc.appt.ID, "error", err)
	}
	e.notifyRep(ctx, wc, notify.TypeAppointmentApproved, nil)

	return &WorkflowStatus{
		AppointmentID:    wc.appt.ID,
		OverallStatus:    StatusApproved,
		PendingApprovers: []string{},
		CompletedStages:  []int{},
		AutoApproved:     true,
		Stages:           []pharma.ApprovalStage{},
	}, nil
}

// EvaluateAutoApproval reports whether every configured auto-approval condition holds, with the
// reasons that were satisfied.
func EvaluateAutoApproval(cfg *WorkflowConfig, appt *pharma.Appointment, rep *pharma.Representative, now time.Time, loc *time.Location) (bool, []string) {
	if cfg == nil || !cfg.AutoApproval.Enabled {
		return false, nil
	}
	rules := cfg.AutoApproval
	var reasons []string

	if rules.MinAdvanceNoticeHours > 0 {
		start, _, err := appt.Window(loc)
		if err != nil {
			return false, nil
		}
		notice := start.Sub(now)
		if notice < time.Duration(rules.MinAdvanceNoticeHours)*time.Hour {
			return false, nil
		}
		reasons = append(reasons, fmt.Sprintf("booked %d hours in advance", int(notice.Hours())))
	}
	if rules.MaxParticipants > 0 {
		if appt.ParticipantCount > rules.MaxParticipants {
			return false, nil
		}
		reasons = append(reasons, fmt.Sprintf("%d participants within limit of %d", appt.ParticipantCount, rules.MaxParticipants))
	}
	if len(rules.PreApprovedCompanies) > 0 {
		if rep == nil || !containsFold(rules.PreApprovedCompanies, rep.CompanyName) {
			return false, nil
		}
		reasons = append(reasons, "pre-approved company "+rep.CompanyName)
	}
	if len(reasons) == 0 {
		return false, nil
	}
	return true, reasons
}

// ProcessApprovalDecision applies one approver decision to one stage.
func (e *Engine) ProcessApprovalDecision(ctx context.Context, d Decision) (*WorkflowStatus, error) {
	ctx, span := approvalTracer.Start(ctx, "approval.decide")
	defer span.End()
	span.SetAttributes(
		attribute.String("pharma.appointment_id", d.AppointmentID),
		attribute.String("pharma.stage_id", d.StageID),
		attribute.String("pharma.decision", string(d.Decision)),
	)

	if !d.Decision.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, d.Decision)
	}
	stage, err := e.queries.GetStage(ctx, d.StageID)
	if err != nil {
		return nil, fmt.Errorf("approval: load stage: %w", err)
	}
	if stage.AppointmentID != d.AppointmentID {
		return nil, fmt.Errorf("approval: load stage: %w", pharma.ErrStageNotFound)
	}
	if err := checkDecidable(stage, d.ApproverEmail); err != nil {
		return nil, err
	}

	wc, err := e.loadContext(ctx, d.AppointmentID)
	if err != nil {
		return nil, err
	}

	if d.Decision == DecisionRequestChanges {
		e.recordDecision(ctx, d, nil)
		e.notifyRep(ctx, wc, notify.TypeChangesRequested, map[string]string{
			notify.KeyComments:         d.Comments,
			notify.KeyRequestedChanges: formatChanges(d.RequestedChanges),
		})
		return e.GetWorkflowStatus(ctx, d.AppointmentID)
	}

	target := pharma.ApprovalApproved
	if d.Decision == DecisionDeny {
		target = pharma.ApprovalDenied
	}
	now := e.now()
	if err := e.queries.DecideStage(ctx, stage.ID, target, d.ApproverEmail, d.Comments, now); err != nil {
		if errors.Is(err, pharma.ErrStateConflict) {
			return nil, fmt.Errorf("%w: %v", ErrStageNotPending, err)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("approval: record decision: %w", err)
	}
	e.logger.Info("approval decision recorded", "appointment_id", d.AppointmentID, "stage_id", stage.ID,
		"stage", stage.WorkflowStage, "decision", d.Decision, "approver", d.ApproverEmail)

	stages, err := e.queries.ListStages(ctx, d.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("approval: list stages: %w", err)
	}
	status := DeriveStatus(stages)
	e.recordDecision(ctx, d, status.PendingApprovers)

	switch status.OverallStatus {
	case StatusDenied:
		e.finalizeDenied(ctx, wc, stage.ID, d.Comments, now)
	case StatusApproved:
		e.finalizeApproved(ctx, wc, now)
	default:
		if !wc.cfg.ParallelApproval {
			e.activateNext(ctx, wc, stages, now)
		}
	}
	return e.GetWorkflowStatus(ctx, d.AppointmentID)
}

func checkDecidable(stage *pharma.ApprovalStage, approver string) error {
	switch {
	case stage.ApprovalStatus.Terminal():
		return fmt.Errorf("%w: stage %d is %s", ErrStageNotPending, stage.WorkflowStage, stage.ApprovalStatus)
	case stage.Superseded():
		return ErrStageSuperseded
	case !stage.Active():
		return ErrStageNotActive
	case !sameEmail(stage.ApproverEmail, approver):
		return ErrNotStageApprover
	}
	return nil
}

func (e *Engine) recordDecision(ctx context.Context, d Decision, pending []string) {
	e.metrics.ObserveDecision(string(d.Decision))
	err := e.audit.LogDecision(ctx, audit.DecisionEvent{
		AppointmentID:    d.AppointmentID,
		StageID:          d.StageID,
		ApproverEmail:    d.ApproverEmail,
		Decision:         string(d.Decision),
		Comments:         d.Comments,
		RequestedChanges: d.RequestedChanges,
		PendingApprovers: pending,
	})
	if err != nil {
		e.logger.Error("audit decision failed", "appointment_id", d.AppointmentID, "stage_id", d.StageID, "error", err)
	}
}

func (e *Engine) finalizeDenied(ctx context.Context, wc *workflowContext, stageID, comments string, now time.Time) {
	reason := comments
	if reason == "" {
		reason = "denied by approver"
	}
	if err := e.queries.DenyAppointment(ctx, wc.appt.ID, reason); err != nil {
		if !errors.Is(err, pharma.ErrStateConflict) {
			e.logger.Error("deny appointment failed", "appointment_id", wc.appt.ID, "error", err)
		}
		return
	}
	skipped, err := e.queries.SkipPendingStages(ctx, wc.appt.ID, stageID, now)
	if err != nil {
		e.logger.Error("skip pending stages failed", "appointment_id", wc.appt.ID, "error", err)
	}
	if e.reminder != nil {
		if _, err := e.reminder.CancelForAppointment(ctx, wc.appt.ID); err != nil {
			e.logger.Warn("cancel reminders failed", "appointment_id", wc.appt.ID, "error", err)
		}
	}
	e.logger.Info("appointment denied", "appointment_id", wc.appt.ID, "skipped_stages", skipped)
	e.notifyRep(ctx, wc, notify.TypeAppointmentDenied, map[string]string{notify.KeyReason: reason})
}

func (e *Engine) finalizeApproved(ctx context.Context, wc *workflowContext, now time.Time) {
	if err := e.queries.ApproveAppointment(ctx, wc.appt.ID); err != nil {
		if !errors.Is(err, pharma.ErrStateConflict) {
			e.logger.Error("approve appointment failed", "appointment_id", wc.appt.ID, "error", err)
		}
		return
	}
	// Optional stages still outstanding no longer matter.
	if _, err := e.queries.SkipPendingStages(ctx, wc.appt.ID, "", now); err != nil {
		e.logger.Error("skip pending stages failed", "appointment_id", wc.appt.ID, "error", err)
	}
	e.logger.Info("appointment approved", "appointment_id", wc.appt.ID)
	e.notifyRep(ctx, wc, notify.TypeAppointmentApproved, nil)
}

// activateNext opens waiting stages once no activated required stage is outstanding. Stages open in
// ordinal order up to and including the next required one.
func (e *Engine) activateNext(ctx context.Context, wc *workflowContext, stages []pharma.ApprovalStage, now time.Time) {
	var waiting []*pharma.ApprovalStage
	for i := range stages {
		s := &stages[i]
		if s.ApprovalStatus != pharma.ApprovalPending || s.Superseded() {
			continue
		}
		if s.Active() {
			if s.RequiredApproval {
				return
			}
			continue
		}
		waiting = append(waiting, s)
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].WorkflowStage < waiting[j].WorkflowStage })

	for _, next := range waiting {
		if err := e.queries.ActivateStage(ctx, next.ID, now); err != nil {
			e.logger.Error("activate stage failed", "appointment_id", wc.appt.ID, "stage_id", next.ID, "error", err)
			return
		}
		activated := now
		next.ActivatedAt = &activated
		e.notifyApprover(ctx, wc, next, notify.TypeApprovalRequested, notify.PriorityNormal, nil)
		if next.RequiredApproval {
			return
		}
	}
}

// EscalateWorkflow hands a pending stage to the next approver in the escalation chain.
func (e *Engine) EscalateWorkflow(ctx context.Context, appointmentID, stageID, reason string) (*pharma.ApprovalStage, error) {
	ctx, span := approvalTracer.Start(ctx, "approval.escalate")
	defer span.End()
	span.SetAttributes(
		attribute.String("pharma.appointment_id", appointmentID),
		attribute.String("pharma.stage_id", stageID),
	)

	stage, err := e.queries.GetStage(ctx, stageID)
	if err != nil {
		return nil, fmt.Errorf("approval: load stage: %w", err)
	}
	if stage.AppointmentID != appointmentID {
		return nil, fmt.Errorf("approval: load stage: %w", pharma.ErrStageNotFound)
	}
	wc, err := e.loadContext(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	created, err := e.escalate(ctx, wc, stage, reason, "manual")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return created, nil
}

func (e *Engine) escalate(ctx context.Context, wc *workflowContext, stage *pharma.ApprovalStage, reason, trigger string) (*pharma.ApprovalStage, error) {
	if stage.ApprovalStatus.Terminal() {
		return nil, fmt.Errorf("%w: stage %d is %s", ErrStageNotPending, stage.WorkflowStage, stage.ApprovalStatus)
	}
	if stage.Superseded() {
		return nil, ErrStageSuperseded
	}
	next, err := NextApprover(wc.cfg.EscalationChain, stage.ApproverEmail)
	if err != nil {
		return nil, err
	}

	stages, err := e.queries.ListStages(ctx, stage.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("approval: list stages: %w", err)
	}
	maxOrdinal := 0
	for _, s := range stages {
		if s.WorkflowStage > maxOrdinal {
			maxOrdinal = s.WorkflowStage
		}
	}

	now := e.now()
	if err := e.queries.MarkStageEscalated(ctx, stage.ID, now); err != nil {
		if errors.Is(err, pharma.ErrStateConflict) {
			return nil, fmt.Errorf("%w: %v", ErrStageSuperseded, err)
		}
		return nil, fmt.Errorf("approval: mark escalated: %w", err)
	}

	activated := now
	created := []pharma.ApprovalStage{{
		AppointmentID:        stage.AppointmentID,
		WorkflowStage:        maxOrdinal + 1,
		ApproverEmail:        next,
		RequiredApproval:     stage.RequiredApproval,
		ApprovalStatus:       pharma.ApprovalPending,
		EscalationHours:      stage.EscalationHours,
		ActivatedAt:          &activated,
		EscalatedFromStageID: stage.ID,
		CreatedAt:            now,
	}}
	if err := e.queries.CreateStages(ctx, created); err != nil {
		return nil, fmt.Errorf("approval: create escalation stage: %w", err)
	}
	newStage := created[0]

	e.logger.Info("approval stage escalated", "appointment_id", stage.AppointmentID, "stage_id", stage.ID,
		"from", stage.ApproverEmail, "to", next, "trigger", trigger, "reason", reason)
	e.metrics.ObserveEscalation(trigger)
	if err := e.audit.LogEscalation(ctx, audit.EscalationEvent{
		AppointmentID: stage.AppointmentID,
		FromStageID:   stage.ID,
		ToStageID:     newStage.ID,
		FromApprover:  stage.ApproverEmail,
		ToApprover:    next,
		Reason:        reason,
	}); err != nil {
		e.logger.Error("audit escalation failed", "appointment_id", stage.AppointmentID, "error", err)
	}

	e.send(ctx, notify.Notification{
		Type:          notify.TypeApprovalEscalated,
		Recipients:    []string{stage.ApproverEmail, next},
		AppointmentID: stage.AppointmentID,
		Priority:      notify.PriorityHigh,
		CustomData: e.customData(wc, map[string]string{
			notify.KeyEscalatedFrom: stage.ApproverEmail,
			notify.KeyReason:        reason,
			notify.KeyStage:         strconv.Itoa(newStage.WorkflowStage),
		}),
	})
	return &newStage, nil
}

// NextApprover returns the chain entry after current, or the first entry when current is not in the chain.
func NextApprover(chain []string, current string) (string, error) {
	if len(chain) == 0 {
		return "", ErrEscalationChainExhausted
	}
	for i, email := range chain {
		if sameEmail(email, current) {
			if i+1 >= len(chain) {
				return "", ErrEscalationChainExhausted
			}
			return chain[i+1], nil
		}
	}
	return chain[0], nil
}

// CheckPendingEscalations escalates overdue stages and reminds approvers. Each stage is handled on
// its own; failures are logged and counted and the next sweep retries them.
func (e *Engine) CheckPendingEscalations(ctx context.Context) (SweepResult, error) {
	ctx, span := approvalTracer.Start(ctx, "approval.sweep")
	defer span.End()

	var result SweepResult
	stages, err := e.queries.ListActivePendingStages(ctx)
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("approval: list pending stages: %w", err)
	}

	contexts := make(map[string]*workflowContext)
	for i := range stages {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		stage := &stages[i]
		result.Checked++

		wc, ok := contexts[stage.AppointmentID]
		if !ok {
			wc, err = e.loadContext(ctx, stage.AppointmentID)
			if err != nil {
				e.logger.Error("sweep: load workflow failed", "appointment_id", stage.AppointmentID, "error", err)
				result.Failed++
				continue
			}
			contexts[stage.AppointmentID] = wc
		}

		now := e.now()
		elapsed := now.Sub(*stage.ActivatedAt)
		if stage.EscalationHours > 0 && elapsed > time.Duration(stage.EscalationHours)*time.Hour {
			reason := fmt.Sprintf("no decision after %d hours", stage.EscalationHours)
			_, err := e.escalate(ctx, wc, stage, reason, "timeout")
			if err == nil {
				result.Escalated++
				continue
			}
			if !errors.Is(err, ErrEscalationChainExhausted) {
				e.logger.Error("sweep: escalation failed", "appointment_id", stage.AppointmentID,
					"stage_id", stage.ID, "error", err)
				result.Failed++
				continue
			}
			e.logger.Warn("sweep: escalation chain exhausted, reminding instead",
				"appointment_id", stage.AppointmentID, "stage_id", stage.ID)
		}

		if !reminderDue(stage, wc.cfg, now) {
			continue
		}
		hours := strconv.Itoa(int(elapsed.Hours()))
		if _, err := e.notifier.Send(ctx, notify.Notification{
			Type:          notify.TypeApprovalReminder,
			Recipients:    []string{stage.ApproverEmail},
			AppointmentID: stage.AppointmentID,
			Priority:      notify.PriorityNormal,
			CustomData:    e.customData(wc, map[string]string{notify.KeyHoursPending: hours}),
		}); err != nil {
			e.logger.Warn("sweep: reminder delivery failed", "appointment_id", stage.AppointmentID,
				"stage_id", stage.ID, "error", err)
			e.metrics.ObserveReminder("failed")
			result.Failed++
			continue
		}
		if err := e.queries.RecordStageReminder(ctx, stage.ID, now); err != nil {
			e.logger.Error("sweep: record reminder failed", "stage_id", stage.ID, "error", err)
			result.Failed++
			continue
		}
		e.metrics.ObserveReminder("sent")
		result.Reminded++
	}

	span.SetAttributes(
		attribute.Int("pharma.sweep.checked", result.Checked),
		attribute.Int("pharma.sweep.escalated", result.Escalated),
	)
	return result, nil
}

func reminderDue(stage *pharma.ApprovalStage, cfg *WorkflowConfig, now time.Time) bool {
	if cfg.ReminderIntervalHours <= 0 || stage.ReminderCount >= cfg.MaxReminders {
		return false
	}
	last := *stage.ActivatedAt
	if stage.LastReminderAt != nil {
		last = *stage.LastReminderAt
	}
	return now.Sub(last) > time.Duration(cfg.ReminderIntervalHours)*time.Hour
}

// GetWorkflowStatus derives the current workflow status from the stored stages.
func (e *Engine) GetWorkflowStatus(ctx context.Context, appointmentID string) (*WorkflowStatus, error) {
	stages, err := e.queries.ListStages(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("approval: list stages: %w", err)
	}
	if len(stages) == 0 {
		appt, err := e.queries.GetAppointment(ctx, appointmentID)
		if err != nil {
			return nil, fmt.Errorf("approval: load appointment: %w", err)
		}
		if appt.ApprovalStatus != pharma.ApprovalApproved {
			return nil, ErrWorkflowNotFound
		}
		return &WorkflowStatus{
			AppointmentID:    appointmentID,
			OverallStatus:    StatusApproved,
			PendingApprovers: []string{},
			CompletedStages:  []int{},
			AutoApproved:     true,
			Stages:           []pharma.ApprovalStage{},
		}, nil
	}
	status := DeriveStatus(stages)
	status.AppointmentID = appointmentID
	return &status, nil
}

// Approvers lists every approver that has been asked to act on the appointment.
func (e *Engine) Approvers(ctx context.Context, appointmentID string) ([]string, error) {
	stages, err := e.queries.ListStages(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("approval: list stages: %w", err)
	}
	var out []string
	for _, s := range stages {
		if s.Active() && !containsFold(out, s.ApproverEmail) {
			out = append(out, s.ApproverEmail)
		}
	}
	return out, nil
}

func (e *Engine) notifyApprover(ctx context.Context, wc *workflowContext, stage *pharma.ApprovalStage, typ notify.Type, priority notify.Priority, extra map[string]string) {
	if priority == "" {
		priority = notify.PriorityNormal
	}
	if extra == nil {
		extra = map[string]string{}
	}
	extra[notify.KeyStage] = strconv.Itoa(stage.WorkflowStage)
	e.send(ctx, notify.Notification{
		Type:          typ,
		Recipients:    []string{stage.ApproverEmail},
		AppointmentID: stage.AppointmentID,
		Priority:      priority,
		CustomData:    e.customData(wc, extra),
	})
}

func (e *Engine) notifyRep(ctx context.Context, wc *workflowContext, typ notify.Type, extra map[string]string) {
	if wc.rep == nil || wc.rep.Email == "" {
		e.logger.Warn("no representative email, notification skipped", "appointment_id", wc.appt.ID, "type", typ)
		return
	}
	e.send(ctx, notify.Notification{
		Type:          typ,
		Recipients:    []string{wc.rep.Email},
		AppointmentID: wc.appt.ID,
		Priority:      notify.PriorityNormal,
		CustomData:    e.customData(wc, extra),
	})
}

func (e *Engine) send(ctx context.Context, n notify.Notification) {
	if _, err := e.notifier.Send(ctx, n); err != nil {
		e.logger.Warn("notification failed", "type", n.Type, "appointment_id", n.AppointmentID, "error", err)
	}
}

func (e *Engine) customData(wc *workflowContext, extra map[string]string) map[string]string {
	data := map[string]string{
		notify.KeyDate:      pharma.DateKey(wc.appt.AppointmentDate),
		notify.KeyStartTime: wc.appt.StartTime,
		notify.KeyEndTime:   wc.appt.EndTime,
	}
	if wc.activity != nil {
		data[notify.KeyActivityName] = wc.activity.Name
		data[notify.KeyLocation] = wc.activity.Location
	}
	if wc.rep != nil {
		data[notify.KeyRepName] = wc.rep.FullName()
		data[notify.KeyCompany] = wc.rep.CompanyName
	}
	for k, v := range extra {
		if v != "" {
			data[k] = v
		}
	}
	return data
}

func formatChanges(changes map[string]string) string {
	if len(changes) == 0 {
		return ""
	}
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+changes[k])
	}
	return strings.Join(parts, "; ")
}

func sameEmail(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if sameEmail(x, v) {
			return true
		}
	}
	return false
}
