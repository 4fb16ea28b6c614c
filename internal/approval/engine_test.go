package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/pharma-scheduling/internal/audit"
	"github.com/wolfman30/pharma-scheduling/internal/notify"
	"github.com/wolfman30/pharma-scheduling/internal/pharma"
)

// Monday 2025-03-03 09:00 UTC.
var t0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

const (
	manager  = "manager@practice.test"
	doctor   = "doctor@practice.test"
	admin    = "admin@practice.test"
	director = "director@practice.test"
	repEmail = "jane@acme.test"
)

func testConfig() WorkflowConfig {
	return WorkflowConfig{
		ID:         "lunch-main",
		ActivityID: "lunch",
		Stages: []StageConfig{
			{Stage: 2, Name: "Physician", ApproverEmail: doctor, Required: true, EscalationHours: 48},
			{Stage: 1, Name: "Manager", ApproverEmail: manager, Required: true, EscalationHours: 24,
				AutoSkip: AutoSkipConditions{SkipIfRequesterIsApprover: true}},
		},
		AutoApproval:          AutoApprovalConfig{Enabled: true, MinAdvanceNoticeHours: 72},
		EscalationChain:       []string{admin, director},
		ReminderIntervalHours: 12,
		MaxReminders:          2,
	}
}

type fakeReminders struct {
	cancelled []string
}

func (f *fakeReminders) CancelForAppointment(_ context.Context, appointmentID string) (int, error) {
	f.cancelled = append(f.cancelled, appointmentID)
	return 2, nil
}

type fixture struct {
	q         *pharma.InMemoryQueries
	notifier  *notify.RecordingNotifier
	audit     *audit.MemoryRecorder
	reminders *fakeReminders
	engine    *Engine
	now       time.Time
}

func newFixture(t *testing.T, cfg WorkflowConfig) *fixture {
	t.Helper()
	f := &fixture{
		q:         pharma.NewInMemoryQueries(),
		notifier:  notify.NewRecordingNotifier(),
		audit:     audit.NewMemoryRecorder(),
		reminders: &fakeReminders{},
		now:       t0,
	}
	f.q.PutActivity(pharma.Activity{
		ID: "lunch", Name: "Lunch and Learn", Location: "main", DurationMinutes: 30,
		MaxParticipants: 10, RequiresApproval: true, CancellationHours: 24, IsActive: true,
	})
	require.NoError(t, f.q.CreateRepresentative(context.Background(), &pharma.Representative{
		ID: "rep-1", Email: repEmail, FirstName: "Jane", LastName: "Rep", CompanyName: "Acme Pharma", IsActive: true,
	}))
	f.engine = NewEngine(Deps{
		Queries:   f.q,
		Configs:   NewStaticConfigStore(cfg),
		Notifier:  f.notifier,
		Audit:     f.audit,
		Reminders: f.reminders,
		Clock:     func() time.Time { return f.now },
	})
	return f
}

// book creates a pending appointment daysAhead days after t0 at 12:00.
func (f *fixture) book(t *testing.T, daysAhead int) string {
	t.Helper()
	appt := &pharma.Appointment{
		ActivityID:       "lunch",
		RepID:            "rep-1",
		AppointmentDate:  time.Date(2025, 3, 3+daysAhead, 0, 0, 0, 0, time.UTC),
		StartTime:        "12:00",
		EndTime:          "12:30",
		ParticipantCount: 5,
	}
	require.NoError(t, f.q.CreateAppointment(context.Background(), appt))
	return appt.ID
}

func (f *fixture) stages(t *testing.T, apptID string) []pharma.ApprovalStage {
	t.Helper()
	stages, err := f.q.ListStages(context.Background(), apptID)
	require.NoError(t, err)
	return stages
}

func (f *fixture) decide(apptID string, stage pharma.ApprovalStage, d DecisionType) (*WorkflowStatus, error) {
	return f.engine.ProcessApprovalDecision(context.Background(), Decision{
		AppointmentID: apptID,
		StageID:       stage.ID,
		ApproverEmail: stage.ApproverEmail,
		Decision:      d,
	})
}

func TestInitiateApproval_AutoApprovalCreatesNoStages(t *testing.T) {
	f := newFixture(t, testConfig())
	apptID := f.book(t, 7)

	status, err := f.engine.InitiateApproval(context.Background(), InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, status.OverallStatus)
	assert.True(t, status.AutoApproved)
	assert.Empty(t, f.stages(t, apptID))

	appt, err := f.q.GetAppointment(context.Background(), apptID)
	require.NoError(t, err)
	assert.Equal(t, pharma.ApprovalApproved, appt.ApprovalStatus)
	assert.Equal(t, pharma.AppointmentConfirmed, appt.Status)
	assert.Len(t, f.audit.Events(audit.EventAutoApproval), 1)
	assert.Len(t, f.notifier.OfType(notify.TypeAppointmentApproved), 1)

	got, err := f.engine.GetWorkflowStatus(context.Background(), apptID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.OverallStatus)
}

func TestInitiateApproval_SequentialActivatesFirstStageOnly(t *testing.T) {
	f := newFixture(t, testConfig())
	apptID := f.book(t, 1)

	status, err := f.engine.InitiateApproval(context.Background(), InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status.OverallStatus)
	assert.Equal(t, 1, status.CurrentStage)
	assert.Equal(t, []string{manager}, status.PendingApprovers)

	stages := f.stages(t, apptID)
	require.Len(t, stages, 2)
	assert.Equal(t, manager, stages[0].ApproverEmail)
	assert.True(t, stages[0].Active())
	assert.False(t, stages[1].Active())

	requested := f.notifier.OfType(notify.TypeApprovalRequested)
	require.Len(t, requested, 1)
	assert.Equal(t, []string{manager}, requested[0].Recipients)
}

func TestInitiateApproval_ParallelNotifiesEveryStage(t *testing.T) {
	cfg := testConfig()
	cfg.ParallelApproval = true
	f := newFixture(t, cfg)
	apptID := f.book(t, 1)

	status, err := f.engine.InitiateApproval(context.Background(), InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{manager, doctor}, status.PendingApprovers)
	assert.Len(t, f.notifier.OfType(notify.TypeApprovalRequested), 2)

	// Stage 2 can decide before stage 1.
	stages := f.stages(t, apptID)
	_, err = f.decide(apptID, stages[1], DecisionApprove)
	require.NoError(t, err)
	status, err = f.decide(apptID, stages[0], DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, status.OverallStatus)
}

func TestInitiateApproval_SkipsStageWhenRequesterIsApprover(t *testing.T) {
	f := newFixture(t, testConfig())
	apptID := f.book(t, 1)

	status, err := f.engine.InitiateApproval(context.Background(), InitiateRequest{AppointmentID: apptID, SubmittedBy: "Manager@Practice.test"})
	require.NoError(t, err)

	stages := f.stages(t, apptID)
	require.Len(t, stages, 1)
	assert.Equal(t, doctor, stages[0].ApproverEmail)
	assert.Equal(t, 1, stages[0].WorkflowStage)
	assert.True(t, stages[0].Active())
	assert.Equal(t, []string{doctor}, status.PendingApprovers)
}

func TestInitiateApproval_RejectsSecondActiveWorkflow(t *testing.T) {
	f := newFixture(t, testConfig())
	apptID := f.book(t, 1)
	ctx := context.Background()

	_, err := f.engine.InitiateApproval(ctx, InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)
	_, err = f.engine.InitiateApproval(ctx, InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	assert.ErrorIs(t, err, ErrWorkflowExists)
	assert.Len(t, f.stages(t, apptID), 2)
}

func TestInitiateApproval_UnknownAppointment(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.engine.InitiateApproval(context.Background(), InitiateRequest{AppointmentID: "missing"})
	assert.ErrorIs(t, err, pharma.ErrAppointmentNotFound)
}

func TestProcessApprovalDecision_SequentialApproval(t *testing.T) {
	f := newFixture(t, testConfig())
	apptID := f.book(t, 1)
	ctx := context.Background()
	_, err := f.engine.InitiateApproval(ctx, InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)
	stages := f.stages(t, apptID)

	// Stage 2 is not active until stage 1 is approved.
	_, err = f.decide(apptID, stages[1], DecisionApprove)
	assert.ErrorIs(t, err, ErrStageNotActive)

	status, err := f.decide(apptID, stages[0], DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status.OverallStatus)
	assert.Equal(t, []string{doctor}, status.PendingApprovers)
	assert.Equal(t, []int{1}, status.CompletedStages)
	assert.Len(t, f.notifier.OfType(notify.TypeApprovalRequested), 2)

	status, err = f.decide(apptID, stages[1], DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, status.OverallStatus)

	appt, err := f.q.GetAppointment(ctx, apptID)
	require.NoError(t, err)
	assert.Equal(t, pharma.ApprovalApproved, appt.ApprovalStatus)
	assert.Equal(t, pharma.AppointmentConfirmed, appt.Status)
	approved := f.notifier.OfType(notify.TypeAppointmentApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, []string{repEmail}, approved[0].Recipients)
	assert.Len(t, f.audit.Events(audit.EventDecision), 2)
}

func TestProcessApprovalDecision_SecondDecisionFails(t *testing.T) {
	f := newFixture(t, testConfig())
	apptID := f.book(t, 1)
	_, err := f.engine.InitiateApproval(context.Background(), InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)
	stage := f.stages(t, apptID)[0]

	_, err = f.decide(apptID, stage, DecisionApprove)
	require.NoError(t, err)
	_, err = f.decide(apptID, stage, DecisionApprove)
	assert.ErrorIs(t, err, ErrStageNotPending)
	_, err = f.decide(apptID, stage, DecisionDeny)
	assert.ErrorIs(t, err, ErrStageNotPending)
}

func TestProcessApprovalDecision_DenySkipsRemainingStages(t *testing.T) {
	cfg := testConfig()
	cfg.ParallelApproval = true
	f := newFixture(t, cfg)
	apptID := f.book(t, 1)
	ctx := context.Background()
	_, err := f.engine.InitiateApproval(ctx, InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)
	stages := f.stages(t, apptID)

	status, err := f.engine.ProcessApprovalDecision(ctx, Decision{
		AppointmentID: apptID, StageID: stages[0].ID, ApproverEmail: manager,
		Decision: DecisionDeny, Comments: "Calendar is full that week",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, status.OverallStatus)

	after := f.stages(t, apptID)
	assert.Equal(t, pharma.ApprovalDenied, after[0].ApprovalStatus)
	assert.Equal(t, pharma.ApprovalSkipped, after[1].ApprovalStatus)

	appt, err := f.q.GetAppointment(ctx, apptID)
	require.NoError(t, err)
	assert.Equal(t, pharma.ApprovalDenied, appt.ApprovalStatus)
	assert.Equal(t, "Calendar is full that week", appt.CancellationReason)

	denied := f.notifier.OfType(notify.TypeAppointmentDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, "Calendar is full that week", denied[0].CustomData[notify.KeyReason])
	assert.Equal(t, []string{apptID}, f.reminders.cancelled)

	_, err = f.decide(apptID, after[1], DecisionApprove)
	assert.ErrorIs(t, err, ErrStageNotPending)
}

func TestProcessApprovalDecision_RequestChangesLeavesStagePending(t *testing.T) {
	f := newFixture(t, testConfig())
	apptID := f.book(t, 1)
	ctx := context.Background()
	_, err := f.engine.InitiateApproval(ctx, InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)
	stage := f.stages(t, apptID)[0]

	status, err := f.engine.ProcessApprovalDecision(ctx, Decision{
		AppointmentID: apptID, StageID: stage.ID, ApproverEmail: manager, Decision: DecisionRequestChanges,
		RequestedChanges: map[string]string{"start_time": "13:00", "participant_count": "4"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status.OverallStatus)
	assert.Equal(t, pharma.ApprovalPending, f.stages(t, apptID)[0].ApprovalStatus)

	changes := f.notifier.OfType(notify.TypeChangesRequested)
	require.Len(t, changes, 1)
	assert.Equal(t, []string{repEmail}, changes[0].Recipients)
	assert.Equal(t, "participant_count: 4; start_time: 13:00", changes[0].CustomData[notify.KeyRequestedChanges])
}

func TestProcessApprovalDecision_Rejections(t *testing.T) {
	f := newFixture(t, testConfig())
	apptID := f.book(t, 1)
	ctx := context.Background()
	_, err := f.engine.InitiateApproval(ctx, InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)
	stage := f.stages(t, apptID)[0]

	_, err = f.engine.ProcessApprovalDecision(ctx, Decision{AppointmentID: apptID, StageID: stage.ID, ApproverEmail: manager, Decision: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = f.engine.ProcessApprovalDecision(ctx, Decision{AppointmentID: apptID, StageID: stage.ID, ApproverEmail: doctor, Decision: DecisionApprove})
	assert.ErrorIs(t, err, ErrNotStageApprover)

	_, err = f.engine.ProcessApprovalDecision(ctx, Decision{AppointmentID: "other", StageID: stage.ID, ApproverEmail: manager, Decision: DecisionApprove})
	assert.ErrorIs(t, err, pharma.ErrStageNotFound)

	assert.Equal(t, pharma.ApprovalPending, f.stages(t, apptID)[0].ApprovalStatus)
}

func TestCheckPendingEscalations_EscalatesOverdueStageOnce(t *testing.T) {
	f := newFixture(t, testConfig())
	apptID := f.book(t, 2)
	ctx := context.Background()
	_, err := f.engine.InitiateApproval(ctx, InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)

	f.now = t0.Add(25 * time.Hour)
	res, err := f.engine.CheckPendingEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Escalated)

	stages := f.stages(t, apptID)
	require.Len(t, stages, 3)
	original, escalated := stages[0], stages[2]
	assert.True(t, original.Superseded())
	assert.Equal(t, pharma.ApprovalPending, original.ApprovalStatus)
	assert.Equal(t, admin, escalated.ApproverEmail)
	assert.Equal(t, 3, escalated.WorkflowStage)
	assert.Equal(t, original.ID, escalated.EscalatedFromStageID)
	assert.True(t, escalated.RequiredApproval)
	assert.True(t, escalated.Active())

	notes := f.notifier.OfType(notify.TypeApprovalEscalated)
	require.Len(t, notes, 1)
	assert.ElementsMatch(t, []string{manager, admin}, notes[0].Recipients)

	status, err := f.engine.GetWorkflowStatus(ctx, apptID)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, status.OverallStatus)
	assert.Equal(t, []string{admin}, status.PendingApprovers)
	assert.Equal(t, 3, status.CurrentStage)

	res, err = f.engine.CheckPendingEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Escalated)
	assert.Len(t, f.stages(t, apptID), 3)

	// The superseded stage can no longer be decided.
	_, err = f.decide(apptID, original, DecisionApprove)
	assert.ErrorIs(t, err, ErrStageSuperseded)

	// Approving the escalation stage moves the workflow on to the physician.
	status, err = f.decide(apptID, escalated, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, []string{doctor}, status.PendingApprovers)
}

func TestCheckPendingEscalations_SendsReminders(t *testing.T) {
	f := newFixture(t, testConfig())
	apptID := f.book(t, 2)
	ctx := context.Background()
	_, err := f.engine.InitiateApproval(ctx, InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)

	f.now = t0.Add(13 * time.Hour)
	res, err := f.engine.CheckPendingEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1, Reminded: 1}, res)
	assert.Equal(t, 1, f.stages(t, apptID)[0].ReminderCount)

	res, err = f.engine.CheckPendingEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Reminded)

	reminders := f.notifier.OfType(notify.TypeApprovalReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, []string{manager}, reminders[0].Recipients)
	assert.Equal(t, "13", reminders[0].CustomData[notify.KeyHoursPending])
}

func TestCheckPendingEscalations_ReminderFailureIsRetried(t *testing.T) {
	f := newFixture(t, testConfig())
	apptID := f.book(t, 2)
	ctx := context.Background()
	_, err := f.engine.InitiateApproval(ctx, InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)

	f.now = t0.Add(13 * time.Hour)
	f.notifier.FailN = map[notify.Type]error{notify.TypeApprovalReminder: errors.New("smtp down")}
	res, err := f.engine.CheckPendingEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, f.stages(t, apptID)[0].ReminderCount)

	f.notifier.FailN = nil
	res, err = f.engine.CheckPendingEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reminded)
}

func TestEscalateWorkflow_ChainExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.EscalationChain = []string{admin}
	f := newFixture(t, cfg)
	apptID := f.book(t, 2)
	ctx := context.Background()
	_, err := f.engine.InitiateApproval(ctx, InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)

	first, err := f.engine.EscalateWorkflow(ctx, apptID, f.stages(t, apptID)[0].ID, "out of office")
	require.NoError(t, err)
	assert.Equal(t, admin, first.ApproverEmail)

	_, err = f.engine.EscalateWorkflow(ctx, apptID, first.ID, "still waiting")
	assert.ErrorIs(t, err, ErrEscalationChainExhausted)
	assert.Len(t, f.audit.Events(audit.EventEscalation), 1)
}

func TestNextApprover(t *testing.T) {
	chain := []string{admin, director}

	next, err := NextApprover(chain, manager)
	require.NoError(t, err)
	assert.Equal(t, admin, next)

	next, err = NextApprover(chain, "ADMIN@practice.test")
	require.NoError(t, err)
	assert.Equal(t, director, next)

	_, err = NextApprover(chain, director)
	assert.ErrorIs(t, err, ErrEscalationChainExhausted)

	_, err = NextApprover(nil, manager)
	assert.ErrorIs(t, err, ErrEscalationChainExhausted)
}

func TestEvaluateAutoApproval(t *testing.T) {
	appt := &pharma.Appointment{
		AppointmentDate:  time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		StartTime:        "12:00",
		EndTime:          "12:30",
		ParticipantCount: 8,
	}
	rep := &pharma.Representative{CompanyName: "Acme Pharma"}

	cfg := &WorkflowConfig{AutoApproval: AutoApprovalConfig{Enabled: true, MinAdvanceNoticeHours: 72}}
	ok, reasons := EvaluateAutoApproval(cfg, appt, rep, t0, time.UTC)
	assert.True(t, ok)
	assert.Equal(t, []string{"booked 171 hours in advance"}, reasons)

	cfg.AutoApproval.MaxParticipants = 6
	ok, _ = EvaluateAutoApproval(cfg, appt, rep, t0, time.UTC)
	assert.False(t, ok)

	cfg.AutoApproval = AutoApprovalConfig{Enabled: true, PreApprovedCompanies: []string{"acme pharma"}}
	ok, _ = EvaluateAutoApproval(cfg, appt, rep, t0, time.UTC)
	assert.True(t, ok)
	ok, _ = EvaluateAutoApproval(cfg, appt, nil, t0, time.UTC)
	assert.False(t, ok)

	cfg.AutoApproval = AutoApprovalConfig{Enabled: true}
	ok, _ = EvaluateAutoApproval(cfg, appt, rep, t0, time.UTC)
	assert.False(t, ok, "no conditions configured")

	cfg.AutoApproval = AutoApprovalConfig{Enabled: false, MinAdvanceNoticeHours: 1}
	ok, _ = EvaluateAutoApproval(cfg, appt, rep, t0, time.UTC)
	assert.False(t, ok)
}

func TestProcessApprovalDecision_OptionalStageDoesNotGateRequiredStage(t *testing.T) {
	cfg := testConfig()
	cfg.AutoApproval = AutoApprovalConfig{}
	cfg.Stages = []StageConfig{
		{Stage: 1, ApproverEmail: manager, Required: false, EscalationHours: 24},
		{Stage: 2, ApproverEmail: doctor, Required: true, EscalationHours: 48},
		{Stage: 3, ApproverEmail: admin, Required: true, EscalationHours: 48},
	}
	f := newFixture(t, cfg)
	apptID := f.book(t, 5)
	ctx := context.Background()

	status, err := f.engine.InitiateApproval(ctx, InitiateRequest{AppointmentID: apptID, SubmittedBy: repEmail})
	require.NoError(t, err)
	assert.Equal(t, []string{manager, doctor}, status.PendingApprovers)
	stages := f.stages(t, apptID)
	assert.False(t, stages[2].Active())

	status, err = f.decide(apptID, stages[1], DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status.OverallStatus)
	assert.Equal(t, []string{manager, admin}, status.PendingApprovers)

	status, err = f.decide(apptID, stages[2], DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, status.OverallStatus)

	// The optional stage was never decided and is closed with the workflow.
	stages = f.stages(t, apptID)
	assert.Equal(t, pharma.ApprovalSkipped, stages[0].ApprovalStatus)
	assert.Len(t, f.notifier.OfType(notify.TypeApprovalRequested), 3)
}
