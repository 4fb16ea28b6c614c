package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/pharma-scheduling/internal/approval"
	"github.com/wolfman30/pharma-scheduling/internal/availability"
	"github.com/wolfman30/pharma-scheduling/internal/notify"
	"github.com/wolfman30/pharma-scheduling/internal/observability/metrics"
	"github.com/wolfman30/pharma-scheduling/internal/pharma"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

var bookingTracer = otel.Tracer("pharma/booking")

const genericFailure = "An unexpected error occurred while processing your request. Please try again."

// AvailabilityService is the slot engine surface the orchestrator needs.
type AvailabilityService interface {
	CheckRealTimeConflicts(ctx context.Context, chk availability.RealTimeCheck) (*availability.ConflictReport, error)
	SuggestAlternativeSlots(ctx context.Context, conflicted availability.Slot, req availability.Request, count int) ([]availability.OptimizedSlot, error)
	InvalidateActivity(ctx context.Context, activityID string)
}

// ApprovalService is the approval engine surface the orchestrator needs.
type ApprovalService interface {
	InitiateApproval(ctx context.Context, req approval.InitiateRequest) (*approval.WorkflowStatus, error)
	Approvers(ctx context.Context, appointmentID string) ([]string, error)
}

// ReminderScheduler queues and withdraws visit reminders.
type ReminderScheduler interface {
	ScheduleAppointmentReminders(ctx context.Context, req notify.ReminderRequest) ([]notify.ScheduledNotification, error)
	RescheduleAppointmentReminders(ctx context.Context, req notify.ReminderRequest) ([]notify.ScheduledNotification, error)
	CancelForAppointment(ctx context.Context, appointmentID string) (int, error)
}

// Deps are the orchestrator's collaborators. Queries, Availability and Approval are required.
type Deps struct {
	Queries      pharma.Queries
	Availability AvailabilityService
	Approval     ApprovalService
	Notifier     notify.Notifier
	Scheduler    ReminderScheduler
	Clock        func() time.Time
	Location     *time.Location
	Metrics      *metrics.SchedulingMetrics
	Logger       *logging.Logger
	Random       io.Reader
}

// Orchestrator runs the booking lifecycle on top of the availability and approval engines.
type Orchestrator struct {
	queries      pharma.Queries
	availability AvailabilityService
	approval     ApprovalService
	notifier     notify.Notifier
	scheduler    ReminderScheduler
	now          func() time.Time
	loc          *time.Location
	metrics      *metrics.SchedulingMetrics
	logger       *logging.Logger
	random       io.Reader
	policy       Policy
}

func NewOrchestrator(d Deps, policy Policy) *Orchestrator {
	if d.Queries == nil || d.Availability == nil || d.Approval == nil {
		panic("booking: queries, availability and approval are required")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewRecordingNotifier()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if policy.AlternativeCount <= 0 {
		policy.AlternativeCount = DefaultPolicy().AlternativeCount
	}
	return &Orchestrator{
		queries:      d.Queries,
		availability: d.Availability,
		approval:     d.Approval,
		notifier:     d.Notifier,
		scheduler:    d.Scheduler,
		now:          d.Clock,
		loc:          d.Location,
		metrics:      d.Metrics,
		logger:       d.Logger.Component("booking"),
		random:       d.Random,
		policy:       policy,
	}
}

// guard turns a panic in an operation into a single generic error and records the outcome.
func (o *Orchestrator) guard(op Operation, resp **Response) {
	if rec := recover(); rec != nil {
		o.logger.Error("booking: panic recovered", "operation", op, "panic", fmt.Sprint(rec))
		r := newResponse().fail(genericFailure)
		r.NextSteps = NextSteps(op, r)
		*resp = r
	}
	o.metrics.ObserveBooking(string(op), *resp != nil && (*resp).Success)
}

// CreateBooking validates, conflict-checks and persists a new visit and starts its approval.
func (o *Orchestrator) CreateBooking(ctx context.Context, req Request) (resp *Response) {
	ctx, span := bookingTracer.Start(ctx, "booking.create")
	defer span.End()
	span.SetAttributes(attribute.String("pharma.activity_id", req.ActivityID))
	defer o.guard(OpCreate, &resp)

	resp = newResponse()
	defer func() { resp.NextSteps = NextSteps(OpCreate, resp) }()

	var (
		activity *pharma.Activity
		errs     []string
	)
	if strings.TrimSpace(req.ActivityID) != "" {
		var err error
		activity, err = o.queries.GetActivity(ctx, req.ActivityID)
		switch {
		case errors.Is(err, pharma.ErrActivityNotFound):
			activity = nil
			errs = append(errs, fmt.Sprintf("activity %q was not found", req.ActivityID))
		case err != nil:
			o.logger.Error("booking: load activity failed", "activity_id", req.ActivityID, "error", err)
			return resp.fail(genericFailure)
		}
	}

	now := o.now()
	w, invalid := validateRequest(req, activity, o.policy, now, o.loc)
	if errs = append(errs, invalid...); len(errs) > 0 {
		o.logger.Info("booking request rejected", "activity_id", req.ActivityID, "errors", len(errs))
		return resp.fail(errs...)
	}

	rep, err := o.resolveRepresentative(ctx, req)
	if err != nil {
		if errors.Is(err, pharma.ErrRepresentativeNotFound) {
			return resp.fail("representative was not found")
		}
		o.logger.Error("booking: resolve representative failed", "rep_id", req.RepID, "error", err)
		return resp.fail(genericFailure)
	}

	if blocked := o.checkConflicts(ctx, resp, req, activity, rep.ID, w, ""); blocked {
		return resp
	}

	appt := &pharma.Appointment{
		ActivityID:       activity.ID,
		RepID:            rep.ID,
		AppointmentDate:  w.date,
		StartTime:        w.startTime,
		EndTime:          w.endTime,
		Status:           pharma.AppointmentPending,
		ApprovalStatus:   pharma.ApprovalPending,
		ParticipantCount: req.ParticipantCount,
		SpecialRequests:  req.SpecialRequests,
		BookingSource:    req.BookingSource,
	}
	if !activity.RequiresApproval {
		appt.ApprovalStatus = pharma.ApprovalApproved
	}
	if err := o.queries.CreateAppointment(ctx, appt); err != nil {
		span.RecordError(err)
		o.logger.Error("booking: persist appointment failed", "activity_id", activity.ID, "error", err)
		return resp.fail(genericFailure)
	}
	o.availability.InvalidateActivity(ctx, activity.ID)
	o.logger.Info("appointment created", "appointment_id", appt.ID, "activity_id", activity.ID,
		"rep_id", rep.ID, "date", pharma.DateKey(w.date), "start_time", w.startTime)

	resp.Success = true
	resp.AppointmentID = appt.ID
	resp.ConfirmationNumber = ConfirmationNumber(now, o.random)

	if activity.RequiresApproval {
		submittedBy := req.SubmittedBy
		if submittedBy == "" {
			submittedBy = rep.Email
		}
		workflow, err := o.approval.InitiateApproval(ctx, approval.InitiateRequest{
			AppointmentID: appt.ID,
			SubmittedBy:   submittedBy,
			Priority:      req.Priority,
			Notes:         req.SpecialRequests,
		})
		if err != nil {
			o.logger.Error("booking: initiate approval failed", "appointment_id", appt.ID, "error", err)
			resp.warn("The approval workflow could not be started; the practice will review your request manually")
			resp.RequiresApproval = true
		} else {
			resp.Workflow = workflow
			resp.RequiresApproval = !workflow.Terminal()
		}
	} else {
		confirmed := pharma.AppointmentConfirmed
		if _, err := o.queries.UpdateAppointment(ctx, appt.ID, pharma.AppointmentUpdate{Status: &confirmed}); err != nil {
			o.logger.Error("booking: confirm appointment failed", "appointment_id", appt.ID, "error", err)
			resp.warn("Your visit was recorded but could not be confirmed automatically")
		}
	}

	resp.Appointment = o.reload(ctx, appt)

	notification := notify.TypeBookingConfirmed
	if resp.RequiresApproval {
		notification = notify.TypeBookingReceived
	}
	o.send(ctx, notify.Notification{
		Type:          notification,
		Recipients:    []string{rep.Email},
		AppointmentID: appt.ID,
		Priority:      notify.PriorityNormal,
		CustomData: o.customData(activity, rep, resp.Appointment, map[string]string{
			notify.KeyConfirmationNumber: resp.ConfirmationNumber,
		}),
	})
	o.scheduleReminders(ctx, activity, rep, resp.Appointment, false)
	return resp
}

// ModifyBooking re-validates the merged appointment, re-checks conflicts excluding itself and
// applies the changed fields.
func (o *Orchestrator) ModifyBooking(ctx context.Context, mod Modification) (resp *Response) {
	ctx, span := bookingTracer.Start(ctx, "booking.modify")
	defer span.End()
	span.SetAttributes(attribute.String("pharma.appointment_id", mod.AppointmentID))
	defer o.guard(OpModify, &resp)

	resp = newResponse()
	defer func() { resp.NextSteps = NextSteps(OpModify, resp) }()
	resp.AppointmentID = mod.AppointmentID

	existing, activity, rep, failed := o.loadAppointment(ctx, resp, mod.AppointmentID)
	if failed {
		return resp
	}
	if !existing.Active() {
		return resp.fail(fmt.Sprintf("appointment is %s and can no longer be modified", inactiveState(existing)))
	}

	merged := Request{
		ActivityID:       existing.ActivityID,
		RepID:            existing.RepID,
		AppointmentDate:  pharma.DateKey(existing.AppointmentDate),
		StartTime:        existing.StartTime,
		EndTime:          existing.EndTime,
		ParticipantCount: existing.ParticipantCount,
		SpecialRequests:  existing.SpecialRequests,
	}
	if mod.AppointmentDate != nil {
		merged.AppointmentDate = *mod.AppointmentDate
	}
	if mod.StartTime != nil {
		merged.StartTime = *mod.StartTime
		if mod.EndTime == nil {
			merged.EndTime = ""
		}
	}
	if mod.EndTime != nil {
		merged.EndTime = *mod.EndTime
	}
	if mod.ParticipantCount != nil {
		merged.ParticipantCount = *mod.ParticipantCount
	}
	if mod.SpecialRequests != nil {
		merged.SpecialRequests = *mod.SpecialRequests
	}

	w, errs := validateRequest(merged, activity, o.policy, o.now(), o.loc)
	if len(errs) > 0 {
		return resp.fail(errs...)
	}

	rescheduled := pharma.DateKey(w.date) != pharma.DateKey(existing.AppointmentDate) ||
		w.startTime != existing.StartTime || w.endTime != existing.EndTime
	if rescheduled {
		if blocked := o.checkConflicts(ctx, resp, merged, activity, existing.RepID, w, existing.ID); blocked {
			return resp
		}
	}

	update := pharma.AppointmentUpdate{}
	changed := false
	if rescheduled {
		update.AppointmentDate = &w.date
		update.StartTime = &w.startTime
		update.EndTime = &w.endTime
		changed = true
	}
	if merged.ParticipantCount != existing.ParticipantCount {
		update.ParticipantCount = &merged.ParticipantCount
		changed = true
	}
	if merged.SpecialRequests != existing.SpecialRequests {
		update.SpecialRequests = &merged.SpecialRequests
		changed = true
	}
	reapprove := mod.RequiresReapproval && activity.RequiresApproval
	if !changed && !reapprove {
		resp.Success = true
		resp.Appointment = existing
		resp.warn("No changes were requested")
		return resp
	}

	if reapprove {
		pending := pharma.AppointmentPending
		approvalPending := pharma.ApprovalPending
		update.Status = &pending
		update.ApprovalStatus = &approvalPending
	}
	updated, err := o.queries.UpdateAppointment(ctx, existing.ID, update)
	if err != nil {
		span.RecordError(err)
		o.logger.Error("booking: update appointment failed", "appointment_id", existing.ID, "error", err)
		return resp.fail(genericFailure)
	}
	o.availability.InvalidateActivity(ctx, activity.ID)
	o.logger.Info("appointment modified", "appointment_id", existing.ID, "rescheduled", rescheduled,
		"reapproval", reapprove, "modified_by", mod.ModifiedBy)

	resp.Success = true
	if reapprove {
		// The previous workflow is closed only once the appointment is back in review.
		if _, err := o.queries.SkipPendingStages(ctx, existing.ID, "", o.now()); err != nil {
			o.logger.Error("booking: close previous workflow failed", "appointment_id", existing.ID, "error", err)
		}
		submittedBy := mod.ModifiedBy
		if submittedBy == "" && rep != nil {
			submittedBy = rep.Email
		}
		workflow, err := o.approval.InitiateApproval(ctx, approval.InitiateRequest{
			AppointmentID: existing.ID,
			SubmittedBy:   submittedBy,
			Notes:         mod.Reason,
		})
		if err != nil {
			o.logger.Error("booking: re-approval failed", "appointment_id", existing.ID, "error", err)
			resp.warn("The approval workflow could not be restarted; the practice will review your changes manually")
			resp.RequiresApproval = true
		} else {
			resp.Workflow = workflow
			resp.RequiresApproval = !workflow.Terminal()
		}
	}
	resp.Appointment = o.reload(ctx, updated)

	extra := map[string]string{notify.KeyReason: mod.Reason}
	if rep != nil {
		o.send(ctx, notify.Notification{
			Type:          notify.TypeAppointmentModified,
			Recipients:    []string{rep.Email},
			AppointmentID: existing.ID,
			Priority:      notify.PriorityNormal,
			CustomData:    o.customData(activity, rep, resp.Appointment, extra),
		})
	}
	if rescheduled {
		o.scheduleReminders(ctx, activity, rep, resp.Appointment, true)
	}
	return resp
}

// CancelBooking cancels a visit when the cancellation policy allows it.
func (o *Orchestrator) CancelBooking(ctx context.Context, c Cancellation) (resp *Response) {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("pharma.appointment_id", c.AppointmentID))
	defer o.guard(OpCancel, &resp)

	resp = newResponse()
	defer func() { resp.NextSteps = NextSteps(OpCancel, resp) }()
	resp.AppointmentID = c.AppointmentID

	appt, activity, rep, failed := o.loadAppointment(ctx, resp, c.AppointmentID)
	if failed {
		return resp
	}
	if appt.Status == pharma.AppointmentCancelled {
		return resp.fail("appointment is already cancelled")
	}

	policy := CancellationPolicy{MinimumHours: o.policy.CancellationMinimumHours}
	if c.Policy != nil {
		policy = *c.Policy
	}
	start, _, err := appt.Window(o.loc)
	if err != nil {
		o.logger.Error("booking: appointment window invalid", "appointment_id", appt.ID, "error", err)
		return resp.fail(genericFailure)
	}
	now := o.now()
	if notice := start.Sub(now); notice < time.Duration(policy.MinimumHours)*time.Hour {
		return resp.fail(fmt.Sprintf("cancellations require at least %d hours notice; the visit starts in %.0f hours",
			policy.MinimumHours, notice.Hours()))
	}

	// Approvers are collected before the workflow is closed.
	var approvers []string
	if c.NotifyParticipants {
		if approvers, err = o.approval.Approvers(ctx, appt.ID); err != nil {
			o.logger.Warn("booking: approver lookup failed", "appointment_id", appt.ID, "error", err)
		}
	}

	reason := c.Reason
	if reason == "" {
		reason = "cancelled by request"
	}
	if err := o.queries.CancelAppointment(ctx, appt.ID, reason); err != nil {
		if errors.Is(err, pharma.ErrStateConflict) {
			return resp.fail("appointment is already cancelled")
		}
		span.RecordError(err)
		o.logger.Error("booking: cancel appointment failed", "appointment_id", appt.ID, "error", err)
		return resp.fail(genericFailure)
	}
	if _, err := o.queries.SkipPendingStages(ctx, appt.ID, "", now); err != nil {
		o.logger.Warn("booking: close workflow failed", "appointment_id", appt.ID, "error", err)
	}
	if o.scheduler != nil {
		if n, err := o.scheduler.CancelForAppointment(ctx, appt.ID); err != nil {
			o.logger.Warn("booking: cancel reminders failed", "appointment_id", appt.ID, "error", err)
		} else {
			o.logger.Debug("reminders cancelled", "appointment_id", appt.ID, "count", n)
		}
	}
	o.availability.InvalidateActivity(ctx, activity.ID)
	o.logger.Info("appointment cancelled", "appointment_id", appt.ID, "cancelled_by", c.CancelledBy)

	resp.Success = true
	resp.Appointment = o.reload(ctx, appt)

	if c.NotifyParticipants {
		recipients := approvers
		if rep != nil {
			recipients = append([]string{rep.Email}, approvers...)
		}
		if len(recipients) > 0 {
			o.send(ctx, notify.Notification{
				Type:          notify.TypeAppointmentCancelled,
				Recipients:    recipients,
				AppointmentID: appt.ID,
				Priority:      notify.PriorityNormal,
				CustomData:    o.customData(activity, rep, resp.Appointment, map[string]string{notify.KeyReason: reason}),
			})
		}
	}
	return resp
}

// FindAlternatives searches a widened window around the requested time for available slots.
func (o *Orchestrator) FindAlternatives(ctx context.Context, req Request) ([]availability.OptimizedSlot, error) {
	date, err := pharma.ParseDate(req.AppointmentDate, o.loc)
	if err != nil {
		return nil, fmt.Errorf("booking: find alternatives: %w", err)
	}
	start, err := pharma.At(date, req.StartTime, o.loc)
	if err != nil {
		return nil, fmt.Errorf("booking: find alternatives: %w", err)
	}
	conflicted := availability.Slot{Date: date, StartTime: req.StartTime, EndTime: req.EndTime, Start: start}
	preferred := req.PreferredTimes
	if len(preferred) == 0 {
		preferred = []string{req.StartTime}
	}
	search := availability.Request{
		ActivityID:     req.ActivityID,
		StartDate:      date,
		EndDate:        date,
		PreferredTimes: preferred,
		RepID:          req.RepID,
		MaxResults:     o.policy.AlternativeCount,
	}
	return o.availability.SuggestAlternativeSlots(ctx, conflicted, search, o.policy.AlternativeCount)
}

// checkConflicts runs the real-time check and fills resp when the window is blocked. Advisory
// conflicts become warnings.
func (o *Orchestrator) checkConflicts(ctx context.Context, resp *Response, req Request, activity *pharma.Activity, repID string, w window, excludeID string) bool {
	report, err := o.availability.CheckRealTimeConflicts(ctx, availability.RealTimeCheck{
		RepID:                repID,
		ActivityID:           activity.ID,
		Date:                 w.date,
		StartTime:            w.startTime,
		EndTime:              w.endTime,
		ExcludeAppointmentID: excludeID,
	})
	if err != nil {
		o.logger.Error("booking: conflict check failed", "activity_id", activity.ID, "error", err)
		resp.fail(genericFailure)
		return true
	}
	if !report.HasConflicts {
		for _, c := range report.Conflicts {
			resp.warn(c.Reason)
		}
		return false
	}

	resp.Conflicts = report.Conflicts
	resp.fail(report.Reasons()...)
	req.RepID = repID
	req.AppointmentDate = pharma.DateKey(w.date)
	req.StartTime, req.EndTime = w.startTime, w.endTime
	alternatives, err := o.FindAlternatives(ctx, req)
	if err != nil {
		o.logger.Warn("booking: alternative search failed", "activity_id", activity.ID, "error", err)
	} else {
		resp.Alternatives = alternatives
	}
	o.logger.Info("booking blocked by conflicts", "activity_id", activity.ID, "conflicts", len(report.Conflicts),
		"alternatives", len(resp.Alternatives))
	return true
}

func (o *Orchestrator) resolveRepresentative(ctx context.Context, req Request) (*pharma.Representative, error) {
	if req.RepID != "" {
		rep, err := o.queries.GetRepresentative(ctx, req.RepID)
		if err == nil {
			return rep, nil
		}
		if !errors.Is(err, pharma.ErrRepresentativeNotFound) || req.RepEmail == "" {
			return nil, err
		}
	}
	rep, err := o.queries.GetRepresentativeByEmail(ctx, req.RepEmail)
	if err == nil {
		return rep, nil
	}
	if !errors.Is(err, pharma.ErrRepresentativeNotFound) {
		return nil, err
	}
	rep = &pharma.Representative{
		Email:       req.RepEmail,
		FirstName:   req.RepFirstName,
		LastName:    req.RepLastName,
		CompanyName: req.RepCompanyName,
		PhoneNumber: req.RepPhone,
		IsActive:    true,
	}
	if err := o.queries.CreateRepresentative(ctx, rep); err != nil {
		return nil, fmt.Errorf("booking: create representative: %w", err)
	}
	o.logger.Info("representative registered", "rep_id", rep.ID, "company", rep.CompanyName)
	return rep, nil
}

// loadAppointment loads the appointment with its activity and representative. It fills resp and
// reports failed when the appointment or activity cannot be loaded.
func (o *Orchestrator) loadAppointment(ctx context.Context, resp *Response, id string) (*pharma.Appointment, *pharma.Activity, *pharma.Representative, bool) {
	appt, err := o.queries.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, pharma.ErrAppointmentNotFound) {
			resp.fail(fmt.Sprintf("appointment %q was not found", id))
		} else {
			o.logger.Error("booking: load appointment failed", "appointment_id", id, "error", err)
			resp.fail(genericFailure)
		}
		return nil, nil, nil, true
	}
	activity, err := o.queries.GetActivity(ctx, appt.ActivityID)
	if err != nil {
		if errors.Is(err, pharma.ErrActivityNotFound) {
			resp.fail(fmt.Sprintf("activity %q was not found", appt.ActivityID))
		} else {
			o.logger.Error("booking: load activity failed", "activity_id", appt.ActivityID, "error", err)
			resp.fail(genericFailure)
		}
		return nil, nil, nil, true
	}
	rep, err := o.queries.GetRepresentative(ctx, appt.RepID)
	if err != nil {
		o.logger.Warn("booking: representative lookup failed", "appointment_id", id, "rep_id", appt.RepID, "error", err)
		rep = nil
	}
	return appt, activity, rep, false
}

func (o *Orchestrator) reload(ctx context.Context, fallback *pharma.Appointment) *pharma.Appointment {
	appt, err := o.queries.GetAppointment(ctx, fallback.ID)
	if err != nil {
		o.logger.Warn("booking: reload appointment failed", "appointment_id", fallback.ID, "error", err)
		return fallback
	}
	return appt
}

func (o *Orchestrator) scheduleReminders(ctx context.Context, activity *pharma.Activity, rep *pharma.Representative, appt *pharma.Appointment, replace bool) {
	if o.scheduler == nil || rep == nil || rep.Email == "" {
		return
	}
	start, _, err := appt.Window(o.loc)
	if err != nil {
		return
	}
	req := notify.ReminderRequest{
		AppointmentID: appt.ID,
		Start:         start,
		Recipients:    []string{rep.Email},
		CustomData:    o.customData(activity, rep, appt, nil),
	}
	if replace {
		_, err = o.scheduler.RescheduleAppointmentReminders(ctx, req)
	} else {
		_, err = o.scheduler.ScheduleAppointmentReminders(ctx, req)
	}
	if err != nil {
		o.logger.Warn("booking: schedule reminders failed", "appointment_id", appt.ID, "error", err)
	}
}

func (o *Orchestrator) send(ctx context.Context, n notify.Notification) {
	if _, err := o.notifier.Send(ctx, n); err != nil {
		o.logger.Warn("booking: notification failed", "type", n.Type, "appointment_id", n.AppointmentID, "error", err)
	}
}

func (o *Orchestrator) customData(activity *pharma.Activity, rep *pharma.Representative, appt *pharma.Appointment, extra map[string]string) map[string]string {
	data := map[string]string{
		notify.KeyActivityName: activity.Name,
		notify.KeyLocation:     activity.Location,
	}
	if appt != nil {
		data[notify.KeyDate] = pharma.DateKey(appt.AppointmentDate)
		data[notify.KeyStartTime] = appt.StartTime
		data[notify.KeyEndTime] = appt.EndTime
	}
	if rep != nil {
		data[notify.KeyRepName] = rep.FullName()
		data[notify.KeyCompany] = rep.CompanyName
	}
	for k, v := range extra {
		if v != "" {
			data[k] = v
		}
	}
	return data
}

func inactiveState(a *pharma.Appointment) string {
	if a.Status == pharma.AppointmentCancelled {
		return "cancelled"
	}
	return "denied"
}
