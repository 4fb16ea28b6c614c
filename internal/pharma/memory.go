package pharma

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryQueries implements Queries with mutex-guarded maps. It backs development mode and tests.
type InMemoryQueries struct {
	mu           sync.RWMutex
	now          func() time.Time
	activities   map[string]*Activity
	reps         map[string]*Representative
	appointments map[string]*Appointment
	rules        map[string][]BusinessRule
	stages       map[string]*ApprovalStage
}

// NewInMemoryQueries creates an empty in-memory store.
func NewInMemoryQueries() *InMemoryQueries {
	return &InMemoryQueries{
		now:          func() time.Time { return time.Now().UTC() },
		activities:   make(map[string]*Activity),
		reps:         make(map[string]*Representative),
		appointments: make(map[string]*Appointment),
		rules:        make(map[string][]BusinessRule),
		stages:       make(map[string]*ApprovalStage),
	}
}

// WithClock overrides the clock used for created and updated stamps.
func (q *InMemoryQueries) WithClock(now func() time.Time) *InMemoryQueries {
	if now != nil {
		q.now = now
	}
	return q
}

// PutActivity registers or replaces an activity.
func (q *InMemoryQueries) PutActivity(a Activity) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := a
	q.activities[a.ID] = &cp
}

// PutBusinessRule registers a rule for its location.
func (q *InMemoryQueries) PutBusinessRule(r BusinessRule) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	q.rules[r.Location] = append(q.rules[r.Location], r)
}

// GetActivity returns an active activity.
func (q *InMemoryQueries) GetActivity(ctx context.Context, id string) (*Activity, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	a, ok := q.activities[id]
	if !ok || !a.IsActive {
		return nil, ErrActivityNotFound
	}
	cp := *a
	return &cp, nil
}

// GetRepresentative returns a representative by id.
func (q *InMemoryQueries) GetRepresentative(ctx context.Context, id string) (*Representative, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	rep, ok := q.reps[id]
	if !ok {
		return nil, ErrRepresentativeNotFound
	}
	cp := *rep
	return &cp, nil
}

// GetRepresentativeByEmail matches case-insensitively.
func (q *InMemoryQueries) GetRepresentativeByEmail(ctx context.Context, email string) (*Representative, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, rep := range q.reps {
		if strings.EqualFold(rep.Email, email) {
			cp := *rep
			return &cp, nil
		}
	}
	return nil, ErrRepresentativeNotFound
}

// CreateRepresentative stores a new representative, assigning an id when empty.
func (q *InMemoryQueries) CreateRepresentative(ctx context.Context, rep *Representative) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = q.now()
	}
	cp := *rep
	q.reps[rep.ID] = &cp
	return nil
}

// GetAppointment returns an appointment by id.
func (q *InMemoryQueries) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	appt, ok := q.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *appt
	return &cp, nil
}

// CreateAppointment stores a new appointment, assigning an id when empty.
func (q *InMemoryQueries) CreateAppointment(ctx context.Context, appt *Appointment) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if appt.ID == "" {
		appt.ID = uuid.New().String()
	}
	now := q.now()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	if appt.Status == "" {
		appt.Status = AppointmentPending
	}
	if appt.ApprovalStatus == "" {
		appt.ApprovalStatus = ApprovalPending
	}
	cp := *appt
	q.appointments[appt.ID] = &cp
	return nil
}

// UpdateAppointment applies the non-nil fields of update.
func (q *InMemoryQueries) UpdateAppointment(ctx context.Context, id string, update AppointmentUpdate) (*Appointment, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	appt, ok := q.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if update.AppointmentDate != nil {
		appt.AppointmentDate = *update.AppointmentDate
	}
	if update.StartTime != nil {
		appt.StartTime = *update.StartTime
	}
	if update.EndTime != nil {
		appt.EndTime = *update.EndTime
	}
	if update.ParticipantCount != nil {
		appt.ParticipantCount = *update.ParticipantCount
	}
	if update.SpecialRequests != nil {
		appt.SpecialRequests = *update.SpecialRequests
	}
	if update.Status != nil {
		appt.Status = *update.Status
	}
	if update.ApprovalStatus != nil {
		appt.ApprovalStatus = *update.ApprovalStatus
	}
	appt.UpdatedAt = q.now()
	cp := *appt
	return &cp, nil
}

// ListActivityAppointments returns appointments for the activity with dates in [from, to].
func (q *InMemoryQueries) ListActivityAppointments(ctx context.Context, activityID string, from, to time.Time) ([]Appointment, error) {
	return q.listAppointments(func(a *Appointment) bool { return a.ActivityID == activityID }, from, to), nil
}

// ListRepAppointments returns appointments for the representative with dates in [from, to].
func (q *InMemoryQueries) ListRepAppointments(ctx context.Context, repID string, from, to time.Time) ([]Appointment, error) {
	return q.listAppointments(func(a *Appointment) bool { return a.RepID == repID }, from, to), nil
}

func (q *InMemoryQueries) listAppointments(match func(*Appointment) bool, from, to time.Time) []Appointment {
	q.mu.RLock()
	defer q.mu.RUnlock()
	fromKey, toKey := DateKey(from), DateKey(to)
	var out []Appointment
	for _, a := range q.appointments {
		if !match(a) {
			continue
		}
		key := DateKey(a.AppointmentDate)
		if key < fromKey || key > toKey {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := DateKey(out[i].AppointmentDate), DateKey(out[j].AppointmentDate)
		if ki != kj {
			return ki < kj
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

// CheckAppointmentConflicts finds the representative's active appointments overlapping the window on date.
func (q *InMemoryQueries) CheckAppointmentConflicts(ctx context.Context, repID string, date time.Time, startTime, endTime, excludeID string) (*ConflictResult, error) {
	window := Appointment{AppointmentDate: date, StartTime: startTime, EndTime: endTime}
	start, end, err := window.Window(time.UTC)
	if err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	result := &ConflictResult{}
	for _, a := range q.appointments {
		if a.RepID != repID || a.ID == excludeID || !a.Active() || !SameDay(a.AppointmentDate, date) {
			continue
		}
		aStart, aEnd, err := a.Window(time.UTC)
		if err != nil {
			continue
		}
		if Overlaps(start, end, aStart, aEnd) {
			result.HasConflicts = true
			result.ConflictingAppointments = append(result.ConflictingAppointments, *a)
			result.ConflictReasons = append(result.ConflictReasons,
				fmt.Sprintf("representative already booked %s-%s on %s", a.StartTime, a.EndTime, DateKey(a.AppointmentDate)))
		}
	}
	return result, nil
}

// ApproveAppointment moves a pending approval to approved and confirms the appointment.
func (q *InMemoryQueries) ApproveAppointment(ctx context.Context, id string) error {
	return q.transition(id, func(a *Appointment) bool {
		if a.ApprovalStatus != ApprovalPending || a.Status == AppointmentCancelled {
			return false
		}
		a.ApprovalStatus = ApprovalApproved
		a.Status = AppointmentConfirmed
		return true
	})
}

// DenyAppointment moves a pending approval to denied.
func (q *InMemoryQueries) DenyAppointment(ctx context.Context, id, reason string) error {
	return q.transition(id, func(a *Appointment) bool {
		if a.ApprovalStatus != ApprovalPending || a.Status == AppointmentCancelled {
			return false
		}
		a.ApprovalStatus = ApprovalDenied
		a.CancellationReason = reason
		return true
	})
}

// CancelAppointment cancels any appointment not already cancelled.
func (q *InMemoryQueries) CancelAppointment(ctx context.Context, id, reason string) error {
	return q.transition(id, func(a *Appointment) bool {
		if a.Status == AppointmentCancelled {
			return false
		}
		a.Status = AppointmentCancelled
		a.CancellationReason = reason
		return true
	})
}

func (q *InMemoryQueries) transition(id string, apply func(*Appointment) bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	a, ok := q.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if !apply(a) {
		return ErrStateConflict
	}
	a.UpdatedAt = q.now()
	return nil
}

// ListBusinessRules returns the active rules for a location.
func (q *InMemoryQueries) ListBusinessRules(ctx context.Context, location string) ([]BusinessRule, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []BusinessRule
	for _, r := range q.rules[location] {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// CreateStages stores stages, assigning ids when empty.
func (q *InMemoryQueries) CreateStages(ctx context.Context, stages []ApprovalStage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for i := range stages {
		if stages[i].ID == "" {
			stages[i].ID = uuid.New().String()
		}
		if stages[i].CreatedAt.IsZero() {
			stages[i].CreatedAt = now
		}
		if stages[i].ApprovalStatus == "" {
			stages[i].ApprovalStatus = ApprovalPending
		}
		cp := stages[i]
		q.stages[cp.ID] = &cp
	}
	return nil
}

// GetStage returns a stage by id.
func (q *InMemoryQueries) GetStage(ctx context.Context, id string) (*ApprovalStage, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	s, ok := q.stages[id]
	if !ok {
		return nil, ErrStageNotFound
	}
	cp := *s
	return &cp, nil
}

// ListStages returns an appointment's stages ordered by workflow stage.
func (q *InMemoryQueries) ListStages(ctx context.Context, appointmentID string) ([]ApprovalStage, error) {
	return q.listStages(func(s *ApprovalStage) bool { return s.AppointmentID == appointmentID }), nil
}

// ListActivePendingStages returns activated, pending, non-escalated stages across all appointments.
func (q *InMemoryQueries) ListActivePendingStages(ctx context.Context) ([]ApprovalStage, error) {
	return q.listStages(func(s *ApprovalStage) bool {
		return s.ApprovalStatus == ApprovalPending && s.Active() && !s.Superseded()
	}), nil
}

func (q *InMemoryQueries) listStages(match func(*ApprovalStage) bool) []ApprovalStage {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []ApprovalStage
	for _, s := range q.stages {
		if match(s) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppointmentID != out[j].AppointmentID {
			return out[i].AppointmentID < out[j].AppointmentID
		}
		return out[i].WorkflowStage < out[j].WorkflowStage
	})
	return out
}

// DecideStage records a terminal decision on a pending, non-escalated stage.
func (q *InMemoryQueries) DecideStage(ctx context.Context, id string, status ApprovalStatus, decidedBy, comments string, at time.Time) error {
	return q.mutateStage(id, func(s *ApprovalStage) bool {
		if s.ApprovalStatus != ApprovalPending || s.Superseded() {
			return false
		}
		s.ApprovalStatus = status
		s.DecidedBy = decidedBy
		s.Comments = comments
		decided := at
		s.DecidedAt = &decided
		return true
	})
}

// SkipPendingStages marks every pending, non-escalated stage of the appointment except exceptID as
// skipped.
func (q *InMemoryQueries) SkipPendingStages(ctx context.Context, appointmentID, exceptID string, at time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	skipped := 0
	for _, s := range q.stages {
		if s.AppointmentID != appointmentID || s.ID == exceptID || s.ApprovalStatus != ApprovalPending || s.Superseded() {
			continue
		}
		s.ApprovalStatus = ApprovalSkipped
		decided := at
		s.DecidedAt = &decided
		skipped++
	}
	return skipped, nil
}

// ActivateStage stamps the activation time of a pending stage once.
func (q *InMemoryQueries) ActivateStage(ctx context.Context, id string, at time.Time) error {
	return q.mutateStage(id, func(s *ApprovalStage) bool {
		if s.ApprovalStatus != ApprovalPending || s.Active() {
			return false
		}
		activated := at
		s.ActivatedAt = &activated
		return true
	})
}

// MarkStageEscalated flags a pending stage as superseded by an escalation.
func (q *InMemoryQueries) MarkStageEscalated(ctx context.Context, id string, at time.Time) error {
	return q.mutateStage(id, func(s *ApprovalStage) bool {
		if s.ApprovalStatus != ApprovalPending || s.Superseded() {
			return false
		}
		escalated := at
		s.EscalatedAt = &escalated
		return true
	})
}

// RecordStageReminder increments the reminder counter of a pending stage.
func (q *InMemoryQueries) RecordStageReminder(ctx context.Context, id string, at time.Time) error {
	return q.mutateStage(id, func(s *ApprovalStage) bool {
		if s.ApprovalStatus != ApprovalPending {
			return false
		}
		s.ReminderCount++
		reminded := at
		s.LastReminderAt = &reminded
		return true
	})
}

func (q *InMemoryQueries) mutateStage(id string, apply func(*ApprovalStage) bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.stages[id]
	if !ok {
		return ErrStageNotFound
	}
	if !apply(s) {
		return ErrStateConflict
	}
	return nil
}

var _ Queries = (*InMemoryQueries)(nil)
