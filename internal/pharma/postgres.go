package pharma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresQueries implements Queries on PostgreSQL.
type PostgresQueries struct {
	db  DB
	now func() time.Time
}

// NewPostgresQueries creates a Postgres-backed store.
func NewPostgresQueries(db DB) *PostgresQueries {
	return &PostgresQueries{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the clock used for created_at and updated_at stamps.
func (p *PostgresQueries) WithClock(now func() time.Time) *PostgresQueries {
	if now != nil {
		p.now = now
	}
	return p
}

const activityColumns = `id, name, location, duration_minutes, block_off_minutes, max_participants, available_days, available_times, requires_approval, cancellation_hours, is_active`

// GetActivity returns an active activity.
func (p *PostgresQueries) GetActivity(ctx context.Context, id string) (*Activity, error) {
	row := p.db.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = $1 AND is_active = true`, id)

	var a Activity
	var days []int32
	var times []byte
	err := row.Scan(&a.ID, &a.Name, &a.Location, &a.DurationMinutes, &a.BlockOffMinutes, &a.MaxParticipants,
		&days, &times, &a.RequiresApproval, &a.CancellationHours, &a.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pharma: get activity: %w", err)
	}
	for _, d := range days {
		a.AvailableDays = append(a.AvailableDays, time.Weekday(d))
	}
	a.AvailableTimes, err = decodeAvailableTimes(times)
	if err != nil {
		return nil, fmt.Errorf("pharma: get activity: %w", err)
	}
	return &a, nil
}

// decodeAvailableTimes reads {"monday":[{"start":"12:00","end":"13:00"}]} into weekday ranges.
func decodeAvailableTimes(raw []byte) (map[time.Weekday][]TimeRange, error) {
	out := make(map[time.Weekday][]TimeRange)
	if len(raw) == 0 {
		return out, nil
	}
	var byName map[string][]TimeRange
	if err := json.Unmarshal(raw, &byName); err != nil {
		return nil, fmt.Errorf("decode available times: %w", err)
	}
	for name, ranges := range byName {
		day, ok := ParseWeekday(name)
		if !ok {
			return nil, fmt.Errorf("decode available times: unknown weekday %q", name)
		}
		out[day] = ranges
	}
	return out, nil
}

// ParseWeekday accepts full lowercase or capitalized English weekday names.
func ParseWeekday(name string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(name)) {
			return d, true
		}
	}
	return time.Sunday, false
}

const repColumns = `id, email, first_name, last_name, company_name, phone_number, is_active, created_at`

// GetRepresentative returns a representative by id.
func (p *PostgresQueries) GetRepresentative(ctx context.Context, id string) (*Representative, error) {
	return p.scanRep(p.db.QueryRow(ctx, `SELECT `+repColumns+` FROM representatives WHERE id = $1`, id))
}

// GetRepresentativeByEmail matches case-insensitively.
func (p *PostgresQueries) GetRepresentativeByEmail(ctx context.Context, email string) (*Representative, error) {
	return p.scanRep(p.db.QueryRow(ctx, `SELECT `+repColumns+` FROM representatives WHERE lower(email) = lower($1)`, email))
}

func (p *PostgresQueries) scanRep(row pgx.Row) (*Representative, error) {
	var r Representative
	err := row.Scan(&r.ID, &r.Email, &r.FirstName, &r.LastName, &r.CompanyName, &r.PhoneNumber, &r.IsActive, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRepresentativeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pharma: scan representative: %w", err)
	}
	return &r, nil
}

// CreateRepresentative inserts a representative, assigning an id when empty.
func (p *PostgresQueries) CreateRepresentative(ctx context.Context, rep *Representative) error {
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = p.now()
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO representatives (id, email, first_name, last_name, company_name, phone_number, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rep.ID, rep.Email, rep.FirstName, rep.LastName, rep.CompanyName, rep.PhoneNumber, rep.IsActive, rep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pharma: create representative: %w", err)
	}
	return nil
}

const appointmentColumns = `id, activity_id, rep_id, appointment_date, start_time, end_time, status, approval_status, participant_count, special_requests, booking_source, cancellation_reason, created_at, updated_at`

// GetAppointment returns an appointment by id.
func (p *PostgresQueries) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	rows, err := p.db.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("pharma: get appointment: %w", err)
	}
	defer rows.Close()
	appts, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	if len(appts) == 0 {
		return nil, ErrAppointmentNotFound
	}
	return &appts[0], nil
}

// CreateAppointment inserts an appointment, assigning an id when empty.
func (p *PostgresQueries) CreateAppointment(ctx context.Context, appt *Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.New().String()
	}
	now := p.now()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	if appt.Status == "" {
		appt.Status = AppointmentPending
	}
	if appt.ApprovalStatus == "" {
		appt.ApprovalStatus = ApprovalPending
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		appt.ID, appt.ActivityID, appt.RepID, appt.AppointmentDate, appt.StartTime, appt.EndTime,
		string(appt.Status), string(appt.ApprovalStatus), appt.ParticipantCount, appt.SpecialRequests,
		appt.BookingSource, appt.CancellationReason, appt.CreatedAt, appt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pharma: create appointment: %w", err)
	}
	return nil
}

// UpdateAppointment applies the non-nil fields of update and returns the stored row.
func (p *PostgresQueries) UpdateAppointment(ctx context.Context, id string, update AppointmentUpdate) (*Appointment, error) {
	sets := []string{}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.AppointmentDate != nil {
		add("appointment_date", *update.AppointmentDate)
	}
	if update.StartTime != nil {
		add("start_time", *update.StartTime)
	}
	if update.EndTime != nil {
		add("end_time", *update.EndTime)
	}
	if update.ParticipantCount != nil {
		add("participant_count", *update.ParticipantCount)
	}
	if update.SpecialRequests != nil {
		add("special_requests", *update.SpecialRequests)
	}
	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.ApprovalStatus != nil {
		add("approval_status", string(*update.ApprovalStatus))
	}
	add("updated_at", p.now())
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE appointments SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pharma: update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAppointmentNotFound
	}
	return p.GetAppointment(ctx, id)
}

// ListActivityAppointments returns appointments for the activity with dates in [from, to].
func (p *PostgresQueries) ListActivityAppointments(ctx context.Context, activityID string, from, to time.Time) ([]Appointment, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE activity_id = $1 AND appointment_date BETWEEN $2 AND $3
		ORDER BY appointment_date, start_time`, activityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("pharma: list activity appointments: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ListRepAppointments returns appointments for the representative with dates in [from, to].
func (p *PostgresQueries) ListRepAppointments(ctx context.Context, repID string, from, to time.Time) ([]Appointment, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE rep_id = $1 AND appointment_date BETWEEN $2 AND $3
		ORDER BY appointment_date, start_time`, repID, from, to)
	if err != nil {
		return nil, fmt.Errorf("pharma: list rep appointments: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// CheckAppointmentConflicts finds the representative's active appointments overlapping the window on date.
// Times are zero-padded "HH:MM" so lexical comparison orders them correctly.
func (p *PostgresQueries) CheckAppointmentConflicts(ctx context.Context, repID string, date time.Time, startTime, endTime, excludeID string) (*ConflictResult, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE rep_id = $1 AND appointment_date = $2
		  AND start_time < $4 AND $3 < end_time
		  AND status <> 'cancelled' AND approval_status <> 'denied'
		  AND id <> $5`, repID, date, startTime, endTime, excludeID)
	if err != nil {
		return nil, fmt.Errorf("pharma: check appointment conflicts: %w", err)
	}
	defer rows.Close()
	appts, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	result := &ConflictResult{HasConflicts: len(appts) > 0, ConflictingAppointments: appts}
	for _, a := range appts {
		result.ConflictReasons = append(result.ConflictReasons,
			fmt.Sprintf("representative already booked %s-%s on %s", a.StartTime, a.EndTime, DateKey(a.AppointmentDate)))
	}
	return result, nil
}

// ApproveAppointment moves a pending approval to approved and confirms the appointment.
func (p *PostgresQueries) ApproveAppointment(ctx context.Context, id string) error {
	return p.casAppointment(ctx, "approve", `
		UPDATE appointments SET approval_status = 'approved', status = 'confirmed', updated_at = $1
		WHERE id = $2 AND approval_status = 'pending' AND status <> 'cancelled'`, p.now(), id)
}

// DenyAppointment moves a pending approval to denied.
func (p *PostgresQueries) DenyAppointment(ctx context.Context, id, reason string) error {
	return p.casAppointment(ctx, "deny", `
		UPDATE appointments SET approval_status = 'denied', cancellation_reason = $1, updated_at = $2
		WHERE id = $3 AND approval_status = 'pending' AND status <> 'cancelled'`, reason, p.now(), id)
}

// CancelAppointment cancels any appointment not already cancelled.
func (p *PostgresQueries) CancelAppointment(ctx context.Context, id, reason string) error {
	return p.casAppointment(ctx, "cancel", `
		UPDATE appointments SET status = 'cancelled', cancellation_reason = $1, updated_at = $2
		WHERE id = $3 AND status <> 'cancelled'`, reason, p.now(), id)
}

func (p *PostgresQueries) casAppointment(ctx context.Context, op, query string, args ...any) error {
	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("pharma: %s appointment: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pharma: %s appointment: %w", op, ErrStateConflict)
	}
	return nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		var a Appointment
		var status, approval string
		err := rows.Scan(
			&a.ID, &a.ActivityID, &a.RepID, &a.AppointmentDate, &a.StartTime, &a.EndTime,
			&status, &approval, &a.ParticipantCount, &a.SpecialRequests, &a.BookingSource,
			&a.CancellationReason, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("pharma: scan appointment: %w", err)
		}
		a.Status = AppointmentStatus(status)
		a.ApprovalStatus = ApprovalStatus(approval)
		result = append(result, a)
	}
	return result, rows.Err()
}

// ListBusinessRules returns the active rules for a location.
func (p *PostgresQueries) ListBusinessRules(ctx context.Context, location string) ([]BusinessRule, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, location, rule_type, blackout_dates, weekend_approved, description, is_active
		FROM business_rules
		WHERE location = $1 AND is_active = true`, location)
	if err != nil {
		return nil, fmt.Errorf("pharma: list business rules: %w", err)
	}
	defer rows.Close()

	var rules []BusinessRule
	for rows.Next() {
		var r BusinessRule
		var ruleType string
		if err := rows.Scan(&r.ID, &r.Location, &ruleType, &r.BlackoutDates, &r.WeekendApproved, &r.Description, &r.IsActive); err != nil {
			return nil, fmt.Errorf("pharma: scan business rule: %w", err)
		}
		r.Type = RuleType(ruleType)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

const stageColumns = `id, appointment_id, workflow_stage, approver_email, required_approval, approval_status, escalation_hours, reminder_count, last_reminder_at, activated_at, escalated_at, escalated_from_stage_id, decided_at, decided_by, comments, created_at`

// CreateStages inserts stages, assigning ids when empty.
func (p *PostgresQueries) CreateStages(ctx context.Context, stages []ApprovalStage) error {
	now := p.now()
	for i := range stages {
		s := &stages[i]
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.ApprovalStatus == "" {
			s.ApprovalStatus = ApprovalPending
		}
		var escalatedFrom *string
		if s.EscalatedFromStageID != "" {
			escalatedFrom = &s.EscalatedFromStageID
		}
		_, err := p.db.Exec(ctx, `
			INSERT INTO approval_stages (id, appointment_id, workflow_stage, approver_email, required_approval, approval_status, escalation_hours, activated_at, escalated_from_stage_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			s.ID, s.AppointmentID, s.WorkflowStage, s.ApproverEmail, s.RequiredApproval,
			string(s.ApprovalStatus), s.EscalationHours, s.ActivatedAt, escalatedFrom, s.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("pharma: create stage %d: %w", s.WorkflowStage, err)
		}
	}
	return nil
}

// GetStage returns a stage by id.
func (p *PostgresQueries) GetStage(ctx context.Context, id string) (*ApprovalStage, error) {
	rows, err := p.db.Query(ctx, `SELECT `+stageColumns+` FROM approval_stages WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("pharma: get stage: %w", err)
	}
	defer rows.Close()
	stages, err := scanStages(rows)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, ErrStageNotFound
	}
	return &stages[0], nil
}

// ListStages returns an appointment's stages ordered by workflow stage.
func (p *PostgresQueries) ListStages(ctx context.Context, appointmentID string) ([]ApprovalStage, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+stageColumns+`
		FROM approval_stages
		WHERE appointment_id = $1
		ORDER BY workflow_stage ASC`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("pharma: list stages: %w", err)
	}
	defer rows.Close()
	return scanStages(rows)
}

// ListActivePendingStages returns activated, pending, non-escalated stages across all appointments.
func (p *PostgresQueries) ListActivePendingStages(ctx context.Context) ([]ApprovalStage, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+stageColumns+`
		FROM approval_stages
		WHERE approval_status = 'pending' AND activated_at IS NOT NULL AND escalated_at IS NULL
		ORDER BY appointment_id, workflow_stage ASC`)
	if err != nil {
		return nil, fmt.Errorf("pharma: list active pending stages: %w", err)
	}
	defer rows.Close()
	return scanStages(rows)
}

// DecideStage records a terminal decision on a pending, non-escalated stage.
func (p *PostgresQueries) DecideStage(ctx context.Context, id string, status ApprovalStatus, decidedBy, comments string, at time.Time) error {
	return p.casStage(ctx, "decide", `
		UPDATE approval_stages SET approval_status = $1, decided_by = $2, comments = $3, decided_at = $4
		WHERE id = $5 AND approval_status = 'pending' AND escalated_at IS NULL`,
		string(status), decidedBy, comments, at, id)
}

// SkipPendingStages marks every pending, non-escalated stage of the appointment except exceptID as
// skipped.
func (p *PostgresQueries) SkipPendingStages(ctx context.Context, appointmentID, exceptID string, at time.Time) (int, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE approval_stages SET approval_status = 'skipped', decided_at = $1
		WHERE appointment_id = $2 AND id <> $3 AND approval_status = 'pending' AND escalated_at IS NULL`,
		at, appointmentID, exceptID)
	if err != nil {
		return 0, fmt.Errorf("pharma: skip pending stages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ActivateStage stamps the activation time of a pending stage once.
func (p *PostgresQueries) ActivateStage(ctx context.Context, id string, at time.Time) error {
	return p.casStage(ctx, "activate", `
		UPDATE approval_stages SET activated_at = $1
		WHERE id = $2 AND approval_status = 'pending' AND activated_at IS NULL`, at, id)
}

// MarkStageEscalated flags a pending stage as superseded by an escalation.
func (p *PostgresQueries) MarkStageEscalated(ctx context.Context, id string, at time.Time) error {
	return p.casStage(ctx, "escalate", `
		UPDATE approval_stages SET escalated_at = $1
		WHERE id = $2 AND approval_status = 'pending' AND escalated_at IS NULL`, at, id)
}

// RecordStageReminder increments the reminder counter of a pending stage.
func (p *PostgresQueries) RecordStageReminder(ctx context.Context, id string, at time.Time) error {
	return p.casStage(ctx, "record reminder", `
		UPDATE approval_stages SET reminder_count = reminder_count + 1, last_reminder_at = $1
		WHERE id = $2 AND approval_status = 'pending'`, at, id)
}

func (p *PostgresQueries) casStage(ctx context.Context, op, query string, args ...any) error {
	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("pharma: %s stage: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pharma: %s stage: %w", op, ErrStateConflict)
	}
	return nil
}

func scanStages(rows pgx.Rows) ([]ApprovalStage, error) {
	var result []ApprovalStage
	for rows.Next() {
		var s ApprovalStage
		var status string
		var escalatedFrom, decidedBy, comments *string
		err := rows.Scan(
			&s.ID, &s.AppointmentID, &s.WorkflowStage, &s.ApproverEmail, &s.RequiredApproval, &status,
			&s.EscalationHours, &s.ReminderCount, &s.LastReminderAt, &s.ActivatedAt, &s.EscalatedAt,
			&escalatedFrom, &s.DecidedAt, &decidedBy, &comments, &s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("pharma: scan stage: %w", err)
		}
		s.ApprovalStatus = ApprovalStatus(status)
		if escalatedFrom != nil {
			s.EscalatedFromStageID = *escalatedFrom
		}
		if decidedBy != nil {
			s.DecidedBy = *decidedBy
		}
		if comments != nil {
			s.Comments = *comments
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

var _ Queries = (*PostgresQueries)(nil)
