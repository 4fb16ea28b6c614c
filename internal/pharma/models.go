package pharma

import (
	"time"
)

// AppointmentStatus tracks the booking lifecycle of a visit.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// ApprovalStatus tracks the approval outcome of a visit and of each approval stage.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalSkipped  ApprovalStatus = "skipped"
)

// Terminal reports whether a stage in this status can no longer be decided.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalDenied || s == ApprovalSkipped
}

// Activity is a bookable offering at a practice location (lunch-and-learn, in-service, detailing).
type Activity struct {
	ID                string                       `json:"id"`
	Name              string                       `json:"name"`
	Location          string                       `json:"location"`
	DurationMinutes   int                          `json:"duration_minutes"`
	BlockOffMinutes   int                          `json:"block_off_minutes"`
	MaxParticipants   int                          `json:"max_participants"`
	AvailableDays     []time.Weekday               `json:"available_days"`
	AvailableTimes    map[time.Weekday][]TimeRange `json:"available_times"`
	RequiresApproval  bool                         `json:"requires_approval"`
	CancellationHours int                          `json:"cancellation_hours"`
	IsActive          bool                         `json:"is_active"`
}

// AvailableOn reports whether the activity is offered on the given weekday.
func (a *Activity) AvailableOn(day time.Weekday) bool {
	for _, d := range a.AvailableDays {
		if d == day {
			return true
		}
	}
	return false
}

// Duration is the visit length.
func (a *Activity) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// Step is the spacing between consecutive slot starts.
func (a *Activity) Step() time.Duration {
	return time.Duration(a.DurationMinutes+a.BlockOffMinutes) * time.Minute
}

// Representative is the pharmaceutical sales representative requesting a visit.
type Representative struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	CompanyName string    `json:"company_name"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// FullName joins first and last name.
func (r *Representative) FullName() string {
	if r.LastName == "" {
		return r.FirstName
	}
	if r.FirstName == "" {
		return r.LastName
	}
	return r.FirstName + " " + r.LastName
}

// Appointment is a booked visit.
type Appointment struct {
	ID                 string            `json:"id"`
	ActivityID         string            `json:"activity_id"`
	RepID              string            `json:"rep_id"`
	AppointmentDate    time.Time         `json:"appointment_date"`
	StartTime          string            `json:"start_time"`
	EndTime            string            `json:"end_time"`
	Status             AppointmentStatus `json:"status"`
	ApprovalStatus     ApprovalStatus    `json:"approval_status"`
	ParticipantCount   int               `json:"participant_count"`
	SpecialRequests    string            `json:"special_requests,omitempty"`
	BookingSource      string            `json:"booking_source,omitempty"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Active reports whether the appointment still occupies its time (not cancelled, not denied).
func (a *Appointment) Active() bool {
	return a.Status != AppointmentCancelled && a.ApprovalStatus != ApprovalDenied
}

// Window returns the absolute start and end of the appointment in loc.
func (a *Appointment) Window(loc *time.Location) (time.Time, time.Time, error) {
	start, err := At(a.AppointmentDate, a.StartTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := At(a.AppointmentDate, a.EndTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// AppointmentUpdate carries the mutable fields of an appointment. Nil fields are left untouched.
type AppointmentUpdate struct {
	AppointmentDate  *time.Time
	StartTime        *string
	EndTime          *string
	ParticipantCount *int
	SpecialRequests  *string
	Status           *AppointmentStatus
	ApprovalStatus   *ApprovalStatus
}

// ApprovalStage is one approver's step in an appointment's approval workflow.
type ApprovalStage struct {
	ID                   string         `json:"id"`
	AppointmentID        string         `json:"appointment_id"`
	WorkflowStage        int            `json:"workflow_stage"`
	ApproverEmail        string         `json:"approver_email"`
	RequiredApproval     bool           `json:"required_approval"`
	ApprovalStatus       ApprovalStatus `json:"approval_status"`
	EscalationHours      int            `json:"escalation_hours"`
	ReminderCount        int            `json:"reminder_count"`
	LastReminderAt       *time.Time     `json:"last_reminder_at,omitempty"`
	ActivatedAt          *time.Time     `json:"activated_at,omitempty"`
	EscalatedAt          *time.Time     `json:"escalated_at,omitempty"`
	EscalatedFromStageID string         `json:"escalated_from_stage_id,omitempty"`
	DecidedAt            *time.Time     `json:"decided_at,omitempty"`
	DecidedBy            string         `json:"decided_by,omitempty"`
	Comments             string         `json:"comments,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// Superseded reports whether the stage has been escalated to another approver.
func (s *ApprovalStage) Superseded() bool {
	return s.EscalatedAt != nil
}

// Active reports whether the approver has been asked to decide.
func (s *ApprovalStage) Active() bool {
	return s.ActivatedAt != nil
}

// RuleType names a kind of scheduling restriction.
type RuleType string

const (
	RuleBlackoutDates      RuleType = "blackout_dates"
	RuleWeekendRestriction RuleType = "weekend_restriction"
)

// BusinessRule is a location-level scheduling restriction.
type BusinessRule struct {
	ID              string   `json:"id"`
	Location        string   `json:"location"`
	Type            RuleType `json:"rule_type"`
	BlackoutDates   []string `json:"blackout_dates,omitempty"`
	WeekendApproved bool     `json:"weekend_approved"`
	Description     string   `json:"description,omitempty"`
	IsActive        bool     `json:"is_active"`
}

// BlocksDate reports whether a blackout rule covers date.
func (r *BusinessRule) BlocksDate(date time.Time) bool {
	if !r.IsActive || r.Type != RuleBlackoutDates {
		return false
	}
	key := DateKey(date)
	for _, d := range r.BlackoutDates {
		if d == key {
			return true
		}
	}
	return false
}

// BlocksWeekend reports whether an unapproved weekend restriction covers date.
func (r *BusinessRule) BlocksWeekend(date time.Time) bool {
	if !r.IsActive || r.Type != RuleWeekendRestriction || r.WeekendApproved {
		return false
	}
	return IsWeekend(date)
}

// ConflictResult is the persistence layer's answer to a rep double-booking check.
type ConflictResult struct {
	HasConflicts            bool          `json:"has_conflicts"`
	ConflictingAppointments []Appointment `json:"conflicting_appointments,omitempty"`
	ConflictReasons         []string      `json:"conflict_reasons,omitempty"`
}
