package pharma

import (
	"context"
	"time"
)

// ActivityStore reads bookable activities.
type ActivityStore interface {
	GetActivity(ctx context.Context, id string) (*Activity, error)
}

// RepresentativeStore resolves and registers representatives.
type RepresentativeStore interface {
	GetRepresentative(ctx context.Context, id string) (*Representative, error)
	GetRepresentativeByEmail(ctx context.Context, email string) (*Representative, error)
	CreateRepresentative(ctx context.Context, rep *Representative) error
}

// AppointmentStore persists appointments. Approve, Deny and Cancel are compare-and-set transitions
// and return ErrStateConflict when the appointment is no longer in a state that allows them.
type AppointmentStore interface {
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	CreateAppointment(ctx context.Context, appt *Appointment) error
	UpdateAppointment(ctx context.Context, id string, update AppointmentUpdate) (*Appointment, error)
	ListActivityAppointments(ctx context.Context, activityID string, from, to time.Time) ([]Appointment, error)
	ListRepAppointments(ctx context.Context, repID string, from, to time.Time) ([]Appointment, error)
	CheckAppointmentConflicts(ctx context.Context, repID string, date time.Time, startTime, endTime, excludeID string) (*ConflictResult, error)
	ApproveAppointment(ctx context.Context, id string) error
	DenyAppointment(ctx context.Context, id, reason string) error
	CancelAppointment(ctx context.Context, id, reason string) error
}

// RuleStore reads location-level scheduling restrictions.
type RuleStore interface {
	ListBusinessRules(ctx context.Context, location string) ([]BusinessRule, error)
}

// StageStore persists approval stages. DecideStage and MarkStageEscalated only succeed on a
// pending stage that has not been escalated; otherwise they return ErrStateConflict.
type StageStore interface {
	CreateStages(ctx context.Context, stages []ApprovalStage) error
	GetStage(ctx context.Context, id string) (*ApprovalStage, error)
	ListStages(ctx context.Context, appointmentID string) ([]ApprovalStage, error)
	ListActivePendingStages(ctx context.Context) ([]ApprovalStage, error)
	DecideStage(ctx context.Context, id string, status ApprovalStatus, decidedBy, comments string, at time.Time) error
	SkipPendingStages(ctx context.Context, appointmentID, exceptID string, at time.Time) (int, error)
	ActivateStage(ctx context.Context, id string, at time.Time) error
	MarkStageEscalated(ctx context.Context, id string, at time.Time) error
	RecordStageReminder(ctx context.Context, id string, at time.Time) error
}

// Queries is the full persistence contract used by the scheduling engines.
type Queries interface {
	ActivityStore
	RepresentativeStore
	AppointmentStore
	RuleStore
	StageStore
}
