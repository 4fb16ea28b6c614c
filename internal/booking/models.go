// Package booking orchestrates creating, modifying and cancelling pharma representative visits.
package booking

import (
	"github.com/wolfman30/pharma-scheduling/internal/approval"
	"github.com/wolfman30/pharma-scheduling/internal/availability"
	"github.com/wolfman30/pharma-scheduling/internal/notify"
	"github.com/wolfman30/pharma-scheduling/internal/pharma"
)

// Operation names an orchestrator entry point.
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpCancel Operation = "cancel"
)

// Request is a new visit request from a representative.
type Request struct {
	ActivityID string `json:"activity_id"`

	// The representative is looked up by id, then by email, and created when neither matches.
	RepID          string `json:"rep_id,omitempty"`
	RepEmail       string `json:"rep_email,omitempty"`
	RepFirstName   string `json:"rep_first_name,omitempty"`
	RepLastName    string `json:"rep_last_name,omitempty"`
	RepCompanyName string `json:"rep_company_name,omitempty"`
	RepPhone       string `json:"rep_phone,omitempty"`

	AppointmentDate  string `json:"appointment_date"` // YYYY-MM-DD
	StartTime        string `json:"start_time"`       // HH:MM
	EndTime          string `json:"end_time,omitempty"`
	ParticipantCount int    `json:"participant_count"`
	SpecialRequests  string `json:"special_requests,omitempty"`
	BookingSource    string `json:"booking_source,omitempty"`

	// SubmittedBy defaults to the representative email.
	SubmittedBy    string          `json:"submitted_by,omitempty"`
	Priority       notify.Priority `json:"priority,omitempty"`
	PreferredTimes []string        `json:"preferred_times,omitempty"`
}

// Modification changes an existing appointment. Nil fields keep their current value.
type Modification struct {
	AppointmentID      string  `json:"appointment_id"`
	AppointmentDate    *string `json:"appointment_date,omitempty"`
	StartTime          *string `json:"start_time,omitempty"`
	EndTime            *string `json:"end_time,omitempty"`
	ParticipantCount   *int    `json:"participant_count,omitempty"`
	SpecialRequests    *string `json:"special_requests,omitempty"`
	RequiresReapproval bool    `json:"requires_reapproval"`
	ModifiedBy         string  `json:"modified_by,omitempty"`
	Reason             string  `json:"reason,omitempty"`
}

// CancellationPolicy is the notice required before a visit may be cancelled.
type CancellationPolicy struct {
	MinimumHours int `json:"minimum_hours"`
}

// Cancellation cancels an existing appointment.
type Cancellation struct {
	AppointmentID      string              `json:"appointment_id"`
	CancelledBy        string              `json:"cancelled_by,omitempty"`
	Reason             string              `json:"reason,omitempty"`
	NotifyParticipants bool                `json:"notify_participants"`
	Policy             *CancellationPolicy `json:"policy,omitempty"`
}

// Response is returned by every orchestrator operation. Failures are reported in Errors rather
// than as Go errors.
type Response struct {
	Success            bool                         `json:"success"`
	AppointmentID      string                       `json:"appointment_id,omitempty"`
	ConfirmationNumber string                       `json:"confirmation_number,omitempty"`
	Appointment        *pharma.Appointment          `json:"appointment,omitempty"`
	RequiresApproval   bool                         `json:"requires_approval"`
	Workflow           *approval.WorkflowStatus     `json:"workflow,omitempty"`
	Conflicts          []availability.Conflict      `json:"conflicts,omitempty"`
	Alternatives       []availability.OptimizedSlot `json:"alternatives,omitempty"`
	Errors             []string                     `json:"errors"`
	Warnings           []string                     `json:"warnings"`
	NextSteps          []string                     `json:"next_steps"`
}

func newResponse() *Response {
	return &Response{Errors: []string{}, Warnings: []string{}, NextSteps: []string{}}
}

func (r *Response) fail(msgs ...string) *Response {
	r.Success = false
	r.Errors = append(r.Errors, msgs...)
	return r
}

func (r *Response) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Policy holds the practice-wide booking rules.
type Policy struct {
	MaxAdvanceBookingDays    int
	AllowSameDayBooking      bool
	CancellationMinimumHours int
	AlternativeCount         int
}

// DefaultPolicy allows booking 90 days ahead, rejects same-day requests and requires 24 hours
// notice to cancel.
func DefaultPolicy() Policy {
	return Policy{
		MaxAdvanceBookingDays:    90,
		AllowSameDayBooking:      false,
		CancellationMinimumHours: 24,
		AlternativeCount:         5,
	}
}
