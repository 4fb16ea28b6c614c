package notify

import (
	"context"
	"errors"
	"sync"
)

// Type names a notification the scheduling engines emit.
type Type string

const (
	TypeBookingReceived      Type = "booking_received"
	TypeBookingConfirmed     Type = "booking_confirmed"
	TypeApprovalRequested    Type = "approval_requested"
	TypeApprovalReminder     Type = "approval_reminder"
	TypeApprovalEscalated    Type = "approval_escalated"
	TypeAppointmentApproved  Type = "appointment_approved"
	TypeAppointmentDenied    Type = "appointment_denied"
	TypeChangesRequested     Type = "changes_requested"
	TypeAppointmentModified  Type = "appointment_modified"
	TypeAppointmentCancelled Type = "appointment_cancelled"
	TypeAppointmentReminder  Type = "appointment_reminder"
)

// Priority hints how urgently a notification should be delivered.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification is a single message addressed to one or more recipients.
type Notification struct {
	Type          Type              `json:"type"`
	Recipients    []string          `json:"recipients"`
	AppointmentID string            `json:"appointment_id"`
	Priority      Priority          `json:"priority,omitempty"`
	CustomData    map[string]string `json:"custom_data,omitempty"`
}

// Result reports delivery per recipient.
type Result struct {
	Delivered []string `json:"delivered,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

// Notifier delivers notifications. Callers treat failures as non-fatal.
type Notifier interface {
	Send(ctx context.Context, n Notification) (Result, error)
}

// ErrNoRecipients is returned when a notification has nobody to deliver to.
var ErrNoRecipients = errors.New("notify: no recipients")

// RecordingNotifier keeps every notification in memory.
type RecordingNotifier struct {
	mu    sync.Mutex
	sent  []Notification
	Err   error
	FailN map[Type]error
}

// NewRecordingNotifier returns an empty recorder.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (r *RecordingNotifier) Send(ctx context.Context, n Notification) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	if err := r.FailN[n.Type]; err != nil {
		return Result{Failed: n.Recipients}, err
	}
	if r.Err != nil {
		return Result{Failed: n.Recipients}, r.Err
	}
	return Result{Delivered: n.Recipients}, nil
}

// Sent returns a copy of everything recorded so far.
func (r *RecordingNotifier) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// OfType filters recorded notifications.
func (r *RecordingNotifier) OfType(t Type) []Notification {
	var out []Notification
	for _, n := range r.Sent() {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// Reset drops everything recorded so far.
func (r *RecordingNotifier) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}

var _ Notifier = (*RecordingNotifier)(nil)
