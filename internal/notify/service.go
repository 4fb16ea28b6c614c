package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/pharma-scheduling/internal/observability/metrics"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

// Keys understood in Notification.CustomData when composing messages.
const (
	KeyActivityName       = "activity_name"
	KeyLocation           = "location"
	KeyDate               = "date"
	KeyStartTime          = "start_time"
	KeyEndTime            = "end_time"
	KeyRepName            = "rep_name"
	KeyCompany            = "company"
	KeyStage              = "stage"
	KeyReason             = "reason"
	KeyComments           = "comments"
	KeyConfirmationNumber = "confirmation_number"
	KeyEscalatedFrom      = "escalated_from"
	KeyRequestedChanges   = "requested_changes"
	KeyHoursPending       = "hours_pending"
)

// EmailNotifier turns notifications into one email per recipient.
type EmailNotifier struct {
	sender  EmailSender
	metrics *metrics.SchedulingMetrics
	logger  *logging.Logger
}

func NewEmailNotifier(sender EmailSender, logger *logging.Logger) *EmailNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	if sender == nil {
		sender = NewStubEmailSender(logger)
	}
	return &EmailNotifier{sender: sender, logger: logger}
}

// WithMetrics records delivery outcomes per notification type.
func (n *EmailNotifier) WithMetrics(m *metrics.SchedulingMetrics) *EmailNotifier {
	n.metrics = m
	return n
}

// Send delivers to every recipient and keeps going past individual failures.
func (n *EmailNotifier) Send(ctx context.Context, note Notification) (Result, error) {
	recipients := dedupe(note.Recipients)
	if len(recipients) == 0 {
		return Result{}, ErrNoRecipients
	}

	subject, body := Compose(note)
	var (
		result Result
		errs   []error
	)
	for _, to := range recipients {
		err := n.sender.Send(ctx, EmailMessage{To: to, Subject: subject, Body: body})
		if err != nil {
			n.logger.Warn("notification delivery failed",
				"type", note.Type, "appointment_id", note.AppointmentID, "to", to, "error", err)
			result.Failed = append(result.Failed, to)
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
			n.metrics.ObserveNotification(string(note.Type), "failed")
			continue
		}
		result.Delivered = append(result.Delivered, to)
		n.metrics.ObserveNotification(string(note.Type), "delivered")
	}
	if len(errs) > 0 {
		return result, fmt.Errorf("notify: %s: %w", note.Type, errors.Join(errs...))
	}
	return result, nil
}

// Compose builds the subject and plain-text body for a notification.
func Compose(note Notification) (string, string) {
	d := note.CustomData
	what := d[KeyActivityName]
	if what == "" {
		what = "Representative visit"
	}
	when := strings.TrimSpace(fmt.Sprintf("%s %s", d[KeyDate], d[KeyStartTime]))
	if end := d[KeyEndTime]; end != "" {
		when += "-" + end
	}
	on := ""
	if when != "" {
		on = " on " + when
	}
	who := d[KeyRepName]
	if c := d[KeyCompany]; c != "" {
		if who == "" {
			who = c
		} else {
			who = fmt.Sprintf("%s (%s)", who, c)
		}
	}

	var subject string
	lines := []string{}
	switch note.Type {
	case TypeBookingReceived:
		subject = fmt.Sprintf("Booking request received: %s%s", what, on)
		lines = append(lines, "Your booking request was received and is awaiting approval.")
	case TypeBookingConfirmed:
		subject = fmt.Sprintf("Booking confirmed: %s%s", what, on)
		lines = append(lines, "Your visit is confirmed.")
	case TypeApprovalRequested:
		subject = fmt.Sprintf("Approval needed: %s%s", what, on)
		lines = append(lines, fmt.Sprintf("%s requested a visit. Please approve or deny it.", nonEmpty(who, "A representative")))
	case TypeApprovalReminder:
		subject = fmt.Sprintf("Reminder: approval pending for %s%s", what, on)
		lines = append(lines, "A visit is still waiting on your decision.")
		if h := d[KeyHoursPending]; h != "" {
			lines = append(lines, fmt.Sprintf("Pending for %s hours.", h))
		}
	case TypeApprovalEscalated:
		subject = fmt.Sprintf("Escalated approval: %s%s", what, on)
		lines = append(lines, "An approval was escalated and needs attention.")
		if from := d[KeyEscalatedFrom]; from != "" {
			lines = append(lines, "Previously assigned to "+from+".")
		}
	case TypeAppointmentApproved:
		subject = fmt.Sprintf("Approved: %s%s", what, on)
		lines = append(lines, "Your visit has been approved.")
	case TypeAppointmentDenied:
		subject = fmt.Sprintf("Not approved: %s%s", what, on)
		lines = append(lines, "Your visit was not approved.")
	case TypeChangesRequested:
		subject = fmt.Sprintf("Changes requested: %s%s", what, on)
		lines = append(lines, "The approver asked for changes before deciding.")
		if rc := d[KeyRequestedChanges]; rc != "" {
			lines = append(lines, "Requested changes: "+rc)
		}
	case TypeAppointmentModified:
		subject = fmt.Sprintf("Updated: %s%s", what, on)
		lines = append(lines, "Your visit details were updated.")
	case TypeAppointmentCancelled:
		subject = fmt.Sprintf("Cancelled: %s%s", what, on)
		lines = append(lines, "This visit has been cancelled.")
	case TypeAppointmentReminder:
		subject = fmt.Sprintf("Upcoming visit: %s%s", what, on)
		lines = append(lines, "This is a reminder about your upcoming visit.")
	default:
		subject = fmt.Sprintf("Scheduling update: %s", what)
	}

	if loc := d[KeyLocation]; loc != "" {
		lines = append(lines, "Location: "+loc)
	}
	if who != "" && note.Type != TypeApprovalRequested {
		lines = append(lines, "Representative: "+who)
	}
	if r := d[KeyReason]; r != "" {
		lines = append(lines, "Reason: "+r)
	}
	if c := d[KeyComments]; c != "" {
		lines = append(lines, "Comments: "+c)
	}
	if cn := d[KeyConfirmationNumber]; cn != "" {
		lines = append(lines, "Confirmation number: "+cn)
	}
	if note.AppointmentID != "" {
		lines = append(lines, "Appointment: "+note.AppointmentID)
	}
	return subject, strings.Join(lines, "\n")
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		key := strings.ToLower(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

var _ Notifier = (*EmailNotifier)(nil)
