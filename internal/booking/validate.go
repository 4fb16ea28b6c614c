package booking

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/wolfman30/pharma-scheduling/internal/pharma"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// window is a validated, resolved visit time.
type window struct {
	date      time.Time
	startTime string
	endTime   string
	start     time.Time
}

// validateRequest collects every problem with req instead of stopping at the first one.
// The window is only meaningful when no errors are returned. A nil activity skips the checks that
// depend on it.
func validateRequest(req Request, activity *pharma.Activity, policy Policy, now time.Time, loc *time.Location) (window, []string) {
	var (
		errs []string
		w    window
	)

	if strings.TrimSpace(req.ActivityID) == "" {
		errs = append(errs, "activity_id is required")
	}
	if strings.TrimSpace(req.RepID) == "" && strings.TrimSpace(req.RepEmail) == "" {
		errs = append(errs, "rep_id or rep_email is required")
	}
	if req.RepEmail != "" && !validEmail(req.RepEmail) {
		errs = append(errs, fmt.Sprintf("rep_email %q is not a valid email address", req.RepEmail))
	}
	if req.SubmittedBy != "" && !validEmail(req.SubmittedBy) {
		errs = append(errs, fmt.Sprintf("submitted_by %q is not a valid email address", req.SubmittedBy))
	}

	dateOK := false
	if strings.TrimSpace(req.AppointmentDate) == "" {
		errs = append(errs, "appointment_date is required")
	} else if d, err := pharma.ParseDate(req.AppointmentDate, loc); err != nil {
		errs = append(errs, fmt.Sprintf("appointment_date %q must be formatted YYYY-MM-DD", req.AppointmentDate))
	} else {
		w.date = d
		dateOK = true
		today := pharma.Day(now, loc)
		switch {
		case d.Before(today):
			errs = append(errs, "appointment_date is in the past")
		case d.Equal(today) && !policy.AllowSameDayBooking:
			errs = append(errs, "same-day bookings are not allowed")
		case policy.MaxAdvanceBookingDays > 0 && d.After(today.AddDate(0, 0, policy.MaxAdvanceBookingDays)):
			errs = append(errs, fmt.Sprintf("appointment_date is more than %d days ahead", policy.MaxAdvanceBookingDays))
		}
	}

	timeOK := false
	switch {
	case strings.TrimSpace(req.StartTime) == "":
		errs = append(errs, "start_time is required")
	case !clockPattern.MatchString(req.StartTime):
		errs = append(errs, fmt.Sprintf("start_time %q must be formatted HH:MM", req.StartTime))
	default:
		w.startTime = req.StartTime
		timeOK = true
	}
	if req.EndTime != "" && !clockPattern.MatchString(req.EndTime) {
		errs = append(errs, fmt.Sprintf("end_time %q must be formatted HH:MM", req.EndTime))
		timeOK = false
	}
	if timeOK {
		startMin, _ := pharma.ClockMinutes(w.startTime)
		switch {
		case req.EndTime == "" && activity == nil:
			timeOK = false
		case req.EndTime == "":
			endMin := startMin + activity.DurationMinutes
			if endMin > 24*60 {
				errs = append(errs, "the visit would run past midnight")
				timeOK = false
			} else {
				w.endTime = pharma.FormatClock(endMin)
			}
		default:
			endMin, _ := pharma.ClockMinutes(req.EndTime)
			if endMin <= startMin {
				errs = append(errs, "end_time must be after start_time")
				timeOK = false
			}
			w.endTime = req.EndTime
		}
	}

	switch {
	case req.ParticipantCount < 1:
		errs = append(errs, "participant_count must be at least 1")
	case activity != nil && activity.MaxParticipants > 0 && req.ParticipantCount > activity.MaxParticipants:
		errs = append(errs, fmt.Sprintf("participant_count %d exceeds the maximum of %d for %s",
			req.ParticipantCount, activity.MaxParticipants, activity.Name))
	}

	if dateOK && timeOK && activity != nil {
		w.start, _ = pharma.At(w.date, w.startTime, loc)
		lead := w.start.Sub(now)
		if lead < time.Duration(activity.CancellationHours)*time.Hour {
			errs = append(errs, fmt.Sprintf("%s must be booked at least %d hours in advance",
				activity.Name, activity.CancellationHours))
		}
	}
	return w, errs
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == strings.TrimSpace(s)
}
