package availability

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/pharma-scheduling/internal/pharma"
)

// DetectConflicts marks a slot unavailable when any rule fails. Every failing rule contributes a
// reason so callers see the whole explanation.
func DetectConflicts(slot Slot, sc *SchedulingContext, repAppointments []pharma.Appointment, minLeadTimeHours int, now time.Time) Slot {
	var reasons []string

	for i := range sc.Appointments {
		a := &sc.Appointments[i]
		if overlapsSlot(a, slot) {
			reasons = append(reasons, fmt.Sprintf("overlaps existing appointment %s-%s", a.StartTime, a.EndTime))
		}
	}

	lead := slot.Start.Sub(now)
	if minLeadTimeHours > 0 && lead < time.Duration(minLeadTimeHours)*time.Hour {
		reasons = append(reasons, fmt.Sprintf("less than %d hours lead time", minLeadTimeHours))
	}
	if lead < time.Duration(sc.Activity.CancellationHours)*time.Hour {
		reasons = append(reasons, fmt.Sprintf("inside the %d hour cancellation window", sc.Activity.CancellationHours))
	}

	for i := range repAppointments {
		a := &repAppointments[i]
		if overlapsSlot(a, slot) {
			reasons = append(reasons, fmt.Sprintf("representative already booked %s-%s", a.StartTime, a.EndTime))
		}
	}

	for i := range sc.Rules {
		r := &sc.Rules[i]
		if r.BlocksDate(slot.Date) {
			reasons = append(reasons, "blackout date"+ruleSuffix(r))
		}
		if r.BlocksWeekend(slot.Date) {
			reasons = append(reasons, "weekend bookings are not approved"+ruleSuffix(r))
		}
	}

	if len(reasons) > 0 {
		slot.IsAvailable = false
		slot.ConflictReason = strings.Join(reasons, "; ")
	}
	return slot
}

func ruleSuffix(r *pharma.BusinessRule) string {
	if r.Description == "" {
		return ""
	}
	return " (" + r.Description + ")"
}

func overlapsSlot(a *pharma.Appointment, slot Slot) bool {
	if !a.Active() || !pharma.SameDay(a.AppointmentDate, slot.Date) {
		return false
	}
	// Civil times on the same day compare exactly in UTC.
	aStart, aEnd, err := a.Window(time.UTC)
	if err != nil {
		return false
	}
	candidate := pharma.Appointment{AppointmentDate: slot.Date, StartTime: slot.StartTime, EndTime: slot.EndTime}
	sStart, sEnd, err := candidate.Window(time.UTC)
	if err != nil {
		return false
	}
	return pharma.Overlaps(sStart, sEnd, aStart, aEnd)
}

// withinConfiguredHours reports whether [start,end) minutes fit inside one of the activity's ranges for day.
func withinConfiguredHours(activity *pharma.Activity, day time.Weekday, start, end int) bool {
	for _, r := range activity.AvailableTimes[day] {
		rs, re, err := r.Minutes()
		if err != nil {
			continue
		}
		if start >= rs && end <= re {
			return true
		}
	}
	return false
}

// sortByScore orders slots by score descending, then by start time ascending.
func sortByScore(slots []OptimizedSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Score != slots[j].Score {
			return slots[i].Score > slots[j].Score
		}
		return slots[i].Start.Before(slots[j].Start)
	})
}

// Recommendations turns report counts into scheduling advice.
func Recommendations(total, available, conflicted int, top []OptimizedSlot) []string {
	var out []string
	switch {
	case total == 0:
		out = append(out, "No slots are configured for this activity in the requested range; try different dates")
	case available == 0:
		out = append(out, "No available slots in the requested range; consider expanding the date range")
	case available < 5:
		out = append(out, fmt.Sprintf("Limited availability: only %d slots open, book soon", available))
	}
	if available > 0 && conflicted > available {
		out = append(out, "High demand period: most slots in this range are already taken")
	}
	if len(top) > 0 && top[0].Score >= 80 {
		best := top[0]
		out = append(out, fmt.Sprintf("Excellent slot available on %s at %s (score %d)",
			best.Date.Format("Mon Jan 2"), best.StartTime, best.Score))
	}
	return out
}
