package availability

import (
	"time"

	"github.com/wolfman30/pharma-scheduling/internal/pharma"
)

// GenerateBaseSlots enumerates candidate slots for every offered day in [start, end].
// Within each configured range, slot starts are spaced by duration+blockOff and a slot is
// emitted only while it ends at or before the range end. Ranges that fail to parse are skipped.
func GenerateBaseSlots(activity *pharma.Activity, start, end time.Time, loc *time.Location, excludeWeekends bool) []Slot {
	if activity == nil || activity.DurationMinutes <= 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	step := int(activity.Step() / time.Minute)
	var slots []Slot
	for day := pharma.Day(start, loc); !day.After(pharma.Day(end, loc)); day = day.AddDate(0, 0, 1) {
		weekday := day.Weekday()
		if !activity.AvailableOn(weekday) {
			continue
		}
		if excludeWeekends && pharma.IsWeekend(day) {
			continue
		}
		for _, r := range activity.AvailableTimes[weekday] {
			rangeStart, rangeEnd, err := r.Minutes()
			if err != nil {
				continue
			}
			for m := rangeStart; m+activity.DurationMinutes <= rangeEnd; m += step {
				slots = append(slots, newSlot(day, m, m+activity.DurationMinutes, loc))
			}
		}
	}
	return slots
}

func newSlot(day time.Time, startMin, endMin int, loc *time.Location) Slot {
	y, mo, d := day.Date()
	return Slot{
		Date:        time.Date(y, mo, d, 0, 0, 0, 0, loc),
		StartTime:   pharma.FormatClock(startMin),
		EndTime:     pharma.FormatClock(endMin),
		Start:       time.Date(y, mo, d, startMin/60, startMin%60, 0, 0, loc),
		End:         time.Date(y, mo, d, endMin/60, endMin%60, 0, 0, loc),
		IsAvailable: true,
	}
}
