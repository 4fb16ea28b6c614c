package pharma

import (
	"fmt"
	"time"
)

const (
	clockLayout = "15:04"
	dateLayout  = "2006-01-02"
)

// TimeRange is a daily window expressed as "HH:MM" wall-clock strings.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Minutes returns the start and end offsets from midnight.
func (r TimeRange) Minutes() (int, int, error) {
	start, err := ClockMinutes(r.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := ClockMinutes(r.End)
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("pharma: time range %s-%s ends before it starts", r.Start, r.End)
	}
	return start, end, nil
}

// ClockMinutes parses "HH:MM" into minutes since midnight.
func ClockMinutes(clock string) (int, error) {
	t, err := time.Parse(clockLayout, clock)
	if err != nil {
		return 0, fmt.Errorf("pharma: invalid time %q: %w", clock, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// At combines the calendar day of date with a wall-clock "HH:MM" in loc.
func At(date time.Time, clock string, loc *time.Location) (time.Time, error) {
	minutes, err := ClockMinutes(clock)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, minutes/60, minutes%60, 0, 0, loc), nil
}

// Day truncates t to its calendar day in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// SameDay compares calendar days regardless of location.
func SameDay(a, b time.Time) bool {
	return DateKey(a) == DateKey(b)
}

// DateKey renders the calendar day as "YYYY-MM-DD".
func DateKey(t time.Time) string {
	return t.Format(dateLayout)
}

// ParseDate parses "YYYY-MM-DD" as a civil date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("pharma: invalid date %q: %w", s, err)
	}
	return t, nil
}

// IsWeekend reports Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Overlaps reports whether the half-open intervals [start1,end1) and [start2,end2) intersect.
func Overlaps(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}
