// Package analytics provides historical booking popularity for slot scoring.
package analytics

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/wolfman30/pharma-scheduling/internal/pharma"
)

// Key identifies a historical popularity bucket.
type Key struct {
	TimeSlot  string `json:"time_slot"`
	DayOfWeek string `json:"day_of_week"`
	Location  string `json:"location"`
}

// NewKey normalizes the weekday and location.
func NewKey(timeSlot string, day time.Weekday, location string) Key {
	return Key{
		TimeSlot:  timeSlot,
		DayOfWeek: strings.ToLower(day.String()),
		Location:  strings.ToLower(strings.TrimSpace(location)),
	}
}

// MarshalText lets Patterns be encoded as a JSON object.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.Location + "|" + k.DayOfWeek + "|" + k.TimeSlot), nil
}

// UnmarshalText parses the form written by MarshalText.
func (k *Key) UnmarshalText(b []byte) error {
	parts := strings.SplitN(string(b), "|", 3)
	if len(parts) != 3 {
		return fmt.Errorf("analytics: invalid pattern key %q", string(b))
	}
	k.Location, k.DayOfWeek, k.TimeSlot = parts[0], parts[1], parts[2]
	return nil
}

// Entry is the exported form of one popularity bucket.
type Entry struct {
	TimeSlot   string `json:"time_slot"`
	DayOfWeek  string `json:"day_of_week"`
	Location   string `json:"location"`
	Popularity int    `json:"popularity"`
}

// Export is the JSON document stored for a location.
type Export struct {
	GeneratedAt time.Time `json:"generated_at"`
	Entries     []Entry   `json:"entries"`
}

// Patterns maps buckets to a 0–100 popularity score.
type Patterns map[Key]int

// Score looks up a bucket.
func (p Patterns) Score(timeSlot string, day time.Weekday, location string) (int, bool) {
	if p == nil {
		return 0, false
	}
	v, ok := p[NewKey(timeSlot, day, location)]
	return v, ok
}

// FromExport converts an export document into Patterns.
func FromExport(e Export) Patterns {
	out := make(Patterns, len(e.Entries))
	for _, entry := range e.Entries {
		out[NewKey(entry.TimeSlot, weekdayOrSunday(entry.DayOfWeek), entry.Location)] = clamp(entry.Popularity)
	}
	return out
}

// ToExport flattens Patterns for storage.
func (p Patterns) ToExport(at time.Time) Export {
	e := Export{GeneratedAt: at}
	for k, v := range p {
		e.Entries = append(e.Entries, Entry{TimeSlot: k.TimeSlot, DayOfWeek: k.DayOfWeek, Location: k.Location, Popularity: v})
	}
	return e
}

// Provider supplies popularity for a location.
type Provider interface {
	Popularity(ctx context.Context, location string) (Patterns, error)
}

// StaticPatterns serves a fixed set of patterns.
type StaticPatterns struct {
	Patterns Patterns
}

// Popularity returns the fixed patterns regardless of location.
func (s StaticPatterns) Popularity(ctx context.Context, location string) (Patterns, error) {
	return s.Patterns, nil
}

// ComputePatterns derives popularity from past appointments: the busiest bucket scores 100.
// Cancelled and denied appointments are ignored.
func ComputePatterns(location string, appointments []pharma.Appointment) Patterns {
	counts := make(map[Key]int)
	maxCount := 0
	for i := range appointments {
		a := &appointments[i]
		if !a.Active() {
			continue
		}
		k := NewKey(a.StartTime, a.AppointmentDate.Weekday(), location)
		counts[k]++
		if counts[k] > maxCount {
			maxCount = counts[k]
		}
	}
	out := make(Patterns, len(counts))
	for k, c := range counts {
		out[k] = int(math.Round(float64(c) / float64(maxCount) * 100))
	}
	return out
}

func weekdayOrSunday(name string) time.Weekday {
	d, _ := pharma.ParseWeekday(name)
	return d
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
