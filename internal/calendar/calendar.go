// Package calendar answers staff free/busy questions for the availability engine.
package calendar

import (
	"context"
	"strings"
	"sync"
	"time"
)

// BusyTime is an interval during which a staff member is unavailable.
type BusyTime struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Checker is the staff calendar collaborator.
type Checker interface {
	// CheckAvailability reports, per email, whether the staff member is free for the whole window.
	CheckAvailability(ctx context.Context, emails []string, from, to time.Time) (map[string]bool, error)
	// GetBusyTimes lists busy intervals for one staff member inside the window.
	GetBusyTimes(ctx context.Context, email string, from, to time.Time) ([]BusyTime, error)
}

// FreeDuring reports whether none of the busy intervals intersect [from, to).
func FreeDuring(busy []BusyTime, from, to time.Time) bool {
	for _, b := range busy {
		if b.Start.Before(to) && from.Before(b.End) {
			return false
		}
	}
	return true
}

// StaticCalendar serves busy times from memory. It is used when no calendar credentials are configured.
type StaticCalendar struct {
	mu   sync.RWMutex
	busy map[string][]BusyTime
}

// NewStaticCalendar creates an empty static calendar where everyone is free.
func NewStaticCalendar() *StaticCalendar {
	return &StaticCalendar{busy: make(map[string][]BusyTime)}
}

// AddBusy records a busy interval for email.
func (c *StaticCalendar) AddBusy(email string, start, end time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := strings.ToLower(email)
	c.busy[key] = append(c.busy[key], BusyTime{Start: start, End: end})
}

// GetBusyTimes returns the recorded intervals intersecting the window.
func (c *StaticCalendar) GetBusyTimes(ctx context.Context, email string, from, to time.Time) ([]BusyTime, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []BusyTime
	for _, b := range c.busy[strings.ToLower(email)] {
		if b.Start.Before(to) && from.Before(b.End) {
			out = append(out, b)
		}
	}
	return out, nil
}

// CheckAvailability reports which staff members have no busy interval in the window.
func (c *StaticCalendar) CheckAvailability(ctx context.Context, emails []string, from, to time.Time) (map[string]bool, error) {
	out := make(map[string]bool, len(emails))
	for _, email := range emails {
		busy, _ := c.GetBusyTimes(ctx, email, from, to)
		out[email] = len(busy) == 0
	}
	return out, nil
}

var _ Checker = (*StaticCalendar)(nil)
