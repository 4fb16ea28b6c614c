package availability

import (
	"time"
)

// Request describes an availability search.
type Request struct {
	ActivityID       string    `json:"activity_id"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
	PreferredTimes   []string  `json:"preferred_times,omitempty"`
	ExcludeWeekends  bool      `json:"exclude_weekends"`
	MinLeadTimeHours int       `json:"min_lead_time_hours"`
	RepID            string    `json:"rep_id,omitempty"`
	MaxResults       int       `json:"max_results,omitempty"`
}

// Slot is a candidate visit window of exactly one activity duration.
type Slot struct {
	Date           time.Time `json:"date"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time"`
	Start          time.Time `json:"start_at"`
	End            time.Time `json:"end_at"`
	IsAvailable    bool      `json:"is_available"`
	ConflictReason string    `json:"conflict_reason,omitempty"`
}

// ScoreFactors holds the five sub-scores behind a slot score.
type ScoreFactors struct {
	TimePreference       float64 `json:"time_preference"`
	LeadTime             float64 `json:"lead_time"`
	HistoricalPopularity float64 `json:"historical_popularity"`
	StaffAvailability    float64 `json:"staff_availability"`
	ConflictRisk         float64 `json:"conflict_risk"`
}

// OptimizedSlot is a slot with its desirability score in [0,100].
type OptimizedSlot struct {
	Slot
	Score   int          `json:"score"`
	Factors ScoreFactors `json:"factors"`
}

// Report is the result of CalculateAvailability.
type Report struct {
	ActivityID        string          `json:"activity_id"`
	TotalSlotsChecked int             `json:"total_slots_checked"`
	AvailableSlots    int             `json:"available_slots"`
	ConflictedSlots   int             `json:"conflicted_slots"`
	TopSlots          []OptimizedSlot `json:"top_slots"`
	Recommendations   []string        `json:"recommendations"`
	ComputationTime   time.Duration   `json:"computation_time_ns"`
	GeneratedAt       time.Time       `json:"generated_at"`

	// scored holds every scored slot for FindOptimalSlots and alternatives.
	scored []OptimizedSlot
}

// Severity ranks a real-time conflict.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ConflictType names the rule a real-time conflict came from.
type ConflictType string

const (
	ConflictRepDoubleBooking ConflictType = "rep_double_booking"
	ConflictActivityOverlap  ConflictType = "activity_overlap"
	ConflictOutsideHours     ConflictType = "outside_available_hours"
	ConflictBlackoutDate     ConflictType = "blackout_date"
	ConflictWeekend          ConflictType = "weekend_restriction"
	ConflictLeadTime         ConflictType = "insufficient_lead_time"
	ConflictDuration         ConflictType = "duration_mismatch"
	ConflictStaffUnavailable ConflictType = "staff_unavailable"
)

// Conflict is one human-readable reason a requested window cannot be booked.
type Conflict struct {
	Type     ConflictType `json:"type"`
	Reason   string       `json:"reason"`
	Severity Severity     `json:"severity"`
}

// RealTimeCheck is a single-window conflict query used during booking.
type RealTimeCheck struct {
	RepID                string    `json:"rep_id"`
	ActivityID           string    `json:"activity_id"`
	Date                 time.Time `json:"date"`
	StartTime            string    `json:"start_time"`
	EndTime              string    `json:"end_time"`
	ExcludeAppointmentID string    `json:"exclude_appointment_id,omitempty"`
}

// ConflictReport is the answer to a RealTimeCheck.
type ConflictReport struct {
	HasConflicts bool       `json:"has_conflicts"`
	Conflicts    []Conflict `json:"conflicts"`
}

// Reasons flattens the conflict reasons.
func (r *ConflictReport) Reasons() []string {
	out := make([]string, 0, len(r.Conflicts))
	for _, c := range r.Conflicts {
		out = append(out, c.Reason)
	}
	return out
}

// Blocking reports whether any conflict prevents the booking. Low severity conflicts are advisory.
func (r *ConflictReport) Blocking() bool {
	for _, c := range r.Conflicts {
		if c.Severity != SeverityLow {
			return true
		}
	}
	return false
}
