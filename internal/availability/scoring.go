package availability

import (
	"math"
	"time"

	"github.com/wolfman30/pharma-scheduling/internal/pharma"
)

const (
	weightTimePreference       = 0.25
	weightLeadTime             = 0.15
	weightHistoricalPopularity = 0.20
	weightStaffAvailability    = 0.25
	weightConflictRisk         = 0.15

	defaultTimePreferenceScore = 75
	defaultPopularityScore     = 50
	defaultStaffScore          = 75

	riskPerNearbyAppointment = 25
	riskWindow               = 60 * time.Minute
)

// ScoreSlot computes the sub-scores and weighted total for a slot. Unavailable slots score zero.
func ScoreSlot(slot Slot, sc *SchedulingContext, preferredTimes []string, now time.Time) OptimizedSlot {
	if !slot.IsAvailable || sc == nil {
		return OptimizedSlot{Slot: slot}
	}

	factors := ScoreFactors{
		TimePreference:       TimePreferenceScore(slot.StartTime, preferredTimes),
		LeadTime:             LeadTimeScore(slot.Start.Sub(now)),
		HistoricalPopularity: defaultPopularityScore,
		StaffAvailability:    defaultStaffScore,
		ConflictRisk:         ConflictRiskScore(slot, sc.Appointments),
	}
	if v, ok := sc.Popularity.Score(slot.StartTime, slot.Date.Weekday(), sc.Activity.Location); ok {
		factors.HistoricalPopularity = float64(v)
	}
	if v, ok := sc.StaffAvailability[pharma.DateKey(slot.Date)]; ok {
		factors.StaffAvailability = v
	}

	return OptimizedSlot{Slot: slot, Score: CombineScore(factors), Factors: factors}
}

// CombineScore weights the sub-scores; conflict risk is clamped to [0,100] and inverted.
func CombineScore(f ScoreFactors) int {
	risk := math.Min(math.Max(f.ConflictRisk, 0), 100)
	total := weightTimePreference*f.TimePreference +
		weightLeadTime*f.LeadTime +
		weightHistoricalPopularity*f.HistoricalPopularity +
		weightStaffAvailability*f.StaffAvailability +
		weightConflictRisk*(100-risk)
	score := int(math.Round(total))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// TimePreferenceScore loses 20 points per hour from the nearest preferred time.
func TimePreferenceScore(startTime string, preferred []string) float64 {
	start, err := pharma.ClockMinutes(startTime)
	if err != nil {
		return defaultTimePreferenceScore
	}
	best := -1.0
	for _, p := range preferred {
		pm, err := pharma.ClockMinutes(p)
		if err != nil {
			continue
		}
		hours := math.Abs(float64(start-pm)) / 60
		score := math.Max(0, 100-20*hours)
		if score > best {
			best = score
		}
	}
	if best < 0 {
		return defaultTimePreferenceScore
	}
	return best
}

// LeadTimeScore favors slots booked further ahead.
func LeadTimeScore(lead time.Duration) float64 {
	hours := lead.Hours()
	switch {
	case hours < 24:
		return 20
	case hours < 72:
		return 60
	case hours < 168:
		return 85
	default:
		return 100
	}
}

// ConflictRiskScore adds 25 per active appointment starting within an hour of the slot. It is not capped.
func ConflictRiskScore(slot Slot, appointments []pharma.Appointment) float64 {
	slotStart, err := pharma.ClockMinutes(slot.StartTime)
	if err != nil {
		return 0
	}
	risk := 0.0
	for i := range appointments {
		a := &appointments[i]
		if !a.Active() || !pharma.SameDay(a.AppointmentDate, slot.Date) {
			continue
		}
		start, err := pharma.ClockMinutes(a.StartTime)
		if err != nil {
			continue
		}
		diff := time.Duration(absInt(start-slotStart)) * time.Minute
		if diff <= riskWindow {
			risk += riskPerNearbyAppointment
		}
	}
	return risk
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
