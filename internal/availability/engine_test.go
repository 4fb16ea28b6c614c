package availability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/pharma-scheduling/internal/analytics"
	"github.com/wolfman30/pharma-scheduling/internal/calendar"
	"github.com/wolfman30/pharma-scheduling/internal/pharma"
)

// Monday 2025-03-03 08:00 UTC.
var testNow = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

var nextMonday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func lunchActivity() pharma.Activity {
	return pharma.Activity{
		ID:              "lunch",
		Name:            "Lunch and learn",
		Location:        "main",
		DurationMinutes: 30,
		AvailableDays:   []time.Weekday{time.Monday},
		AvailableTimes: map[time.Weekday][]pharma.TimeRange{
			time.Monday: {{Start: "12:00", End: "13:00"}},
		},
		CancellationHours: 24,
		MaxParticipants:   10,
		IsActive:          true,
	}
}

func newTestEngine(q Store) *Engine {
	return NewEngine(q, nil).WithClock(func() time.Time { return testNow })
}

func seedAppointment(t *testing.T, q *pharma.InMemoryQueries, repID string, date time.Time, start, end string) *pharma.Appointment {
	t.Helper()
	appt := &pharma.Appointment{ActivityID: "lunch", RepID: repID, AppointmentDate: date, StartTime: start, EndTime: end}
	require.NoError(t, q.CreateAppointment(context.Background(), appt))
	return appt
}

func TestGenerateBaseSlots_MondayLunchYieldsTwoSlots(t *testing.T) {
	activity := lunchActivity()
	slots := GenerateBaseSlots(&activity, nextMonday, nextMonday, time.UTC, false)

	require.Len(t, slots, 2)
	assert.Equal(t, "12:00", slots[0].StartTime)
	assert.Equal(t, "12:30", slots[0].EndTime)
	assert.Equal(t, "12:30", slots[1].StartTime)
	assert.Equal(t, "13:00", slots[1].EndTime)
}

func TestGenerateBaseSlots_DurationAndSpacing(t *testing.T) {
	activity := lunchActivity()
	activity.DurationMinutes = 25
	activity.BlockOffMinutes = 10
	activity.AvailableDays = []time.Weekday{time.Monday, time.Saturday}
	activity.AvailableTimes[time.Monday] = []pharma.TimeRange{{Start: "08:00", End: "10:00"}, {Start: "14:00", End: "15:00"}}
	activity.AvailableTimes[time.Saturday] = []pharma.TimeRange{{Start: "09:00", End: "10:00"}}

	slots := GenerateBaseSlots(&activity, nextMonday, nextMonday.AddDate(0, 0, 6), time.UTC, false)
	require.NotEmpty(t, slots)
	for i, s := range slots {
		assert.Equal(t, 25*time.Minute, s.End.Sub(s.Start), "slot %d duration", i)
		if i > 0 && slots[i-1].Date.Equal(s.Date) && s.Start.Sub(slots[i-1].Start) < time.Hour {
			assert.Equal(t, 35*time.Minute, s.Start.Sub(slots[i-1].Start), "slot %d spacing", i)
		}
	}
	// 08:00-10:00 fits 08:00, 08:35, 09:10; 14:00-15:00 fits 14:00, 14:35; Saturday fits 09:00, 09:35.
	assert.Len(t, slots, 7)

	weekdaysOnly := GenerateBaseSlots(&activity, nextMonday, nextMonday.AddDate(0, 0, 6), time.UTC, true)
	assert.Len(t, weekdaysOnly, 5)
}

func TestCalculateAvailability_OverlapMarksSlotUnavailable(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	q.PutActivity(lunchActivity())
	seedAppointment(t, q, "rep-other", nextMonday, "12:15", "12:45")

	report, err := newTestEngine(q).CalculateAvailability(context.Background(), Request{
		ActivityID: "lunch", StartDate: nextMonday, EndDate: nextMonday,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalSlotsChecked)
	assert.Equal(t, 0, report.AvailableSlots, "12:15-12:45 overlaps both slots")
	assert.Equal(t, 2, report.ConflictedSlots)
	assert.Empty(t, report.TopSlots)
	assert.Contains(t, strings.Join(report.Recommendations, " "), "No available slots")
}

func TestCalculateAvailability_RepConflictIsSymmetric(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	activity := lunchActivity()
	q.PutActivity(activity)
	other := activity
	other.ID = "inservice"
	q.PutActivity(other)

	require.NoError(t, q.CreateAppointment(context.Background(), &pharma.Appointment{
		ActivityID: "inservice", RepID: "rep-1", AppointmentDate: nextMonday, StartTime: "12:20", EndTime: "12:40",
	}))

	report, err := newTestEngine(q).CalculateAvailability(context.Background(), Request{
		ActivityID: "lunch", StartDate: nextMonday, EndDate: nextMonday, RepID: "rep-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.AvailableSlots)

	report, err = newTestEngine(q).CalculateAvailability(context.Background(), Request{
		ActivityID: "lunch", StartDate: nextMonday, EndDate: nextMonday, RepID: "rep-2",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.AvailableSlots)
}

func TestDetectConflicts_CollectsAllReasons(t *testing.T) {
	activity := lunchActivity()
	sc := &SchedulingContext{
		Activity: activity,
		Appointments: []pharma.Appointment{
			{ID: "a", AppointmentDate: nextMonday, StartTime: "12:00", EndTime: "12:30"},
		},
		Rules: []pharma.BusinessRule{
			{Type: pharma.RuleBlackoutDates, BlackoutDates: []string{"2025-03-10"}, IsActive: true, Description: "staff retreat"},
		},
	}
	slot := GenerateBaseSlots(&activity, nextMonday, nextMonday, time.UTC, false)[0]

	// 6 hours before the slot: inside the cancellation window and below the requested lead time.
	now := slot.Start.Add(-6 * time.Hour)
	got := DetectConflicts(slot, sc, nil, 48, now)

	assert.False(t, got.IsAvailable)
	assert.Contains(t, got.ConflictReason, "overlaps existing appointment 12:00-12:30")
	assert.Contains(t, got.ConflictReason, "less than 48 hours lead time")
	assert.Contains(t, got.ConflictReason, "cancellation window")
	assert.Contains(t, got.ConflictReason, "blackout date (staff retreat)")
	assert.Equal(t, 4, strings.Count(got.ConflictReason, ";")+1)
}

func TestDetectConflicts_IgnoresCancelledAndDenied(t *testing.T) {
	activity := lunchActivity()
	sc := &SchedulingContext{
		Activity: activity,
		Appointments: []pharma.Appointment{
			{AppointmentDate: nextMonday, StartTime: "12:00", EndTime: "12:30", Status: pharma.AppointmentCancelled},
			{AppointmentDate: nextMonday, StartTime: "12:00", EndTime: "12:30", ApprovalStatus: pharma.ApprovalDenied},
		},
	}
	slot := GenerateBaseSlots(&activity, nextMonday, nextMonday, time.UTC, false)[0]
	got := DetectConflicts(slot, sc, nil, 0, testNow)
	assert.True(t, got.IsAvailable, got.ConflictReason)
}

func TestScoreSlot_UnavailableScoresZero(t *testing.T) {
	slot := Slot{StartTime: "12:00", EndTime: "12:30", IsAvailable: false, ConflictReason: "blackout date"}
	got := ScoreSlot(slot, &SchedulingContext{Activity: lunchActivity()}, []string{"12:00"}, testNow)
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, ScoreFactors{}, got.Factors)
}

func TestScoreSlot_UsesContextFactors(t *testing.T) {
	activity := lunchActivity()
	sc := &SchedulingContext{
		Activity:          activity,
		StaffAvailability: map[string]float64{"2025-03-10": 50},
		Popularity:        analytics.Patterns{analytics.NewKey("12:00", time.Monday, "main"): 90},
		Appointments: []pharma.Appointment{
			{AppointmentDate: nextMonday, StartTime: "11:00", EndTime: "11:30"},
		},
	}
	slot := GenerateBaseSlots(&activity, nextMonday, nextMonday, time.UTC, false)[0]

	got := ScoreSlot(slot, sc, []string{"12:00"}, testNow)
	assert.Equal(t, 100.0, got.Factors.TimePreference)
	assert.Equal(t, 100.0, got.Factors.LeadTime, "a week out")
	assert.Equal(t, 90.0, got.Factors.HistoricalPopularity)
	assert.Equal(t, 50.0, got.Factors.StaffAvailability)
	assert.Equal(t, 25.0, got.Factors.ConflictRisk)
	// 25 + 15 + 18 + 12.5 + 0.15*75 = 81.75
	assert.Equal(t, 82, got.Score)
}

func TestTimePreferenceScore(t *testing.T) {
	assert.Equal(t, 75.0, TimePreferenceScore("12:00", nil))
	assert.Equal(t, 100.0, TimePreferenceScore("12:00", []string{"12:00"}))
	assert.Equal(t, 90.0, TimePreferenceScore("12:30", []string{"08:00", "12:00"}))
	assert.Equal(t, 0.0, TimePreferenceScore("18:00", []string{"08:00"}))
	assert.Equal(t, 75.0, TimePreferenceScore("12:00", []string{"lunchtime"}))
}

func TestLeadTimeScore(t *testing.T) {
	assert.Equal(t, 20.0, LeadTimeScore(10*time.Hour))
	assert.Equal(t, 60.0, LeadTimeScore(24*time.Hour))
	assert.Equal(t, 85.0, LeadTimeScore(100*time.Hour))
	assert.Equal(t, 100.0, LeadTimeScore(168*time.Hour))
}

func TestCombineScore_ClampsConflictRisk(t *testing.T) {
	f := ScoreFactors{TimePreference: 100, LeadTime: 100, HistoricalPopularity: 100, StaffAvailability: 100, ConflictRisk: 175}
	assert.Equal(t, 85, CombineScore(f))

	f.ConflictRisk = 0
	assert.Equal(t, 100, CombineScore(f))
}

func TestConflictRiskScore_IsUnbounded(t *testing.T) {
	var appts []pharma.Appointment
	for _, start := range []string{"11:00", "11:30", "12:30", "13:00", "12:45"} {
		appts = append(appts, pharma.Appointment{AppointmentDate: nextMonday, StartTime: start, EndTime: start})
	}
	slot := Slot{Date: nextMonday, StartTime: "12:00"}
	assert.Equal(t, 125.0, ConflictRiskScore(slot, appts))
}

func TestFindOptimalSlots_SortedAndTruncated(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	activity := lunchActivity()
	activity.AvailableTimes[time.Monday] = []pharma.TimeRange{{Start: "09:00", End: "13:00"}}
	q.PutActivity(activity)

	slots, err := newTestEngine(q).FindOptimalSlots(context.Background(), Request{
		ActivityID: "lunch", StartDate: nextMonday, EndDate: nextMonday, PreferredTimes: []string{"11:00"},
	}, 3)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, "11:00", slots[0].StartTime)
	for i := 1; i < len(slots); i++ {
		assert.GreaterOrEqual(t, slots[i-1].Score, slots[i].Score)
	}
}

func TestSuggestAlternativeSlots_ExcludesNearbyTimes(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	activity := lunchActivity()
	activity.AvailableTimes[time.Monday] = []pharma.TimeRange{{Start: "09:00", End: "17:00"}}
	activity.DurationMinutes = 60
	q.PutActivity(activity)

	engine := newTestEngine(q)
	conflicted := Slot{Date: nextMonday, StartTime: "12:00", EndTime: "13:00", Start: nextMonday.Add(12 * time.Hour)}
	alts, err := engine.SuggestAlternativeSlots(context.Background(), conflicted, Request{
		ActivityID: "lunch", StartDate: nextMonday, EndDate: nextMonday, PreferredTimes: []string{"12:00"},
	}, 50)
	require.NoError(t, err)
	require.NotEmpty(t, alts)

	sawOtherWeek := false
	for _, s := range alts {
		if pharma.SameDay(s.Date, nextMonday) {
			gap := absDuration(s.Start.Sub(conflicted.Start))
			assert.Greater(t, gap, 2*time.Hour, "slot %s too close to conflicted time", s.StartTime)
		} else {
			sawOtherWeek = true
		}
		assert.False(t, s.Date.Before(pharma.Day(testNow, time.UTC)), "never earlier than today")
	}
	assert.True(t, sawOtherWeek, "window extends beyond the original date")
}

func TestCheckRealTimeConflicts_Severities(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	q.PutActivity(lunchActivity())
	q.PutBusinessRule(pharma.BusinessRule{Location: "main", Type: pharma.RuleBlackoutDates, BlackoutDates: []string{"2025-03-10"}, IsActive: true})
	seedAppointment(t, q, "rep-1", nextMonday, "12:00", "12:30")

	report, err := newTestEngine(q).CheckRealTimeConflicts(context.Background(), RealTimeCheck{
		RepID: "rep-1", ActivityID: "lunch", Date: nextMonday, StartTime: "12:00", EndTime: "12:30",
	})
	require.NoError(t, err)
	assert.True(t, report.HasConflicts)

	severities := map[ConflictType]Severity{}
	for _, c := range report.Conflicts {
		severities[c.Type] = c.Severity
	}
	assert.Equal(t, SeverityCritical, severities[ConflictRepDoubleBooking])
	assert.Equal(t, SeverityHigh, severities[ConflictActivityOverlap])
	assert.Equal(t, SeverityCritical, severities[ConflictBlackoutDate])
}

func TestCheckRealTimeConflicts_ExcludesOwnAppointment(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	q.PutActivity(lunchActivity())
	own := seedAppointment(t, q, "rep-1", nextMonday, "12:00", "12:30")

	report, err := newTestEngine(q).CheckRealTimeConflicts(context.Background(), RealTimeCheck{
		RepID: "rep-1", ActivityID: "lunch", Date: nextMonday, StartTime: "12:00", EndTime: "12:30",
		ExcludeAppointmentID: own.ID,
	})
	require.NoError(t, err)
	assert.False(t, report.HasConflicts, report.Reasons())
}

func TestCheckRealTimeConflicts_OutsideHoursAndDuration(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	q.PutActivity(lunchActivity())

	report, err := newTestEngine(q).CheckRealTimeConflicts(context.Background(), RealTimeCheck{
		RepID: "rep-1", ActivityID: "lunch", Date: nextMonday, StartTime: "13:00", EndTime: "13:15",
	})
	require.NoError(t, err)
	assert.True(t, report.HasConflicts)
	types := map[ConflictType]bool{}
	for _, c := range report.Conflicts {
		types[c.Type] = true
	}
	assert.True(t, types[ConflictOutsideHours])
	assert.True(t, types[ConflictDuration])
}

func TestCheckRealTimeConflicts_DurationMismatchAloneIsAdvisory(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	q.PutActivity(lunchActivity())

	report, err := newTestEngine(q).CheckRealTimeConflicts(context.Background(), RealTimeCheck{
		ActivityID: "lunch", Date: nextMonday, StartTime: "12:00", EndTime: "12:20",
	})
	require.NoError(t, err)
	assert.False(t, report.HasConflicts)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, SeverityLow, report.Conflicts[0].Severity)
}

func TestCalculateAvailability_ActivityNotFoundIsHardError(t *testing.T) {
	_, err := newTestEngine(pharma.NewInMemoryQueries()).CalculateAvailability(context.Background(), Request{
		ActivityID: "missing", StartDate: nextMonday, EndDate: nextMonday,
	})
	assert.ErrorIs(t, err, pharma.ErrActivityNotFound)

	_, err = newTestEngine(pharma.NewInMemoryQueries()).CheckRealTimeConflicts(context.Background(), RealTimeCheck{
		ActivityID: "missing", Date: nextMonday, StartTime: "12:00", EndTime: "12:30",
	})
	assert.ErrorIs(t, err, pharma.ErrActivityNotFound)
}

type failingRulesStore struct {
	*pharma.InMemoryQueries
}

func (f failingRulesStore) ListBusinessRules(ctx context.Context, location string) ([]pharma.BusinessRule, error) {
	return nil, errors.New("rules table offline")
}

type failingPopularity struct{}

func (failingPopularity) Popularity(ctx context.Context, location string) (analytics.Patterns, error) {
	return nil, errors.New("bucket unreachable")
}

func TestCalculateAvailability_AuxiliaryFailuresDegrade(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	q.PutActivity(lunchActivity())

	engine := newTestEngine(failingRulesStore{q}).WithPopularity(failingPopularity{})
	report, err := engine.CalculateAvailability(context.Background(), Request{
		ActivityID: "lunch", StartDate: nextMonday, EndDate: nextMonday,
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.AvailableSlots)
	assert.Equal(t, 50.0, report.TopSlots[0].Factors.HistoricalPopularity)
	assert.Equal(t, 75.0, report.TopSlots[0].Factors.StaffAvailability)
}

func TestCalculateAvailability_StaffAvailabilityFromCalendar(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	q.PutActivity(lunchActivity())

	cal := calendar.NewStaticCalendar()
	cal.AddBusy("nurse@clinic.test", nextMonday.Add(12*time.Hour), nextMonday.Add(13*time.Hour))

	engine := newTestEngine(q).
		WithCalendar(cal).
		WithStaffDirectory(StaticStaffDirectory{"main": {"nurse@clinic.test", "doc@clinic.test"}})
	report, err := engine.CalculateAvailability(context.Background(), Request{
		ActivityID: "lunch", StartDate: nextMonday, EndDate: nextMonday,
	})
	require.NoError(t, err)
	require.NotEmpty(t, report.TopSlots)
	assert.Equal(t, 50.0, report.TopSlots[0].Factors.StaffAvailability)
}

func TestCalculateAvailability_CachedContextInvalidatedAfterBooking(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	q.PutActivity(lunchActivity())
	engine := newTestEngine(q)
	req := Request{ActivityID: "lunch", StartDate: nextMonday, EndDate: nextMonday}

	report, err := engine.CalculateAvailability(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, report.AvailableSlots)

	seedAppointment(t, q, "rep-1", nextMonday, "12:00", "12:30")
	report, err = engine.CalculateAvailability(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, report.AvailableSlots, "served from cache")

	engine.InvalidateActivity(context.Background(), "lunch")
	report, err = engine.CalculateAvailability(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AvailableSlots)
}

func TestRecommendations(t *testing.T) {
	top := []OptimizedSlot{{Slot: Slot{Date: nextMonday, StartTime: "12:00"}, Score: 88}}
	recs := Recommendations(10, 3, 7, top)
	joined := strings.Join(recs, " | ")
	assert.Contains(t, joined, "Limited availability")
	assert.Contains(t, joined, "High demand")
	assert.Contains(t, joined, "Excellent slot available on Mon Mar 10 at 12:00")

	assert.Contains(t, Recommendations(0, 0, 0, nil)[0], "No slots are configured")
	assert.Empty(t, Recommendations(20, 15, 5, []OptimizedSlot{{Score: 60}}))
}

func TestParseStaffDirectory(t *testing.T) {
	dir := ParseStaffDirectory("main=a@x.test, b@x.test;annex=c@x.test;broken")
	assert.Equal(t, []string{"a@x.test", "b@x.test"}, dir.StaffEmails("main"))
	assert.Equal(t, []string{"c@x.test"}, dir.StaffEmails("annex"))
	assert.Empty(t, dir.StaffEmails("broken"))
}

func TestCalculateAvailability_PopularityFromBookingHistory(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	q.PutActivity(lunchActivity())
	seedAppointment(t, q, "rep-1", nextMonday.AddDate(0, 0, -7), "12:00", "12:30")
	seedAppointment(t, q, "rep-2", nextMonday.AddDate(0, 0, -14), "12:00", "12:30")
	seedAppointment(t, q, "rep-3", nextMonday.AddDate(0, 0, -14), "12:30", "13:00")

	report, err := newTestEngine(q).CalculateAvailability(context.Background(), Request{
		ActivityID: "lunch", StartDate: nextMonday, EndDate: nextMonday,
	})
	require.NoError(t, err)

	popularity := map[string]float64{}
	for _, s := range report.TopSlots {
		popularity[s.StartTime] = s.Factors.HistoricalPopularity
	}
	assert.Equal(t, map[string]float64{"12:00": 100, "12:30": 50}, popularity)
}

func TestCheckRealTimeConflicts_WarnsWhenAllStaffBusy(t *testing.T) {
	q := pharma.NewInMemoryQueries()
	q.PutActivity(lunchActivity())
	cal := calendar.NewStaticCalendar()
	cal.AddBusy("nurse@clinic.test", nextMonday.Add(11*time.Hour), nextMonday.Add(13*time.Hour))
	cal.AddBusy("doc@clinic.test", nextMonday.Add(12*time.Hour+30*time.Minute), nextMonday.Add(14*time.Hour))
	engine := newTestEngine(q).
		WithCalendar(cal).
		WithStaffDirectory(StaticStaffDirectory{"main": {"nurse@clinic.test", "doc@clinic.test"}})

	// The doctor is still free at noon.
	report, err := engine.CheckRealTimeConflicts(context.Background(), RealTimeCheck{
		RepID: "rep-1", ActivityID: "lunch", Date: nextMonday, StartTime: "12:00", EndTime: "12:30",
	})
	require.NoError(t, err)
	assert.Empty(t, report.Conflicts)

	report, err = engine.CheckRealTimeConflicts(context.Background(), RealTimeCheck{
		RepID: "rep-1", ActivityID: "lunch", Date: nextMonday, StartTime: "12:30", EndTime: "13:00",
	})
	require.NoError(t, err)
	assert.False(t, report.HasConflicts, "staff conflicts are advisory")
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, ConflictStaffUnavailable, report.Conflicts[0].Type)
	assert.Equal(t, SeverityLow, report.Conflicts[0].Severity)
	assert.Equal(t, "no main staff are free 12:30-13:00", report.Conflicts[0].Reason)
}
