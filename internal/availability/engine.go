// Package availability generates, filters and scores visit slots for pharma activities.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/pharma-scheduling/internal/analytics"
	"github.com/wolfman30/pharma-scheduling/internal/calendar"
	"github.com/wolfman30/pharma-scheduling/internal/observability/metrics"
	"github.com/wolfman30/pharma-scheduling/internal/pharma"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

var availabilityTracer = otel.Tracer("pharma/availability")

// ErrInvalidWindow is returned when a requested window cannot be parsed or is empty.
var ErrInvalidWindow = errors.New("availability: invalid time window")

const (
	defaultMaxResults        = 10
	alternativeDaysBefore    = 7
	alternativeDaysAfter     = 14
	alternativeExclusionSpan = 120 * time.Minute
	popularityHistoryDays    = 90
)

// Store is the persistence surface the engine reads.
type Store interface {
	pharma.ActivityStore
	pharma.RuleStore
	ListActivityAppointments(ctx context.Context, activityID string, from, to time.Time) ([]pharma.Appointment, error)
	ListRepAppointments(ctx context.Context, repID string, from, to time.Time) ([]pharma.Appointment, error)
	CheckAppointmentConflicts(ctx context.Context, repID string, date time.Time, startTime, endTime, excludeID string) (*pharma.ConflictResult, error)
}

// Engine computes availability reports and real-time conflict checks.
type Engine struct {
	store      Store
	calendar   calendar.Checker
	popularity analytics.Provider
	staff      StaffDirectory
	cache      ContextCache
	cacheTTL   time.Duration
	metrics    *metrics.SchedulingMetrics
	loc        *time.Location
	now        func() time.Time
	logger     *logging.Logger
}

// NewEngine creates an engine with an in-process cache and no calendar or popularity sources.
func NewEngine(store Store, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:    store,
		staff:    StaticStaffDirectory{},
		cache:    NewMemoryCache(),
		cacheTTL: 5 * time.Minute,
		loc:      time.UTC,
		now:      time.Now,
		logger:   logger,
	}
}

func (e *Engine) WithCalendar(c calendar.Checker) *Engine {
	e.calendar = c
	return e
}

func (e *Engine) WithPopularity(p analytics.Provider) *Engine {
	e.popularity = p
	return e
}

func (e *Engine) WithStaffDirectory(d StaffDirectory) *Engine {
	if d != nil {
		e.staff = d
	}
	return e
}

func (e *Engine) WithCache(c ContextCache, ttl time.Duration) *Engine {
	if c != nil {
		e.cache = c
	}
	if ttl > 0 {
		e.cacheTTL = ttl
	}
	return e
}

func (e *Engine) WithMetrics(m *metrics.SchedulingMetrics) *Engine {
	e.metrics = m
	return e
}

// WithLocation sets the practice time zone used to interpret dates and wall-clock times.
func (e *Engine) WithLocation(loc *time.Location) *Engine {
	if loc != nil {
		e.loc = loc
	}
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// Location returns the practice time zone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// CalculateAvailability generates, filters, scores and ranks slots for the request.
func (e *Engine) CalculateAvailability(ctx context.Context, req Request) (*Report, error) {
	ctx, span := availabilityTracer.Start(ctx, "availability.calculate")
	defer span.End()
	span.SetAttributes(
		attribute.String("pharma.activity_id", req.ActivityID),
		attribute.String("pharma.start_date", pharma.DateKey(req.StartDate)),
		attribute.String("pharma.end_date", pharma.DateKey(req.EndDate)),
	)

	started := time.Now()
	now := e.now()

	sc, hit, err := e.loadContext(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var repAppointments []pharma.Appointment
	if req.RepID != "" {
		repAppointments, err = e.store.ListRepAppointments(ctx, req.RepID, pharma.Day(req.StartDate, e.loc), pharma.Day(req.EndDate, e.loc))
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("availability: list rep appointments: %w", err)
		}
	}

	base := GenerateBaseSlots(&sc.Activity, req.StartDate, req.EndDate, e.loc, req.ExcludeWeekends)
	report := &Report{
		ActivityID:        req.ActivityID,
		TotalSlotsChecked: len(base),
		GeneratedAt:       now,
	}
	for _, slot := range base {
		slot = DetectConflicts(slot, sc, repAppointments, req.MinLeadTimeHours, now)
		if !slot.IsAvailable {
			report.ConflictedSlots++
			continue
		}
		report.AvailableSlots++
		report.scored = append(report.scored, ScoreSlot(slot, sc, req.PreferredTimes, now))
	}
	sortByScore(report.scored)

	limit := req.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}
	report.TopSlots = truncate(report.scored, limit)
	report.Recommendations = Recommendations(report.TotalSlotsChecked, report.AvailableSlots, report.ConflictedSlots, report.TopSlots)
	report.ComputationTime = time.Since(started)

	cacheLabel := "miss"
	if hit {
		cacheLabel = "hit"
	}
	e.metrics.ObserveAvailability(cacheLabel, report.ComputationTime.Seconds())
	span.SetAttributes(
		attribute.Int("pharma.slots_checked", report.TotalSlotsChecked),
		attribute.Int("pharma.slots_available", report.AvailableSlots),
	)
	return report, nil
}

// FindOptimalSlots returns at most maxSlots available slots, best first.
func (e *Engine) FindOptimalSlots(ctx context.Context, req Request, maxSlots int) ([]OptimizedSlot, error) {
	report, err := e.CalculateAvailability(ctx, req)
	if err != nil {
		return nil, err
	}
	if maxSlots <= 0 {
		maxSlots = defaultMaxResults
	}
	return truncate(report.scored, maxSlots), nil
}

// SuggestAlternativeSlots searches a window widened by a week before (never earlier than today) and
// two weeks after, skipping slots on the conflicted date within two hours of the conflicted start.
func (e *Engine) SuggestAlternativeSlots(ctx context.Context, conflicted Slot, req Request, count int) ([]OptimizedSlot, error) {
	ctx, span := availabilityTracer.Start(ctx, "availability.suggest_alternatives")
	defer span.End()

	today := pharma.Day(e.now(), e.loc)
	widened := req
	widened.StartDate = req.StartDate.AddDate(0, 0, -alternativeDaysBefore)
	if widened.StartDate.Before(today) {
		widened.StartDate = today
	}
	widened.EndDate = req.EndDate.AddDate(0, 0, alternativeDaysAfter)

	report, err := e.CalculateAvailability(ctx, widened)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if count <= 0 {
		count = 5
	}
	out := make([]OptimizedSlot, 0, count)
	for _, s := range report.scored {
		if pharma.SameDay(s.Date, conflicted.Date) && absDuration(s.Start.Sub(conflicted.Start)) <= alternativeExclusionSpan {
			continue
		}
		out = append(out, s)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

// CheckRealTimeConflicts validates a single window for immediate booking decisions.
func (e *Engine) CheckRealTimeConflicts(ctx context.Context, chk RealTimeCheck) (*ConflictReport, error) {
	ctx, span := availabilityTracer.Start(ctx, "availability.check_real_time")
	defer span.End()
	span.SetAttributes(
		attribute.String("pharma.activity_id", chk.ActivityID),
		attribute.String("pharma.rep_id", chk.RepID),
	)

	activity, err := e.store.GetActivity(ctx, chk.ActivityID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("availability: real-time check: %w", err)
	}

	startMin, err1 := pharma.ClockMinutes(chk.StartTime)
	endMin, err2 := pharma.ClockMinutes(chk.EndTime)
	if err1 != nil || err2 != nil || endMin <= startMin {
		return nil, fmt.Errorf("%w: %s-%s", ErrInvalidWindow, chk.StartTime, chk.EndTime)
	}
	start, _ := pharma.At(chk.Date, chk.StartTime, e.loc)
	day := pharma.Day(start, e.loc)

	report := &ConflictReport{}
	add := func(t ConflictType, sev Severity, reason string) {
		report.Conflicts = append(report.Conflicts, Conflict{Type: t, Reason: reason, Severity: sev})
		e.metrics.ObserveConflict(string(sev))
	}

	if chk.RepID != "" {
		res, err := e.store.CheckAppointmentConflicts(ctx, chk.RepID, day, chk.StartTime, chk.EndTime, chk.ExcludeAppointmentID)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("availability: real-time check: %w", err)
		}
		for _, reason := range res.ConflictReasons {
			add(ConflictRepDoubleBooking, SeverityCritical, reason)
		}
	}

	existing, err := e.store.ListActivityAppointments(ctx, chk.ActivityID, day, day)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("availability: real-time check: %w", err)
	}
	slot := Slot{Date: day, StartTime: chk.StartTime, EndTime: chk.EndTime}
	for i := range existing {
		a := &existing[i]
		if a.ID == chk.ExcludeAppointmentID {
			continue
		}
		if overlapsSlot(a, slot) {
			add(ConflictActivityOverlap, SeverityHigh,
				fmt.Sprintf("%s is already booked %s-%s", activity.Name, a.StartTime, a.EndTime))
		}
	}

	if !activity.AvailableOn(day.Weekday()) {
		add(ConflictOutsideHours, SeverityHigh, fmt.Sprintf("%s is not offered on %s", activity.Name, day.Weekday()))
	} else if !withinConfiguredHours(activity, day.Weekday(), startMin, endMin) {
		add(ConflictOutsideHours, SeverityHigh,
			fmt.Sprintf("%s-%s is outside the available hours for %s", chk.StartTime, chk.EndTime, day.Weekday()))
	}

	rules, err := e.store.ListBusinessRules(ctx, activity.Location)
	if err != nil {
		e.logger.Warn("availability: business rules unavailable for real-time check",
			"location", activity.Location, "error", err)
	}
	for i := range rules {
		r := &rules[i]
		if r.BlocksDate(day) {
			add(ConflictBlackoutDate, SeverityCritical, pharma.DateKey(day)+" is a blackout date"+ruleSuffix(r))
		}
		if r.BlocksWeekend(day) {
			add(ConflictWeekend, SeverityHigh, "weekend bookings are not approved"+ruleSuffix(r))
		}
	}

	if reason, busy := e.staffBusy(ctx, activity, start, start.Add(time.Duration(endMin-startMin)*time.Minute)); busy {
		add(ConflictStaffUnavailable, SeverityLow, reason)
	}

	if lead := start.Sub(e.now()); lead < time.Duration(activity.CancellationHours)*time.Hour {
		add(ConflictLeadTime, SeverityMedium,
			fmt.Sprintf("starts in %.0f hours, less than the %d hour minimum", lead.Hours(), activity.CancellationHours))
	}

	if endMin-startMin != activity.DurationMinutes {
		add(ConflictDuration, SeverityLow,
			fmt.Sprintf("requested %d minutes but %s runs %d minutes", endMin-startMin, activity.Name, activity.DurationMinutes))
	}

	report.HasConflicts = report.Blocking()
	span.SetAttributes(attribute.Bool("pharma.has_conflicts", report.HasConflicts))
	return report, nil
}

// InvalidateActivity drops cached contexts for an activity after its bookings change.
func (e *Engine) InvalidateActivity(ctx context.Context, activityID string) {
	if err := e.cache.DeletePrefix(ctx, activityKeyPrefix(activityID)); err != nil {
		e.logger.Warn("availability: cache invalidation failed", "activity_id", activityID, "error", err)
	}
}

func (e *Engine) loadContext(ctx context.Context, req Request) (*SchedulingContext, bool, error) {
	key := contextKey(req.ActivityID, req.StartDate, req.EndDate)
	if sc, ok, err := e.cache.Get(ctx, key); err != nil {
		e.logger.Warn("availability: cache read failed", "key", key, "error", err)
	} else if ok {
		return sc, true, nil
	}

	sc, err := e.buildContext(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if err := e.cache.Set(ctx, key, sc, e.cacheTTL); err != nil {
		e.logger.Warn("availability: cache write failed", "key", key, "error", err)
	}
	return sc, false, nil
}

// buildContext fails hard on the activity and its appointments and soft on everything else.
func (e *Engine) buildContext(ctx context.Context, req Request) (*SchedulingContext, error) {
	activity, err := e.store.GetActivity(ctx, req.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("availability: load activity %s: %w", req.ActivityID, err)
	}

	from, to := pharma.Day(req.StartDate, e.loc), pharma.Day(req.EndDate, e.loc)
	appointments, err := e.store.ListActivityAppointments(ctx, activity.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("availability: list appointments: %w", err)
	}

	sc := &SchedulingContext{
		Activity:          *activity,
		Appointments:      appointments,
		StaffAvailability: map[string]float64{},
		BuiltAt:           e.now(),
	}

	if rules, err := e.store.ListBusinessRules(ctx, activity.Location); err != nil {
		e.logger.Warn("availability: business rules unavailable, continuing without them",
			"location", activity.Location, "error", err)
	} else {
		sc.Rules = rules
	}

	if e.popularity != nil {
		if patterns, err := e.popularity.Popularity(ctx, activity.Location); err != nil {
			e.logger.Warn("availability: historical patterns unavailable, using booking history",
				"location", activity.Location, "error", err)
		} else {
			sc.Popularity = patterns
		}
	}
	if sc.Popularity == nil {
		e.loadHistoricalPopularity(ctx, sc, from)
	}

	e.loadStaffAvailability(ctx, sc, from, to)
	return sc, nil
}

// loadHistoricalPopularity scores buckets from the activity's own bookings before from.
func (e *Engine) loadHistoricalPopularity(ctx context.Context, sc *SchedulingContext, from time.Time) {
	past, err := e.store.ListActivityAppointments(ctx, sc.Activity.ID, from.AddDate(0, 0, -popularityHistoryDays), from.AddDate(0, 0, -1))
	if err != nil {
		e.logger.Warn("availability: booking history unavailable, using defaults",
			"activity_id", sc.Activity.ID, "error", err)
		return
	}
	if len(past) > 0 {
		sc.Popularity = analytics.ComputePatterns(sc.Activity.Location, past)
	}
}

func (e *Engine) loadStaffAvailability(ctx context.Context, sc *SchedulingContext, from, to time.Time) {
	if e.calendar == nil {
		return
	}
	emails := e.staff.StaffEmails(sc.Activity.Location)
	if len(emails) == 0 {
		return
	}
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		windowStart, windowEnd, ok := dayWindow(&sc.Activity, day, e.loc)
		if !ok {
			continue
		}
		free, err := e.calendar.CheckAvailability(ctx, emails, windowStart, windowEnd)
		if err != nil {
			e.logger.Warn("availability: staff calendar unavailable, using defaults",
				"location", sc.Activity.Location, "error", err)
			return
		}
		available := 0
		for _, email := range emails {
			if free[email] {
				available++
			}
		}
		sc.StaffAvailability[pharma.DateKey(day)] = float64(available) / float64(len(emails)) * 100
	}
}

// staffBusy reports when every listed staff member has a calendar entry overlapping [from, to).
// Calendar failures are logged and treated as free.
func (e *Engine) staffBusy(ctx context.Context, activity *pharma.Activity, from, to time.Time) (string, bool) {
	if e.calendar == nil {
		return "", false
	}
	emails := e.staff.StaffEmails(activity.Location)
	if len(emails) == 0 {
		return "", false
	}
	for _, email := range emails {
		busy, err := e.calendar.GetBusyTimes(ctx, email, from, to)
		if err != nil {
			e.logger.Warn("availability: staff busy times unavailable", "email", email, "error", err)
			return "", false
		}
		if calendar.FreeDuring(busy, from, to) {
			return "", false
		}
	}
	return fmt.Sprintf("no %s staff are free %s-%s", activity.Location, from.Format("15:04"), to.Format("15:04")), true
}

// dayWindow spans the earliest configured start to the latest configured end on day.
func dayWindow(activity *pharma.Activity, day time.Time, loc *time.Location) (time.Time, time.Time, bool) {
	if !activity.AvailableOn(day.Weekday()) {
		return time.Time{}, time.Time{}, false
	}
	first, last := -1, -1
	for _, r := range activity.AvailableTimes[day.Weekday()] {
		s, en, err := r.Minutes()
		if err != nil {
			continue
		}
		if first < 0 || s < first {
			first = s
		}
		if en > last {
			last = en
		}
	}
	if first < 0 {
		return time.Time{}, time.Time{}, false
	}
	start, _ := pharma.At(day, pharma.FormatClock(first), loc)
	end, _ := pharma.At(day, pharma.FormatClock(last), loc)
	return start, end, true
}

func truncate(slots []OptimizedSlot, n int) []OptimizedSlot {
	if len(slots) <= n {
		out := make([]OptimizedSlot, len(slots))
		copy(out, slots)
		return out
	}
	out := make([]OptimizedSlot, n)
	copy(out, slots[:n])
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
