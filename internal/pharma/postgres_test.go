package pharma

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
)

func TestPostgresGetActivity(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, name, location, .* FROM activities WHERE id = \$1 AND is_active = true`).
		WithArgs("lunch").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "location", "duration_minutes", "block_off_minutes", "max_participants",
			"available_days", "available_times", "requires_approval", "cancellation_hours", "is_active",
		}).AddRow("lunch", "Lunch and learn", "main", 30, 0, 12,
			[]int32{1, 3}, []byte(`{"monday":[{"start":"12:00","end":"13:00"}]}`), true, 24, true))

	store := NewPostgresQueries(mock)
	a, err := store.GetActivity(context.Background(), "lunch")
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if !a.AvailableOn(time.Monday) || !a.AvailableOn(time.Wednesday) || a.AvailableOn(time.Friday) {
		t.Errorf("AvailableDays = %v, want [Monday Wednesday]", a.AvailableDays)
	}
	ranges := a.AvailableTimes[time.Monday]
	if len(ranges) != 1 || ranges[0].Start != "12:00" || ranges[0].End != "13:00" {
		t.Errorf("AvailableTimes[Monday] = %v", ranges)
	}
	if !a.RequiresApproval || a.CancellationHours != 24 {
		t.Errorf("unexpected activity policy: %+v", a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresApproveAppointmentStateConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`UPDATE appointments SET approval_status = 'approved', status = 'confirmed'`).
		WithArgs(pgxmock.AnyArg(), "appt-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := NewPostgresQueries(mock)
	err = store.ApproveAppointment(context.Background(), "appt-1")
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresDecideStage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE approval_stages SET approval_status = \$1, decided_by = \$2, comments = \$3, decided_at = \$4`).
		WithArgs("approved", "mgr@clinic.test", "looks good", at, "stage-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := NewPostgresQueries(mock)
	if err := store.DecideStage(context.Background(), "stage-1", ApprovalApproved, "mgr@clinic.test", "looks good", at); err != nil {
		t.Fatalf("DecideStage failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresListBusinessRules(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, location, rule_type, blackout_dates, weekend_approved, description, is_active\s+FROM business_rules`).
		WithArgs("main").
		WillReturnRows(pgxmock.NewRows([]string{"id", "location", "rule_type", "blackout_dates", "weekend_approved", "description", "is_active"}).
			AddRow("r1", "main", "blackout_dates", []string{"2025-12-25"}, false, "holiday", true).
			AddRow("r2", "main", "weekend_restriction", []string{}, false, "", true))

	store := NewPostgresQueries(mock)
	rules, err := store.ListBusinessRules(context.Background(), "main")
	if err != nil {
		t.Fatalf("ListBusinessRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("len(rules) = %d, want 2", len(rules))
	}
	if rules[0].Type != RuleBlackoutDates || !rules[0].BlocksDate(time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("blackout rule not decoded: %+v", rules[0])
	}
	if rules[1].Type != RuleWeekendRestriction {
		t.Errorf("rules[1].Type = %q", rules[1].Type)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSkipPendingStages(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`UPDATE approval_stages SET approval_status = 'skipped', decided_at = \$1\s+WHERE appointment_id = \$2 AND id <> \$3 AND approval_status = 'pending' AND escalated_at IS NULL`).
		WithArgs(pgxmock.AnyArg(), "appt-1", "stage-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	store := NewPostgresQueries(mock)
	n, err := store.SkipPendingStages(context.Background(), "appt-1", "stage-1", time.Now())
	if err != nil {
		t.Fatalf("SkipPendingStages failed: %v", err)
	}
	if n != 2 {
		t.Errorf("skipped = %d, want 2", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresTransitionsUseInjectedClock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	fixed := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE appointments SET approval_status = 'approved', status = 'confirmed'`).
		WithArgs(fixed, "appt-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE appointments SET approval_status = 'denied'`).
		WithArgs("no room", fixed, "appt-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE appointments SET status = 'cancelled'`).
		WithArgs("rep sick", fixed, "appt-3").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := NewPostgresQueries(mock).WithClock(func() time.Time { return fixed })
	ctx := context.Background()
	if err := store.ApproveAppointment(ctx, "appt-1"); err != nil {
		t.Fatalf("ApproveAppointment failed: %v", err)
	}
	if err := store.DenyAppointment(ctx, "appt-2", "no room"); err != nil {
		t.Fatalf("DenyAppointment failed: %v", err)
	}
	if err := store.CancelAppointment(ctx, "appt-3", "rep sick"); err != nil {
		t.Fatalf("CancelAppointment failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
