package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/pharma-scheduling/internal/approval"
	"github.com/wolfman30/pharma-scheduling/internal/availability"
	"github.com/wolfman30/pharma-scheduling/internal/booking"
	httpmiddleware "github.com/wolfman30/pharma-scheduling/internal/http/middleware"
	"github.com/wolfman30/pharma-scheduling/internal/pharma"
	"github.com/wolfman30/pharma-scheduling/internal/worker/sweeper"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

const approverSecret = "approver-secret"

var newYork = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

type fakeAvailability struct {
	gotReq availability.Request
	gotMax int
	report *availability.Report
	slots  []availability.OptimizedSlot
	err    error
}

func (f *fakeAvailability) CalculateAvailability(ctx context.Context, req availability.Request) (*availability.Report, error) {
	f.gotReq = req
	return f.report, f.err
}

func (f *fakeAvailability) FindOptimalSlots(ctx context.Context, req availability.Request, maxSlots int) ([]availability.OptimizedSlot, error) {
	f.gotReq, f.gotMax = req, maxSlots
	return f.slots, f.err
}

func (f *fakeAvailability) Location() *time.Location { return newYork }

type fakeBookings struct {
	created   booking.Request
	modified  booking.Modification
	cancelled booking.Cancellation
	resp      *booking.Response
}

func (f *fakeBookings) CreateBooking(ctx context.Context, req booking.Request) *booking.Response {
	f.created = req
	return f.resp
}

func (f *fakeBookings) ModifyBooking(ctx context.Context, mod booking.Modification) *booking.Response {
	f.modified = mod
	return f.resp
}

func (f *fakeBookings) CancelBooking(ctx context.Context, c booking.Cancellation) *booking.Response {
	f.cancelled = c
	return f.resp
}

type fakeApprovals struct {
	decision approval.Decision
	status   *approval.WorkflowStatus
	err      error
}

func (f *fakeApprovals) GetWorkflowStatus(ctx context.Context, appointmentID string) (*approval.WorkflowStatus, error) {
	return f.status, f.err
}

func (f *fakeApprovals) ProcessApprovalDecision(ctx context.Context, d approval.Decision) (*approval.WorkflowStatus, error) {
	f.decision = d
	return f.status, f.err
}

type fakeSweeps struct {
	result *sweeper.Result
	err    error
	kinds  []sweeper.Kind
}

func (f *fakeSweeps) RunOnce(ctx context.Context, kind sweeper.Kind) (*sweeper.Result, error) {
	f.kinds = append(f.kinds, kind)
	return f.result, f.err
}

func newTestRouter(avail *fakeAvailability, bookings *fakeBookings, approvals *fakeApprovals, sweeps *fakeSweeps) http.Handler {
	logger := logging.New("error")
	r := chi.NewRouter()
	r.Get("/health", Health)
	ah := NewAvailabilityHandler(avail, logger)
	r.Post("/availability", ah.Calculate)
	r.Post("/availability/optimal", ah.Optimal)
	bh := NewBookingHandler(bookings, logger)
	r.Post("/bookings", bh.Create)
	r.Patch("/bookings/{appointmentID}", bh.Modify)
	r.Post("/bookings/{appointmentID}/cancel", bh.Cancel)
	ph := NewApprovalHandler(approvals, logger)
	r.Get("/approvals/{appointmentID}", ph.Status)
	r.With(httpmiddleware.ApproverJWT(approverSecret)).Post("/approvals/{appointmentID}/decisions", ph.Decide)
	r.Post("/approvals-open/{appointmentID}/decisions", ph.Decide)
	sh := NewSweepHandler(sweeps, logger)
	r.Post("/sweeps/{kind}", sh.Run)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func bearer(t *testing.T, email string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, httpmiddleware.ApproverClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(approverSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(nil, nil, nil, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])
}

func TestAvailabilityCalculate(t *testing.T) {
	avail := &fakeAvailability{report: &availability.Report{ActivityID: "lunch", TotalSlotsChecked: 4, AvailableSlots: 2}}
	router := newTestRouter(avail, nil, nil, nil)

	rec := do(t, router, http.MethodPost, "/availability", `{
		"activity_id": "lunch",
		"start_date": "2025-03-10",
		"end_date": "2025-03-14",
		"preferred_times": ["12:00"],
		"exclude_weekends": true,
		"min_lead_time_hours": 24
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	report := decodeBody[availability.Report](t, rec)
	assert.Equal(t, 2, report.AvailableSlots)
	assert.Equal(t, "lunch", avail.gotReq.ActivityID)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, newYork), avail.gotReq.StartDate)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, newYork), avail.gotReq.EndDate)
	assert.True(t, avail.gotReq.ExcludeWeekends)
	assert.Equal(t, []string{"12:00"}, avail.gotReq.PreferredTimes)
}

func TestAvailabilityRejectsBadInput(t *testing.T) {
	router := newTestRouter(&fakeAvailability{}, nil, nil, nil)
	cases := map[string]string{
		"empty body":       "",
		"unknown field":    `{"activity_id":"lunch","start_date":"2025-03-10","end_date":"2025-03-14","color":"red"}`,
		"missing activity": `{"start_date":"2025-03-10","end_date":"2025-03-14"}`,
		"bad start":        `{"activity_id":"lunch","start_date":"03/10/2025","end_date":"2025-03-14"}`,
		"bad end":          `{"activity_id":"lunch","start_date":"2025-03-10","end_date":"soon"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/availability", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decodeBody[errorResponse](t, rec).Error)
		})
	}
}

func TestAvailabilityEngineErrors(t *testing.T) {
	body := `{"activity_id":"lunch","start_date":"2025-03-10","end_date":"2025-03-14"}`
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("availability: load activity: %w", pharma.ErrActivityNotFound), http.StatusNotFound},
		{availability.ErrInvalidWindow, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router := newTestRouter(&fakeAvailability{err: tc.err}, nil, nil, nil)
		assert.Equal(t, tc.want, do(t, router, http.MethodPost, "/availability", body).Code, tc.err.Error())
		assert.Equal(t, tc.want, do(t, router, http.MethodPost, "/availability/optimal", body).Code, tc.err.Error())
	}
}

func TestAvailabilityOptimal(t *testing.T) {
	avail := &fakeAvailability{}
	router := newTestRouter(avail, nil, nil, nil)

	rec := do(t, router, http.MethodPost, "/availability/optimal",
		`{"activity_id":"lunch","start_date":"2025-03-10","end_date":"2025-03-14","max_results":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[OptimalSlotsResponse](t, rec)
	assert.Equal(t, "lunch", resp.ActivityID)
	assert.NotNil(t, resp.Slots)
	assert.Empty(t, resp.Slots)
	assert.Equal(t, 3, avail.gotMax)
}

func TestBookingStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		resp *booking.Response
		want int
	}{
		{"created", &booking.Response{Success: true, AppointmentID: "a1"}, http.StatusCreated},
		{"conflict", &booking.Response{Conflicts: []availability.Conflict{{Reason: "taken"}}, Errors: []string{"taken"}}, http.StatusConflict},
		{"validation", &booking.Response{Errors: []string{"activity_id is required"}}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookings := &fakeBookings{resp: tt.resp}
			rec := do(t, newTestRouter(nil, bookings, nil, nil), http.MethodPost, "/bookings",
				`{"activity_id":"lunch","rep_email":"jane@acme.test","appointment_date":"2025-03-10","start_time":"12:00","participant_count":3}`)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "jane@acme.test", bookings.created.RepEmail)
			assert.Equal(t, 3, bookings.created.ParticipantCount)
		})
	}
}

func TestBookingModifyUsesPathID(t *testing.T) {
	bookings := &fakeBookings{resp: &booking.Response{Success: true, AppointmentID: "appt-7"}}
	rec := do(t, newTestRouter(nil, bookings, nil, nil), http.MethodPatch, "/bookings/appt-7",
		`{"appointment_id":"ignored","start_time":"12:30","requires_reapproval":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "appt-7", bookings.modified.AppointmentID)
	require.NotNil(t, bookings.modified.StartTime)
	assert.Equal(t, "12:30", *bookings.modified.StartTime)
	assert.True(t, bookings.modified.RequiresReapproval)
}

func TestBookingCancel(t *testing.T) {
	bookings := &fakeBookings{resp: &booking.Response{Success: true}}
	router := newTestRouter(nil, bookings, nil, nil)

	rec := do(t, router, http.MethodPost, "/bookings/appt-7/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "appt-7", bookings.cancelled.AppointmentID)

	rec = do(t, router, http.MethodPost, "/bookings/appt-8/cancel",
		`{"reason":"rep unavailable","notify_participants":true,"policy":{"minimum_hours":12}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "appt-8", bookings.cancelled.AppointmentID)
	assert.True(t, bookings.cancelled.NotifyParticipants)
	require.NotNil(t, bookings.cancelled.Policy)
	assert.Equal(t, 12, bookings.cancelled.Policy.MinimumHours)

	bookings.resp = &booking.Response{Errors: []string{"appointment is already cancelled"}}
	rec = do(t, router, http.MethodPost, "/bookings/appt-8/cancel", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, []string{"appointment is already cancelled"}, decodeBody[booking.Response](t, rec).Errors)

	rec = do(t, router, http.MethodPost, "/bookings/appt-8/cancel", `{"reason":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprovalStatus(t *testing.T) {
	approvals := &fakeApprovals{status: &approval.WorkflowStatus{AppointmentID: "a1", OverallStatus: approval.StatusPending}}
	rec := do(t, newTestRouter(nil, nil, approvals, nil), http.MethodGet, "/approvals/a1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, approval.StatusPending, decodeBody[approval.WorkflowStatus](t, rec).OverallStatus)

	approvals.err = approval.ErrWorkflowNotFound
	rec = do(t, newTestRouter(nil, nil, approvals, nil), http.MethodGet, "/approvals/a1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApprovalDecideUsesTokenEmail(t *testing.T) {
	approvals := &fakeApprovals{status: &approval.WorkflowStatus{AppointmentID: "a1", OverallStatus: approval.StatusApproved}}
	router := newTestRouter(nil, nil, approvals, nil)

	rec := do(t, router, http.MethodPost, "/approvals/a1/decisions",
		`{"stage_id":"s1","decision":"approve","comments":"fine"}`,
		"Authorization", bearer(t, "manager@practice.test"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, approval.Decision{
		AppointmentID: "a1",
		StageID:       "s1",
		ApproverEmail: "manager@practice.test",
		Decision:      approval.DecisionApprove,
		Comments:      "fine",
	}, approvals.decision)
}

func TestApprovalDecideRejections(t *testing.T) {
	router := newTestRouter(nil, nil, &fakeApprovals{}, nil)

	rec := do(t, router, http.MethodPost, "/approvals/a1/decisions", `{"stage_id":"s1","decision":"approve"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "token required")

	rec = do(t, router, http.MethodPost, "/approvals-open/a1/decisions", `{"stage_id":"s1","decision":"approve"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "identity required even without middleware")

	rec = do(t, router, http.MethodPost, "/approvals/a1/decisions", `{"decision":"approve"}`,
		"Authorization", bearer(t, "manager@practice.test"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprovalDecideErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("approval: load stage: %w", pharma.ErrStageNotFound), http.StatusNotFound},
		{approval.ErrInvalidDecision, http.StatusBadRequest},
		{approval.ErrNotStageApprover, http.StatusForbidden},
		{approval.ErrStageNotPending, http.StatusConflict},
		{approval.ErrStageSuperseded, http.StatusConflict},
		{fmt.Errorf("approval: decide: %w", pharma.ErrStateConflict), http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router := newTestRouter(nil, nil, &fakeApprovals{err: tc.err}, nil)
		rec := do(t, router, http.MethodPost, "/approvals/a1/decisions",
			`{"stage_id":"s1","decision":"deny"}`, "Authorization", bearer(t, "doctor@practice.test"))
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestSweepHandler(t *testing.T) {
	sweeps := &fakeSweeps{result: &sweeper.Result{Kind: sweeper.KindEscalations}}
	router := newTestRouter(nil, nil, nil, sweeps)

	rec := do(t, router, http.MethodPost, "/sweeps/escalations", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []sweeper.Kind{sweeper.KindEscalations}, sweeps.kinds)

	rec = do(t, router, http.MethodPost, "/sweeps/reports", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sweeps.err = sweeper.ErrSweepRunning
	rec = do(t, router, http.MethodPost, "/sweeps/notifications", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	sweeps.err = errors.New("sweeper: notifications: throttled")
	rec = do(t, router, http.MethodPost, "/sweeps/notifications", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
