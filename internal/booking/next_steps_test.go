package booking

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/pharma-scheduling/internal/approval"
	"github.com/wolfman30/pharma-scheduling/internal/availability"
)

func TestNextSteps(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		resp *Response
		want []string
	}{
		{
			name: "validation failure",
			op:   OpCreate,
			resp: &Response{Errors: []string{"bad"}},
			want: []string{"Correct the problems listed in errors and try again"},
		},
		{
			name: "conflict without alternatives",
			op:   OpCreate,
			resp: &Response{Conflicts: []availability.Conflict{{Reason: "taken"}}},
			want: []string{"Choose a different date or time and submit a new request"},
		},
		{
			name: "conflict with alternatives",
			op:   OpModify,
			resp: &Response{
				Conflicts:    []availability.Conflict{{Reason: "taken"}},
				Alternatives: []availability.OptimizedSlot{{Score: 80}},
			},
			want: []string{"Review the suggested alternative times", "Submit a new request for one of the alternatives"},
		},
		{
			name: "pending approval",
			op:   OpCreate,
			resp: &Response{
				Success:          true,
				RequiresApproval: true,
				Workflow:         &approval.WorkflowStatus{PendingApprovers: []string{"a@x.test", "b@x.test"}},
			},
			want: []string{
				"Your request has been sent for approval",
				"Awaiting approval from a@x.test, b@x.test",
				"You will receive an email once a decision is made",
			},
		},
		{
			name: "confirmed",
			op:   OpCreate,
			resp: &Response{Success: true, ConfirmationNumber: "PH123"},
			want: []string{
				"Your visit is confirmed",
				"Keep your confirmation number PH123 for check-in",
				"You will receive a reminder before the visit",
			},
		},
		{
			name: "cancelled",
			op:   OpCancel,
			resp: &Response{Success: true},
			want: []string{"Your visit has been cancelled", "Request a new visit whenever you are ready"},
		},
		{
			name: "nil response",
			op:   OpCancel,
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextSteps(tt.op, tt.resp))
		})
	}
}

func TestConfirmationNumber(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	got := ConfirmationNumber(now, bytes.NewReader([]byte{0, 1, 35, 36}))
	assert.Equal(t, "PHM7STX9C001Z0", got)

	// An exhausted source still yields a well-formed number.
	got = ConfirmationNumber(now, bytes.NewReader(nil))
	assert.Equal(t, "PHM7STX9C00000", got)

	assert.Regexp(t, `^PHM7STX9C0[0-9A-Z]{4}$`, ConfirmationNumber(now, nil))
}
