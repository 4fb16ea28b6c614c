package booking

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// NextSteps derives the guidance shown to the representative from an operation's outcome.
func NextSteps(op Operation, r *Response) []string {
	if r == nil {
		return []string{}
	}
	if !r.Success {
		switch {
		case len(r.Alternatives) > 0:
			return []string{
				"Review the suggested alternative times",
				"Submit a new request for one of the alternatives",
			}
		case len(r.Conflicts) > 0:
			return []string{"Choose a different date or time and submit a new request"}
		default:
			return []string{"Correct the problems listed in errors and try again"}
		}
	}

	switch op {
	case OpCancel:
		return []string{
			"Your visit has been cancelled",
			"Request a new visit whenever you are ready",
		}
	case OpModify:
		if r.RequiresApproval {
			return append([]string{"Your changes have been sent for approval"}, awaiting(r)...)
		}
		return []string{
			"Your visit has been updated",
			"Update your calendar with the new details",
		}
	default:
		if r.RequiresApproval {
			steps := []string{"Your request has been sent for approval"}
			steps = append(steps, awaiting(r)...)
			return append(steps, "You will receive an email once a decision is made")
		}
		return []string{
			"Your visit is confirmed",
			fmt.Sprintf("Keep your confirmation number %s for check-in", r.ConfirmationNumber),
			"You will receive a reminder before the visit",
		}
	}
}

func awaiting(r *Response) []string {
	if r.Workflow == nil || len(r.Workflow.PendingApprovers) == 0 {
		return nil
	}
	return []string{"Awaiting approval from " + strings.Join(r.Workflow.PendingApprovers, ", ")}
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// ConfirmationNumber is "PH", the base-36 millisecond timestamp and four random base-36
// characters, upper-cased.
func ConfirmationNumber(now time.Time, random io.Reader) string {
	if random == nil {
		random = rand.Reader
	}
	suffix := make([]byte, 4)
	buf := make([]byte, 4)
	if _, err := io.ReadFull(random, buf); err != nil {
		buf = []byte{0, 0, 0, 0}
	}
	for i, b := range buf {
		suffix[i] = base36[int(b)%len(base36)]
	}
	return strings.ToUpper("PH" + strconv.FormatInt(now.UnixMilli(), 36) + string(suffix))
}
