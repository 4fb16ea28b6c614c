package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

// GoogleCalendar queries the Google Calendar FreeBusy API for staff calendars.
type GoogleCalendar struct {
	service *gcal.Service
	logger  *logging.Logger
}

// NewGoogleCalendar builds the calendar client. Pass option.WithCredentialsFile in production.
func NewGoogleCalendar(ctx context.Context, logger *logging.Logger, opts ...option.ClientOption) (*GoogleCalendar, error) {
	if logger == nil {
		logger = logging.Default()
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google service: %w", err)
	}
	return &GoogleCalendar{service: svc, logger: logger}, nil
}

// GetBusyTimes returns busy intervals for one calendar.
func (g *GoogleCalendar) GetBusyTimes(ctx context.Context, email string, from, to time.Time) ([]BusyTime, error) {
	busy, err := g.query(ctx, []string{email}, from, to)
	if err != nil {
		return nil, err
	}
	return busy[email], nil
}

// CheckAvailability issues a single FreeBusy query covering all emails.
func (g *GoogleCalendar) CheckAvailability(ctx context.Context, emails []string, from, to time.Time) (map[string]bool, error) {
	if len(emails) == 0 {
		return map[string]bool{}, nil
	}
	busy, err := g.query(ctx, emails, from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(emails))
	for _, email := range emails {
		out[email] = FreeDuring(busy[email], from, to)
	}
	return out, nil
}

func (g *GoogleCalendar) query(ctx context.Context, emails []string, from, to time.Time) (map[string][]BusyTime, error) {
	req := &gcal.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
	}
	for _, email := range emails {
		req.Items = append(req.Items, &gcal.FreeBusyRequestItem{Id: email})
	}

	resp, err := g.service.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: freebusy query: %w", err)
	}

	out := make(map[string][]BusyTime, len(emails))
	for _, email := range emails {
		cal, ok := resp.Calendars[email]
		if !ok {
			continue
		}
		if len(cal.Errors) > 0 {
			g.logger.Warn("calendar: freebusy returned calendar error",
				"email", email, "reason", cal.Errors[0].Reason)
			continue
		}
		for _, period := range cal.Busy {
			bt, err := parsePeriod(period)
			if err != nil {
				g.logger.Warn("calendar: skipping unparseable busy period", "email", email, "error", err)
				continue
			}
			out[email] = append(out[email], bt)
		}
	}
	return out, nil
}

func parsePeriod(p *gcal.TimePeriod) (BusyTime, error) {
	if p == nil {
		return BusyTime{}, errors.New("nil period")
	}
	start, err := time.Parse(time.RFC3339, p.Start)
	if err != nil {
		return BusyTime{}, fmt.Errorf("parse start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, p.End)
	if err != nil {
		return BusyTime{}, fmt.Errorf("parse end: %w", err)
	}
	return BusyTime{Start: start, End: end}, nil
}

var _ Checker = (*GoogleCalendar)(nil)
