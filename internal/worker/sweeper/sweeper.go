// Package sweeper runs the periodic approval escalation and scheduled notification sweeps.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wolfman30/pharma-scheduling/internal/approval"
	"github.com/wolfman30/pharma-scheduling/internal/notify"
	"github.com/wolfman30/pharma-scheduling/internal/observability/metrics"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

// Kind names one sweep.
type Kind string

const (
	KindEscalations   Kind = "escalations"
	KindNotifications Kind = "notifications"
)

var ErrUnknownKind = errors.New("sweeper: unknown sweep kind")

// ErrSweepRunning is returned by RunOnce when the same sweep is already in flight.
var ErrSweepRunning = errors.New("sweeper: sweep already running")

// ParseKind validates a sweep name from a URL or event payload.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindEscalations, KindNotifications:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

type escalationChecker interface {
	CheckPendingEscalations(ctx context.Context) (approval.SweepResult, error)
}

type notificationDispatcher interface {
	DispatchDue(ctx context.Context) (notify.DispatchResult, error)
}

// Result is what one sweep did. Exactly one of the embedded results is set.
type Result struct {
	Kind          Kind                   `json:"kind"`
	Escalations   *approval.SweepResult  `json:"escalations,omitempty"`
	Notifications *notify.DispatchResult `json:"notifications,omitempty"`
	Duration      time.Duration          `json:"duration_ns"`
}

// Sweeper drives both sweeps on their own tickers.
type Sweeper struct {
	approvals  escalationChecker
	dispatcher notificationDispatcher
	logger     *logging.Logger
	metrics    *metrics.SchedulingMetrics

	escalationInterval   time.Duration
	notificationInterval time.Duration

	escalating  atomic.Bool
	dispatching atomic.Bool
}

func New(approvals escalationChecker, dispatcher notificationDispatcher, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		approvals:            approvals,
		dispatcher:           dispatcher,
		logger:               logger.Component("sweeper"),
		escalationInterval:   5 * time.Minute,
		notificationInterval: time.Minute,
	}
}

func (s *Sweeper) WithIntervals(escalations, notifications time.Duration) *Sweeper {
	if escalations > 0 {
		s.escalationInterval = escalations
	}
	if notifications > 0 {
		s.notificationInterval = notifications
	}
	return s
}

func (s *Sweeper) WithMetrics(m *metrics.SchedulingMetrics) *Sweeper {
	s.metrics = m
	return s
}

// Run blocks until ctx is cancelled. Each sweep runs once immediately and then on its interval.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started",
		"escalation_interval", s.escalationInterval.String(),
		"notification_interval", s.notificationInterval.String(),
	)
	done := make(chan struct{}, 2)
	go func() {
		s.loop(ctx, KindEscalations, s.escalationInterval)
		done <- struct{}{}
	}()
	go func() {
		s.loop(ctx, KindNotifications, s.notificationInterval)
		done <- struct{}{}
	}()
	<-done
	<-done
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, kind Kind, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.tick(ctx, kind)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, kind)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context, kind Kind) {
	if _, err := s.RunOnce(ctx, kind); err != nil && !errors.Is(err, ErrSweepRunning) && ctx.Err() == nil {
		s.logger.Error("sweep failed", "sweep", string(kind), "error", err)
	}
}

// RunOnce executes a single sweep. Concurrent calls for the same kind are rejected with
// ErrSweepRunning so a slow sweep is never stacked.
func (s *Sweeper) RunOnce(ctx context.Context, kind Kind) (*Result, error) {
	guard, err := s.guard(kind)
	if err != nil {
		return nil, err
	}
	if !guard.CompareAndSwap(false, true) {
		s.logger.Debug("sweep still running, skipping", "sweep", string(kind))
		return nil, ErrSweepRunning
	}
	defer guard.Store(false)

	start := time.Now()
	result := &Result{Kind: kind}
	switch kind {
	case KindEscalations:
		var r approval.SweepResult
		r, err = s.approvals.CheckPendingEscalations(ctx)
		result.Escalations = &r
		if err == nil && (r.Escalated > 0 || r.Reminded > 0 || r.Failed > 0) {
			s.logger.Info("escalation sweep complete", "checked", r.Checked, "escalated", r.Escalated,
				"reminded", r.Reminded, "failed", r.Failed)
		}
	case KindNotifications:
		var r notify.DispatchResult
		r, err = s.dispatcher.DispatchDue(ctx)
		result.Notifications = &r
		if err == nil && r.Due > 0 {
			s.logger.Info("notification sweep complete", "due", r.Due, "sent", r.Sent,
				"failed", r.Failed, "gave_up", r.GaveUp)
		}
	}
	result.Duration = time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveSweep(string(kind), status, result.Duration.Seconds())
	if err != nil {
		return result, fmt.Errorf("sweeper: %s: %w", kind, err)
	}
	return result, nil
}

func (s *Sweeper) guard(kind Kind) (*atomic.Bool, error) {
	switch kind {
	case KindEscalations:
		if s.approvals == nil {
			return nil, errors.New("sweeper: no approval engine configured")
		}
		return &s.escalating, nil
	case KindNotifications:
		if s.dispatcher == nil {
			return nil, errors.New("sweeper: no notification scheduler configured")
		}
		return &s.dispatching, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}
