package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/pharma-scheduling/internal/observability/metrics"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

// ScheduleStatus tracks a scheduled notification through dispatch.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusSent      ScheduleStatus = "sent"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
	ScheduleStatusFailed    ScheduleStatus = "failed"
)

const (
	defaultMaxAttempts   = 3
	defaultDispatchBatch = 100
)

// DefaultReminderOffsets are the lead times before a visit at which reminders go out.
var DefaultReminderOffsets = []time.Duration{24 * time.Hour, 2 * time.Hour}

var ErrScheduleNotFound = errors.New("notify: scheduled notification not found")

// ScheduledNotification is a notification to send at a later time.
type ScheduledNotification struct {
	ID            string            `dynamodbav:"id" json:"id"`
	AppointmentID string            `dynamodbav:"appointmentId" json:"appointment_id"`
	Type          Type              `dynamodbav:"type" json:"type"`
	Recipients    []string          `dynamodbav:"recipients,stringset" json:"recipients"`
	CustomData    map[string]string `dynamodbav:"customData,omitempty" json:"custom_data,omitempty"`
	SendAt        time.Time         `dynamodbav:"sendAt,unixtime" json:"send_at"`
	Status        ScheduleStatus    `dynamodbav:"status" json:"status"`
	Attempts      int               `dynamodbav:"attempts" json:"attempts"`
	LastError     string            `dynamodbav:"lastError,omitempty" json:"last_error,omitempty"`
	UpdatedAt     time.Time         `dynamodbav:"updatedAt" json:"updated_at"`
}

// ScheduleStore persists scheduled notifications keyed by appointment.
type ScheduleStore interface {
	Put(ctx context.Context, item *ScheduledNotification) error
	ListByAppointment(ctx context.Context, appointmentID string) ([]ScheduledNotification, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduledNotification, error)
	UpdateStatus(ctx context.Context, id string, status ScheduleStatus, attempts int, lastErr string, at time.Time) error
}

// ReminderRequest describes the visit reminders should be scheduled for.
type ReminderRequest struct {
	AppointmentID string
	Start         time.Time
	Recipients    []string
	CustomData    map[string]string
}

// DispatchResult summarizes one DispatchDue sweep.
type DispatchResult struct {
	Due    int `json:"due"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	GaveUp int `json:"gave_up"`
}

// Scheduler owns reminder scheduling and the dispatch sweep.
type Scheduler struct {
	store       ScheduleStore
	notifier    Notifier
	offsets     []time.Duration
	maxAttempts int
	batch       int
	now         func() time.Time
	metrics     *metrics.SchedulingMetrics
	logger      *logging.Logger
}

func NewScheduler(store ScheduleStore, notifier Notifier, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	if store == nil {
		store = NewMemoryScheduleStore()
	}
	return &Scheduler{
		store:       store,
		notifier:    notifier,
		offsets:     DefaultReminderOffsets,
		maxAttempts: defaultMaxAttempts,
		batch:       defaultDispatchBatch,
		now:         time.Now,
		logger:      logger,
	}
}

func (s *Scheduler) WithReminderOffsets(offsets ...time.Duration) *Scheduler {
	if len(offsets) > 0 {
		s.offsets = offsets
	}
	return s
}

func (s *Scheduler) WithMaxAttempts(n int) *Scheduler {
	if n > 0 {
		s.maxAttempts = n
	}
	return s
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Scheduler) WithMetrics(m *metrics.SchedulingMetrics) *Scheduler {
	s.metrics = m
	return s
}

// ScheduleAppointmentReminders queues one appointment_reminder per configured offset that is
// still in the future.
func (s *Scheduler) ScheduleAppointmentReminders(ctx context.Context, req ReminderRequest) ([]ScheduledNotification, error) {
	if req.AppointmentID == "" {
		return nil, errors.New("notify: appointment id required")
	}
	recipients := dedupe(req.Recipients)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	now := s.now().UTC()
	var scheduled []ScheduledNotification
	for _, offset := range s.offsets {
		sendAt := req.Start.Add(-offset).UTC()
		if !sendAt.After(now) {
			continue
		}
		item := &ScheduledNotification{
			ID:            uuid.NewString(),
			AppointmentID: req.AppointmentID,
			Type:          TypeAppointmentReminder,
			Recipients:    recipients,
			CustomData:    req.CustomData,
			SendAt:        sendAt,
			Status:        ScheduleStatusScheduled,
			UpdatedAt:     now,
		}
		if err := s.store.Put(ctx, item); err != nil {
			return scheduled, fmt.Errorf("notify: schedule reminder: %w", err)
		}
		scheduled = append(scheduled, *item)
	}
	s.logger.Debug("appointment reminders scheduled", "appointment_id", req.AppointmentID, "count", len(scheduled))
	return scheduled, nil
}

// CancelForAppointment cancels every still-scheduled notification for the appointment.
func (s *Scheduler) CancelForAppointment(ctx context.Context, appointmentID string) (int, error) {
	items, err := s.store.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("notify: list scheduled notifications: %w", err)
	}
	now := s.now().UTC()
	cancelled := 0
	for _, item := range items {
		if item.Status != ScheduleStatusScheduled {
			continue
		}
		if err := s.store.UpdateStatus(ctx, item.ID, ScheduleStatusCancelled, item.Attempts, "", now); err != nil {
			return cancelled, fmt.Errorf("notify: cancel scheduled notification %s: %w", item.ID, err)
		}
		cancelled++
	}
	return cancelled, nil
}

// RescheduleAppointmentReminders replaces pending reminders with ones for the new start time.
func (s *Scheduler) RescheduleAppointmentReminders(ctx context.Context, req ReminderRequest) ([]ScheduledNotification, error) {
	if _, err := s.CancelForAppointment(ctx, req.AppointmentID); err != nil {
		return nil, err
	}
	return s.ScheduleAppointmentReminders(ctx, req)
}

// DispatchDue sends everything whose time has come. Failures are counted against the item and
// retried on the next sweep until maxAttempts is reached.
func (s *Scheduler) DispatchDue(ctx context.Context) (DispatchResult, error) {
	var result DispatchResult
	if s.notifier == nil {
		return result, errors.New("notify: scheduler has no notifier")
	}
	now := s.now().UTC()
	due, err := s.store.ListDue(ctx, now, s.batch)
	if err != nil {
		return result, fmt.Errorf("notify: list due notifications: %w", err)
	}
	result.Due = len(due)

	for _, item := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		_, sendErr := s.notifier.Send(ctx, Notification{
			Type:          item.Type,
			Recipients:    item.Recipients,
			AppointmentID: item.AppointmentID,
			Priority:      PriorityNormal,
			CustomData:    item.CustomData,
		})
		attempts := item.Attempts + 1
		status, lastErr := ScheduleStatusSent, ""
		switch {
		case sendErr == nil:
			result.Sent++
			s.metrics.ObserveReminder("sent")
		case attempts >= s.maxAttempts:
			status, lastErr = ScheduleStatusFailed, sendErr.Error()
			result.GaveUp++
			s.metrics.ObserveReminder("gave_up")
			s.logger.Error("scheduled notification gave up", "id", item.ID, "appointment_id", item.AppointmentID,
				"attempts", attempts, "error", sendErr)
		default:
			status, lastErr = ScheduleStatusScheduled, sendErr.Error()
			result.Failed++
			s.metrics.ObserveReminder("failed")
			s.logger.Warn("scheduled notification failed, will retry", "id", item.ID,
				"appointment_id", item.AppointmentID, "attempts", attempts, "error", sendErr)
		}
		if err := s.store.UpdateStatus(ctx, item.ID, status, attempts, lastErr, now); err != nil {
			s.logger.Error("failed to update scheduled notification", "id", item.ID, "error", err)
		}
	}
	return result, nil
}

// MemoryScheduleStore is an in-process ScheduleStore.
type MemoryScheduleStore struct {
	mu    sync.Mutex
	items map[string]ScheduledNotification
}

func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{items: make(map[string]ScheduledNotification)}
}

func (m *MemoryScheduleStore) Put(ctx context.Context, item *ScheduledNotification) error {
	if item == nil || item.ID == "" {
		return errors.New("notify: scheduled notification id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	cp.Recipients = append([]string(nil), item.Recipients...)
	m.items[item.ID] = cp
	return nil
}

func (m *MemoryScheduleStore) ListByAppointment(ctx context.Context, appointmentID string) ([]ScheduledNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScheduledNotification
	for _, item := range m.items {
		if item.AppointmentID == appointmentID {
			out = append(out, item)
		}
	}
	sortBySendAt(out)
	return out, nil
}

func (m *MemoryScheduleStore) ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduledNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScheduledNotification
	for _, item := range m.items {
		if item.Status == ScheduleStatusScheduled && !item.SendAt.After(now) {
			out = append(out, item)
		}
	}
	sortBySendAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryScheduleStore) UpdateStatus(ctx context.Context, id string, status ScheduleStatus, attempts int, lastErr string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return ErrScheduleNotFound
	}
	item.Status = status
	item.Attempts = attempts
	item.LastError = lastErr
	item.UpdatedAt = at
	m.items[id] = item
	return nil
}

func sortBySendAt(items []ScheduledNotification) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].SendAt.Equal(items[j].SendAt) {
			return items[i].SendAt.Before(items[j].SendAt)
		}
		return strings.Compare(items[i].ID, items[j].ID) < 0
	})
}

var _ ScheduleStore = (*MemoryScheduleStore)(nil)
