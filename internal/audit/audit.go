// Package audit keeps the approval trail: every decision, escalation and auto-approval.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

// EventType names an approval audit event.
type EventType string

const (
	EventDecision     EventType = "approval.decision"
	EventEscalation   EventType = "approval.escalation"
	EventAutoApproval EventType = "approval.auto_approved"
)

// Event is an immutable audit record.
type Event struct {
	ID               int64           `json:"id"`
	EventType        EventType       `json:"event_type"`
	AppointmentID    string          `json:"appointment_id"`
	StageID          string          `json:"stage_id,omitempty"`
	ActorEmail       string          `json:"actor_email,omitempty"`
	Decision         string          `json:"decision,omitempty"`
	Comments         string          `json:"comments,omitempty"`
	PendingApprovers []string        `json:"pending_approvers,omitempty"`
	Details          json.RawMessage `json:"details,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Details holds event-specific context stored as JSONB.
type Details struct {
	// Escalation
	FromStageID  string `json:"from_stage_id,omitempty"`
	ToStageID    string `json:"to_stage_id,omitempty"`
	FromApprover string `json:"from_approver,omitempty"`
	ToApprover   string `json:"to_approver,omitempty"`
	Reason       string `json:"reason,omitempty"`

	// Auto-approval
	Reasons []string `json:"reasons,omitempty"`

	RequestedChanges map[string]string `json:"requested_changes,omitempty"`
}

// DecisionEvent describes one approver decision.
type DecisionEvent struct {
	AppointmentID    string
	StageID          string
	ApproverEmail    string
	Decision         string
	Comments         string
	RequestedChanges map[string]string
	PendingApprovers []string
}

// EscalationEvent describes a stage being handed to the next approver.
type EscalationEvent struct {
	AppointmentID string
	FromStageID   string
	ToStageID     string
	FromApprover  string
	ToApprover    string
	Reason        string
}

// Recorder is what the approval engine writes to.
type Recorder interface {
	LogDecision(ctx context.Context, evt DecisionEvent) error
	LogEscalation(ctx context.Context, evt EscalationEvent) error
	LogAutoApproval(ctx context.Context, appointmentID string, reasons []string) error
}

// Filter narrows QueryEvents.
type Filter struct {
	AppointmentID string
	EventType     EventType
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
}

// ApprovalAuditService writes approval_audit_events.
type ApprovalAuditService struct {
	db  *sql.DB
	now func() time.Time
}

func NewApprovalAuditService(db *sql.DB) *ApprovalAuditService {
	return &ApprovalAuditService{db: db, now: time.Now}
}

// LogEvent records an audit event.
func (s *ApprovalAuditService) LogEvent(ctx context.Context, event Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}
	if event.PendingApprovers == nil {
		event.PendingApprovers = []string{}
	}

	query := `
		INSERT INTO approval_audit_events (
			event_type, appointment_id, stage_id, actor_email, decision,
			comments, pending_approvers, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		string(event.EventType),
		event.AppointmentID,
		nullString(event.StageID),
		event.ActorEmail,
		event.Decision,
		event.Comments,
		pq.Array(event.PendingApprovers),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log %s event: %w", event.EventType, err)
	}
	return nil
}

func (s *ApprovalAuditService) LogDecision(ctx context.Context, evt DecisionEvent) error {
	details, _ := json.Marshal(Details{RequestedChanges: evt.RequestedChanges})
	return s.LogEvent(ctx, Event{
		EventType:        EventDecision,
		AppointmentID:    evt.AppointmentID,
		StageID:          evt.StageID,
		ActorEmail:       evt.ApproverEmail,
		Decision:         evt.Decision,
		Comments:         evt.Comments,
		PendingApprovers: evt.PendingApprovers,
		Details:          details,
	})
}

func (s *ApprovalAuditService) LogEscalation(ctx context.Context, evt EscalationEvent) error {
	details, _ := json.Marshal(Details{
		FromStageID:  evt.FromStageID,
		ToStageID:    evt.ToStageID,
		FromApprover: evt.FromApprover,
		ToApprover:   evt.ToApprover,
		Reason:       evt.Reason,
	})
	return s.LogEvent(ctx, Event{
		EventType:        EventEscalation,
		AppointmentID:    evt.AppointmentID,
		StageID:          evt.FromStageID,
		ActorEmail:       "system",
		Decision:         "escalated",
		Comments:         evt.Reason,
		PendingApprovers: []string{evt.ToApprover},
		Details:          details,
	})
}

func (s *ApprovalAuditService) LogAutoApproval(ctx context.Context, appointmentID string, reasons []string) error {
	details, _ := json.Marshal(Details{Reasons: reasons})
	return s.LogEvent(ctx, Event{
		EventType:     EventAutoApproval,
		AppointmentID: appointmentID,
		ActorEmail:    "system",
		Decision:      "approved",
		Details:       details,
	})
}

// QueryEvents returns events newest first.
func (s *ApprovalAuditService) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, event_type, appointment_id, stage_id, actor_email, decision,
			   comments, pending_approvers, details, created_at
		FROM approval_audit_events
		WHERE 1=1
	`
	var args []interface{}
	argIdx := 1

	if filter.AppointmentID != "" {
		query += fmt.Sprintf(" AND appointment_id = $%d", argIdx)
		args = append(args, filter.AppointmentID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, string(filter.EventType))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			stageID sql.NullString
			details []byte
		)
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.AppointmentID, &stageID, &e.ActorEmail, &e.Decision,
			&e.Comments, pq.Array(&e.PendingApprovers), &details, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.StageID = stageID.String
		e.Details = json.RawMessage(details)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to iterate events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// MemoryRecorder keeps events in process; used when no audit database is configured.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) record(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.events) + 1)
	e.CreatedAt = time.Now().UTC()
	m.events = append(m.events, e)
}

func (m *MemoryRecorder) LogDecision(ctx context.Context, evt DecisionEvent) error {
	m.record(Event{
		EventType:        EventDecision,
		AppointmentID:    evt.AppointmentID,
		StageID:          evt.StageID,
		ActorEmail:       evt.ApproverEmail,
		Decision:         evt.Decision,
		Comments:         evt.Comments,
		PendingApprovers: evt.PendingApprovers,
	})
	return nil
}

func (m *MemoryRecorder) LogEscalation(ctx context.Context, evt EscalationEvent) error {
	m.record(Event{
		EventType:        EventEscalation,
		AppointmentID:    evt.AppointmentID,
		StageID:          evt.FromStageID,
		ActorEmail:       "system",
		Decision:         "escalated",
		Comments:         evt.Reason,
		PendingApprovers: []string{evt.ToApprover},
	})
	return nil
}

func (m *MemoryRecorder) LogAutoApproval(ctx context.Context, appointmentID string, reasons []string) error {
	m.record(Event{EventType: EventAutoApproval, AppointmentID: appointmentID, ActorEmail: "system", Decision: "approved"})
	return nil
}

// Events returns a copy of the recorded events, optionally filtered by type.
func (m *MemoryRecorder) Events(types ...EventType) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if len(types) == 0 || containsType(types, e.EventType) {
			out = append(out, e)
		}
	}
	return out
}

func containsType(types []EventType, t EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

var (
	_ Recorder = (*ApprovalAuditService)(nil)
	_ Recorder = (*MemoryRecorder)(nil)
)
