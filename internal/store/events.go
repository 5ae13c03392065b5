package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Event types emitted by the core. Every mutation produces at least one.
const (
	EventDailyConsumption   = "daily_consumption"
	EventBecameDormant      = "became_dormant"
	EventAgentDied          = "agent_died"
	EventAwakened           = "awakened"
	EventInvalidAction      = "invalid_action"
	EventActionApplied      = "action_applied"
	EventProposalResolved   = "proposal_resolved"
	EventLawActivated       = "law_activated"
	EventLawRepealed        = "law_repealed"
	EventEnforcementApplied = "enforcement_applied"
	EventGuardrailStop      = "simulation_stopped_guardrail"
	EventTickCompleted      = "tick_completed"
	EventConfigChanged      = "config_changed"
)

// AppendEvent writes one event row outside any surrounding transaction.
func (s *Store) AppendEvent(ctx context.Context, agentID *int64, turnID string, typ string, payload map[string]any) error {
	return appendEvent(ctx, s.conn, s.now(), agentID, turnID, typ, payload)
}

// AppendEventTx writes one event row inside an open transaction so the
// event commits atomically with the mutation it records.
func (s *Store) AppendEventTx(ctx context.Context, tx *sqlx.Tx, agentID *int64, turnID string, typ string, payload map[string]any) error {
	return appendEvent(ctx, tx, s.now(), agentID, turnID, typ, payload)
}

func appendEvent(ctx context.Context, db sqlx.ExecerContext, at time.Time, agentID *int64, turnID string, typ string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	var turn *string
	if turnID != "" {
		turn = &turnID
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO events (turn_id, agent_id, type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn, agentID, typ, string(raw), toMillis(at))
	if err != nil {
		return fmt.Errorf("append event %s: %w", typ, err)
	}
	return nil
}

// RecentEvents returns the most recent events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	var out []Event
	err := s.conn.SelectContext(ctx, &out,
		`SELECT * FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return out, nil
}

// EventsByType returns events of one type since the given time, oldest first.
func (s *Store) EventsByType(ctx context.Context, typ string, since time.Time) ([]Event, error) {
	var out []Event
	err := s.conn.SelectContext(ctx, &out,
		`SELECT * FROM events WHERE type = ? AND created_at >= ? ORDER BY id`,
		typ, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("events by type %s: %w", typ, err)
	}
	return out, nil
}

// CountEventsByType counts events of one type since the given time.
func (s *Store) CountEventsByType(ctx context.Context, typ string, since time.Time) (int, error) {
	var n int
	err := s.conn.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM events WHERE type = ? AND created_at >= ?`,
		typ, toMillis(since))
	if err != nil {
		return 0, fmt.Errorf("count events %s: %w", typ, err)
	}
	return n, nil
}

// CountAgentActionsSince counts an agent's applied actions in a window.
// Used for sanction rate limiting.
func (s *Store) CountAgentActionsSince(ctx context.Context, agentID int64, since time.Time) (int, error) {
	var n int
	err := s.conn.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM events WHERE agent_id = ? AND type = ? AND created_at >= ?`,
		agentID, EventActionApplied, toMillis(since))
	if err != nil {
		return 0, fmt.Errorf("count actions for agent %d: %w", agentID, err)
	}
	return n, nil
}
