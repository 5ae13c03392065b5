package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AgentFallbackName is the name used when an agent has not paid to set one.
func AgentFallbackName(id int64) string {
	return fmt.Sprintf("Agent %d", id)
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// CreateAgent inserts a new active agent with the given id and personality.
func (s *Store) CreateAgent(ctx context.Context, id int64, personality string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO agents (id, personality, status, created_at) VALUES (?, ?, ?, ?)`,
		id, personality, StatusActive, toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("create agent %d: %w", id, err)
	}
	return nil
}

// Agent fetches one agent by id.
func (s *Store) Agent(ctx context.Context, id int64) (Agent, error) {
	var a Agent
	err := s.conn.GetContext(ctx, &a, `SELECT * FROM agents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Agent{}, fmt.Errorf("get agent %d: %w", id, err)
	}
	return a, nil
}

// AgentsByStatus lists agents in the given lifecycle state, ordered by id.
func (s *Store) AgentsByStatus(ctx context.Context, status AgentStatus) ([]Agent, error) {
	var out []Agent
	err := s.conn.SelectContext(ctx, &out,
		`SELECT * FROM agents WHERE status = ? ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("list agents (%s): %w", status, err)
	}
	return out, nil
}

// AllAgents lists every agent, dead included, ordered by id.
func (s *Store) AllAgents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	if err := s.conn.SelectContext(ctx, &out, `SELECT * FROM agents ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return out, nil
}

// UpdateAgentStatus moves an agent to the given state and starvation count.
// It refuses to resurrect: a dead row is never updated.
func (s *Store) UpdateAgentStatus(ctx context.Context, id int64, status AgentStatus, starvation int) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE agents SET status = ?, starvation_count = ? WHERE id = ? AND status != ?`,
		status, starvation, id, StatusDead)
	if err != nil {
		return fmt.Errorf("update agent %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("agent %d is dead or missing: %w", id, ErrNotFound)
	}
	return nil
}

// SetStarvationCount updates only the starvation counter.
func (s *Store) SetStarvationCount(ctx context.Context, id int64, count int) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE agents SET starvation_count = ? WHERE id = ?`, count, id)
	if err != nil {
		return fmt.Errorf("set starvation for agent %d: %w", id, err)
	}
	return nil
}

// SetDisplayName records an agent's chosen name.
func (s *Store) SetDisplayName(ctx context.Context, id int64, name string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE agents SET display_name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("set name for agent %d: %w", id, err)
	}
	return nil
}

// SetExiled flips an agent's voting-rights flag.
func (s *Store) SetExiled(ctx context.Context, id int64, exiled bool) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE agents SET exiled = ? WHERE id = ?`, exiled, id)
	if err != nil {
		return fmt.Errorf("set exiled for agent %d: %w", id, err)
	}
	return nil
}

// SetSanctionedUntil sets the expiry of an agent's rate-limit sanction.
func (s *Store) SetSanctionedUntil(ctx context.Context, id int64, until int64) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE agents SET sanctioned_until = ? WHERE id = ?`, until, id)
	if err != nil {
		return fmt.Errorf("set sanction for agent %d: %w", id, err)
	}
	return nil
}
