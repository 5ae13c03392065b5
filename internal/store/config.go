package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Well-known runtime config keys.
const (
	KeySimulationActive = "simulation_active"
	KeySimulationPaused = "simulation_paused"
	KeyCurrentDay       = "current_day"
)

// ConfigValue returns the current effective value for a knob, or ok=false
// if it has never been set.
func (s *Store) ConfigValue(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.conn.GetContext(ctx, &v,
		`SELECT value FROM runtime_config WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("config %s: %w", key, err)
	}
	return v, true, nil
}

// ConfigBool reads a boolean knob with a default.
func (s *Store) ConfigBool(ctx context.Context, key string, def bool) (bool, error) {
	v, ok, err := s.ConfigValue(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("config %s not boolean: %w", key, err)
	}
	return b, nil
}

// ConfigFloat reads a numeric knob with a default.
func (s *Store) ConfigFloat(ctx context.Context, key string, def float64) (float64, error) {
	v, ok, err := s.ConfigValue(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("config %s not numeric: %w", key, err)
	}
	return f, nil
}

// ConfigInt reads an integer knob with a default.
func (s *Store) ConfigInt(ctx context.Context, key string, def int64) (int64, error) {
	v, ok, err := s.ConfigValue(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("config %s not integer: %w", key, err)
	}
	return n, nil
}

// SetConfig writes a knob and records who changed it and why in the audit
// trail, atomically.
func (s *Store) SetConfig(ctx context.Context, key, value, actor, reason string) error {
	now := toMillis(s.now())
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin config tx: %w", err)
	}
	defer tx.Rollback()

	var old *string
	var existing string
	err = tx.GetContext(ctx, &existing, `SELECT value FROM runtime_config WHERE key = ?`, key)
	switch {
	case err == nil:
		old = &existing
	case errors.Is(err, sql.ErrNoRows):
		// first write, no prior value
	default:
		return fmt.Errorf("read config %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runtime_config (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now); err != nil {
		return fmt.Errorf("write config %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO config_audit (key, old_value, new_value, actor, reason, changed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, old, value, actor, reason, now); err != nil {
		return fmt.Errorf("audit config %s: %w", key, err)
	}

	return tx.Commit()
}

// ConfigAuditRow is one entry in the knob change history.
type ConfigAuditRow struct {
	ID        int64   `db:"id"`
	Key       string  `db:"key"`
	OldValue  *string `db:"old_value"`
	NewValue  string  `db:"new_value"`
	Actor     string  `db:"actor"`
	Reason    string  `db:"reason"`
	ChangedAt int64   `db:"changed_at"`
}

// ConfigAudit returns the change history for one knob, newest first.
func (s *Store) ConfigAudit(ctx context.Context, key string, limit int) ([]ConfigAuditRow, error) {
	var out []ConfigAuditRow
	err := s.conn.SelectContext(ctx, &out,
		`SELECT * FROM config_audit WHERE key = ? ORDER BY id DESC LIMIT ?`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("config audit %s: %w", key, err)
	}
	return out, nil
}

// BeginTickRun claims the daily tick for a simulated day. It returns false
// when the day has already been claimed, which makes tick replay a no-op.
func (s *Store) BeginTickRun(ctx context.Context, day int64) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO tick_runs (day, started_at) VALUES (?, ?) ON CONFLICT(day) DO NOTHING`,
		day, toMillis(s.now()))
	if err != nil {
		return false, fmt.Errorf("claim tick day %d: %w", day, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CompleteTickRun marks a claimed tick day as finished.
func (s *Store) CompleteTickRun(ctx context.Context, day int64) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE tick_runs SET completed_at = ? WHERE day = ?`, toMillis(s.now()), day)
	if err != nil {
		return fmt.Errorf("complete tick day %d: %w", day, err)
	}
	return nil
}
