// Package store provides SQLite-backed persistence for the Agora world:
// agents, balances, the transaction ledger, messages, governance rows,
// enforcement records, the event log, and runtime configuration.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection for world state persistence.
type Store struct {
	conn *sqlx.DB

	// now is injected for tests; defaults to time.Now.
	now func() time.Time
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite allows a single writer; one pooled connection keeps
	// concurrent turns queued in Go instead of failing with SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, now: time.Now}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// SetClock replaces the store's time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// DB exposes the underlying connection for pool-saturation monitoring.
func (s *Store) DB() *sqlx.DB {
	return s.conn
}

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		display_name TEXT,
		personality TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		starvation_count INTEGER NOT NULL DEFAULT 0,
		exiled INTEGER NOT NULL DEFAULT 0,
		sanctioned_until INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS balances (
		holder_kind TEXT NOT NULL,
		holder_id INTEGER NOT NULL,
		resource TEXT NOT NULL,
		amount REAL NOT NULL CHECK (amount >= 0),
		PRIMARY KEY (holder_kind, holder_id, resource)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_kind TEXT NOT NULL,
		from_id INTEGER NOT NULL,
		to_kind TEXT NOT NULL,
		to_id INTEGER NOT NULL,
		resource TEXT NOT NULL,
		amount REAL NOT NULL CHECK (amount > 0),
		kind TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		author_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		parent_id INTEGER,
		recipient_id INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS proposals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		author_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		type TEXT NOT NULL,
		target_law_id INTEGER,
		threshold REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		yes_count INTEGER NOT NULL DEFAULT 0,
		no_count INTEGER NOT NULL DEFAULT 0,
		abstain_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		voting_closes_at INTEGER NOT NULL,
		resolved_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS votes (
		proposal_id INTEGER NOT NULL,
		agent_id INTEGER NOT NULL,
		choice TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (proposal_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS laws (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proposal_id INTEGER NOT NULL UNIQUE,
		title TEXT NOT NULL,
		threshold REAL NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		repealed_by INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS enforcement_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		target_id INTEGER NOT NULL,
		law_id INTEGER NOT NULL,
		support_count INTEGER NOT NULL,
		applied_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS enforcement_support (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action_type TEXT NOT NULL,
		target_id INTEGER NOT NULL,
		law_id INTEGER NOT NULL,
		supporter_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (action_type, target_id, law_id, supporter_id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id TEXT,
		agent_id INTEGER,
		type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tick_runs (
		day INTEGER PRIMARY KEY,
		started_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS runtime_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS config_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT NOT NULL,
		actor TEXT NOT NULL,
		reason TEXT NOT NULL,
		changed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_type ON messages(type, created_at);
	CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status, voting_closes_at);
	CREATE INDEX IF NOT EXISTS idx_support_window ON enforcement_support(target_id, law_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_kind ON transactions(kind, created_at);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// toMillis converts a time to Unix milliseconds for storage.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}
