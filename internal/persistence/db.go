// Package persistence provides SQLite-backed storage for scenarios,
// runs, agents, steps, and messages. See design doc component
// (persistence) and external interface 6.4.
package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection for run persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at path in WAL mode.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scenarios (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		world_config_json TEXT NOT NULL,
		agent_templates_json TEXT NOT NULL,
		max_steps INTEGER NOT NULL,
		tick_delay_seconds REAL NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		scenario_id TEXT NOT NULL,
		status TEXT NOT NULL,
		current_step INTEGER NOT NULL,
		max_steps INTEGER NOT NULL,
		seed INTEGER,
		world_state_json TEXT NOT NULL,
		metrics_json TEXT NOT NULL,
		evaluation_json TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS run_agents (
		run_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		location_id TEXT NOT NULL,
		health REAL NOT NULL,
		stress REAL NOT NULL,
		is_active INTEGER NOT NULL,
		inventory_json TEXT NOT NULL,
		PRIMARY KEY (run_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		world_state_json TEXT NOT NULL,
		actions_json TEXT NOT NULL,
		avg_health REAL NOT NULL,
		avg_stress REAL NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (run_id, step_index)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		sequence INTEGER NOT NULL,
		from_agent_id TEXT NOT NULL,
		to_target TEXT,
		message_type TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id, step_index);
	CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id, step_index, sequence);
	CREATE INDEX IF NOT EXISTS idx_messages_agent ON messages(run_id, from_agent_id);
	CREATE INDEX IF NOT EXISTS idx_run_agents_run ON run_agents(run_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
