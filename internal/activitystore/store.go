// Package activitystore provides SQLite-backed persistence for the Activity
// Store: the source of truth for sessions, prompt batches, activities,
// observations, resolution events, and the ambient governance/scheduling
// state that rides alongside them.
package activitystore

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion is stamped into backup headers (§6) and bumped whenever the
// schema constant below gains a column or table that changes the export
// format.
const SchemaVersion = 1

// Store is the Activity Store: single-writer SQLite, one struct per table,
// one method per contract.
type Store struct {
	db            *sql.DB
	sourceMachine string

	statsMu    sync.Mutex
	statsCache map[string]cachedSessionStats
}

type cachedSessionStats struct {
	stats     SessionStats
	expiresAt time.Time
}

const statsCacheTTL = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	agent_name TEXT NOT NULL DEFAULT '',
	project_root TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	started_at_epoch INTEGER NOT NULL,
	ended_at TEXT,
	ended_at_epoch INTEGER,
	status TEXT NOT NULL DEFAULT 'active',
	title TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	parent_session_id TEXT NOT NULL DEFAULT '',
	parent_session_reason TEXT NOT NULL DEFAULT '',
	transcript_path TEXT NOT NULL DEFAULT '',
	source_machine_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS prompt_batches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	prompt_number INTEGER NOT NULL,
	user_prompt TEXT NOT NULL DEFAULT '',
	response_summary TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	started_at_epoch INTEGER NOT NULL,
	ended_at TEXT,
	ended_at_epoch INTEGER,
	status TEXT NOT NULL DEFAULT 'active',
	classification TEXT NOT NULL DEFAULT '',
	processed INTEGER NOT NULL DEFAULT 0,
	source_type TEXT NOT NULL DEFAULT 'user',
	plan_content TEXT NOT NULL DEFAULT '',
	plan_file_path TEXT NOT NULL DEFAULT '',
	plan_embedded INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS activities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	prompt_batch_id INTEGER,
	tool_name TEXT NOT NULL,
	tool_input TEXT NOT NULL DEFAULT '{}',
	tool_output_summary TEXT NOT NULL DEFAULT '',
	file_path TEXT NOT NULL DEFAULT '',
	success INTEGER NOT NULL DEFAULT 1,
	error_message TEXT NOT NULL DEFAULT '',
	timestamp TEXT NOT NULL,
	timestamp_epoch INTEGER NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS observations (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	prompt_batch_id INTEGER,
	observation TEXT NOT NULL,
	memory_type TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	importance INTEGER NOT NULL DEFAULT 5,
	created_at TEXT NOT NULL,
	created_at_epoch INTEGER NOT NULL,
	embedded INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	resolved_by_session_id TEXT NOT NULL DEFAULT '',
	resolved_at TEXT,
	resolved_at_epoch INTEGER,
	superseded_by TEXT NOT NULL DEFAULT '',
	source_machine_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS resolution_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	observation_id TEXT NOT NULL,
	action TEXT NOT NULL,
	resolved_by_session_id TEXT NOT NULL DEFAULT '',
	superseded_by TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	created_at_epoch INTEGER NOT NULL,
	source_machine_id TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	applied INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS session_relationships (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id_a TEXT NOT NULL REFERENCES sessions(id),
	session_id_b TEXT NOT NULL REFERENCES sessions(id),
	similarity_score REAL,
	created_by TEXT NOT NULL DEFAULT 'auto',
	created_at TEXT NOT NULL,
	created_at_epoch INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_schedules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	cron_expr TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	last_run_at TEXT,
	last_run_epoch INTEGER,
	created_at TEXT NOT NULL,
	created_at_epoch INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS saved_tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL,
	created_at_epoch INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	updated_at_epoch INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS governance_audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL DEFAULT '',
	agent TEXT NOT NULL DEFAULT '',
	tool_name TEXT NOT NULL,
	tool_use_id TEXT NOT NULL DEFAULT '',
	tool_category TEXT NOT NULL DEFAULT '',
	rule_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	matched_pattern TEXT NOT NULL DEFAULT '',
	tool_input_summary TEXT NOT NULL DEFAULT '',
	enforcement_mode TEXT NOT NULL,
	evaluation_ms REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	created_at_epoch INTEGER NOT NULL,
	source_machine_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_prompt_batches_session ON prompt_batches(session_id, prompt_number);
CREATE INDEX IF NOT EXISTS idx_prompt_batches_status ON prompt_batches(session_id, status);
CREATE INDEX IF NOT EXISTS idx_activities_session ON activities(session_id);
CREATE INDEX IF NOT EXISTS idx_activities_batch ON activities(prompt_batch_id);
CREATE INDEX IF NOT EXISTS idx_activities_processed ON activities(processed);
CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id);
CREATE INDEX IF NOT EXISTS idx_observations_status ON observations(status);
CREATE INDEX IF NOT EXISTS idx_observations_embedded ON observations(embedded);
CREATE INDEX IF NOT EXISTS idx_resolution_events_observation ON resolution_events(observation_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_resolution_events_content_hash ON resolution_events(content_hash);
CREATE INDEX IF NOT EXISTS idx_session_relationships_a ON session_relationships(session_id_a);
CREATE INDEX IF NOT EXISTS idx_session_relationships_b ON session_relationships(session_id_b);
CREATE INDEX IF NOT EXISTS idx_governance_audit_created ON governance_audit_events(created_at_epoch);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at_epoch);
`

// Open creates or opens the Activity Store database at dbPath, ensuring the
// schema exists and applying any additive migrations.
func Open(dbPath, sourceMachineID string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("activitystore: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("activitystore: create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("activitystore: migrate: %w", err)
	}

	return &Store{
		db:            db,
		sourceMachine: sourceMachineID,
		statsCache:    make(map[string]cachedSessionStats),
	}, nil
}

// migrate applies incremental schema migrations for existing databases.
func migrate(db *sql.DB) error {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('observations') WHERE name = 'source_machine_id'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check observations.source_machine_id: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE observations ADD COLUMN source_machine_id TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add observations.source_machine_id: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for callers that need raw access (backup,
// export/import).
func (s *Store) DB() *sql.DB {
	return s.db
}

func nowStamp() (string, int64) {
	now := time.Now().UTC()
	return now.Format(time.RFC3339), now.Unix()
}

func nowTime() time.Time {
	return time.Now().UTC()
}
