// internal/state/schema.go
package state

import (
	"context"
	"fmt"
	"strings"
)

// Timestamps are stored as unix milliseconds and dates as YYYY-MM-DD text
// so both dialects compare them the same way.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS messages (
	id          {{serial}},
	thread_id   TEXT NOT NULL,
	idx         BIGINT NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  BIGINT NOT NULL,
	UNIQUE (thread_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_messages_thread_created ON messages (thread_id, created_at);
CREATE TABLE IF NOT EXISTS thread_sequences (
	thread_id   TEXT PRIMARY KEY,
	last_idx    BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS core_memory (
	block_type  TEXT PRIMARY KEY,
	content     TEXT NOT NULL DEFAULT '',
	version     BIGINT NOT NULL DEFAULT 1,
	revision    BIGINT NOT NULL DEFAULT 1,
	updated_at  BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS core_memory_history (
	id          {{serial}},
	block_type  TEXT NOT NULL,
	content     TEXT NOT NULL,
	version     BIGINT NOT NULL,
	updated_at  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_core_memory_history_block ON core_memory_history (block_type, id);
CREATE TABLE IF NOT EXISTS daily_summaries (
	summary_date TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	created_at   BIGINT NOT NULL,
	updated_at   BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS archival_facts (
	id          {{serial}},
	content     TEXT NOT NULL,
	category    TEXT,
	created_at  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archival_facts_created ON archival_facts (created_at);
CREATE TABLE IF NOT EXISTS cron_jobs (
	id              {{serial}},
	name            TEXT NOT NULL,
	description     TEXT,
	instructions    TEXT NOT NULL,
	timezone        TEXT NOT NULL,
	schedule_days   TEXT,
	schedule_time   TEXT,
	run_date        TEXT,
	is_one_time     INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'active',
	created_by      TEXT NOT NULL DEFAULT 'user',
	created_at      BIGINT NOT NULL,
	updated_at      BIGINT NOT NULL,
	last_run_at     BIGINT,
	last_run_status TEXT,
	last_run_error  TEXT,
	run_count       BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cron_jobs_status ON cron_jobs (status);
CREATE TABLE IF NOT EXISTS agent_state (
	state_key   TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	updated_at  BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS leases (
	name        TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	expires_at  BIGINT NOT NULL
);
`

// columnMigrations bring stores created by earlier releases up to the
// current schema. They fail harmlessly when the column already exists.
var columnMigrations = []string{
	`ALTER TABLE core_memory ADD COLUMN revision BIGINT NOT NULL DEFAULT 1`,
}

func (s *DB) schema() []string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == DialectPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	ddl := strings.ReplaceAll(schemaSQL, "{{serial}}", serial)

	var stmts []string
	for _, stmt := range strings.Split(ddl, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

func (s *DB) migrate(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	for _, stmt := range columnMigrations {
		_, _ = s.db.ExecContext(ctx, stmt)
	}
	return s.bootstrapBlocks(ctx)
}
