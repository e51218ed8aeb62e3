package repositories

import (
	"context"
	"fmt"
)

// The active-post index enforces at most one non-completed batch per post.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS recipients (
		id             TEXT PRIMARY KEY,
		display_name   TEXT NOT NULL,
		phone          TEXT NOT NULL DEFAULT '',
		website        TEXT NOT NULL DEFAULT '',
		logo_url       TEXT NOT NULL DEFAULT '',
		program_status TEXT NOT NULL DEFAULT 'FULL'
	)`,
	`CREATE INDEX IF NOT EXISTS recipients_program_status ON recipients (program_status)`,
	`CREATE TABLE IF NOT EXISTS render_batches (
		id                  TEXT PRIMARY KEY,
		post_identifier     TEXT NOT NULL,
		template_identifier TEXT NOT NULL,
		total_jobs          INTEGER NOT NULL,
		completed_jobs      INTEGER NOT NULL DEFAULT 0,
		failed_jobs         INTEGER NOT NULL DEFAULT 0,
		pending_jobs        INTEGER NOT NULL DEFAULT 0,
		processing_jobs     INTEGER NOT NULL DEFAULT 0,
		status              TEXT NOT NULL CHECK (status IN ('queued','processing','completed')),
		created_by          TEXT,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL,
		completed_at        TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS render_batches_active_post
		ON render_batches (post_identifier) WHERE status <> 'completed'`,
	`CREATE TABLE IF NOT EXISTS render_jobs (
		id                    TEXT PRIMARY KEY,
		batch_id              TEXT NOT NULL REFERENCES render_batches (id) ON DELETE CASCADE,
		recipient_id          TEXT NOT NULL,
		recipient_name        TEXT NOT NULL,
		post_identifier       TEXT NOT NULL,
		template_identifier   TEXT NOT NULL,
		status                TEXT NOT NULL CHECK (status IN ('pending','processing','completed','failed')),
		external_render_id    TEXT UNIQUE,
		retry_count           INTEGER NOT NULL DEFAULT 0,
		last_error            TEXT,
		processing_started_at TIMESTAMPTZ,
		completed_at          TIMESTAMPTZ,
		artifact_id           TEXT,
		artifact_link         TEXT,
		artifact_path         TEXT,
		duration_seconds      DOUBLE PRECISION,
		file_size_bytes       BIGINT,
		cost_units            DOUBLE PRECISION,
		position              INTEGER NOT NULL,
		created_at            TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL,
		UNIQUE (batch_id, recipient_id)
	)`,
	`CREATE INDEX IF NOT EXISTS render_jobs_claim ON render_jobs (status, created_at, position)`,
	`CREATE INDEX IF NOT EXISTS render_jobs_batch_status ON render_jobs (batch_id, status, updated_at)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS recipients (
		id             TEXT PRIMARY KEY,
		display_name   TEXT NOT NULL,
		phone          TEXT NOT NULL DEFAULT '',
		website        TEXT NOT NULL DEFAULT '',
		logo_url       TEXT NOT NULL DEFAULT '',
		program_status TEXT NOT NULL DEFAULT 'FULL'
	)`,
	`CREATE INDEX IF NOT EXISTS recipients_program_status ON recipients (program_status)`,
	`CREATE TABLE IF NOT EXISTS render_batches (
		id                  TEXT PRIMARY KEY,
		post_identifier     TEXT NOT NULL,
		template_identifier TEXT NOT NULL,
		total_jobs          INTEGER NOT NULL,
		completed_jobs      INTEGER NOT NULL DEFAULT 0,
		failed_jobs         INTEGER NOT NULL DEFAULT 0,
		pending_jobs        INTEGER NOT NULL DEFAULT 0,
		processing_jobs     INTEGER NOT NULL DEFAULT 0,
		status              TEXT NOT NULL CHECK (status IN ('queued','processing','completed')),
		created_by          TEXT,
		created_at          TIMESTAMP NOT NULL,
		updated_at          TIMESTAMP NOT NULL,
		completed_at        TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS render_batches_active_post
		ON render_batches (post_identifier) WHERE status <> 'completed'`,
	`CREATE TABLE IF NOT EXISTS render_jobs (
		id                    TEXT PRIMARY KEY,
		batch_id              TEXT NOT NULL REFERENCES render_batches (id) ON DELETE CASCADE,
		recipient_id          TEXT NOT NULL,
		recipient_name        TEXT NOT NULL,
		post_identifier       TEXT NOT NULL,
		template_identifier   TEXT NOT NULL,
		status                TEXT NOT NULL CHECK (status IN ('pending','processing','completed','failed')),
		external_render_id    TEXT UNIQUE,
		retry_count           INTEGER NOT NULL DEFAULT 0,
		last_error            TEXT,
		processing_started_at TIMESTAMP,
		completed_at          TIMESTAMP,
		artifact_id           TEXT,
		artifact_link         TEXT,
		artifact_path         TEXT,
		duration_seconds      REAL,
		file_size_bytes       INTEGER,
		cost_units            REAL,
		position              INTEGER NOT NULL,
		created_at            TIMESTAMP NOT NULL,
		updated_at            TIMESTAMP NOT NULL,
		UNIQUE (batch_id, recipient_id)
	)`,
	`CREATE INDEX IF NOT EXISTS render_jobs_claim ON render_jobs (status, created_at, position)`,
	`CREATE INDEX IF NOT EXISTS render_jobs_batch_status ON render_jobs (batch_id, status, updated_at)`,
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for i, stmt := range s.db.schema() {
		if _, err := s.db.exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s step %d: %w", s.db.name(), i+1, err)
		}
	}
	return nil
}
