package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaVersion gates migrations via PRAGMA user_version, the way the
// teacher's internal/db/migrations tracks schema revisions but folded
// into one file since the coordinator's schema is small and stable.
const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS agents (
	token              TEXT PRIMARY KEY,
	agent_id           TEXT NOT NULL UNIQUE,
	capabilities       TEXT NOT NULL DEFAULT '[]',
	status             TEXT NOT NULL,
	current_task       TEXT,
	working_directory  TEXT,
	color              INTEGER NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	terminated_at      TEXT
);

CREATE TABLE IF NOT EXISTS tasks (
	task_id           TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	description       TEXT,
	assigned_to       TEXT,
	created_by        TEXT NOT NULL,
	status            TEXT NOT NULL,
	priority          TEXT NOT NULL,
	parent_task       TEXT,
	child_tasks       TEXT NOT NULL DEFAULT '[]',
	depends_on_tasks  TEXT NOT NULL DEFAULT '[]',
	notes             TEXT NOT NULL DEFAULT '[]',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	FOREIGN KEY (parent_task) REFERENCES tasks(task_id)
);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);
CREATE INDEX IF NOT EXISTS idx_tasks_parent_task ON tasks(parent_task);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS agent_actions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id    TEXT NOT NULL,
	action_type TEXT NOT NULL,
	task_id     TEXT,
	timestamp   TEXT NOT NULL,
	details     TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_actions_agent_id ON agent_actions(agent_id);
CREATE INDEX IF NOT EXISTS idx_actions_timestamp ON agent_actions(timestamp);

-- opaque key/value containers: project context, admin config, file
-- metadata, and RAG watermarks/hashes all share this shape (spec §3).
CREATE TABLE IF NOT EXISTS kv_store (
	namespace    TEXT NOT NULL,
	key          TEXT NOT NULL,
	value        TEXT NOT NULL,
	description  TEXT,
	updated_by   TEXT,
	last_updated TEXT NOT NULL,
	PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS agent_messages (
	message_id   TEXT PRIMARY KEY,
	sender_id    TEXT NOT NULL,
	recipient_id TEXT,
	content      TEXT NOT NULL,
	message_type TEXT NOT NULL,
	priority     TEXT NOT NULL,
	timestamp    TEXT NOT NULL,
	delivered    INTEGER NOT NULL DEFAULT 0,
	read         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_recipient ON agent_messages(recipient_id);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON agent_messages(sender_id);

CREATE TABLE IF NOT EXISTS file_status (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path   TEXT NOT NULL,
	agent_id    TEXT NOT NULL,
	locked_at   TEXT NOT NULL,
	released_at TEXT,
	status      TEXT NOT NULL,
	notes       TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_file_status_inuse
	ON file_status(file_path) WHERE status = 'in_use';

CREATE TABLE IF NOT EXISTS rag_chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	source_type TEXT NOT NULL,
	source_ref  TEXT NOT NULL,
	chunk_text  TEXT NOT NULL,
	indexed_at  TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_rag_chunks_source ON rag_chunks(source_type, source_ref);

CREATE TABLE IF NOT EXISTS rag_embeddings (
	chunk_id  INTEGER PRIMARY KEY REFERENCES rag_chunks(id) ON DELETE CASCADE,
	dimension INTEGER NOT NULL,
	vector    BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS session_state (
	session_id           TEXT PRIMARY KEY,
	transport_state      TEXT NOT NULL,
	conversation_state   TEXT NOT NULL DEFAULT '{}',
	status               TEXT NOT NULL,
	last_heartbeat       TEXT NOT NULL,
	disconnected_at      TEXT,
	grace_period_expires TEXT,
	recovery_attempts    INTEGER NOT NULL DEFAULT 0
);
`

// applySchema creates every table idempotently and records the schema
// version, mirroring the teacher's migration runner's end state without
// needing a full migration framework for a schema this size.
func applySchema(ctx context.Context, db *sqlx.DB) error {
	var current int
	if err := db.GetContext(ctx, &current, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to apply schema DDL: %w", err)
	}

	if current < schemaVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}
	return nil
}
