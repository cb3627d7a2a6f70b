package store

import (
	"fmt"

	"codedesk/internal/logging"
)

// schemaMigrations is the ordered list of schema steps. The applied count
// is tracked in PRAGMA user_version; never reorder or edit an entry that
// has shipped, only append.
var schemaMigrations = []string{
	`
CREATE TABLE projects (
    id TEXT PRIMARY KEY NOT NULL CHECK(length(id) = 36),
    name TEXT NOT NULL CHECK(length(trim(name)) > 0),
    dir TEXT NOT NULL CHECK(length(trim(dir)) > 0),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX projects_dir_idx ON projects(dir);
`,
	`
CREATE TABLE sessions (
    id TEXT PRIMARY KEY NOT NULL CHECK(length(id) = 36),
    project_id TEXT NOT NULL CHECK(length(project_id) = 36) REFERENCES projects(id) ON DELETE CASCADE,

    show_in_gui INTEGER NOT NULL DEFAULT 0 CHECK(show_in_gui IN (0, 1)),

    name TEXT NOT NULL DEFAULT 'New Session',
    harness_type TEXT NOT NULL DEFAULT 'opencode',
    harness_session_id TEXT,

    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX sessions_harness_session_id_uq ON sessions(harness_session_id);
CREATE INDEX sessions_project_id_idx ON sessions(project_id);
`,
	`
CREATE TABLE session_messages (
    session_id TEXT NOT NULL CHECK(length(session_id) = 36) REFERENCES sessions(id) ON DELETE CASCADE,
    id TEXT NOT NULL,

    role TEXT NOT NULL,

    created_at TEXT NOT NULL,
    completed_at TEXT NOT NULL,
    parent_id TEXT NOT NULL,
    provider_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    error_json TEXT NOT NULL,

    removed_at TEXT,
    updated_at TEXT NOT NULL,

    PRIMARY KEY (session_id, id)
);
CREATE INDEX session_messages_created_idx ON session_messages(session_id, created_at);
`,
	`
CREATE TABLE session_message_parts (
    session_id TEXT NOT NULL CHECK(length(session_id) = 36) REFERENCES sessions(id) ON DELETE CASCADE,
    message_id TEXT NOT NULL,
    id TEXT NOT NULL,

    part_type TEXT NOT NULL,
    text TEXT NOT NULL,
    tool_json TEXT NOT NULL,

    updated_at TEXT NOT NULL,

    PRIMARY KEY (session_id, message_id, id),
    FOREIGN KEY (session_id, message_id)
        REFERENCES session_messages(session_id, id) ON DELETE CASCADE
);
CREATE INDEX session_message_parts_message_idx ON session_message_parts(session_id, message_id);
`,
}

// migrate applies any schema steps past the recorded user_version, each in
// its own transaction.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version > len(schemaMigrations) {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, len(schemaMigrations))
	}
	if version == len(schemaMigrations) {
		logging.StoreDebug("Schema already at version %d", version)
		return nil
	}

	logging.Store("Migrating schema from version %d to %d", version, len(schemaMigrations))

	for i := version; i < len(schemaMigrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(schemaMigrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		// PRAGMA cannot take parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record schema version %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
		logging.StoreDebug("Applied schema migration %d", i+1)
	}

	return nil
}
