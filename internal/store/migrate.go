package store

import (
	"database/sql"
	"fmt"
)

// migration is one ordered schema step. Steps must be idempotent against
// partial application; completion is recorded after the change so a crash
// mid-step re-runs it.
type migration struct {
	id    int
	name  string
	apply func(tx *sql.Tx) error
}

var migrations = []migration{
	{1, "base schema", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	working_directory TEXT NOT NULL DEFAULT '',
	agent_type TEXT NOT NULL DEFAULT 'claude',
	default_model TEXT NOT NULL DEFAULT 'sonnet',
	expanded INTEGER NOT NULL DEFAULT 1,
	sort_order INTEGER NOT NULL DEFAULT 0,
	is_uncategorized INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'idle',
	working_directory TEXT NOT NULL DEFAULT '~',
	agent_type TEXT NOT NULL DEFAULT 'claude',
	model TEXT NOT NULL DEFAULT 'sonnet',
	system_prompt TEXT,
	tmux_name TEXT,
	project_id TEXT NOT NULL REFERENCES projects(id),
	parent_session_id TEXT,
	claude_session_id TEXT,
	auto_approve INTEGER NOT NULL DEFAULT 0,
	pending_prompt TEXT,
	worktree_path TEXT,
	branch_name TEXT,
	base_branch TEXT,
	dev_server_port INTEGER,
	pr_url TEXT,
	pr_number INTEGER,
	pr_status TEXT,
	conductor_session_id TEXT REFERENCES sessions(id),
	worker_task TEXT,
	worker_status TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_tmux_name
	ON sessions(tmux_name) WHERE tmux_name IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_worktree
	ON sessions(worktree_path) WHERE worktree_path IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_branch
	ON sessions(working_directory, branch_name) WHERE branch_name IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_port
	ON sessions(dev_server_port) WHERE dev_server_port IS NOT NULL;
CREATE TABLE IF NOT EXISTS transcripts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id);
`)
		return err
	}},
	{2, "dev servers", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS dev_server_templates (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	command TEXT NOT NULL,
	port INTEGER,
	port_env_var TEXT,
	sort_order INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS dev_server_instances (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	command TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'stopped',
	pid INTEGER,
	container_id TEXT,
	ports TEXT NOT NULL DEFAULT '[]',
	working_directory TEXT NOT NULL DEFAULT ''
);
`)
		return err
	}},
	{3, "seed uncategorized project", func(tx *sql.Tx) error {
		ts := now()
		_, err := tx.Exec(`INSERT OR IGNORE INTO projects
			(id, name, is_uncategorized, created_at, updated_at)
			VALUES (?, 'Uncategorized', 1, ?, ?)`,
			UncategorizedProjectID, ts, ts)
		return err
	}},
	{4, "fold legacy group_path rows", func(tx *sql.Tx) error {
		// Older schemas grouped sessions by group_path. project_id is
		// canonical; anything without one lands in uncategorized.
		_, err := tx.Exec(`UPDATE sessions SET project_id = ?
			WHERE project_id IS NULL OR project_id = ''`,
			UncategorizedProjectID)
		return err
	}},
}

// migrate applies any missing migrations in order. Concurrent starts
// cannot double-apply: the id row is claimed with INSERT OR IGNORE and a
// zero-rows-affected claim skips the step.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("migration table: %w", err)
	}

	for _, m := range migrations {
		err := s.WithTx(func(tx *sql.Tx) error {
			res, err := tx.Exec(`INSERT OR IGNORE INTO _migrations (id, name, applied_at) VALUES (?, ?, ?)`,
				m.id, m.name, now())
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				// Already applied.
				return nil
			}
			return m.apply(tx)
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.id, m.name, err)
		}
	}
	return nil
}
