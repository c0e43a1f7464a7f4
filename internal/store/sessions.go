package store

import (
	"database/sql"
	"fmt"
)

const sessionCols = `id, name, status, working_directory, agent_type, model, system_prompt,
	tmux_name, project_id, parent_session_id, claude_session_id, auto_approve, pending_prompt,
	worktree_path, branch_name, base_branch, dev_server_port,
	pr_url, pr_number, pr_status, conductor_session_id, worker_task, worker_status,
	created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var autoApprove int
	var prStatus, workerStatus string
	err := row.Scan(&sess.ID, &sess.Name, &sess.Status, &sess.WorkingDirectory,
		&sess.AgentType, &sess.Model, scanStr{&sess.SystemPrompt},
		scanStr{&sess.TmuxName}, &sess.ProjectID, scanStr{&sess.ParentSessionID},
		scanStr{&sess.ClaudeSessionID}, &autoApprove, scanStr{&sess.PendingPrompt},
		scanStr{&sess.WorktreePath}, scanStr{&sess.BranchName}, scanStr{&sess.BaseBranch},
		scanInt{&sess.DevServerPort},
		scanStr{&sess.PRURL}, scanInt{&sess.PRNumber}, scanStr{&prStatus},
		scanStr{&sess.ConductorSessionID}, scanStr{&sess.WorkerTask}, scanStr{&workerStatus},
		&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	sess.AutoApprove = autoApprove != 0
	sess.PRStatus = PRStatus(prStatus)
	sess.WorkerStatus = WorkerStatus(workerStatus)
	return &sess, nil
}

// InsertSessionTx inserts a session inside an open transaction. The caller
// owns id generation and invariant checks that span other tables.
func InsertSessionTx(tx *sql.Tx, sess *Session) error {
	ts := now()
	sess.CreatedAt, sess.UpdatedAt = ts, ts
	if sess.Status == "" {
		sess.Status = StatusIdle
	}
	_, err := tx.Exec(`INSERT INTO sessions (`+sessionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.Status, sess.WorkingDirectory, sess.AgentType, sess.Model,
		nullStr(sess.SystemPrompt), nullStr(sess.TmuxName), sess.ProjectID,
		nullStr(sess.ParentSessionID), nullStr(sess.ClaudeSessionID),
		boolInt(sess.AutoApprove), nullStr(sess.PendingPrompt),
		nullStr(sess.WorktreePath), nullStr(sess.BranchName), nullStr(sess.BaseBranch),
		nullInt(sess.DevServerPort),
		nullStr(sess.PRURL), nullInt(sess.PRNumber), nullStr(string(sess.PRStatus)),
		nullStr(sess.ConductorSessionID), nullStr(sess.WorkerTask), nullStr(string(sess.WorkerStatus)),
		sess.CreatedAt, sess.UpdatedAt)
	return err
}

// CreateSession inserts a session in its own transaction.
func (s *Store) CreateSession(sess *Session) error {
	return s.WithTx(func(tx *sql.Tx) error {
		return InsertSessionTx(tx, sess)
	})
}

// GetSession fetches a session by id.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// GetSessionByTmuxName resolves a pane identifier to its session.
func (s *Store) GetSessionByTmuxName(name string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE tmux_name = ?`, name)
	return scanSession(row)
}

// ListSessions returns all sessions in creation order.
func (s *Store) ListSessions() ([]*Session, error) {
	return s.querySessions(`SELECT ` + sessionCols + ` FROM sessions ORDER BY created_at, id`)
}

// ListSessionsByProject returns a project's sessions in creation order.
func (s *Store) ListSessionsByProject(projectID string) ([]*Session, error) {
	return s.querySessions(`SELECT `+sessionCols+` FROM sessions WHERE project_id = ? ORDER BY created_at, id`, projectID)
}

// ListWorkers returns the sessions owned by a conductor.
func (s *Store) ListWorkers(conductorID string) ([]*Session, error) {
	return s.querySessions(`SELECT `+sessionCols+` FROM sessions WHERE conductor_session_id = ? ORDER BY created_at, id`, conductorID)
}

func (s *Store) querySessions(query string, args ...any) ([]*Session, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RenameSession updates name and tmux_name together. A unique-index hit on
// the new pane name surfaces as ErrConflict with no partial update.
func (s *Store) RenameSession(id, name, tmuxName string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE sessions SET name = ?, tmux_name = ?, updated_at = ? WHERE id = ?`,
			name, nullStr(tmuxName), now(), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// MoveSession reassigns a session to another project.
func (s *Store) MoveSession(id, projectID string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE sessions SET project_id = ?, updated_at = ? WHERE id = ?`,
			projectID, now(), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// SetSessionStatus records the latest derived pane status.
func (s *Store) SetSessionStatus(id string, status SessionStatus) error {
	return s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
			status, now(), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// SetWorkerStatus records a worker lifecycle transition.
func (s *Store) SetWorkerStatus(id string, status WorkerStatus) error {
	return s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE sessions SET worker_status = ?, updated_at = ? WHERE id = ?`,
			string(status), now(), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// SetClaudeSessionID records the upstream agent handle. Set exactly once;
// later observations are ignored rather than overwritten.
func (s *Store) SetClaudeSessionID(id, claudeID string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE sessions SET claude_session_id = ?, updated_at = ?
			WHERE id = ? AND claude_session_id IS NULL`,
			claudeID, now(), id)
		return err
	})
}

// SetSessionPR persists PR tracking fields.
func (s *Store) SetSessionPR(id, url string, number int, status PRStatus) error {
	return s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE sessions SET pr_url = ?, pr_number = ?, pr_status = ?, updated_at = ? WHERE id = ?`,
			nullStr(url), nullInt(number), nullStr(string(status)), now(), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// SetAutoApprove updates the auto-approve flag.
func (s *Store) SetAutoApprove(id string, autoApprove bool) error {
	return s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE sessions SET auto_approve = ?, updated_at = ? WHERE id = ?`,
			boolInt(autoApprove), now(), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// ClearPendingPrompt drops the out-of-band prompt after first delivery.
func (s *Store) ClearPendingPrompt(id string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE sessions SET pending_prompt = NULL, updated_at = ? WHERE id = ?`, now(), id)
		return err
	})
}

// DeleteSession removes the row; transcripts cascade.
func (s *Store) DeleteSession(id string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// UsedPortsTx returns every port held by a live session or a running dev
// server instance, inside the allocator's transaction.
func UsedPortsTx(tx *sql.Tx) (map[int]bool, error) {
	used := make(map[int]bool)
	rows, err := tx.Query(`SELECT dev_server_port FROM sessions WHERE dev_server_port IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		used[p] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(`SELECT ports FROM dev_server_instances WHERE status IN ('starting', 'running')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		for _, p := range decodePorts(raw) {
			used[p] = true
		}
	}
	return used, rows.Err()
}

// ClaimPortTx sets a session's port inside the allocator's transaction.
func ClaimPortTx(tx *sql.Tx, sessionID string, port int) error {
	res, err := tx.Exec(`UPDATE sessions SET dev_server_port = ?, updated_at = ? WHERE id = ?`,
		port, now(), sessionID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ReleasePort clears a session's port.
func (s *Store) ReleasePort(sessionID string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE sessions SET dev_server_port = NULL, updated_at = ? WHERE id = ?`,
			now(), sessionID)
		return err
	})
}

// CountSessionsByWorkerStatus aggregates a conductor's workers by status.
func (s *Store) CountSessionsByWorkerStatus(conductorID string) (map[WorkerStatus]int, error) {
	rows, err := s.db.Query(`SELECT worker_status, COUNT(*) FROM sessions
		WHERE conductor_session_id = ? GROUP BY worker_status`, conductorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[WorkerStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(scanStr{&status}, &n); err != nil {
			return nil, err
		}
		out[WorkerStatus(status)] = n
	}
	return out, rows.Err()
}

// sessionNumberPrefix matches default "Session N" names; see NextSessionNumber.
const sessionNamePrefix = "Session "

// NextSessionNumber returns 1 + the highest numeric suffix among sessions
// named "Session N".
func (s *Store) NextSessionNumber() (int, error) {
	rows, err := s.db.Query(`SELECT name FROM sessions WHERE name LIKE 'Session %'`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	max := 0
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, err
		}
		var n int
		if _, err := fmt.Sscanf(name, sessionNamePrefix+"%d", &n); err == nil {
			if fmt.Sprintf("%s%d", sessionNamePrefix, n) == name && n > max {
				max = n
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return max + 1, nil
}
