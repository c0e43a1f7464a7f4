package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// CreateProject inserts a project. Blank id gets a fresh uuid.
func (s *Store) CreateProject(p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.AgentType == "" {
		p.AgentType = "claude"
	}
	if p.DefaultModel == "" {
		p.DefaultModel = "sonnet"
	}
	ts := now()
	p.CreatedAt, p.UpdatedAt = ts, ts
	return s.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO projects
			(id, name, working_directory, agent_type, default_model, expanded, sort_order, is_uncategorized, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			p.ID, p.Name, p.WorkingDirectory, p.AgentType, p.DefaultModel,
			boolInt(p.Expanded), p.SortOrder, p.CreatedAt, p.UpdatedAt)
		return err
	})
}

const projectCols = `id, name, working_directory, agent_type, default_model, expanded, sort_order, is_uncategorized, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	var expanded, uncategorized int
	err := row.Scan(&p.ID, &p.Name, &p.WorkingDirectory, &p.AgentType, &p.DefaultModel,
		&expanded, &p.SortOrder, &uncategorized, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	p.Expanded = expanded != 0
	p.IsUncategorized = uncategorized != 0
	return &p, nil
}

// GetProject fetches a project by id.
func (s *Store) GetProject(id string) (*Project, error) {
	row := s.db.QueryRow(`SELECT `+projectCols+` FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns all projects ordered by sort order then name.
func (s *Store) ListProjects() ([]*Project, error) {
	rows, err := s.db.Query(`SELECT ` + projectCols + ` FROM projects ORDER BY sort_order, name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProject persists mutable project fields and bumps updated_at.
func (s *Store) UpdateProject(p *Project) error {
	return s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE projects SET
			name = ?, working_directory = ?, agent_type = ?, default_model = ?,
			expanded = ?, sort_order = ?, updated_at = ?
			WHERE id = ?`,
			p.Name, p.WorkingDirectory, p.AgentType, p.DefaultModel,
			boolInt(p.Expanded), p.SortOrder, now(), p.ID)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// DeleteProject removes an empty project. The uncategorized project and
// projects that still own sessions or dev servers are refused.
func (s *Store) DeleteProject(id string) error {
	if id == UncategorizedProjectID {
		return fmt.Errorf("%w: the uncategorized project cannot be deleted", ErrConflict)
	}
	return s.WithTx(func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM sessions WHERE project_id = ?`, id).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: project has %d sessions", ErrConflict, n)
		}
		if err := tx.QueryRow(`SELECT COUNT(*) FROM dev_server_instances WHERE project_id = ? AND status != 'stopped'`, id).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: project has %d running dev servers", ErrConflict, n)
		}
		res, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// ListDevServerTemplates returns a project's templates in sort order.
func (s *Store) ListDevServerTemplates(projectID string) ([]*DevServerTemplate, error) {
	rows, err := s.db.Query(`SELECT id, project_id, name, type, command, port, port_env_var, sort_order
		FROM dev_server_templates WHERE project_id = ? ORDER BY sort_order, name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*DevServerTemplate
	for rows.Next() {
		var t DevServerTemplate
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Type, &t.Command,
			scanInt{&t.Port}, scanStr{&t.PortEnvVar}, &t.SortOrder); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// GetDevServerTemplate fetches one template by id.
func (s *Store) GetDevServerTemplate(id string) (*DevServerTemplate, error) {
	row := s.db.QueryRow(`SELECT id, project_id, name, type, command, port, port_env_var, sort_order
		FROM dev_server_templates WHERE id = ?`, id)
	var t DevServerTemplate
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Type, &t.Command,
		scanInt{&t.Port}, scanStr{&t.PortEnvVar}, &t.SortOrder)
	if err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

// CreateDevServerTemplate inserts a template under a project.
func (s *Store) CreateDevServerTemplate(t *DevServerTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return s.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO dev_server_templates
			(id, project_id, name, type, command, port, port_env_var, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ProjectID, t.Name, t.Type, t.Command,
			nullInt(t.Port), nullStr(t.PortEnvVar), t.SortOrder)
		return err
	})
}

// DeleteDevServerTemplate removes a template.
func (s *Store) DeleteDevServerTemplate(id string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM dev_server_templates WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// requireRow turns a zero-row update/delete into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
