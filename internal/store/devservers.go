package store

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
)

// decodePorts parses the JSON-encoded ports column; malformed values
// decode as empty rather than failing a read path.
func decodePorts(raw string) []int {
	var ports []int
	if err := json.Unmarshal([]byte(raw), &ports); err != nil {
		return nil
	}
	return ports
}

func encodePorts(ports []int) string {
	if ports == nil {
		ports = []int{}
	}
	b, _ := json.Marshal(ports)
	return string(b)
}

// CreateDevServerInstance inserts an instance row.
func (s *Store) CreateDevServerInstance(d *DevServerInstance) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DevStopped
	}
	return s.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO dev_server_instances
			(id, project_id, type, name, command, status, pid, container_id, ports, working_directory)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.ProjectID, d.Type, d.Name, d.Command, d.Status,
			nullInt(d.PID), nullStr(d.ContainerID), encodePorts(d.Ports), d.WorkingDirectory)
		return err
	})
}

const devServerCols = `id, project_id, type, name, command, status, pid, container_id, ports, working_directory`

func scanDevServer(row interface{ Scan(...any) error }) (*DevServerInstance, error) {
	var d DevServerInstance
	var ports string
	err := row.Scan(&d.ID, &d.ProjectID, &d.Type, &d.Name, &d.Command, &d.Status,
		scanInt{&d.PID}, scanStr{&d.ContainerID}, &ports, &d.WorkingDirectory)
	if err != nil {
		return nil, classify(err)
	}
	d.Ports = decodePorts(ports)
	return &d, nil
}

// GetDevServerInstance fetches an instance by id.
func (s *Store) GetDevServerInstance(id string) (*DevServerInstance, error) {
	row := s.db.QueryRow(`SELECT `+devServerCols+` FROM dev_server_instances WHERE id = ?`, id)
	return scanDevServer(row)
}

// ListDevServerInstances returns instances, optionally filtered by project.
func (s *Store) ListDevServerInstances(projectID string) ([]*DevServerInstance, error) {
	query := `SELECT ` + devServerCols + ` FROM dev_server_instances ORDER BY name, id`
	args := []any{}
	if projectID != "" {
		query = `SELECT ` + devServerCols + ` FROM dev_server_instances WHERE project_id = ? ORDER BY name, id`
		args = append(args, projectID)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*DevServerInstance
	for rows.Next() {
		d, err := scanDevServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDevServerRuntime records the supervisor-observed state.
func (s *Store) UpdateDevServerRuntime(id string, status DevServerStatus, pid int, containerID string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE dev_server_instances SET status = ?, pid = ?, container_id = ? WHERE id = ?`,
			status, nullInt(pid), nullStr(containerID), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// DeleteDevServerInstance removes an instance row.
func (s *Store) DeleteDevServerInstance(id string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM dev_server_instances WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}
