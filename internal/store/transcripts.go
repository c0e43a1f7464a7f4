package store

import "database/sql"

// AppendTranscript adds one chat record to a session.
func (s *Store) AppendTranscript(sessionID, role, content string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO transcripts (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			sessionID, role, content, now())
		return err
	})
}

// ListTranscripts returns a session's records in insertion order.
func (s *Store) ListTranscripts(sessionID string) ([]*TranscriptMessage, error) {
	rows, err := s.db.Query(`SELECT id, session_id, role, content, created_at
		FROM transcripts WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*TranscriptMessage
	for rows.Next() {
		var m TranscriptMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CopyTranscriptsTx copies every record from one session to another inside
// an open transaction. Used by fork.
func CopyTranscriptsTx(tx *sql.Tx, fromID, toID string) error {
	_, err := tx.Exec(`INSERT INTO transcripts (session_id, role, content, created_at)
		SELECT ?, role, content, created_at FROM transcripts WHERE session_id = ? ORDER BY id`,
		toID, fromID)
	return err
}
