// Package store persists projects, sessions, workers, and dev servers in
// sqlite. It is the single source of durable truth; all invariants over
// names, ports, branches, and pane identifiers are enforced here or in
// transactions the session manager opens through it.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound means no row matched the id.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness constraint was violated.
	ErrConflict = errors.New("conflict")
	// ErrIntegrity means a foreign-key constraint was violated.
	ErrIntegrity = errors.New("integrity violation")
)

// UncategorizedProjectID is the reserved project that exists from schema
// bootstrap and absorbs orphaned sessions. It cannot be deleted.
const UncategorizedProjectID = "uncategorized"

// Store wraps the sqlite database. Writes are serialized through mu;
// sqlite readers run concurrently under WAL.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the database at path and runs pending
// migrations. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path == ":memory:" {
		// Shared cache keeps the schema visible across pooled connections.
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a write transaction, serialized against other
// writers. Any error rolls the transaction back.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// now returns the canonical UTC second-precision timestamp string. The
// store is the only writer of created_at / updated_at.
func now() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}

// classify maps sqlite constraint failures onto the store's sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	}
	return err
}

// nullStr converts "" to NULL at the write boundary.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt converts 0 to NULL at the write boundary.
func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// boolInt persists booleans as 0/1.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanStr reads a nullable text column into "".
type scanStr struct{ v *string }

func (n scanStr) Scan(src any) error {
	switch t := src.(type) {
	case nil:
		*n.v = ""
	case string:
		*n.v = t
	case []byte:
		*n.v = string(t)
	default:
		return fmt.Errorf("unexpected column type %T", src)
	}
	return nil
}

// scanInt reads a nullable integer column into 0.
type scanInt struct{ v *int }

func (n scanInt) Scan(src any) error {
	switch t := src.(type) {
	case nil:
		*n.v = 0
	case int64:
		*n.v = int(t)
	default:
		return fmt.Errorf("unexpected column type %T", src)
	}
	return nil
}
