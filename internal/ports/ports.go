// Package ports allocates dev-server TCP ports from the reserved range.
// Allocation is atomic with respect to the store: the lowest port not held
// by a live session or a running dev server is claimed inside a store
// transaction, after an OS-level bind check.
package ports

import (
	"database/sql"
	"fmt"
	"net"

	"github.com/agentos-dev/agentos/internal/store"
)

// Allocator scans [Start, End] for free ports.
type Allocator struct {
	store *store.Store
	Start int
	End   int
}

// New creates an allocator over the configured range.
func New(st *store.Store, start, end int) *Allocator {
	return &Allocator{store: st, Start: start, End: end}
}

// Bindable reports whether a throwaway listener can bind 127.0.0.1:port.
// Split out so tests can occupy a port and watch the allocator skip it.
func Bindable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// AllocateFor claims the lowest free port in range for the session and
// records it on the row, all inside one transaction. Returns the port.
func (a *Allocator) AllocateFor(sessionID string) (int, error) {
	var allocated int
	err := a.store.WithTx(func(tx *sql.Tx) error {
		used, err := store.UsedPortsTx(tx)
		if err != nil {
			return err
		}
		for port := a.Start; port <= a.End; port++ {
			if used[port] {
				continue
			}
			if !Bindable(port) {
				continue
			}
			if err := store.ClaimPortTx(tx, sessionID, port); err != nil {
				return err
			}
			allocated = port
			return nil
		}
		return fmt.Errorf("no free port in range [%d,%d]", a.Start, a.End)
	})
	if err != nil {
		return 0, err
	}
	return allocated, nil
}

// Release clears the session's port. Releasing a session without a port
// is a no-op.
func (a *Allocator) Release(sessionID string) error {
	return a.store.ReleasePort(sessionID)
}
