package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

// openTest opens a store on a temp-file database. A file path (not
// ":memory:") keeps each test's schema isolated from the others.
func openTest(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(projectID string) *Session {
	id := uuid.NewString()
	return &Session{
		ID:               id,
		Name:             "test session",
		WorkingDirectory: "/tmp/proj",
		AgentType:        "claude",
		Model:            "sonnet",
		ProjectID:        projectID,
	}
}

func TestOpenSeedsUncategorized(t *testing.T) {
	s := openTest(t)
	p, err := s.GetProject(UncategorizedProjectID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if !p.IsUncategorized {
		t.Error("seeded project is not marked uncategorized")
	}
	if p.Name != "Uncategorized" {
		t.Errorf("Name = %q, want Uncategorized", p.Name)
	}
}

func TestReopenReplaysMigrationsAsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	sess := newTestSession(UncategorizedProjectID)
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()
	got, err := s2.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession after reopen: %v", err)
	}
	if got.Name != sess.Name {
		t.Errorf("Name = %q, want %q", got.Name, sess.Name)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTest(t)
	_, err := s.GetSession("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTest(t)
	sess := newTestSession(UncategorizedProjectID)
	sess.SystemPrompt = "be terse"
	sess.TmuxName = "claude-" + sess.ID[:8]
	sess.AutoApprove = true
	sess.BranchName = "feature/dark-mode"
	sess.BaseBranch = "main"
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.SystemPrompt != "be terse" || !got.AutoApprove {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.Status != StatusIdle {
		t.Errorf("Status = %s, want default idle", got.Status)
	}
	if got.CreatedAt == "" || got.UpdatedAt == "" {
		t.Error("timestamps not stamped on insert")
	}

	byName, err := s.GetSessionByTmuxName(sess.TmuxName)
	if err != nil {
		t.Fatalf("GetSessionByTmuxName: %v", err)
	}
	if byName.ID != sess.ID {
		t.Errorf("resolved %s, want %s", byName.ID, sess.ID)
	}
}

func TestDuplicateTmuxNameConflicts(t *testing.T) {
	s := openTest(t)
	a := newTestSession(UncategorizedProjectID)
	a.TmuxName = "claude-abc123"
	if err := s.CreateSession(a); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	b := newTestSession(UncategorizedProjectID)
	b.TmuxName = "claude-abc123"
	if err := s.CreateSession(b); !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestDuplicateBranchPerDirectoryConflicts(t *testing.T) {
	s := openTest(t)
	a := newTestSession(UncategorizedProjectID)
	a.BranchName = "feature/x"
	if err := s.CreateSession(a); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Same branch in the same repo is refused.
	b := newTestSession(UncategorizedProjectID)
	b.BranchName = "feature/x"
	if err := s.CreateSession(b); !errors.Is(err, ErrConflict) {
		t.Errorf("same dir err = %v, want ErrConflict", err)
	}

	// Same branch name in another repo is fine.
	c := newTestSession(UncategorizedProjectID)
	c.WorkingDirectory = "/tmp/other"
	c.BranchName = "feature/x"
	if err := s.CreateSession(c); err != nil {
		t.Errorf("other dir err = %v, want nil", err)
	}
}

func TestUnknownProjectIsIntegrityError(t *testing.T) {
	s := openTest(t)
	sess := newTestSession("no-such-project")
	if err := s.CreateSession(sess); !errors.Is(err, ErrIntegrity) {
		t.Errorf("err = %v, want ErrIntegrity", err)
	}
}

func TestSetClaudeSessionIDSetOnce(t *testing.T) {
	s := openTest(t)
	sess := newTestSession(UncategorizedProjectID)
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.SetClaudeSessionID(sess.ID, "first"); err != nil {
		t.Fatalf("SetClaudeSessionID: %v", err)
	}
	if err := s.SetClaudeSessionID(sess.ID, "second"); err != nil {
		t.Fatalf("second SetClaudeSessionID: %v", err)
	}
	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.ClaudeSessionID != "first" {
		t.Errorf("ClaudeSessionID = %q, want the first observation kept", got.ClaudeSessionID)
	}
}

func TestNextSessionNumber(t *testing.T) {
	s := openTest(t)
	n, err := s.NextSessionNumber()
	if err != nil {
		t.Fatalf("NextSessionNumber: %v", err)
	}
	if n != 1 {
		t.Errorf("empty store: n = %d, want 1", n)
	}

	for _, name := range []string{"Session 1", "Session 7", "Session abc", "My Session 99", "renamed"} {
		sess := newTestSession(UncategorizedProjectID)
		sess.Name = name
		if err := s.CreateSession(sess); err != nil {
			t.Fatalf("CreateSession(%q): %v", name, err)
		}
	}
	n, err = s.NextSessionNumber()
	if err != nil {
		t.Fatalf("NextSessionNumber: %v", err)
	}
	if n != 8 {
		t.Errorf("n = %d, want 8 (highest default-named is Session 7)", n)
	}
}

func TestForkCopiesTranscripts(t *testing.T) {
	s := openTest(t)
	parent := newTestSession(UncategorizedProjectID)
	if err := s.CreateSession(parent); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for _, m := range []struct{ role, content string }{
		{"user", "add dark mode"},
		{"assistant", "done"},
	} {
		if err := s.AppendTranscript(parent.ID, m.role, m.content); err != nil {
			t.Fatalf("AppendTranscript: %v", err)
		}
	}

	child := newTestSession(UncategorizedProjectID)
	child.ParentSessionID = parent.ID
	err := s.WithTx(func(tx *sql.Tx) error {
		if err := InsertSessionTx(tx, child); err != nil {
			return err
		}
		return CopyTranscriptsTx(tx, parent.ID, child.ID)
	})
	if err != nil {
		t.Fatalf("fork tx: %v", err)
	}

	msgs, err := s.ListTranscripts(child.ID)
	if err != nil {
		t.Fatalf("ListTranscripts: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("copied %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Content != "done" {
		t.Errorf("copy out of order: %+v", msgs)
	}

	// Appending to the child must not touch the parent.
	if err := s.AppendTranscript(child.ID, "user", "now light mode"); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
	parentMsgs, err := s.ListTranscripts(parent.ID)
	if err != nil {
		t.Fatalf("ListTranscripts(parent): %v", err)
	}
	if len(parentMsgs) != 2 {
		t.Errorf("parent has %d messages after child append, want 2", len(parentMsgs))
	}
}

func TestDeleteSessionCascadesTranscripts(t *testing.T) {
	s := openTest(t)
	sess := newTestSession(UncategorizedProjectID)
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.AppendTranscript(sess.ID, "user", "hello"); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
	if err := s.DeleteSession(sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	msgs, err := s.ListTranscripts(sess.ID)
	if err != nil {
		t.Fatalf("ListTranscripts: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("transcripts survived session delete: %d rows", len(msgs))
	}
}

func TestPortAllocationRoundTrip(t *testing.T) {
	s := openTest(t)
	sess := newTestSession(UncategorizedProjectID)
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	err := s.WithTx(func(tx *sql.Tx) error {
		used, err := UsedPortsTx(tx)
		if err != nil {
			return err
		}
		if len(used) != 0 {
			t.Errorf("fresh store has %d used ports", len(used))
		}
		return ClaimPortTx(tx, sess.ID, 3100)
	})
	if err != nil {
		t.Fatalf("claim tx: %v", err)
	}

	err = s.WithTx(func(tx *sql.Tx) error {
		used, err := UsedPortsTx(tx)
		if err != nil {
			return err
		}
		if !used[3100] {
			t.Error("claimed port not reported used")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read tx: %v", err)
	}

	// A running dev server's ports count as used too.
	dev := &DevServerInstance{
		ProjectID: UncategorizedProjectID,
		Type:      "node",
		Name:      "web",
		Command:   "npm run dev",
		Status:    DevRunning,
		Ports:     []int{3200, 3201},
	}
	if err := s.CreateDevServerInstance(dev); err != nil {
		t.Fatalf("CreateDevServerInstance: %v", err)
	}
	err = s.WithTx(func(tx *sql.Tx) error {
		used, err := UsedPortsTx(tx)
		if err != nil {
			return err
		}
		for _, p := range []int{3100, 3200, 3201} {
			if !used[p] {
				t.Errorf("port %d not reported used", p)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read tx: %v", err)
	}

	if err := s.ReleasePort(sess.ID); err != nil {
		t.Fatalf("ReleasePort: %v", err)
	}
	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.DevServerPort != 0 {
		t.Errorf("DevServerPort = %d after release, want 0", got.DevServerPort)
	}
}

func TestDuplicatePortConflicts(t *testing.T) {
	s := openTest(t)
	a := newTestSession(UncategorizedProjectID)
	b := newTestSession(UncategorizedProjectID)
	for _, sess := range []*Session{a, b} {
		if err := s.CreateSession(sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	if err := s.WithTx(func(tx *sql.Tx) error { return ClaimPortTx(tx, a.ID, 3150) }); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	err := s.WithTx(func(tx *sql.Tx) error { return ClaimPortTx(tx, b.ID, 3150) })
	if !errors.Is(err, ErrConflict) {
		t.Errorf("second claim err = %v, want ErrConflict", err)
	}
}

func TestDeleteProjectGuards(t *testing.T) {
	s := openTest(t)

	if err := s.DeleteProject(UncategorizedProjectID); !errors.Is(err, ErrConflict) {
		t.Errorf("deleting uncategorized: err = %v, want ErrConflict", err)
	}

	p := &Project{Name: "api", WorkingDirectory: "/tmp/api", Expanded: true}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	sess := newTestSession(p.ID)
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.DeleteProject(p.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("deleting non-empty project: err = %v, want ErrConflict", err)
	}

	if err := s.DeleteSession(sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if err := s.DeleteProject(p.ID); err != nil {
		t.Errorf("deleting empty project: %v", err)
	}
	if _, err := s.GetProject(p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: err = %v, want ErrNotFound", err)
	}
}

func TestListWorkersAndCounts(t *testing.T) {
	s := openTest(t)
	conductor := newTestSession(UncategorizedProjectID)
	if err := s.CreateSession(conductor); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	statuses := []WorkerStatus{WorkerPending, WorkerRunning, WorkerRunning, WorkerCompleted}
	for _, st := range statuses {
		w := newTestSession(UncategorizedProjectID)
		w.ConductorSessionID = conductor.ID
		w.WorkerTask = "do a thing"
		w.WorkerStatus = st
		if err := s.CreateSession(w); err != nil {
			t.Fatalf("CreateSession(worker): %v", err)
		}
	}

	workers, err := s.ListWorkers(conductor.ID)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 4 {
		t.Errorf("len(workers) = %d, want 4", len(workers))
	}
	for _, w := range workers {
		if !w.IsWorker() {
			t.Errorf("worker %s not recognized as worker", w.ID)
		}
	}

	counts, err := s.CountSessionsByWorkerStatus(conductor.ID)
	if err != nil {
		t.Fatalf("CountSessionsByWorkerStatus: %v", err)
	}
	if counts[WorkerRunning] != 2 || counts[WorkerPending] != 1 || counts[WorkerCompleted] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestRenameSessionConflict(t *testing.T) {
	s := openTest(t)
	a := newTestSession(UncategorizedProjectID)
	a.TmuxName = "claude-aaa"
	b := newTestSession(UncategorizedProjectID)
	b.TmuxName = "claude-bbb"
	for _, sess := range []*Session{a, b} {
		if err := s.CreateSession(sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	if err := s.RenameSession(b.ID, "renamed", "claude-aaa"); !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	// No partial update on conflict.
	got, err := s.GetSession(b.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Name != b.Name || got.TmuxName != "claude-bbb" {
		t.Errorf("session mutated after failed rename: %+v", got)
	}
}

func TestClearPendingPrompt(t *testing.T) {
	s := openTest(t)
	sess := newTestSession(UncategorizedProjectID)
	sess.PendingPrompt = "start with the readme"
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.ClearPendingPrompt(sess.ID); err != nil {
		t.Fatalf("ClearPendingPrompt: %v", err)
	}
	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.PendingPrompt != "" {
		t.Errorf("PendingPrompt = %q, want cleared", got.PendingPrompt)
	}
}
