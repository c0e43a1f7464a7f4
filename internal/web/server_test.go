package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/agentos-dev/agentos/internal/gateway"
	"github.com/agentos-dev/agentos/internal/mcp"
	"github.com/agentos-dev/agentos/internal/orchestrator"
	"github.com/agentos-dev/agentos/internal/runner"
	"github.com/agentos-dev/agentos/internal/session"
	"github.com/agentos-dev/agentos/internal/store"
	"github.com/agentos-dev/agentos/internal/tmux"
	"github.com/agentos-dev/agentos/internal/worktree"
)

// fakeMux keeps the HTTP tests off a real tmux server.
type fakeMux struct {
	captures map[string][]string
}

func (f *fakeMux) Create(context.Context, string, string, []string) error { return nil }
func (f *fakeMux) AttachCommand(name string) []string {
	return []string{"tmux", "attach", "-t", name}
}
func (f *fakeMux) Detach(context.Context, string) error           { return nil }
func (f *fakeMux) SendKeys(context.Context, string, []byte) error { return nil }
func (f *fakeMux) SendCommand(context.Context, string, string) error {
	return nil
}
func (f *fakeMux) Capture(_ context.Context, name string, _ int) ([]string, error) {
	return f.captures[name], nil
}
func (f *fakeMux) Rename(context.Context, string, string) error     { return nil }
func (f *fakeMux) List(context.Context) ([]tmux.SessionInfo, error) { return nil, nil }
func (f *fakeMux) Kill(context.Context, string) error               { return nil }
func (f *fakeMux) Has(context.Context, string) (bool, error)        { return true, nil }

func newTestServer(t *testing.T) (*Server, *fakeMux) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	mux := &fakeMux{captures: make(map[string][]string)}
	mgr := &session.Manager{
		Store:  st,
		Mux:    mux,
		Runner: runner.New(),
		MCP:    mcp.NewWriter(t.TempDir()),
	}
	return &Server{
		Store:    st,
		Sessions: mgr,
		Orch:     orchestrator.New(mgr),
		Term:     gateway.New(mux),
		Runner:   mgr.Runner,
	}, mux
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/sessions", map[string]any{
		"name":              "api work",
		"working_directory": "/tmp/proj",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body.String())
	}
	sess := decode[store.Session](t, rec)
	if sess.Name != "api work" {
		t.Errorf("Name = %q", sess.Name)
	}

	rec = doJSON(t, h, "GET", "/sessions/"+sess.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	list := decode[sessionListResponse](t, rec)
	if len(list.Sessions) != 1 || len(list.Projects) == 0 {
		t.Errorf("list = %d sessions, %d projects", len(list.Sessions), len(list.Projects))
	}

	name := "renamed"
	rec = doJSON(t, h, "PATCH", "/sessions/"+sess.ID, map[string]any{"name": name})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: status %d: %s", rec.Code, rec.Body.String())
	}
	patched := decode[store.Session](t, rec)
	if patched.Name != name {
		t.Errorf("Name = %q, want %q", patched.Name, name)
	}

	rec = doJSON(t, h, "DELETE", "/sessions/"+sess.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/sessions/"+sess.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", rec.Code)
	}
}

func TestCreateSessionBadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest("POST", "/sessions", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["kind"] != "bad_request" {
		t.Errorf("kind = %q", body["kind"])
	}
	if body["error"] == "" {
		t.Error("empty error message")
	}
}

func TestSessionNameConflictOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	body := map[string]any{"name": "taken", "working_directory": "/tmp/proj"}
	if rec := doJSON(t, h, "POST", "/sessions", body); rec.Code != http.StatusCreated {
		t.Fatalf("first create: status %d", rec.Code)
	}
	rec := doJSON(t, h, "POST", "/sessions", body)
	if rec.Code != http.StatusConflict {
		t.Errorf("second create: status %d, want 409", rec.Code)
	}
}

func TestPreviewOverHTTP(t *testing.T) {
	srv, mux := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/sessions", map[string]any{"working_directory": "/tmp/proj"})
	sess := decode[store.Session](t, rec)
	mux.captures[sess.TmuxName] = []string{"one", "two", "three"}

	rec = doJSON(t, h, "GET", "/sessions/"+sess.ID+"/preview?lines=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview: status %d", rec.Code)
	}
	out := decode[map[string][]string](t, rec)
	if len(out["lines"]) != 3 {
		t.Errorf("lines = %v", out["lines"])
	}

	rec = doJSON(t, h, "GET", "/sessions/"+sess.ID+"/preview?lines=junk", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad lines: status %d, want 400", rec.Code)
	}
}

func TestProjectCRUDOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/projects", map[string]any{
		"name":              "api",
		"working_directory": "/tmp/api",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body.String())
	}
	p := decode[store.Project](t, rec)
	if p.ID == "" {
		t.Fatal("no project id assigned")
	}

	rec = doJSON(t, h, "PATCH", "/projects/"+p.ID, map[string]any{"name": "api v2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: status %d: %s", rec.Code, rec.Body.String())
	}
	updated := decode[store.Project](t, rec)
	if updated.Name != "api v2" {
		t.Errorf("Name = %q", updated.Name)
	}

	rec = doJSON(t, h, "DELETE", "/projects/"+p.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rec.Code)
	}

	// The uncategorized project is protected.
	rec = doJSON(t, h, "DELETE", "/projects/"+store.UncategorizedProjectID, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("delete uncategorized: status %d, want 409", rec.Code)
	}
}

func TestDevServerTemplatesOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	base := "/projects/" + store.UncategorizedProjectID + "/dev-server-templates"
	rec := doJSON(t, h, "POST", base, map[string]any{
		"name":    "web",
		"type":    "node",
		"command": "npm run dev",
		"port":    5173,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body.String())
	}
	tpl := decode[store.DevServerTemplate](t, rec)
	if tpl.ID == "" || tpl.ProjectID != store.UncategorizedProjectID {
		t.Fatalf("template = %+v", tpl)
	}

	rec = doJSON(t, h, "POST", base, map[string]any{"name": "bad", "type": "systemd", "command": "run"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad type: status %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, "POST", "/projects/no-such/dev-server-templates", map[string]any{
		"name": "x", "type": "node", "command": "run",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown project: status %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, "GET", base, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	templates := decode[[]store.DevServerTemplate](t, rec)
	if len(templates) != 1 || templates[0].Command != "npm run dev" {
		t.Errorf("templates = %+v", templates)
	}

	rec = doJSON(t, h, "DELETE", "/dev-server-templates/"+tpl.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec = doJSON(t, h, "DELETE", "/dev-server-templates/"+tpl.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete again: status %d, want 404", rec.Code)
	}
}

func TestSessionBootstrapOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	src, dst := t.TempDir(), t.TempDir()
	sess := &store.Session{
		ID:               uuid.NewString(),
		Name:             "worktree session",
		WorkingDirectory: src,
		AgentType:        "claude",
		Model:            "sonnet",
		ProjectID:        store.UncategorizedProjectID,
		WorktreePath:     dst,
		BranchName:       "feature/setup",
		BaseBranch:       "main",
	}
	if err := srv.Store.WithTx(func(tx *sql.Tx) error {
		return store.InsertSessionTx(tx, sess)
	}); err != nil {
		t.Fatalf("inserting session: %v", err)
	}

	// Nothing recorded yet.
	rec := doJSON(t, h, "GET", "/sessions/"+sess.ID+"/bootstrap", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("before bootstrap: status %d, want 404", rec.Code)
	}

	wt := worktree.New(runner.New(), t.TempDir())
	wt.Bootstrap(context.Background(), src, dst, nil, nil)

	rec = doJSON(t, h, "GET", "/sessions/"+sess.ID+"/bootstrap", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("after bootstrap: status %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[worktree.BootstrapResult](t, rec)
	if !res.Done || !res.Success {
		t.Errorf("result = %+v, want done and successful", res)
	}

	// Sessions without a worktree have no bootstrap to report.
	rec = doJSON(t, h, "POST", "/sessions", map[string]any{"working_directory": "/tmp/proj"})
	plain := decode[store.Session](t, rec)
	rec = doJSON(t, h, "GET", "/sessions/"+plain.ID+"/bootstrap", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no worktree: status %d, want 400", rec.Code)
	}
}

func TestOrchestrateEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/sessions", map[string]any{
		"name":              "conductor",
		"working_directory": "/tmp/proj",
	})
	conductor := decode[store.Session](t, rec)

	// Tool failure: still HTTP 200, error carried in the envelope.
	rec = doJSON(t, h, "POST", "/orchestrate/spawn_worker", map[string]any{
		"conductor_id": conductor.ID,
		"task":         "",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for tool failure", rec.Code)
	}
	resp := decode[toolResponse](t, rec)
	if resp.OK || resp.Error == "" {
		t.Errorf("envelope = %+v, want ok=false with error text", resp)
	}

	// Success.
	rec = doJSON(t, h, "POST", "/orchestrate/spawn_worker", map[string]any{
		"conductor_id": conductor.ID,
		"task":         "add dark mode",
		"use_worktree": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp = decode[toolResponse](t, rec)
	if !resp.OK || resp.Error != "" {
		t.Fatalf("envelope = %+v", resp)
	}

	rec = doJSON(t, h, "POST", "/orchestrate/get_workers_summary", map[string]any{
		"conductor_id": conductor.ID,
	})
	resp = decode[toolResponse](t, rec)
	if !resp.OK {
		t.Errorf("summary envelope = %+v", resp)
	}

	// Unknown tool is a protocol fault, not a tool error.
	rec = doJSON(t, h, "POST", "/orchestrate/no_such_tool", map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown tool: status %d, want 404", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest("OPTIONS", "/sessions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS origin header")
	}

	rec = doJSON(t, h, "GET", "/sessions", nil)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header on normal response")
	}
}
