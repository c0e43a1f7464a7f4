// Package web is the HTTP surface of the control plane: session and
// project CRUD, dev servers, the git panel, the orchestrate RPC, and the
// terminal websocket.
package web

import (
	"net/http"

	"github.com/agentos-dev/agentos/internal/devserver"
	"github.com/agentos-dev/agentos/internal/gateway"
	"github.com/agentos-dev/agentos/internal/orchestrator"
	"github.com/agentos-dev/agentos/internal/runner"
	"github.com/agentos-dev/agentos/internal/session"
	"github.com/agentos-dev/agentos/internal/store"
)

// Server aggregates the component managers behind one handler.
type Server struct {
	Store    *store.Store
	Sessions *session.Manager
	Dev      *devserver.Supervisor
	Orch     *orchestrator.Orchestrator
	Term     *gateway.Gateway
	Runner   *runner.Runner
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/status", s.handleSessionStatuses)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PATCH /sessions/{id}", s.handlePatchSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/fork", s.handleForkSession)
	mux.HandleFunc("GET /sessions/{id}/preview", s.handlePreviewSession)
	mux.HandleFunc("POST /sessions/{id}/pr", s.handleUpsertPR)
	mux.HandleFunc("GET /sessions/{id}/pr", s.handleGetPR)
	mux.HandleFunc("GET /sessions/{id}/bootstrap", s.handleSessionBootstrap)

	mux.HandleFunc("GET /projects", s.handleListProjects)
	mux.HandleFunc("POST /projects", s.handleCreateProject)
	mux.HandleFunc("GET /projects/{id}", s.handleGetProject)
	mux.HandleFunc("PATCH /projects/{id}", s.handleUpdateProject)
	mux.HandleFunc("DELETE /projects/{id}", s.handleDeleteProject)
	mux.HandleFunc("GET /projects/{id}/dev-server-templates", s.handleListDevServerTemplates)
	mux.HandleFunc("POST /projects/{id}/dev-server-templates", s.handleCreateDevServerTemplate)
	mux.HandleFunc("DELETE /dev-server-templates/{id}", s.handleDeleteDevServerTemplate)

	mux.HandleFunc("GET /dev-servers", s.handleListDevServers)
	mux.HandleFunc("POST /dev-servers", s.handleStartDevServer)
	mux.HandleFunc("DELETE /dev-servers/{id}", s.handleRemoveDevServer)
	mux.HandleFunc("POST /dev-servers/{id}/stop", s.handleStopDevServer)
	mux.HandleFunc("POST /dev-servers/{id}/restart", s.handleRestartDevServer)
	mux.HandleFunc("GET /dev-servers/{id}/logs", s.handleDevServerLogs)

	mux.HandleFunc("GET /git/status", s.handleGitStatus)
	mux.HandleFunc("POST /git/stage", s.handleGitStage)
	mux.HandleFunc("POST /git/unstage", s.handleGitUnstage)
	mux.HandleFunc("POST /git/discard", s.handleGitDiscard)

	mux.HandleFunc("POST /orchestrate/{tool}", s.handleOrchestrate)

	mux.Handle("GET /terminal", s.Term)

	return corsMiddleware(mux)
}
