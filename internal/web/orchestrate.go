package web

import (
	"net/http"

	"github.com/agentos-dev/agentos/internal/fault"
	"github.com/agentos-dev/agentos/internal/orchestrator"
)

// toolResponse is the orchestrate envelope. Tool failures are results,
// not protocol faults: the agent reads the error text and decides, so
// the status stays 200 unless the request itself is unreadable.
type toolResponse struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// orchestrateRequest is the union body of all worker tools.
type orchestrateRequest struct {
	orchestrator.SpawnSpec

	WorkerID        string `json:"worker_id"`
	Message         string `json:"message"`
	Lines           int    `json:"lines"`
	CleanupWorktree bool   `json:"cleanup_worktree"`
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrateRequest
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}

	var (
		result any
		err    error
	)
	switch tool := r.PathValue("tool"); tool {
	case "spawn_worker":
		result, err = s.Orch.Spawn(r.Context(), req.SpawnSpec)
	case "list_workers":
		result, err = s.Orch.List(req.ConductorID)
	case "get_worker_output":
		result, err = s.Orch.Output(r.Context(), req.WorkerID, req.Lines)
	case "send_to_worker":
		err = s.Orch.Send(r.Context(), req.WorkerID, req.Message)
	case "complete_worker":
		err = s.Orch.Complete(req.WorkerID)
	case "fail_worker":
		err = s.Orch.Fail(req.WorkerID)
	case "kill_worker":
		err = s.Orch.Kill(r.Context(), req.WorkerID, req.CleanupWorktree)
	case "get_workers_summary":
		result, err = s.Orch.Summary(req.ConductorID)
	default:
		writeFault(w, fault.New(fault.NotFound, "unknown tool %q", tool))
		return
	}

	if err != nil {
		writeJSON(w, http.StatusOK, toolResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toolResponse{OK: true, Result: result})
}
