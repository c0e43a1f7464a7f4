package web

import (
	"net/http"
	"strconv"

	"github.com/agentos-dev/agentos/internal/fault"
	"github.com/agentos-dev/agentos/internal/session"
	"github.com/agentos-dev/agentos/internal/store"
	"github.com/agentos-dev/agentos/internal/worktree"
)

// previewTail is the default pane preview depth.
const previewTail = 20

// sessionListResponse groups sessions under their projects.
type sessionListResponse struct {
	Projects []*store.Project `json:"projects"`
	Sessions []*store.Session `json:"sessions"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Store.ListProjects()
	if err != nil {
		writeFault(w, err)
		return
	}
	sessions, err := s.Store.ListSessions()
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionListResponse{Projects: projects, Sessions: sessions})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var spec session.CreateSpec
	if err := decodeBody(r, &spec); err != nil {
		writeFault(w, err)
		return
	}
	sess, err := s.Sessions.Create(r.Context(), spec)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// patchSessionRequest covers rename, move, and flag changes. Only the
// fields present in the body are applied.
type patchSessionRequest struct {
	Name        *string `json:"name"`
	ProjectID   *string `json:"project_id"`
	AutoApprove *bool   `json:"auto_approve"`
}

func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req patchSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	if req.Name != nil {
		if _, err := s.Sessions.Rename(r.Context(), id, *req.Name); err != nil {
			writeFault(w, err)
			return
		}
	}
	if req.ProjectID != nil {
		if _, err := s.Sessions.Move(id, *req.ProjectID); err != nil {
			writeFault(w, err)
			return
		}
	}
	if req.AutoApprove != nil {
		if err := s.Store.SetAutoApprove(id, *req.AutoApprove); err != nil {
			writeFault(w, err)
			return
		}
	}
	sess, err := s.Sessions.Get(id)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	deleteBranch := r.URL.Query().Get("delete_branch") == "true"
	if err := s.Sessions.Delete(r.Context(), r.PathValue("id"), deleteBranch); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Deleted bool `json:"deleted"`
	}{true})
}

func (s *Server) handleForkSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Fork(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handlePreviewSession(w http.ResponseWriter, r *http.Request) {
	lines := previewTail
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeFault(w, fault.New(fault.BadRequest, "invalid lines %q", raw))
			return
		}
		lines = n
	}
	out, err := s.Sessions.Preview(r.Context(), r.PathValue("id"), lines)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Lines []string `json:"lines"`
	}{out})
}

func (s *Server) handleSessionStatuses(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Store.ListSessions()
	if err != nil {
		writeFault(w, err)
		return
	}
	statuses := make(map[string]store.SessionStatus, len(sessions))
	for _, sess := range sessions {
		statuses[sess.ID] = sess.Status
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleSessionBootstrap(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	if !sess.HasWorktree() {
		writeFault(w, fault.New(fault.BadRequest, "session %s has no worktree", sess.ID))
		return
	}
	res := worktree.BootstrapStatus(sess.WorktreePath)
	if res == nil {
		writeFault(w, fault.New(fault.NotFound, "no bootstrap recorded for session %s", sess.ID))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpsertPR(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.PRUpsert(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetPR(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.PRStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		PRURL    string         `json:"pr_url"`
		PRNumber int            `json:"pr_number"`
		PRStatus store.PRStatus `json:"pr_status"`
	}{sess.PRURL, sess.PRNumber, sess.PRStatus})
}
