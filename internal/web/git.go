package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/agentos-dev/agentos/internal/fault"
	"github.com/agentos-dev/agentos/internal/runner"
)

// gitTimeout bounds the panel's git invocations.
const gitTimeout = 10 * time.Second

// gitFile is one entry of `git status --porcelain`.
type gitFile struct {
	Path     string `json:"path"`
	Index    string `json:"index"`
	Worktree string `json:"worktree"`
	Staged   bool   `json:"staged"`
}

type gitStatusResponse struct {
	Branch    string    `json:"branch"`
	Files     []gitFile `json:"files"`
	Staged    int       `json:"staged_count"`
	Unstaged  int       `json:"unstaged_count"`
	Untracked int       `json:"untracked_count"`
}

func (s *Server) handleGitStatus(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeFault(w, fault.New(fault.BadRequest, "path query parameter is required"))
		return
	}

	branchRes, err := s.Runner.Run(r.Context(), runner.Spec{
		Argv:    []string{"git", "rev-parse", "--abbrev-ref", "HEAD"},
		Dir:     path,
		Timeout: gitTimeout,
	})
	if err != nil {
		writeFault(w, fault.Wrap(fault.Upstream, "reading branch", err))
		return
	}

	statusRes, err := s.Runner.Run(r.Context(), runner.Spec{
		Argv:    []string{"git", "status", "--porcelain"},
		Dir:     path,
		Timeout: gitTimeout,
	})
	if err != nil {
		writeFault(w, fault.Wrap(fault.Upstream, "reading status", err))
		return
	}

	resp := gitStatusResponse{
		Branch: strings.TrimSpace(branchRes.Stdout),
		Files:  []gitFile{},
	}
	for _, line := range strings.Split(statusRes.Stdout, "\n") {
		if len(line) < 4 {
			continue
		}
		index, worktree := string(line[0]), string(line[1])
		file := gitFile{
			Path:     strings.TrimSpace(line[3:]),
			Index:    index,
			Worktree: worktree,
			Staged:   index != " " && index != "?",
		}
		resp.Files = append(resp.Files, file)
		switch {
		case index == "?":
			resp.Untracked++
		case file.Staged:
			resp.Staged++
		}
		if worktree != " " && worktree != "?" {
			resp.Unstaged++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// gitMutateRequest is the body of stage/unstage/discard.
type gitMutateRequest struct {
	Path  string   `json:"path"`
	Files []string `json:"files"`
}

func (s *Server) handleGitStage(w http.ResponseWriter, r *http.Request) {
	s.gitMutate(w, r, func(files []string) []string {
		return append([]string{"git", "add", "--"}, files...)
	})
}

func (s *Server) handleGitUnstage(w http.ResponseWriter, r *http.Request) {
	s.gitMutate(w, r, func(files []string) []string {
		return append([]string{"git", "restore", "--staged", "--"}, files...)
	})
}

func (s *Server) handleGitDiscard(w http.ResponseWriter, r *http.Request) {
	s.gitMutate(w, r, func(files []string) []string {
		return append([]string{"git", "checkout", "--"}, files...)
	})
}

func (s *Server) gitMutate(w http.ResponseWriter, r *http.Request, argv func(files []string) []string) {
	var req gitMutateRequest
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	if req.Path == "" {
		writeFault(w, fault.New(fault.BadRequest, "path is required"))
		return
	}
	if len(req.Files) == 0 {
		writeFault(w, fault.New(fault.BadRequest, "files is required"))
		return
	}
	for _, f := range req.Files {
		// Refuse option-shaped and escaping paths; argv passing handles the rest.
		if strings.HasPrefix(f, "-") || strings.Contains(f, "..") {
			writeFault(w, fault.New(fault.BadRequest, "invalid file path %q", f))
			return
		}
	}
	_, err := s.Runner.Run(r.Context(), runner.Spec{
		Argv:    argv(req.Files),
		Dir:     req.Path,
		Timeout: gitTimeout,
	})
	if err != nil {
		writeFault(w, fault.Wrap(fault.Upstream, "mutating working tree", err))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{true})
}
