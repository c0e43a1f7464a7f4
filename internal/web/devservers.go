package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/agentos-dev/agentos/internal/devserver"
	"github.com/agentos-dev/agentos/internal/fault"
	"github.com/agentos-dev/agentos/internal/store"
)

func (s *Server) handleListDevServers(w http.ResponseWriter, r *http.Request) {
	instances, err := s.Dev.List(r.URL.Query().Get("project_id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instances)
}

func (s *Server) handleStartDevServer(w http.ResponseWriter, r *http.Request) {
	var spec devserver.StartSpec
	if err := decodeBody(r, &spec); err != nil {
		writeFault(w, err)
		return
	}
	inst, err := s.Dev.Start(r.Context(), spec)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleStopDevServer(w http.ResponseWriter, r *http.Request) {
	if err := s.Dev.Stop(r.Context(), r.PathValue("id")); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Stopped bool `json:"stopped"`
	}{true})
}

func (s *Server) handleRestartDevServer(w http.ResponseWriter, r *http.Request) {
	inst, err := s.Dev.Restart(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleRemoveDevServer(w http.ResponseWriter, r *http.Request) {
	if err := s.Dev.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Deleted bool `json:"deleted"`
	}{true})
}

func (s *Server) handleListDevServerTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.Store.ListDevServerTemplates(r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleCreateDevServerTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl store.DevServerTemplate
	if err := decodeBody(r, &tpl); err != nil {
		writeFault(w, err)
		return
	}
	tpl.ProjectID = r.PathValue("id")
	if _, err := s.Store.GetProject(tpl.ProjectID); err != nil {
		writeFault(w, fault.Wrap(fault.NotFound, "resolving project", err))
		return
	}
	if tpl.Type != "node" && tpl.Type != "docker" {
		writeFault(w, fault.New(fault.BadRequest, "invalid dev-server type %q", tpl.Type))
		return
	}
	if strings.TrimSpace(tpl.Command) == "" {
		writeFault(w, fault.New(fault.BadRequest, "template command is required"))
		return
	}
	if err := s.Store.CreateDevServerTemplate(&tpl); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleDeleteDevServerTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteDevServerTemplate(r.PathValue("id")); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Deleted bool `json:"deleted"`
	}{true})
}

func (s *Server) handleDevServerLogs(w http.ResponseWriter, r *http.Request) {
	tail := 100
	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeFault(w, fault.New(fault.BadRequest, "invalid tail %q", raw))
			return
		}
		tail = n
	}
	lines, err := s.Dev.Logs(r.Context(), r.PathValue("id"), tail)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Lines []string `json:"lines"`
	}{lines})
}
