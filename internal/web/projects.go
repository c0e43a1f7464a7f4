package web

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agentos-dev/agentos/internal/fault"
	"github.com/agentos-dev/agentos/internal/store"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Store.ListProjects()
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

type createProjectRequest struct {
	Name             string `json:"name"`
	WorkingDirectory string `json:"working_directory"`
	AgentType        string `json:"agent_type"`
	DefaultModel     string `json:"default_model"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeFault(w, fault.New(fault.BadRequest, "project name is required"))
		return
	}
	p := &store.Project{
		ID:               uuid.NewString(),
		Name:             req.Name,
		WorkingDirectory: req.WorkingDirectory,
		AgentType:        req.AgentType,
		DefaultModel:     req.DefaultModel,
		Expanded:         true,
	}
	if err := s.Store.CreateProject(p); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.Store.GetProject(r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type updateProjectRequest struct {
	Name             *string `json:"name"`
	WorkingDirectory *string `json:"working_directory"`
	AgentType        *string `json:"agent_type"`
	DefaultModel     *string `json:"default_model"`
	Expanded         *bool   `json:"expanded"`
	SortOrder        *int    `json:"sort_order"`
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.Store.GetProject(r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	var req updateProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.WorkingDirectory != nil {
		p.WorkingDirectory = *req.WorkingDirectory
	}
	if req.AgentType != nil {
		p.AgentType = *req.AgentType
	}
	if req.DefaultModel != nil {
		p.DefaultModel = *req.DefaultModel
	}
	if req.Expanded != nil {
		p.Expanded = *req.Expanded
	}
	if req.SortOrder != nil {
		p.SortOrder = *req.SortOrder
	}
	if err := s.Store.UpdateProject(p); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteProject(r.PathValue("id")); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Deleted bool `json:"deleted"`
	}{true})
}
