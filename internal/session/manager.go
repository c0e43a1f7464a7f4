// Package session implements session lifecycle: create, fork, rename,
// move, delete, and PR tracking. It binds a session to its mux pane,
// optional worktree, and optional dev-server port, and owns the
// uniqueness invariants over those bindings.
package session

import (
	"context"
	"fmt"
	"log"
	"strings"

	"database/sql"

	"github.com/google/uuid"

	"github.com/agentos-dev/agentos/internal/config"
	"github.com/agentos-dev/agentos/internal/fault"
	"github.com/agentos-dev/agentos/internal/mcp"
	"github.com/agentos-dev/agentos/internal/ports"
	"github.com/agentos-dev/agentos/internal/runner"
	"github.com/agentos-dev/agentos/internal/store"
	"github.com/agentos-dev/agentos/internal/tmux"
	"github.com/agentos-dev/agentos/internal/worktree"
)

// Manager wires the store, mux driver, worktree manager, and port
// allocator into the session operations the HTTP surface exposes.
type Manager struct {
	Store     *store.Store
	Mux       tmux.Driver
	Worktrees *worktree.Manager
	Ports     *ports.Allocator
	Runner    *runner.Runner
	MCP       *mcp.Writer
	Config    *config.Watcher

	// ServerURL is this control plane's base URL, handed to conductor
	// manifests so in-agent tools can call back.
	ServerURL string
}

// CreateSpec enumerates the recognized session-create options.
type CreateSpec struct {
	Name             string `json:"name"`
	WorkingDirectory string `json:"working_directory"`
	ParentSessionID  string `json:"parent_session_id"`
	Model            string `json:"model"`
	SystemPrompt     string `json:"system_prompt"`
	AgentType        string `json:"agent_type"`
	GroupPath        string `json:"group_path"` // legacy grouping, ignored when ProjectID is set
	ProjectID        string `json:"project_id"`
	AutoApprove      bool   `json:"auto_approve"`

	UseWorktree bool   `json:"use_worktree"`
	FeatureName string `json:"feature_name"`
	BaseBranch  string `json:"base_branch"`

	// UseMux defaults to true; nil means unset.
	UseMux *bool `json:"use_mux"`

	ClaudeSessionID string `json:"claude_session_id"`
	InitialPrompt   string `json:"initial_prompt"`

	// ConductorTools opts the session into the orchestration toolset; a
	// per-session MCP manifest is written when set.
	ConductorTools bool `json:"conductor_tools"`

	// Worker fields are set by the orchestrator, not by HTTP clients.
	ConductorSessionID string `json:"-"`
	WorkerTask         string `json:"-"`
}

// TmuxName derives the pane identifier for a session. The name is
// id-derived and stable across renames.
func TmuxName(agentType, id string) string {
	return fmt.Sprintf("%s-%s", agentType, id)
}

// applyDefaults fills the spec defaults of the create contract.
func (m *Manager) applyDefaults(spec *CreateSpec) error {
	if spec.WorkingDirectory == "" {
		spec.WorkingDirectory = "~"
	}
	if spec.Model == "" {
		spec.Model = "sonnet"
	}
	if spec.AgentType == "" {
		spec.AgentType = "claude"
	}
	if _, err := config.ValidateAgentType(spec.AgentType); err != nil {
		return fault.Wrap(fault.BadRequest, "validating agent type", err)
	}
	if spec.ProjectID == "" {
		// group_path is a legacy hint; anything grouped only by path lands
		// in the uncategorized project.
		spec.ProjectID = store.UncategorizedProjectID
	}
	if spec.BaseBranch == "" {
		spec.BaseBranch = "main"
	}
	return nil
}

// Create builds a session per spec. Worktree and port allocation failures
// roll the whole create back; nothing durable survives a failed create.
func (m *Manager) Create(ctx context.Context, spec CreateSpec) (*store.Session, error) {
	if err := m.applyDefaults(&spec); err != nil {
		return nil, err
	}
	if _, err := m.Store.GetProject(spec.ProjectID); err != nil {
		return nil, fault.Wrap(fault.NotFound, "resolving project", err)
	}

	var parent *store.Session
	if spec.ParentSessionID != "" {
		p, err := m.Store.GetSession(spec.ParentSessionID)
		if err != nil {
			return nil, fault.Wrap(fault.NotFound, "resolving parent session", err)
		}
		parent = p
		// Forks stay in the parent's project and inherit its setup.
		spec.ProjectID = p.ProjectID
		if spec.WorkingDirectory == "~" {
			spec.WorkingDirectory = p.WorkingDirectory
		}
		spec.AgentType = p.AgentType
		spec.Model = p.Model
		spec.SystemPrompt = p.SystemPrompt
		spec.AutoApprove = p.AutoApprove
	}

	var created *store.Session
	err := m.Runner.WithProjectLock(ctx, "project:"+spec.ProjectID, func() error {
		sess, err := m.createLocked(ctx, spec, parent)
		if err != nil {
			return err
		}
		created = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// createLocked runs under the project serialization lock. Worktree git
// commands pass an empty runner key because the caller already holds the
// project lock.
func (m *Manager) createLocked(ctx context.Context, spec CreateSpec, parent *store.Session) (*store.Session, error) {
	name := strings.TrimSpace(spec.Name)
	generated := name == ""
	if generated {
		if spec.FeatureName != "" {
			name = spec.FeatureName
		} else {
			n, err := m.Store.NextSessionNumber()
			if err != nil {
				return nil, err
			}
			name = fmt.Sprintf("Session %d", n)
		}
	}
	if generated {
		// A derived name bends around collisions the way the branch
		// generator does; only an explicit user-supplied duplicate conflicts.
		unique, err := m.uniqueName(spec.ProjectID, name)
		if err != nil {
			return nil, err
		}
		name = unique
	} else if err := m.checkNameFree(spec.ProjectID, name, ""); err != nil {
		return nil, err
	}

	sess := &store.Session{
		ID:                 uuid.NewString(),
		Name:               name,
		WorkingDirectory:   spec.WorkingDirectory,
		AgentType:          spec.AgentType,
		Model:              spec.Model,
		SystemPrompt:       spec.SystemPrompt,
		ProjectID:          spec.ProjectID,
		AutoApprove:        spec.AutoApprove,
		ClaudeSessionID:    spec.ClaudeSessionID,
		PendingPrompt:      spec.InitialPrompt,
		ConductorSessionID: spec.ConductorSessionID,
		WorkerTask:         spec.WorkerTask,
	}
	if spec.ConductorSessionID != "" {
		sess.WorkerStatus = store.WorkerPending
	}
	if parent != nil {
		sess.ParentSessionID = parent.ID
		// A fork gets a fresh upstream handle; the parent's is never reused.
		sess.ClaudeSessionID = ""
	}
	if spec.UseMux == nil || *spec.UseMux {
		sess.TmuxName = TmuxName(sess.AgentType, sess.ID)
	}

	var wt *worktree.Info
	if spec.UseWorktree {
		feature := spec.FeatureName
		if feature == "" {
			feature = name
		}
		info, err := m.Worktrees.Create(ctx, worktree.CreateOptions{
			Repo:        spec.WorkingDirectory,
			ProjectName: spec.ProjectID,
			Feature:     feature,
			Base:        spec.BaseBranch,
		})
		if err != nil {
			return nil, fault.Wrap(fault.BadRequest, "creating worktree", err)
		}
		wt = info
		sess.WorktreePath = info.Path
		sess.BranchName = info.Branch
		sess.BaseBranch = info.Base
	}

	// The insert reserves tmux_name, worktree path, and branch under the
	// store's unique indexes before the multiplexer is ever touched.
	err := m.Store.WithTx(func(tx *sql.Tx) error {
		if err := store.InsertSessionTx(tx, sess); err != nil {
			return err
		}
		if parent != nil {
			return store.CopyTranscriptsTx(tx, parent.ID, sess.ID)
		}
		return nil
	})
	if err != nil {
		m.rollbackWorktree(ctx, spec, wt)
		return nil, err
	}

	if spec.UseWorktree {
		port, err := m.Ports.AllocateFor(sess.ID)
		if err != nil {
			if delErr := m.Store.DeleteSession(sess.ID); delErr != nil {
				log.Printf("session: rolling back %s after port failure: %v", sess.ID, delErr)
			}
			m.rollbackWorktree(ctx, spec, wt)
			return nil, fault.Wrap(fault.Conflict, "allocating dev-server port", err)
		}
		sess.DevServerPort = port

		cfg := m.Config.Current()
		go m.Worktrees.Bootstrap(context.Background(), spec.WorkingDirectory, wt.Path,
			cfg.EnvFileAllowlist, cfg.BootstrapSteps)
	}

	if sess.TmuxName != "" {
		if err := m.createPane(ctx, sess); err != nil {
			if delErr := m.Store.DeleteSession(sess.ID); delErr != nil {
				log.Printf("session: rolling back %s after pane failure: %v", sess.ID, delErr)
			}
			m.rollbackWorktree(ctx, spec, wt)
			return nil, err
		}
	}

	if spec.ConductorTools {
		if err := m.MCP.WriteConductor(sess.ID, m.ServerURL); err != nil {
			log.Printf("session: writing conductor manifest for %s: %v", sess.ID, err)
		}
	}
	return sess, nil
}

// createPane starts the agent in a fresh pane. The initial prompt is not
// typed here; the status poller delivers it once the agent shows a
// prompt, so slow CLI startups do not eat it.
func (m *Manager) createPane(ctx context.Context, sess *store.Session) error {
	preset := config.GetAgentPreset(config.AgentType(sess.AgentType))
	argv := preset.LaunchArgs(sess.ClaudeSessionID, sess.Model, sess.SystemPrompt, sess.AutoApprove)
	cwd := sess.WorkingDirectory
	if sess.WorktreePath != "" {
		cwd = sess.WorktreePath
	}
	if err := m.Mux.Create(ctx, sess.TmuxName, cwd, argv); err != nil {
		return fault.Wrap(fault.Upstream, "creating pane", err)
	}
	return nil
}

// rollbackWorktree best-effort removes a worktree created by a failed
// create.
func (m *Manager) rollbackWorktree(ctx context.Context, spec CreateSpec, wt *worktree.Info) {
	if wt == nil {
		return
	}
	err := m.Worktrees.Remove(ctx, worktree.CreateOptions{Repo: spec.WorkingDirectory}, wt.Path, wt.Branch, true)
	if err != nil {
		log.Printf("session: rolling back worktree %s: %v", wt.Path, err)
	}
}

// uniqueName returns base if it is free in the project, otherwise the
// first free base-2, base-3, ... in step with worktree branch suffixing.
func (m *Manager) uniqueName(projectID, base string) (string, error) {
	sessions, err := m.Store.ListSessionsByProject(projectID)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		taken[s.Name] = true
	}
	if !taken[base] {
		return base, nil
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

// checkNameFree enforces per-project session-name uniqueness. excludeID
// skips the session being renamed.
func (m *Manager) checkNameFree(projectID, name, excludeID string) error {
	sessions, err := m.Store.ListSessionsByProject(projectID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.ID != excludeID && s.Name == name {
			return fault.New(fault.Conflict, "session name %q already in use", name)
		}
	}
	return nil
}

// Get fetches one session.
func (m *Manager) Get(id string) (*store.Session, error) {
	sess, err := m.Store.GetSession(id)
	if err != nil {
		return nil, fault.Wrap(fault.NotFound, "fetching session", err)
	}
	return sess, nil
}

// Fork is create with parent_session_id = id.
func (m *Manager) Fork(ctx context.Context, id string) (*store.Session, error) {
	return m.Create(ctx, CreateSpec{ParentSessionID: id})
}

// Rename updates the session name. Renaming to the current name is a
// no-op. The pane identifier is id-derived, so only the store changes;
// if a future agent-type change alters the derived pane name, the mux
// rename happens here with the store update rolled back on conflict.
func (m *Manager) Rename(ctx context.Context, id, newName string) (*store.Session, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, fault.New(fault.BadRequest, "session name cannot be empty")
	}
	if sess.Name == newName {
		return sess, nil
	}
	if err := m.checkNameFree(sess.ProjectID, newName, id); err != nil {
		return nil, err
	}

	oldTmux := sess.TmuxName
	newTmux := oldTmux
	if err := m.Store.RenameSession(id, newName, newTmux); err != nil {
		return nil, err
	}
	if oldTmux != newTmux && oldTmux != "" {
		if has, _ := m.Mux.Has(ctx, oldTmux); has {
			if err := m.Mux.Rename(ctx, oldTmux, newTmux); err != nil {
				// Roll the store back so pane and row stay consistent.
				if rbErr := m.Store.RenameSession(id, sess.Name, oldTmux); rbErr != nil {
					log.Printf("session: rename rollback for %s: %v", id, rbErr)
				}
				return nil, fault.Wrap(fault.Conflict, "renaming mux pane", err)
			}
		}
	}
	return m.Get(id)
}

// Move reassigns the session to another project. No filesystem action.
func (m *Manager) Move(id, projectID string) (*store.Session, error) {
	if _, err := m.Store.GetProject(projectID); err != nil {
		return nil, fault.Wrap(fault.NotFound, "resolving project", err)
	}
	if err := m.Store.MoveSession(id, projectID); err != nil {
		return nil, err
	}
	return m.Get(id)
}

// Delete tears a session down: pane (best effort), worktree, port, MCP
// manifest, then the row. Transcripts cascade with the row.
func (m *Manager) Delete(ctx context.Context, id string, deleteBranch bool) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	if sess.TmuxName != "" {
		if err := m.Mux.Kill(ctx, sess.TmuxName); err != nil {
			log.Printf("session: killing pane %s: %v", sess.TmuxName, err)
		}
	}
	if sess.HasWorktree() {
		err := m.Worktrees.Remove(ctx, worktree.CreateOptions{
			Repo:       sess.WorkingDirectory,
			ProjectKey: "project:" + sess.ProjectID,
		}, sess.WorktreePath, sess.BranchName, deleteBranch)
		if err != nil {
			log.Printf("session: removing worktree %s: %v", sess.WorktreePath, err)
		}
	}
	if err := m.MCP.Remove(sess.ID); err != nil {
		log.Printf("session: removing mcp manifest for %s: %v", sess.ID, err)
	}
	return m.Store.DeleteSession(id)
}

// Preview returns the last tailLines lines of the session's pane. A
// session without a pane, or a dead pane, previews as empty.
func (m *Manager) Preview(ctx context.Context, id string, tailLines int) ([]string, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.TmuxName == "" {
		return nil, nil
	}
	return m.Mux.Capture(ctx, sess.TmuxName, tailLines)
}
