package store

// SessionStatus is the derived pane status of a session.
type SessionStatus string

const (
	StatusIdle    SessionStatus = "idle"
	StatusRunning SessionStatus = "running"
	StatusWaiting SessionStatus = "waiting"
	StatusError   SessionStatus = "error"
)

// WorkerStatus tracks a worker session's lifecycle under its conductor.
type WorkerStatus string

const (
	WorkerPending   WorkerStatus = "pending"
	WorkerRunning   WorkerStatus = "running"
	WorkerWaiting   WorkerStatus = "waiting"
	WorkerCompleted WorkerStatus = "completed"
	WorkerFailed    WorkerStatus = "failed"
)

// Terminal reports whether the worker has reached a final state.
func (w WorkerStatus) Terminal() bool {
	return w == WorkerCompleted || w == WorkerFailed
}

// PRStatus is the tracked pull-request state.
type PRStatus string

const (
	PROpen   PRStatus = "open"
	PRMerged PRStatus = "merged"
	PRClosed PRStatus = "closed"
)

// DevServerStatus is the supervisor-visible state of a dev server.
type DevServerStatus string

const (
	DevStopped  DevServerStatus = "stopped"
	DevStarting DevServerStatus = "starting"
	DevRunning  DevServerStatus = "running"
	DevFailed   DevServerStatus = "failed"
)

// Project groups sessions sharing a working directory and default agent.
type Project struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	WorkingDirectory string `json:"working_directory"`
	AgentType        string `json:"agent_type"`
	DefaultModel     string `json:"default_model"`
	Expanded         bool   `json:"expanded"`
	SortOrder        int    `json:"sort_order"`
	IsUncategorized  bool   `json:"is_uncategorized"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// DevServerTemplate is a named, persistent dev-server configuration.
type DevServerTemplate struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	Type       string `json:"type"` // node | docker
	Command    string `json:"command"`
	Port       int    `json:"port,omitempty"`
	PortEnvVar string `json:"port_env_var,omitempty"`
	SortOrder  int    `json:"sort_order"`
}

// Session is one running or idle agent instance. Empty strings and zero
// ints stand in for NULL columns.
type Session struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Status           SessionStatus `json:"status"`
	WorkingDirectory string        `json:"working_directory"`
	AgentType        string        `json:"agent_type"`
	Model            string        `json:"model"`
	SystemPrompt     string        `json:"system_prompt,omitempty"`
	TmuxName         string        `json:"tmux_name,omitempty"`
	ProjectID        string        `json:"project_id"`
	ParentSessionID  string        `json:"parent_session_id,omitempty"`
	ClaudeSessionID  string        `json:"claude_session_id,omitempty"`
	AutoApprove      bool          `json:"auto_approve"`
	PendingPrompt    string        `json:"pending_prompt,omitempty"`

	WorktreePath  string `json:"worktree_path,omitempty"`
	BranchName    string `json:"branch_name,omitempty"`
	BaseBranch    string `json:"base_branch,omitempty"`
	DevServerPort int    `json:"dev_server_port,omitempty"`

	PRURL    string   `json:"pr_url,omitempty"`
	PRNumber int      `json:"pr_number,omitempty"`
	PRStatus PRStatus `json:"pr_status,omitempty"`

	ConductorSessionID string       `json:"conductor_session_id,omitempty"`
	WorkerTask         string       `json:"worker_task,omitempty"`
	WorkerStatus       WorkerStatus `json:"worker_status,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// IsWorker reports whether the session was spawned by a conductor.
func (s *Session) IsWorker() bool { return s.ConductorSessionID != "" }

// HasWorktree reports whether the session owns an isolated checkout.
func (s *Session) HasWorktree() bool { return s.WorktreePath != "" }

// DevServerInstance is a currently-or-recently running dev server.
type DevServerInstance struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"project_id"`
	Type             string          `json:"type"`
	Name             string          `json:"name"`
	Command          string          `json:"command"`
	Status           DevServerStatus `json:"status"`
	PID              int             `json:"pid,omitempty"`
	ContainerID      string          `json:"container_id,omitempty"`
	Ports            []int           `json:"ports"`
	WorkingDirectory string          `json:"working_directory"`
}

// TranscriptMessage is one persisted chat record belonging to a session.
type TranscriptMessage struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}
