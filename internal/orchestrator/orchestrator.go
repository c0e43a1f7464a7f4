// Package orchestrator implements the conductor-facing worker tools:
// spawning worker sessions, tracking their lifecycle, forwarding output
// and input, and tearing them down.
package orchestrator

import (
	"context"
	"log"
	"strings"

	"github.com/agentos-dev/agentos/internal/fault"
	"github.com/agentos-dev/agentos/internal/session"
	"github.com/agentos-dev/agentos/internal/store"
	"github.com/agentos-dev/agentos/internal/tmux"
)

// defaultOutputLines is the tail size for get_worker_output.
const defaultOutputLines = 50

// Orchestrator drives workers through the session manager. Workers are
// ordinary sessions with conductor_session_id set; the orchestrator adds
// the lifecycle policy on top.
type Orchestrator struct {
	Sessions *session.Manager
}

// New creates an Orchestrator.
func New(mgr *session.Manager) *Orchestrator {
	return &Orchestrator{Sessions: mgr}
}

// SpawnSpec are the spawn_worker inputs.
type SpawnSpec struct {
	ConductorID      string `json:"conductor_id"`
	Task             string `json:"task"`
	WorkingDirectory string `json:"working_directory"`
	BranchName       string `json:"branch_name"`
	UseWorktree      *bool  `json:"use_worktree"` // default true
	Model            string `json:"model"`        // default sonnet
	AgentType        string `json:"agent_type"`   // default claude
}

// WorkerInfo is the list_workers row.
type WorkerInfo struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Status     store.WorkerStatus `json:"status"`
	Task       string             `json:"task"`
	BranchName string             `json:"branch_name,omitempty"`
}

// Spawn creates a worker session on behalf of a conductor. Workers never
// spawn workers; a conductor that is itself a worker is refused.
func (o *Orchestrator) Spawn(ctx context.Context, spec SpawnSpec) (*store.Session, error) {
	if strings.TrimSpace(spec.Task) == "" {
		return nil, fault.New(fault.BadRequest, "task is required")
	}
	conductor, err := o.Sessions.Get(spec.ConductorID)
	if err != nil {
		return nil, err
	}
	if conductor.IsWorker() {
		return nil, fault.New(fault.BadRequest, "session %s is a worker and cannot spawn workers", conductor.ID)
	}

	useWorktree := spec.UseWorktree == nil || *spec.UseWorktree
	feature := spec.BranchName
	if feature == "" {
		feature = spec.Task
	}
	workdir := spec.WorkingDirectory
	if workdir == "" {
		// Workers cut their worktrees from the conductor's repository.
		workdir = conductor.WorkingDirectory
	}
	worker, err := o.Sessions.Create(ctx, session.CreateSpec{
		WorkingDirectory:   workdir,
		Model:              spec.Model,
		AgentType:          spec.AgentType,
		ProjectID:          conductor.ProjectID,
		UseWorktree:        useWorktree,
		FeatureName:        feature,
		InitialPrompt:      spec.Task,
		ConductorSessionID: conductor.ID,
		WorkerTask:         spec.Task,
	})
	if err != nil {
		return nil, err
	}
	return worker, nil
}

// getWorker fetches a session and refuses non-workers.
func (o *Orchestrator) getWorker(id string) (*store.Session, error) {
	sess, err := o.Sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if !sess.IsWorker() {
		return nil, fault.New(fault.BadRequest, "session %s is not a worker", id)
	}
	return sess, nil
}

// List returns a conductor's workers.
func (o *Orchestrator) List(conductorID string) ([]WorkerInfo, error) {
	workers, err := o.Sessions.Store.ListWorkers(conductorID)
	if err != nil {
		return nil, err
	}
	out := make([]WorkerInfo, 0, len(workers))
	for _, w := range workers {
		out = append(out, WorkerInfo{
			ID:         w.ID,
			Name:       w.Name,
			Status:     w.WorkerStatus,
			Task:       w.WorkerTask,
			BranchName: w.BranchName,
		})
	}
	return out, nil
}

// Output returns the last n lines of a worker's pane.
func (o *Orchestrator) Output(ctx context.Context, workerID string, lines int) ([]string, error) {
	worker, err := o.getWorker(workerID)
	if err != nil {
		return nil, err
	}
	if lines <= 0 {
		lines = defaultOutputLines
	}
	if worker.TmuxName == "" {
		return nil, nil
	}
	return o.Sessions.Mux.Capture(ctx, worker.TmuxName, lines)
}

// Send types a message into the worker's pane followed by Enter.
func (o *Orchestrator) Send(ctx context.Context, workerID, message string) error {
	worker, err := o.getWorker(workerID)
	if err != nil {
		return err
	}
	if worker.TmuxName == "" {
		return fault.New(fault.BadRequest, "worker %s has no pane", workerID)
	}
	return o.Sessions.Mux.SendCommand(ctx, worker.TmuxName, message)
}

// Complete marks a worker completed. Only this call reaches completed.
func (o *Orchestrator) Complete(workerID string) error {
	if _, err := o.getWorker(workerID); err != nil {
		return err
	}
	return o.Sessions.Store.SetWorkerStatus(workerID, store.WorkerCompleted)
}

// Fail marks a worker failed.
func (o *Orchestrator) Fail(workerID string) error {
	if _, err := o.getWorker(workerID); err != nil {
		return err
	}
	return o.Sessions.Store.SetWorkerStatus(workerID, store.WorkerFailed)
}

// Kill terminates the worker's pane and deletes the session record,
// optionally removing its worktree directory.
func (o *Orchestrator) Kill(ctx context.Context, workerID string, cleanupWorktree bool) error {
	if _, err := o.getWorker(workerID); err != nil {
		return err
	}
	// Delete always removes the worktree binding; cleanupWorktree decides
	// whether the branch goes with it.
	return o.Sessions.Delete(ctx, workerID, cleanupWorktree)
}

// Summary aggregates a conductor's workers by status.
func (o *Orchestrator) Summary(conductorID string) (map[store.WorkerStatus]int, error) {
	if _, err := o.Sessions.Get(conductorID); err != nil {
		return nil, err
	}
	return o.Sessions.Store.CountSessionsByWorkerStatus(conductorID)
}

// ObservePane is the status-poller hook driving automatic worker
// transitions: pending moves to running on the first live pane, running
// and waiting track the classification, and a pane that dies before
// complete_worker arrives fails the worker.
func (o *Orchestrator) ObservePane(sess *store.Session, status tmux.PaneStatus) {
	if !sess.IsWorker() || sess.WorkerStatus.Terminal() {
		return
	}
	var next store.WorkerStatus
	switch {
	case status == tmux.PaneDead:
		if sess.WorkerStatus == store.WorkerPending {
			// Not started yet; a pane that never existed is not a failure.
			return
		}
		next = store.WorkerFailed
	case sess.WorkerStatus == store.WorkerPending:
		next = store.WorkerRunning
	case status == tmux.PaneWaiting:
		next = store.WorkerWaiting
	case sess.WorkerStatus == store.WorkerWaiting:
		next = store.WorkerRunning
	default:
		return
	}
	if next == sess.WorkerStatus {
		return
	}
	if err := o.Sessions.Store.SetWorkerStatus(sess.ID, next); err != nil {
		log.Printf("orchestrator: advancing worker %s to %s: %v", sess.ID, next, err)
	}
}
