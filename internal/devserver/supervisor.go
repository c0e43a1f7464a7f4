// Package devserver supervises long-running project dev servers: node
// processes spawned through the runner's streaming variant, and docker
// compose services addressed by name.
package devserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/agentos-dev/agentos/internal/fault"
	"github.com/agentos-dev/agentos/internal/runner"
	"github.com/agentos-dev/agentos/internal/store"
)

// startGrace is how long a node process must stay alive (or a declared
// port become listenable) before it counts as running.
const startGrace = 2 * time.Second

// composeTimeout bounds docker compose invocations.
const composeTimeout = 60 * time.Second

// Supervisor tracks live handles for node servers and drives compose for
// docker ones. Durable state lives in the store; the handle map is
// process-local and rebuilt empty on restart.
type Supervisor struct {
	Store  *store.Store
	Runner *runner.Runner

	mu      sync.Mutex
	handles map[string]*runner.Handle // instance id -> live node process
}

// New creates a Supervisor.
func New(st *store.Store, run *runner.Runner) *Supervisor {
	return &Supervisor{Store: st, Runner: run, handles: make(map[string]*runner.Handle)}
}

// StartSpec configures a dev-server start. TemplateID names a saved
// project template whose fields fill in whatever the spec leaves unset.
type StartSpec struct {
	ProjectID        string `json:"project_id"`
	TemplateID       string `json:"template_id"`
	Type             string `json:"type"` // node | docker
	Name             string `json:"name"`
	Command          string `json:"command"`
	WorkingDirectory string `json:"working_directory"`
	Ports            []int  `json:"ports"`
	PortEnvVar       string `json:"port_env_var"`
}

// applyTemplate fills unset spec fields from a saved template.
func (spec *StartSpec) applyTemplate(t *store.DevServerTemplate) {
	if spec.ProjectID == "" {
		spec.ProjectID = t.ProjectID
	}
	if spec.Type == "" {
		spec.Type = t.Type
	}
	if spec.Name == "" {
		spec.Name = t.Name
	}
	if spec.Command == "" {
		spec.Command = t.Command
	}
	if len(spec.Ports) == 0 && t.Port != 0 {
		spec.Ports = []int{t.Port}
	}
	if spec.PortEnvVar == "" {
		spec.PortEnvVar = t.PortEnvVar
	}
}

// Start launches a dev server and records the instance. The call returns
// once the instance row exists with status starting; the transition to
// running or failed happens asynchronously.
func (s *Supervisor) Start(ctx context.Context, spec StartSpec) (*store.DevServerInstance, error) {
	if spec.TemplateID != "" {
		tpl, err := s.Store.GetDevServerTemplate(spec.TemplateID)
		if err != nil {
			return nil, fault.Wrap(fault.NotFound, "resolving dev-server template", err)
		}
		spec.applyTemplate(tpl)
	}
	switch spec.Type {
	case "node", "docker":
	default:
		return nil, fault.New(fault.BadRequest, "invalid dev-server type %q", spec.Type)
	}
	if strings.TrimSpace(spec.Command) == "" {
		return nil, fault.New(fault.BadRequest, "dev-server command is required")
	}

	inst := &store.DevServerInstance{
		ProjectID:        spec.ProjectID,
		Type:             spec.Type,
		Name:             spec.Name,
		Command:          spec.Command,
		Status:           store.DevStarting,
		Ports:            spec.Ports,
		WorkingDirectory: spec.WorkingDirectory,
	}
	if err := s.Store.CreateDevServerInstance(inst); err != nil {
		return nil, err
	}

	switch spec.Type {
	case "node":
		if err := s.startNode(inst, spec); err != nil {
			s.markFailed(inst.ID)
			return nil, err
		}
	case "docker":
		go s.startDocker(inst, spec)
	}
	return inst, nil
}

// startNode spawns the user-entered command through the documented shell
// variant and watches the grace window.
func (s *Supervisor) startNode(inst *store.DevServerInstance, spec StartSpec) error {
	var env []string
	if spec.PortEnvVar != "" && len(spec.Ports) > 0 {
		env = append(env, fmt.Sprintf("%s=%d", spec.PortEnvVar, spec.Ports[0]))
	}
	handle, err := s.Runner.StartShell(spec.Command, spec.WorkingDirectory, env)
	if err != nil {
		return fault.Wrap(fault.Upstream, "starting dev server", err)
	}

	s.mu.Lock()
	s.handles[inst.ID] = handle
	s.mu.Unlock()

	if err := s.Store.UpdateDevServerRuntime(inst.ID, store.DevStarting, handle.PID(), ""); err != nil {
		log.Printf("devserver: recording pid for %s: %v", inst.ID, err)
	}

	go func() {
		select {
		case <-handle.Exited():
			// Died inside the grace window.
			s.markFailed(inst.ID)
			return
		case <-time.After(startGrace):
		}
		if len(spec.Ports) > 0 && !portListening(spec.Ports[0], 10*time.Second) {
			log.Printf("devserver: %s alive but port %d not listening", inst.Name, spec.Ports[0])
		}
		if err := s.Store.UpdateDevServerRuntime(inst.ID, store.DevRunning, handle.PID(), ""); err != nil {
			log.Printf("devserver: marking %s running: %v", inst.ID, err)
		}
		<-handle.Exited()
		s.onNodeExit(inst.ID, handle)
	}()
	return nil
}

// onNodeExit records the terminal state once a running node process ends.
func (s *Supervisor) onNodeExit(id string, handle *runner.Handle) {
	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()
	status := store.DevStopped
	if handle.ExitErr() != nil {
		status = store.DevFailed
	}
	if err := s.Store.UpdateDevServerRuntime(id, status, 0, ""); err != nil {
		log.Printf("devserver: recording exit of %s: %v", id, err)
	}
}

// startDocker brings the compose service up and records its container id.
func (s *Supervisor) startDocker(inst *store.DevServerInstance, spec StartSpec) {
	ctx, cancel := context.WithTimeout(context.Background(), composeTimeout)
	defer cancel()
	_, err := s.Runner.Run(ctx, runner.Spec{
		Argv:       []string{"docker", "compose", "up", "-d", spec.Command},
		Dir:        spec.WorkingDirectory,
		Timeout:    composeTimeout,
		ProjectKey: "project:" + spec.ProjectID,
	})
	if err != nil {
		log.Printf("devserver: compose up %s: %v", spec.Command, err)
		s.markFailed(inst.ID)
		return
	}
	containerID := ""
	res, err := s.Runner.Run(ctx, runner.Spec{
		Argv:    []string{"docker", "compose", "ps", "-q", spec.Command},
		Dir:     spec.WorkingDirectory,
		Timeout: composeTimeout,
	})
	if err == nil {
		containerID = strings.TrimSpace(res.Stdout)
	}
	if err := s.Store.UpdateDevServerRuntime(inst.ID, store.DevRunning, 0, containerID); err != nil {
		log.Printf("devserver: marking %s running: %v", inst.ID, err)
	}
}

func (s *Supervisor) markFailed(id string) {
	if err := s.Store.UpdateDevServerRuntime(id, store.DevFailed, 0, ""); err != nil {
		log.Printf("devserver: marking %s failed: %v", id, err)
	}
}

// Stop terminates a dev server: SIGTERM then SIGKILL for node, compose
// stop for docker. Stopping a stopped instance is a no-op.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	inst, err := s.Store.GetDevServerInstance(id)
	if err != nil {
		return fault.Wrap(fault.NotFound, "resolving dev server", err)
	}
	switch inst.Type {
	case "node":
		s.mu.Lock()
		handle := s.handles[id]
		delete(s.handles, id)
		s.mu.Unlock()
		switch {
		case handle != nil:
			handle.Kill()
		case inst.PID > 0 && (inst.Status == store.DevRunning || inst.Status == store.DevStarting):
			// No live handle after a control-plane restart; fall back to the
			// tracked process group.
			killGroup(inst.PID)
		}
	case "docker":
		_, err := s.Runner.Run(ctx, runner.Spec{
			Argv:       []string{"docker", "compose", "stop", inst.Command},
			Dir:        inst.WorkingDirectory,
			Timeout:    composeTimeout,
			ProjectKey: "project:" + inst.ProjectID,
		})
		if err != nil {
			return fault.Wrap(fault.Upstream, "stopping compose service", err)
		}
	}
	return s.Store.UpdateDevServerRuntime(id, store.DevStopped, 0, inst.ContainerID)
}

// killGroup terminates a tracked process group by pid: SIGTERM, then
// SIGKILL if the group outlives the grace period.
func killGroup(pid int) {
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		return
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if unix.Kill(-pid, 0) != nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
}

// Restart stops then starts with the preserved config.
func (s *Supervisor) Restart(ctx context.Context, id string) (*store.DevServerInstance, error) {
	inst, err := s.Store.GetDevServerInstance(id)
	if err != nil {
		return nil, fault.Wrap(fault.NotFound, "resolving dev server", err)
	}
	if err := s.Stop(ctx, id); err != nil {
		return nil, err
	}
	if err := s.Store.DeleteDevServerInstance(id); err != nil {
		return nil, err
	}
	return s.Start(ctx, StartSpec{
		ProjectID:        inst.ProjectID,
		Type:             inst.Type,
		Name:             inst.Name,
		Command:          inst.Command,
		WorkingDirectory: inst.WorkingDirectory,
		Ports:            inst.Ports,
	})
}

// Remove stops the server if needed and deletes the instance row.
func (s *Supervisor) Remove(ctx context.Context, id string) error {
	inst, err := s.Store.GetDevServerInstance(id)
	if err != nil {
		return fault.Wrap(fault.NotFound, "resolving dev server", err)
	}
	if inst.Status == store.DevRunning || inst.Status == store.DevStarting {
		if err := s.Stop(ctx, id); err != nil {
			log.Printf("devserver: stopping %s before remove: %v", id, err)
		}
	}
	return s.Store.DeleteDevServerInstance(id)
}

// Logs tails a dev server's output: the captured ring for node, compose
// logs for docker.
func (s *Supervisor) Logs(ctx context.Context, id string, tailLines int) ([]string, error) {
	inst, err := s.Store.GetDevServerInstance(id)
	if err != nil {
		return nil, fault.Wrap(fault.NotFound, "resolving dev server", err)
	}
	if tailLines <= 0 {
		tailLines = 100
	}
	switch inst.Type {
	case "node":
		s.mu.Lock()
		handle := s.handles[id]
		s.mu.Unlock()
		if handle == nil {
			return nil, nil
		}
		return handle.Tail(tailLines), nil
	case "docker":
		res, err := s.Runner.Run(ctx, runner.Spec{
			Argv:    []string{"docker", "compose", "logs", "--tail", fmt.Sprint(tailLines), inst.Command},
			Dir:     inst.WorkingDirectory,
			Timeout: composeTimeout,
		})
		if err != nil {
			return nil, fault.Wrap(fault.Upstream, "fetching compose logs", err)
		}
		out := strings.TrimRight(res.Stdout, "\n")
		if out == "" {
			return nil, nil
		}
		return strings.Split(out, "\n"), nil
	}
	return nil, fault.New(fault.Internal, "unknown dev-server type %q", inst.Type)
}

// List returns instances, optionally filtered by project.
func (s *Supervisor) List(projectID string) ([]*store.DevServerInstance, error) {
	return s.Store.ListDevServerInstances(projectID)
}

// portListening polls until the port accepts a connection or the deadline
// passes.
func portListening(port int, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 250*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(250 * time.Millisecond)
	}
	return false
}
