package devserver

import (
	"context"
	"os/exec"
	"path/filepath"
	"reflect"
	"syscall"
	"testing"

	"github.com/agentos-dev/agentos/internal/fault"
	"github.com/agentos-dev/agentos/internal/runner"
	"github.com/agentos-dev/agentos/internal/store"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, runner.New())
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := s.Start(ctx, StartSpec{Type: "systemd", Command: "run"}); fault.KindOf(err) != fault.BadRequest {
		t.Errorf("unknown type: %v", err)
	}
	if _, err := s.Start(ctx, StartSpec{Type: "node", Command: "   "}); fault.KindOf(err) != fault.BadRequest {
		t.Errorf("blank command: %v", err)
	}
	if _, err := s.Start(ctx, StartSpec{TemplateID: "no-such"}); fault.KindOf(err) != fault.NotFound {
		t.Errorf("unknown template: %v", err)
	}
}

func TestApplyTemplate(t *testing.T) {
	tpl := &store.DevServerTemplate{
		ProjectID:  "proj",
		Name:       "web",
		Type:       "node",
		Command:    "npm run dev",
		Port:       5173,
		PortEnvVar: "PORT",
	}

	spec := StartSpec{}
	spec.applyTemplate(tpl)
	want := StartSpec{ProjectID: "proj", Type: "node", Name: "web", Command: "npm run dev", Ports: []int{5173}, PortEnvVar: "PORT"}
	if !reflect.DeepEqual(spec, want) {
		t.Errorf("filled spec = %+v, want %+v", spec, want)
	}

	// Explicit spec fields win over the template.
	override := StartSpec{Command: "npm run preview", Ports: []int{4000}}
	override.applyTemplate(tpl)
	if override.Command != "npm run preview" || override.Ports[0] != 4000 {
		t.Errorf("template overrode explicit fields: %+v", override)
	}
	if override.Name != "web" || override.PortEnvVar != "PORT" {
		t.Errorf("unset fields not filled: %+v", override)
	}
}

func TestStartFromTemplate(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	tpl := &store.DevServerTemplate{
		ProjectID: store.UncategorizedProjectID,
		Name:      "web",
		Type:      "node",
		Command:   "sleep 30",
	}
	if err := s.Store.CreateDevServerTemplate(tpl); err != nil {
		t.Fatalf("CreateDevServerTemplate: %v", err)
	}

	inst, err := s.Start(ctx, StartSpec{TemplateID: tpl.ID, WorkingDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop(ctx, inst.ID) })

	if inst.Name != "web" || inst.Command != "sleep 30" {
		t.Errorf("instance = %+v, want template fields applied", inst)
	}
	if inst.ProjectID != store.UncategorizedProjectID {
		t.Errorf("ProjectID = %q, want template's", inst.ProjectID)
	}
	if inst.Status != store.DevStarting {
		t.Errorf("Status = %s, want starting", inst.Status)
	}
}

// After a control-plane restart no handle exists; Stop must still signal
// the tracked process group instead of only flipping the row.
func TestStopSignalsTrackedPID(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting sleep: %v", err)
	}

	inst := &store.DevServerInstance{
		ProjectID:        store.UncategorizedProjectID,
		Type:             "node",
		Name:             "orphan",
		Command:          "sleep 30",
		Status:           store.DevRunning,
		PID:              cmd.Process.Pid,
		WorkingDirectory: t.TempDir(),
	}
	if err := s.Store.CreateDevServerInstance(inst); err != nil {
		t.Fatalf("CreateDevServerInstance: %v", err)
	}

	if err := s.Stop(ctx, inst.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := cmd.Wait(); err == nil {
		t.Error("process exited cleanly, want it signalled")
	}

	after, err := s.Store.GetDevServerInstance(inst.ID)
	if err != nil {
		t.Fatalf("GetDevServerInstance: %v", err)
	}
	if after.Status != store.DevStopped {
		t.Errorf("Status = %s, want stopped", after.Status)
	}
}
