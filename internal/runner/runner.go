// Package runner executes external commands (git, tmux, gh, dev servers)
// with argv-only invocation, output caps, wall-clock timeouts, and
// per-project serialization.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrTimeout means the command exceeded its wall-clock timeout.
	ErrTimeout = errors.New("command timed out")
	// ErrKilled means the command was killed before exiting on its own.
	ErrKilled = errors.New("command killed")
	// ErrCancelled means the caller's context was cancelled.
	ErrCancelled = errors.New("command cancelled")
)

// killGracePeriod is how long a process gets after SIGTERM before SIGKILL.
const killGracePeriod = 2 * time.Second

// defaultMaxOutput caps captured stdout/stderr per stream.
const defaultMaxOutput = 1 << 20

// ExitError reports a non-zero exit with the captured stderr.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, msg)
}

// Spec describes one command invocation. Argv is never interpolated into a
// shell; callers that need shell semantics use RunShell.
type Spec struct {
	Argv    []string
	Dir     string
	Env     []string // appended to os.Environ
	Timeout time.Duration

	// ProjectKey serializes this command against others sharing the key.
	// Empty means no serialization.
	ProjectKey string

	// MaxOutputBytes caps each captured stream; 0 means the default cap.
	MaxOutputBytes int
}

// Result holds the captured output of a completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs commands with per-project-key serialization. The zero value
// is not usable; construct with New.
type Runner struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// New creates a Runner.
func New() *Runner {
	return &Runner{locks: make(map[string]chan struct{})}
}

// acquire takes the serialization lock for key, respecting ctx.
func (r *Runner) acquire(ctx context.Context, key string) (release func(), err error) {
	if key == "" {
		return func() {}, nil
	}
	r.mu.Lock()
	lock, ok := r.locks[key]
	if !ok {
		lock = make(chan struct{}, 1)
		r.locks[key] = lock
	}
	r.mu.Unlock()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for project lock %q: %w", key, ErrCancelled)
	}
}

// WithProjectLock runs fn while holding the serialization lock for key.
// Session creation shares this lock with git/worktree commands so branch
// and port allocation cannot interleave with a concurrent create.
func (r *Runner) WithProjectLock(ctx context.Context, key string, fn func() error) error {
	release, err := r.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Run executes spec to completion. Non-zero exits return (*ExitError);
// timeouts return ErrTimeout. The partial Result is returned either way.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	release, err := r.acquire(ctx, spec.ProjectKey)
	if err != nil {
		return nil, err
	}
	defer release()

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group so the grace-period kill reaches children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cap := spec.MaxOutputBytes
	if cap <= 0 {
		cap = defaultMaxOutput
	}
	var stdout, stderr cappedBuffer
	stdout.max = cap
	stderr.max = cap
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Argv[0], err)
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case err = <-waitDone:
	case <-runCtx.Done():
		terminateGroup(cmd.Process.Pid, waitDone)
		res := &Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
		if spec.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return res, fmt.Errorf("%s after %s: %w", spec.Argv[0], spec.Timeout, ErrTimeout)
		}
		return res, ErrCancelled
	}

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 0}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			if res.ExitCode < 0 {
				return res, ErrKilled
			}
			return res, &ExitError{Code: res.ExitCode, Stderr: stderr.String()}
		}
		return res, err
	}
	return res, nil
}

// RunShell executes a user-entered command line through the shell. This is
// the one documented exception to argv-only invocation, used for
// dev-server commands typed by the user. Audit greps for RunShell find
// every shell entry point.
func (r *Runner) RunShell(ctx context.Context, line, dir string, env []string, timeout time.Duration) (*Result, error) {
	return r.Run(ctx, Spec{
		Argv:    []string{"/bin/sh", "-c", line},
		Dir:     dir,
		Env:     env,
		Timeout: timeout,
	})
}

// terminateGroup sends SIGTERM to the process group and escalates to
// SIGKILL only if the process outlives the grace period. Returns once the
// process has exited.
func terminateGroup(pid int, exited <-chan error) {
	_ = unix.Kill(-pid, unix.SIGTERM)
	select {
	case <-exited:
		return
	case <-time.After(killGracePeriod):
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
	<-exited
}

// cappedBuffer keeps at most max bytes and drops the rest, recording that
// truncation happened.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.truncated = true
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n...(truncated)"
	}
	return b.buf.String()
}
