package runner

import (
	"bytes"
	"container/ring"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ringLines is how many output lines a streaming handle retains for logs.
const ringLines = 2000

// Handle supervises a long-running streamed process (dev servers). Output
// is retained in a line ring for tailing; the process runs until Kill or
// natural exit.
type Handle struct {
	cmd *exec.Cmd

	mu     sync.Mutex
	lines  *ring.Ring
	nLines int
	exited bool
	exitCh chan struct{}
	err    error
	part   []byte
}

// Start launches a streaming process. Unlike Run there is no timeout; the
// caller owns the lifecycle via Kill.
func (r *Runner) Start(spec Spec) (*Handle, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &Handle{
		cmd:    cmd,
		lines:  ring.New(ringLines),
		exitCh: make(chan struct{}),
	}
	cmd.Stdout = (*handleWriter)(h)
	cmd.Stderr = (*handleWriter)(h)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Argv[0], err)
	}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.flushPartial()
		h.exited = true
		h.err = err
		h.mu.Unlock()
		close(h.exitCh)
	}()
	return h, nil
}

// StartShell is the shell-line streaming variant; see RunShell.
func (r *Runner) StartShell(line, dir string, env []string) (*Handle, error) {
	return r.Start(Spec{Argv: []string{"/bin/sh", "-c", line}, Dir: dir, Env: env})
}

// PID returns the process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Running reports whether the process has not exited yet.
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited
}

// Exited returns a channel closed when the process exits.
func (h *Handle) Exited() <-chan struct{} { return h.exitCh }

// ExitErr returns the Wait error after exit, nil before.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		return nil
	}
	return h.err
}

// Kill terminates the process group: SIGTERM, grace period, SIGKILL.
// Idempotent; returns once the process has exited.
func (h *Handle) Kill() {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return
	}
	pid := h.cmd.Process.Pid
	_ = unix.Kill(-pid, unix.SIGTERM)
	select {
	case <-h.exitCh:
		return
	case <-time.After(killGracePeriod):
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
	<-h.exitCh
}

// Tail returns the last n retained output lines.
func (h *Handle) Tail(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || h.nLines == 0 {
		return nil
	}
	if n > h.nLines {
		n = h.nLines
	}
	out := make([]string, 0, n)
	h.lines.Do(func(v any) {
		if v != nil {
			out = append(out, v.(string))
		}
	})
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func (h *Handle) appendOutput(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.part = append(h.part, p...)
	for {
		i := bytes.IndexByte(h.part, '\n')
		if i < 0 {
			return
		}
		h.pushLine(string(h.part[:i]))
		h.part = h.part[i+1:]
	}
}

// flushPartial records a trailing unterminated line at exit. Caller holds mu.
func (h *Handle) flushPartial() {
	if len(h.part) > 0 {
		h.pushLine(string(h.part))
		h.part = nil
	}
}

// pushLine appends one line to the ring. Caller holds mu.
func (h *Handle) pushLine(line string) {
	h.lines.Value = strings.TrimRight(line, "\r")
	h.lines = h.lines.Next()
	if h.nLines < ringLines {
		h.nLines++
	}
}

// handleWriter funnels both stdout and stderr into the line ring.
type handleWriter Handle

func (w *handleWriter) Write(p []byte) (int, error) {
	(*Handle)(w).appendOutput(p)
	return len(p), nil
}
