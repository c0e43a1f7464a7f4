// Package tmux drives the terminal multiplexer for the rest of the
// control plane: pane lifecycle, keystroke injection, output capture, and
// heuristic status classification.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/agentos-dev/agentos/internal/runner"
)

var (
	// ErrNoServer means no tmux server is running.
	ErrNoServer = errors.New("tmux server not running")
	// ErrSessionExists means the target session name is taken.
	ErrSessionExists = errors.New("tmux session already exists")
	// ErrSessionNotFound means the named session does not exist.
	ErrSessionNotFound = errors.New("tmux session not found")
)

// commandTimeout bounds every tmux invocation; tmux commands are local and
// fast, so anything slower indicates a wedged server.
const commandTimeout = 10 * time.Second

// validName rejects names tmux would mangle (it replaces '.' and ':' with
// '_', silently breaking later lookups).
var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// SessionInfo describes one live multiplexer session.
type SessionInfo struct {
	Name     string `json:"name"`
	Windows  int    `json:"windows"`
	Created  int64  `json:"created"`
	Attached bool   `json:"attached"`
}

// Driver is the mux interface the session manager, orchestrator, and
// gateway depend on. The concrete Tmux type talks to a real server; tests
// substitute a fake.
type Driver interface {
	Create(ctx context.Context, name, cwd string, initialCommand []string) error
	AttachCommand(name string) []string
	Detach(ctx context.Context, name string) error
	SendKeys(ctx context.Context, name string, data []byte) error
	SendCommand(ctx context.Context, name, line string) error
	Capture(ctx context.Context, name string, tailLines int) ([]string, error)
	Rename(ctx context.Context, oldName, newName string) error
	List(ctx context.Context) ([]SessionInfo, error)
	Kill(ctx context.Context, name string) error
	Has(ctx context.Context, name string) (bool, error)
}

// Tmux runs tmux subcommands through the external-command runner.
type Tmux struct {
	run *runner.Runner
}

// New creates a tmux driver over the given runner.
func New(run *runner.Runner) *Tmux {
	return &Tmux{run: run}
}

// ValidateSessionName rejects names tmux cannot represent faithfully.
func ValidateSessionName(name string) error {
	if name == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid session name %q: only alphanumeric, dash, underscore allowed", name)
	}
	return nil
}

// exec runs one tmux command. UTF-8 is forced so pane captures of agent
// spinner glyphs survive intact.
func (t *Tmux) exec(ctx context.Context, args ...string) (*runner.Result, error) {
	res, err := t.run.Run(ctx, runner.Spec{
		Argv:    append([]string{"tmux", "-u"}, args...),
		Timeout: commandTimeout,
	})
	if err != nil {
		return res, t.wrapError(err, res)
	}
	return res, nil
}

// wrapError classifies tmux stderr into sentinel errors.
func (t *Tmux) wrapError(err error, res *runner.Result) error {
	var stderr string
	if res != nil {
		stderr = strings.ToLower(res.Stderr)
	}
	switch {
	case strings.Contains(stderr, "no server running"),
		strings.Contains(stderr, "error connecting to"):
		return fmt.Errorf("%w: %v", ErrNoServer, err)
	case strings.Contains(stderr, "duplicate session"):
		return fmt.Errorf("%w: %v", ErrSessionExists, err)
	case strings.Contains(stderr, "session not found"),
		strings.Contains(stderr, "can't find session"),
		strings.Contains(stderr, "no such session"):
		return fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	return err
}

// Create makes a detached session running initialCommand in cwd. Creating
// a name that already exists is not an error: create-first avoids the
// check-then-create race, and an existing session satisfies the contract.
func (t *Tmux) Create(ctx context.Context, name, cwd string, initialCommand []string) error {
	if err := ValidateSessionName(name); err != nil {
		return err
	}
	args := []string{"new-session", "-d", "-s", name}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	args = append(args, initialCommand...)
	if _, err := t.exec(ctx, args...); err != nil {
		if errors.Is(err, ErrSessionExists) {
			return nil
		}
		return err
	}
	return nil
}

// AttachCommand returns the argv the terminal gateway runs inside a PTY to
// attach to the named session. "new-session -A" attaches if the session
// exists and creates it otherwise, so attach is idempotent.
func (t *Tmux) AttachCommand(name string) []string {
	return []string{"tmux", "-u", "new-session", "-A", "-s", name}
}

// Detach sends the detach keystroke to all clients of the session.
func (t *Tmux) Detach(ctx context.Context, name string) error {
	_, err := t.exec(ctx, "detach-client", "-s", name)
	return err
}

// SendKeys writes raw bytes to the pane without interpretation (-l).
func (t *Tmux) SendKeys(ctx context.Context, name string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := t.exec(ctx, "send-keys", "-t", name, "-l", string(data))
	return err
}

// SendCommand types a line into the pane and presses Enter. The Enter is a
// separate send-keys call so the line itself is never key-interpreted.
func (t *Tmux) SendCommand(ctx context.Context, name, line string) error {
	if line != "" {
		if _, err := t.exec(ctx, "send-keys", "-t", name, "-l", line); err != nil {
			return err
		}
	}
	_, err := t.exec(ctx, "send-keys", "-t", name, "Enter")
	return err
}

// Capture returns the last tailLines lines of the pane. A missing pane
// yields an empty result, not an error.
func (t *Tmux) Capture(ctx context.Context, name string, tailLines int) ([]string, error) {
	if tailLines <= 0 {
		tailLines = 50
	}
	res, err := t.exec(ctx, "capture-pane", "-p", "-t", name, "-S", fmt.Sprintf("-%d", tailLines))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	out := strings.TrimRight(res.Stdout, "\n")
	if out == "" {
		return nil, nil
	}
	lines := strings.Split(out, "\n")
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	return lines, nil
}

// Rename renames a session, refusing to clobber an existing target.
func (t *Tmux) Rename(ctx context.Context, oldName, newName string) error {
	if err := ValidateSessionName(newName); err != nil {
		return err
	}
	exists, err := t.Has(ctx, newName)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrSessionExists, newName)
	}
	_, err = t.exec(ctx, "rename-session", "-t", oldName, newName)
	return err
}

// List enumerates live sessions. A missing server means no sessions.
func (t *Tmux) List(ctx context.Context) ([]SessionInfo, error) {
	res, err := t.exec(ctx, "list-sessions", "-F", "#{session_name}|#{session_windows}|#{session_created}|#{session_attached}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	var out []SessionInfo
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 4 {
			continue
		}
		info := SessionInfo{Name: parts[0]}
		fmt.Sscanf(parts[1], "%d", &info.Windows)
		fmt.Sscanf(parts[2], "%d", &info.Created)
		info.Attached = parts[3] != "0"
		out = append(out, info)
	}
	return out, nil
}

// Kill terminates a session. Killing an absent session succeeds.
func (t *Tmux) Kill(ctx context.Context, name string) error {
	_, err := t.exec(ctx, "kill-session", "-t", "="+name)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
		return nil
	}
	return err
}

// Has reports whether the exact session name exists. The "=" prefix
// disables tmux's prefix matching.
func (t *Tmux) Has(ctx context.Context, name string) (bool, error) {
	_, err := t.exec(ctx, "has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
