package worktree

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentos-dev/agentos/internal/runner"
)

// stepTimeout bounds one bootstrap step (dependency installs can be slow).
const stepTimeout = 5 * time.Minute

// StepResult records one executed bootstrap step.
type StepResult struct {
	Command  string `json:"command"`
	Success  bool   `json:"success"`
	Output   string `json:"output,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// BootstrapResult is the summary the UI fetches while and after the
// environment bootstrap runs.
type BootstrapResult struct {
	EnvFilesCopied []string     `json:"envFilesCopied"`
	Steps          []StepResult `json:"steps"`
	Success        bool         `json:"success"`
	Done           bool         `json:"done"`
}

// bootstrapState tracks per-worktree bootstrap progress.
type bootstrapState struct {
	mu      sync.Mutex
	results map[string]*BootstrapResult // worktree path -> result
}

var bootstraps = bootstrapState{results: make(map[string]*BootstrapResult)}

// BootstrapStatus returns the recorded bootstrap summary for a worktree,
// or nil if none was started.
func BootstrapStatus(path string) *BootstrapResult {
	bootstraps.mu.Lock()
	defer bootstraps.mu.Unlock()
	res := bootstraps.results[path]
	if res == nil {
		return nil
	}
	copied := *res
	copied.EnvFilesCopied = append([]string(nil), res.EnvFilesCopied...)
	copied.Steps = append([]StepResult(nil), res.Steps...)
	return &copied
}

func setBootstrap(path string, mutate func(*BootstrapResult)) {
	bootstraps.mu.Lock()
	defer bootstraps.mu.Unlock()
	res := bootstraps.results[path]
	if res == nil {
		res = &BootstrapResult{}
		bootstraps.results[path] = res
	}
	mutate(res)
}

// forgetBootstrap drops bootstrap state when a worktree is removed.
func forgetBootstrap(path string) {
	bootstraps.mu.Lock()
	defer bootstraps.mu.Unlock()
	delete(bootstraps.results, path)
}

// Bootstrap copies allowlisted env files from src into the worktree and
// runs the configured setup steps, recording a summary for the UI. It is
// designed to run in its own goroutine; failures are recorded, never
// returned to the session-create path, and never delete the worktree.
func (m *Manager) Bootstrap(ctx context.Context, src, dst string, allowlist []string, steps [][]string) {
	setBootstrap(dst, func(r *BootstrapResult) { *r = BootstrapResult{} })

	copied := copyEnvFiles(src, dst, allowlist)
	setBootstrap(dst, func(r *BootstrapResult) { r.EnvFilesCopied = copied })

	success := true
	for _, argv := range steps {
		if len(argv) == 0 {
			continue
		}
		res, err := m.run.Run(ctx, runner.Spec{
			Argv:    argv,
			Dir:     dst,
			Timeout: stepTimeout,
		})
		step := StepResult{Command: strings.Join(argv, " "), Success: err == nil}
		if res != nil {
			step.ExitCode = res.ExitCode
			step.Output = tailOf(res.Stdout+res.Stderr, 4096)
		}
		if err != nil {
			success = false
			log.Printf("worktree: bootstrap step %q failed in %s: %v", step.Command, dst, err)
		}
		setBootstrap(dst, func(r *BootstrapResult) { r.Steps = append(r.Steps, step) })
	}

	setBootstrap(dst, func(r *BootstrapResult) {
		r.Success = success
		r.Done = true
	})
}

// copyEnvFiles copies files in src matching the allowlist globs into dst.
// Only the base name is matched; copies are best effort.
func copyEnvFiles(src, dst string, allowlist []string) []string {
	entries, err := os.ReadDir(src)
	if err != nil {
		log.Printf("worktree: reading %s for env files: %v", src, err)
		return nil
	}
	var copied []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !matchesAllowlist(name, allowlist) {
			continue
		}
		if err := copyFile(filepath.Join(src, name), filepath.Join(dst, name)); err != nil {
			log.Printf("worktree: copying %s: %v", name, err)
			continue
		}
		copied = append(copied, name)
	}
	return copied
}

func matchesAllowlist(name string, allowlist []string) bool {
	for _, pattern := range allowlist {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying to %s: %w", dst, err)
	}
	return nil
}

func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "...(truncated)\n" + s[len(s)-n:]
}
