// Package worktree creates and destroys isolated git checkouts per
// feature, with branch-name allocation and asynchronous environment
// bootstrap.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentos-dev/agentos/internal/runner"
)

// Timeouts per operation class. Worktree add checks out a full tree;
// queries are metadata-only.
const (
	addTimeout   = 30 * time.Second
	queryTimeout = 10 * time.Second
)

// Manager creates worktrees under a well-known root. All git commands run
// through the external-command runner with the project's serialization key
// so two creates against the same repository never interleave.
type Manager struct {
	run  *runner.Runner
	root string
}

// New creates a Manager rooted at root (usually <state>/worktrees).
func New(run *runner.Runner, root string) *Manager {
	return &Manager{run: run, root: root}
}

// Root returns the worktrees root directory.
func (m *Manager) Root() string { return m.root }

// Info describes a created worktree.
type Info struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
	Base   string `json:"base"`
}

// CreateOptions configures a worktree create.
type CreateOptions struct {
	Repo        string // source repository working directory
	ProjectName string // used for the directory name
	Feature     string // human feature name, slugged into the branch
	Base        string // base branch, default main
	ProjectKey  string // runner serialization key
}

// git runs one git command against the repo with the manager's project key.
func (m *Manager) git(ctx context.Context, opts CreateOptions, timeout time.Duration, args ...string) (*runner.Result, error) {
	return m.run.Run(ctx, runner.Spec{
		Argv:       append([]string{"git", "-C", opts.Repo}, args...),
		Timeout:    timeout,
		ProjectKey: opts.ProjectKey,
	})
}

// IsRepo reports whether dir is inside a git repository.
func (m *Manager) IsRepo(ctx context.Context, dir string) bool {
	_, err := m.run.Run(ctx, runner.Spec{
		Argv:    []string{"git", "-C", dir, "rev-parse", "--git-dir"},
		Timeout: queryTimeout,
	})
	return err == nil
}

// branchExists checks refs/heads for an exact branch name.
func (m *Manager) branchExists(ctx context.Context, opts CreateOptions, branch string) (bool, error) {
	_, err := m.git(ctx, opts, queryTimeout, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) && exitErr.Code == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UniqueBranch returns the first free branch name derived from feature:
// feature/<slug>, then feature/<slug>-2, -3, ...
func (m *Manager) UniqueBranch(ctx context.Context, opts CreateOptions) (string, error) {
	base := BranchName(opts.Feature)
	if base == BranchPrefix {
		return "", fmt.Errorf("feature name %q produces an empty branch slug", opts.Feature)
	}
	candidate := base
	for i := 2; ; i++ {
		exists, err := m.branchExists(ctx, opts, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// allocateDir picks <root>/<project>-<slug>, appending a numeric suffix
// when the directory already exists.
func (m *Manager) allocateDir(project, feature string) (string, error) {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return "", fmt.Errorf("creating worktrees root: %w", err)
	}
	base := filepath.Join(m.root, Slug(project)+"-"+Slug(feature))
	candidate := base
	for i := 2; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// Create validates the repo, allocates a branch and directory, and adds
// the worktree. Source refs are tried in order origin/<base>,
// refs/heads/<base>, <base>; the first that succeeds wins and the last
// error is surfaced verbatim if all fail.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Info, error) {
	if opts.Base == "" {
		opts.Base = "main"
	}
	if !m.IsRepo(ctx, opts.Repo) {
		return nil, fmt.Errorf("%s is not a git repository", opts.Repo)
	}

	branch, err := m.UniqueBranch(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("allocating branch: %w", err)
	}
	dir, err := m.allocateDir(opts.ProjectName, opts.Feature)
	if err != nil {
		return nil, err
	}

	refs := []string{"origin/" + opts.Base, "refs/heads/" + opts.Base, opts.Base}
	var lastErr error
	for _, ref := range refs {
		_, lastErr = m.git(ctx, opts, addTimeout, "worktree", "add", "-b", branch, dir, ref)
		if lastErr == nil {
			return &Info{Path: dir, Branch: branch, Base: opts.Base}, nil
		}
	}
	return nil, lastErr
}

// Remove deletes a worktree. A failed `git worktree remove --force` falls
// back to filesystem removal plus prune so a half-dead checkout cannot
// wedge session deletion. The branch is deleted only when deleteBranch is
// set and the branch is not main/master.
func (m *Manager) Remove(ctx context.Context, opts CreateOptions, path, branch string, deleteBranch bool) error {
	forgetBootstrap(path)
	if _, err := m.git(ctx, opts, addTimeout, "worktree", "remove", "--force", path); err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("removing worktree %s: %w (git: %v)", path, rmErr, err)
		}
		if _, pruneErr := m.git(ctx, opts, queryTimeout, "worktree", "prune"); pruneErr != nil {
			return fmt.Errorf("pruning worktrees: %w", pruneErr)
		}
	}

	if deleteBranch && branch != "" && branch != "main" && branch != "master" {
		if _, err := m.git(ctx, opts, queryTimeout, "branch", "-D", branch); err != nil {
			// The worktree is gone; a surviving branch is not fatal.
			return nil
		}
	}
	return nil
}
