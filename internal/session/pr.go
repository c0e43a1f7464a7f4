package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/agentos-dev/agentos/internal/fault"
	"github.com/agentos-dev/agentos/internal/runner"
	"github.com/agentos-dev/agentos/internal/store"
)

// prTimeout bounds gh invocations; PR creation round-trips to the forge.
const prTimeout = 60 * time.Second

// prView is the JSON shape of `gh pr view --json url,number,state`.
type prView struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
	State  string `json:"state"`
}

// PRUpsert ensures the session's branch has a pull request and persists
// the tracked {url, number, status}. An existing PR is refreshed; a
// missing one is created with the branch's commits.
func (m *Manager) PRUpsert(ctx context.Context, id string) (*store.Session, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if !sess.HasWorktree() {
		return nil, fault.New(fault.BadRequest, "session %s has no worktree to open a PR from", id)
	}

	view, err := m.prViewJSON(ctx, sess)
	if err != nil {
		// No PR yet: create one, then read it back.
		_, createErr := m.Runner.Run(ctx, runner.Spec{
			Argv:       []string{"gh", "pr", "create", "--fill", "--head", sess.BranchName, "--base", sess.BaseBranch},
			Dir:        sess.WorktreePath,
			Timeout:    prTimeout,
			ProjectKey: "project:" + sess.ProjectID,
		})
		if createErr != nil {
			var exitErr *runner.ExitError
			if errors.As(createErr, &exitErr) {
				return nil, fault.UpstreamExit("gh pr create", exitErr.Code, exitErr.Stderr)
			}
			return nil, fault.Wrap(fault.Upstream, "creating PR", createErr)
		}
		view, err = m.prViewJSON(ctx, sess)
		if err != nil {
			return nil, fault.Wrap(fault.Upstream, "reading PR after create", err)
		}
	}

	if err := m.Store.SetSessionPR(id, view.URL, view.Number, prStatusFromState(view.State)); err != nil {
		return nil, err
	}
	return m.Get(id)
}

// PRStatus refreshes and returns the tracked PR fields.
func (m *Manager) PRStatus(ctx context.Context, id string) (*store.Session, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.PRURL == "" {
		return sess, nil
	}
	view, err := m.prViewJSON(ctx, sess)
	if err != nil {
		// The tracked snapshot stands when the forge is unreachable.
		return sess, nil
	}
	if err := m.Store.SetSessionPR(id, view.URL, view.Number, prStatusFromState(view.State)); err != nil {
		return nil, err
	}
	return m.Get(id)
}

func (m *Manager) prViewJSON(ctx context.Context, sess *store.Session) (*prView, error) {
	res, err := m.Runner.Run(ctx, runner.Spec{
		Argv:    []string{"gh", "pr", "view", sess.BranchName, "--json", "url,number,state"},
		Dir:     sess.WorktreePath,
		Timeout: prTimeout,
	})
	if err != nil {
		return nil, err
	}
	var view prView
	if err := json.Unmarshal([]byte(res.Stdout), &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func prStatusFromState(state string) store.PRStatus {
	switch strings.ToUpper(state) {
	case "MERGED":
		return store.PRMerged
	case "CLOSED":
		return store.PRClosed
	default:
		return store.PROpen
	}
}
