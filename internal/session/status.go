package session

import (
	"context"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/agentos-dev/agentos/internal/store"
	"github.com/agentos-dev/agentos/internal/tmux"
)

// statusTail is how many pane lines the poller captures per refresh.
const statusTail = 30

// Poller periodically refreshes per-session status from the mux driver.
// At most one refresh is inflight per session; a tick skips sessions whose
// previous refresh has not returned.
type Poller struct {
	Mgr      *Manager
	Interval time.Duration

	// OnPaneStatus, when set, observes every classification. The worker
	// orchestrator uses it to drive pending/running/waiting transitions.
	OnPaneStatus func(sess *store.Session, status tmux.PaneStatus)

	mu       sync.Mutex
	inflight map[string]bool
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	if p.Interval <= 0 {
		p.Interval = 3 * time.Second
	}
	p.inflight = make(map[string]bool)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	sessions, err := p.Mgr.Store.ListSessions()
	if err != nil {
		log.Printf("status: listing sessions: %v", err)
		return
	}
	for _, sess := range sessions {
		if sess.TmuxName == "" {
			continue
		}
		p.mu.Lock()
		if p.inflight[sess.ID] {
			p.mu.Unlock()
			continue
		}
		p.inflight[sess.ID] = true
		p.mu.Unlock()

		go func(sess *store.Session) {
			defer func() {
				p.mu.Lock()
				delete(p.inflight, sess.ID)
				p.mu.Unlock()
			}()
			p.refresh(ctx, sess)
		}(sess)
	}
}

// refresh captures the pane, classifies it, persists the derived status,
// and harvests an upstream session handle if one scrolled past.
func (p *Poller) refresh(ctx context.Context, sess *store.Session) {
	lines, err := p.Mgr.Mux.Capture(ctx, sess.TmuxName, statusTail)
	if err != nil {
		log.Printf("status: capturing %s: %v", sess.TmuxName, err)
		return
	}
	cfg := p.Mgr.Config.Current()
	paneStatus := tmux.ClassifyStatus(lines, cfg.Status)

	if status, ok := sessionStatusOf(paneStatus); ok && status != sess.Status {
		if err := p.Mgr.Store.SetSessionStatus(sess.ID, status); err != nil {
			log.Printf("status: persisting %s: %v", sess.ID, err)
		}
	}

	if sess.PendingPrompt != "" && paneStatus == tmux.PaneIdle {
		if err := p.Mgr.Mux.SendCommand(ctx, sess.TmuxName, sess.PendingPrompt); err != nil {
			log.Printf("status: delivering pending prompt to %s: %v", sess.TmuxName, err)
		} else if err := p.Mgr.Store.ClearPendingPrompt(sess.ID); err != nil {
			log.Printf("status: clearing pending prompt for %s: %v", sess.ID, err)
		}
	}

	if sess.ClaudeSessionID == "" {
		if id := captureUpstreamID(lines, cfg.SessionIDPattern); id != "" {
			if err := p.Mgr.Store.SetClaudeSessionID(sess.ID, id); err != nil {
				log.Printf("status: recording upstream handle for %s: %v", sess.ID, err)
			}
		}
	}

	if p.OnPaneStatus != nil {
		p.OnPaneStatus(sess, paneStatus)
	}
}

// sessionStatusOf maps a pane classification to the stored session status.
// The record outlives its pane, but a session without a live pane cannot
// stay reported as running; a dead pane settles the row back to idle.
func sessionStatusOf(s tmux.PaneStatus) (store.SessionStatus, bool) {
	switch s {
	case tmux.PaneIdle, tmux.PaneDead:
		return store.StatusIdle, true
	case tmux.PaneRunning:
		return store.StatusRunning, true
	case tmux.PaneWaiting:
		return store.StatusWaiting, true
	case tmux.PaneError:
		return store.StatusError, true
	}
	return "", false
}

// captureUpstreamID scans pane lines for the configured session-id
// pattern and returns the first capture group.
func captureUpstreamID(lines []string, pattern string) string {
	if pattern == "" || len(lines) == 0 {
		return ""
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		log.Printf("status: invalid session_id_pattern: %v", err)
		return ""
	}
	for _, line := range lines {
		if match := re.FindStringSubmatch(line); len(match) >= 2 {
			return match[1]
		}
	}
	return ""
}
