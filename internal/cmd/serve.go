package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/agentos-dev/agentos/internal/config"
	"github.com/agentos-dev/agentos/internal/devserver"
	"github.com/agentos-dev/agentos/internal/gateway"
	"github.com/agentos-dev/agentos/internal/mcp"
	"github.com/agentos-dev/agentos/internal/orchestrator"
	"github.com/agentos-dev/agentos/internal/ports"
	"github.com/agentos-dev/agentos/internal/runner"
	"github.com/agentos-dev/agentos/internal/session"
	"github.com/agentos-dev/agentos/internal/store"
	"github.com/agentos-dev/agentos/internal/tmux"
	"github.com/agentos-dev/agentos/internal/web"
	"github.com/agentos-dev/agentos/internal/worktree"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the AgentOS server",
	Long: `Start the control-plane server: HTTP API, terminal gateway,
status poller, and worker orchestrator.

State lives under ~/.agentos (override with AGENTOS_STATE_DIR).
Only one server may run against a state directory at a time.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	stateDir, err := config.StateDir()
	if err != nil {
		return err
	}

	// One server per state dir; a second serve would race the store and
	// the port allocator.
	lock := flock.New(filepath.Join(stateDir, "agentos.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking state dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("another agentos server is already running against %s", stateDir)
	}
	defer lock.Unlock()

	watcher, err := config.NewWatcher(stateDir)
	if err != nil {
		return err
	}
	defer watcher.Close()
	cfg := watcher.Current()

	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}

	st, err := store.Open(config.StorePath(stateDir))
	if err != nil {
		return err
	}
	defer st.Close()

	run := runner.New()
	mux := tmux.New(run)
	trees := worktree.New(run, config.WorktreesRoot(stateDir))
	alloc := ports.New(st, cfg.PortRangeStart, cfg.PortRangeEnd)
	manifests := mcp.NewWriter(config.MCPDir(stateDir))

	sessions := &session.Manager{
		Store:     st,
		Mux:       mux,
		Worktrees: trees,
		Ports:     alloc,
		Runner:    run,
		MCP:       manifests,
		Config:    watcher,
		ServerURL: "http://" + addr,
	}
	orch := orchestrator.New(sessions)
	dev := devserver.New(st, run)

	srv := &web.Server{
		Store:    st,
		Sessions: sessions,
		Dev:      dev,
		Orch:     orch,
		Term:     gateway.New(mux),
		Runner:   run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poller := &session.Poller{Mgr: sessions, OnPaneStatus: orch.ObservePane}
	go poller.Run(ctx)

	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("serve: listening on http://%s", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("serve: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
