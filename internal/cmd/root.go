// Package cmd provides CLI commands for the agentos tool.
package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/agentos-dev/agentos/internal/fault"
)

var rootCmd = &cobra.Command{
	Use:     "agentos",
	Short:   "AgentOS - coding-session control plane",
	Version: Version,
	Long: `AgentOS supervises multi-agent coding sessions: tmux panes,
git worktrees, dev servers, and conductor/worker orchestration,
fronted by an HTTP API and a browser terminal gateway.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command and returns the process exit code:
// 0 success, 1 user error, 2 internal error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return exitCode(err)
	}
	return 0
}

// exitCode maps an error to the CLI contract. Faults the user caused
// (bad input, unknown ids, conflicts) exit 1; everything else exits 2.
func exitCode(err error) int {
	var ferr *fault.Error
	if errors.As(err, &ferr) {
		switch ferr.Kind {
		case fault.BadRequest, fault.NotFound, fault.Conflict:
			return 1
		default:
			return 2
		}
	}
	return 1
}
