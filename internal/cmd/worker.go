package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentos-dev/agentos/internal/orchestrator"
	"github.com/agentos-dev/agentos/internal/rpcclient"
	"github.com/agentos-dev/agentos/internal/store"
	"github.com/agentos-dev/agentos/internal/style"
	"github.com/agentos-dev/agentos/internal/util"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker orchestration tools (run inside a conductor session)",
	Long: `Worker tools call back to the AgentOS server named by AGENTOS_URL.
The conductor session id defaults to CONDUCTOR_SESSION_ID.`,
}

var (
	workerConductor   string
	spawnBranch       string
	spawnDir          string
	spawnModel        string
	spawnAgent        string
	spawnNoWorktree   bool
	outputLines       int
	killCleanWorktree bool
)

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.PersistentFlags().StringVar(&workerConductor, "conductor", "", "conductor session id (default $CONDUCTOR_SESSION_ID)")

	spawnCmd := &cobra.Command{
		Use:   "spawn <task>",
		Short: "Spawn a worker session for a task",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWorkerSpawn,
	}
	spawnCmd.Flags().StringVar(&spawnBranch, "branch", "", "feature name for the worker branch")
	spawnCmd.Flags().StringVar(&spawnDir, "dir", "", "working directory (default: conductor's)")
	spawnCmd.Flags().StringVar(&spawnModel, "model", "", "model override")
	spawnCmd.Flags().StringVar(&spawnAgent, "agent", "", "agent type override")
	spawnCmd.Flags().BoolVar(&spawnNoWorktree, "no-worktree", false, "run in the shared working directory")

	outputCmd := &cobra.Command{
		Use:   "output <worker-id>",
		Short: "Tail a worker's pane output",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkerOutput,
	}
	outputCmd.Flags().IntVar(&outputLines, "lines", 50, "lines to tail")

	killCmd := &cobra.Command{
		Use:   "kill <worker-id>",
		Short: "Kill a worker and delete its session",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkerKill,
	}
	killCmd.Flags().BoolVar(&killCleanWorktree, "cleanup-worktree", false, "delete the worker's branch too")

	workerCmd.AddCommand(
		spawnCmd,
		&cobra.Command{
			Use:   "list",
			Short: "List this conductor's workers",
			Args:  cobra.NoArgs,
			RunE:  runWorkerList,
		},
		outputCmd,
		&cobra.Command{
			Use:   "send <worker-id> <message...>",
			Short: "Type a message into a worker's pane",
			Args:  cobra.MinimumNArgs(2),
			RunE:  runWorkerSend,
		},
		&cobra.Command{
			Use:   "complete <worker-id>",
			Short: "Mark a worker completed",
			Args:  cobra.ExactArgs(1),
			RunE:  runWorkerMark("complete_worker"),
		},
		&cobra.Command{
			Use:   "fail <worker-id>",
			Short: "Mark a worker failed",
			Args:  cobra.ExactArgs(1),
			RunE:  runWorkerMark("fail_worker"),
		},
		killCmd,
		&cobra.Command{
			Use:   "summary",
			Short: "Count this conductor's workers by status",
			Args:  cobra.NoArgs,
			RunE:  runWorkerSummary,
		},
	)
}

// client builds the RPC client with the flag override applied.
func client() *rpcclient.Client {
	c := rpcclient.FromEnv()
	if workerConductor != "" {
		c.ConductorID = workerConductor
	}
	return c
}

// call wraps Client.Call with transient-error retries.
func call(cmd *cobra.Command, tool string, body, out any) error {
	c := client()
	_, err := util.Retry(cmd.Context(), util.DefaultRetryConfig(), func() (struct{}, error) {
		return struct{}{}, c.Call(cmd.Context(), tool, body, out)
	})
	return err
}

func runWorkerSpawn(cmd *cobra.Command, args []string) error {
	useWorktree := !spawnNoWorktree
	var worker store.Session
	err := call(cmd, "spawn_worker", orchestrator.SpawnSpec{
		ConductorID:      client().ConductorID,
		Task:             strings.Join(args, " "),
		WorkingDirectory: spawnDir,
		BranchName:       spawnBranch,
		UseWorktree:      &useWorktree,
		Model:            spawnModel,
		AgentType:        spawnAgent,
	}, &worker)
	if err != nil {
		return err
	}
	fmt.Printf("spawned worker %s (%s)\n", worker.ID, worker.Name)
	if worker.BranchName != "" {
		fmt.Printf("branch: %s\n", worker.BranchName)
	}
	return nil
}

func runWorkerList(cmd *cobra.Command, args []string) error {
	var workers []orchestrator.WorkerInfo
	if err := call(cmd, "list_workers", map[string]string{"conductor_id": client().ConductorID}, &workers); err != nil {
		return err
	}
	if len(workers) == 0 {
		fmt.Println("no workers")
		return nil
	}
	tbl := style.NewTable(
		style.Column{Name: "ID", Width: 36},
		style.Column{Name: "NAME", Width: 20},
		style.Column{Name: "STATUS", Width: 10},
		style.Column{Name: "TASK", Width: 40},
	)
	for _, w := range workers {
		tbl.AddRow(w.ID, w.Name, style.Status(string(w.Status)), w.Task)
	}
	fmt.Print(tbl.Render())
	return nil
}

func runWorkerOutput(cmd *cobra.Command, args []string) error {
	var lines []string
	err := call(cmd, "get_worker_output", map[string]any{
		"worker_id": args[0],
		"lines":     outputLines,
	}, &lines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func runWorkerSend(cmd *cobra.Command, args []string) error {
	return call(cmd, "send_to_worker", map[string]string{
		"worker_id": args[0],
		"message":   strings.Join(args[1:], " "),
	}, nil)
}

func runWorkerMark(tool string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return call(cmd, tool, map[string]string{"worker_id": args[0]}, nil)
	}
}

func runWorkerKill(cmd *cobra.Command, args []string) error {
	return call(cmd, "kill_worker", map[string]any{
		"worker_id":        args[0],
		"cleanup_worktree": killCleanWorktree,
	}, nil)
}

func runWorkerSummary(cmd *cobra.Command, args []string) error {
	var summary map[string]int
	if err := call(cmd, "get_workers_summary", map[string]string{"conductor_id": client().ConductorID}, &summary); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
