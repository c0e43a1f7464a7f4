package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/agentos-dev/agentos/internal/orchestrator"
	"github.com/agentos-dev/agentos/internal/rpcclient"
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve",
	Short: "Serve the worker tools over MCP stdio",
	Long: `Run an MCP stdio server exposing the worker orchestration tools.
Conductor sessions get this wired automatically through their manifest;
the server proxies each tool call to AGENTOS_URL.`,
	Args: cobra.NoArgs,
	RunE: runMCPServe,
}

func init() {
	rootCmd.AddCommand(mcpServeCmd)
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	c := rpcclient.FromEnv()
	s := server.NewMCPServer("agentos", Version)

	s.AddTool(mcp.NewTool("spawn_worker",
		mcp.WithDescription("Spawn a worker session to handle a task in its own branch and pane"),
		mcp.WithString("task", mcp.Required(), mcp.Description("What the worker should do; also its initial prompt")),
		mcp.WithString("branch_name", mcp.Description("Feature name for the worker branch (default: derived from task)")),
		mcp.WithString("working_directory", mcp.Description("Repo to work in (default: conductor's)")),
		mcp.WithBoolean("use_worktree", mcp.Description("Isolate the worker in a git worktree (default true)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := req.RequireString("task")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		useWorktree := req.GetBool("use_worktree", true)
		spec := orchestrator.SpawnSpec{
			ConductorID:      c.ConductorID,
			Task:             task,
			BranchName:       req.GetString("branch_name", ""),
			WorkingDirectory: req.GetString("working_directory", ""),
			UseWorktree:      &useWorktree,
		}
		var result json.RawMessage
		if err := c.Call(ctx, "spawn_worker", spec, &result); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(result)), nil
	})

	s.AddTool(mcp.NewTool("list_workers",
		mcp.WithDescription("List this conductor's workers and their statuses"),
	), proxyTool(c, "list_workers", func(req mcp.CallToolRequest) any {
		return map[string]string{"conductor_id": c.ConductorID}
	}))

	s.AddTool(mcp.NewTool("get_worker_output",
		mcp.WithDescription("Tail a worker's pane output"),
		mcp.WithString("worker_id", mcp.Required()),
		mcp.WithNumber("lines", mcp.Description("Lines to tail (default 50)")),
	), proxyTool(c, "get_worker_output", func(req mcp.CallToolRequest) any {
		return map[string]any{
			"worker_id": req.GetString("worker_id", ""),
			"lines":     req.GetInt("lines", 50),
		}
	}))

	s.AddTool(mcp.NewTool("send_to_worker",
		mcp.WithDescription("Type a message into a worker's pane followed by Enter"),
		mcp.WithString("worker_id", mcp.Required()),
		mcp.WithString("message", mcp.Required()),
	), proxyTool(c, "send_to_worker", func(req mcp.CallToolRequest) any {
		return map[string]string{
			"worker_id": req.GetString("worker_id", ""),
			"message":   req.GetString("message", ""),
		}
	}))

	s.AddTool(mcp.NewTool("complete_worker",
		mcp.WithDescription("Mark a worker's task completed"),
		mcp.WithString("worker_id", mcp.Required()),
	), proxyTool(c, "complete_worker", workerIDBody))

	s.AddTool(mcp.NewTool("fail_worker",
		mcp.WithDescription("Mark a worker's task failed"),
		mcp.WithString("worker_id", mcp.Required()),
	), proxyTool(c, "fail_worker", workerIDBody))

	s.AddTool(mcp.NewTool("kill_worker",
		mcp.WithDescription("Kill a worker's pane and delete its session"),
		mcp.WithString("worker_id", mcp.Required()),
		mcp.WithBoolean("cleanup_worktree", mcp.Description("Delete the worker's branch too")),
	), proxyTool(c, "kill_worker", func(req mcp.CallToolRequest) any {
		return map[string]any{
			"worker_id":        req.GetString("worker_id", ""),
			"cleanup_worktree": req.GetBool("cleanup_worktree", false),
		}
	}))

	s.AddTool(mcp.NewTool("get_workers_summary",
		mcp.WithDescription("Count this conductor's workers by status"),
	), proxyTool(c, "get_workers_summary", func(req mcp.CallToolRequest) any {
		return map[string]string{"conductor_id": c.ConductorID}
	}))

	return server.ServeStdio(s)
}

func workerIDBody(req mcp.CallToolRequest) any {
	return map[string]string{"worker_id": req.GetString("worker_id", "")}
}

// proxyTool forwards a tool call to the control plane and returns the raw
// JSON result as text. Tool failures come back as error results so the
// agent can read and react to them.
func proxyTool(c *rpcclient.Client, tool string, body func(req mcp.CallToolRequest) any) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var result json.RawMessage
		if err := c.Call(ctx, tool, body(req), &result); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(result) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("%s: ok", tool)), nil
		}
		return mcp.NewToolResultText(string(result)), nil
	}
}
