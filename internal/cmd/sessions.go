package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentos-dev/agentos/internal/rpcclient"
	"github.com/agentos-dev/agentos/internal/store"
	"github.com/agentos-dev/agentos/internal/style"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions known to the server",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

// sessionsPayload mirrors the server's GET /sessions response.
type sessionsPayload struct {
	Projects []*store.Project `json:"projects"`
	Sessions []*store.Session `json:"sessions"`
}

func runSessions(cmd *cobra.Command, args []string) error {
	base := os.Getenv(rpcclient.EnvURL)
	if base == "" {
		base = "http://127.0.0.1:8321"
	}
	httpClient := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, base+"/sessions", nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reaching server at %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var payload sessionsPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decoding session list: %w", err)
	}

	projects := make(map[string]string, len(payload.Projects))
	for _, p := range payload.Projects {
		projects[p.ID] = p.Name
	}

	if len(payload.Sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	tbl := style.NewTable(
		style.Column{Name: "NAME", Width: 24},
		style.Column{Name: "PROJECT", Width: 18},
		style.Column{Name: "AGENT", Width: 10},
		style.Column{Name: "STATUS", Width: 9},
		style.Column{Name: "BRANCH", Width: 28},
		style.Column{Name: "PORT", Width: 5, Align: style.AlignRight},
	)
	for _, s := range payload.Sessions {
		port := ""
		if s.DevServerPort != 0 {
			port = fmt.Sprint(s.DevServerPort)
		}
		tbl.AddRow(s.Name, projects[s.ProjectID], s.AgentType, style.Status(string(s.Status)), s.BranchName, port)
	}
	fmt.Print(tbl.Render())
	return nil
}
