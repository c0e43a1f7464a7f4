// Package rpcclient is the in-agent client for the orchestrate tools.
// Worker subcommands run inside a conductor's pane and call back to the
// control plane over plain JSON HTTP.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// EnvURL names the control-plane base URL.
const EnvURL = "AGENTOS_URL"

// EnvConductor names the default conductor session id.
const EnvConductor = "CONDUCTOR_SESSION_ID"

const defaultURL = "http://127.0.0.1:8321"

// requestTimeout bounds one tool call. Spawn covers a worktree add, so
// it gets headroom over the usual short reads.
const requestTimeout = 2 * time.Minute

// Client calls /orchestrate/<tool> endpoints.
type Client struct {
	BaseURL     string
	ConductorID string
	HTTP        *http.Client
}

// FromEnv builds a client from AGENTOS_URL and CONDUCTOR_SESSION_ID.
func FromEnv() *Client {
	url := os.Getenv(EnvURL)
	if url == "" {
		url = defaultURL
	}
	return &Client{
		BaseURL:     url,
		ConductorID: os.Getenv(EnvConductor),
		HTTP:        &http.Client{Timeout: requestTimeout},
	}
}

// toolResponse mirrors the server envelope.
type toolResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Call posts body to /orchestrate/<tool> and decodes the result into out
// when out is non-nil. A tool error comes back as a plain error.
func (c *Client) Call(ctx context.Context, tool string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", tool, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/orchestrate/"+tool, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", tool, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", tool, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: server returned %s: %s", tool, resp.Status, bytes.TrimSpace(raw))
	}

	var envelope toolResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decoding %s response: %w", tool, err)
	}
	if !envelope.OK {
		if envelope.Error != "" {
			return fmt.Errorf("%s: %s", tool, envelope.Error)
		}
		return fmt.Errorf("%s failed", tool)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", tool, err)
		}
	}
	return nil
}
