// Package mcp writes per-session tool manifests that point an agent's MCP
// client at the control plane's orchestration surface.
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ServerEntry is one MCP server stanza in a session manifest.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Manifest is the JSON document written to <state>/mcp/<session_id>.json.
type Manifest struct {
	Servers map[string]ServerEntry `json:"mcpServers"`
}

// Writer manages manifests under one directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Path returns the manifest path for a session.
func (w *Writer) Path(sessionID string) string {
	return filepath.Join(w.dir, sessionID+".json")
}

// WriteConductor writes the manifest that gives a conductor session the
// worker-orchestration toolset. serverURL is the control plane's base URL.
func (w *Writer) WriteConductor(sessionID, serverURL string) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("creating mcp dir: %w", err)
	}
	m := Manifest{
		Servers: map[string]ServerEntry{
			"agentos": {
				Command: "agentos",
				Args:    []string{"mcp-serve"},
				Env: map[string]string{
					"AGENTOS_URL":          serverURL,
					"CONDUCTOR_SESSION_ID": sessionID,
				},
			},
		},
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	// Write-then-rename so a crashed write never leaves a torn manifest.
	tmp := w.Path(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return os.Rename(tmp, w.Path(sessionID))
}

// Remove deletes a session's manifest. Missing files are fine.
func (w *Writer) Remove(sessionID string) error {
	err := os.Remove(w.Path(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
