// Package config loads the control-plane configuration and resolves the
// user state directory that holds the store, worktrees, and MCP manifests.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// StateDirEnv overrides the default state directory location.
const StateDirEnv = "AGENTOS_STATE_DIR"

// Config is the on-disk configuration, stored as TOML at
// <state-dir>/config.toml. Zero values fall back to defaults.
type Config struct {
	// ListenAddr is the HTTP listen address for the server.
	ListenAddr string `toml:"listen_addr"`

	// PortRangeStart/End bound the dev-server port allocator.
	PortRangeStart int `toml:"port_range_start"`
	PortRangeEnd   int `toml:"port_range_end"`

	// EnvFileAllowlist lists glob patterns of env files copied into fresh
	// worktrees from the source working directory.
	EnvFileAllowlist []string `toml:"env_file_allowlist"`

	// BootstrapSteps are commands run inside a fresh worktree after the
	// env files are copied. Each step is an argv list.
	BootstrapSteps [][]string `toml:"bootstrap_steps"`

	// Status holds the pane-output classification pattern table.
	Status StatusPatterns `toml:"status"`

	// SessionIDPattern is the regexp used to capture an upstream agent
	// session handle from pane output.
	SessionIDPattern string `toml:"session_id_pattern"`
}

// StatusPatterns configures the heuristic pane-status classifier. Each
// list holds lowercase substrings matched against the trailing lines of a
// pane capture. The state set is closed; the table only tunes detection.
type StatusPatterns struct {
	Idle    []string `toml:"idle"`
	Running []string `toml:"running"`
	Waiting []string `toml:"waiting"`
	Error   []string `toml:"error"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:       "127.0.0.1:8321",
		PortRangeStart:   3100,
		PortRangeEnd:     3999,
		EnvFileAllowlist: []string{".env", ".env.local", ".env.development"},
		Status: StatusPatterns{
			Idle:    []string{"❯", "$ ", "> "},
			Running: []string{"esc to interrupt", "…", "⠋", "⠙", "⠹", "⠸", "thinking"},
			Waiting: []string{"[y/n]", "(y/n)", "do you want", "allow this", "permission"},
			Error:   []string{"traceback (most recent call last)", "panic:", "fatal:"},
		},
		SessionIDPattern: `[Ss]ession [Ii][Dd]:?\s+([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`,
	}
}

// StateDir returns the user state directory, creating it if needed.
func StateDir() (string, error) {
	if dir := os.Getenv(StateDirEnv); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("creating state dir: %w", err)
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home: %w", err)
	}
	dir := filepath.Join(home, ".agentos")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating state dir: %w", err)
	}
	return dir, nil
}

// Path returns the config file path inside the state directory.
func Path(stateDir string) string {
	return filepath.Join(stateDir, "config.toml")
}

// Load reads the config file under stateDir, merging it over defaults.
// A missing file is not an error; defaults are returned.
func Load(stateDir string) (*Config, error) {
	cfg := Default()
	path := Path(stateDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.PortRangeStart <= 0 || cfg.PortRangeEnd < cfg.PortRangeStart {
		return nil, fmt.Errorf("invalid port range [%d,%d]", cfg.PortRangeStart, cfg.PortRangeEnd)
	}
	return cfg, nil
}

// Save writes the config as TOML under stateDir.
func Save(stateDir string, cfg *Config) error {
	f, err := os.Create(Path(stateDir))
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// WorktreesRoot returns the directory worktrees are created under.
func WorktreesRoot(stateDir string) string {
	return filepath.Join(stateDir, "worktrees")
}

// StorePath returns the sqlite database path.
func StorePath(stateDir string) string {
	return filepath.Join(stateDir, "store.db")
}

// MCPDir returns the directory holding per-session MCP manifests.
func MCPDir(stateDir string) string {
	return filepath.Join(stateDir, "mcp")
}
