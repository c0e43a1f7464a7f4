package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.ListenAddr != def.ListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, def.ListenAddr)
	}
	if cfg.PortRangeStart != 3100 || cfg.PortRangeEnd != 3999 {
		t.Errorf("port range = [%d,%d], want [3100,3999]", cfg.PortRangeStart, cfg.PortRangeEnd)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
listen_addr = "127.0.0.1:9000"
port_range_start = 4000
port_range_end = 4099

[status]
waiting = ["custom waiting marker"]
`
	if err := os.WriteFile(Path(dir), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.PortRangeStart != 4000 || cfg.PortRangeEnd != 4099 {
		t.Errorf("port range = [%d,%d]", cfg.PortRangeStart, cfg.PortRangeEnd)
	}
	if len(cfg.Status.Waiting) != 1 || cfg.Status.Waiting[0] != "custom waiting marker" {
		t.Errorf("Status.Waiting = %v", cfg.Status.Waiting)
	}
	// Untouched sections keep their defaults.
	if len(cfg.Status.Error) == 0 {
		t.Error("Status.Error lost its defaults")
	}
	if cfg.SessionIDPattern == "" {
		t.Error("SessionIDPattern lost its default")
	}
}

func TestLoadRejectsInvalidPortRange(t *testing.T) {
	dir := t.TempDir()
	content := "port_range_start = 5000\nport_range_end = 4000\n"
	if err := os.WriteFile(Path(dir), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected error for inverted port range")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.ListenAddr = "127.0.0.1:9999"
	cfg.BootstrapSteps = [][]string{{"npm", "install"}}
	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %q", got.ListenAddr)
	}
	if len(got.BootstrapSteps) != 1 || got.BootstrapSteps[0][0] != "npm" {
		t.Errorf("BootstrapSteps = %v", got.BootstrapSteps)
	}
}

func TestStateDirEnvOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	t.Setenv(StateDirEnv, dir)
	got, err := StateDir()
	if err != nil {
		t.Fatalf("StateDir: %v", err)
	}
	if got != dir {
		t.Errorf("StateDir = %q, want %q", got, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state dir not created: %v", err)
	}
}

func TestValidateAgentType(t *testing.T) {
	for _, valid := range []string{"claude", "gemini", "codex", "opencode"} {
		if _, err := ValidateAgentType(valid); err != nil {
			t.Errorf("ValidateAgentType(%q): %v", valid, err)
		}
	}
	if _, err := ValidateAgentType("hal9000"); err == nil {
		t.Error("ValidateAgentType accepted an unknown agent")
	}
}

func TestLaunchArgs(t *testing.T) {
	claude := GetAgentPreset(AgentClaude)

	got := claude.LaunchArgs("", "sonnet", "", false)
	want := []string{"claude", "--model", "sonnet"}
	if len(got) != len(want) {
		t.Fatalf("LaunchArgs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LaunchArgs = %v, want %v", got, want)
		}
	}

	got = claude.LaunchArgs("abc-123", "opus", "be terse", true)
	joined := strings.Join(got, " ")
	for _, frag := range []string{"--resume abc-123", "--model opus", "--append-system-prompt be terse", "--dangerously-skip-permissions"} {
		if !strings.Contains(joined, frag) {
			t.Errorf("LaunchArgs %v missing %q", got, frag)
		}
	}

	// Vendors without a flag skip the option instead of erroring.
	gemini := GetAgentPreset(AgentGemini)
	got = gemini.LaunchArgs("abc", "flash", "prompt", true)
	for _, a := range got {
		if a == "abc" || a == "prompt" {
			t.Errorf("gemini args %v include unsupported option value %q", got, a)
		}
	}
}

func TestDefaultSessionIDPattern(t *testing.T) {
	re, err := regexp.Compile(Default().SessionIDPattern)
	if err != nil {
		t.Fatalf("default pattern does not compile: %v", err)
	}
	line := "Session ID: 0f8fad5b-d9cb-469f-a165-70867728950e"
	m := re.FindStringSubmatch(line)
	if len(m) < 2 || m[1] != "0f8fad5b-d9cb-469f-a165-70867728950e" {
		t.Errorf("pattern did not capture the uuid from %q: %v", line, m)
	}
}
