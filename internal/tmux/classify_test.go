package tmux

import (
	"testing"

	"github.com/agentos-dev/agentos/internal/config"
)

func TestClassifyStatus(t *testing.T) {
	patterns := config.Default().Status

	tests := []struct {
		name  string
		lines []string
		want  PaneStatus
	}{
		{"missing pane", nil, PaneDead},
		{"prompt at bottom", []string{"some output", "❯ "}, PaneIdle},
		{"spinner", []string{"⠙ working on it"}, PaneRunning},
		{"interrupt hint", []string{"generating... esc to interrupt"}, PaneRunning},
		{"permission prompt", []string{"Allow this tool call? [y/N]"}, PaneWaiting},
		{"traceback", []string{"Traceback (most recent call last):", "  File \"x.py\""}, PaneError},
		{"panic", []string{"panic: runtime error: index out of range"}, PaneError},
		{"unmatched output defaults to idle", []string{"compiled 300 files"}, PaneIdle},
		{"nbsp prompt", []string{"❯ "}, PaneIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStatus(tt.lines, patterns); got != tt.want {
				t.Errorf("ClassifyStatus(%q) = %s, want %s", tt.lines, got, tt.want)
			}
		})
	}
}

// A permission prompt below an error still needs the user first.
func TestClassifyStatusPriority(t *testing.T) {
	patterns := config.Default().Status
	lines := []string{
		"panic: something broke",
		"retry the operation? (y/n)",
	}
	if got := ClassifyStatus(lines, patterns); got != PaneWaiting {
		t.Errorf("ClassifyStatus = %s, want %s", got, PaneWaiting)
	}
}

func TestClassifyStatusWindow(t *testing.T) {
	patterns := config.Default().Status
	// An old traceback scrolled past the classification window.
	lines := make([]string, 0, 12)
	lines = append(lines, "Traceback (most recent call last):")
	for i := 0; i < 10; i++ {
		lines = append(lines, "recovered, continuing")
	}
	lines = append(lines, "❯ ")
	if got := ClassifyStatus(lines, patterns); got != PaneIdle {
		t.Errorf("ClassifyStatus = %s, want %s", got, PaneIdle)
	}
}
