package tmux

import (
	"strings"

	"github.com/agentos-dev/agentos/internal/config"
)

// PaneStatus is the classifier's verdict about a pane.
type PaneStatus string

const (
	PaneIdle    PaneStatus = "idle"
	PaneRunning PaneStatus = "running"
	PaneWaiting PaneStatus = "waiting"
	PaneError   PaneStatus = "error"
	PaneDead    PaneStatus = "dead"
)

// classifyWindow is how many trailing lines matter for classification.
// Prompts and permission questions sit at the bottom of the pane; spinners
// redraw the last line.
const classifyWindow = 8

// ClassifyStatus derives a pane status from its trailing lines using the
// configured pattern table. Missing pane (no lines) is dead. Waiting beats
// error beats running beats idle: a permission prompt below a traceback
// still needs the user.
func ClassifyStatus(lastLines []string, patterns config.StatusPatterns) PaneStatus {
	if len(lastLines) == 0 {
		return PaneDead
	}
	window := lastLines
	if len(window) > classifyWindow {
		window = window[len(window)-classifyWindow:]
	}

	var joined strings.Builder
	for _, line := range window {
		joined.WriteString(strings.ToLower(normalizeSpaces(line)))
		joined.WriteByte('\n')
	}
	text := joined.String()

	if matchesAny(text, patterns.Waiting) {
		return PaneWaiting
	}
	if matchesAny(text, patterns.Error) {
		return PaneError
	}
	if matchesAny(text, patterns.Running) {
		return PaneRunning
	}
	if matchesAny(text, patterns.Idle) {
		return PaneIdle
	}
	return PaneIdle
}

func matchesAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// normalizeSpaces folds non-breaking spaces into regular spaces; some
// agent CLIs render their prompt with U+00A0 after the glyph.
func normalizeSpaces(s string) string {
	return strings.ReplaceAll(s, " ", " ")
}
