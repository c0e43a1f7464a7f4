// Package style provides consistent terminal styling using Lipgloss.
package style

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Core text styles used across command output.
var (
	Bold    = lipgloss.NewStyle().Bold(true)
	Dim     = lipgloss.NewStyle().Faint(true)
	Title   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	Error   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Enabled reports whether styled output makes sense: stdout is a
// terminal and the terminal supports color. Plain pipes get unstyled
// output.
func Enabled() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

// Status renders a session or worker status word in its conventional
// color.
func Status(s string) string {
	if !Enabled() {
		return s
	}
	switch s {
	case "running":
		return Success.Render(s)
	case "waiting", "pending", "starting":
		return Warning.Render(s)
	case "error", "failed":
		return Error.Render(s)
	case "idle", "stopped", "completed":
		return Dim.Render(s)
	}
	return s
}
