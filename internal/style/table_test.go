package style

import (
	"strings"
	"testing"
)

func TestTableRender(t *testing.T) {
	tbl := NewTable(
		Column{Name: "NAME", Width: 10},
		Column{Name: "STATUS", Width: 8},
	)
	tbl.AddRow("api work", "running")
	tbl.AddRow("session 2", "idle")

	out := tbl.Render()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + separator + 2 rows:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "NAME") || !strings.Contains(lines[0], "STATUS") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[2], "api work") {
		t.Errorf("row = %q", lines[2])
	}
}

func TestTableTruncatesLongValues(t *testing.T) {
	tbl := NewTable(Column{Name: "NAME", Width: 8}).SetHeaderSeparator(false)
	tbl.AddRow("a very long session name")
	out := tbl.Render()
	if !strings.Contains(out, "...") {
		t.Errorf("long value not truncated:\n%s", out)
	}
	if strings.Contains(out, "a very long") {
		t.Errorf("value exceeds column width:\n%s", out)
	}
}

func TestTablePadsShortRows(t *testing.T) {
	tbl := NewTable(
		Column{Name: "A", Width: 5},
		Column{Name: "B", Width: 5},
	).SetHeaderSeparator(false)
	tbl.AddRow("only")
	out := tbl.Render()
	if !strings.Contains(out, "only") {
		t.Errorf("short row dropped:\n%s", out)
	}
}

func TestTableAlignment(t *testing.T) {
	tbl := NewTable(Column{Name: "N", Width: 6, Align: AlignRight}).
		SetHeaderSeparator(false).SetIndent("")
	tbl.AddRow("42")
	out := strings.Split(tbl.Render(), "\n")
	if row := out[1]; !strings.HasSuffix(row, "42") {
		t.Errorf("right-aligned row = %q", row)
	}
}

func TestStripAnsi(t *testing.T) {
	styled := "\x1b[1mhello\x1b[0m"
	if got := stripAnsi(styled); got != "hello" {
		t.Errorf("stripAnsi = %q", got)
	}
}

func TestStatusColorsCoverKnownStates(t *testing.T) {
	for _, s := range []string{"running", "waiting", "pending", "error", "failed", "idle", "completed", "unknown"} {
		if got := Status(s); !strings.Contains(stripAnsi(got), s) {
			t.Errorf("Status(%q) = %q lost the text", s, got)
		}
	}
}
