package worktree

import (
	"strings"
	"testing"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		name    string
		feature string
		want    string
	}{
		{"simple", "add-dark-mode", "add-dark-mode"},
		{"punctuation", "Add Dark Mode!!", "add-dark-mode"},
		{"collapses runs", "fix -- the   bug", "fix-the-bug"},
		{"leading and trailing junk", "  ***release*** ", "release"},
		{"diacritics", "café menü", "cafe-menu"},
		{"empty", "", ""},
		{"only punctuation", "!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slug(tt.feature); got != tt.want {
				t.Errorf("Slug(%q) = %q, want %q", tt.feature, got, tt.want)
			}
		})
	}
}

func TestSlugTruncation(t *testing.T) {
	long := strings.Repeat("abcde-", 12) // 72 chars
	got := Slug(long)
	if len(got) > maxSlugLen {
		t.Errorf("Slug length = %d, want <= %d", len(got), maxSlugLen)
	}
	if strings.HasSuffix(got, "-") || strings.HasPrefix(got, "-") {
		t.Errorf("Slug(%q) = %q has edge dashes", long, got)
	}
}

func TestBranchName(t *testing.T) {
	if got := BranchName("Add Dark Mode!!"); got != "feature/add-dark-mode" {
		t.Errorf("BranchName = %q, want feature/add-dark-mode", got)
	}
}
