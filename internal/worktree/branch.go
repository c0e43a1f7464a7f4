package worktree

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// BranchPrefix is prepended to every generated feature branch.
const BranchPrefix = "feature/"

// maxSlugLen caps the slug portion of a generated branch name.
const maxSlugLen = 50

// stripDiacritics decomposes accented runes and drops the combining marks
// so "café" slugs as "cafe".
var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug lowercases a feature name, maps every non-alphanumeric run to a
// single dash, trims edge dashes, and truncates to maxSlugLen.
func Slug(feature string) string {
	if folded, _, err := transform.String(stripDiacritics, feature); err == nil {
		feature = folded
	}
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(feature) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	return slug
}

// BranchName derives the branch for a feature name: feature/<slug>.
func BranchName(feature string) string {
	return BranchPrefix + Slug(feature)
}
