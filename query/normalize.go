package query

import "strings"

// NormalizeFileName rewrites a bare file-name query like "readme.md" into
// filename:"readme.md" so that direct look-ups work without DSL knowledge.
// The rewrite only fires for a single dotted token with no whitespace, meta
// characters, path separators or leading minus; everything else is passed
// through untouched. It runs before parsing and can be disabled by simply
// not calling it.
func NormalizeFileName(query string) string {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return trimmed
	}
	if strings.ContainsAny(trimmed, ": \t\"()*/\\") || strings.HasPrefix(trimmed, "-") {
		return trimmed
	}
	if !strings.Contains(trimmed, ".") {
		return trimmed
	}
	return `filename:"` + trimmed + `"`
}
