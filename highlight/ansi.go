package highlight

import "strings"

const (
	ansiHighlight = "\x1b[1;33m"
	ansiReset     = "\x1b[0m"
)

// ANSI renders a snippet's text with its highlight spans wrapped in bold
// yellow escape codes, for terminal output.
func ANSI(s Snippet) string {
	if len(s.Highlights) == 0 {
		return s.Text
	}
	runes := []rune(s.Text)
	var sb strings.Builder
	cursor := 0
	for _, span := range s.Highlights {
		start, end := span.Start, span.End
		if start < 0 || end > len(runes) || start >= end {
			continue
		}
		if start > cursor {
			sb.WriteString(string(runes[cursor:start]))
		}
		sb.WriteString(ansiHighlight)
		sb.WriteString(string(runes[start:end]))
		sb.WriteString(ansiReset)
		cursor = end
	}
	if cursor < len(runes) {
		sb.WriteString(string(runes[cursor:]))
	}
	return sb.String()
}
