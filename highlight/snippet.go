// Package highlight selects context windows around query-term hits and
// computes highlight spans for them.
//
// All offsets are measured in characters of the document content, matching
// the tokenizer's offset convention, so CJK documents highlight correctly.
package highlight

import (
	"sort"
	"strings"
)

const (
	// ContextChars is the number of context characters kept on each side
	// of a hit.
	ContextChars = 80
	// MaxSnippets is the maximum number of snippets emitted per document.
	MaxSnippets = 3
)

// Span is a half-open [Start, End) character range.
type Span struct {
	Start int
	End   int
}

// Snippet is one highlighted excerpt of a document.
type Snippet struct {
	// Text is the excerpt.
	Text string
	// Line is the 1-based line number of the first highlighted hit.
	Line int
	// Offset is the character offset of the excerpt within the document.
	Offset int
	// Highlights are hit ranges relative to Text.
	Highlights []Span
}

// Generator builds snippets for matched documents.
type Generator struct {
	contextChars int
	maxSnippets  int
}

// NewGenerator creates a Generator with the default window parameters.
func NewGenerator() *Generator {
	return NewGeneratorWith(ContextChars, MaxSnippets)
}

// NewGeneratorWith creates a Generator with explicit parameters.
func NewGeneratorWith(contextChars, maxSnippets int) *Generator {
	if contextChars < 0 {
		contextChars = 0
	}
	if maxSnippets < 1 {
		maxSnippets = 1
	}
	return &Generator{contextChars: contextChars, maxSnippets: maxSnippets}
}

type window struct {
	start    int
	end      int
	hitCount int
}

// Generate locates the query terms in content (ASCII-case-insensitive),
// expands each hit into a context window, merges overlapping windows, and
// returns up to the generator's snippet cap (MaxSnippets for NewGenerator)
// ranked by hit density then position.
// rawHits, when provided, contributes additional known hit ranges.
func (g *Generator) Generate(content string, queryTerms []string, rawHits []Span) []Snippet {
	if content == "" {
		return nil
	}
	runes := []rune(content)

	hits := g.collectHits(runes, queryTerms, rawHits)
	if len(hits) == 0 {
		return nil
	}

	windows := g.buildWindows(runes, hits)
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].hitCount != windows[j].hitCount {
			return windows[i].hitCount > windows[j].hitCount
		}
		return windows[i].start < windows[j].start
	})

	limit := g.maxSnippets
	if limit > len(windows) {
		limit = len(windows)
	}
	snippets := make([]Snippet, 0, limit)
	for _, win := range windows[:limit] {
		relative := relativeSpans(win, hits)
		anchor := win.start
		if len(relative) > 0 {
			anchor = win.start + relative[0].Start
		}
		snippets = append(snippets, Snippet{
			Text:       string(runes[win.start:win.end]),
			Line:       lineNumber(runes, anchor),
			Offset:     win.start,
			Highlights: relative,
		})
	}
	return snippets
}

// collectHits merges term occurrences and raw hit ranges into a sorted,
// non-overlapping span list.
func (g *Generator) collectHits(runes []rune, queryTerms []string, rawHits []Span) []Span {
	var spans []Span
	for _, hit := range rawHits {
		start, end := hit.Start, hit.End
		if start < 0 {
			start = 0
		}
		if end > len(runes) {
			end = len(runes)
		}
		if start < end {
			spans = append(spans, Span{Start: start, End: end})
		}
	}

	lowered := foldASCII(runes)
	seen := make(map[string]struct{})
	for _, term := range queryTerms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		needle := []rune(term)
		from := 0
		for from <= len(lowered)-len(needle) {
			idx := indexRunes(lowered, needle, from)
			if idx < 0 {
				break
			}
			spans = append(spans, Span{Start: idx, End: idx + len(needle)})
			from = idx + len(needle)
		}
	}
	return mergeSpans(spans)
}

// buildWindows expands every hit into a context window aligned to word
// boundaries and merges overlapping windows, counting hits per window.
func (g *Generator) buildWindows(runes []rune, hits []Span) []window {
	windows := make([]window, 0, len(hits))
	for _, hit := range hits {
		start := hit.Start - g.contextChars
		if start < 0 {
			start = 0
		}
		end := hit.End + g.contextChars
		if end > len(runes) {
			end = len(runes)
		}
		windows = append(windows, window{
			start:    alignStart(runes, start),
			end:      alignEnd(runes, end),
			hitCount: 1,
		})
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].start < windows[j].start })
	merged := windows[:0]
	for _, win := range windows {
		if len(merged) == 0 {
			merged = append(merged, win)
			continue
		}
		prev := &merged[len(merged)-1]
		if win.start <= prev.end {
			if win.end > prev.end {
				prev.end = win.end
			}
			prev.hitCount++
		} else {
			merged = append(merged, win)
		}
	}
	return merged
}

// relativeSpans clips the document-level hits into window-relative
// coordinates.
func relativeSpans(win window, hits []Span) []Span {
	var out []Span
	for _, hit := range hits {
		if hit.End <= win.start || hit.Start >= win.end {
			continue
		}
		start := hit.Start
		if start < win.start {
			start = win.start
		}
		end := hit.End
		if end > win.end {
			end = win.end
		}
		out = append(out, Span{Start: start - win.start, End: end - win.start})
	}
	return mergeSpans(out)
}

func mergeSpans(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := append([]Span(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := sorted[:1]
	for _, s := range sorted[1:] {
		last := &merged[len(merged)-1]
		if s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
		} else {
			merged = append(merged, s)
		}
	}
	return merged
}

func alignStart(runes []rune, idx int) int {
	for idx > 0 && isWordChar(runes[idx-1]) {
		idx--
	}
	return idx
}

func alignEnd(runes []rune, idx int) int {
	for idx < len(runes) && isWordChar(runes[idx]) {
		idx++
	}
	return idx
}

func isWordChar(r rune) bool {
	return r == '_' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z')
}

func lineNumber(runes []rune, offset int) int {
	line := 1
	for i := 0; i < offset && i < len(runes); i++ {
		if runes[i] == '\n' {
			line++
		}
	}
	return line
}

// foldASCII lowercases ASCII letters only; other characters are compared
// verbatim.
func foldASCII(runes []rune) []rune {
	out := make([]rune, len(runes))
	for i, r := range runes {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out[i] = r
	}
	return out
}

func indexRunes(haystack, needle []rune, from int) int {
	if len(needle) == 0 {
		return -1
	}
outer:
	for i := from; i <= len(haystack)-len(needle); i++ {
		for j, r := range needle {
			if haystack[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}
