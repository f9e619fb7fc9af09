package highlight

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSingleHit(t *testing.T) {
	g := NewGenerator()
	content := "The quick brown fox jumps over the lazy dog"
	snippets := g.Generate(content, []string{"fox"}, nil)
	require.Len(t, snippets, 1)

	s := snippets[0]
	assert.Contains(t, s.Text, "fox")
	assert.Equal(t, 1, s.Line)
	require.Len(t, s.Highlights, 1)
	hl := s.Text[s.Highlights[0].Start:s.Highlights[0].End]
	assert.Equal(t, "fox", hl)
}

func TestGenerateCaseInsensitive(t *testing.T) {
	g := NewGenerator()
	snippets := g.Generate("Error in module. ERROR again. error thrice.", []string{"error"}, nil)
	require.Len(t, snippets, 1)
	assert.Len(t, snippets[0].Highlights, 3)
}

func TestGenerateMergesOverlappingWindows(t *testing.T) {
	g := NewGeneratorWith(10, 3)
	// Two hits within 10 chars merge into one window with two hits.
	snippets := g.Generate("aaa foo bar foo zzz", []string{"foo"}, nil)
	require.Len(t, snippets, 1)
	assert.Len(t, snippets[0].Highlights, 2)
}

func TestGenerateRanksByHitDensity(t *testing.T) {
	g := NewGeneratorWith(5, 3)
	content := "foo" + strings.Repeat(" x", 40) + " foo foo foo" + strings.Repeat(" y", 40) + " end"
	snippets := g.Generate(content, []string{"foo"}, nil)
	require.NotEmpty(t, snippets)
	// The dense cluster must rank first despite appearing later.
	assert.GreaterOrEqual(t, len(snippets[0].Highlights), 2)
}

func TestGenerateMaxSnippets(t *testing.T) {
	g := NewGeneratorWith(2, 3)
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString("needle")
		sb.WriteString(strings.Repeat(" filler ", 10))
	}
	snippets := g.Generate(sb.String(), []string{"needle"}, nil)
	assert.Len(t, snippets, 3)
}

func TestGenerateLineNumbers(t *testing.T) {
	g := NewGenerator()
	content := "first line\nsecond line\nthird target line\n"
	snippets := g.Generate(content, []string{"target"}, nil)
	require.Len(t, snippets, 1)
	assert.Equal(t, 3, snippets[0].Line)
}

func TestGenerateWordBoundaryAlignment(t *testing.T) {
	g := NewGeneratorWith(3, 1)
	content := "alphabet needle wordtail"
	snippets := g.Generate(content, []string{"needle"}, nil)
	require.Len(t, snippets, 1)
	// Window expansion lands mid-word and must be widened to boundaries.
	assert.Equal(t, "alphabet needle wordtail", snippets[0].Text)
}

func TestGenerateCJK(t *testing.T) {
	g := NewGeneratorWith(4, 3)
	content := "这是一个全文搜索引擎的实现"
	snippets := g.Generate(content, []string{"搜索"}, nil)
	require.Len(t, snippets, 1)
	s := snippets[0]
	runes := []rune(s.Text)
	require.Len(t, s.Highlights, 1)
	assert.Equal(t, "搜索", string(runes[s.Highlights[0].Start:s.Highlights[0].End]))
}

func TestGenerateRawHits(t *testing.T) {
	g := NewGenerator()
	content := "zero one two three"
	snippets := g.Generate(content, nil, []Span{{Start: 5, End: 8}})
	require.Len(t, snippets, 1)
	assert.Len(t, snippets[0].Highlights, 1)
}

func TestGenerateNoHits(t *testing.T) {
	g := NewGenerator()
	assert.Empty(t, g.Generate("some content", []string{"absent"}, nil))
	assert.Empty(t, g.Generate("", []string{"x"}, nil))
}

func TestANSIRendering(t *testing.T) {
	s := Snippet{
		Text:       "a foo b",
		Highlights: []Span{{Start: 2, End: 5}},
	}
	out := ANSI(s)
	assert.Equal(t, "a \x1b[1;33mfoo\x1b[0m b", out)

	plain := Snippet{Text: "nothing"}
	assert.Equal(t, "nothing", ANSI(plain))
}
