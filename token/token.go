// Package token segments mixed Latin/CJK text into index terms.
//
// Input is partitioned into maximal runs of CJK code points (Han, Hiragana,
// Katakana, Hangul) and non-CJK text. Non-CJK runs are split on
// non-alphanumeric boundaries, lowercased and optionally stop-word filtered;
// CJK runs are indexed as overlapping character bigrams, which avoids a
// dictionary-based word segmenter while keeping phrase queries exact.
//
// Positions are numbered globally across runs and offsets are measured in
// characters of the original input, so downstream highlighting can map a
// term back onto the source text.
package token

import "unicode"

// Token is a single normalized term together with its global position and
// character offsets in the original input.
type Token struct {
	Term  string
	Pos   uint32
	Start uint32
	End   uint32
}

// Options configures the tokenizer.
type Options struct {
	// StopWords enables filtering of a fixed English stop-word list in
	// non-CJK runs.
	StopWords bool
}

// DefaultOptions returns the default tokenizer options.
var DefaultOptions = Options{
	StopWords: true,
}

// Tokenizer converts text into a stream of tokens. It is stateless and safe
// for concurrent use.
type Tokenizer struct {
	stopWords bool
}

// New creates a Tokenizer.
func New(optFns ...func(o *Options)) *Tokenizer {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Tokenizer{stopWords: opts.StopWords}
}

// Tokenize splits text into tokens with globally monotone positions.
func (t *Tokenizer) Tokenize(text string) []Token {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var out []Token
	pos := uint32(0)
	cursor := 0

	for cursor < len(runes) {
		cjk := isCJK(runes[cursor])
		end := cursor + 1
		for end < len(runes) && isCJK(runes[end]) == cjk {
			end++
		}

		seg := runes[cursor:end]
		var segTokens []Token
		if cjk {
			segTokens = bigrams(seg)
		} else {
			segTokens = t.latin(seg)
		}
		for _, st := range segTokens {
			out = append(out, Token{
				Term:  st.Term,
				Pos:   pos,
				Start: uint32(cursor) + st.Start,
				End:   uint32(cursor) + st.End,
			})
			pos++
		}
		cursor = end
	}
	return out
}

// latin splits a non-CJK run on non-alphanumeric boundaries. Tokens of
// length <= 1 are dropped; stop words are dropped when enabled. Offsets are
// relative to the run.
func (t *Tokenizer) latin(seg []rune) []Token {
	var out []Token
	start := -1
	for i := 0; i <= len(seg); i++ {
		if i < len(seg) && isAlnum(seg[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if tok, ok := t.latinToken(seg, start, i); ok {
				out = append(out, tok)
			}
			start = -1
		}
	}
	return out
}

func (t *Tokenizer) latinToken(seg []rune, start, end int) (Token, bool) {
	if end-start <= 1 {
		return Token{}, false
	}
	term := lower(seg[start:end])
	if t.stopWords && IsStopWord(term) {
		return Token{}, false
	}
	return Token{Term: term, Start: uint32(start), End: uint32(end)}, true
}

// bigrams emits every two-character sliding window of a CJK run, or the
// single character when the run has length 1. Offsets are relative to the
// run.
func bigrams(seg []rune) []Token {
	if len(seg) == 1 {
		return []Token{{Term: string(seg), Start: 0, End: 1}}
	}
	out := make([]Token, 0, len(seg)-1)
	for i := 0; i+1 < len(seg); i++ {
		out = append(out, Token{
			Term:  string(seg[i : i+2]),
			Start: uint32(i),
			End:   uint32(i + 2),
		})
	}
	return out
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func lower(rs []rune) string {
	out := make([]rune, len(rs))
	for i, r := range rs {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out[i] = r
	}
	return string(out)
}

// isCJK reports whether r belongs to one of the CJK scripts that are
// indexed as bigrams.
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
