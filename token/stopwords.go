package token

// english is the fixed stop-word list applied to non-CJK tokens when
// stop-word filtering is enabled.
var english = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "has": {}, "have": {}, "had": {}, "do": {},
	"does": {}, "did": {}, "will": {}, "would": {}, "could": {},
	"should": {}, "may": {}, "might": {}, "can": {}, "and": {}, "or": {},
	"but": {}, "not": {}, "in": {}, "on": {}, "at": {}, "to": {},
	"for": {}, "of": {}, "with": {}, "by": {}, "from": {}, "as": {},
	"into": {}, "it": {}, "its": {}, "this": {}, "that": {}, "which": {},
	"if": {}, "so": {}, "no": {}, "up": {}, "out": {}, "all": {},
	"just": {}, "also": {}, "very": {},
}

// IsStopWord reports whether term is in the English stop-word list. The
// term is expected to be lowercase already.
func IsStopWord(term string) bool {
	_, ok := english[term]
	return ok
}
