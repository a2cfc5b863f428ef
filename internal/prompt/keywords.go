package prompt

import (
	"strings"
	"unicode"
)

// maxQueryKeywords caps the derived search query length.
const maxQueryKeywords = 8

// stopwords are dropped from derived search queries. The heuristic filters
// function words rather than sending the user's message verbatim to the
// search provider.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "if": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "of": {}, "for": {}, "from": {},
	"by": {}, "with": {}, "about": {}, "as": {}, "into": {}, "than": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"do": {}, "does": {}, "did": {}, "have": {}, "has": {}, "had": {},
	"can": {}, "could": {}, "should": {}, "would": {}, "will": {}, "shall": {},
	"may": {}, "might": {}, "must": {},
	"i": {}, "you": {}, "he": {}, "she": {}, "it": {}, "we": {}, "they": {},
	"me": {}, "him": {}, "her": {}, "us": {}, "them": {}, "my": {}, "your": {},
	"his": {}, "its": {}, "our": {}, "their": {}, "this": {}, "that": {},
	"these": {}, "those": {}, "what": {}, "which": {}, "who": {}, "whom": {},
	"whose": {}, "when": {}, "where": {}, "why": {}, "how": {},
	"please": {}, "tell": {}, "explain": {}, "describe": {},
	"not": {}, "no": {}, "so": {}, "very": {}, "just": {}, "also": {},
}

// SearchQuery reduces a user message to a keyword query: lowercase, strip
// punctuation, drop stopwords, keep at most maxQueryKeywords terms in
// original order. Returns "" when nothing survives.
func SearchQuery(message string) string {
	fields := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	keywords := make([]string, 0, maxQueryKeywords)
	seen := make(map[string]struct{}, maxQueryKeywords)
	for _, word := range fields {
		if len(word) < 2 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		keywords = append(keywords, word)
		if len(keywords) == maxQueryKeywords {
			break
		}
	}
	return strings.Join(keywords, " ")
}
