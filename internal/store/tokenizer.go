package store

import "strings"

// edgePunctuation is stripped from both ends of every token.
const edgePunctuation = `.,;:!?()[]{}"'-`

// Tokenize splits text into lowercase terms for BM25 scoring.
//
// The text is lowercased and split on whitespace; punctuation in
// edgePunctuation is trimmed from both ends of each token and empty tokens
// are discarded. Interior punctuation is kept, so "PORT-123" stays a single
// term "port-123".
func Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.Trim(f, edgePunctuation)
		if tok == "" {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}
