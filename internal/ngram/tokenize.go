// Package ngram provides title tokenization, n-gram generation and
// per-category phrase frequency tables.
package ngram

import "strings"

// MinTokenLength is the shortest token kept by Tokenize.
const MinTokenLength = 3

// Tokenize lower-cases text, replaces every character outside [a-z0-9] and
// whitespace with a space, splits on whitespace and drops tokens shorter
// than MinTokenLength. It never returns nil for empty input, only an empty slice.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			// Whitespace and everything else collapse to a separator.
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= MinTokenLength {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// NGrams returns every contiguous window of n tokens joined by a single
// space, left to right. Fewer than n tokens (or n < 1) yields an empty slice.
func NGrams(tokens []string, n int) []string {
	if n < 1 || len(tokens) < n {
		return []string{}
	}

	grams := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		grams = append(grams, strings.Join(tokens[i:i+n], " "))
	}
	return grams
}
