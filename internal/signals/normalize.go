// File: internal/signals/normalize.go
package signals

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s, folds diacritics ("Solicitação" -> "solicitacao"),
// trims it and collapses internal whitespace runs to a single space.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// A transform.Transformer carries state, so a fresh chain is built per call.
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Tokenize splits an already normalized string into word tokens. Anything that
// is not a letter or digit is a boundary, so "follow·back" yields two tokens.
func Tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
