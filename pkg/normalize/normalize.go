// Package normalize canonicalizes activity text before it is embedded.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const signatureSeparator = " | "

// Text lower-cases s, strips diacritics, drops every character except
// letters, digits, underscore, whitespace, hyphen, period and comma, and
// collapses whitespace runs into a single space.
func Text(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ToLower(s)

	// transform.Chain keeps state, so build it per call
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	decomposed, _, err := transform.String(t, s)
	if err != nil {
		// Only reachable on malformed input; fall back to the undecomposed text
		decomposed = s
	}

	kept := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r), r == '_':
			return r
		case unicode.IsSpace(r):
			return ' '
		case r == '-', r == '.', r == ',':
			return r
		default:
			return -1
		}
	}, decomposed)

	return strings.Join(strings.Fields(kept), " ")
}

// Signature builds the embedding input "<name> | <location> | <category>"
// from normalized fields. The category part is omitted when it normalizes to
// an empty string.
func Signature(name, location, category string) string {
	parts := []string{Text(name), Text(location)}
	if c := Text(category); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, signatureSeparator)
}
