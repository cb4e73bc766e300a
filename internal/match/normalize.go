// Package match provides string normalization, similarity scoring, and
// business-candidate ranking for records that arrive without a stable place
// identifier. Everything here is pure and safe to call concurrently.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// accentStripper removes combining marks after NFD decomposition, so that
// "Café Müller" and "Cafe Muller" normalize identically.
var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName reduces a business name to its comparable core: lowercase,
// accents stripped, everything outside [a-z0-9] removed.
func NormalizeName(s string) string {
	folded, _, err := transform.String(accentStripper, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeText prepares free text for similarity comparison: lowercase,
// punctuation stripped, whitespace collapsed to single spaces. Unlike
// NormalizeName it preserves word boundaries.
func NormalizeText(s string) string {
	folded, _, err := transform.String(accentStripper, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	lastSpace := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
		// Punctuation and symbols are dropped.
	}
	return strings.TrimRight(b.String(), " ")
}
