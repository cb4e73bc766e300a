package match

import "github.com/agext/levenshtein"

// Similarity returns an edit-distance ratio in [0, 1]:
// (maxLen − editDistance) / maxLen over runes. Two empty strings are
// identical (1.0); one empty string matches nothing (0.0).
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra := []rune(a)
	rb := []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.Distance(a, b, nil)
	return float64(maxLen-dist) / float64(maxLen)
}
