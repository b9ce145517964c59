// Package similarity scores how closely two media titles match.
package similarity

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
)

var leadingArticles = []string{"the ", "a ", "an "}

// Score returns 1 for titles that are equal after folding and 0 for titles
// with nothing in common, based on Levenshtein distance. Folding
// transliterates to ASCII, lowercases, maps "&" to "and", turns separators
// into spaces and drops a leading article.
func Score(a, b string) float64 {
	a, b = Fold(a), Fold(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	longest := max(len(a), len(b))
	return 1 - float64(distance(a, b))/float64(longest)
}

// Fold normalizes a title for comparison.
func Fold(s string) string {
	s = strings.ReplaceAll(unidecode.Unidecode(s), "&", " and ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '.' || r == '-' || r == '_':
			b.WriteByte(' ')
		}
	}
	folded := strings.Join(strings.Fields(b.String()), " ")
	for _, article := range leadingArticles {
		if rest, ok := strings.CutPrefix(folded, article); ok && rest != "" {
			return rest
		}
	}
	return folded
}

// distance is the Levenshtein edit distance over bytes; inputs are ASCII
// after Fold.
func distance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
