// Package textnorm holds the one text normalisation used by every text filter:
// Unicode case folding, then trimming and collapsing runs of whitespace to a
// single space. Gateways and the engine must compare folded forms only.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Fold returns the normalised form of s.
func Fold(s string) string {
	// cases.Caser is stateful, so each call gets its own.
	return Clean(cases.Fold().String(s))
}

// Clean trims s and collapses internal whitespace runs without changing case.
// Stores that fold case themselves (ILIKE) receive Clean'd values.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Contains reports whether needle occurs in haystack after folding both.
// An empty needle matches everything.
func Contains(haystack, needle string) bool {
	return strings.Contains(Fold(haystack), Fold(needle))
}

// Equal reports whether a and b fold to the same string.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}

// AnyContains reports whether any element of values contains needle.
func AnyContains(values []string, needle string) bool {
	n := Fold(needle)
	for _, v := range values {
		if strings.Contains(Fold(v), n) {
			return true
		}
	}
	return false
}

// MatchRank orders a name match: 0 exact, 1 prefix, 2 substring, -1 no match.
func MatchRank(name, query string) int {
	n, q := Fold(name), Fold(query)
	switch {
	case n == q:
		return 0
	case strings.HasPrefix(n, q):
		return 1
	case strings.Contains(n, q):
		return 2
	default:
		return -1
	}
}

// EscapeLike escapes the LIKE wildcards % and _ and the escape character itself.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
