// Package names canonicalises free-text person names supplied by the
// detection pipeline.
//
// Two policies exist and they are not interchangeable. MatchKey is used
// when resolving which aggregate a detection belongs to; StripDigits is
// used when creating the aggregate and produces the stored display name.
package names

import (
	"strings"
	"unicode"
)

// MatchKey keeps only letters and lowercases the result.
// Digits, punctuation and whitespace are all dropped.
func MatchKey(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}

// StripDigits removes digit characters and preserves everything else,
// including case, spaces and punctuation.
func StripDigits(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return -1
		}
		return r
	}, name)
}

// Fold lowercases a stored display name and removes spaces. A stored name
// matches a detection when Fold(stored) == MatchKey(detected).
func Fold(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", ""))
}
