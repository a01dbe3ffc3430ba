// Package names cleans person and entity names and derives the variants
// used for cross-script and cross-spelling matching.
//
// Every function in this package is pure.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// titles are honorifics and generational suffixes dropped from names.
var titles = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "miss": {}, "mx": {}, "dr": {}, "prof": {},
	"sir": {}, "dame": {}, "shri": {}, "shree": {}, "sri": {}, "smt": {}, "kum": {},
	"late": {}, "jr": {}, "sr": {}, "ii": {}, "iii": {}, "iv": {}, "esq": {},
	"phd": {}, "md": {}, "adv": {}, "capt": {}, "col": {}, "gen": {},
}

// Normalize lowercases a name, strips diacritics, punctuation and titles,
// and collapses whitespace. Non-Latin letters are kept as-is.
func Normalize(name string) string {
	if name == "" {
		return ""
	}
	name = stripDiacritics(strings.ToLower(name))

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '\'' || r == '’' || r == '`':
			// O'Brien -> obrien
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, ok := titles[tok]; ok {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// Tokens returns the whitespace-separated tokens of the normalized name.
func Tokens(name string) []string {
	return strings.Fields(Normalize(name))
}

// stripDiacritics removes combining marks from Latin text. Combining marks on
// other scripts (Devanagari vowel signs, virama) carry meaning and are kept.
func stripDiacritics(s string) string {
	if isASCII(s) {
		return s
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(isLatinMark)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// isLatinMark matches combining diacritics in the U+0300 block.
func isLatinMark(r rune) bool {
	return r >= 0x0300 && r <= 0x036F
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
