package names

import (
	"slices"
	"strings"
)

var soundexCodes = [26]byte{
	// A B C D E F G H I J K L M N O P Q R S T U V W X Y Z
	'0', '1', '2', '3', '0', '1', '2', 0, '0', '2', '2', '4', '5', '5', '0', '1', '2', '6', '2', '3', '0', '1', 0, '2', '0', '2',
}

// Soundex returns the four-character American Soundex code of word.
// Non-letters are ignored; a word without letters yields "".
func Soundex(word string) string {
	letters := asciiLetters(word)
	if len(letters) == 0 {
		return ""
	}
	code := make([]byte, 1, 4)
	code[0] = letters[0]
	prev := soundexCodes[letters[0]-'A']
	for _, c := range letters[1:] {
		d := soundexCodes[c-'A']
		switch d {
		case 0:
			// H and W do not separate equal codes.
			continue
		case '0':
			prev = '0'
			continue
		}
		if d != prev {
			code = append(code, d)
			if len(code) == 4 {
				break
			}
		}
		prev = d
	}
	for len(code) < 4 {
		code = append(code, '0')
	}
	return string(code)
}

// Metaphone returns the original Metaphone key of word.
func Metaphone(word string) string {
	w := asciiLetters(word)
	if len(w) == 0 {
		return ""
	}

	var out strings.Builder
	i := 0

	// Initial exceptions.
	switch {
	case hasPrefix(w, "AE"), hasPrefix(w, "GN"), hasPrefix(w, "KN"), hasPrefix(w, "PN"), hasPrefix(w, "WR"):
		i = 1
	case w[0] == 'X':
		out.WriteByte('S')
		i = 1
	case hasPrefix(w, "WH"):
		out.WriteByte('W')
		i = 2
	}

	at := func(k int) byte {
		if k < 0 || k >= len(w) {
			return 0
		}
		return w[k]
	}

	for ; i < len(w); i++ {
		c := w[i]
		if c != 'C' && i > 0 && at(i-1) == c {
			continue
		}
		next := at(i + 1)
		switch c {
		case 'A', 'E', 'I', 'O', 'U':
			if i == 0 {
				out.WriteByte(c)
			}
		case 'B':
			if !(i == len(w)-1 && at(i-1) == 'M') {
				out.WriteByte('B')
			}
		case 'C':
			switch {
			case next == 'I' && at(i+2) == 'A':
				out.WriteByte('X')
			case next == 'H':
				if at(i-1) == 'S' {
					out.WriteByte('K')
				} else {
					out.WriteByte('X')
				}
				i++
			case isFrontVowel(next):
				if at(i-1) != 'S' {
					out.WriteByte('S')
				}
			default:
				out.WriteByte('K')
			}
		case 'D':
			if next == 'G' && isFrontVowel(at(i+2)) {
				out.WriteByte('J')
				i++
			} else {
				out.WriteByte('T')
			}
		case 'G':
			switch {
			case next == 'H' && i+2 < len(w) && !isVowel(at(i+2)):
				// silent: night, bought
			case next == 'N' && (i+2 == len(w) || (at(i+2) == 'E' && at(i+3) == 'D' && i+4 == len(w))):
				// silent: sign, signed
			case isFrontVowel(next):
				out.WriteByte('J')
			default:
				out.WriteByte('K')
			}
		case 'H':
			prev := at(i - 1)
			if strings.IndexByte("CSPTG", prev) >= 0 && prev != 0 {
				break
			}
			if isVowel(prev) && !isVowel(next) {
				break
			}
			out.WriteByte('H')
		case 'K':
			if at(i-1) != 'C' {
				out.WriteByte('K')
			}
		case 'P':
			if next == 'H' {
				out.WriteByte('F')
			} else {
				out.WriteByte('P')
			}
		case 'Q':
			out.WriteByte('K')
		case 'S':
			switch {
			case next == 'H':
				out.WriteByte('X')
				i++
			case next == 'I' && (at(i+2) == 'O' || at(i+2) == 'A'):
				out.WriteByte('X')
			default:
				out.WriteByte('S')
			}
		case 'T':
			switch {
			case next == 'I' && (at(i+2) == 'O' || at(i+2) == 'A'):
				out.WriteByte('X')
			case next == 'H':
				out.WriteByte('0')
				i++
			case next == 'C' && at(i+2) == 'H':
				// silent: the CH carries the sound
			default:
				out.WriteByte('T')
			}
		case 'V':
			out.WriteByte('F')
		case 'W', 'Y':
			if isVowel(next) {
				out.WriteByte(c)
			}
		case 'X':
			out.WriteString("KS")
		case 'Z':
			out.WriteByte('S')
		default:
			// F J L M N R
			out.WriteByte(c)
		}
	}
	return out.String()
}

// PhoneticVariants returns the sorted union of the Soundex and Metaphone codes
// of every token of the name, after transliteration and normalization.
func PhoneticVariants(name string) []string {
	seen := make(map[string]struct{})
	for _, tok := range Tokens(ToLatin(name)) {
		if s := Soundex(tok); s != "" {
			seen[s] = struct{}{}
		}
		if m := Metaphone(tok); m != "" {
			seen[m] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// PrimaryKey is the name-level Soundex key: per-token codes, sorted and
// space-joined, so token order does not matter.
func PrimaryKey(normalized string) string {
	return tokenKey(normalized, Soundex)
}

// SecondaryKey is the name-level Metaphone key, built like PrimaryKey.
func SecondaryKey(normalized string) string {
	return tokenKey(normalized, Metaphone)
}

func tokenKey(normalized string, encode func(string) string) string {
	tokens := strings.Fields(normalized)
	codes := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if c := encode(tok); c != "" {
			codes = append(codes, c)
		}
	}
	slices.Sort(codes)
	return strings.Join(codes, " ")
}

// asciiLetters uppercases word and keeps only A-Z.
func asciiLetters(word string) []byte {
	out := make([]byte, 0, len(word))
	for i := 0; i < len(word); i++ {
		c := word[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c >= 'A' && c <= 'Z' {
			out = append(out, c)
		}
	}
	return out
}

func hasPrefix(w []byte, p string) bool {
	return len(w) >= len(p) && string(w[:len(p)]) == p
}

func isVowel(c byte) bool {
	return c == 'A' || c == 'E' || c == 'I' || c == 'O' || c == 'U'
}

func isFrontVowel(c byte) bool {
	return c == 'E' || c == 'I' || c == 'Y'
}
