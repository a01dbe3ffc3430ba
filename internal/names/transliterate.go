package names

import (
	"strings"
	"unicode"
)

// Script identifies the writing system of a name.
type Script string

const (
	ScriptLatin      Script = "latin"
	ScriptDevanagari Script = "devanagari"
	ScriptCyrillic   Script = "cyrillic"
	ScriptOther      Script = "other"
)

// DetectScript returns the script holding the majority of letters in name.
// Names without letters are reported as Latin.
func DetectScript(name string) Script {
	var latin, deva, cyr, other int
	for _, r := range name {
		switch {
		case unicode.In(r, unicode.Devanagari):
			deva++
		case unicode.In(r, unicode.Cyrillic):
			cyr++
		case unicode.In(r, unicode.Latin):
			latin++
		case unicode.IsLetter(r):
			other++
		}
	}
	switch {
	case deva > 0 && deva >= latin && deva >= cyr && deva >= other:
		return ScriptDevanagari
	case cyr > 0 && cyr >= latin && cyr >= other:
		return ScriptCyrillic
	case other > latin:
		return ScriptOther
	default:
		return ScriptLatin
	}
}

// Transliterate maps a name written in script to a Latin approximation using
// fixed tables. Characters without a mapping pass through unchanged.
func Transliterate(name string, script Script) string {
	switch script {
	case ScriptDevanagari:
		return transliterateDevanagari(name)
	case ScriptCyrillic:
		return transliterateCyrillic(name)
	default:
		return name
	}
}

// ToLatin transliterates name from its detected script.
func ToLatin(name string) string {
	return Transliterate(name, DetectScript(name))
}

var devanagariVowels = map[rune]string{
	'अ': "a", 'आ': "a", 'इ': "i", 'ई': "i", 'उ': "u", 'ऊ': "u",
	'ऋ': "ri", 'ए': "e", 'ऐ': "ai", 'ओ': "o", 'औ': "au", 'ऑ': "o",
}

// devanagariSigns are dependent vowel signs replacing a consonant's inherent "a".
var devanagariSigns = map[rune]string{
	'ा': "a", 'ि': "i", 'ी': "i", 'ु': "u", 'ू': "u", 'ृ': "ri",
	'े': "e", 'ै': "ai", 'ो': "o", 'ौ': "au", 'ॉ': "o",
}

var devanagariConsonants = map[rune]string{
	'क': "k", 'ख': "kh", 'ग': "g", 'घ': "gh", 'ङ': "n",
	'च': "ch", 'छ': "chh", 'ज': "j", 'झ': "jh", 'ञ': "n",
	'ट': "t", 'ठ': "th", 'ड': "d", 'ढ': "dh", 'ण': "n",
	'त': "t", 'थ': "th", 'द': "d", 'ध': "dh", 'न': "n",
	'प': "p", 'फ': "ph", 'ब': "b", 'भ': "bh", 'म': "m",
	'य': "y", 'र': "r", 'ल': "l", 'व': "v", 'श': "sh",
	'ष': "sh", 'स': "s", 'ह': "h", 'ळ': "l",
	'\u0958': "q", '\u0959': "kh", '\u095A': "g", '\u095B': "z", '\u095C': "r", '\u095D': "rh", '\u095E': "f",
}

var devanagariOther = map[rune]string{
	'ं': "n", 'ँ': "n", 'ः': "h", 'ॐ': "om",
	'०': "0", '१': "1", '२': "2", '३': "3", '४': "4",
	'५': "5", '६': "6", '७': "7", '८': "8", '९': "9",
}

const (
	virama = '्'
	nukta  = '़'
)

// transliterateDevanagari handles the inherent vowel: a consonant is followed
// by "a" unless a vowel sign or virama follows it, or it ends the word.
func transliterateDevanagari(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if c, ok := devanagariConsonants[r]; ok {
			b.WriteString(c)
			j := i + 1
			for j < len(rs) && rs[j] == nukta {
				j++
			}
			if j < len(rs) {
				next := rs[j]
				if _, sign := devanagariSigns[next]; sign || next == virama {
					continue
				}
				if _, cons := devanagariConsonants[next]; cons {
					b.WriteByte('a')
					continue
				}
				if next == 'ं' || next == 'ँ' || next == 'ः' {
					b.WriteByte('a')
				}
			}
			continue
		}
		if v, ok := devanagariSigns[r]; ok {
			b.WriteString(v)
			continue
		}
		if v, ok := devanagariVowels[r]; ok {
			b.WriteString(v)
			continue
		}
		if v, ok := devanagariOther[r]; ok {
			b.WriteString(v)
			continue
		}
		if r == virama || r == nukta {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var cyrillic = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "yo",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch",
	'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
	'і': "i", 'ї': "yi", 'є': "ye", 'ґ': "g",
}

func transliterateCyrillic(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		lower := unicode.ToLower(r)
		v, ok := cyrillic[lower]
		if !ok {
			b.WriteRune(r)
			continue
		}
		if lower != r && v != "" {
			v = strings.ToUpper(v[:1]) + v[1:]
		}
		b.WriteString(v)
	}
	return b.String()
}
