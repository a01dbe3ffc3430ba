package names

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ajay Kumar", "ajay kumar"},
		{"  MR.  Ajay   KUMAR ", "ajay kumar"},
		{"Dr. José Müller-Lüdenscheidt", "jose muller ludenscheidt"},
		{"O'Brien, Patrick Jr.", "obrien patrick"},
		{"A.Kumar", "a kumar"},
		{"Shri Ram Lal (Late)", "ram lal"},
		{"", ""},
		{"...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeKeepsDevanagari(t *testing.T) {
	got := Normalize("अजय कुमार")
	assert.Equal(t, "अजय कुमार", got)
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, in := range []string{"Mr. Ajay Kumar", "Zoë Fernandes-Silva", "अजय कुमार"} {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), in)
	}
}

func TestDetectScript(t *testing.T) {
	assert.Equal(t, ScriptLatin, DetectScript("Ajay Kumar"))
	assert.Equal(t, ScriptDevanagari, DetectScript("अजय कुमार"))
	assert.Equal(t, ScriptCyrillic, DetectScript("Иван Петров"))
	assert.Equal(t, ScriptLatin, DetectScript("1234"))
}

func TestTransliterate(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		script Script
		want   string
	}{
		{"devanagari inherent vowel", "अजय कुमार", ScriptDevanagari, "ajay kumar"},
		{"devanagari anusvara", "सिंह", ScriptDevanagari, "sinh"},
		{"devanagari conjunct", "लक्ष्मी", ScriptDevanagari, "lakshmi"},
		{"devanagari digits", "१२३", ScriptDevanagari, "123"},
		{"cyrillic", "Иван Петров", ScriptCyrillic, "Ivan Petrov"},
		{"latin passthrough", "Ajay", ScriptLatin, "Ajay"},
		{"unmapped passes through", "अजय-X", ScriptDevanagari, "ajay-X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transliterate(tt.in, tt.script))
		})
	}
}

func TestSoundex(t *testing.T) {
	tests := map[string]string{
		"Robert":   "R163",
		"Rupert":   "R163",
		"Ashcraft": "A261",
		"Tymczak":  "T522",
		"Pfister":  "P236",
		"Kumar":    "K560",
		"A":        "A000",
		"":         "",
		"123":      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Soundex(in), in)
	}
}

func TestMetaphone(t *testing.T) {
	tests := map[string]string{
		"Smith":  "SM0",
		"Smyth":  "SM0",
		"Kumar":  "KMR",
		"Kumaar": "KMR",
		"Knight": "NT",
		"Philip": "FLP",
		"Xavier": "SFR",
		"":       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Metaphone(in), in)
	}
}

func TestPhoneticVariants(t *testing.T) {
	got := PhoneticVariants("Ajay Kumar")
	assert.Contains(t, got, "K560")
	assert.Contains(t, got, "KMR")
	assert.IsIncreasing(t, got)

	t.Run("cross script", func(t *testing.T) {
		assert.Equal(t, PhoneticVariants("Ajay Kumar"), PhoneticVariants("अजय कुमार"))
	})

	t.Run("deterministic", func(t *testing.T) {
		first := PhoneticVariants("Mohammed Al-Rashid")
		for i := 0; i < 20; i++ {
			assert.Equal(t, first, PhoneticVariants("Mohammed Al-Rashid"))
		}
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, PhoneticVariants("  "))
	})
}

func TestPrimaryKeyOrderInsensitive(t *testing.T) {
	assert.Equal(t, PrimaryKey("ajay kumar"), PrimaryKey("kumar ajay"))
	assert.Equal(t, SecondaryKey("ajay kumar"), SecondaryKey("kumar ajay"))
	assert.NotEqual(t, PrimaryKey("ajay kumar"), PrimaryKey("a kumar"))
}
