// Package similarity scores how alike two names are.
package similarity

import (
	"math"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/names"
)

// DefaultWeights favor edit distance and Jaro-Winkler; phonetic equality is a small boost.
var DefaultWeights = domain.SimilarityWeights{
	Levenshtein:            0.5,
	JaroWinkler:            0.5,
	PrimaryPhoneticBoost:   0.05,
	SecondaryPhoneticBoost: 0.05,
}

// Scorer combines several similarity metrics into one score.
type Scorer struct {
	weights domain.SimilarityWeights
}

// NewScorer creates a scorer. Zero base weights fall back to DefaultWeights.
func NewScorer(w domain.SimilarityWeights) *Scorer {
	if w.Levenshtein+w.JaroWinkler <= 0 {
		w = DefaultWeights
	}
	return &Scorer{weights: w}
}

// Score compares two raw names. It is symmetric: Score(a, b) == Score(b, a).
func (s *Scorer) Score(a, b string) domain.SimilarityScore {
	return s.ScoreNormalized(names.Normalize(a), names.Normalize(b))
}

// ScoreNormalized compares two names that were already passed through names.Normalize.
func (s *Scorer) ScoreNormalized(a, b string) domain.SimilarityScore {
	if a == "" || b == "" {
		return domain.SimilarityScore{BestAlgorithm: domain.AlgorithmNone}
	}
	// Canonical order makes every metric symmetric, whatever its internals.
	if b < a {
		a, b = b, a
	}

	score := domain.SimilarityScore{
		Levenshtein: LevenshteinSimilarity(a, b),
		JaroWinkler: JaroWinkler(a, b),
	}
	if k := names.PrimaryKey(a); k != "" && k == names.PrimaryKey(b) {
		score.PrimaryPhonetic = 1
	}
	if k := names.SecondaryKey(a); k != "" && k == names.SecondaryKey(b) {
		score.SecondaryPhonetic = 1
	}

	w := s.weights
	overall := (w.Levenshtein*score.Levenshtein + w.JaroWinkler*score.JaroWinkler) / (w.Levenshtein + w.JaroWinkler)
	overall += w.PrimaryPhoneticBoost*score.PrimaryPhonetic + w.SecondaryPhoneticBoost*score.SecondaryPhonetic
	score.OverallScore = clamp(overall)
	score.BestAlgorithm = best(score)
	return score
}

// best picks the highest sub-score; ties go to the earlier metric.
func best(s domain.SimilarityScore) string {
	name, top := domain.AlgorithmLevenshtein, s.Levenshtein
	for _, c := range []struct {
		name string
		v    float64
	}{
		{domain.AlgorithmJaroWinkler, s.JaroWinkler},
		{domain.AlgorithmSoundex, s.PrimaryPhonetic},
		{domain.AlgorithmMetaphone, s.SecondaryPhonetic},
	} {
		if c.v > top {
			name, top = c.name, c.v
		}
	}
	return name
}

// LevenshteinSimilarity is 1 - distance/maxLen over runes.
func LevenshteinSimilarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	maxLen := max(la, lb)
	if maxLen == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(maxLen)
}

// JaroWinkler returns the Jaro-Winkler similarity with a prefix of up to
// four runes and the standard 0.1 scaling factor.
func JaroWinkler(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	jaro := jaroSimilarity(ra, rb)
	if jaro == 0 {
		return 0
	}
	prefix := 0
	for i := 0; i < min(len(ra), len(rb), 4); i++ {
		if ra[i] != rb[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1-jaro)
}

func jaroSimilarity(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	window := max(len(a), len(b))/2 - 1
	if window < 0 {
		window = 0
	}
	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))

	matches := 0
	for i := range a {
		lo := max(0, i-window)
		hi := min(len(b), i+window+1)
		for j := lo; j < hi; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i], bMatched[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2)/m) / 3
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
