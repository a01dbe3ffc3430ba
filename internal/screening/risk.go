package screening

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MaxRiskScore caps the aggregate subject score.
const MaxRiskScore = 100.0

// listWeights ranks list families by severity.
var listWeights = map[domain.ListType]float64{
	domain.ListSanctions:    50,
	domain.ListPEP:          35,
	domain.ListAdverseMedia: 25,
	domain.ListRegulatory:   20,
	domain.ListInHouse:      15,
}

var levelBonuses = map[domain.RiskLevel]float64{
	domain.RiskCritical: 25,
	domain.RiskHigh:     15,
	domain.RiskMedium:   8,
	domain.RiskLow:      3,
}

// ListWeight returns the severity weight of a list type. Unknown types weigh
// the same as In-House.
func ListWeight(lt domain.ListType) float64 {
	if w, ok := listWeights[lt]; ok {
		return w
	}
	return listWeights[domain.ListInHouse]
}

// LevelBonus returns the additive bonus of an entry risk level.
func LevelBonus(level domain.RiskLevel) float64 {
	return levelBonuses[level]
}

// RiskScore aggregates matches into a subject score in [0, 100]. Adding a
// match never lowers the score.
func RiskScore(matches []*domain.NameMatchResult) float64 {
	var score float64
	for _, m := range matches {
		score += ListWeight(m.ListType)*m.SimilarityScore + LevelBonus(m.RiskLevel)
	}
	return min(score, MaxRiskScore)
}

// RiskLevelFor buckets a subject score.
func RiskLevelFor(score float64) domain.RiskLevel {
	switch {
	case score >= 75:
		return domain.RiskCritical
	case score >= 50:
		return domain.RiskHigh
	case score >= 25:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// PriorityFor derives the review priority of one match.
func PriorityFor(m *domain.NameMatchResult) domain.Priority {
	sim := m.SimilarityScore
	elevated := m.RiskLevel.AtLeast(domain.RiskHigh)
	switch {
	case (m.RiskLevel == domain.RiskCritical && sim >= 0.9) ||
		(m.ListType == domain.ListSanctions && sim >= 0.95):
		return domain.RiskCritical
	case (elevated && sim >= 0.8) || sim >= 0.95:
		return domain.RiskHigh
	case sim >= 0.8 || elevated:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

var reviewWindows = map[domain.Priority]time.Duration{
	domain.RiskCritical: time.Hour,
	domain.RiskHigh:     4 * time.Hour,
	domain.RiskMedium:   24 * time.Hour,
	domain.RiskLow:      72 * time.Hour,
}

// DueDate returns when an alert of the given priority must be reviewed.
func DueDate(p domain.Priority, created time.Time) time.Time {
	w, ok := reviewWindows[p]
	if !ok {
		w = reviewWindows[domain.RiskLow]
	}
	return created.Add(w)
}
