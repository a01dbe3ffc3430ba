package domain

// ComplianceAction is a regulatory action a rule can require.
type ComplianceAction string

const (
	ActionEDD ComplianceAction = "EDD"
	ActionSTR ComplianceAction = "STR"
	ActionSAR ComplianceAction = "SAR"
)

// ComplianceRule is a CEL boolean expression that, when true for a match,
// requires its actions.
//
// Available variables: list_type, risk_level, similarity, source, category,
// subject_risk_level, subject_risk_score, match_count.
type ComplianceRule struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Expression  string             `json:"expression"`
	Actions     []ComplianceAction `json:"actions"`

	// Mandatory rules are compiled in and cannot be disabled or replaced.
	Mandatory bool `json:"mandatory"`
	Enabled   bool `json:"enabled"`
}

// MatchFacts is the input to compliance rule evaluation for one match.
type MatchFacts struct {
	ListType         ListType
	RiskLevel        RiskLevel
	Similarity       float64
	Source           string
	Category         string
	SubjectRiskLevel RiskLevel
	SubjectRiskScore float64
	MatchCount       int
}
