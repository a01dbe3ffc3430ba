package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// MandatoryRules returns the regulatory rules every screening applies.
// They are compiled into the engine and cannot be disabled or replaced.
func MandatoryRules() []*domain.ComplianceRule {
	return []*domain.ComplianceRule{
		{
			ID:          "mandatory-pep-edd",
			Name:        "PEP requires enhanced due diligence",
			Description: "Any match against a politically exposed person requires EDD.",
			Expression:  `list_type == "PEP"`,
			Actions:     []domain.ComplianceAction{domain.ActionEDD},
			Mandatory:   true,
			Enabled:     true,
		},
		{
			ID:          "mandatory-sanctions-str-sar",
			Name:        "Sanctions match requires STR and SAR",
			Description: "Any match against a sanctions list requires suspicious transaction and activity reports.",
			Expression:  `list_type == "Sanctions"`,
			Actions:     []domain.ComplianceAction{domain.ActionSTR, domain.ActionSAR},
			Mandatory:   true,
			Enabled:     true,
		},
		{
			ID:          "mandatory-high-risk-str",
			Name:        "High risk subject requires STR",
			Description: "A subject scored High or Critical requires a suspicious transaction report.",
			Expression:  `subject_risk_level in ["High", "Critical"]`,
			Actions:     []domain.ComplianceAction{domain.ActionSTR},
			Mandatory:   true,
			Enabled:     true,
		},
	}
}

func isMandatoryID(id string) bool {
	for _, r := range MandatoryRules() {
		if r.ID == id {
			return true
		}
	}
	return false
}
