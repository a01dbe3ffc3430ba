package rules

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestEngineCreation(t *testing.T) {
	engine := newEngine(t)

	if engine.RulesCount() != len(MandatoryRules()) {
		t.Errorf("expected %d mandatory rules, got %d", len(MandatoryRules()), engine.RulesCount())
	}
}

func TestMandatoryFlags(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		facts domain.MatchFacts
		want  domain.ComplianceFlags
	}{
		{
			name:  "PEP",
			facts: domain.MatchFacts{ListType: domain.ListPEP, SubjectRiskLevel: domain.RiskLow},
			want:  domain.ComplianceFlags{RequiresEDD: true},
		},
		{
			name:  "Sanctions",
			facts: domain.MatchFacts{ListType: domain.ListSanctions, SubjectRiskLevel: domain.RiskMedium},
			want:  domain.ComplianceFlags{RequiresSTR: true, RequiresSAR: true},
		},
		{
			name:  "HighRiskSubject",
			facts: domain.MatchFacts{ListType: domain.ListRegulatory, SubjectRiskLevel: domain.RiskHigh},
			want:  domain.ComplianceFlags{RequiresSTR: true},
		},
		{
			name:  "CriticalPEP",
			facts: domain.MatchFacts{ListType: domain.ListPEP, SubjectRiskLevel: domain.RiskCritical},
			want:  domain.ComplianceFlags{RequiresEDD: true, RequiresSTR: true},
		},
		{
			name:  "LowRegulatory",
			facts: domain.MatchFacts{ListType: domain.ListRegulatory, SubjectRiskLevel: domain.RiskMedium},
			want:  domain.ComplianceFlags{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Evaluate(ctx, tt.facts)
			if got != tt.want {
				t.Errorf("Evaluate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMandatoryFlagsSurviveCancellation(t *testing.T) {
	engine := newEngine(t)
	if err := engine.LoadRule(&domain.ComplianceRule{
		ID:         "any-match-edd",
		Name:       "Any match review",
		Expression: `similarity > 0.0`,
		Actions:    []domain.ComplianceAction{domain.ActionEDD},
		Enabled:    true,
	}); err != nil {
		t.Fatalf("LoadRule failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := engine.Evaluate(ctx, domain.MatchFacts{
		ListType:         domain.ListSanctions,
		Similarity:       0.97,
		SubjectRiskLevel: domain.RiskCritical,
	})
	want := domain.ComplianceFlags{RequiresSTR: true, RequiresSAR: true}
	if got != want {
		t.Errorf("Evaluate() with cancelled context = %+v, want %+v", got, want)
	}

	got = engine.Evaluate(context.Background(), domain.MatchFacts{
		ListType:         domain.ListSanctions,
		Similarity:       0.97,
		SubjectRiskLevel: domain.RiskCritical,
	})
	want.RequiresEDD = true
	if got != want {
		t.Errorf("Evaluate() = %+v, want %+v", got, want)
	}
}

func TestLoadRule(t *testing.T) {
	engine := newEngine(t)

	rule := &domain.ComplianceRule{
		ID:         "adverse-media-edd",
		Name:       "Adverse media review",
		Expression: `list_type == "Adverse-Media" && similarity >= 0.85`,
		Actions:    []domain.ComplianceAction{domain.ActionEDD},
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != len(MandatoryRules())+1 {
		t.Errorf("expected %d rules, got %d", len(MandatoryRules())+1, engine.RulesCount())
	}

	ctx := context.Background()
	hit := engine.Evaluate(ctx, domain.MatchFacts{ListType: domain.ListAdverseMedia, Similarity: 0.9})
	if !hit.RequiresEDD {
		t.Error("expected EDD from operator rule")
	}
	miss := engine.Evaluate(ctx, domain.MatchFacts{ListType: domain.ListAdverseMedia, Similarity: 0.8})
	if miss.RequiresEDD {
		t.Error("expected no EDD below similarity bound")
	}

	rules := engine.Rules()
	if last := rules[len(rules)-1]; last.ID != rule.ID {
		t.Errorf("expected operator rule after mandatory rules, got %s", last.ID)
	}

	disabled := *rule
	disabled.Enabled = false
	if err := engine.LoadRule(&disabled); err != nil {
		t.Fatalf("failed to disable rule: %v", err)
	}
	if engine.RulesCount() != len(MandatoryRules()) {
		t.Errorf("expected disabled rule to be unloaded, got %d rules", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine := newEngine(t)

	tests := []struct {
		name string
		rule *domain.ComplianceRule
	}{
		{"Nil", nil},
		{"Syntax", &domain.ComplianceRule{ID: "bad", Expression: "this is not valid CEL !!!", Actions: []domain.ComplianceAction{domain.ActionEDD}}},
		{"NonBool", &domain.ComplianceRule{ID: "num", Expression: "similarity * 2.0", Actions: []domain.ComplianceAction{domain.ActionEDD}}},
		{"UnknownVariable", &domain.ComplianceRule{ID: "var", Expression: "amount > 1.0", Actions: []domain.ComplianceAction{domain.ActionEDD}}},
		{"NoActions", &domain.ComplianceRule{ID: "none", Expression: "true"}},
		{"UnknownAction", &domain.ComplianceRule{ID: "act", Expression: "true", Actions: []domain.ComplianceAction{"CTR"}}},
		{"ReplacesMandatory", &domain.ComplianceRule{ID: "mandatory-pep-edd", Expression: "false", Actions: []domain.ComplianceAction{domain.ActionEDD}}},
		{"ClaimsMandatory", &domain.ComplianceRule{ID: "x", Expression: "true", Actions: []domain.ComplianceAction{domain.ActionEDD}, Mandatory: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.LoadRule(tt.rule); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if engine.RulesCount() != len(MandatoryRules()) {
		t.Errorf("invalid rules changed the rule set: %d rules", engine.RulesCount())
	}
}

func TestMandatoryRulesSurviveReload(t *testing.T) {
	engine := newEngine(t)

	err := engine.ReloadRules([]*domain.ComplianceRule{
		{ID: "watch-sar", Name: "In-house SAR", Expression: `list_type == "In-House"`, Actions: []domain.ComplianceAction{domain.ActionSAR}, Enabled: true},
		{ID: "off", Name: "Disabled", Expression: "true", Actions: []domain.ComplianceAction{domain.ActionEDD}},
	})
	if err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}
	if engine.RulesCount() != len(MandatoryRules())+1 {
		t.Errorf("expected 1 operator rule, got %d rules", engine.RulesCount())
	}

	ctx := context.Background()
	if !engine.Evaluate(ctx, domain.MatchFacts{ListType: domain.ListPEP}).RequiresEDD {
		t.Error("mandatory PEP rule lost after reload")
	}

	// A failing reload keeps the previous set.
	err = engine.ReloadRules([]*domain.ComplianceRule{
		{ID: "broken", Expression: "list_type ==", Actions: []domain.ComplianceAction{domain.ActionEDD}, Enabled: true},
	})
	if err == nil {
		t.Fatal("expected reload error")
	}
	if !engine.Evaluate(ctx, domain.MatchFacts{ListType: domain.ListInHouse}).RequiresSAR {
		t.Error("previous operator rule lost after failed reload")
	}
}

func TestConcurrentEvaluateAndReload(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			flags := engine.Evaluate(ctx, domain.MatchFacts{ListType: domain.ListSanctions})
			if !flags.RequiresSAR {
				t.Error("expected SAR for sanctions match")
			}
		}()
		go func() {
			defer wg.Done()
			_ = engine.ReloadRules([]*domain.ComplianceRule{
				{ID: "r", Name: "r", Expression: "match_count > 3", Actions: []domain.ComplianceAction{domain.ActionSTR}, Enabled: true},
			})
		}()
	}
	wg.Wait()
}
