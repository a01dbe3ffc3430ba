// Package rules provides the CEL-Go based compliance rule engine that derives
// EDD, STR and SAR flags from screening matches.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates compliance rules against match facts.
type Engine struct {
	mu        sync.RWMutex
	env       *cel.Env
	mandatory []*CompiledRule
	custom    map[string]*CompiledRule
	logger    *slog.Logger
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.ComplianceRule
	Program cel.Program
}

// NewEngine creates an engine with the mandatory rules loaded.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("list_type", cel.StringType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("similarity", cel.DoubleType),
		cel.Variable("source", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("subject_risk_level", cel.StringType),
		cel.Variable("subject_risk_score", cel.DoubleType),
		cel.Variable("match_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:    env,
		custom: make(map[string]*CompiledRule),
		logger: slog.Default().With("component", "rules"),
	}

	for _, rule := range MandatoryRules() {
		compiled, err := e.compileRule(rule)
		if err != nil {
			return nil, err
		}
		e.mandatory = append(e.mandatory, compiled)
	}

	return e, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.ComplianceRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	}
	if rule.ID == "" || strings.TrimSpace(rule.Expression) == "" {
		return fmt.Errorf("%w: rule id and expression are required", domain.ErrInvalidInput)
	}
	if rule.Mandatory || isMandatoryID(rule.ID) {
		return fmt.Errorf("%w: rule %s would replace a mandatory rule", domain.ErrInvalidInput, rule.ID)
	}
	if len(rule.Actions) == 0 {
		return fmt.Errorf("%w: rule %s has no actions", domain.ErrInvalidInput, rule.ID)
	}
	for _, a := range rule.Actions {
		switch a {
		case domain.ActionEDD, domain.ActionSTR, domain.ActionSAR:
		default:
			return fmt.Errorf("%w: rule %s has unknown action %q", domain.ErrInvalidInput, rule.ID, a)
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads an operator rule. Disabled rules are removed.
func (e *Engine) LoadRule(rule *domain.ComplianceRule) error {
	if err := e.ValidateRule(rule); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !rule.Enabled {
		delete(e.custom, rule.ID)
		return nil
	}

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}
	e.custom[rule.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(rules []*domain.ComplianceRule) error {
	for _, rule := range rules {
		if err := e.LoadRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRules replaces every operator rule. Mandatory rules are untouched.
// On error the previous rule set stays loaded.
func (e *Engine) ReloadRules(rules []*domain.ComplianceRule) error {
	next := make(map[string]*CompiledRule)
	for _, rule := range rules {
		if err := e.ValidateRule(rule); err != nil {
			return err
		}
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	e.mu.Lock()
	e.custom = next
	e.mu.Unlock()

	return nil
}

// Evaluate returns the flags required by one match. Mandatory rules always
// run; operator rules stop once ctx is done.
func (e *Engine) Evaluate(ctx context.Context, facts domain.MatchFacts) domain.ComplianceFlags {
	activation := map[string]any{
		"list_type":          string(facts.ListType),
		"risk_level":         string(facts.RiskLevel),
		"similarity":         facts.Similarity,
		"source":             facts.Source,
		"category":           facts.Category,
		"subject_risk_level": string(facts.SubjectRiskLevel),
		"subject_risk_score": facts.SubjectRiskScore,
		"match_count":        int64(facts.MatchCount),
	}

	mandatory, custom := e.snapshot()

	var flags domain.ComplianceFlags
	for _, rule := range mandatory {
		flags.Merge(e.eval(rule, activation))
	}
	for _, rule := range custom {
		if ctx.Err() != nil {
			e.logger.Debug("operator rules skipped", "error", ctx.Err())
			break
		}
		flags.Merge(e.eval(rule, activation))
	}
	return flags
}

func (e *Engine) eval(rule *CompiledRule, activation map[string]any) domain.ComplianceFlags {
	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		e.logger.Warn("rule evaluation failed",
			"rule_id", rule.Rule.ID,
			"error", err,
		)
		return domain.ComplianceFlags{}
	}
	if v, ok := out.(types.Bool); !ok || !bool(v) {
		return domain.ComplianceFlags{}
	}
	return flagsFor(rule.Rule.Actions)
}

// Rules returns the mandatory rules followed by operator rules ordered by name.
func (e *Engine) Rules() []*domain.ComplianceRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.ComplianceRule, 0, len(e.mandatory)+len(e.custom))
	for _, r := range e.mandatory {
		out = append(out, r.Rule)
	}
	custom := make([]*domain.ComplianceRule, 0, len(e.custom))
	for _, r := range e.custom {
		custom = append(custom, r.Rule)
	}
	slices.SortFunc(custom, func(a, b *domain.ComplianceRule) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return append(out, custom...)
}

// RulesCount returns the number of loaded rules, mandatory included.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.mandatory) + len(e.custom)
}

func (e *Engine) snapshot() (mandatory, custom []*CompiledRule) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	custom = make([]*CompiledRule, 0, len(e.custom))
	for _, r := range e.custom {
		custom = append(custom, r)
	}
	return e.mandatory, custom
}

func (e *Engine) compileRule(rule *domain.ComplianceRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %v", domain.ErrInvalidInput, rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, got %s", domain.ErrInvalidInput, rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}

func flagsFor(actions []domain.ComplianceAction) domain.ComplianceFlags {
	var f domain.ComplianceFlags
	for _, a := range actions {
		switch a {
		case domain.ActionEDD:
			f.RequiresEDD = true
		case domain.ActionSTR:
			f.RequiresSTR = true
		case domain.ActionSAR:
			f.RequiresSAR = true
		}
	}
	return f
}
