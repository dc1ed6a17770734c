package domain

import (
	"context"
	"fmt"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if err.Error() == "" {
		t.Fatalf("expected error string")
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type emptyView struct{}

func (emptyView) ListWorklists() []Worklist                         { return nil }
func (emptyView) FindWorklist(string) (Worklist, bool)              { return Worklist{}, false }
func (emptyView) ListAssignments(string) []TechniqueAssignment      { return nil }
func (emptyView) FindAssignment(string) (TechniqueAssignment, bool) { return TechniqueAssignment{}, false }
func (emptyView) ListLots(string) []TechniqueLot                    { return nil }
func (emptyView) FindLot(string) (TechniqueLot, bool)               { return TechniqueLot{}, false }
func (emptyView) ListResults(string) []TechniqueResult              { return nil }

func TestRuleViolationErrorMentionsFirstBlockingMessage(t *testing.T) {
	err := RuleViolationError{Result: Result{Violations: []Violation{
		{Rule: "a", Severity: SeverityWarn, Message: "just a warning"},
		{Rule: "b", Severity: SeverityBlock, Message: "technique t1 cannot move"},
	}}}
	if got := err.Error(); got != "transaction blocked by rules: technique t1 cannot move" {
		t.Fatalf("unexpected error text: %q", got)
	}
	if got := (RuleViolationError{}).Error(); got != "transaction blocked by rules" {
		t.Fatalf("unexpected error text for empty result: %q", got)
	}
}

func TestRulesEngineRulesReturnsCopy(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"one"})
	rules := engine.Rules()
	rules[0] = staticRule{"mutated"}
	if engine.Rules()[0].Name() != "one" {
		t.Fatalf("expected Rules to return a copy")
	}
}

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}
