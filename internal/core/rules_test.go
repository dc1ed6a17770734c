package core

import (
	"context"
	"strings"
	"testing"

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/status"
	"labcore/pkg/domain"
)

func defaultValidator(t *testing.T) *status.Validator {
	t.Helper()
	v, err := DefaultStatusValidator()
	if err != nil {
		t.Fatalf("default validator: %v", err)
	}
	return v
}

func assignmentChange(before *domain.TechniqueAssignment, after domain.TechniqueAssignment) domain.Change {
	change := domain.Change{Entity: domain.EntityAssignment, Action: domain.ActionCreate, After: domain.MustChangePayload(after)}
	if before != nil {
		change.Action = domain.ActionUpdate
		change.Before = domain.MustChangePayload(*before)
	}
	return change
}

func TestStatusTransitionRule(t *testing.T) {
	ctx := context.Background()
	rule := StatusTransitionRule(defaultValidator(t))
	if rule.Name() != statusTransitionRuleName {
		t.Fatalf("unexpected rule name %s", rule.Name())
	}
	pending := domain.TechniqueAssignment{Base: domain.Base{ID: "a1"}, TechniqueID: "glucose", Status: domain.TechniqueStatusPending}
	with := func(st domain.TechniqueStatus) domain.TechniqueAssignment {
		a := pending
		a.Status = st
		return a
	}

	cases := []struct {
		name    string
		change  domain.Change
		blocked bool
		message string
	}{
		{name: "create pending", change: assignmentChange(nil, pending)},
		{name: "create undeclared", change: assignmentChange(nil, with("lost")), blocked: true, message: "undeclared status lost"},
		{name: "pending to in process", change: assignmentChange(&pending, with(domain.TechniqueStatusInProcess))},
		{name: "pending to completed", change: assignmentChange(&pending, with(domain.TechniqueStatusCompleted)), blocked: true, message: "cannot move from pending to completed"},
		{name: "unchanged status", change: assignmentChange(&pending, pending)},
		{name: "other entity", change: domain.Change{Entity: domain.EntityLot, After: domain.MustChangePayload(domain.TechniqueLot{})}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := rule.Evaluate(ctx, nil, []domain.Change{tc.change})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if res.HasBlocking() != tc.blocked {
				t.Fatalf("expected blocked=%v, got %+v", tc.blocked, res.Violations)
			}
			if tc.blocked && !strings.Contains(res.Violations[0].Message, tc.message) {
				t.Fatalf("expected message containing %q, got %q", tc.message, res.Violations[0].Message)
			}
			if tc.blocked && res.Violations[0].EntityID != "a1" {
				t.Fatalf("expected violation to name the assignment, got %+v", res.Violations[0])
			}
		})
	}
}

func TestClosedTechniqueRule(t *testing.T) {
	ctx := context.Background()
	v := defaultValidator(t)
	rule := ClosedTechniqueRule(v)
	if rule.Name() != closedTechniqueRuleName {
		t.Fatalf("unexpected rule name %s", rule.Name())
	}

	store := memory.NewStore(domain.NewRulesEngine())
	var worklistID string
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		w, err := tx.CreateWorklist(domain.Worklist{Name: "bench"})
		if err != nil {
			return err
		}
		worklistID = w.ID
		for technique, st := range map[string]domain.TechniqueStatus{
			"glucose": domain.TechniqueStatusInProcess,
			"urea":    domain.TechniqueStatusCompleted,
			"albumin": domain.TechniqueStatus("lost"),
		} {
			if _, err := tx.CreateAssignment(domain.TechniqueAssignment{WorklistID: w.ID, TechniqueID: technique, Status: st}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	lotFor := func(technique string) domain.Change {
		return domain.Change{Entity: domain.EntityLot, Action: domain.ActionCreate, After: domain.MustChangePayload(domain.TechniqueLot{
			Base: domain.Base{ID: "lot-" + technique}, WorklistID: worklistID, TechniqueID: technique, LotCode: "L",
		})}
	}
	resultFor := func(technique string) domain.Change {
		return domain.Change{Entity: domain.EntityResult, Action: domain.ActionCreate, After: domain.MustChangePayload(domain.TechniqueResult{
			Base: domain.Base{ID: "res-" + technique}, WorklistID: worklistID, TechniqueID: technique, TextValue: strPtr("pos"),
		})}
	}

	_ = store.View(ctx, func(view domain.TransactionView) error {
		cases := []struct {
			name    string
			change  domain.Change
			blocked bool
		}{
			{name: "lot on running technique", change: lotFor("glucose")},
			{name: "lot on completed technique", change: lotFor("urea"), blocked: true},
			{name: "result on completed technique", change: resultFor("urea"), blocked: true},
			{name: "lot on undeclared status", change: lotFor("albumin")},
			{name: "assignment change ignored", change: assignmentChange(nil, domain.TechniqueAssignment{})},
		}
		for _, tc := range cases {
			res, err := rule.Evaluate(ctx, view, []domain.Change{tc.change})
			if err != nil {
				t.Fatalf("%s: evaluate: %v", tc.name, err)
			}
			if res.HasBlocking() != tc.blocked {
				t.Fatalf("%s: expected blocked=%v, got %+v", tc.name, tc.blocked, res.Violations)
			}
		}
		return nil
	})
}

func TestNewDefaultRulesEngineRegistersRules(t *testing.T) {
	engine := NewDefaultRulesEngine(defaultValidator(t))
	var names []string
	for _, rule := range engine.Rules() {
		names = append(names, rule.Name())
	}
	if strings.Join(names, ",") != statusTransitionRuleName+","+closedTechniqueRuleName {
		t.Fatalf("unexpected rules %v", names)
	}
}
