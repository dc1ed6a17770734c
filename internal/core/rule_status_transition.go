package core

import (
	"context"
	"fmt"

	"labcore/internal/status"
	"labcore/pkg/domain"
)

const statusTransitionRuleName = "status_transition"

// StatusTransitionRule blocks technique status changes that the technique
// status domain does not permit, and statuses the domain does not declare.
func StatusTransitionRule(v *status.Validator) domain.Rule {
	return statusTransitionRule{validator: v, domain: status.DomainTechnique}
}

type statusTransitionRule struct {
	validator *status.Validator
	domain    string
}

func (statusTransitionRule) Name() string { return statusTransitionRuleName }

func (r statusTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityAssignment {
			continue
		}
		after, ok := domain.DecodeChangePayload[domain.TechniqueAssignment](change.After)
		if !ok {
			continue
		}
		next := string(after.Status)
		if !r.validator.Exists(r.domain, next) {
			res.Violations = append(res.Violations, r.violation(after, fmt.Sprintf("technique %s is set to undeclared status %s", after.TechniqueID, next)))
			continue
		}
		before, ok := domain.DecodeChangePayload[domain.TechniqueAssignment](change.Before)
		if !ok || before.Status == after.Status {
			continue
		}
		if !r.validator.IsValidTransition(r.domain, string(before.Status), next) {
			res.Violations = append(res.Violations, r.violation(after, fmt.Sprintf("technique %s cannot move from %s to %s", after.TechniqueID, before.Status, next)))
		}
	}
	return res, nil
}

func (statusTransitionRule) violation(a domain.TechniqueAssignment, msg string) domain.Violation {
	return domain.Violation{
		Rule:     statusTransitionRuleName,
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   domain.EntityAssignment,
		EntityID: a.ID,
	}
}
