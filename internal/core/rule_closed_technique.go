package core

import (
	"context"
	"fmt"

	"labcore/internal/status"
	"labcore/pkg/domain"
)

const closedTechniqueRuleName = "closed_technique_activity"

// ClosedTechniqueRule blocks lot and result writes against techniques whose
// status is terminal in the technique domain.
func ClosedTechniqueRule(v *status.Validator) domain.Rule {
	return closedTechniqueRule{validator: v}
}

type closedTechniqueRule struct {
	validator *status.Validator
}

func (closedTechniqueRule) Name() string { return closedTechniqueRuleName }

func (r closedTechniqueRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		var (
			id  string
			ref domain.ParentRef
		)
		switch change.Entity {
		case domain.EntityLot:
			lot, ok := domain.DecodeChangePayload[domain.TechniqueLot](change.After)
			if !ok {
				continue
			}
			id, ref = lot.ID, domain.ParentRef{WorklistID: lot.WorklistID, TechniqueID: lot.TechniqueID}
		case domain.EntityResult:
			result, ok := domain.DecodeChangePayload[domain.TechniqueResult](change.After)
			if !ok {
				continue
			}
			id, ref = result.ID, domain.ParentRef{WorklistID: result.WorklistID, TechniqueID: result.TechniqueID}
		default:
			continue
		}
		for _, a := range view.ListAssignments(ref.WorklistID) {
			if a.TechniqueID != ref.TechniqueID {
				continue
			}
			// Unknown statuses are left to the status transition rule.
			if r.validator.Exists(status.DomainTechnique, string(a.Status)) && r.validator.IsTerminal(status.DomainTechnique, string(a.Status)) {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     closedTechniqueRuleName,
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("technique %s is %s and accepts no further %s records", ref, a.Status, change.Entity),
					Entity:   change.Entity,
					EntityID: id,
				})
			}
		}
	}
	return res, nil
}
