package core

import (
	"fmt"

	"labcore/internal/workflow"
	"labcore/pkg/domain"
)

// StageActionError is returned when the worklist's resolved stage does not
// permit the requested action.
type StageActionError struct {
	WorklistID string
	Stage      domain.WorklistStage
	Action     workflow.Action
	Reason     string
}

func (e StageActionError) Error() string {
	return fmt.Sprintf("worklist %s in stage %s cannot %s: %s", e.WorklistID, e.Stage, e.Action, e.Reason)
}

// resolve derives the current stage of a worklist from the view.
func (s *Service) resolve(view domain.TransactionView, worklistID string) (domain.Worklist, workflow.Resolution, error) {
	worklist, ok := view.FindWorklist(worklistID)
	if !ok {
		return domain.Worklist{}, workflow.Resolution{}, domain.NotFoundError{Entity: domain.EntityWorklist, ID: worklistID}
	}
	return worklist, s.resolver.Resolve(view.ListAssignments(worklistID)), nil
}

// gate resolves the stage and rejects actions it does not permit.
func (s *Service) gate(view domain.TransactionView, worklistID string, action workflow.Action) (workflow.Resolution, error) {
	_, res, err := s.resolve(view, worklistID)
	if err != nil {
		return res, err
	}
	if !res.Allows(action) {
		return res, StageActionError{
			WorklistID: worklistID,
			Stage:      res.Stage,
			Action:     action,
			Reason:     res.ReasonFor(action),
		}
	}
	return res, nil
}
