package core

import (
	"context"
	"errors"
	"strings"

	"labcore/internal/status"
	"labcore/internal/workflow"
	"labcore/pkg/domain"
)

// WorklistDetail is a worklist with its children and derived stage.
type WorklistDetail struct {
	Worklist    domain.Worklist              `json:"worklist"`
	Assignments []domain.TechniqueAssignment `json:"assignments"`
	Lots        []domain.TechniqueLot        `json:"lots"`
	Stage       workflow.Resolution          `json:"stage"`
	Reasons     map[workflow.Action]string   `json:"reasons,omitempty"`
}

// CreateWorklist persists a new worklist.
func (s *Service) CreateWorklist(ctx context.Context, worklist domain.Worklist) (domain.Worklist, domain.Result, error) {
	var (
		created domain.Worklist
		res     domain.Result
	)
	err := s.run(ctx, opCreateWorklist, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			created, err = tx.CreateWorklist(worklist)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// AddTechnique schedules a technique on a worklist. Scheduling is part of
// staffing the worklist, so it is permitted only while technicians can still
// be assigned.
func (s *Service) AddTechnique(ctx context.Context, worklistID, techniqueID string) (domain.TechniqueAssignment, domain.Result, error) {
	var (
		created domain.TechniqueAssignment
		res     domain.Result
	)
	err := s.run(ctx, opAddTechnique, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if _, err := s.gate(tx.Snapshot(), worklistID, workflow.ActionAssignTechnician); err != nil {
				return err
			}
			created, err = tx.CreateAssignment(domain.TechniqueAssignment{
				WorklistID:  worklistID,
				TechniqueID: techniqueID,
				Status:      domain.TechniqueStatusPending,
			})
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// Worklist returns a worklist with its children and resolved stage.
func (s *Service) Worklist(ctx context.Context, worklistID string) (WorklistDetail, error) {
	var detail WorklistDetail
	err := s.run(ctx, opGetWorklist, func(ctx context.Context) (string, error) {
		return worklistID, s.store.View(ctx, func(view domain.TransactionView) error {
			worklist, res, err := s.resolve(view, worklistID)
			if err != nil {
				return err
			}
			detail = WorklistDetail{
				Worklist:    worklist,
				Assignments: view.ListAssignments(worklistID),
				Lots:        view.ListLots(worklistID),
				Stage:       res,
				Reasons:     res.Reasons(),
			}
			return nil
		})
	})
	return detail, err
}

// ResolveStage derives the stage of a worklist from its current children. The
// stage is never stored.
func (s *Service) ResolveStage(ctx context.Context, worklistID string) (workflow.Resolution, error) {
	var res workflow.Resolution
	err := s.run(ctx, opResolveStage, func(ctx context.Context) (string, error) {
		return worklistID, s.store.View(ctx, func(view domain.TransactionView) error {
			var err error
			_, res, err = s.resolve(view, worklistID)
			return err
		})
	})
	return res, err
}

// AssignTechnician assigns the technician to the listed techniques of the
// worklist, or to every technique when none are listed.
func (s *Service) AssignTechnician(ctx context.Context, worklistID string, technician domain.Assignee, techniqueIDs ...string) ([]domain.TechniqueAssignment, domain.Result, error) {
	var (
		updated []domain.TechniqueAssignment
		res     domain.Result
	)
	err := s.run(ctx, opAssignTechnician, func(ctx context.Context) (string, error) {
		if !technician.Assigned() {
			return worklistID, errors.New("technician requires an identifier or a name")
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if _, err := s.gate(tx.Snapshot(), worklistID, workflow.ActionAssignTechnician); err != nil {
				return err
			}
			targets, err := selectAssignments(tx, worklistID, techniqueIDs)
			if err != nil {
				return err
			}
			updated = make([]domain.TechniqueAssignment, 0, len(targets))
			for _, target := range targets {
				a, err := tx.UpdateAssignment(target.ID, func(a *domain.TechniqueAssignment) error {
					a.Technician = technician
					return nil
				})
				if err != nil {
					return err
				}
				updated = append(updated, a)
			}
			return nil
		})
		return worklistID, err
	})
	return updated, res, err
}

// StartTechniques marks every pending technique of the worklist as in process.
// Techniques already in a terminal status keep it; their start code still
// records that the worklist run began so the stage can advance.
func (s *Service) StartTechniques(ctx context.Context, worklistID string) ([]domain.TechniqueAssignment, domain.Result, error) {
	var (
		updated []domain.TechniqueAssignment
		res     domain.Result
	)
	err := s.run(ctx, opStartTechniques, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if _, err := s.gate(tx.Snapshot(), worklistID, workflow.ActionStartTechniques); err != nil {
				return err
			}
			targets := tx.Snapshot().ListAssignments(worklistID)
			updated = make([]domain.TechniqueAssignment, 0, len(targets))
			for _, target := range targets {
				closed := s.validator.IsTerminal(status.DomainTechnique, string(target.Status))
				if closed && target.StartCode != domain.StartCodeNotStarted {
					updated = append(updated, target)
					continue
				}
				a, err := tx.UpdateAssignment(target.ID, func(a *domain.TechniqueAssignment) error {
					a.StartCode = domain.StartCodeInProcess
					if !closed {
						a.Status = domain.TechniqueStatusInProcess
					}
					return nil
				})
				if err != nil {
					return err
				}
				updated = append(updated, a)
			}
			return nil
		})
		return worklistID, err
	})
	return updated, res, err
}

// UpdateTechniqueStatus moves one technique to a new status. The status
// transition rule rejects moves the technique domain does not allow. Starting
// a technique is gated like StartTechniques and sets the in-process start
// code; later moves leave the start code alone so the worklist stage never
// falls back.
func (s *Service) UpdateTechniqueStatus(ctx context.Context, assignmentID string, next domain.TechniqueStatus) (domain.TechniqueAssignment, domain.Result, error) {
	var (
		updated domain.TechniqueAssignment
		res     domain.Result
	)
	err := s.run(ctx, opUpdateTechniqueState, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.Snapshot().FindAssignment(assignmentID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityAssignment, ID: assignmentID}
			}
			starting := next == domain.TechniqueStatusInProcess && current.Status != next
			if starting {
				if _, err := s.gate(tx.Snapshot(), current.WorklistID, workflow.ActionStartTechniques); err != nil {
					return err
				}
			}
			updated, err = tx.UpdateAssignment(assignmentID, func(a *domain.TechniqueAssignment) error {
				a.Status = next
				if starting {
					a.StartCode = domain.StartCodeInProcess
				}
				return nil
			})
			return err
		})
		return assignmentID, err
	})
	return updated, res, err
}

// SetTemplate attaches a report template to the worklist.
func (s *Service) SetTemplate(ctx context.Context, worklistID, templateID string) (domain.Worklist, domain.Result, error) {
	var (
		updated domain.Worklist
		res     domain.Result
	)
	err := s.run(ctx, opSetTemplate, func(ctx context.Context) (string, error) {
		if strings.TrimSpace(templateID) == "" {
			return worklistID, errors.New("template id required")
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if _, err := s.gate(tx.Snapshot(), worklistID, workflow.ActionManageTemplate); err != nil {
				return err
			}
			updated, err = tx.UpdateWorklist(worklistID, func(w *domain.Worklist) error {
				w.TemplateID = &templateID
				return nil
			})
			return err
		})
		return worklistID, err
	})
	return updated, res, err
}

// TechniqueStatusCounts reports how many techniques of the worklist are in
// each technique status, one row per declared status.
func (s *Service) TechniqueStatusCounts(ctx context.Context, worklistID string) ([]status.StateCount, error) {
	var rows []status.StateCount
	err := s.run(ctx, opStatusCounts, func(ctx context.Context) (string, error) {
		return worklistID, s.store.View(ctx, func(view domain.TransactionView) error {
			if _, ok := view.FindWorklist(worklistID); !ok {
				return domain.NotFoundError{Entity: domain.EntityWorklist, ID: worklistID}
			}
			counts := status.CountByState(view.ListAssignments(worklistID), assignmentStatus)
			rows = status.DenseCounts(s.validator.Registry(), status.DomainTechnique, counts)
			return nil
		})
	})
	return rows, err
}

// AssignmentsByPriority lists the worklist's techniques ordered by status
// priority, optionally restricted to the given statuses.
func (s *Service) AssignmentsByPriority(ctx context.Context, worklistID string, include ...domain.TechniqueStatus) ([]domain.TechniqueAssignment, error) {
	var out []domain.TechniqueAssignment
	err := s.run(ctx, opAssignmentsByStatus, func(ctx context.Context) (string, error) {
		return worklistID, s.store.View(ctx, func(view domain.TransactionView) error {
			if _, ok := view.FindWorklist(worklistID); !ok {
				return domain.NotFoundError{Entity: domain.EntityWorklist, ID: worklistID}
			}
			opts := status.FilterOptions{Order: status.OrderPriority}
			if len(include) > 0 {
				opts.Include = make([]string, len(include))
				for i, st := range include {
					opts.Include[i] = string(st)
				}
			}
			out = status.FilterAndSort(s.validator, status.DomainTechnique, view.ListAssignments(worklistID), assignmentStatus, opts)
			return nil
		})
	})
	return out, err
}

func assignmentStatus(a domain.TechniqueAssignment) string { return string(a.Status) }

func selectAssignments(tx domain.Transaction, worklistID string, techniqueIDs []string) ([]domain.TechniqueAssignment, error) {
	if len(techniqueIDs) == 0 {
		return tx.Snapshot().ListAssignments(worklistID), nil
	}
	out := make([]domain.TechniqueAssignment, 0, len(techniqueIDs))
	for _, techniqueID := range techniqueIDs {
		ref := domain.ParentRef{WorklistID: worklistID, TechniqueID: techniqueID}
		a, ok := tx.FindAssignmentByParent(ref)
		if !ok {
			return nil, domain.NotFoundError{Entity: domain.EntityAssignment, ID: ref.String()}
		}
		out = append(out, a)
	}
	return out, nil
}
