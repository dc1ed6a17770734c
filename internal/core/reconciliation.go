package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"labcore/internal/blob"
	"labcore/internal/reconcile"
	"labcore/internal/workflow"
	"labcore/pkg/domain"
)

// LotFields are the mutable values of a reagent lot line.
type LotFields struct {
	LotCode string   `json:"lot_code"`
	Volume  *float64 `json:"volume,omitempty"`
	Unit    string   `json:"unit,omitempty"`
}

// ResultFields are the mutable values of a result line.
type ResultFields struct {
	NumericValue *float64   `json:"numeric_value,omitempty"`
	TextValue    *string    `json:"text_value,omitempty"`
	DateValue    *time.Time `json:"date_value,omitempty"`
	TypeTag      *string    `json:"type_tag,omitempty"`
}

// ReconcileLots upserts a batch of lot lines for one worklist. Each line is
// its own transaction; a failed line never rolls back the others. The batch
// is refused up front when the worklist's stage does not permit lot changes.
func (s *Service) ReconcileLots(ctx context.Context, worklistID string, items []reconcile.Item[LotFields]) (reconcile.Result, error) {
	return reconcileBatch(ctx, s, opReconcileLots, "lots", worklistID, workflow.ActionManageLots, lotUpserter{svc: s, worklistID: worklistID}, items)
}

// ReconcileResults upserts a batch of result lines for one worklist.
func (s *Service) ReconcileResults(ctx context.Context, worklistID string, items []reconcile.Item[ResultFields]) (reconcile.Result, error) {
	return reconcileBatch(ctx, s, opReconcileResults, "results", worklistID, workflow.ActionImportResults, resultUpserter{svc: s, worklistID: worklistID}, items)
}

func reconcileBatch[F any](ctx context.Context, s *Service, op, kind, worklistID string, action workflow.Action, store reconcile.Store[F], items []reconcile.Item[F]) (reconcile.Result, error) {
	var res reconcile.Result
	err := s.run(ctx, op, func(ctx context.Context) (string, error) {
		if err := s.store.View(ctx, func(view domain.TransactionView) error {
			_, err := s.gate(view, worklistID, action)
			return err
		}); err != nil {
			return worklistID, err
		}
		res = reconcile.Reconcile(ctx, store, items)
		s.logger.Info("batch reconciled", "operation", op, "worklist_id", worklistID,
			"created", res.Created, "updated", res.Updated, "failed", res.Failed)
		if !res.Success() {
			s.logger.Warn("batch has failed items", "operation", op, "worklist_id", worklistID, "indexes", res.FailedIndexes())
		}
		s.archiveReport(ctx, kind, worklistID, res)
		return worklistID, nil
	})
	return res, err
}

// wrongWorklist rejects a line that points at another worklist.
func wrongWorklist(entity domain.EntityType, want, got string) error {
	return domain.ConstraintError{Entity: entity, Reason: fmt.Sprintf("line belongs to worklist %s, batch targets %s", got, want)}
}

type lotUpserter struct {
	svc        *Service
	worklistID string
}

func (u lotUpserter) Create(ctx context.Context, parent domain.ParentRef, fields LotFields) (string, error) {
	if parent.WorklistID != u.worklistID {
		return "", wrongWorklist(domain.EntityLot, u.worklistID, parent.WorklistID)
	}
	var created domain.TechniqueLot
	_, err := u.svc.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateLot(domain.TechniqueLot{
			WorklistID:  parent.WorklistID,
			TechniqueID: parent.TechniqueID,
			LotCode:     fields.LotCode,
			Volume:      fields.Volume,
			Unit:        fields.Unit,
		})
		return err
	})
	return created.ID, err
}

func (u lotUpserter) Update(ctx context.Context, id string, fields LotFields) error {
	_, err := u.svc.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		current, ok := tx.Snapshot().FindLot(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityLot, ID: id}
		}
		if current.WorklistID != u.worklistID {
			return wrongWorklist(domain.EntityLot, u.worklistID, current.WorklistID)
		}
		_, err := tx.UpdateLot(id, func(l *domain.TechniqueLot) error {
			l.LotCode = fields.LotCode
			l.Volume = fields.Volume
			l.Unit = fields.Unit
			return nil
		})
		return err
	})
	return err
}

type resultUpserter struct {
	svc        *Service
	worklistID string
}

func (u resultUpserter) Create(ctx context.Context, parent domain.ParentRef, fields ResultFields) (string, error) {
	if parent.WorklistID != u.worklistID {
		return "", wrongWorklist(domain.EntityResult, u.worklistID, parent.WorklistID)
	}
	var created domain.TechniqueResult
	_, err := u.svc.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateResult(fields.apply(domain.TechniqueResult{
			WorklistID:  parent.WorklistID,
			TechniqueID: parent.TechniqueID,
		}))
		return err
	})
	return created.ID, err
}

func (u resultUpserter) Update(ctx context.Context, id string, fields ResultFields) error {
	_, err := u.svc.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		found := false
		for _, r := range tx.Snapshot().ListResults(u.worklistID) {
			if r.ID == id {
				found = true
				break
			}
		}
		if !found {
			return domain.NotFoundError{Entity: domain.EntityResult, ID: id}
		}
		_, err := tx.UpdateResult(id, func(r *domain.TechniqueResult) error {
			*r = fields.apply(*r)
			return nil
		})
		return err
	})
	return err
}

func (f ResultFields) apply(r domain.TechniqueResult) domain.TechniqueResult {
	r.NumericValue = f.NumericValue
	r.TextValue = f.TextValue
	r.DateValue = f.DateValue
	r.TypeTag = f.TypeTag
	return r
}

// ReconciliationReport is the archived record of one batch.
type ReconciliationReport struct {
	Kind       string           `json:"kind"`
	WorklistID string           `json:"worklist_id"`
	RecordedAt time.Time        `json:"recorded_at"`
	Result     reconcile.Result `json:"result"`
}

// ReportKey returns the archive key of a batch report.
func ReportKey(worklistID, kind string, at time.Time) string {
	return fmt.Sprintf("reconciliations/%s/%s-%s.json", worklistID, kind, at.UTC().Format("20060102T150405.000000000Z"))
}

// archiveReport writes the batch report when an archive is configured.
// Archive failures are logged and never fail the batch.
func (s *Service) archiveReport(ctx context.Context, kind, worklistID string, res reconcile.Result) {
	if s.archive == nil {
		return
	}
	report := ReconciliationReport{Kind: kind, WorklistID: worklistID, RecordedAt: s.now(), Result: res}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		s.logger.Warn("encode reconciliation report", "worklist_id", worklistID, "error", err)
		return
	}
	key := ReportKey(worklistID, kind, report.RecordedAt)
	if _, err := s.archive.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"worklist": worklistID, "kind": kind},
	}); err != nil {
		s.logger.Warn("archive reconciliation report", "key", key, "error", err)
		return
	}
	s.logger.Debug("reconciliation report archived", "key", key)
}
