package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateWorklist(Worklist) (Worklist, error)
	UpdateWorklist(id string, mutator func(*Worklist) error) (Worklist, error)
	CreateAssignment(TechniqueAssignment) (TechniqueAssignment, error)
	UpdateAssignment(id string, mutator func(*TechniqueAssignment) error) (TechniqueAssignment, error)
	CreateLot(TechniqueLot) (TechniqueLot, error)
	UpdateLot(id string, mutator func(*TechniqueLot) error) (TechniqueLot, error)
	CreateResult(TechniqueResult) (TechniqueResult, error)
	UpdateResult(id string, mutator func(*TechniqueResult) error) (TechniqueResult, error)
	FindWorklist(id string) (Worklist, bool)
	FindAssignmentByParent(ref ParentRef) (TechniqueAssignment, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListWorklists() []Worklist
	FindWorklist(id string) (Worklist, bool)
	ListAssignments(worklistID string) []TechniqueAssignment
	FindAssignment(id string) (TechniqueAssignment, bool)
	ListLots(worklistID string) []TechniqueLot
	FindLot(id string) (TechniqueLot, bool)
	ListResults(worklistID string) []TechniqueResult
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetWorklist(id string) (Worklist, bool)
	ListWorklists() []Worklist
	ListAssignments(worklistID string) []TechniqueAssignment
	ListLots(worklistID string) []TechniqueLot
}
