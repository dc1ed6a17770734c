// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"labcore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	Worklist        = domain.Worklist
	Assignment      = domain.TechniqueAssignment
	Lot             = domain.TechniqueLot
	TechniqueResult = domain.TechniqueResult
	Change          = domain.Change
	Result          = domain.Result
	RulesEngine     = domain.RulesEngine
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
)

type memoryState struct {
	worklists   map[string]Worklist
	assignments map[string]Assignment
	lots        map[string]Lot
	results     map[string]TechniqueResult
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Worklists   map[string]Worklist        `json:"worklists"`
	Assignments map[string]Assignment      `json:"assignments"`
	Lots        map[string]Lot             `json:"lots"`
	Results     map[string]TechniqueResult `json:"results"`
}

func newMemoryState() memoryState {
	return memoryState{
		worklists:   make(map[string]Worklist),
		assignments: make(map[string]Assignment),
		lots:        make(map[string]Lot),
		results:     make(map[string]TechniqueResult),
	}
}

func (s memoryState) clone() memoryState {
	cp := newMemoryState()
	for k, v := range s.worklists {
		cp.worklists[k] = cloneWorklist(v)
	}
	for k, v := range s.assignments {
		cp.assignments[k] = cloneAssignment(v)
	}
	for k, v := range s.lots {
		cp.lots[k] = cloneLot(v)
	}
	for k, v := range s.results {
		cp.results[k] = cloneResult(v)
	}
	return cp
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cp := state.clone()
	return Snapshot{
		Worklists:   cp.worklists,
		Assignments: cp.assignments,
		Lots:        cp.lots,
		Results:     cp.results,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		worklists:   s.Worklists,
		assignments: s.Assignments,
		lots:        s.Lots,
		results:     s.Results,
	}
	if state.worklists == nil {
		state.worklists = map[string]Worklist{}
	}
	if state.assignments == nil {
		state.assignments = map[string]Assignment{}
	}
	if state.lots == nil {
		state.lots = map[string]Lot{}
	}
	if state.results == nil {
		state.results = map[string]TechniqueResult{}
	}
	return state.clone()
}

func cloneWorklist(w Worklist) Worklist {
	if w.TemplateID != nil {
		id := *w.TemplateID
		w.TemplateID = &id
	}
	return w
}

// cloneAssignment drops decorated results; they live in their own bucket.
func cloneAssignment(a Assignment) Assignment {
	a.Results = nil
	return a
}

func cloneLot(l Lot) Lot {
	if l.Volume != nil {
		v := *l.Volume
		l.Volume = &v
	}
	return l
}

func cloneResult(r TechniqueResult) TechniqueResult {
	if r.NumericValue != nil {
		v := *r.NumericValue
		r.NumericValue = &v
	}
	if r.TextValue != nil {
		v := *r.TextValue
		r.TextValue = &v
	}
	if r.DateValue != nil {
		v := *r.DateValue
		r.DateValue = &v
	}
	if r.TypeTag != nil {
		v := *r.TypeTag
		r.TypeTag = &v
	}
	return r
}

func assignmentResults(state *memoryState, ref domain.ParentRef) []TechniqueResult {
	var out []TechniqueResult
	for _, r := range state.results {
		if r.WorklistID == ref.WorklistID && r.TechniqueID == ref.TechniqueID {
			out = append(out, cloneResult(r))
		}
	}
	sortResults(out)
	return out
}

func decorateAssignment(state *memoryState, a Assignment) Assignment {
	a = cloneAssignment(a)
	a.Results = assignmentResults(state, a.Parent())
	return a
}

func sortResults(results []TechniqueResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].TechniqueID != results[j].TechniqueID {
			return results[i].TechniqueID < results[j].TechniqueID
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.Before(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListWorklists() []Worklist {
	out := make([]Worklist, 0, len(v.state.worklists))
	for _, w := range v.state.worklists {
		out = append(out, cloneWorklist(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) FindWorklist(id string) (Worklist, bool) {
	w, ok := v.state.worklists[id]
	if !ok {
		return Worklist{}, false
	}
	return cloneWorklist(w), true
}

// ListAssignments returns the worklist's assignments ordered by technique,
// each decorated with its results.
func (v transactionView) ListAssignments(worklistID string) []Assignment {
	out := make([]Assignment, 0)
	for _, a := range v.state.assignments {
		if a.WorklistID == worklistID {
			out = append(out, decorateAssignment(v.state, a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TechniqueID < out[j].TechniqueID })
	return out
}

func (v transactionView) FindAssignment(id string) (Assignment, bool) {
	a, ok := v.state.assignments[id]
	if !ok {
		return Assignment{}, false
	}
	return decorateAssignment(v.state, a), true
}

func (v transactionView) ListLots(worklistID string) []Lot {
	out := make([]Lot, 0)
	for _, l := range v.state.lots {
		if l.WorklistID == worklistID {
			out = append(out, cloneLot(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TechniqueID != out[j].TechniqueID {
			return out[i].TechniqueID < out[j].TechniqueID
		}
		return out[i].LotCode < out[j].LotCode
	})
	return out
}

func (v transactionView) FindLot(id string) (Lot, bool) {
	l, ok := v.state.lots[id]
	if !ok {
		return Lot{}, false
	}
	return cloneLot(l), true
}

func (v transactionView) ListResults(worklistID string) []TechniqueResult {
	out := make([]TechniqueResult, 0)
	for _, r := range v.state.results {
		if r.WorklistID == worklistID {
			out = append(out, cloneResult(r))
		}
	}
	sortResults(out)
	return out
}

// RunInTransaction applies fn to a cloned state, evaluates rules over the
// recorded changes and commits only when no blocking violation is reported.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the committed state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

// GetWorklist returns a worklist by id.
func (s *Store) GetWorklist(id string) (Worklist, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindWorklist(id)
}

// ListWorklists returns every worklist ordered by id.
func (s *Store) ListWorklists() []Worklist {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListWorklists()
}

// ListAssignments returns the worklist's assignments decorated with results.
func (s *Store) ListAssignments(worklistID string) []Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListAssignments(worklistID)
}

// ListLots returns the worklist's lots.
func (s *Store) ListLots(worklistID string) []Lot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListLots(worklistID)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindWorklist(id string) (Worklist, bool) {
	return newTransactionView(&tx.state).FindWorklist(id)
}

func (tx *transaction) FindAssignmentByParent(ref domain.ParentRef) (Assignment, bool) {
	for _, a := range tx.state.assignments {
		if a.WorklistID == ref.WorklistID && a.TechniqueID == ref.TechniqueID {
			return decorateAssignment(&tx.state, a), true
		}
	}
	return Assignment{}, false
}

func (tx *transaction) CreateWorklist(w Worklist) (Worklist, error) {
	if w.ID == "" {
		w.ID = tx.store.newID()
	}
	if _, exists := tx.state.worklists[w.ID]; exists {
		return Worklist{}, domain.ConstraintError{Entity: domain.EntityWorklist, Reason: fmt.Sprintf("worklist %q already exists", w.ID)}
	}
	if strings.TrimSpace(w.Name) == "" {
		return Worklist{}, errors.New("worklist requires name")
	}
	w.CreatedAt = tx.now
	w.UpdatedAt = tx.now
	tx.state.worklists[w.ID] = cloneWorklist(w)
	tx.recordChange(Change{Entity: domain.EntityWorklist, Action: domain.ActionCreate, After: domain.MustChangePayload(w)})
	return cloneWorklist(w), nil
}

func (tx *transaction) UpdateWorklist(id string, mutator func(*Worklist) error) (Worklist, error) {
	current, ok := tx.state.worklists[id]
	if !ok {
		return Worklist{}, domain.NotFoundError{Entity: domain.EntityWorklist, ID: id}
	}
	before := cloneWorklist(current)
	if err := mutator(&current); err != nil {
		return Worklist{}, err
	}
	if strings.TrimSpace(current.Name) == "" {
		return Worklist{}, errors.New("worklist requires name")
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.worklists[id] = cloneWorklist(current)
	tx.recordChange(Change{Entity: domain.EntityWorklist, Action: domain.ActionUpdate, Before: domain.MustChangePayload(before), After: domain.MustChangePayload(current)})
	return cloneWorklist(current), nil
}

func (tx *transaction) CreateAssignment(a Assignment) (Assignment, error) {
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.state.assignments[a.ID]; exists {
		return Assignment{}, domain.ConstraintError{Entity: domain.EntityAssignment, Reason: fmt.Sprintf("assignment %q already exists", a.ID)}
	}
	if a.TechniqueID == "" {
		return Assignment{}, errors.New("assignment requires technique id")
	}
	if _, ok := tx.state.worklists[a.WorklistID]; !ok {
		return Assignment{}, domain.NotFoundError{Entity: domain.EntityWorklist, ID: a.WorklistID}
	}
	if _, exists := tx.FindAssignmentByParent(a.Parent()); exists {
		return Assignment{}, domain.ConstraintError{Entity: domain.EntityAssignment, Reason: fmt.Sprintf("technique %s already scheduled on worklist %s", a.TechniqueID, a.WorklistID)}
	}
	if a.Status == "" {
		a.Status = domain.TechniqueStatusPending
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	a = cloneAssignment(a)
	tx.state.assignments[a.ID] = a
	tx.recordChange(Change{Entity: domain.EntityAssignment, Action: domain.ActionCreate, After: domain.MustChangePayload(a)})
	return decorateAssignment(&tx.state, a), nil
}

func (tx *transaction) UpdateAssignment(id string, mutator func(*Assignment) error) (Assignment, error) {
	current, ok := tx.state.assignments[id]
	if !ok {
		return Assignment{}, domain.NotFoundError{Entity: domain.EntityAssignment, ID: id}
	}
	before := cloneAssignment(current)
	if err := mutator(&current); err != nil {
		return Assignment{}, err
	}
	if current.WorklistID != before.WorklistID || current.TechniqueID != before.TechniqueID {
		return Assignment{}, domain.ConstraintError{Entity: domain.EntityAssignment, Reason: "worklist and technique are immutable"}
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	current = cloneAssignment(current)
	tx.state.assignments[id] = current
	tx.recordChange(Change{Entity: domain.EntityAssignment, Action: domain.ActionUpdate, Before: domain.MustChangePayload(before), After: domain.MustChangePayload(current)})
	return decorateAssignment(&tx.state, current), nil
}

func (tx *transaction) requireParent(entity domain.EntityType, ref domain.ParentRef) error {
	if !ref.Complete() {
		return domain.ConstraintError{Entity: entity, Reason: "worklist and technique references required"}
	}
	if _, ok := tx.state.worklists[ref.WorklistID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityWorklist, ID: ref.WorklistID}
	}
	if _, ok := tx.FindAssignmentByParent(ref); !ok {
		return domain.ConstraintError{Entity: entity, Reason: fmt.Sprintf("technique %s is not scheduled on worklist %s", ref.TechniqueID, ref.WorklistID)}
	}
	return nil
}

func (tx *transaction) lotCodeTaken(ref domain.ParentRef, code, exceptID string) bool {
	for id, l := range tx.state.lots {
		if id == exceptID {
			continue
		}
		if l.WorklistID == ref.WorklistID && l.TechniqueID == ref.TechniqueID && l.LotCode == code {
			return true
		}
	}
	return false
}

func validateLot(l Lot) error {
	if strings.TrimSpace(l.LotCode) == "" {
		return domain.ConstraintError{Entity: domain.EntityLot, Reason: "lot code required"}
	}
	if l.Volume != nil && *l.Volume < 0 {
		return domain.ConstraintError{Entity: domain.EntityLot, Reason: fmt.Sprintf("volume must not be negative, got %v", *l.Volume)}
	}
	return nil
}

func (tx *transaction) CreateLot(l Lot) (Lot, error) {
	if l.ID == "" {
		l.ID = tx.store.newID()
	}
	if _, exists := tx.state.lots[l.ID]; exists {
		return Lot{}, domain.ConstraintError{Entity: domain.EntityLot, Reason: fmt.Sprintf("lot %q already exists", l.ID)}
	}
	ref := domain.ParentRef{WorklistID: l.WorklistID, TechniqueID: l.TechniqueID}
	if err := tx.requireParent(domain.EntityLot, ref); err != nil {
		return Lot{}, err
	}
	if err := validateLot(l); err != nil {
		return Lot{}, err
	}
	if tx.lotCodeTaken(ref, l.LotCode, l.ID) {
		return Lot{}, domain.ConstraintError{Entity: domain.EntityLot, Reason: fmt.Sprintf("lot %s already recorded for %s", l.LotCode, ref)}
	}
	l.CreatedAt = tx.now
	l.UpdatedAt = tx.now
	tx.state.lots[l.ID] = cloneLot(l)
	tx.recordChange(Change{Entity: domain.EntityLot, Action: domain.ActionCreate, After: domain.MustChangePayload(l)})
	return cloneLot(l), nil
}

func (tx *transaction) UpdateLot(id string, mutator func(*Lot) error) (Lot, error) {
	current, ok := tx.state.lots[id]
	if !ok {
		return Lot{}, domain.NotFoundError{Entity: domain.EntityLot, ID: id}
	}
	before := cloneLot(current)
	if err := mutator(&current); err != nil {
		return Lot{}, err
	}
	current.ID = id
	current.WorklistID = before.WorklistID
	current.TechniqueID = before.TechniqueID
	if err := validateLot(current); err != nil {
		return Lot{}, err
	}
	ref := domain.ParentRef{WorklistID: current.WorklistID, TechniqueID: current.TechniqueID}
	if tx.lotCodeTaken(ref, current.LotCode, id) {
		return Lot{}, domain.ConstraintError{Entity: domain.EntityLot, Reason: fmt.Sprintf("lot %s already recorded for %s", current.LotCode, ref)}
	}
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.lots[id] = cloneLot(current)
	tx.recordChange(Change{Entity: domain.EntityLot, Action: domain.ActionUpdate, Before: domain.MustChangePayload(before), After: domain.MustChangePayload(current)})
	return cloneLot(current), nil
}

func (tx *transaction) CreateResult(r TechniqueResult) (TechniqueResult, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.results[r.ID]; exists {
		return TechniqueResult{}, domain.ConstraintError{Entity: domain.EntityResult, Reason: fmt.Sprintf("result %q already exists", r.ID)}
	}
	if err := tx.requireParent(domain.EntityResult, domain.ParentRef{WorklistID: r.WorklistID, TechniqueID: r.TechniqueID}); err != nil {
		return TechniqueResult{}, err
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.results[r.ID] = cloneResult(r)
	tx.recordChange(Change{Entity: domain.EntityResult, Action: domain.ActionCreate, After: domain.MustChangePayload(r)})
	return cloneResult(r), nil
}

func (tx *transaction) UpdateResult(id string, mutator func(*TechniqueResult) error) (TechniqueResult, error) {
	current, ok := tx.state.results[id]
	if !ok {
		return TechniqueResult{}, domain.NotFoundError{Entity: domain.EntityResult, ID: id}
	}
	before := cloneResult(current)
	if err := mutator(&current); err != nil {
		return TechniqueResult{}, err
	}
	current.ID = id
	current.WorklistID = before.WorklistID
	current.TechniqueID = before.TechniqueID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.results[id] = cloneResult(current)
	tx.recordChange(Change{Entity: domain.EntityResult, Action: domain.ActionUpdate, Before: domain.MustChangePayload(before), After: domain.MustChangePayload(current)})
	return cloneResult(current), nil
}
