// Package domain defines the persistent lab worklist records, value types,
// persistence contracts and rule evaluation primitives used by labcore.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityWorklist identifies a worklist record.
	EntityWorklist EntityType = "worklist"
	// EntityAssignment identifies a technique assignment within a worklist.
	EntityAssignment EntityType = "technique_assignment"
	// EntityLot identifies a reagent lot consumed by a worklist technique.
	EntityLot    EntityType = "technique_lot"
	EntityResult EntityType = "technique_result"
)

// WorklistStage is the derived progress classification of a worklist. It is
// never persisted; see internal/workflow for the resolver.
type WorklistStage string

// Worklist stages in workflow order.
const (
	StageCreated            WorklistStage = "created"
	StageTechnicianAssigned WorklistStage = "technician_assigned"
	StageTechniquesStarted  WorklistStage = "techniques_started"
	StageResultsImported    WorklistStage = "results_imported"
)

// TechniqueStatus enumerates technique lifecycle states of the "technique" status domain.
type TechniqueStatus string

// Canonical technique statuses.
const (
	TechniqueStatusPending   TechniqueStatus = "pending"
	TechniqueStatusInProcess TechniqueStatus = "in_process"
	TechniqueStatusCompleted TechniqueStatus = "completed"
	TechniqueStatusCancelled TechniqueStatus = "cancelled"
)

// StartCode is the numeric start indicator reported by the backend for each technique.
type StartCode int

// Start indicator codes.
const (
	StartCodeNotStarted StartCode = 0
	StartCodeInProcess  StartCode = 1
	StartCodeFinished   StartCode = 2
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Worklist groups technique assignments processed together on a bench.
type Worklist struct {
	Base
	Name       string  `json:"name"`
	TemplateID *string `json:"template_id"`
}

// ParentRef identifies a technique within a worklist. Child records without an
// identifier of their own are created against it.
type ParentRef struct {
	WorklistID  string `json:"worklist_id"`
	TechniqueID string `json:"technique_id"`
}

// Complete reports whether both halves of the reference are set.
func (p ParentRef) Complete() bool {
	return p.WorklistID != "" && p.TechniqueID != ""
}

func (p ParentRef) String() string {
	return fmt.Sprintf("%s/%s", p.WorklistID, p.TechniqueID)
}

// Assignee records who a technique is assigned to. The backend has produced
// two shapes for this field over time: a bare identifier string and a nested
// object carrying id and name. Both decode into the same value.
type Assignee struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Assigned reports whether either an identifier or a name is present.
func (a Assignee) Assigned() bool {
	return a.ID != "" || a.Name != ""
}

// UnmarshalJSON accepts null, a bare identifier string, or an {id, name} object.
func (a *Assignee) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*a = Assignee{}
		return nil
	case data[0] == '"':
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*a = Assignee{ID: id}
		return nil
	case data[0] == '{':
		type nested Assignee
		var aux nested
		if err := json.Unmarshal(data, &aux); err != nil {
			return err
		}
		*a = Assignee(aux)
		return nil
	default:
		return fmt.Errorf("assignee: unsupported JSON value %s", string(data))
	}
}

// MarshalJSON always emits the nested shape, or null when unassigned.
func (a Assignee) MarshalJSON() ([]byte, error) {
	if !a.Assigned() {
		return []byte("null"), nil
	}
	type nested Assignee
	return json.Marshal(nested(a))
}

// TechniqueAssignment is a technique scheduled on a worklist. Results are not
// stored on the record; stores decorate snapshots with the matching results.
type TechniqueAssignment struct {
	Base
	WorklistID  string            `json:"worklist_id"`
	TechniqueID string            `json:"technique_id"`
	Technician  Assignee          `json:"technician"`
	StartCode   StartCode         `json:"start_code"`
	Status      TechniqueStatus   `json:"status"`
	Results     []TechniqueResult `json:"results,omitempty"`
}

// Parent returns the worklist/technique pair the assignment occupies.
func (t TechniqueAssignment) Parent() ParentRef {
	return ParentRef{WorklistID: t.WorklistID, TechniqueID: t.TechniqueID}
}

// TechniqueLot records a reagent lot consumed by a technique.
type TechniqueLot struct {
	Base
	WorklistID  string   `json:"worklist_id"`
	TechniqueID string   `json:"technique_id"`
	LotCode     string   `json:"lot_code"`
	Volume      *float64 `json:"volume"`
	Unit        string   `json:"unit,omitempty"`
}

// TechniqueResult is one measured or observed value for a technique.
type TechniqueResult struct {
	Base
	WorklistID   string     `json:"worklist_id"`
	TechniqueID  string     `json:"technique_id"`
	NumericValue *float64   `json:"numeric_value"`
	TextValue    *string    `json:"text_value"`
	DateValue    *time.Time `json:"date_value"`
	TypeTag      *string    `json:"type_tag"`
}

// HasValue reports whether any result field is populated.
func (r TechniqueResult) HasValue() bool {
	if r.NumericValue != nil || r.DateValue != nil {
		return true
	}
	if r.TextValue != nil && *r.TextValue != "" {
		return true
	}
	return r.TypeTag != nil && *r.TypeTag != ""
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before ChangePayload
	After  ChangePayload
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
