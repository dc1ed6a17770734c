// Package reconcile upserts batches of child records one item at a time and
// reports a per-item outcome. A failing item never aborts the batch.
package reconcile

import (
	"context"

	"labcore/pkg/domain"
)

// Item is one line of a batch. A non-empty ID selects an update; otherwise
// Parent selects a create. Fields carries the mutable values.
type Item[F any] struct {
	ID     string            `json:"id,omitempty"`
	Parent *domain.ParentRef `json:"parent,omitempty"`
	Fields F                 `json:"fields"`
}

// Store performs the individual writes. Each call is its own unit of work.
type Store[F any] interface {
	Create(ctx context.Context, parent domain.ParentRef, fields F) (string, error)
	Update(ctx context.Context, id string, fields F) error
}

// Status tags a per-item outcome.
type Status string

// Outcome statuses.
const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
	StatusFailed  Status = "failed"
)

// ValidationError rejects an item before any side effect.
type ValidationError struct {
	Index  int
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

// Reasons reported by ValidationError.
const (
	ReasonMissingKey       = "item has neither identifier nor parent reference"
	ReasonIncompleteParent = "parent reference requires both worklist and technique identifiers"
)

// Outcome records what happened to one input item.
type Outcome struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`

	err error
}

// Err returns the underlying error of a failed outcome.
func (o Outcome) Err() error { return o.err }

// Result aggregates a batch. Created+Updated+Failed always equals len(Items).
type Result struct {
	Created int       `json:"created"`
	Updated int       `json:"updated"`
	Failed  int       `json:"failed"`
	Items   []Outcome `json:"items"`
}

// Success reports whether no item failed.
func (r Result) Success() bool { return r.Failed == 0 }

// Partial reports a batch where some items were written and some failed.
func (r Result) Partial() bool { return r.Failed > 0 && r.Created+r.Updated > 0 }

// FailedIndexes returns the input positions of failed items in order.
func (r Result) FailedIndexes() []int {
	out := make([]int, 0, r.Failed)
	for _, o := range r.Items {
		if o.Status == StatusFailed {
			out = append(out, o.Index)
		}
	}
	return out
}

// FailedSubset returns the items of a previous batch that failed so they can
// be resubmitted on their own.
func FailedSubset[F any](items []Item[F], res Result) []Item[F] {
	out := make([]Item[F], 0, res.Failed)
	for _, i := range res.FailedIndexes() {
		if i >= 0 && i < len(items) {
			out = append(out, items[i])
		}
	}
	return out
}

func (r *Result) record(o Outcome) {
	switch o.Status {
	case StatusCreated:
		r.Created++
	case StatusUpdated:
		r.Updated++
	default:
		r.Failed++
	}
	r.Items = append(r.Items, o)
}

// Reconcile processes items in input order. An item with an ID is updated, an
// item with a complete parent reference is created, and anything else fails
// validation. Store errors are recorded verbatim and processing continues.
func Reconcile[F any](ctx context.Context, store Store[F], items []Item[F]) Result {
	res := Result{Items: make([]Outcome, 0, len(items))}
	for i, item := range items {
		res.record(apply(ctx, store, i, item))
	}
	return res
}

func apply[F any](ctx context.Context, store Store[F], index int, item Item[F]) Outcome {
	switch {
	case item.ID != "":
		if err := store.Update(ctx, item.ID, item.Fields); err != nil {
			return failed(index, item.ID, err)
		}
		return Outcome{Index: index, ID: item.ID, Status: StatusUpdated}
	case item.Parent != nil:
		if !item.Parent.Complete() {
			return failed(index, "", ValidationError{Index: index, Reason: ReasonIncompleteParent})
		}
		id, err := store.Create(ctx, *item.Parent, item.Fields)
		if err != nil {
			return failed(index, "", err)
		}
		return Outcome{Index: index, ID: id, Status: StatusCreated}
	default:
		return failed(index, "", ValidationError{Index: index, Reason: ReasonMissingKey})
	}
}

func failed(index int, id string, err error) Outcome {
	return Outcome{Index: index, ID: id, Status: StatusFailed, Error: err.Error(), err: err}
}
