// Package workflow derives the stage of a worklist from its technique
// assignments. The stage is never stored: every read resolves it again from
// the current snapshot, so it cannot drift from the child records.
package workflow

import (
	"errors"
	"fmt"

	"labcore/internal/status"
	"labcore/pkg/domain"
)

// Predicate reports whether a snapshot satisfies a stage.
type Predicate func(children []domain.TechniqueAssignment) bool

// StageRule binds a stage to the predicate that reaches it and the
// capabilities it grants. A nil Predicate always matches.
type StageRule struct {
	Stage       domain.WorklistStage
	Predicate   Predicate
	Permissions Permissions
}

// DefaultRules returns the four worklist stages in ascending order.
func DefaultRules() []StageRule {
	return []StageRule{
		{Stage: domain.StageCreated, Permissions: DefaultPermissions(domain.StageCreated)},
		{Stage: domain.StageTechnicianAssigned, Predicate: AllAssigned, Permissions: DefaultPermissions(domain.StageTechnicianAssigned)},
		{Stage: domain.StageTechniquesStarted, Predicate: AllStarted, Permissions: DefaultPermissions(domain.StageTechniquesStarted)},
		{Stage: domain.StageResultsImported, Predicate: AnyResultImported, Permissions: DefaultPermissions(domain.StageResultsImported)},
	}
}

// AllAssigned holds when there is at least one child and every child has a
// technician, by identifier or by name.
func AllAssigned(children []domain.TechniqueAssignment) bool {
	if len(children) == 0 {
		return false
	}
	for _, c := range children {
		if !c.Technician.Assigned() {
			return false
		}
	}
	return true
}

// AllStarted holds when every child is assigned and reports the in-process start code.
func AllStarted(children []domain.TechniqueAssignment) bool {
	if !AllAssigned(children) {
		return false
	}
	for _, c := range children {
		if c.StartCode != domain.StartCodeInProcess {
			return false
		}
	}
	return true
}

// AnyResultImported holds when at least one child carries a populated result.
func AnyResultImported(children []domain.TechniqueAssignment) bool {
	for _, c := range children {
		for _, r := range c.Results {
			if r.HasValue() {
				return true
			}
		}
	}
	return false
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRules replaces the stage rules. Rules are given lowest stage first; the
// first rule is the fallback stage and its predicate is ignored.
func WithRules(rules ...StageRule) Option {
	return func(r *Resolver) {
		r.rules = append([]StageRule(nil), rules...)
	}
}

// WithReason registers the message shown when action is disabled in stage.
func WithReason(stage domain.WorklistStage, action Action, reason string) Option {
	return func(r *Resolver) {
		r.reasons[reasonKey{stage: stage, action: action}] = reason
	}
}

// WithStatusDomain selects the status domain whose transition table backs
// CanTransitionTo. Defaults to the worklist domain.
func WithStatusDomain(key string) Option {
	return func(r *Resolver) {
		r.domain = key
	}
}

// Resolver evaluates stage rules over worklist snapshots. It is immutable
// after construction and safe for concurrent use.
type Resolver struct {
	validator *status.Validator
	domain    string
	rules     []StageRule
	reasons   map[reasonKey]string
}

// NewResolver builds a resolver over the validator's registry. It fails when
// the status domain is missing or does not declare every rule's stage.
func NewResolver(v *status.Validator, opts ...Option) (*Resolver, error) {
	if v == nil {
		return nil, errors.New("workflow: validator required")
	}
	r := &Resolver{
		validator: v,
		domain:    status.DomainWorklist,
		rules:     DefaultRules(),
		reasons:   defaultReasons(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.rules) == 0 {
		return nil, errors.New("workflow: at least one stage rule required")
	}
	if !v.Registry().HasDomain(r.domain) {
		return nil, status.UnknownDomainError{Domain: r.domain}
	}
	seen := make(map[domain.WorklistStage]struct{}, len(r.rules))
	for i, rule := range r.rules {
		if _, dup := seen[rule.Stage]; dup {
			return nil, fmt.Errorf("workflow: stage %s declared twice", rule.Stage)
		}
		seen[rule.Stage] = struct{}{}
		if !v.Exists(r.domain, string(rule.Stage)) {
			return nil, status.UnknownStateError{Domain: r.domain, State: string(rule.Stage)}
		}
		if i > 0 && rule.Predicate == nil {
			return nil, fmt.Errorf("workflow: stage %s has no predicate", rule.Stage)
		}
	}
	return r, nil
}

// Stages returns the configured stages in ascending order.
func (r *Resolver) Stages() []domain.WorklistStage {
	out := make([]domain.WorklistStage, len(r.rules))
	for i, rule := range r.rules {
		out[i] = rule.Stage
	}
	return out
}

// Resolve evaluates the rules from the highest stage down and returns the
// first match, falling back to the lowest stage.
func (r *Resolver) Resolve(children []domain.TechniqueAssignment) Resolution {
	rule := r.rules[0]
	for i := len(r.rules) - 1; i > 0; i-- {
		if r.rules[i].Predicate(children) {
			rule = r.rules[i]
			break
		}
	}
	return Resolution{Stage: rule.Stage, Permissions: rule.Permissions, resolver: r}
}

// Resolution is the stage of one snapshot and what it allows.
type Resolution struct {
	Stage       domain.WorklistStage `json:"stage"`
	Permissions Permissions          `json:"permissions"`

	resolver *Resolver
}

// Allows reports whether the action is enabled in the resolved stage.
func (res Resolution) Allows(action Action) bool {
	return res.Permissions.Allows(action)
}

// ReasonFor explains why action is disabled. It is empty when the action is allowed.
func (res Resolution) ReasonFor(action Action) string {
	if res.Allows(action) {
		return ""
	}
	if res.resolver != nil {
		if reason, ok := res.resolver.reasons[reasonKey{stage: res.Stage, action: action}]; ok {
			return reason
		}
	}
	return GenericReason
}

// Reasons maps every disabled action to its reason.
func (res Resolution) Reasons() map[Action]string {
	out := make(map[Action]string)
	for _, action := range Actions {
		if reason := res.ReasonFor(action); reason != "" {
			out[action] = reason
		}
	}
	return out
}

// CanTransitionTo reports whether next directly follows the resolved stage.
// It is advisory: stages only change when the children change.
func (res Resolution) CanTransitionTo(next domain.WorklistStage) bool {
	if res.resolver == nil {
		return false
	}
	return res.resolver.validator.IsValidTransition(res.resolver.domain, string(res.Stage), string(next))
}
