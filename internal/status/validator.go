package status

import (
	"math"
	"sort"
)

// Validator answers transition and ordering questions against a Registry.
// Unknown domains and states never produce errors: lookups report false or
// empty results so rendering paths keep working. Use Exists for strict checks.
type Validator struct {
	reg *Registry
}

// NewValidator constructs a validator over the supplied registry.
func NewValidator(reg *Registry) *Validator {
	return &Validator{reg: reg}
}

// Registry returns the registry the validator reads from.
func (v *Validator) Registry() *Registry { return v.reg }

// Exists reports whether state is declared in domain.
func (v *Validator) Exists(domain, state string) bool {
	_, ok := v.reg.State(domain, state)
	return ok
}

// IsValidTransition reports whether to is a permitted successor of from.
func (v *Validator) IsValidTransition(domain, from, to string) bool {
	entry, ok := v.reg.lookup(domain)
	if !ok {
		return false
	}
	targets, ok := entry.transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// AllowedNextStates returns the permitted successors of from in the domain's
// declaration order. The result is empty for terminal or unknown states.
func (v *Validator) AllowedNextStates(domain, from string) []string {
	entry, ok := v.reg.lookup(domain)
	if !ok {
		return []string{}
	}
	targets := entry.transitions[from]
	out := make([]string, 0, len(targets))
	for _, def := range entry.states {
		if _, ok := targets[def.Key]; ok {
			out = append(out, def.Key)
		}
	}
	return out
}

// IsTerminal reports whether state is flagged terminal or has no permitted successors.
func (v *Validator) IsTerminal(domain, state string) bool {
	if def, ok := v.reg.State(domain, state); ok && def.Terminal {
		return true
	}
	return len(v.AllowedNextStates(domain, state)) == 0
}

// rank maps a state to its priority; unknown states rank after every known one.
func (v *Validator) rank(domain, state string) int {
	if def, ok := v.reg.State(domain, state); ok {
		return def.Priority
	}
	return math.MaxInt
}

// ComparePriority orders a before b by ascending priority, returning -1, 0 or 1.
func (v *Validator) ComparePriority(domain, a, b string) int {
	ra, rb := v.rank(domain, a), v.rank(domain, b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

// SortByPriority returns a stably sorted copy of states.
func (v *Validator) SortByPriority(domain string, states []string) []string {
	return sortByPriority(v, domain, states, func(s string) string { return s })
}

func sortByPriority[T any](v *Validator, domain string, items []T, key func(T) string) []T {
	out := make([]T, len(items))
	copy(out, items)
	ranks := make(map[string]int)
	rankOf := func(item T) int {
		k := key(item)
		r, ok := ranks[k]
		if !ok {
			r = v.rank(domain, k)
			ranks[k] = r
		}
		return r
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rankOf(out[i]) < rankOf(out[j])
	})
	return out
}
