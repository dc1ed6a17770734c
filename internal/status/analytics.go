package status

import "sort"

// Order selects the ordering applied by FilterAndSort.
type Order string

const (
	// OrderNone keeps input order.
	OrderNone Order = "none"
	// OrderPriority applies the stable priority sort.
	OrderPriority Order = "priority"
)

// FilterOptions configures FilterAndSort. A nil Include keeps every item.
type FilterOptions struct {
	Include []string
	Order   Order
}

// CountByState tallies items per state key. States with no items are absent.
func CountByState[T any](items []T, key func(T) string) map[string]int {
	counts := make(map[string]int)
	for _, item := range items {
		counts[key(item)]++
	}
	return counts
}

// FilterAndSort drops items outside opts.Include and optionally orders the
// remainder by state priority. The input slice is never modified.
func FilterAndSort[T any](v *Validator, domain string, items []T, key func(T) string, opts FilterOptions) []T {
	out := make([]T, 0, len(items))
	if opts.Include == nil {
		out = append(out, items...)
	} else {
		include := make(map[string]struct{}, len(opts.Include))
		for _, s := range opts.Include {
			include[s] = struct{}{}
		}
		for _, item := range items {
			if _, ok := include[key(item)]; ok {
				out = append(out, item)
			}
		}
	}
	if opts.Order == OrderPriority {
		return sortByPriority(v, domain, out, key)
	}
	return out
}

// StateCount is one row of a dense report.
type StateCount struct {
	State StateDef `json:"state"`
	Count int      `json:"count"`
}

// DenseCounts merges a sparse tally against the domain's declared states,
// returning one row per state in declaration order. Tallied keys that the
// domain does not declare are appended after, sorted by key.
func DenseCounts(reg *Registry, domain string, counts map[string]int) []StateCount {
	states := reg.States(domain)
	out := make([]StateCount, 0, len(states))
	seen := make(map[string]struct{}, len(states))
	for _, def := range states {
		out = append(out, StateCount{State: def, Count: counts[def.Key]})
		seen[def.Key] = struct{}{}
	}
	var extra []string
	for key := range counts {
		if _, ok := seen[key]; !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		out = append(out, StateCount{State: StateDef{Key: key, Label: key}, Count: counts[key]})
	}
	return out
}
