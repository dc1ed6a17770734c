// Package status holds the catalog of status domains used across the lab
// console: the registry of named states, the transition validator built on top
// of it, and collection helpers for dashboards.
package status

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// StateDef describes one named state within a status domain.
type StateDef struct {
	Key      string `json:"key" yaml:"key"`
	Label    string `json:"label" yaml:"label"`
	Priority int    `json:"priority" yaml:"priority"`
	Color    string `json:"color,omitempty" yaml:"color,omitempty"`
	Terminal bool   `json:"terminal,omitempty" yaml:"terminal,omitempty"`
}

// ErrRegistrySealed is returned by Register calls made after Seal.
var ErrRegistrySealed = errors.New("status: registry is sealed")

type domainEntry struct {
	key         string
	states      []StateDef
	index       map[string]int
	transitions map[string]map[string]struct{}
}

func (d *domainEntry) state(key string) (StateDef, bool) {
	i, ok := d.index[key]
	if !ok {
		return StateDef{}, false
	}
	return d.states[i], true
}

// Registry is the catalog of status domains. It is populated once at startup
// and sealed; after Seal it is safe for concurrent readers without locking.
// Registration itself is not synchronized.
type Registry struct {
	domains map[string]*domainEntry
	order   []string
	sealed  atomic.Bool
}

// NewEmptyRegistry returns a registry with no domains. Use NewRegistry to
// build one from a Catalog.
func NewEmptyRegistry() *Registry {
	return &Registry{domains: make(map[string]*domainEntry)}
}

// RegisterDomain adds a status domain and its ordered states.
func (r *Registry) RegisterDomain(domain string, states []StateDef) error {
	if r.sealed.Load() {
		return ErrRegistrySealed
	}
	if strings.TrimSpace(domain) == "" {
		return errors.New("status: domain key required")
	}
	if _, exists := r.domains[domain]; exists {
		return DuplicateDomainError{Domain: domain}
	}
	entry := &domainEntry{
		key:         domain,
		states:      make([]StateDef, 0, len(states)),
		index:       make(map[string]int, len(states)),
		transitions: make(map[string]map[string]struct{}),
	}
	for _, def := range states {
		if strings.TrimSpace(def.Key) == "" {
			return fmt.Errorf("status: domain %s has a state without key", domain)
		}
		if _, dup := entry.index[def.Key]; dup {
			return DuplicateStateError{Domain: domain, State: def.Key}
		}
		if def.Priority <= 0 {
			return fmt.Errorf("status: state %s/%s priority must be positive, got %d", domain, def.Key, def.Priority)
		}
		entry.index[def.Key] = len(entry.states)
		entry.states = append(entry.states, def)
	}
	r.domains[domain] = entry
	r.order = append(r.order, domain)
	return nil
}

// RegisterTransitions records the permitted (from, to) pairs for a domain.
// Repeated calls for the same domain merge into the existing table.
func (r *Registry) RegisterTransitions(domain string, table map[string][]string) error {
	if r.sealed.Load() {
		return ErrRegistrySealed
	}
	entry, ok := r.domains[domain]
	if !ok {
		return UnknownDomainError{Domain: domain}
	}
	// validate the whole table before touching the entry
	for from, targets := range table {
		if _, ok := entry.index[from]; !ok {
			return UnknownStateError{Domain: domain, State: from}
		}
		for _, to := range targets {
			if _, ok := entry.index[to]; !ok {
				return UnknownStateError{Domain: domain, State: to}
			}
		}
	}
	for from, targets := range table {
		set, ok := entry.transitions[from]
		if !ok {
			set = make(map[string]struct{}, len(targets))
			entry.transitions[from] = set
		}
		for _, to := range targets {
			set[to] = struct{}{}
		}
	}
	return nil
}

// Seal freezes the registry. Subsequent Register calls fail with ErrRegistrySealed.
func (r *Registry) Seal() { r.sealed.Store(true) }

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool { return r.sealed.Load() }

// Domains returns the registered domain keys in registration order.
func (r *Registry) Domains() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// HasDomain reports whether the domain is registered.
func (r *Registry) HasDomain(domain string) bool {
	_, ok := r.domains[domain]
	return ok
}

// States returns a copy of the domain's states in declaration order.
func (r *Registry) States(domain string) []StateDef {
	entry, ok := r.domains[domain]
	if !ok {
		return nil
	}
	out := make([]StateDef, len(entry.states))
	copy(out, entry.states)
	return out
}

// State looks up a single state definition.
func (r *Registry) State(domain, key string) (StateDef, bool) {
	entry, ok := r.domains[domain]
	if !ok {
		return StateDef{}, false
	}
	return entry.state(key)
}

func (r *Registry) lookup(domain string) (*domainEntry, bool) {
	entry, ok := r.domains[domain]
	return entry, ok
}
