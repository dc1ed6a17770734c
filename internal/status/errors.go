package status

import "fmt"

// DuplicateDomainError is returned when a domain key is registered twice.
type DuplicateDomainError struct {
	Domain string
}

func (e DuplicateDomainError) Error() string {
	return fmt.Sprintf("status: domain %s already registered", e.Domain)
}

// DuplicateStateError is returned when a domain declares the same state key twice.
type DuplicateStateError struct {
	Domain string
	State  string
}

func (e DuplicateStateError) Error() string {
	return fmt.Sprintf("status: state %s declared twice in domain %s", e.State, e.Domain)
}

// UnknownDomainError is returned when transitions reference an unregistered domain.
type UnknownDomainError struct {
	Domain string
}

func (e UnknownDomainError) Error() string {
	return fmt.Sprintf("status: domain %s not registered", e.Domain)
}

// UnknownStateError is returned when a transition pair references a state the
// domain does not declare.
type UnknownStateError struct {
	Domain string
	State  string
}

func (e UnknownStateError) Error() string {
	return fmt.Sprintf("status: state %s not registered in domain %s", e.State, e.Domain)
}
