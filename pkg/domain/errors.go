package domain

import "fmt"

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// ConstraintError is returned when a write would violate a uniqueness or
// referential constraint.
type ConstraintError struct {
	Entity EntityType
	Reason string
}

func (e ConstraintError) Error() string {
	return fmt.Sprintf("%s constraint violated: %s", e.Entity, e.Reason)
}
