package domain

import "fmt"

// ValidationError reports invalid input or an illegal state transition. No
// state is mutated when it is returned.
type ValidationError struct {
	Entity EntityType
	ID     string
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	subject := string(e.Entity)
	if e.ID != "" {
		subject += " " + e.ID
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s: %s", subject, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", subject, e.Reason)
}

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ComputationError describes malformed weight or score data. It is reported as
// a warning next to a degraded value and never blocks a read or write.
type ComputationError struct {
	Scope  EntityType
	ID     string
	Reason string
}

func (e ComputationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s computation: %s", e.Scope, e.Reason)
	}
	return fmt.Sprintf("%s %s computation: %s", e.Scope, e.ID, e.Reason)
}
