// Package errors defines error types and utilities for PolyORM
package errors

import (
	"errors"
	"fmt"
)

// Common errors that can occur in PolyORM operations
var (
	// ErrNotFound is returned when an "or fail" terminal operation matches no row
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidDefinition is returned when an entity definition is invalid
	ErrInvalidDefinition = errors.New("invalid entity definition")

	// ErrNotRegistered is returned when an entity name has no registered definition
	ErrNotRegistered = errors.New("entity not registered")

	// ErrUnknownRelation is returned when a relation name has no descriptor
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrMissingPrimaryKey is returned when an operation needs a primary key value
	// that the entity does not carry
	ErrMissingPrimaryKey = errors.New("missing primary key")

	// ErrInvalidOperator is returned when an unsupported predicate operator is used
	ErrInvalidOperator = errors.New("invalid query operator")

	// ErrNoExecutor is returned when a builder runs without a configured backend
	ErrNoExecutor = errors.New("no executor configured")

	// ErrDriver wraps opaque failures surfaced by the underlying store driver
	ErrDriver = errors.New("driver error")

	// ErrSoftDeleteDisabled is returned when restore is called on an entity type
	// that does not use soft deletes
	ErrSoftDeleteDisabled = errors.New("soft deletes not enabled")
)

// Error represents a detailed error with operation context
type Error struct {
	Op     string // Operation that failed
	Entity string // Entity type name
	Err    error  // Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("polyorm: %s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("polyorm: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target error
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new Error
func New(op, entity string, err error) *Error {
	return &Error{Op: op, Entity: entity, Err: err}
}

// Driver wraps a store driver failure, preserving the original error for
// callers that unwrap
func Driver(op, entity string, err error) *Error {
	return &Error{Op: op, Entity: entity, Err: fmt.Errorf("%w: %v", ErrDriver, err)}
}

// IsNotFound checks if an error indicates a missing entity
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnknownRelation checks if an error indicates an unresolvable relation name
func IsUnknownRelation(err error) bool {
	return errors.Is(err, ErrUnknownRelation)
}

// IsDriver checks if an error originated in the underlying store driver
func IsDriver(err error) bool {
	return errors.Is(err, ErrDriver)
}
