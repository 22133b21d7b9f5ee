package engine

import (
	"errors"
	"fmt"
)

// ErrDuplicateCode reports a receipt code collision that survived a retry.
// Seeing this means two writers raced on the same daily sequence twice in a
// row, which the serialized SQLite writer should make impossible.
var ErrDuplicateCode = errors.New("receipt code already issued")

// DuplicateSubmissionError is returned when a handle already holds a live
// submission on the demand. It carries the existing code and queue position
// so callers can point the participant back to their spot.
type DuplicateSubmissionError struct {
	Code     string
	Position int
}

func (e *DuplicateSubmissionError) Error() string {
	return fmt.Sprintf("handle already has submission %s at queue position %d", e.Code, e.Position)
}

// StateConflictError is returned when an operation targets an entity in a
// status that does not permit it.
type StateConflictError struct {
	Entity string
	ID     string
	Status string
	Op     string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s in status %s does not allow %s", e.Entity, e.ID, e.Status, e.Op)
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}
