package store

import (
	"errors"
	"fmt"

	"github.com/viant/hitloop/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a conditional update finds the record
	// already resolved.
	ErrConflict = errors.New("store: conflict")

	// ErrInvalidID indicates that the supplied id is empty.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrNilRecord is returned when the caller attempts to persist a nil pointer.
	ErrNilRecord = errors.New("store: nil record")

	// ErrInvalidStatus is returned when a resolution carries a non terminal status.
	ErrInvalidStatus = errors.New("store: invalid resolution status")
)

// ConflictError describes a resolution attempt on an already terminal record.
type ConflictError struct {
	ID        string
	Existing  model.Status
	DecidedBy string
	Requested model.Status
}

// SameOutcome reports whether the record was resolved with the requested status.
func (e *ConflictError) SameOutcome() bool {
	return e.Existing == e.Requested
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: conflict: record %v already %v by %q (requested %v)", e.ID, e.Existing, e.DecidedBy, e.Requested)
}

// Is matches ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NewConflict creates a conflict error for record and requested status
func NewConflict(record *model.Record, requested model.Status) *ConflictError {
	return &ConflictError{ID: record.ID, Existing: record.Status, DecidedBy: record.DecidedBy, Requested: requested}
}

// AsConflict extracts *ConflictError from err
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
