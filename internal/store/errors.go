package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a job record does not exist.
var ErrNotFound = errors.New("job not found")

// PersistenceError wraps a storage failure with the operation that failed.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("failed to %s job %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Wrap returns a PersistenceError for err, or nil when err is nil.
func Wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, ID: id, Err: err}
}
