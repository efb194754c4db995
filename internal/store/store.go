// ABOUTME: Persistence error type and shared helpers for the gate's SQLite store
// ABOUTME: Every backend failure surfaces as *PersistenceError so callers can fail closed

package store

import (
	"errors"
	"fmt"
)

// ErrPersistence matches any *PersistenceError with errors.Is.
var ErrPersistence = errors.New("persistence failure")

// PersistenceError reports that durable state could not be read or written.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is reports whether target is ErrPersistence.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// persistErr wraps err for op, or returns nil.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
