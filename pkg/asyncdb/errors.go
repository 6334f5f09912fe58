package asyncdb

import (
	"errors"
	"fmt"

	"github.com/eigerco/kvdown/pkg/db"
)

var (
	// ErrNotFound is delivered by Get for a missing key. It is the engine's
	// sentinel, so either name matches.
	ErrNotFound = db.ErrNotFound

	// ErrPathMissing: the location does not exist and may not be created.
	ErrPathMissing = errors.New("does not exist (error if missing is set)")
	// ErrAlreadyExists: the location exists and ErrorIfExists is set.
	ErrAlreadyExists = errors.New("exists (error if exists is set)")
	// ErrNotADirectory: the location exists but is not a directory.
	ErrNotADirectory = errors.New("exists but is not a directory")

	// ErrAlreadyWritten: the batch was already submitted.
	ErrAlreadyWritten = errors.New("write() already called on this batch")
	// ErrAlreadyEnded: the iterator was already ended.
	ErrAlreadyEnded = errors.New("end() already called on this iterator")
	// ErrConcurrentNext: a next is already outstanding on the iterator.
	ErrConcurrentNext = errors.New("cannot call next() before previous next() has completed")
	// ErrSeekWhileNexting: seek was called while a next is outstanding.
	ErrSeekWhileNexting = errors.New("cannot call seek() before next() has completed")
	ErrEmptyKey         = errors.New("key cannot be empty")
	ErrNilValue         = errors.New("value cannot be nil")
	// ErrNotOpen: the database is not open, or is closing.
	ErrNotOpen     = errors.New("database is not open")
	ErrAlreadyOpen = errors.New("database is already open")
	// ErrInvalidOp: a batch operation has an unknown type.
	ErrInvalidOp = errors.New("unknown batch operation type")

	// ErrNilCallback is the panic value for a nil callback.
	ErrNilCallback = errors.New("asyncdb: callback cannot be nil")
)

// EngineError is a failure reported by the storage engine.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("asyncdb: %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// PathError is an Open failure caused by the state of the location.
type PathError struct {
	Location string
	Err      error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("asyncdb: %s %v", e.Location, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// UsageError is a call made in the wrong state or with invalid arguments.
// Usage errors are detected before any task is scheduled.
type UsageError struct {
	Op  string
	Err error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("asyncdb: %s: %v", e.Op, e.Err)
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

func usage(op string, err error) error {
	return &UsageError{Op: op, Err: err}
}

func engineErr(op string, err error) error {
	return &EngineError{Op: op, Err: err}
}
