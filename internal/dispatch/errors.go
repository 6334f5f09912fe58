package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrLoopStopped is returned by Loop.Do once the loop no longer runs.
	ErrLoopStopped = errors.New("dispatch: loop stopped")
)

// PanicError carries a panic recovered from a task's Execute phase.
type PanicError struct {
	Kind  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("dispatch: %s task panicked: %v", e.Kind, e.Value)
}
