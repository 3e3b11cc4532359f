package weave

import (
	"errors"
	"fmt"
)

// ErrAlreadyClosed is returned when a closed source is asked to start work.
var ErrAlreadyClosed = errors.New("weave: already closed")

// PublishError reports a failure to publish a specific instance.
type PublishError struct {
	Instance any
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %v: %v", e.Instance, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// TerminationError reports a failure recovered while releasing an instance.
// Stage names the termination step that failed.
type TerminationError struct {
	Stage string
	Value any
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("termination %s: %v", e.Stage, e.Value)
}

// Unwrap returns the recovered value when it is an error.
func (e *TerminationError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
