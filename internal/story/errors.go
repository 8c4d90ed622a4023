package story

import (
	"errors"
	"fmt"
)

var (
	ErrBackendFailure     = errors.New("llm backend failure")
	ErrMalformedJSON      = errors.New("malformed json payload")
	ErrValidationRejected = errors.New("validation rejected")
	ErrCancelled          = errors.New("cancelled")
	ErrInvariantBreach    = errors.New("invariant breach")
	ErrUnknownSection     = errors.New("unknown section")
	ErrUnknownTask        = errors.New("unknown llm task")
	ErrNoState            = errors.New("no story state")
)

// BackendError records a task whose call exhausted its retries.
type BackendError struct {
	Task     string
	Attempts int
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempt(s): %v", e.Task, e.Attempts, e.Err)
}

func (e *BackendError) Unwrap() []error {
	return []error{ErrBackendFailure, e.Err}
}
