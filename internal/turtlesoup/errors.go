package turtlesoup

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")

	// ErrTransient marks network- or timeout-class failures that may succeed
	// when retried.
	ErrTransient = errors.New("transient failure")

	ErrPartialCascade = errors.New("partial cascade failure")
)

// StepError records one failed sub-step of a cascade delete.
type StepError struct {
	Step string
	Err  error
}

// CascadeError collects every failed step of a best-effort cascade. It
// matches ErrPartialCascade and each underlying step error with errors.Is.
type CascadeError struct {
	Target string
	Failed []StepError
}

func (e *CascadeError) Add(step string, err error) {
	e.Failed = append(e.Failed, StepError{Step: step, Err: err})
}

// Err returns e when at least one step failed and nil otherwise.
func (e *CascadeError) Err() error {
	if e == nil || len(e.Failed) == 0 {
		return nil
	}
	return e
}

func (e *CascadeError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Step, f.Err))
	}
	return fmt.Sprintf("cleanup %s: %d step(s) failed: %s", e.Target, len(e.Failed), strings.Join(parts, "; "))
}

func (e *CascadeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed)+1)
	errs = append(errs, ErrPartialCascade)
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// StepFailed reports whether the named step is among the failures.
func (e *CascadeError) StepFailed(step string) bool {
	if e == nil {
		return false
	}
	for _, f := range e.Failed {
		if f.Step == step {
			return true
		}
	}
	return false
}
