package kilnerr

import (
	"errors"
	"fmt"
)

// StepError records that a named build step failed. A step that fails because
// one of its dependencies already failed wraps that dependency's StepError,
// so a failure deep in the graph surfaces as a nested chain. RootCause strips
// the chain back down to the original failure.
type StepError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

// Unwrap implements error unwrapping.
func (e *StepError) Unwrap() error {
	return e.Err
}

// InStep wraps err as a failure of the named step. A nil err stays nil so
// step bodies can wrap their return value unconditionally.
func InStep(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// RootCause strips every StepError layer from err and returns the innermost
// cause. A non-StepError input is returned unchanged, so the function is
// idempotent.
func RootCause(err error) error {
	for {
		se, ok := err.(*StepError)
		if !ok || se.Err == nil {
			return err
		}
		err = se.Err
	}
}

// NotConfiguredError reports a read of a result slot whose producing step was
// never registered for the selected build mode. This is a programmer error,
// not a runtime condition.
type NotConfiguredError struct {
	Step string
}

// Error implements the error interface.
func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("required step %q not configured for the selected build mode", e.Step)
}

// NotConfigured creates a NotConfiguredError for the named step.
func NotConfigured(step string) error {
	return &NotConfiguredError{Step: step}
}

// IsNotConfigured checks whether an error chain contains a NotConfiguredError.
func IsNotConfigured(err error) bool {
	var nc *NotConfiguredError
	return errors.As(err, &nc)
}

// InterruptedError reports that the goroutine awaiting a result was
// interrupted (its context was cancelled) while blocked. It is distinct from
// a step failure: the step itself may still be running.
type InterruptedError struct {
	Err error
}

// Error implements the error interface.
func (e *InterruptedError) Error() string {
	return fmt.Sprintf("interrupted while awaiting build result: %v", e.Err)
}

// Unwrap implements error unwrapping.
func (e *InterruptedError) Unwrap() error {
	return e.Err
}

// Interrupted wraps a context error as an interruption signal.
func Interrupted(err error) error {
	return &InterruptedError{Err: err}
}

// IsInterrupted checks whether an error chain contains an InterruptedError.
func IsInterrupted(err error) bool {
	var ie *InterruptedError
	return errors.As(err, &ie)
}
