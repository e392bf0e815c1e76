package engine

import (
	"fmt"

	goerrors "github.com/go-errors/errors"

	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
)

// InvalidStateError reports an operation that is not legal for the current
// instance or activity status, such as signaling a completed instance. It is
// not retryable.
type InvalidStateError struct {
	Op     string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s in status %s", e.Op, e.Status)
}

func newInvalidInstanceState(op string, status core.InstanceStatus) *InvalidStateError {
	return &InvalidStateError{Op: op, Status: string(status)}
}

func newInvalidActivityState(op string, status core.ActivityStatus) *InvalidStateError {
	return &InvalidStateError{Op: op, Status: string(status)}
}

// ConfigurationError reports a defect in the process model, such as an
// exclusive gateway with no matching and no default flow. It is fatal to the
// instance and never retried.
type ConfigurationError struct {
	ActivityID string
	Message    string
}

func (e *ConfigurationError) Error() string {
	if e.ActivityID == "" {
		return fmt.Sprintf("model configuration error: %s", e.Message)
	}

	return fmt.Sprintf("model configuration error at %q: %s", e.ActivityID, e.Message)
}

// ActivityError reports a failure of an activity's execution logic, such as
// a script evaluation or service invocation error. It is governed by the
// activity's retry policy.
type ActivityError struct {
	ActivityID string
	Err        error
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %q failed: %v", e.ActivityID, e.Err)
}

func (e *ActivityError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic from a service handler, including its stack.
type PanicError struct {
	value any
	stack string
}

func newPanicError(value any) *PanicError {
	return &PanicError{
		value: value,
		stack: string(goerrors.New(fmt.Sprintf("%v", value)).Stack()),
	}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// Stack returns the stack trace captured at recovery.
func (e *PanicError) Stack() string {
	return e.stack
}
