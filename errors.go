package ignition

import (
	"errors"
	"fmt"
	"strings"
)

// errors on registering signals and configuring a run.
var (
	ErrEmptySignalName    = errors.New("signal name must not be empty")
	ErrDuplicateSignal    = errors.New("signal name must be unique")
	ErrNilOperation       = errors.New("signal operation must not be nil")
	ErrNonPositiveTimeout = errors.New("timeout must be positive")
	ErrInvalidConcurrency = errors.New("max concurrency must not be negative")
	ErrInvalidThreshold   = errors.New("early promotion threshold must be between 0 and 1")
	ErrUnknownSignal      = errors.New("signal is not registered")
	ErrSelfDependency     = errors.New("signal cannot depend on itself")
	ErrCycleDetected      = errors.New("dependency graph must not contain a cycle")
	ErrAlreadyStarted     = errors.New("coordinator has already started running")
	ErrUnknownMode        = errors.New("unknown execution mode")
	ErrUnknownPolicy      = errors.New("unknown policy")
	ErrUnknownStagePolicy = errors.New("unknown stage policy")
)

// errors on building a stage plan.
var (
	ErrStageNumberOrder      = errors.New("stage numbers must be strictly increasing")
	ErrStageEmpty            = errors.New("stage must contain at least one signal or child stage")
	ErrStageChildrenMode     = errors.New("child stages require the staged execution mode")
	ErrCompositeStageSignals = errors.New("a staged stage holds child stages, not direct signals")
	ErrStageDuplicateSignal  = errors.New("signal is assigned to more than one stage")
)

// ErrSignalTimeout marks a per-signal deadline expiry. It surfaces from
// RunAll only in sequential fail-fast runs; otherwise it is recorded on the
// signal's record.
var ErrSignalTimeout = errors.New("signal timed out")

// SignalError attaches the signal name to the failure captured from its
// operation. The original cause is reachable through Unwrap.
type SignalError struct {
	Signal string
	Err    error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signal %q: %v", e.Signal, e.Err)
}

func (e *SignalError) Unwrap() error {
	return e.Err
}

// AggregateError is a list of signal failures in completion order.
// RunAll returns one for parallel-family fail-fast runs that captured
// more than zero failures.
type AggregateError []error

// Error implements the error interface.
// It returns a string with all the errors separated by a semicolon.
func (e AggregateError) Error() string {
	errStrings := make([]string, len(e))
	for i, err := range e {
		errStrings[i] = err.Error()
	}
	return strings.Join(errStrings, "; ")
}

// Unwrap implements the errors.Unwrap interface.
func (e AggregateError) Unwrap() []error {
	if len(e) == 0 {
		return nil
	}

	// Return the underlying error slice so errors.Is can check against
	// each captured failure.
	return e
}

// ValidationError represents an error in a specific field of the
// configuration.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("field '%s': %v", e.Field, e.Err)
	}
	return fmt.Sprintf("field '%s': %v (value: %+v)", e.Field, e.Err, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps an error with field context for configuration
// surfaces that validate structured input.
func NewValidationError(field string, value any, err error) error {
	return &ValidationError{
		Field: field,
		Value: value,
		Err:   err,
	}
}
