package ignition

import "time"

// SignalRecord is the immutable account of one signal's outcome within a
// run. All offsets are measured from the coordinator's start on the
// monotonic clock.
type SignalRecord struct {
	// Name is the signal's unique name.
	Name string

	// Status is the terminal classification verdict.
	Status SignalStatus

	// StartedAt is the offset at which the operation was invoked; zero for
	// signals that never started.
	StartedAt time.Duration

	// CompletedAt is the offset at which the outcome was recorded.
	CompletedAt time.Duration

	// Duration is CompletedAt - StartedAt, zero for unstarted signals.
	Duration time.Duration

	// Err is the verbatim failure returned by the operation, if any.
	Err error

	// FailedDependencies lists the direct dependencies whose non-success
	// caused this signal to be skipped.
	FailedDependencies []string

	// CancellationReason explains a cancellation or timeout verdict.
	CancellationReason CancellationReason

	// CanceledBy names the originating failure for dependency-driven
	// cancellations.
	CanceledBy string

	// Stage is the resolved stage number, or -1 outside staged runs.
	Stage int

	// Dependencies lists the signal's direct prerequisites in declaration
	// order.
	Dependencies []string
}

// StageResult aggregates the outcome of one stage in a staged run.
type StageResult struct {
	// Number is the stage number from the plan.
	Number int

	// Name is the optional stage name.
	Name string

	// Mode is the execution mode the stage ran under.
	Mode ExecutionMode

	// StartedAt and CompletedAt are offsets from the run start; zero for
	// stages that never ran.
	StartedAt   time.Duration
	CompletedAt time.Duration

	// Duration is CompletedAt - StartedAt.
	Duration time.Duration

	// Records holds the stage members' records in registration order. For
	// a composite stage this is the union of its children.
	Records []SignalRecord

	// Counts per terminal status.
	SucceededCount int
	FailedCount    int
	TimedOutCount  int
	SkippedCount   int
	CanceledCount  int

	// Completed reports whether every stage member reached a terminal
	// state while the stage was being driven.
	Completed bool

	// Promoted reports whether the next stage was started before this one
	// finished.
	Promoted bool
}

// SignalCount returns the number of signals in the stage.
func (s StageResult) SignalCount() int { return len(s.Records) }

// AllSucceeded reports whether every stage member succeeded.
func (s StageResult) AllSucceeded() bool {
	return s.SucceededCount == len(s.Records)
}
