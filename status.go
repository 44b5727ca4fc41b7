package ignition

// SignalStatus represents the lifecycle phases of an individual signal,
// from registration through its terminal classification.
type SignalStatus int

const (
	StatusNotStarted SignalStatus = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusTimedOut
	StatusSkipped
	StatusCanceled
)

// String returns the canonical lowercase token used across logs and errors.
func (s SignalStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	case StatusSkipped:
		return "skipped"
	case StatusCanceled:
		return "canceled"
	case StatusNotStarted:
		return "not_started"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status is a final classification verdict.
func (s SignalStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusSkipped, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsSuccess checks if the status indicates a successful signal.
func (s SignalStatus) IsSuccess() bool {
	return s == StatusSucceeded
}

// RunState represents the lifecycle phases of a coordinator run.
type RunState int

const (
	StateNotStarted RunState = iota
	StateRunning
	StateCompleted
	StateFailed
	StateTimedOut
)

// String returns the canonical lowercase token for the run lifecycle phase.
func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateNotStarted:
		return "not_started"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the run has reached a final state.
func (s RunState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// IsSuccess checks if the run completed with every signal succeeded.
func (s RunState) IsSuccess() bool {
	return s == StateCompleted
}

// CancellationReason explains why a signal was cancelled or timed out.
// ReasonNone is recorded for signals that ran to their own completion.
type CancellationReason int

const (
	ReasonNone CancellationReason = iota
	ReasonGlobalTimeout
	ReasonDependencyFailed
	ReasonPolicyStop
	ReasonPerSignalTimeout
	ReasonExternalCancel
)

// String returns the canonical lowercase token for the cancellation reason.
func (r CancellationReason) String() string {
	switch r {
	case ReasonGlobalTimeout:
		return "global_timeout"
	case ReasonDependencyFailed:
		return "dependency_failed"
	case ReasonPolicyStop:
		return "policy_stop"
	case ReasonPerSignalTimeout:
		return "per_signal_timeout"
	case ReasonExternalCancel:
		return "external_cancel"
	case ReasonNone:
		return "none"
	default:
		return "unknown"
	}
}
