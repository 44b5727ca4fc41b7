package ignition

import (
	"context"
	"errors"
)

// cancelCause is the typed cause attached to coordinator-issued scope
// cancellations. context.Cause carries it to the classifier so verdicts
// never depend on timing heuristics.
type cancelCause struct {
	reason CancellationReason
	by     string
}

func (c *cancelCause) Error() string {
	if c.by != "" {
		return "ignition: " + c.reason.String() + " (origin: " + c.by + ")"
	}
	return "ignition: " + c.reason.String()
}

// classifyCompletion maps a completed operation onto its terminal verdict.
// The rules apply top to bottom:
//
//  1. nil error: succeeded
//  2. cancellation raised, scope cancelled for a per-signal deadline:
//     timed out
//  3. cancellation raised, scope cancelled for the global deadline:
//     timed out
//  4. cancellation raised, scope cancelled for a dependency failure or a
//     policy stop: cancelled with the matching reason
//  5. cancellation raised without a coordinator-issued cause: cancelled
//     externally
//  6. any other error: failed, cause retained verbatim
//
// A frozen soft-timeout verdict is applied by the node itself and wins
// over whatever this returns.
func classifyCompletion(opErr error, scope context.Context) (SignalStatus, CancellationReason, string) {
	if opErr == nil {
		return StatusSucceeded, ReasonNone, ""
	}
	if !isCancellation(opErr) {
		return StatusFailed, ReasonNone, ""
	}

	var cc *cancelCause
	if errors.As(context.Cause(scope), &cc) {
		switch cc.reason {
		case ReasonPerSignalTimeout:
			return StatusTimedOut, ReasonPerSignalTimeout, ""
		case ReasonGlobalTimeout:
			return StatusTimedOut, ReasonGlobalTimeout, ""
		case ReasonDependencyFailed:
			return StatusCanceled, ReasonDependencyFailed, cc.by
		case ReasonPolicyStop:
			return StatusCanceled, ReasonPolicyStop, ""
		}
	}
	return StatusCanceled, ReasonExternalCancel, ""
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
