package recording

import (
	"fmt"

	"github.com/veggerby/ignition"
)

// Wire token spellings. The in-memory types log lowercase tokens; the
// document format uses these spellings and parsing accepts nothing else.
const (
	tokenSucceeded  = "Succeeded"
	tokenFailed     = "Failed"
	tokenTimedOut   = "TimedOut"
	tokenSkipped    = "Skipped"
	tokenCancelled  = "Cancelled"
	tokenNotStarted = "NotStarted"
	tokenRunning    = "Running"
)

func statusToken(s ignition.SignalStatus) string {
	switch s {
	case ignition.StatusSucceeded:
		return tokenSucceeded
	case ignition.StatusFailed:
		return tokenFailed
	case ignition.StatusTimedOut:
		return tokenTimedOut
	case ignition.StatusSkipped:
		return tokenSkipped
	case ignition.StatusCanceled:
		return tokenCancelled
	case ignition.StatusRunning:
		return tokenRunning
	default:
		return tokenNotStarted
	}
}

func parseStatusToken(token string) (ignition.SignalStatus, error) {
	switch token {
	case tokenSucceeded:
		return ignition.StatusSucceeded, nil
	case tokenFailed:
		return ignition.StatusFailed, nil
	case tokenTimedOut:
		return ignition.StatusTimedOut, nil
	case tokenSkipped:
		return ignition.StatusSkipped, nil
	case tokenCancelled:
		return ignition.StatusCanceled, nil
	case tokenRunning:
		return ignition.StatusRunning, nil
	case tokenNotStarted:
		return ignition.StatusNotStarted, nil
	default:
		return ignition.StatusNotStarted, fmt.Errorf("%w: unknown status token %q", ErrMalformedRecording, token)
	}
}

func modeToken(m ignition.ExecutionMode) string {
	switch m {
	case ignition.ModeSequential:
		return "Sequential"
	case ignition.ModeDependency:
		return "DependencyAware"
	case ignition.ModeStaged:
		return "Staged"
	default:
		return "Parallel"
	}
}

func parseModeToken(token string) (ignition.ExecutionMode, error) {
	switch token {
	case "Parallel":
		return ignition.ModeParallel, nil
	case "Sequential":
		return ignition.ModeSequential, nil
	case "DependencyAware":
		return ignition.ModeDependency, nil
	case "Staged":
		return ignition.ModeStaged, nil
	default:
		return ignition.ModeParallel, fmt.Errorf("%w: unknown execution_mode token %q", ErrMalformedRecording, token)
	}
}

// policyToken maps the built-in policy names; custom policy names travel
// verbatim.
func policyToken(name string) string {
	switch name {
	case "best_effort":
		return "BestEffort"
	case "fail_fast":
		return "FailFast"
	case "continue_on_timeout":
		return "ContinueOnTimeout"
	default:
		return name
	}
}

func parsePolicyToken(token string) string {
	switch token {
	case "BestEffort":
		return "best_effort"
	case "FailFast":
		return "fail_fast"
	case "ContinueOnTimeout":
		return "continue_on_timeout"
	default:
		return token
	}
}

func stagePolicyToken(p ignition.StagePolicy) string {
	switch p {
	case ignition.StageBestEffort:
		return "BestEffort"
	case ignition.StageFailFast:
		return "FailFast"
	case ignition.StageEarlyPromotion:
		return "EarlyPromotion"
	default:
		return "AllMustSucceed"
	}
}

func parseStagePolicyToken(token string) (ignition.StagePolicy, error) {
	switch token {
	case "AllMustSucceed":
		return ignition.StageAllMustSucceed, nil
	case "BestEffort":
		return ignition.StageBestEffort, nil
	case "FailFast":
		return ignition.StageFailFast, nil
	case "EarlyPromotion":
		return ignition.StageEarlyPromotion, nil
	default:
		return ignition.StageAllMustSucceed, fmt.Errorf("%w: unknown stage_policy token %q", ErrMalformedRecording, token)
	}
}

func reasonToken(r ignition.CancellationReason) string {
	switch r {
	case ignition.ReasonGlobalTimeout:
		return "GlobalTimeout"
	case ignition.ReasonDependencyFailed:
		return "DependencyFailed"
	case ignition.ReasonPolicyStop:
		return "PolicyStop"
	case ignition.ReasonPerSignalTimeout:
		return "PerSignalTimeout"
	case ignition.ReasonExternalCancel:
		return "ExternalCancel"
	default:
		return "None"
	}
}

func parseReasonToken(token string) (ignition.CancellationReason, error) {
	switch token {
	case "None":
		return ignition.ReasonNone, nil
	case "GlobalTimeout":
		return ignition.ReasonGlobalTimeout, nil
	case "DependencyFailed":
		return ignition.ReasonDependencyFailed, nil
	case "PolicyStop":
		return ignition.ReasonPolicyStop, nil
	case "PerSignalTimeout":
		return ignition.ReasonPerSignalTimeout, nil
	case "ExternalCancel":
		return ignition.ReasonExternalCancel, nil
	default:
		return ignition.ReasonNone, fmt.Errorf("%w: unknown cancellation_reason token %q", ErrMalformedRecording, token)
	}
}

func stateToken(s ignition.RunState) string {
	switch s {
	case ignition.StateRunning:
		return "Running"
	case ignition.StateCompleted:
		return "Completed"
	case ignition.StateFailed:
		return "Failed"
	case ignition.StateTimedOut:
		return "TimedOut"
	default:
		return "NotStarted"
	}
}

func parseStateToken(token string) (ignition.RunState, error) {
	switch token {
	case "NotStarted":
		return ignition.StateNotStarted, nil
	case "Running":
		return ignition.StateRunning, nil
	case "Completed":
		return ignition.StateCompleted, nil
	case "Failed":
		return ignition.StateFailed, nil
	case "TimedOut":
		return ignition.StateTimedOut, nil
	default:
		return ignition.StateNotStarted, fmt.Errorf("%w: unknown final_state token %q", ErrMalformedRecording, token)
	}
}
