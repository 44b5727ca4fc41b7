package ignition

import (
	"fmt"
	"time"
)

// PolicyContext is the read-only snapshot handed to a policy after each
// signal completion. Slices are copies; mutating them has no effect on the
// run.
type PolicyContext struct {
	// Latest is the record of the signal that just completed.
	Latest SignalRecord

	// Completed holds every classified record so far in completion order,
	// Latest included.
	Completed []SignalRecord

	// TotalSignals is the number of registered signals.
	TotalSignals int

	// Elapsed is the time since the run started.
	Elapsed time.Duration

	// GlobalDeadlineElapsed reports whether the global deadline has passed,
	// whether or not it cancels anything.
	GlobalDeadlineElapsed bool

	// Mode is the execution mode of the run.
	Mode ExecutionMode
}

// SucceededCount returns the number of completed signals that succeeded.
func (p PolicyContext) SucceededCount() int {
	n := 0
	for _, r := range p.Completed {
		if r.Status.IsSuccess() {
			n++
		}
	}
	return n
}

// Policy decides, after each signal completion, whether the run may start
// further signals. Implementations must be deterministic; they are invoked
// serially and must not block.
type Policy interface {
	// ShouldContinue reports whether more signals may be started.
	ShouldContinue(pctx PolicyContext) bool

	// Name returns the stable token identifying the policy in recordings.
	Name() string
}

type policyFunc struct {
	name string
	fn   func(PolicyContext) bool
}

func (p policyFunc) ShouldContinue(pctx PolicyContext) bool { return p.fn(pctx) }
func (p policyFunc) Name() string                           { return p.name }

// NewPolicy builds a custom policy from a name and a decision function.
func NewPolicy(name string, fn func(PolicyContext) bool) Policy {
	return policyFunc{name: name, fn: fn}
}

// Built-in continuation policies.
var (
	// FailFast continues only while every completion so far succeeded.
	FailFast Policy = policyFunc{
		name: "fail_fast",
		fn: func(pctx PolicyContext) bool {
			return pctx.Latest.Status == StatusSucceeded
		},
	}

	// BestEffort always continues; failures and timeouts are recorded but
	// never stop the run.
	BestEffort Policy = policyFunc{
		name: "best_effort",
		fn:   func(PolicyContext) bool { return true },
	}

	// ContinueOnTimeout tolerates timeouts but stops on failures.
	ContinueOnTimeout Policy = policyFunc{
		name: "continue_on_timeout",
		fn: func(pctx PolicyContext) bool {
			return pctx.Latest.Status != StatusFailed
		},
	}
)

// ParsePolicy resolves a built-in policy token.
func ParsePolicy(token string) (Policy, error) {
	switch token {
	case "best_effort", "":
		return BestEffort, nil
	case "fail_fast":
		return FailFast, nil
	case "continue_on_timeout":
		return ContinueOnTimeout, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, token)
	}
}
