package ignition

import "time"

// TimeoutDecision is the outcome of a timeout strategy for one signal.
type TimeoutDecision struct {
	// Timeout is the effective per-signal deadline; zero means none.
	Timeout time.Duration

	// CancelOnTimeout cancels the signal's scope when the deadline expires.
	// When false the verdict is recorded and the operation keeps running.
	CancelOnTimeout bool
}

// TimeoutStrategy decides the effective deadline for a signal. Decide is
// consulted exactly once per signal, at start, and must be pure: the same
// signal and options always produce the same decision.
type TimeoutStrategy interface {
	Decide(s *Signal, opts Options) TimeoutDecision
}

// TimeoutStrategyFunc adapts a function to the TimeoutStrategy interface.
type TimeoutStrategyFunc func(s *Signal, opts Options) TimeoutDecision

func (f TimeoutStrategyFunc) Decide(s *Signal, opts Options) TimeoutDecision {
	return f(s, opts)
}

// DefaultTimeoutStrategy applies each signal's own deadline with the
// cancellation disposition from the options.
var DefaultTimeoutStrategy TimeoutStrategy = TimeoutStrategyFunc(
	func(s *Signal, opts Options) TimeoutDecision {
		return TimeoutDecision{
			Timeout:         s.Timeout(),
			CancelOnTimeout: opts.CancelIndividualOnTimeout,
		}
	},
)

// FixedTimeoutStrategy applies one uniform deadline to every signal,
// overriding per-signal configuration.
func FixedTimeoutStrategy(d time.Duration, cancelOnTimeout bool) TimeoutStrategy {
	return TimeoutStrategyFunc(func(*Signal, Options) TimeoutDecision {
		return TimeoutDecision{Timeout: d, CancelOnTimeout: cancelOnTimeout}
	})
}

// ClampTimeoutStrategy bounds each signal's own deadline into [min, max].
// Signals without a deadline are capped at max so no signal runs unbounded.
func ClampTimeoutStrategy(min, max time.Duration) TimeoutStrategy {
	return TimeoutStrategyFunc(func(s *Signal, opts Options) TimeoutDecision {
		d := s.Timeout()
		if d == 0 || d > max {
			d = max
		}
		if d < min {
			d = min
		}
		return TimeoutDecision{
			Timeout:         d,
			CancelOnTimeout: opts.CancelIndividualOnTimeout,
		}
	})
}
