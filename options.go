package ignition

import (
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// ExecutionMode selects how the coordinator schedules registered signals.
type ExecutionMode int

const (
	ModeParallel ExecutionMode = iota
	ModeSequential
	ModeDependency
	ModeStaged
)

// String returns the canonical lowercase token for the execution mode.
func (m ExecutionMode) String() string {
	switch m {
	case ModeParallel:
		return "parallel"
	case ModeSequential:
		return "sequential"
	case ModeDependency:
		return "dependency"
	case ModeStaged:
		return "staged"
	default:
		return "unknown"
	}
}

// ParseExecutionMode converts a mode token into an ExecutionMode.
func ParseExecutionMode(token string) (ExecutionMode, error) {
	switch token {
	case "parallel", "":
		return ModeParallel, nil
	case "sequential":
		return ModeSequential, nil
	case "dependency":
		return ModeDependency, nil
	case "staged":
		return ModeStaged, nil
	default:
		return ModeParallel, fmt.Errorf("%w: %q", ErrUnknownMode, token)
	}
}

// StagePolicy determines whether a staged run advances to the next stage.
type StagePolicy int

const (
	StageAllMustSucceed StagePolicy = iota
	StageBestEffort
	StageFailFast
	StageEarlyPromotion
)

// String returns the canonical lowercase token for the stage policy.
func (p StagePolicy) String() string {
	switch p {
	case StageAllMustSucceed:
		return "all_must_succeed"
	case StageBestEffort:
		return "best_effort"
	case StageFailFast:
		return "fail_fast"
	case StageEarlyPromotion:
		return "early_promotion"
	default:
		return "unknown"
	}
}

// ParseStagePolicy converts a stage policy token into a StagePolicy.
func ParseStagePolicy(token string) (StagePolicy, error) {
	switch token {
	case "all_must_succeed", "":
		return StageAllMustSucceed, nil
	case "best_effort":
		return StageBestEffort, nil
	case "fail_fast":
		return StageFailFast, nil
	case "early_promotion":
		return StageEarlyPromotion, nil
	default:
		return StageAllMustSucceed, fmt.Errorf("%w: %q", ErrUnknownStagePolicy, token)
	}
}

// Options holds the run-wide configuration for a coordinator.
type Options struct {
	// GlobalTimeout bounds the whole run. It must be positive.
	GlobalTimeout time.Duration

	// CancelOnGlobalTimeout is the hard-stop disposition: when set, an
	// expired global deadline (or a policy stop) cancels in-flight signal
	// scopes instead of letting them drain.
	CancelOnGlobalTimeout bool

	// CancelIndividualOnTimeout makes an expired per-signal deadline cancel
	// that signal's scope. When unset the verdict is recorded but the
	// operation keeps running.
	CancelIndividualOnTimeout bool

	// Mode selects the scheduling discipline. Defaults to ModeParallel.
	Mode ExecutionMode

	// MaxConcurrency caps simultaneously running signals. Zero means
	// unbounded.
	MaxConcurrency int

	// Policy decides after each completion whether more signals may start.
	// Defaults to BestEffort.
	Policy Policy

	// StagePolicy governs advancement between stages in ModeStaged.
	StagePolicy StagePolicy

	// EarlyPromotionThreshold is the success ratio within a stage at which
	// StageEarlyPromotion starts the next stage. Valid range [0, 1].
	EarlyPromotionThreshold float64

	// CancelDependentsOnFailure cancels the transitive dependents of a
	// failed signal in ModeDependency; otherwise they are skipped.
	CancelDependentsOnFailure bool
}

// DefaultOptions returns the options used when none are supplied.
func DefaultOptions() Options {
	return Options{
		GlobalTimeout:           30 * time.Second,
		Mode:                    ModeParallel,
		Policy:                  BestEffort,
		StagePolicy:             StageAllMustSucceed,
		EarlyPromotionThreshold: 1.0,
	}
}

// Validate checks the option values and reports the first violation.
func (o Options) Validate() error {
	if o.GlobalTimeout <= 0 {
		return NewValidationError("global_timeout", o.GlobalTimeout, ErrNonPositiveTimeout)
	}
	if o.MaxConcurrency < 0 {
		return NewValidationError("max_concurrency", o.MaxConcurrency, ErrInvalidConcurrency)
	}
	if o.EarlyPromotionThreshold < 0 || o.EarlyPromotionThreshold > 1 {
		return NewValidationError("early_promotion_threshold", o.EarlyPromotionThreshold, ErrInvalidThreshold)
	}
	if o.Mode < ModeParallel || o.Mode > ModeStaged {
		return NewValidationError("mode", int(o.Mode), ErrUnknownMode)
	}
	if o.StagePolicy < StageAllMustSucceed || o.StagePolicy > StageEarlyPromotion {
		return NewValidationError("stage_policy", int(o.StagePolicy), ErrUnknownStagePolicy)
	}
	return nil
}

// withDefaults fills unset fields so the executor never sees a nil policy.
func (o Options) withDefaults() Options {
	if o.Policy == nil {
		o.Policy = BestEffort
	}
	return o
}

func (o Options) policyName() string {
	if o.Policy == nil {
		return BestEffort.Name()
	}
	return o.Policy.Name()
}

// Option configures a coordinator at construction time.
type Option func(*Coordinator)

// WithOptions replaces the coordinator's options wholesale.
func WithOptions(opts Options) Option {
	return func(c *Coordinator) { c.opts = opts }
}

// WithMode sets the execution mode.
func WithMode(m ExecutionMode) Option {
	return func(c *Coordinator) { c.opts.Mode = m }
}

// WithGlobalTimeout sets the run-wide deadline.
func WithGlobalTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.opts.GlobalTimeout = d }
}

// WithMaxConcurrency caps simultaneously running signals.
func WithMaxConcurrency(n int) Option {
	return func(c *Coordinator) { c.opts.MaxConcurrency = n }
}

// WithPolicy sets the continuation policy.
func WithPolicy(p Policy) Option {
	return func(c *Coordinator) { c.opts.Policy = p }
}

// WithTimeoutStrategy sets the per-signal timeout strategy.
func WithTimeoutStrategy(s TimeoutStrategy) Option {
	return func(c *Coordinator) { c.strategy = s }
}

// WithClock injects the clock used for deadlines and duration measurement.
// Tests substitute a fake clock; production code never needs this.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}
