// Package recording captures coordinator results as canonical JSON
// documents for replay, offline comparison and what-if analysis. The wire
// format is stable: field names, nullability and token spellings survive a
// round trip bit for bit.
package recording

import (
	"errors"
	"fmt"
	"time"

	"github.com/veggerby/ignition"
)

// ErrMalformedRecording reports a document that does not conform to the
// recording format.
var ErrMalformedRecording = errors.New("malformed recording")

// Recording is one captured run. Field order matches the canonical
// document layout.
type Recording struct {
	RecordedAt      time.Time         `json:"recorded_at"`
	TotalDurationMS float64           `json:"total_duration_ms"`
	TimedOut        bool              `json:"timed_out"`
	FinalState      *string           `json:"final_state"`
	Configuration   *Configuration    `json:"configuration"`
	Signals         []SignalEntry     `json:"signals"`
	Stages          []StageEntry      `json:"stages"`
	Summary         Summary           `json:"summary"`
	Metadata        map[string]string `json:"metadata"`
}

// Configuration mirrors the options the run executed under.
type Configuration struct {
	ExecutionMode             string  `json:"execution_mode"`
	Policy                    string  `json:"policy"`
	GlobalTimeoutMS           float64 `json:"global_timeout_ms"`
	CancelOnGlobalTimeout     bool    `json:"cancel_on_global_timeout"`
	CancelIndividualOnTimeout bool    `json:"cancel_individual_on_timeout"`
	MaxDegreeOfParallelism    int     `json:"max_degree_of_parallelism"`
	StagePolicy               string  `json:"stage_policy"`
	EarlyPromotionThreshold   float64 `json:"early_promotion_threshold"`
	CancelDependentsOnFailure bool    `json:"cancel_dependents_on_failure"`
}

// SignalEntry is one signal's outcome on the wire. Offsets and durations
// are milliseconds from the run start.
type SignalEntry struct {
	SignalName         string   `json:"signal_name"`
	Status             string   `json:"status"`
	StartMS            float64  `json:"start_ms"`
	EndMS              float64  `json:"end_ms"`
	DurationMS         float64  `json:"duration_ms"`
	Stage              *int     `json:"stage"`
	Dependencies       []string `json:"dependencies"`
	FailedDependencies []string `json:"failed_dependencies"`
	CancellationReason *string  `json:"cancellation_reason"`
	CancelledBySignal  *string  `json:"cancelled_by_signal"`
	ExceptionType      *string  `json:"exception_type"`
	ExceptionMessage   *string  `json:"exception_message"`
}

// StageEntry is one stage's aggregate on the wire.
type StageEntry struct {
	StageNumber    int     `json:"stage_number"`
	StartMS        float64 `json:"start_ms"`
	EndMS          float64 `json:"end_ms"`
	DurationMS     float64 `json:"duration_ms"`
	SignalCount    int     `json:"signal_count"`
	SucceededCount int     `json:"succeeded_count"`
	FailedCount    int     `json:"failed_count"`
	TimedOutCount  int     `json:"timed_out_count"`
	EarlyPromoted  bool    `json:"early_promoted"`
}

// Summary aggregates the run. MaxConcurrency is the observed peak from the
// timeline sweep, not the configured cap.
type Summary struct {
	TotalSignals      int     `json:"total_signals"`
	SucceededCount    int     `json:"succeeded_count"`
	FailedCount       int     `json:"failed_count"`
	TimedOutCount     int     `json:"timed_out_count"`
	SkippedCount      int     `json:"skipped_count"`
	CancelledCount    int     `json:"cancelled_count"`
	MaxConcurrency    int     `json:"max_concurrency"`
	SlowestSignalName *string `json:"slowest_signal_name"`
	SlowestDurationMS float64 `json:"slowest_duration_ms"`
	FastestSignalName *string `json:"fastest_signal_name"`
	FastestDurationMS float64 `json:"fastest_duration_ms"`
	AverageDurationMS float64 `json:"average_duration_ms"`
}

// CoordinatorOptions reconstructs run options from a recorded
// configuration, for re-running a captured plan. Built-in policy tokens
// resolve to their policies; a custom policy name cannot be materialized
// from a document and is an error.
func (c *Configuration) CoordinatorOptions() (ignition.Options, error) {
	opts := ignition.DefaultOptions()

	mode, err := parseModeToken(c.ExecutionMode)
	if err != nil {
		return opts, err
	}
	opts.Mode = mode

	policy, err := ignition.ParsePolicy(parsePolicyToken(c.Policy))
	if err != nil {
		return opts, err
	}
	opts.Policy = policy

	stagePolicy, err := parseStagePolicyToken(c.StagePolicy)
	if err != nil {
		return opts, err
	}
	opts.StagePolicy = stagePolicy

	opts.GlobalTimeout = time.Duration(c.GlobalTimeoutMS * float64(time.Millisecond))
	opts.CancelOnGlobalTimeout = c.CancelOnGlobalTimeout
	opts.CancelIndividualOnTimeout = c.CancelIndividualOnTimeout
	opts.MaxConcurrency = c.MaxDegreeOfParallelism
	opts.EarlyPromotionThreshold = c.EarlyPromotionThreshold
	opts.CancelDependentsOnFailure = c.CancelDependentsOnFailure
	return opts, opts.Validate()
}

// validate checks token spellings and duration signs on an ingested
// document.
func (r *Recording) validate() error {
	if r.TotalDurationMS < 0 {
		return fmt.Errorf("%w: negative total_duration_ms", ErrMalformedRecording)
	}
	if r.FinalState != nil {
		if _, err := parseStateToken(*r.FinalState); err != nil {
			return err
		}
	}
	if r.Configuration != nil {
		if _, err := parseModeToken(r.Configuration.ExecutionMode); err != nil {
			return err
		}
		if _, err := parseStagePolicyToken(r.Configuration.StagePolicy); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(r.Signals))
	for _, s := range r.Signals {
		if s.SignalName == "" {
			return fmt.Errorf("%w: signal with empty name", ErrMalformedRecording)
		}
		if _, dup := seen[s.SignalName]; dup {
			return fmt.Errorf("%w: duplicate signal %q", ErrMalformedRecording, s.SignalName)
		}
		seen[s.SignalName] = struct{}{}
		if _, err := parseStatusToken(s.Status); err != nil {
			return fmt.Errorf("signal %q: %w", s.SignalName, err)
		}
		if s.CancellationReason != nil {
			if _, err := parseReasonToken(*s.CancellationReason); err != nil {
				return fmt.Errorf("signal %q: %w", s.SignalName, err)
			}
		}
		if s.StartMS < 0 || s.EndMS < 0 || s.DurationMS < 0 {
			return fmt.Errorf("%w: negative duration on signal %q", ErrMalformedRecording, s.SignalName)
		}
	}
	for _, st := range r.Stages {
		if st.StartMS < 0 || st.EndMS < 0 || st.DurationMS < 0 {
			return fmt.Errorf("%w: negative duration on stage %d", ErrMalformedRecording, st.StageNumber)
		}
	}
	return nil
}
