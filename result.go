package ignition

import "time"

// Result is the memoized outcome of a coordinator run. It is constructed
// once, after the run finalizes, and shared by every caller; all accessors
// are safe for concurrent use and never re-invoke signal operations.
type Result struct {
	runID         string
	state         RunState
	records       []SignalRecord
	byName        map[string]int
	stages        []StageResult
	totalDuration time.Duration
	timedOut      bool
	startedAt     time.Time
	opts          Options
}

// RunID returns the unique identifier assigned to the run.
func (r *Result) RunID() string { return r.runID }

// FinalState returns the terminal run state. Precedence when mixed
// outcomes occurred: timed out over failed over completed.
func (r *Result) FinalState() RunState { return r.state }

// Records returns every signal record in registration order.
func (r *Result) Records() []SignalRecord {
	out := make([]SignalRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Record looks up a signal's record by name.
func (r *Result) Record(name string) (SignalRecord, bool) {
	i, ok := r.byName[name]
	if !ok {
		return SignalRecord{}, false
	}
	return r.records[i], true
}

// StageResults returns the per-stage outcomes ordered by stage number.
// Empty outside staged runs.
func (r *Result) StageResults() []StageResult {
	out := make([]StageResult, len(r.stages))
	copy(out, r.stages)
	return out
}

// TotalDuration returns the wall span of the run on the monotonic clock.
func (r *Result) TotalDuration() time.Duration { return r.totalDuration }

// TimedOut reports whether the global deadline fired in hard mode or any
// per-signal timeout occurred.
func (r *Result) TimedOut() bool { return r.timedOut }

// StartedAt returns the wall-clock time the run began. It exists for
// snapshot capture; classification never depends on wall time.
func (r *Result) StartedAt() time.Time { return r.startedAt }

// Options returns the effective options the run executed under.
func (r *Result) Options() Options { return r.opts }

// AllSucceeded reports whether every registered signal succeeded.
func (r *Result) AllSucceeded() bool {
	for _, rec := range r.records {
		if rec.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// HasFailures reports whether any signal failed.
func (r *Result) HasFailures() bool {
	for _, rec := range r.records {
		if rec.Status == StatusFailed {
			return true
		}
	}
	return false
}

// HasTimeouts reports whether any signal timed out.
func (r *Result) HasTimeouts() bool {
	for _, rec := range r.records {
		if rec.Status == StatusTimedOut {
			return true
		}
	}
	return false
}

func newResult(runID string, state RunState, records []SignalRecord, stages []StageResult, total time.Duration, timedOut bool, startedAt time.Time, opts Options) *Result {
	byName := make(map[string]int, len(records))
	for i, rec := range records {
		byName[rec.Name] = i
	}
	return &Result{
		runID:         runID,
		state:         state,
		records:       records,
		byName:        byName,
		stages:        stages,
		totalDuration: total,
		timedOut:      timedOut,
		startedAt:     startedAt,
		opts:          opts,
	}
}
