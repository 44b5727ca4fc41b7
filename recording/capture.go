package recording

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/veggerby/ignition"
)

// CaptureOption adjusts how a result is captured.
type CaptureOption func(*captureConfig)

type captureConfig struct {
	recordedAt time.Time
	metadata   map[string]string
}

// WithRecordedAt pins the capture timestamp. Defaults to the current time
// in UTC.
func WithRecordedAt(t time.Time) CaptureOption {
	return func(c *captureConfig) { c.recordedAt = t }
}

// WithMetadata attaches caller-supplied metadata to the document.
func WithMetadata(md map[string]string) CaptureOption {
	return func(c *captureConfig) {
		if c.metadata == nil {
			c.metadata = make(map[string]string, len(md))
		}
		for k, v := range md {
			c.metadata[k] = v
		}
	}
}

// Capture snapshots a run result as a recording document.
func Capture(res *ignition.Result, opts ...CaptureOption) *Recording {
	cfg := captureConfig{recordedAt: time.Now().UTC()}
	for _, opt := range opts {
		opt(&cfg)
	}

	metadata := cfg.metadata
	if res.RunID() != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["run_id"] = res.RunID()
	}

	signals := lo.Map(res.Records(), func(rec ignition.SignalRecord, _ int) SignalEntry {
		return signalEntry(rec)
	})

	var stages []StageEntry
	for _, st := range res.StageResults() {
		stages = append(stages, StageEntry{
			StageNumber:    st.Number,
			StartMS:        msFloat(st.StartedAt),
			EndMS:          msFloat(st.CompletedAt),
			DurationMS:     msFloat(st.Duration),
			SignalCount:    st.SignalCount(),
			SucceededCount: st.SucceededCount,
			FailedCount:    st.FailedCount,
			TimedOutCount:  st.TimedOutCount,
			EarlyPromoted:  st.Promoted,
		})
	}

	return &Recording{
		RecordedAt:      cfg.recordedAt,
		TotalDurationMS: msFloat(res.TotalDuration()),
		TimedOut:        res.TimedOut(),
		FinalState:      lo.ToPtr(stateToken(res.FinalState())),
		Configuration:   configurationOf(res.Options()),
		Signals:         signals,
		Stages:          stages,
		Summary:         buildSummary(signals),
		Metadata:        metadata,
	}
}

func signalEntry(rec ignition.SignalRecord) SignalEntry {
	entry := SignalEntry{
		SignalName:         rec.Name,
		Status:             statusToken(rec.Status),
		StartMS:            msFloat(rec.StartedAt),
		EndMS:              msFloat(rec.CompletedAt),
		DurationMS:         msFloat(rec.Duration),
		Dependencies:       nilIfEmpty(rec.Dependencies),
		FailedDependencies: nilIfEmpty(rec.FailedDependencies),
	}
	if rec.Stage >= 0 {
		entry.Stage = lo.ToPtr(rec.Stage)
	}
	if rec.CancellationReason != ignition.ReasonNone {
		entry.CancellationReason = lo.ToPtr(reasonToken(rec.CancellationReason))
	}
	if rec.CanceledBy != "" {
		entry.CancelledBySignal = lo.ToPtr(rec.CanceledBy)
	}
	if rec.Err != nil {
		entry.ExceptionType = lo.ToPtr(fmt.Sprintf("%T", rec.Err))
		entry.ExceptionMessage = lo.ToPtr(rec.Err.Error())
	}
	return entry
}

func configurationOf(opts ignition.Options) *Configuration {
	policy := "best_effort"
	if opts.Policy != nil {
		policy = opts.Policy.Name()
	}
	return &Configuration{
		ExecutionMode:             modeToken(opts.Mode),
		Policy:                    policyToken(policy),
		GlobalTimeoutMS:           msFloat(opts.GlobalTimeout),
		CancelOnGlobalTimeout:     opts.CancelOnGlobalTimeout,
		CancelIndividualOnTimeout: opts.CancelIndividualOnTimeout,
		MaxDegreeOfParallelism:    opts.MaxConcurrency,
		StagePolicy:               stagePolicyToken(opts.StagePolicy),
		EarlyPromotionThreshold:   opts.EarlyPromotionThreshold,
		CancelDependentsOnFailure: opts.CancelDependentsOnFailure,
	}
}

func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func nilIfEmpty(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	return list
}
