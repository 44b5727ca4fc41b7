package recording

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veggerby/ignition"
)

func captureRun(t *testing.T, opts ...CaptureOption) *Recording {
	t.Helper()

	bang := errors.New("bang")
	c, err := ignition.New(ignition.WithMode(ignition.ModeDependency))
	require.NoError(t, err)
	require.NoError(t, c.Register("db", func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}))
	require.NoError(t, c.Register("cache", func(context.Context) error { return bang }))
	require.NoError(t, c.Register("api", func(context.Context) error { return nil }))
	require.NoError(t, c.RegisterDependencies("api", "db", "cache"))

	res, err := c.RunAll(context.Background())
	require.NoError(t, err)
	return Capture(res, opts...)
}

func TestCaptureFromRun(t *testing.T) {
	t.Parallel()

	recordedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	rec := captureRun(t,
		WithRecordedAt(recordedAt),
		WithMetadata(map[string]string{"environment": "test"}),
	)

	assert.Equal(t, recordedAt, rec.RecordedAt)
	require.NotNil(t, rec.FinalState)
	assert.Equal(t, "Failed", *rec.FinalState)
	assert.False(t, rec.TimedOut)
	assert.Greater(t, rec.TotalDurationMS, 0.0)
	assert.Equal(t, "test", rec.Metadata["environment"])
	assert.NotEmpty(t, rec.Metadata["run_id"])

	require.NotNil(t, rec.Configuration)
	assert.Equal(t, "DependencyAware", rec.Configuration.ExecutionMode)
	assert.Equal(t, "BestEffort", rec.Configuration.Policy)
	assert.Equal(t, 30000.0, rec.Configuration.GlobalTimeoutMS)
	assert.Equal(t, "AllMustSucceed", rec.Configuration.StagePolicy)

	require.Len(t, rec.Signals, 3)
	byName := lo.SliceToMap(rec.Signals, func(e SignalEntry) (string, SignalEntry) {
		return e.SignalName, e
	})

	db := byName["db"]
	assert.Equal(t, "Succeeded", db.Status)
	assert.GreaterOrEqual(t, db.DurationMS, 20.0)
	assert.Nil(t, db.Stage, "unstaged runs carry no stage number")
	assert.Nil(t, db.CancellationReason)
	assert.Nil(t, db.ExceptionType)

	cache := byName["cache"]
	assert.Equal(t, "Failed", cache.Status)
	require.NotNil(t, cache.ExceptionType)
	assert.Equal(t, "*errors.errorString", *cache.ExceptionType)
	require.NotNil(t, cache.ExceptionMessage)
	assert.Equal(t, "bang", *cache.ExceptionMessage)

	api := byName["api"]
	assert.Equal(t, "Skipped", api.Status)
	assert.Equal(t, []string{"db", "cache"}, api.Dependencies)
	assert.Equal(t, []string{"cache"}, api.FailedDependencies)
	assert.Equal(t, 0.0, api.DurationMS)

	assert.Equal(t, 3, rec.Summary.TotalSignals)
	assert.Equal(t, 1, rec.Summary.SucceededCount)
	assert.Equal(t, 1, rec.Summary.FailedCount)
	assert.Equal(t, 1, rec.Summary.SkippedCount)
	require.NotNil(t, rec.Summary.SlowestSignalName)
	assert.Equal(t, "db", *rec.Summary.SlowestSignalName)
}

func TestCaptureStagedRun(t *testing.T) {
	t.Parallel()

	opts := ignition.DefaultOptions()
	opts.Mode = ignition.ModeStaged
	c, err := ignition.New(ignition.WithOptions(opts))
	require.NoError(t, err)
	require.NoError(t, c.Register("one", func(context.Context) error { return nil }))
	require.NoError(t, c.Register("two", func(context.Context) error { return nil }))

	plan, err := ignition.NewStagePlan(
		ignition.Stage{Number: 0, Signals: []string{"one"}},
		ignition.Stage{Number: 1, Signals: []string{"two"}},
	)
	require.NoError(t, err)
	require.NoError(t, c.ConfigureStages(plan))

	res, err := c.RunAll(context.Background())
	require.NoError(t, err)
	rec := Capture(res)

	require.Len(t, rec.Stages, 2)
	assert.Equal(t, 0, rec.Stages[0].StageNumber)
	assert.Equal(t, 1, rec.Stages[0].SignalCount)
	assert.Equal(t, 1, rec.Stages[0].SucceededCount)
	assert.Equal(t, 1, rec.Stages[1].StageNumber)

	require.NotNil(t, rec.Signals[0].Stage)
	assert.Equal(t, 0, *rec.Signals[0].Stage)
	require.NotNil(t, rec.Signals[1].Stage)
	assert.Equal(t, 1, *rec.Signals[1].Stage)
}

func TestRecordingDocumentLayout(t *testing.T) {
	t.Parallel()

	rec := &Recording{
		RecordedAt:      time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		TotalDurationMS: 120.5,
		FinalState:      lo.ToPtr("Completed"),
		Signals: []SignalEntry{{
			SignalName: "db",
			Status:     "Succeeded",
			EndMS:      120.5,
			DurationMS: 120.5,
		}},
		Summary: Summary{
			TotalSignals:      1,
			SucceededCount:    1,
			MaxConcurrency:    1,
			SlowestSignalName: lo.ToPtr("db"),
			SlowestDurationMS: 120.5,
			FastestSignalName: lo.ToPtr("db"),
			FastestDurationMS: 120.5,
			AverageDurationMS: 120.5,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, rec.Write(&buf))

	want := `{
  "recorded_at": "2026-01-02T15:04:05Z",
  "total_duration_ms": 120.5,
  "timed_out": false,
  "final_state": "Completed",
  "configuration": null,
  "signals": [
    {
      "signal_name": "db",
      "status": "Succeeded",
      "start_ms": 0,
      "end_ms": 120.5,
      "duration_ms": 120.5,
      "stage": null,
      "dependencies": null,
      "failed_dependencies": null,
      "cancellation_reason": null,
      "cancelled_by_signal": null,
      "exception_type": null,
      "exception_message": null
    }
  ],
  "stages": null,
  "summary": {
    "total_signals": 1,
    "succeeded_count": 1,
    "failed_count": 0,
    "timed_out_count": 0,
    "skipped_count": 0,
    "cancelled_count": 0,
    "max_concurrency": 1,
    "slowest_signal_name": "db",
    "slowest_duration_ms": 120.5,
    "fastest_signal_name": "db",
    "fastest_duration_ms": 120.5,
    "average_duration_ms": 120.5
  },
  "metadata": null
}
`
	assert.Equal(t, want, buf.String())
}

func TestRecordingRoundTripBitExact(t *testing.T) {
	t.Parallel()

	rec := captureRun(t, WithRecordedAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)))

	var first bytes.Buffer
	require.NoError(t, rec.Write(&first))

	parsed, err := Read(bytes.NewReader(first.Bytes()))
	require.NoError(t, err)

	var second bytes.Buffer
	require.NoError(t, parsed.Write(&second))
	assert.Equal(t, first.String(), second.String(), "parse and re-marshal must be byte-identical")
}

func TestReadRejectsMalformedDocuments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"invalid json", `{"recorded_at":`},
		{"bad status token", `{"signals":[{"signal_name":"a","status":"succeeded"}]}`},
		{"bad reason token", `{"signals":[{"signal_name":"a","status":"Cancelled","cancellation_reason":"timeout"}]}`},
		{"bad final state", `{"final_state":"Done","signals":[]}`},
		{"bad execution mode", `{"configuration":{"execution_mode":"Fast","stage_policy":"AllMustSucceed"},"signals":[]}`},
		{"negative duration", `{"signals":[{"signal_name":"a","status":"Succeeded","duration_ms":-1}]}`},
		{"negative total", `{"total_duration_ms":-5,"signals":[]}`},
		{"empty signal name", `{"signals":[{"signal_name":"","status":"Succeeded"}]}`},
		{"duplicate signal", `{"signals":[{"signal_name":"a","status":"Succeeded"},{"signal_name":"a","status":"Failed"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.doc))
			require.ErrorIs(t, err, ErrMalformedRecording)
		})
	}
}

func TestReadAcceptsForeignDocument(t *testing.T) {
	t.Parallel()

	// A document with fractional offsets and every nullable field null.
	doc := `{
  "recorded_at": "2024-06-01T10:30:00.123Z",
  "total_duration_ms": 1523.874,
  "timed_out": true,
  "final_state": "TimedOut",
  "configuration": null,
  "signals": [
    {
      "signal_name": "warmup",
      "status": "TimedOut",
      "start_ms": 0.102,
      "end_ms": 1500.33,
      "duration_ms": 1500.228,
      "stage": null,
      "dependencies": null,
      "failed_dependencies": null,
      "cancellation_reason": "PerSignalTimeout",
      "cancelled_by_signal": null,
      "exception_type": null,
      "exception_message": null
    }
  ],
  "stages": null,
  "summary": {},
  "metadata": null
}`
	rec, err := Read(strings.NewReader(doc))
	require.NoError(t, err)
	assert.True(t, rec.TimedOut)
	assert.Equal(t, 1523.874, rec.TotalDurationMS)
	assert.Equal(t, 1500.228, rec.Signals[0].DurationMS)
	require.NotNil(t, rec.Signals[0].CancellationReason)
	assert.Equal(t, "PerSignalTimeout", *rec.Signals[0].CancellationReason)
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	rec := captureRun(t, WithRecordedAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)))
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, rec.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestConfigurationCoordinatorOptions(t *testing.T) {
	t.Parallel()

	cfg := Configuration{
		ExecutionMode:             "DependencyAware",
		Policy:                    "FailFast",
		GlobalTimeoutMS:           45000,
		CancelOnGlobalTimeout:     true,
		CancelIndividualOnTimeout: true,
		MaxDegreeOfParallelism:    4,
		StagePolicy:               "EarlyPromotion",
		EarlyPromotionThreshold:   0.75,
		CancelDependentsOnFailure: true,
	}

	opts, err := cfg.CoordinatorOptions()
	require.NoError(t, err)
	assert.Equal(t, ignition.ModeDependency, opts.Mode)
	assert.Equal(t, "fail_fast", opts.Policy.Name())
	assert.Equal(t, 45*time.Second, opts.GlobalTimeout)
	assert.True(t, opts.CancelOnGlobalTimeout)
	assert.True(t, opts.CancelIndividualOnTimeout)
	assert.Equal(t, 4, opts.MaxConcurrency)
	assert.Equal(t, ignition.StageEarlyPromotion, opts.StagePolicy)
	assert.Equal(t, 0.75, opts.EarlyPromotionThreshold)
	assert.True(t, opts.CancelDependentsOnFailure)
}

func TestConfigurationCoordinatorOptionsRejectsCustomPolicy(t *testing.T) {
	t.Parallel()

	cfg := Configuration{
		ExecutionMode:   "Parallel",
		Policy:          "quorum_2",
		GlobalTimeoutMS: 1000,
		StagePolicy:     "AllMustSucceed",
	}
	_, err := cfg.CoordinatorOptions()
	assert.ErrorIs(t, err, ignition.ErrUnknownPolicy)
}

func TestTokenRoundTrips(t *testing.T) {
	t.Parallel()

	for _, s := range []ignition.SignalStatus{
		ignition.StatusNotStarted, ignition.StatusRunning, ignition.StatusSucceeded,
		ignition.StatusFailed, ignition.StatusTimedOut, ignition.StatusSkipped, ignition.StatusCanceled,
	} {
		got, err := parseStatusToken(statusToken(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	for _, m := range []ignition.ExecutionMode{
		ignition.ModeParallel, ignition.ModeSequential, ignition.ModeDependency, ignition.ModeStaged,
	} {
		got, err := parseModeToken(modeToken(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	for _, r := range []ignition.CancellationReason{
		ignition.ReasonNone, ignition.ReasonGlobalTimeout, ignition.ReasonDependencyFailed,
		ignition.ReasonPolicyStop, ignition.ReasonPerSignalTimeout, ignition.ReasonExternalCancel,
	} {
		got, err := parseReasonToken(reasonToken(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	for _, st := range []ignition.RunState{
		ignition.StateNotStarted, ignition.StateRunning, ignition.StateCompleted,
		ignition.StateFailed, ignition.StateTimedOut,
	} {
		got, err := parseStateToken(stateToken(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	for _, p := range []ignition.StagePolicy{
		ignition.StageAllMustSucceed, ignition.StageBestEffort,
		ignition.StageFailFast, ignition.StageEarlyPromotion,
	} {
		got, err := parseStagePolicyToken(stagePolicyToken(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	assert.Equal(t, "BestEffort", policyToken("best_effort"))
	assert.Equal(t, "my_policy", policyToken("my_policy"), "custom names travel verbatim")
	assert.Equal(t, "fail_fast", parsePolicyToken("FailFast"))
}
