package recording

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(name, status string, start, end float64) SignalEntry {
	return SignalEntry{
		SignalName: name,
		Status:     status,
		StartMS:    start,
		EndMS:      end,
		DurationMS: end - start,
	}
}

func TestSweepPeak(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		signals []SignalEntry
		want    int
	}{
		{
			"no signals",
			nil,
			0,
		},
		{
			"three overlapping",
			[]SignalEntry{
				entry("a", tokenSucceeded, 0, 100),
				entry("b", tokenSucceeded, 10, 90),
				entry("c", tokenSucceeded, 20, 80),
			},
			3,
		},
		{
			"strictly sequential",
			[]SignalEntry{
				entry("a", tokenSucceeded, 0, 50),
				entry("b", tokenSucceeded, 60, 100),
			},
			1,
		},
		{
			"end and start at the same instant do not overlap",
			[]SignalEntry{
				entry("a", tokenSucceeded, 0, 50),
				entry("b", tokenSucceeded, 50, 100),
			},
			1,
		},
		{
			"staircase",
			[]SignalEntry{
				entry("a", tokenSucceeded, 0, 30),
				entry("b", tokenSucceeded, 10, 40),
				entry("c", tokenSucceeded, 35, 60),
			},
			2,
		},
		{
			"zero width intervals never register",
			[]SignalEntry{
				entry("a", tokenSkipped, 0, 0),
				entry("b", tokenSkipped, 0, 0),
			},
			0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sweepPeak(tt.signals))
		})
	}
}

func TestBuildSummaryCounts(t *testing.T) {
	t.Parallel()

	signals := []SignalEntry{
		entry("ok1", tokenSucceeded, 0, 100),
		entry("ok2", tokenSucceeded, 0, 40),
		entry("bad", tokenFailed, 0, 70),
		entry("late", tokenTimedOut, 0, 300),
		entry("skip", tokenSkipped, 0, 0),
		entry("gone", tokenCancelled, 0, 0),
	}

	s := buildSummary(signals)
	assert.Equal(t, 6, s.TotalSignals)
	assert.Equal(t, 2, s.SucceededCount)
	assert.Equal(t, 1, s.FailedCount)
	assert.Equal(t, 1, s.TimedOutCount)
	assert.Equal(t, 1, s.SkippedCount)
	assert.Equal(t, 1, s.CancelledCount)
	assert.Equal(t, 4, s.MaxConcurrency)

	require.NotNil(t, s.SlowestSignalName)
	assert.Equal(t, "late", *s.SlowestSignalName)
	assert.Equal(t, 300.0, s.SlowestDurationMS)
	require.NotNil(t, s.FastestSignalName)
	assert.Equal(t, "ok2", *s.FastestSignalName, "zero-width skip entries are not duration candidates")
	assert.Equal(t, 40.0, s.FastestDurationMS)
	assert.InDelta(t, (100.0+40+70+300)/4, s.AverageDurationMS, 1e-9)
}

func TestBuildSummaryNothingRan(t *testing.T) {
	t.Parallel()

	s := buildSummary([]SignalEntry{
		entry("skip1", tokenSkipped, 0, 0),
		entry("skip2", tokenSkipped, 0, 0),
	})
	assert.Equal(t, 2, s.TotalSignals)
	assert.Nil(t, s.SlowestSignalName)
	assert.Nil(t, s.FastestSignalName)
	assert.Zero(t, s.AverageDurationMS)
}

func TestBuildSummaryTies(t *testing.T) {
	t.Parallel()

	s := buildSummary([]SignalEntry{
		entry("first", tokenSucceeded, 0, 50),
		entry("second", tokenSucceeded, 0, 50),
	})
	require.NotNil(t, s.SlowestSignalName)
	assert.Equal(t, "first", *s.SlowestSignalName, "ties resolve to document order")
	require.NotNil(t, s.FastestSignalName)
	assert.Equal(t, "first", *s.FastestSignalName)
}

func TestBuildSummaryCancelledWithDuration(t *testing.T) {
	t.Parallel()

	// A cancelled signal that ran before being reaped still contributes
	// to the duration statistics.
	s := buildSummary([]SignalEntry{
		entry("ran", tokenCancelled, 0, 80),
		entry("ok", tokenSucceeded, 0, 20),
	})
	require.NotNil(t, s.SlowestSignalName)
	assert.Equal(t, "ran", *s.SlowestSignalName)
	assert.InDelta(t, 50.0, s.AverageDurationMS, 1e-9)
}
