package recording

import (
	"sort"

	"github.com/samber/lo"
)

// buildSummary aggregates the signal entries. The concurrency peak comes
// from a timeline sweep: +1 at each start_ms, -1 at each end_ms, ordered
// first by time then by delta, so an end and a start at the same instant
// never overcount.
func buildSummary(signals []SignalEntry) Summary {
	s := Summary{
		TotalSignals:   len(signals),
		SucceededCount: lo.CountBy(signals, func(e SignalEntry) bool { return e.Status == tokenSucceeded }),
		FailedCount:    lo.CountBy(signals, func(e SignalEntry) bool { return e.Status == tokenFailed }),
		TimedOutCount:  lo.CountBy(signals, func(e SignalEntry) bool { return e.Status == tokenTimedOut }),
		SkippedCount:   lo.CountBy(signals, func(e SignalEntry) bool { return e.Status == tokenSkipped }),
		CancelledCount: lo.CountBy(signals, func(e SignalEntry) bool { return e.Status == tokenCancelled }),
		MaxConcurrency: sweepPeak(signals),
	}

	ran := lo.Filter(signals, func(e SignalEntry, _ int) bool { return ranEntry(e) })
	if len(ran) == 0 {
		return s
	}

	slowest := lo.MaxBy(ran, func(a, b SignalEntry) bool { return a.DurationMS > b.DurationMS })
	fastest := lo.MinBy(ran, func(a, b SignalEntry) bool { return a.DurationMS < b.DurationMS })
	s.SlowestSignalName = lo.ToPtr(slowest.SignalName)
	s.SlowestDurationMS = slowest.DurationMS
	s.FastestSignalName = lo.ToPtr(fastest.SignalName)
	s.FastestDurationMS = fastest.DurationMS
	s.AverageDurationMS = lo.SumBy(ran, func(e SignalEntry) float64 { return e.DurationMS }) / float64(len(ran))
	return s
}

// ranEntry reports whether the signal's operation actually executed.
// Skipped and never-started cancellations carry zero-width intervals and
// would skew the duration statistics.
func ranEntry(e SignalEntry) bool {
	switch e.Status {
	case tokenSucceeded, tokenFailed, tokenTimedOut:
		return true
	}
	return e.DurationMS > 0
}

type sweepEvent struct {
	at    float64
	delta int
}

func sweepPeak(signals []SignalEntry) int {
	events := make([]sweepEvent, 0, 2*len(signals))
	for _, e := range signals {
		events = append(events, sweepEvent{at: e.StartMS, delta: +1}, sweepEvent{at: e.EndMS, delta: -1})
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		return events[i].delta < events[j].delta
	})

	current, peak := 0, 0
	for _, ev := range events {
		current += ev.delta
		if current > peak {
			peak = current
		}
	}
	return peak
}
