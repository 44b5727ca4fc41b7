package recording

import (
	"sort"

	"github.com/samber/lo"
)

// SignalChange is one classification field that differs between two
// recordings of the same signal.
type SignalChange struct {
	Name   string
	Field  string
	Before string
	After  string
}

// DiffReport compares two recordings of the same plan. Classification
// deltas (statuses, cancellation fields, final state, the timed-out flag)
// count as changes; duration deltas are reported but expected to vary
// between runs.
type DiffReport struct {
	Added   []string
	Removed []string

	StatusChanges  []SignalChange
	DurationDeltas map[string]float64

	FinalStateBefore string
	FinalStateAfter  string
	TimedOutBefore   bool
	TimedOutAfter    bool

	TotalDurationDeltaMS float64
}

// HasChanges reports whether the classifications differ. Duration noise
// alone does not count.
func (d *DiffReport) HasChanges() bool {
	return len(d.Added) > 0 ||
		len(d.Removed) > 0 ||
		len(d.StatusChanges) > 0 ||
		d.FinalStateBefore != d.FinalStateAfter ||
		d.TimedOutBefore != d.TimedOutAfter
}

// Diff compares two recordings signal by signal, in the first recording's
// order with additions appended.
func Diff(before, after *Recording) *DiffReport {
	report := &DiffReport{
		DurationDeltas:   make(map[string]float64),
		FinalStateBefore: deref(before.FinalState),
		FinalStateAfter:  deref(after.FinalState),
		TimedOutBefore:   before.TimedOut,
		TimedOutAfter:    after.TimedOut,

		TotalDurationDeltaMS: after.TotalDurationMS - before.TotalDurationMS,
	}

	afterByName := lo.SliceToMap(after.Signals, func(e SignalEntry) (string, SignalEntry) {
		return e.SignalName, e
	})
	beforeByName := lo.SliceToMap(before.Signals, func(e SignalEntry) (string, SignalEntry) {
		return e.SignalName, e
	})

	for _, b := range before.Signals {
		a, ok := afterByName[b.SignalName]
		if !ok {
			report.Removed = append(report.Removed, b.SignalName)
			continue
		}
		report.StatusChanges = append(report.StatusChanges, fieldChanges(b, a)...)
		if delta := a.DurationMS - b.DurationMS; delta != 0 {
			report.DurationDeltas[b.SignalName] = delta
		}
	}
	for _, a := range after.Signals {
		if _, ok := beforeByName[a.SignalName]; !ok {
			report.Added = append(report.Added, a.SignalName)
		}
	}
	return report
}

func fieldChanges(b, a SignalEntry) []SignalChange {
	var changes []SignalChange
	appendChange := func(field, before, after string) {
		if before != after {
			changes = append(changes, SignalChange{Name: b.SignalName, Field: field, Before: before, After: after})
		}
	}
	appendChange("status", b.Status, a.Status)
	appendChange("cancellation_reason", deref(b.CancellationReason), deref(a.CancellationReason))
	appendChange("cancelled_by_signal", deref(b.CancelledBySignal), deref(a.CancelledBySignal))
	appendChange("exception_message", deref(b.ExceptionMessage), deref(a.ExceptionMessage))
	return changes
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CriticalPath returns the dependency chain with the greatest cumulative
// recorded duration, root first, with that total in milliseconds. Signals
// on a dependency cycle (possible only in hand-edited documents) are
// excluded.
func (r *Recording) CriticalPath() ([]string, float64) {
	index := make(map[string]int, len(r.Signals))
	for i, s := range r.Signals {
		index[s.SignalName] = i
	}

	order := r.topoOrder(index)
	cost := make([]float64, len(r.Signals))
	prev := make([]int, len(r.Signals))
	for i := range prev {
		prev[i] = -1
	}

	for _, i := range order {
		best := 0.0
		bestDep := -1
		for _, dep := range r.Signals[i].Dependencies {
			j, known := index[dep]
			if !known {
				continue
			}
			if bestDep == -1 || cost[j] > best {
				best = cost[j]
				bestDep = j
			}
		}
		cost[i] = r.Signals[i].DurationMS + best
		prev[i] = bestDep
	}

	tail := -1
	for _, i := range order {
		if tail == -1 || cost[i] > cost[tail] {
			tail = i
		}
	}
	if tail == -1 {
		return nil, 0
	}

	var path []string
	for i := tail; i != -1; i = prev[i] {
		path = append(path, r.Signals[i].SignalName)
	}
	for l, h := 0, len(path)-1; l < h; l, h = l+1, h-1 {
		path[l], path[h] = path[h], path[l]
	}
	return path, cost[tail]
}

// topoOrder returns signal indices in dependency order, dependencies
// before dependents, document order breaking ties.
func (r *Recording) topoOrder(index map[string]int) []int {
	n := len(r.Signals)
	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, s := range r.Signals {
		for _, dep := range s.Dependencies {
			if j, known := index[dep]; known {
				indegree[i]++
				dependents[j] = append(dependents[j], i)
			}
		}
	}

	var queue []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	var order []int
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		var unlocked []int
		for _, j := range dependents[i] {
			indegree[j]--
			if indegree[j] == 0 {
				unlocked = append(unlocked, j)
			}
		}
		sort.Ints(unlocked)
		queue = append(queue, unlocked...)
	}
	return order
}

// SimulateConcurrency estimates the run's total duration had it executed
// under a different concurrency cap, replaying the recorded durations in
// recorded start order and honoring recorded dependencies. A cap of zero
// or less means unbounded.
func (r *Recording) SimulateConcurrency(limit int) float64 {
	order := make([]int, len(r.Signals))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return r.Signals[order[a]].StartMS < r.Signals[order[b]].StartMS
	})

	index := make(map[string]int, len(r.Signals))
	for i, s := range r.Signals {
		index[s.SignalName] = i
	}

	var workers []float64
	if limit > 0 {
		workers = make([]float64, limit)
	}

	finish := make([]float64, len(r.Signals))
	total := 0.0
	for _, i := range order {
		start := 0.0
		for _, dep := range r.Signals[i].Dependencies {
			if j, known := index[dep]; known && finish[j] > start {
				start = finish[j]
			}
		}
		if workers != nil {
			w := 0
			for k := 1; k < len(workers); k++ {
				if workers[k] < workers[w] {
					w = k
				}
			}
			if workers[w] > start {
				start = workers[w]
			}
			workers[w] = start + r.Signals[i].DurationMS
		}
		finish[i] = start + r.Signals[i].DurationMS
		if finish[i] > total {
			total = finish[i]
		}
	}
	return total
}

// SimulateWithout estimates the total duration with the named signals
// removed from the plan: they cost nothing but still pass their
// dependencies through to their dependents. Concurrency is treated as
// unbounded.
func (r *Recording) SimulateWithout(names ...string) float64 {
	removed := make(map[string]struct{}, len(names))
	for _, name := range names {
		removed[name] = struct{}{}
	}

	index := make(map[string]int, len(r.Signals))
	for i, s := range r.Signals {
		index[s.SignalName] = i
	}

	finish := make([]float64, len(r.Signals))
	total := 0.0
	for _, i := range r.topoOrder(index) {
		s := r.Signals[i]
		ready := 0.0
		for _, dep := range s.Dependencies {
			if j, known := index[dep]; known && finish[j] > ready {
				ready = finish[j]
			}
		}
		if _, gone := removed[s.SignalName]; gone {
			finish[i] = ready
			continue
		}
		finish[i] = ready + s.DurationMS
		if finish[i] > total {
			total = finish[i]
		}
	}
	return total
}
