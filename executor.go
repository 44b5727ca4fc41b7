package ignition

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/veggerby/ignition/internal/logger"
)

// depEvent tells a dependency-aware driver that a batch member settled.
type depEvent struct {
	name   string
	status SignalStatus
}

// haltFunc reports whether a batch driver must stop starting signals.
type haltFunc func() bool

// execution carries the state of one coordinator run, from RunAll entry
// until the result is finalized. Every completion funnels through its
// classification critical section, so classification, policy invocation,
// and stage accounting are serialized even in parallel modes.
type execution struct {
	opts     Options
	strategy TimeoutStrategy
	clk      clock.Clock
	nodes    []*node
	byName   map[string]*node
	graph    *DependencyGraph
	stages   []*resolvedStage

	ctx      context.Context
	cancel   context.CancelCauseFunc
	runStart time.Time

	sem *semaphore.Weighted

	abortOnce sync.Once
	abort     chan struct{}

	globalElapsed atomic.Bool
	hardAborted   atomic.Bool
	timedOutFlag  atomic.Bool

	mu        sync.Mutex
	finalized bool
	stopped   bool
	completed []SignalRecord
	failures  []error
}

func newExecution(ctx context.Context, cancel context.CancelCauseFunc, opts Options, strategy TimeoutStrategy, clk clock.Clock, nodes []*node, byName map[string]*node, graph *DependencyGraph) *execution {
	e := &execution{
		opts:     opts,
		strategy: strategy,
		clk:      clk,
		nodes:    nodes,
		byName:   byName,
		graph:    graph,
		ctx:      ctx,
		cancel:   cancel,
		runStart: clk.Now(),
		abort:    make(chan struct{}),
	}
	if opts.MaxConcurrency > 0 && opts.Mode != ModeSequential {
		e.sem = semaphore.NewWeighted(int64(opts.MaxConcurrency))
	}
	return e
}

// run drives the batch under the configured mode and returns when every
// signal has settled, the policy has stopped the run and in-flight work
// has drained, or the run was aborted.
func (e *execution) run() {
	switch e.opts.Mode {
	case ModeSequential:
		e.runSequential(e.ctx, e.nodes, e.isStopped)
	case ModeDependency:
		e.runDependency(e.ctx, e.nodes, e.isStopped)
	case ModeStaged:
		e.runStaged(e.ctx, e.stages)
	default:
		e.runParallel(e.ctx, e.nodes, e.isStopped)
	}
}

// watch arms the global deadline timer and turns external cancellation
// into an abort. In soft mode an expired deadline only raises the
// elapsed flag for policy contexts; the run keeps waiting.
func (e *execution) watch(execDone <-chan struct{}) {
	timer := e.clk.NewTimer(e.opts.GlobalTimeout)
	defer timer.Stop()
	timerC := timer.C()

	for {
		select {
		case <-timerC:
			timerC = nil
			e.globalElapsed.Store(true)
			if e.opts.CancelOnGlobalTimeout {
				e.timedOutFlag.Store(true)
				e.hardAborted.Store(true)
				logger.Warn(e.ctx, "Global deadline expired; cancelling run", "timeout", e.opts.GlobalTimeout)
				e.cancel(&cancelCause{reason: ReasonGlobalTimeout})
				e.closeAbort()
				return
			}
			logger.Warn(e.ctx, "Global deadline elapsed; waiting for pending signals", "timeout", e.opts.GlobalTimeout)
		case <-e.ctx.Done():
			e.closeAbort()
			return
		case <-execDone:
			return
		}
	}
}

func (e *execution) closeAbort() {
	e.abortOnce.Do(func() { close(e.abort) })
}

func (e *execution) aborted() bool {
	select {
	case <-e.abort:
		return true
	default:
		return false
	}
}

func (e *execution) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// runSignal starts one signal and watches it to completion: it consults
// the timeout strategy, derives the signal's cancellation scope, arms the
// per-signal timer, and feeds the completion into the classification
// funnel. It blocks until the signal completes or the run aborts.
func (e *execution) runSignal(parent context.Context, n *node) {
	if n.settled() {
		return
	}
	dec := e.strategy.Decide(n.signal, e.opts)
	sctx, cancel := context.WithCancelCause(parent)
	n.setScope(sctx, cancel)
	defer cancel(nil)

	var timerC <-chan time.Time
	if dec.Timeout > 0 {
		timer := e.clk.NewTimer(dec.Timeout)
		defer timer.Stop()
		timerC = timer.C()
	}

	n.markRunning(e.clk.Since(e.runStart))
	n.signal.start(sctx)
	logger.Debug(sctx, "Signal started", "signal", n.name(), "timeout", dec.Timeout)

	for {
		select {
		case <-n.signal.completed():
			e.observeCompletion(sctx, n, n.signal.err())
			return
		case <-timerC:
			timerC = nil
			e.timedOutFlag.Store(true)
			if dec.CancelOnTimeout {
				logger.Warn(sctx, "Signal deadline expired; cancelling", "signal", n.name(), "timeout", dec.Timeout)
				cancel(&cancelCause{reason: ReasonPerSignalTimeout})
			} else {
				logger.Warn(sctx, "Signal deadline expired; verdict frozen", "signal", n.name(), "timeout", dec.Timeout)
				n.freezeTimedOut()
			}
		case <-e.abort:
			return
		}
	}
}

// observeCompletion classifies a finished operation and records it.
// Completions arriving after finalization are discarded.
func (e *execution) observeCompletion(scope context.Context, n *node, opErr error) {
	status, reason, canceledBy := classifyCompletion(opErr, scope)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return
	}
	if !n.finish(status, e.clk.Since(e.runStart), opErr, reason, canceledBy) {
		return
	}
	rec := n.snapshot(e.graph.Dependencies(n.name()))
	logger.Debug(e.ctx, "Signal completed", "signal", rec.Name, "status", rec.Status.String(), "duration", rec.Duration)
	e.settleLocked(n, rec, true)
}

// adminSettle settles a node without an operation completion: skips,
// dependency propagation, and policy-stop bookkeeping.
func (e *execution) adminSettle(n *node, status SignalStatus, reason CancellationReason, canceledBy string, failedDeps []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return
	}
	if !n.adminFinish(status, reason, canceledBy, failedDeps, e.clk.Since(e.runStart)) {
		return
	}
	rec := n.snapshot(e.graph.Dependencies(n.name()))
	e.settleLocked(n, rec, false)
}

// settleLocked appends the record in completion order, updates stage
// accounting, notifies the dependency driver, and for operation
// completions consults the policy. The caller holds e.mu.
func (e *execution) settleLocked(n *node, rec SignalRecord, viaOp bool) {
	e.completed = append(e.completed, rec)
	if rec.Status == StatusFailed {
		e.failures = append(e.failures, &SignalError{Signal: rec.Name, Err: rec.Err})
	}
	if rec.Status == StatusTimedOut {
		e.timedOutFlag.Store(true)
	}
	for _, sr := range n.stagePath {
		sr.settleLocked(e, rec.Status)
	}

	if viaOp && !e.stopped {
		pctx := PolicyContext{
			Latest:                rec,
			Completed:             append([]SignalRecord(nil), e.completed...),
			TotalSignals:          len(e.nodes),
			Elapsed:               e.clk.Since(e.runStart),
			GlobalDeadlineElapsed: e.globalElapsed.Load(),
			Mode:                  e.opts.Mode,
		}
		if !e.opts.Policy.ShouldContinue(pctx) {
			e.stopped = true
			logger.Info(e.ctx, "Policy halted further signal starts",
				"policy", e.opts.policyName(), "signal", rec.Name, "status", rec.Status.String())
			if e.opts.CancelOnGlobalTimeout {
				// Hard-stop disposition: reap in-flight work instead of
				// letting it drain.
				e.cancelInFlightLocked(&cancelCause{reason: ReasonPolicyStop})
			}
		}
	}

	if n.events != nil {
		n.events <- depEvent{name: rec.Name, status: rec.Status}
	}
}

func (e *execution) cancelInFlightLocked(cause *cancelCause) {
	for _, n := range e.nodes {
		if n.started() && !n.settled() {
			n.cancelScope(cause)
		}
	}
}

// runParallel starts the batch in registration order, bounded by the
// fair semaphore, and waits for every started signal to settle.
func (e *execution) runParallel(parent context.Context, batch []*node, halt haltFunc) {
	var wg sync.WaitGroup
	for _, n := range batch {
		if e.aborted() || halt() {
			break
		}
		if e.sem != nil {
			if err := e.sem.Acquire(parent, 1); err != nil {
				break
			}
			if halt() {
				e.sem.Release(1)
				break
			}
		}
		wg.Add(1)
		go func(n *node) {
			defer wg.Done()
			if e.sem != nil {
				defer e.sem.Release(1)
			}
			e.runSignal(parent, n)
		}(n)
	}
	wg.Wait()
	if !e.aborted() {
		e.skipUnstarted(batch)
	}
}

// runSequential runs the batch in registration order, each signal awaited
// to full completion (its own timeout handling included) before the next
// starts.
func (e *execution) runSequential(parent context.Context, batch []*node, halt haltFunc) {
	for _, n := range batch {
		if e.aborted() || halt() {
			break
		}
		e.runSignal(parent, n)
	}
	if !e.aborted() {
		e.skipUnstarted(batch)
	}
}

// runDependency schedules the batch as a DAG: a ready queue seeded from
// the roots, successes unlocking dependents, non-successes propagating to
// transitive dependents per the cancellation options.
func (e *execution) runDependency(parent context.Context, batch []*node, halt haltFunc) {
	members := make(map[string]*node, len(batch))
	for _, n := range batch {
		members[n.name()] = n
	}
	events := make(chan depEvent, len(batch))
	for _, n := range batch {
		n.events = events
	}

	pending := make(map[string]int, len(batch))
	var ready []*node
	for _, n := range batch {
		count := 0
		for _, dep := range e.graph.Dependencies(n.name()) {
			if _, in := members[dep]; in {
				count++
			}
		}
		pending[n.name()] = count
		if count == 0 {
			ready = append(ready, n)
		}
	}

	settledCount := 0
	inFlight := 0
	for settledCount < len(batch) {
		for len(ready) > 0 && !e.aborted() && !halt() {
			n := ready[0]
			if n.settled() {
				ready = ready[1:]
				continue
			}
			if e.sem != nil {
				if err := e.sem.Acquire(parent, 1); err != nil {
					break
				}
				if halt() {
					e.sem.Release(1)
					break
				}
			}
			ready = ready[1:]
			inFlight++
			go func(n *node) {
				if e.sem != nil {
					defer e.sem.Release(1)
				}
				e.runSignal(parent, n)
			}(n)
		}

		if e.aborted() {
			return
		}
		if inFlight == 0 && (halt() || len(ready) == 0) {
			// Nothing can make progress; drain whatever is queued and
			// leave the rest to the skip sweep.
			select {
			case ev := <-events:
				settledCount++
				inFlight -= e.handleDepEvent(ev, members, pending, &ready)
			default:
			}
			if settledCount >= len(batch) {
				break
			}
			if inFlight == 0 && (halt() || len(ready) == 0) {
				break
			}
			continue
		}

		select {
		case ev := <-events:
			settledCount++
			inFlight -= e.handleDepEvent(ev, members, pending, &ready)
		case <-e.abort:
			return
		}
	}

	if !e.aborted() {
		e.skipUnstarted(batch)
	}
}

// handleDepEvent updates the ready queue for one settled member and
// returns 1 when the event drained an in-flight signal.
func (e *execution) handleDepEvent(ev depEvent, members map[string]*node, pending map[string]int, ready *[]*node) int {
	n := members[ev.name]
	drained := 0
	if n.started() {
		drained = 1
	}

	if ev.status == StatusSucceeded {
		var unlocked []*node
		for _, dep := range e.graph.Dependents(ev.name) {
			dn, in := members[dep]
			if !in {
				continue
			}
			pending[dep]--
			if pending[dep] == 0 && !dn.settled() && !dn.started() {
				unlocked = append(unlocked, dn)
			}
		}
		// First-ready-first-serve: members unlocked by the same
		// completion start in registration order.
		for i := 1; i < len(unlocked); i++ {
			for j := i; j > 0 && unlocked[j].signal.index < unlocked[j-1].signal.index; j-- {
				unlocked[j], unlocked[j-1] = unlocked[j-1], unlocked[j]
			}
		}
		*ready = append(*ready, unlocked...)
		return drained
	}

	if drained == 1 {
		switch ev.status {
		case StatusFailed, StatusTimedOut:
			e.propagateFailure(n, members)
		case StatusCanceled:
			e.propagateSkip(n, members)
		}
	}
	return drained
}

// propagateFailure marks the unstarted transitive dependents of a failed
// or timed-out signal: cancelled with the originating name when
// CancelDependentsOnFailure is set, otherwise skipped.
func (e *execution) propagateFailure(origin *node, members map[string]*node) {
	if e.opts.CancelDependentsOnFailure {
		for _, name := range e.graph.TransitiveDependents(origin.name()) {
			n, in := members[name]
			if !in || n.settled() || n.started() {
				continue
			}
			e.adminSettle(n, StatusCanceled, ReasonDependencyFailed, origin.name(), nil)
		}
		return
	}
	e.propagateSkip(origin, members)
}

// propagateSkip marks the unstarted transitive dependents of a
// non-success signal as skipped, with their unsatisfied direct
// dependencies recorded.
func (e *execution) propagateSkip(origin *node, members map[string]*node) {
	targets := e.graph.TransitiveDependents(origin.name())
	targetSet := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		targetSet[t] = struct{}{}
	}

	for _, name := range targets {
		n, in := members[name]
		if !in || n.settled() || n.started() {
			continue
		}
		var failed []string
		for _, dep := range e.graph.Dependencies(name) {
			if dep == origin.name() {
				failed = append(failed, dep)
				continue
			}
			if _, inSet := targetSet[dep]; inSet {
				failed = append(failed, dep)
				continue
			}
			if dn := e.byName[dep]; dn != nil && dn.settled() && dn.status() != StatusSucceeded {
				failed = append(failed, dep)
			}
		}
		e.adminSettle(n, StatusSkipped, ReasonNone, "", failed)
	}
}

// skipUnstarted settles every batch member that never started. Direct
// dependencies that ended non-success are recorded on the skip.
func (e *execution) skipUnstarted(batch []*node) {
	for _, n := range batch {
		if n.settled() || n.started() {
			continue
		}
		var failed []string
		for _, dep := range e.graph.Dependencies(n.name()) {
			if dn := e.byName[dep]; dn != nil && dn.settled() && dn.status() != StatusSucceeded {
				failed = append(failed, dep)
			}
		}
		e.adminSettle(n, StatusSkipped, ReasonNone, "", failed)
	}
}

// finalize freezes the run: unfinished signals are reaped according to
// the abort cause, records are snapshotted in registration order, and the
// final state is selected with timed-out winning over failed over
// completed.
func (e *execution) finalize(runID string, startedWall time.Time) *Result {
	e.mu.Lock()
	e.finalized = true
	e.mu.Unlock()

	total := e.clk.Since(e.runStart)
	hard := e.hardAborted.Load()
	external := !hard && context.Cause(e.ctx) != nil

	for _, n := range e.nodes {
		if n.settled() {
			continue
		}
		switch {
		case hard && n.started():
			n.adminFinish(StatusTimedOut, ReasonGlobalTimeout, "", nil, total)
		case external:
			n.adminFinish(StatusCanceled, ReasonExternalCancel, "", nil, total)
		default:
			n.adminFinish(StatusSkipped, ReasonNone, "", nil, total)
		}
	}

	records := make([]SignalRecord, 0, len(e.nodes))
	failed := false
	for _, n := range e.nodes {
		rec := n.snapshot(e.graph.Dependencies(n.name()))
		if rec.Status != StatusSucceeded {
			failed = true
		}
		records = append(records, rec)
	}

	timedOut := e.timedOutFlag.Load()
	state := StateCompleted
	switch {
	case timedOut:
		state = StateTimedOut
	case failed:
		state = StateFailed
	}

	return newResult(runID, state, records, e.stageResults(records), total, timedOut, startedWall, e.opts)
}

// surfaceError builds the error RunAll returns. Only the fail-fast
// policy surfaces anything: the first failure verbatim in sequential
// mode (per-signal timeouts as ErrSignalTimeout), an aggregate of the
// captured failures in completion order otherwise.
func (e *execution) surfaceError() error {
	if e.opts.policyName() != FailFast.Name() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.opts.Mode == ModeSequential {
		for _, rec := range e.completed {
			switch rec.Status {
			case StatusFailed:
				return rec.Err
			case StatusTimedOut:
				return fmt.Errorf("%w: %s", ErrSignalTimeout, rec.Name)
			}
		}
		if e.timedOutFlag.Load() {
			for _, n := range e.nodes {
				if n.status() == StatusTimedOut {
					return fmt.Errorf("%w: %s", ErrSignalTimeout, n.name())
				}
			}
		}
		return nil
	}

	if len(e.failures) > 0 {
		return AggregateError(append([]error(nil), e.failures...))
	}
	return nil
}
