package ignition

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veggerby/ignition/internal/logger"
)

// resolvedStage is a stage bound to its member nodes for one run. Leaf
// stages carry direct members; composite stages carry children and the
// union of their descendants.
type resolvedStage struct {
	number   int
	name     string
	mode     ExecutionMode
	nodes    []*node
	children []*resolvedStage
	run      *stageRun
}

// stageRun tracks live accounting for one stage. Counter fields are
// guarded by the execution mutex; settles reach them through the
// classification critical section.
type stageRun struct {
	total      int
	started    atomic.Bool
	failedFast atomic.Bool
	startAt    time.Duration

	settledCount int
	succeeded    int

	promoted    bool
	done        chan struct{}
	promote     chan struct{}
	doneOnce    sync.Once
	promoteOnce sync.Once
}

func newStageRun(total int) *stageRun {
	return &stageRun{
		total:   total,
		done:    make(chan struct{}),
		promote: make(chan struct{}),
	}
}

// seal closes the done channel of a memberless stage so nothing waits on
// it.
func (sr *stageRun) seal() {
	if sr.total == 0 {
		sr.doneOnce.Do(func() { close(sr.done) })
	}
}

func (sr *stageRun) markStarted(offset time.Duration) {
	if sr.started.CompareAndSwap(false, true) {
		sr.startAt = offset
	}
}

// settleLocked records one member settling. The caller holds the
// execution mutex.
func (sr *stageRun) settleLocked(e *execution, status SignalStatus) {
	sr.settledCount++
	switch status {
	case StatusSucceeded:
		sr.succeeded++
	case StatusFailed:
		sr.failedFast.Store(true)
	}

	if e.opts.StagePolicy == StageEarlyPromotion && !sr.promoted && sr.total > 0 {
		if float64(sr.succeeded)/float64(sr.total) >= e.opts.EarlyPromotionThreshold {
			sr.promoted = true
			sr.promoteOnce.Do(func() { close(sr.promote) })
		}
	}
	if sr.settledCount == sr.total {
		sr.doneOnce.Do(func() { close(sr.done) })
	}
}

// resolveStages binds the stage plan to the registered nodes. Signals
// without an explicit stage join the declared leaf stage 0 when one
// exists, otherwise an implicit leading parallel stage. With no plan at
// all, the whole batch forms a single parallel stage 0.
func resolveStages(plan *StagePlan, nodes []*node, byName map[string]*node) []*resolvedStage {
	if plan == nil || len(plan.Stages()) == 0 {
		st := &resolvedStage{number: 0, mode: ModeParallel, nodes: nodes}
		st.run = newStageRun(len(nodes))
		st.run.seal()
		for _, n := range nodes {
			n.stage = 0
			n.stagePath = []*stageRun{st.run}
		}
		return []*resolvedStage{st}
	}

	var unassigned []*node
	for _, n := range nodes {
		if _, ok := plan.AssignedStage(n.name()); !ok {
			unassigned = append(unassigned, n)
		}
	}

	var build func(st Stage) *resolvedStage
	build = func(st Stage) *resolvedStage {
		rs := &resolvedStage{number: st.Number, name: st.Name, mode: st.Mode}
		for _, name := range st.Signals {
			if n, ok := byName[name]; ok {
				rs.nodes = append(rs.nodes, n)
			}
		}
		for _, child := range st.Children {
			rs.children = append(rs.children, build(child))
		}
		return rs
	}

	var top []*resolvedStage
	for _, st := range plan.Stages() {
		top = append(top, build(st))
	}

	if len(unassigned) > 0 {
		merged := false
		for _, rs := range top {
			if rs.number == 0 && len(rs.children) == 0 {
				rs.nodes = append(rs.nodes, unassigned...)
				merged = true
				break
			}
		}
		if !merged {
			number := 0
			if first := top[0].number; first <= 0 {
				number = first - 1
			}
			implicit := &resolvedStage{number: number, mode: ModeParallel, nodes: unassigned}
			top = append([]*resolvedStage{implicit}, top...)
		}
	}

	var wire func(rs *resolvedStage, path []*stageRun) int
	wire = func(rs *resolvedStage, path []*stageRun) int {
		rs.run = newStageRun(0)
		path = append(path, rs.run)
		total := 0
		for _, n := range rs.nodes {
			n.stage = rs.number
			n.stagePath = append([]*stageRun(nil), path...)
			total++
		}
		for _, child := range rs.children {
			total += wire(child, path)
		}
		rs.run.total = total
		rs.run.seal()
		return total
	}
	for _, rs := range top {
		wire(rs, nil)
	}
	return top
}

// runStaged drives the stages in order, applying the stage policy
// between them. Early-promoted stages leave their stragglers running;
// the run still waits for every straggler before finalizing.
func (e *execution) runStaged(parent context.Context, stages []*resolvedStage) {
	for i, st := range stages {
		if e.aborted() {
			return
		}
		if e.isStopped() {
			e.skipStages(stages[i:])
			break
		}
		e.runStage(parent, st)
		if e.aborted() {
			return
		}

		advance := true
		switch e.opts.StagePolicy {
		case StageAllMustSucceed:
			advance = e.stageAllSucceeded(st.run)
		case StageFailFast:
			advance = !st.run.failedFast.Load()
		}
		if !advance {
			logger.Info(e.ctx, "Stage policy halted remaining stages",
				"stage", st.number, "stage_policy", e.opts.StagePolicy.String())
			e.skipStages(stages[i+1:])
			break
		}
	}
	e.waitStages(stages)
}

// runStage launches the stage batch and waits for it to finish, or for
// early promotion under that policy.
func (e *execution) runStage(parent context.Context, st *resolvedStage) {
	sr := st.run
	sr.markStarted(e.clk.Since(e.runStart))
	logger.Info(e.ctx, "Stage started", "stage", st.number, "signals", sr.total, "stage_mode", st.mode.String())

	go e.runStageBatch(parent, st)

	if e.opts.StagePolicy == StageEarlyPromotion {
		select {
		case <-sr.done:
		case <-sr.promote:
			logger.Info(e.ctx, "Stage promoted early", "stage", st.number, "threshold", e.opts.EarlyPromotionThreshold)
		case <-e.abort:
		}
		return
	}
	select {
	case <-sr.done:
	case <-e.abort:
	}
}

// runStageBatch dispatches the stage to the driver for its mode.
// Composite stages recurse into the staged driver.
func (e *execution) runStageBatch(parent context.Context, st *resolvedStage) {
	if len(st.children) > 0 {
		e.runStaged(parent, st.children)
		return
	}
	halt := e.haltForStage(st.run)
	switch st.mode {
	case ModeSequential:
		e.runSequential(parent, st.nodes, halt)
	case ModeDependency:
		e.runDependency(parent, st.nodes, halt)
	default:
		e.runParallel(parent, st.nodes, halt)
	}
}

// haltForStage stops a stage batch on a policy stop, and under the
// fail-fast stage policy as soon as a member fails. In-flight signals
// still drain.
func (e *execution) haltForStage(sr *stageRun) haltFunc {
	return func() bool {
		if e.isStopped() {
			return true
		}
		return e.opts.StagePolicy == StageFailFast && sr.failedFast.Load()
	}
}

func (e *execution) stageAllSucceeded(sr *stageRun) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sr.succeeded == sr.total
}

// skipStages settles every unsettled member of stages that will not run.
func (e *execution) skipStages(stages []*resolvedStage) {
	for _, st := range stages {
		for _, n := range st.nodes {
			if !n.settled() && !n.started() {
				e.adminSettle(n, StatusSkipped, ReasonNone, "", nil)
			}
		}
		e.skipStages(st.children)
	}
}

// waitStages blocks until every stage has fully settled, covering
// stragglers left behind by early promotion.
func (e *execution) waitStages(stages []*resolvedStage) {
	for _, st := range stages {
		select {
		case <-st.run.done:
		case <-e.abort:
			return
		}
	}
}

// stageResults assembles per-stage summaries from the final records, in
// stage order. Stages that never started keep zero timings.
func (e *execution) stageResults(records []SignalRecord) []StageResult {
	if len(e.stages) == 0 {
		return nil
	}
	byName := make(map[string]SignalRecord, len(records))
	for _, rec := range records {
		byName[rec.Name] = rec
	}

	var out []StageResult
	var visit func(rs *resolvedStage)
	visit = func(rs *resolvedStage) {
		res := StageResult{
			Number:   rs.number,
			Name:     rs.name,
			Mode:     rs.mode,
			Promoted: rs.run.promoted,
		}
		var memberOf func(st *resolvedStage)
		memberOf = func(st *resolvedStage) {
			for _, n := range st.nodes {
				rec := byName[n.name()]
				res.Records = append(res.Records, rec)
				switch rec.Status {
				case StatusSucceeded:
					res.SucceededCount++
				case StatusFailed:
					res.FailedCount++
				case StatusTimedOut:
					res.TimedOutCount++
				case StatusSkipped:
					res.SkippedCount++
				case StatusCanceled:
					res.CanceledCount++
				}
				if n.started() && rec.CompletedAt > res.CompletedAt {
					res.CompletedAt = rec.CompletedAt
				}
			}
			for _, child := range st.children {
				memberOf(child)
			}
		}
		memberOf(rs)

		if rs.run.started.Load() {
			res.StartedAt = rs.run.startAt
			res.Completed = rs.run.settledCount == rs.run.total
			if res.CompletedAt > res.StartedAt {
				res.Duration = res.CompletedAt - res.StartedAt
			}
		} else {
			res.CompletedAt = 0
		}
		out = append(out, res)

		for _, child := range rs.children {
			visit(child)
		}
	}
	for _, rs := range e.stages {
		visit(rs)
	}
	return out
}
