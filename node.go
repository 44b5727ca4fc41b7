package ignition

import (
	"context"
	"sync"
	"time"
)

// nodeState is the mutable run state of one signal. Writes funnel through
// the node's mutex; a state with Settled set never changes again.
type nodeState struct {
	Status      SignalStatus
	Started     bool
	Settled     bool
	Frozen      bool
	StartedAt   time.Duration
	CompletedAt time.Duration
	Err         error
	Reason      CancellationReason
	CanceledBy  string
	FailedDeps  []string
}

// node pairs a registered signal with its thread-safe run state.
//
// The stage, stagePath and events fields are wired while a batch is being
// set up, strictly before any goroutine runs, and are read-only afterwards.
type node struct {
	signal    *Signal
	stage     int
	stagePath []*stageRun
	events    chan<- depEvent

	mu     sync.RWMutex
	state  nodeState
	scope  context.Context
	cancel context.CancelCauseFunc
}

func newNode(s *Signal) *node {
	return &node{signal: s, stage: -1}
}

func (n *node) name() string { return n.signal.name }

// setScope records the signal's cancellation scope so propagation and
// hard stops can reach it.
func (n *node) setScope(ctx context.Context, cancel context.CancelCauseFunc) {
	n.mu.Lock()
	n.scope = ctx
	n.cancel = cancel
	n.mu.Unlock()
}

// cancelScope cancels the signal's scope with the given cause. It is a
// no-op for signals that never started.
func (n *node) cancelScope(cause error) {
	n.mu.RLock()
	cancel := n.cancel
	n.mu.RUnlock()
	if cancel != nil {
		cancel(cause)
	}
}

// markRunning transitions the node into the running state at the given
// offset from run start.
func (n *node) markRunning(offset time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state.Status != StatusNotStarted {
		return
	}
	n.state.Status = StatusRunning
	n.state.Started = true
	n.state.StartedAt = offset
}

// freezeTimedOut pins the timed-out verdict for a soft per-signal deadline
// while the operation keeps running. The completion offset is recorded
// later, when the operation's own completion arrives.
func (n *node) freezeTimedOut() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state.Settled || n.state.Frozen {
		return
	}
	n.state.Status = StatusTimedOut
	n.state.Reason = ReasonPerSignalTimeout
	n.state.Frozen = true
}

// finish applies the classification verdict for a completed operation and
// reports whether it was applied. A frozen timed-out verdict survives the
// operation's own outcome; the operation error is still retained as detail.
func (n *node) finish(status SignalStatus, offset time.Duration, opErr error, reason CancellationReason, canceledBy string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state.Settled {
		return false
	}
	if !n.state.Frozen {
		n.state.Status = status
		n.state.Reason = reason
		n.state.CanceledBy = canceledBy
	}
	n.state.Err = opErr
	n.state.CompletedAt = offset
	n.state.Settled = true
	return true
}

// adminFinish settles a node without an operation completion: skips,
// dependency propagation, and end-of-run reaping. Started nodes get the
// given offset as their completion point; unstarted nodes keep zero.
func (n *node) adminFinish(status SignalStatus, reason CancellationReason, canceledBy string, failedDeps []string, offset time.Duration) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state.Settled {
		return false
	}
	if !n.state.Frozen {
		n.state.Status = status
		n.state.Reason = reason
		n.state.CanceledBy = canceledBy
	}
	n.state.FailedDeps = failedDeps
	if n.state.Started {
		n.state.CompletedAt = offset
	}
	n.state.Settled = true
	return true
}

func (n *node) started() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state.Started
}

func (n *node) settled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state.Settled
}

func (n *node) status() SignalStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state.Status
}

// snapshot builds the immutable record for the node.
func (n *node) snapshot(deps []string) SignalRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var duration time.Duration
	if n.state.Started && n.state.CompletedAt > n.state.StartedAt {
		duration = n.state.CompletedAt - n.state.StartedAt
	}
	return SignalRecord{
		Name:               n.signal.name,
		Status:             n.state.Status,
		StartedAt:          n.state.StartedAt,
		CompletedAt:        n.state.CompletedAt,
		Duration:           duration,
		Err:                n.state.Err,
		FailedDependencies: copyOf(n.state.FailedDeps),
		CancellationReason: n.state.Reason,
		CanceledBy:         n.state.CanceledBy,
		Stage:              n.stage,
		Dependencies:       deps,
	}
}
