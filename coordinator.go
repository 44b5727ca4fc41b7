// Package ignition coordinates named readiness signals: asynchronous
// operations registered up front and executed together under a configurable
// scheduling mode, deadline regime, and continuation policy. A coordinator
// runs its signals at most once and memoizes the outcome.
package ignition

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/veggerby/ignition/internal/logger"
)

// Coordinator owns a set of registered signals and executes them as one
// run. Registration and configuration are only allowed before the first
// RunAll; afterwards the coordinator is immutable and serves the memoized
// result.
type Coordinator struct {
	mu       sync.Mutex
	opts     Options
	strategy TimeoutStrategy
	clock    clock.Clock

	nodes  []*node
	byName map[string]*node
	graph  *DependencyGraph
	plan   *StagePlan

	started  bool
	stateVal atomic.Int32

	runOnce sync.Once
	result  *Result
	runErr  error
}

// New builds a coordinator. Options are validated eagerly; an invalid
// configuration is rejected here rather than at run time.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		opts:     DefaultOptions(),
		strategy: DefaultTimeoutStrategy,
		clock:    clock.RealClock{},
		byName:   make(map[string]*node),
		graph:    newDependencyGraph(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.strategy == nil {
		c.strategy = DefaultTimeoutStrategy
	}
	if c.clock == nil {
		c.clock = clock.RealClock{}
	}
	if err := c.opts.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Register adds a named signal. Names must be unique and non-empty, the
// operation non-nil, and a configured per-signal timeout positive.
func (c *Coordinator) Register(name string, fn SignalFunc, opts ...SignalOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("%w: cannot register %q", ErrAlreadyStarted, name)
	}
	if _, dup := c.byName[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateSignal, name)
	}
	s, err := newSignal(name, fn, len(c.nodes), opts...)
	if err != nil {
		return err
	}
	n := newNode(s)
	c.nodes = append(c.nodes, n)
	c.byName[name] = n
	c.graph.addSignal(name)
	return nil
}

// RegisterDependencies declares that a signal must wait for others in
// ModeDependency. Both sides must already be registered; self-dependencies
// and cycles are rejected, leaving the graph unchanged.
func (c *Coordinator) RegisterDependencies(name string, dependsOn ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("%w: cannot add dependencies for %q", ErrAlreadyStarted, name)
	}
	return c.graph.addDependencies(name, dependsOn...)
}

// ConfigureStages installs the stage plan used by ModeStaged. Every signal
// named in the plan must already be registered. A nil plan clears any
// previous one; signals without an assignment implicitly form stage 0.
func (c *Coordinator) ConfigureStages(plan *StagePlan) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("%w: cannot configure stages", ErrAlreadyStarted)
	}
	if plan != nil {
		for _, name := range plan.SignalNames() {
			if _, ok := c.byName[name]; !ok {
				return fmt.Errorf("%w: %s", ErrUnknownSignal, name)
			}
		}
	}
	c.plan = plan
	return nil
}

// SetOptions replaces the coordinator's options before the run.
func (c *Coordinator) SetOptions(opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("%w: cannot change options", ErrAlreadyStarted)
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	c.opts = opts
	return nil
}

// SetPolicy replaces the continuation policy before the run. A nil policy
// restores the default.
func (c *Coordinator) SetPolicy(p Policy) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("%w: cannot change policy", ErrAlreadyStarted)
	}
	if p == nil {
		p = BestEffort
	}
	c.opts.Policy = p
	return nil
}

// SetTimeoutStrategy replaces the per-signal timeout strategy before the
// run. A nil strategy restores the default.
func (c *Coordinator) SetTimeoutStrategy(s TimeoutStrategy) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("%w: cannot change timeout strategy", ErrAlreadyStarted)
	}
	if s == nil {
		s = DefaultTimeoutStrategy
	}
	c.strategy = s
	return nil
}

// SignalNames returns the registered signal names in registration order.
func (c *Coordinator) SignalNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, len(c.nodes))
	for i, n := range c.nodes {
		names[i] = n.name()
	}
	return names
}

// Graph returns the coordinator's dependency graph.
func (c *Coordinator) Graph() *DependencyGraph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph
}

// State returns the coordinator's lifecycle state.
func (c *Coordinator) State() RunState {
	return RunState(c.stateVal.Load())
}

// RunAll executes every registered signal under the configured mode and
// returns the run's result. The run happens exactly once: concurrent and
// repeated calls share it, and only the call that performed the execution
// observes a run error. Cancelling ctx cancels the run.
func (c *Coordinator) RunAll(ctx context.Context) (*Result, error) {
	executed := false
	c.runOnce.Do(func() {
		executed = true
		c.result, c.runErr = c.execute(ctx)
	})
	if executed {
		return c.result, c.runErr
	}
	return c.result, nil
}

// Result returns the memoized run result, executing the run first if
// needed. Run errors are only reported by RunAll.
func (c *Coordinator) Result(ctx context.Context) *Result {
	res, _ := c.RunAll(ctx)
	return res
}

func (c *Coordinator) execute(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	c.started = true
	opts := c.opts.withDefaults()
	strategy := c.strategy
	clk := c.clock
	nodes := c.nodes
	byName := c.byName
	graph := c.graph
	plan := c.plan
	c.mu.Unlock()

	runID := generateRunID()
	ctx = logger.WithValues(ctx, "run_id", runID)

	rctx, rcancel := context.WithCancelCause(ctx)
	defer rcancel(nil)

	e := newExecution(rctx, rcancel, opts, strategy, clk, nodes, byName, graph)
	if opts.Mode == ModeStaged {
		e.stages = resolveStages(plan, nodes, byName)
	}

	c.stateVal.Store(int32(StateRunning))
	logger.Info(rctx, "Coordinator run started",
		"mode", opts.Mode.String(),
		"signals", len(nodes),
		"policy", opts.policyName(),
		"global_timeout", opts.GlobalTimeout)

	execDone := make(chan struct{})
	go e.watch(execDone)
	e.run()
	close(execDone)

	res := e.finalize(runID, e.runStart)
	c.stateVal.Store(int32(res.state))
	err := e.surfaceError()

	logger.Info(rctx, "Coordinator run finished",
		"state", res.state.String(),
		"duration", res.totalDuration,
		"timed_out", res.timedOut)
	return res, err
}

func generateRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
