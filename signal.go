package ignition

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// SignalFunc is the operation behind a readiness signal. It must honor
// cancellation of the supplied context; an operation that ignores it keeps
// running in the background after the coordinator has moved on.
type SignalFunc func(ctx context.Context) error

// Signal is a named readiness operation registered with a coordinator.
// Its identity and configuration are immutable after registration; the
// underlying operation is invoked at most once per coordinator lifetime.
type Signal struct {
	name       string
	timeout    time.Duration
	timeoutSet bool
	fn         SignalFunc
	index      int

	task task
}

// SignalOption configures a signal at registration time.
type SignalOption func(*Signal)

// WithSignalTimeout sets the per-signal deadline. The value must be
// positive; Register rejects the signal otherwise.
func WithSignalTimeout(d time.Duration) SignalOption {
	return func(s *Signal) {
		s.timeout = d
		s.timeoutSet = true
	}
}

func newSignal(name string, fn SignalFunc, index int, opts ...SignalOption) (*Signal, error) {
	if name == "" {
		return nil, ErrEmptySignalName
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilOperation, name)
	}
	s := &Signal{
		name:  name,
		fn:    fn,
		index: index,
		task:  task{done: make(chan struct{})},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeoutSet && s.timeout <= 0 {
		return nil, fmt.Errorf("%w: signal %s", ErrNonPositiveTimeout, name)
	}
	return s, nil
}

// Name returns the unique signal name.
func (s *Signal) Name() string { return s.name }

// Timeout returns the per-signal deadline, or zero when none is configured.
func (s *Signal) Timeout() time.Duration { return s.timeout }

// start launches the operation at most once and reports whether this call
// was the one that started it.
func (s *Signal) start(ctx context.Context) bool {
	started := false
	s.task.start(ctx, s.fn, &started)
	return started
}

// completed returns the channel closed when the operation has finished.
func (s *Signal) completed() <-chan struct{} { return s.task.done }

// err returns the operation outcome. Valid only after completed() is closed.
func (s *Signal) err() error { return s.task.err }

// task is a lazily started one-shot unit of work with a memoized outcome.
// Concurrent starters share a single invocation and observe the same result
// through the done channel.
type task struct {
	once sync.Once
	done chan struct{}
	err  error
}

func (t *task) start(ctx context.Context, fn SignalFunc, startedByMe *bool) {
	t.once.Do(func() {
		*startedByMe = true
		go func() {
			defer close(t.done)
			t.err = invoke(ctx, fn)
		}()
	})
}

// invoke runs fn and converts panics into errors so a misbehaving operation
// cannot take down the coordinator.
func invoke(ctx context.Context, fn SignalFunc) (err error) {
	defer func() {
		if panicObj := recover(); panicObj != nil {
			err = fmt.Errorf("panic recovered: %v\n%s", panicObj, debug.Stack())
		}
	}()
	return fn(ctx)
}
