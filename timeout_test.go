package ignition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTimeoutStrategy(t *testing.T) {
	t.Parallel()

	withDeadline := mustSignal(t, "a", 0, WithSignalTimeout(time.Second))
	without := mustSignal(t, "b", 1)

	d := DefaultTimeoutStrategy.Decide(withDeadline, Options{CancelIndividualOnTimeout: true})
	assert.Equal(t, time.Second, d.Timeout)
	assert.True(t, d.CancelOnTimeout)

	d = DefaultTimeoutStrategy.Decide(without, Options{})
	assert.Zero(t, d.Timeout)
	assert.False(t, d.CancelOnTimeout)
}

func TestFixedTimeoutStrategy(t *testing.T) {
	t.Parallel()

	s := mustSignal(t, "a", 0, WithSignalTimeout(time.Hour))
	d := FixedTimeoutStrategy(50*time.Millisecond, true).Decide(s, Options{})
	assert.Equal(t, 50*time.Millisecond, d.Timeout)
	assert.True(t, d.CancelOnTimeout)
}

func TestClampTimeoutStrategy(t *testing.T) {
	t.Parallel()

	strategy := ClampTimeoutStrategy(100*time.Millisecond, time.Second)
	tests := []struct {
		name    string
		timeout []SignalOption
		want    time.Duration
	}{
		{"below min", []SignalOption{WithSignalTimeout(10 * time.Millisecond)}, 100 * time.Millisecond},
		{"within range", []SignalOption{WithSignalTimeout(500 * time.Millisecond)}, 500 * time.Millisecond},
		{"above max", []SignalOption{WithSignalTimeout(time.Hour)}, time.Second},
		{"no deadline capped", nil, time.Second},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustSignal(t, "clamped", i, tt.timeout...)
			assert.Equal(t, tt.want, strategy.Decide(s, Options{}).Timeout)
		})
	}
}

func TestTimeoutStrategyFunc(t *testing.T) {
	t.Parallel()

	var seen *Signal
	strategy := TimeoutStrategyFunc(func(s *Signal, opts Options) TimeoutDecision {
		seen = s
		return TimeoutDecision{Timeout: opts.GlobalTimeout / 2}
	})

	s := mustSignal(t, "half", 0)
	d := strategy.Decide(s, Options{GlobalTimeout: time.Minute})
	assert.Same(t, s, seen)
	assert.Equal(t, 30*time.Second, d.Timeout)
}
