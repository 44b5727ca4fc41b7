package ignition

import "testing"

func TestSignalStatusString(t *testing.T) {
	tests := []struct {
		status SignalStatus
		want   string
	}{
		{StatusNotStarted, "not_started"},
		{StatusRunning, "running"},
		{StatusSucceeded, "succeeded"},
		{StatusFailed, "failed"},
		{StatusTimedOut, "timed_out"},
		{StatusSkipped, "skipped"},
		{StatusCanceled, "canceled"},
		{SignalStatus(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("SignalStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestSignalStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status SignalStatus
		want   bool
	}{
		{StatusNotStarted, false},
		{StatusRunning, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusTimedOut, true},
		{StatusSkipped, true},
		{StatusCanceled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestSignalStatusIsSuccess(t *testing.T) {
	for _, status := range []SignalStatus{StatusNotStarted, StatusRunning, StatusFailed, StatusTimedOut, StatusSkipped, StatusCanceled} {
		if status.IsSuccess() {
			t.Errorf("%s.IsSuccess() = true, want false", status)
		}
	}
	if !StatusSucceeded.IsSuccess() {
		t.Error("succeeded.IsSuccess() = false, want true")
	}
}

func TestRunStateString(t *testing.T) {
	tests := []struct {
		state RunState
		want  string
	}{
		{StateNotStarted, "not_started"},
		{StateRunning, "running"},
		{StateCompleted, "completed"},
		{StateFailed, "failed"},
		{StateTimedOut, "timed_out"},
		{RunState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("RunState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestRunStateIsTerminal(t *testing.T) {
	tests := []struct {
		state RunState
		want  bool
	}{
		{StateNotStarted, false},
		{StateRunning, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateTimedOut, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestCancellationReasonString(t *testing.T) {
	tests := []struct {
		reason CancellationReason
		want   string
	}{
		{ReasonNone, "none"},
		{ReasonGlobalTimeout, "global_timeout"},
		{ReasonDependencyFailed, "dependency_failed"},
		{ReasonPolicyStop, "policy_stop"},
		{ReasonPerSignalTimeout, "per_signal_timeout"},
		{ReasonExternalCancel, "external_cancel"},
		{CancellationReason(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.reason.String(); got != tt.want {
			t.Errorf("CancellationReason(%d).String() = %q, want %q", tt.reason, got, tt.want)
		}
	}
}
