package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotFound, "task %s not found", "T1")
	if KindOf(err) != KindNotFound {
		t.Errorf("got %s, want NotFound", KindOf(err))
	}

	wrapped := fmt.Errorf("load task: %w", err)
	if KindOf(wrapped) != KindNotFound {
		t.Errorf("kind lost through wrapping: got %s", KindOf(wrapped))
	}

	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("plain errors should report Internal")
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	a := New(KindCycleDetected, "A -> B -> A")
	b := New(KindCycleDetected, "different message")
	if !errors.Is(a, b) {
		t.Error("errors of the same kind should match")
	}
	if errors.Is(a, New(KindConflict, "")) {
		t.Error("errors of different kinds should not match")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindTransportFailure, true},
		{KindOracleUnavailable, true},
		{KindLockTimeout, true},
		{KindCycleDetected, false},
		{KindScaffoldingEpic, false},
		{KindValidation, false},
		{KindPathViolation, false},
		{KindCancelled, false},
	}
	for _, tt := range tests {
		if got := Retryable(New(tt.kind, "x")); got != tt.want {
			t.Errorf("Retryable(%s): got %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestRecoverableDefaults(t *testing.T) {
	if !Recoverable(New(KindValidation, "bad input")) {
		t.Error("validation errors should default to recoverable")
	}
	if Recoverable(New(KindInternal, "invariant broken")) {
		t.Error("internal errors should default to unrecoverable")
	}
	if Recoverable(errors.New("plain")) {
		t.Error("plain errors should be unrecoverable")
	}
}

func TestWithDetail(t *testing.T) {
	err := New(KindConflict, "duplicate id").WithDetail("id", "T1")
	if err.Details["id"] != "T1" {
		t.Errorf("expected detail id=T1, got %v", err.Details["id"])
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindCorrupt, cause, "write index")
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
}
