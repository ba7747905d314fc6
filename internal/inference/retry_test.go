package inference

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifier_IsTransient(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"upper case", errors.New("CONNECTION REFUSED"), true},
		{"timeout", errors.New("Client.Timeout exceeded while awaiting headers"), true},
		{"wrapped", fmt.Errorf("chat completion: %w", errors.New("i/o timeout")), true},
		{"not connected", ErrNotConnected, true},
		{"bad request", errors.New("backend returned status 400: bad request"), false},
		{"model missing", ErrModelNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifier_CustomSubstrings(t *testing.T) {
	c := NewClassifier("Overloaded", "  ", "503")

	if !c.IsTransient(errors.New("server overloaded")) {
		t.Error("expected custom substring to match case-insensitively")
	}
	if !c.IsTransient(errors.New("backend returned status 503")) {
		t.Error("expected 503 to match")
	}
	if c.IsTransient(errors.New("connection reset")) {
		t.Error("custom list should replace the defaults")
	}
}

func TestClassifier_FoldsCase(t *testing.T) {
	c := NewClassifier("οδοσ")

	for _, msg := range []string{"ΟΔΟΣ unreachable", "οδος unreachable"} {
		if !c.IsTransient(errors.New(msg)) {
			t.Errorf("IsTransient(%q) = false, want true", msg)
		}
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: time.Second}

	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 3 * time.Second} {
		if got := p.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestPolicy_ShouldRetry(t *testing.T) {
	p := DefaultPolicy()
	transient := errors.New("connection reset")

	if !p.ShouldRetry(1, transient) || !p.ShouldRetry(2, transient) {
		t.Error("expected retries for attempts 1 and 2")
	}
	if p.ShouldRetry(3, transient) {
		t.Error("no retry after the last attempt")
	}
	if p.ShouldRetry(1, errors.New("bad request")) {
		t.Error("non-transient errors are not retried")
	}

	zero := Policy{}
	if zero.ShouldRetry(1, transient) {
		t.Error("zero policy allows a single attempt")
	}
}
