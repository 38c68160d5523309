package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type codedErr struct {
	code   string
	status int
	retry  time.Duration
}

func (e *codedErr) Error() string                  { return e.code }
func (e *codedErr) ErrorCode() string              { return e.code }
func (e *codedErr) HTTPStatusCode() int            { return e.status }
func (e *codedErr) RetryAfterDelay() time.Duration { return e.retry }

func TestNilGatePassesThrough(t *testing.T) {
	g := NewGate(NewStore(t.TempDir(), ""), CircuitBreakerConfig{})
	if g != nil {
		t.Fatal("expected disabled config to yield a nil gate")
	}

	calls := 0
	job := g.Wrap(func(context.Context) error { calls++; return nil })
	if err := job(context.Background()); err != nil || calls != 1 {
		t.Errorf("expected job to run once, got calls=%d err=%v", calls, err)
	}
}

func TestGateSkipsTicksWhenOpen(t *testing.T) {
	g := NewGate(NewStore(t.TempDir(), ""), CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour})

	calls := 0
	job := g.Wrap(func(context.Context) error {
		calls++
		return &codedErr{code: "api_call", status: 502}
	})

	for i := 0; i < 2; i++ {
		job(context.Background())
	}

	err := job(context.Background())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var open *OpenError
	if !errors.As(err, &open) || open.LastError != "api_call" {
		t.Errorf("expected last error to be carried, got %+v", open)
	}
	if calls != 2 {
		t.Errorf("expected the skipped tick not to call the job, got %d calls", calls)
	}
}

func TestGateIgnoresClientErrors(t *testing.T) {
	g := NewGate(NewStore(t.TempDir(), ""), CircuitBreakerConfig{FailureThreshold: 1})

	job := g.Wrap(func(context.Context) error {
		return &codedErr{code: "invalid_scope", status: 400}
	})
	job(context.Background())
	job(context.Background())

	mustState(t, g.Breaker(), CircuitClosed)
}

func TestGateHonorsRetryAfter(t *testing.T) {
	g := NewGate(NewStore(t.TempDir(), ""), CircuitBreakerConfig{FailureThreshold: 5})

	job := g.Wrap(func(context.Context) error {
		return &codedErr{code: "api_call", status: 429, retry: time.Minute}
	})
	job(context.Background())

	err := job(context.Background())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected throttled tick to be skipped, got %v", err)
	}
}

func TestIsCircuitBreakerError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("boom"), true},
		{&codedErr{code: "network"}, true},
		{&codedErr{code: "api_call", status: 500}, true},
		{&codedErr{code: "api_call", status: 404}, false},
		{&codedErr{code: "provider", status: 0}, true},
		{&codedErr{code: "provider", status: 401}, false},
		{&codedErr{code: "invalid_scope", status: 400}, false},
	}
	for _, tt := range tests {
		if got := isCircuitBreakerError(tt.err); got != tt.want {
			t.Errorf("isCircuitBreakerError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
