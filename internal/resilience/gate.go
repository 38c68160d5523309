package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is matched by OpenError.
var ErrCircuitOpen = errors.New("circuit breaker open")

// OpenError reports a tick skipped by the breaker.
type OpenError struct {
	RetryIn   time.Duration
	LastError string
}

func (e *OpenError) Error() string {
	msg := fmt.Sprintf("skipping call, API failing; next attempt in %s", e.RetryIn.Round(time.Second))
	if e.LastError != "" {
		msg += " (last error: " + e.LastError + ")"
	}
	return msg
}

// Is reports whether target is ErrCircuitOpen.
func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// Gate wraps tick jobs with the circuit breaker.
type Gate struct {
	breaker *CircuitBreaker
	store   *Store
}

// NewGate creates a gate over store. It returns nil when cfg disables the breaker.
func NewGate(store *Store, cfg CircuitBreakerConfig) *Gate {
	if !cfg.Enabled() {
		return nil
	}
	return &Gate{breaker: NewCircuitBreaker(store, cfg), store: store}
}

// Breaker exposes the underlying breaker.
func (g *Gate) Breaker() *CircuitBreaker { return g.breaker }

// Wrap returns job gated by the breaker. A nil gate returns job unchanged.
func (g *Gate) Wrap(job func(context.Context) error) func(context.Context) error {
	if g == nil {
		return job
	}
	return func(ctx context.Context) error {
		if allowed, wait := g.breaker.Allow(); !allowed {
			open := &OpenError{RetryIn: wait}
			if st, err := g.store.Load(); err == nil {
				open.LastError = st.CircuitBreaker.LastError
			}
			return open
		}

		err := job(ctx)
		g.record(ctx, err)
		return err
	}
}

func (g *Gate) record(ctx context.Context, err error) {
	if err == nil {
		_ = g.breaker.RecordSuccess()
		return
	}
	if ctx.Err() != nil {
		return // Shutdown, not a failure
	}

	var throttled interface{ RetryAfterDelay() time.Duration }
	if errors.As(err, &throttled) {
		if d := throttled.RetryAfterDelay(); d > 0 {
			_ = g.breaker.BlockUntil(g.breaker.now().Add(d))
			return
		}
	}

	if isCircuitBreakerError(err) {
		_ = g.breaker.RecordFailure(err)
	}
}

// isCircuitBreakerError reports whether err means the remote side is
// unhealthy. Server errors and unreachable hosts trip the breaker; client
// errors such as a rejected scope do not, since skipping ticks cannot fix them.
func isCircuitBreakerError(err error) bool {
	var coded interface{ ErrorCode() string }
	if !errors.As(err, &coded) {
		// Unknown error type - treat as a failure
		return true
	}

	status := 0
	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) {
		status = withStatus.HTTPStatusCode()
	}

	switch coded.ErrorCode() {
	case "network":
		return true
	case "api_call", "provider":
		return status == 0 || status >= 500
	default:
		return false
	}
}
