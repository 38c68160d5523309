package resilience

import (
	"time"
)

// CircuitBreakerConfig configures the circuit breaker pattern.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failed ticks before opening.
	// Zero disables the breaker.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in half-open
	// state before closing the circuit.
	// Default: 1
	SuccessThreshold int

	// OpenTimeout is how long ticks are skipped before a probe is allowed.
	// Default: 6 poll intervals
	OpenTimeout time.Duration
}

// DefaultOpenTimeout is used when neither OpenTimeout nor an interval is known.
const DefaultOpenTimeout = 30 * time.Second

// ForInterval returns a breaker config that opens after threshold failed
// ticks and probes again after six skipped ticks.
func ForInterval(threshold int, interval time.Duration) CircuitBreakerConfig {
	timeout := DefaultOpenTimeout
	if interval > 0 {
		timeout = 6 * interval
	}
	return CircuitBreakerConfig{
		FailureThreshold: threshold,
		SuccessThreshold: 1,
		OpenTimeout:      timeout,
	}
}

// Enabled reports whether the breaker should gate ticks at all.
func (c CircuitBreakerConfig) Enabled() bool {
	return c.FailureThreshold > 0
}
