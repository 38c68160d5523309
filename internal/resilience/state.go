package resilience

import "time"

// StateVersion is written into every state file.
const StateVersion = 1

// Breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half_open"
)

// State is the persisted breaker state for one polled endpoint, so a
// restarted daemon still knows the endpoint is failing.
type State struct {
	Version        int                 `json:"version"`
	CircuitBreaker CircuitBreakerState `json:"circuit_breaker"`

	// RetryAfterUntil holds back every tick after a 429 with Retry-After.
	RetryAfterUntil time.Time `json:"retry_after_until,omitzero"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CircuitBreakerState counts consecutive tick outcomes. An open circuit
// skips ticks; half-open lets one tick through to test the API.
type CircuitBreakerState struct {
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	Successes     int       `json:"successes"`
	LastFailureAt time.Time `json:"last_failure_at"`
	LastError     string    `json:"last_error,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
}

// IsClosed treats an unset state as closed.
func (c *CircuitBreakerState) IsClosed() bool {
	return c.State == "" || c.State == CircuitClosed
}

func (c *CircuitBreakerState) IsOpen() bool     { return c.State == CircuitOpen }
func (c *CircuitBreakerState) IsHalfOpen() bool { return c.State == CircuitHalfOpen }

// BlockedFor returns the rest of the Retry-After window at now.
func (s *State) BlockedFor(now time.Time) time.Duration {
	if now.Before(s.RetryAfterUntil) {
		return s.RetryAfterUntil.Sub(now)
	}
	return 0
}

// NewState returns a closed breaker state.
func NewState() *State {
	return &State{
		Version:        StateVersion,
		CircuitBreaker: CircuitBreakerState{State: CircuitClosed},
		UpdatedAt:      time.Now(),
	}
}
