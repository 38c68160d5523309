package resilience

import (
	"time"
)

// CircuitBreaker skips ticks against an API that keeps failing.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	store  *Store
	now    func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(store *Store, config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults for zero values
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = DefaultOpenTimeout
	}

	return &CircuitBreaker{
		config: config,
		store:  store,
		now:    time.Now,
	}
}

// Allow reports whether the next tick may call the API. When it may not,
// wait is how long until a probe is allowed.
//
// Closed state only reads; the open to half-open transition writes.
func (cb *CircuitBreaker) Allow() (allowed bool, wait time.Duration) {
	state, err := cb.store.Load()
	if err != nil {
		return true, 0 // Fail open
	}

	now := cb.now()
	if d := state.BlockedFor(now); d > 0 {
		return false, d
	}

	cbState := &state.CircuitBreaker
	switch {
	case cbState.IsClosed(), cbState.IsHalfOpen():
		return true, 0
	case now.Sub(cbState.OpenedAt) < cb.config.OpenTimeout:
		return false, cb.config.OpenTimeout - now.Sub(cbState.OpenedAt)
	}

	// Timeout expired, transition to half-open for one probe.
	allowed = true
	err = cb.store.Update(func(s *State) error {
		// Re-check state in case another process changed it
		if s.CircuitBreaker.IsOpen() {
			if now.Sub(s.CircuitBreaker.OpenedAt) < cb.config.OpenTimeout {
				allowed = false
				wait = cb.config.OpenTimeout - now.Sub(s.CircuitBreaker.OpenedAt)
				return nil
			}
			s.CircuitBreaker.State = CircuitHalfOpen
			s.CircuitBreaker.Successes = 0
			s.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return true, 0 // Fail open
	}
	return allowed, wait
}

// RecordSuccess records a successful tick.
func (cb *CircuitBreaker) RecordSuccess() error {
	return cb.store.Update(func(state *State) error {
		cbState := &state.CircuitBreaker

		switch {
		case cbState.IsHalfOpen():
			cbState.Successes++
			if cbState.Successes >= cb.config.SuccessThreshold {
				cbState.State = CircuitClosed
				cbState.Failures = 0
				cbState.Successes = 0
				cbState.LastError = ""
			}
		case cbState.IsClosed():
			// Reset consecutive failure count on success
			cbState.Failures = 0
		}

		state.UpdatedAt = cb.now()
		return nil
	})
}

// RecordFailure records a failed tick.
func (cb *CircuitBreaker) RecordFailure(cause error) error {
	return cb.store.Update(func(state *State) error {
		cbState := &state.CircuitBreaker
		now := cb.now()

		cbState.LastFailureAt = now
		if cause != nil {
			cbState.LastError = cause.Error()
		}

		switch {
		case cbState.IsClosed():
			cbState.Failures++
			if cbState.Failures >= cb.config.FailureThreshold {
				cbState.State = CircuitOpen
				cbState.OpenedAt = now
			}

		case cbState.IsHalfOpen():
			// The probe failed; open again for another timeout
			cbState.State = CircuitOpen
			cbState.OpenedAt = now
			cbState.Successes = 0
		}

		state.UpdatedAt = now
		return nil
	})
}

// BlockUntil stops ticks from calling the API until t, as asked by a
// Retry-After header.
func (cb *CircuitBreaker) BlockUntil(t time.Time) error {
	return cb.store.Update(func(state *State) error {
		if t.After(state.RetryAfterUntil) {
			state.RetryAfterUntil = t
		}
		state.UpdatedAt = cb.now()
		return nil
	})
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() (string, error) {
	state, err := cb.store.Load()
	if err != nil {
		return CircuitClosed, err
	}

	cbState := &state.CircuitBreaker

	// Check if open circuit should transition to half-open
	if cbState.IsOpen() {
		if cb.now().Sub(cbState.OpenedAt) >= cb.config.OpenTimeout {
			return CircuitHalfOpen, nil
		}
	}

	if cbState.State == "" {
		return CircuitClosed, nil
	}
	return cbState.State, nil
}
