// Package poll runs a job on a fixed-delay timer until cancelled.
package poll

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the delay between ticks when none is configured.
const DefaultInterval = 5000 * time.Millisecond

// ErrRunning is returned when Run is called on a scheduler that is already running.
var ErrRunning = errors.New("scheduler already running")

// Job is the work done on every tick.
type Job func(ctx context.Context) error

// Observer is notified around every tick.
type Observer interface {
	TickStarted(n int)
	TickFinished(n int, d time.Duration, err error)
}

// PanicError wraps a panic recovered from a job.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tick panicked: %v", e.Value)
}

// Stats summarizes the ticks run so far.
type Stats struct {
	Running   bool      `json:"running"`
	Ticks     int       `json:"ticks"`
	Failures  int       `json:"failures"`
	LastTick  time.Time `json:"last_tick,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Interval  string    `json:"interval"`
}

// Scheduler runs Job every Interval. The first tick fires one interval after
// Run starts and each later tick one interval after the previous one
// finished, so ticks never overlap. A failing or panicking tick is handed to
// Reporter and the loop carries on.
type Scheduler struct {
	Interval time.Duration
	Job      Job
	Reporter func(err error)
	Observer Observer

	running atomic.Bool
	mu      sync.Mutex
	stats   Stats
}

// Run blocks until ctx is cancelled. Cancellation is a normal stop and
// returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Job == nil {
		return errors.New("scheduler has no job")
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	interval := s.interval()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		s.tick(ctx)
		if ctx.Err() != nil {
			return nil
		}
		timer.Reset(interval)
	}
}

// RunOnce runs a single tick immediately and returns its error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.Job == nil {
		return errors.New("scheduler has no job")
	}
	return s.tick(ctx)
}

// Stats returns a snapshot of the tick counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Running = s.running.Load()
	st.Interval = s.interval().String()
	return st
}

func (s *Scheduler) interval() time.Duration {
	if s.Interval <= 0 {
		return DefaultInterval
	}
	return s.Interval
}

func (s *Scheduler) tick(ctx context.Context) error {
	s.mu.Lock()
	s.stats.Ticks++
	n := s.stats.Ticks
	s.mu.Unlock()

	if s.Observer != nil {
		s.Observer.TickStarted(n)
	}

	start := time.Now()
	err := s.safeRun(ctx)
	elapsed := time.Since(start)

	// A tick cut short by shutdown is not a failure.
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}

	s.mu.Lock()
	s.stats.LastTick = start
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	} else {
		s.stats.LastError = ""
	}
	s.mu.Unlock()

	if s.Observer != nil {
		s.Observer.TickFinished(n, elapsed, err)
	}
	if err != nil && s.Reporter != nil {
		s.Reporter(err)
	}
	return err
}

func (s *Scheduler) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return s.Job(ctx)
}
