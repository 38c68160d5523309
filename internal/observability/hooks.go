package observability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/basecamp/daemon-console/internal/api"
	"github.com/basecamp/daemon-console/internal/poll"
	"github.com/basecamp/daemon-console/internal/resilience"
)

// Verify Hooks satisfies the observer interfaces at compile time.
var (
	_ api.Hooks     = (*Hooks)(nil)
	_ poll.Observer = (*Hooks)(nil)
)

// Hooks fans tick, token and request events out to the collector, the
// Prometheus metrics and the trace writer. Verbosity levels:
//   - 0: silent (collect only)
//   - 1: ticks and tokens
//   - 2: ticks, tokens and requests
type Hooks struct {
	mu        sync.Mutex
	level     int
	collector *SessionCollector
	metrics   *Metrics
	writer    *TraceWriter
}

// NewHooks creates hooks with the given verbosity level. Any of collector,
// metrics or writer may be nil.
func NewHooks(level int, collector *SessionCollector, metrics *Metrics, writer *TraceWriter) *Hooks {
	return &Hooks{
		level:     level,
		collector: collector,
		metrics:   metrics,
		writer:    writer,
	}
}

// SetLevel changes the verbosity level at runtime.
func (h *Hooks) SetLevel(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// SetMetrics attaches Prometheus metrics.
func (h *Hooks) SetMetrics(m *Metrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = m
}

// Level returns the current verbosity level.
func (h *Hooks) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

func (h *Hooks) snapshot() (int, *SessionCollector, *Metrics, *TraceWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level, h.collector, h.metrics, h.writer
}

// TickStarted is called before every tick.
func (h *Hooks) TickStarted(n int) {
	level, _, _, writer := h.snapshot()
	if level >= 1 && writer != nil {
		writer.WriteTickStart(n)
	}
}

// TickFinished is called after every tick, including skipped ones.
func (h *Hooks) TickFinished(n int, d time.Duration, err error) {
	level, collector, metrics, writer := h.snapshot()

	m := TickMetrics{Number: n, Duration: d, Error: err, Skipped: errors.Is(err, resilience.ErrCircuitOpen)}
	if collector != nil {
		collector.RecordTick(m)
	}
	if metrics != nil {
		metrics.ObserveTick(m)
	}
	if level >= 1 && writer != nil {
		writer.WriteTickEnd(n, d, err)
	}
}

// OnToken is called after every token acquisition.
func (h *Hooks) OnToken(fromCache bool, d time.Duration, err error) {
	level, collector, metrics, writer := h.snapshot()

	m := TokenMetrics{FromCache: fromCache, Duration: d, Error: err}
	if collector != nil {
		collector.RecordToken(m)
	}
	if metrics != nil {
		metrics.ObserveToken(m)
	}
	if level >= 1 && writer != nil {
		writer.WriteToken(m)
	}
}

// OnRequestStart is called before an API request is sent.
func (h *Hooks) OnRequestStart(ctx context.Context, info api.RequestInfo) context.Context {
	level, _, _, writer := h.snapshot()
	if level >= 2 && writer != nil {
		writer.WriteRequestStart(info)
	}
	return ctx
}

// OnRequestEnd is called after an API request completes.
func (h *Hooks) OnRequestEnd(_ context.Context, info api.RequestInfo, result api.RequestResult) {
	level, collector, metrics, writer := h.snapshot()

	if collector != nil {
		collector.RecordRequestFromAPI(info, result)
	}
	if metrics != nil {
		metrics.ObserveRequest(RequestMetrics{
			Method:     info.Method,
			URL:        info.URL,
			StatusCode: result.StatusCode,
			Duration:   result.Duration,
			Error:      result.Error,
		})
	}
	if level >= 2 && writer != nil {
		writer.WriteRequestEnd(info, result)
	}
}
