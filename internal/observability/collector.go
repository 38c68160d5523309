// Package observability collects tick metrics, traces requests and serves
// them to Prometheus.
package observability

import (
	"sync"
	"time"

	"github.com/basecamp/daemon-console/internal/api"
)

// TickMetrics holds the outcome of one scheduler tick.
type TickMetrics struct {
	Number   int
	Duration time.Duration
	Skipped  bool // circuit open
	Error    error
}

// TokenMetrics holds the outcome of one token acquisition.
type TokenMetrics struct {
	FromCache bool
	Duration  time.Duration
	Error     error
}

// RequestMetrics holds timing and status information for a single API request.
type RequestMetrics struct {
	Method     string
	URL        string
	StatusCode int
	Duration   time.Duration
	Error      error
}

// SessionMetrics aggregates metrics for a daemon run.
type SessionMetrics struct {
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	Ticks         int           `json:"ticks"`
	FailedTicks   int           `json:"failed_ticks"`
	SkippedTicks  int           `json:"skipped_ticks"`
	Tokens        int           `json:"tokens"`
	CachedTokens  int           `json:"cached_tokens"`
	TokenFailures int           `json:"token_failures"`
	TotalRequests int           `json:"requests"`
	FailedReqs    int           `json:"failed_requests"`
	TotalLatency  time.Duration `json:"total_latency"`
}

// SessionCollector accumulates metrics across a run.
// It is safe for concurrent use and keeps counters rather than history.
type SessionCollector struct {
	mu sync.Mutex

	startTime     time.Time
	ticks         int
	failedTicks   int
	skippedTicks  int
	tokens        int
	cachedTokens  int
	tokenFailures int
	totalRequests int
	failedReqs    int
	totalLatency  time.Duration
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		startTime: time.Now(),
	}
}

// RecordTick records a finished tick.
func (c *SessionCollector) RecordTick(m TickMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	switch {
	case m.Skipped:
		c.skippedTicks++
	case m.Error != nil:
		c.failedTicks++
	}
}

// RecordToken records a token acquisition.
func (c *SessionCollector) RecordToken(m TokenMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens++
	if m.Error != nil {
		c.tokenFailures++
		return
	}
	if m.FromCache {
		c.cachedTokens++
	}
}

// RecordRequest records metrics for an API request.
func (c *SessionCollector) RecordRequest(m RequestMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalLatency += m.Duration
	if m.Error != nil || m.StatusCode < 200 || m.StatusCode > 299 {
		c.failedReqs++
	}
}

// RecordRequestFromAPI records metrics from api hook types.
func (c *SessionCollector) RecordRequestFromAPI(info api.RequestInfo, result api.RequestResult) {
	c.RecordRequest(RequestMetrics{
		Method:     info.Method,
		URL:        info.URL,
		StatusCode: result.StatusCode,
		Duration:   result.Duration,
		Error:      result.Error,
	})
}

// Summary returns aggregated metrics for the run.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionMetrics{
		StartTime:     c.startTime,
		EndTime:       time.Now(),
		Ticks:         c.ticks,
		FailedTicks:   c.failedTicks,
		SkippedTicks:  c.skippedTicks,
		Tokens:        c.tokens,
		CachedTokens:  c.cachedTokens,
		TokenFailures: c.tokenFailures,
		TotalRequests: c.totalRequests,
		FailedReqs:    c.failedReqs,
		TotalLatency:  c.totalLatency,
	}
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.ticks = 0
	c.failedTicks = 0
	c.skippedTicks = 0
	c.tokens = 0
	c.cachedTokens = 0
	c.tokenFailures = 0
	c.totalRequests = 0
	c.failedReqs = 0
	c.totalLatency = 0
}
