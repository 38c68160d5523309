package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/basecamp/daemon-console/internal/api"
)

// sensitiveParams are query parameter names scrubbed from trace output.
var sensitiveParams = map[string]bool{
	"access_token":     true,
	"token":            true,
	"api_key":          true,
	"apikey":           true,
	"password":         true,
	"secret":           true,
	"client_secret":    true,
	"client_assertion": true,
	"private_key":      true,
	"$skiptoken":       true,
	"code":             true,
}

// TraceWriter outputs human-readable trace lines with timestamps relative
// to the start of the run.
type TraceWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewTraceWriter creates a new TraceWriter that writes to stderr.
func NewTraceWriter() *TraceWriter {
	return NewTraceWriterTo(os.Stderr)
}

// NewTraceWriterTo creates a new TraceWriter that writes to the given writer.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteTickStart writes a tick start line.
// Format: [5.001s] Tick #1
func (t *TraceWriter) WriteTickStart(n int) {
	t.printf("Tick #%d", n)
}

// WriteTickEnd writes a tick completion line.
// Format: [5.234s] Completed tick #1 (233ms)
func (t *TraceWriter) WriteTickEnd(n int, d time.Duration, err error) {
	if err != nil {
		t.printf("Failed tick #%d: %v", n, err)
		return
	}
	t.printf("Completed tick #%d (%dms)", n, d.Milliseconds())
}

// WriteToken writes a token acquisition line.
// Format: [5.010s]   token (cached) or [5.010s]   token (120ms)
func (t *TraceWriter) WriteToken(m TokenMetrics) {
	switch {
	case m.Error != nil:
		t.printf("  token ERROR: %v", m.Error)
	case m.FromCache:
		t.printf("  token (cached)")
	default:
		t.printf("  token (%dms)", m.Duration.Milliseconds())
	}
}

// WriteRequestStart writes a request start line.
// Format: [5.011s]   -> GET https://graph.microsoft.com/v1.0/users
func (t *TraceWriter) WriteRequestStart(info api.RequestInfo) {
	t.printf("  -> %s %s", info.Method, scrubURL(info.URL))
}

// WriteRequestEnd writes a request completion line.
// Format: [5.101s]   <- 200 (90ms)
func (t *TraceWriter) WriteRequestEnd(_ api.RequestInfo, result api.RequestResult) {
	if result.Error != nil {
		t.printf("  <- ERROR: %v", result.Error)
		return
	}
	t.printf("  <- %d (%dms)", result.StatusCode, result.Duration.Milliseconds())
}

// Reset resets the start time for relative timestamps.
func (t *TraceWriter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
}

func (t *TraceWriter) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] %s\n", elapsed, fmt.Sprintf(format, args...))
}

// scrubURL redacts sensitive query parameters from a URL for safe logging.
// Returns a safe placeholder if the URL cannot be parsed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// Don't leak potentially sensitive malformed URLs
		return "[unparseable URL]"
	}

	query := u.Query()
	modified := false
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			query.Set(key, "[REDACTED]")
			modified = true
		}
	}

	if !modified {
		return rawURL
	}

	u.RawQuery = query.Encode()
	return u.String()
}
