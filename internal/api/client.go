// Package api calls the protected web API with a bearer token.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/basecamp/daemon-console/internal/version"
)

// maxErrorBody caps how much of a failed response is kept for the error message.
const maxErrorBody = 4 << 10

// ErrAPICall matches every CallError.
var ErrAPICall = errors.New("api call failed")

// CallError is a failed call to the protected API.
type CallError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Body       string
	RetryAfter int
	Cause      error
}

func (e *CallError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("calling %s: %v", e.URL, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("calling %s: HTTP %d: %v", e.URL, e.StatusCode, e.Cause)
	case e.Body != "":
		return fmt.Sprintf("calling %s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("calling %s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
}

func (e *CallError) Unwrap() error { return e.Cause }

// Is reports whether target is ErrAPICall.
func (e *CallError) Is(target error) bool { return target == ErrAPICall }

// ErrorCode maps the failure onto an output code.
func (e *CallError) ErrorCode() string {
	if e.StatusCode == 0 {
		return "network"
	}
	return "api_call"
}

// ErrorHint returns a remediation hint for common statuses.
func (e *CallError) ErrorHint() string {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return "The token was rejected; check the audience of ApiUrl"
	case http.StatusForbidden:
		return "Grant the application permission and have a tenant administrator consent"
	case http.StatusTooManyRequests:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("Throttled; the API asked to wait %ds", e.RetryAfter)
		}
		return "Throttled; increase the poll interval"
	default:
		return ""
	}
}

// HTTPStatusCode returns the response status, if any.
func (e *CallError) HTTPStatusCode() int { return e.StatusCode }

// RetryAfterDelay is the wait a throttled response asked for.
func (e *CallError) RetryAfterDelay() time.Duration {
	if e.StatusCode != http.StatusTooManyRequests && e.StatusCode != http.StatusServiceUnavailable {
		return 0
	}
	return time.Duration(e.RetryAfter) * time.Second
}

// RequestInfo describes an outgoing API request.
type RequestInfo struct {
	Method string
	URL    string
}

// RequestResult describes how a request ended.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	Error      error
}

// Hooks observes the requests made by a Caller.
type Hooks interface {
	OnRequestStart(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd(ctx context.Context, info RequestInfo, result RequestResult)
}

// Caller issues authenticated GET requests. One Caller is shared by every tick
// so connections are reused.
type Caller struct {
	httpClient *http.Client
	logger     *slog.Logger
	hooks      Hooks
}

// NewCaller creates a caller. A nil client gets a default with a 30s timeout.
func NewCaller(httpClient *http.Client, logger *slog.Logger) *Caller {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Caller{httpClient: httpClient, logger: logger}
}

// WithHooks attaches request hooks and returns c.
func (c *Caller) WithHooks(h Hooks) *Caller {
	c.hooks = h
	return c
}

// CallAPI GETs url with the bearer token and hands the parsed JSON object to
// onResult exactly once on success. It never retries; the next tick does.
func (c *Caller) CallAPI(ctx context.Context, url, bearerToken string, onResult func(*Result) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &CallError{URL: url, Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")

	info := RequestInfo{Method: req.Method, URL: url}
	if c.hooks != nil {
		req = req.WithContext(c.hooks.OnRequestStart(ctx, info))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.hooks != nil {
		result := RequestResult{Duration: time.Since(start), Error: err}
		if resp != nil {
			result.StatusCode = resp.StatusCode
		}
		c.hooks.OnRequestEnd(req.Context(), info, result)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &CallError{URL: url, Cause: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("api response", "url", url, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &CallError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &CallError{URL: url, StatusCode: resp.StatusCode, Cause: fmt.Errorf("reading response: %w", err)}
	}

	result, err := Parse(data)
	if err != nil {
		return &CallError{URL: url, StatusCode: resp.StatusCode, Cause: err}
	}

	if onResult == nil {
		return nil
	}
	return onResult(result)
}

// EndpointURL joins the API base URL and an endpoint path. The base is
// expected to end in a slash.
func EndpointURL(apiBaseURL, endpoint string) string {
	return apiBaseURL + strings.TrimPrefix(endpoint, "/")
}

// UsersURL is the default endpoint: the tenant's user list.
func UsersURL(apiBaseURL string) string {
	return EndpointURL(apiBaseURL, "v1.0/users")
}

// parseRetryAfter parses the Retry-After header value.
func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return seconds
	}
	return 0
}
