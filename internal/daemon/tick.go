// Package daemon runs the token and API call sequence on every poll tick.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/basecamp/daemon-console/internal/api"
	"github.com/basecamp/daemon-console/internal/output"
	"github.com/basecamp/daemon-console/internal/resilience"
	"github.com/basecamp/daemon-console/internal/token"
)

// ScopeNotSupported is printed when the identity provider rejects the scope.
const ScopeNotSupported = "Scope provided is not supported"

// TokenObserver is told about every token acquisition.
type TokenObserver interface {
	OnToken(fromCache bool, d time.Duration, err error)
}

// Tick acquires a token and calls the API once. Its Run method is the
// scheduler job.
type Tick struct {
	Provider token.Provider
	Caller   *api.Caller
	Console  *output.Console
	URL      string
	Scopes   []string
	APIName  string
	Filter   *api.Filter
	Observer TokenObserver
	Now      func() time.Time
}

// Run performs one tick. A rejected scope is returned as is so the
// reporter can explain it; the API is not called.
func (t *Tick) Run(ctx context.Context) error {
	now := t.Now
	if now == nil {
		now = time.Now
	}

	start := time.Now()
	res, err := t.Provider.AcquireToken(ctx, t.Scopes)
	if t.Observer != nil {
		t.Observer.OnToken(res != nil && res.FromCache, time.Since(start), err)
	}
	if err != nil {
		return err
	}
	t.Console.Success("Token acquired")

	t.Console.Progress(fmt.Sprintf("%s-Calling %s", now().Format(time.RFC3339Nano), t.APIName))
	return t.Caller.CallAPI(ctx, t.URL, res.AccessToken, t.Filter.Then(ctx, api.DisplayTo(t.Console)))
}

// Reporter prints tick failures on the console. The loop keeps running
// after each of them.
func Reporter(c *output.Console, logger *slog.Logger) func(error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(err error) {
		logger.Debug("tick failed", "error", err)

		switch {
		case errors.Is(err, token.ErrInvalidScope):
			c.Failure(errors.New(ScopeNotSupported))
		case errors.Is(err, resilience.ErrCircuitOpen):
			c.Warn(err.Error())
		default:
			c.Failure(err)
		}
	}
}
