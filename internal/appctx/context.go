// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"golang.org/x/text/message"

	"github.com/basecamp/daemon-console/internal/api"
	"github.com/basecamp/daemon-console/internal/auth"
	"github.com/basecamp/daemon-console/internal/config"
	"github.com/basecamp/daemon-console/internal/credential"
	"github.com/basecamp/daemon-console/internal/daemon"
	"github.com/basecamp/daemon-console/internal/hostutil"
	"github.com/basecamp/daemon-console/internal/observability"
	"github.com/basecamp/daemon-console/internal/output"
	"github.com/basecamp/daemon-console/internal/resilience"
	"github.com/basecamp/daemon-console/internal/token"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config  *config.Config
	Console *output.Console
	Secrets *auth.SecretStore
	Logger  *slog.Logger

	// HTTPClient is shared by the token provider and the API caller.
	HTTPClient *http.Client

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.Hooks

	// Flags holds the global flag values
	Flags GlobalFlags

	stdout  io.Writer
	stderr  io.Writer
	printer *message.Printer
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	Verbose int // 0=off, 1=ticks, 2=ticks+requests (stacks with -v -v or -vv)
	Stats   bool
}

// Option configures NewApp.
type Option func(*App)

// WithWriters redirects stdout and stderr, mostly for tests.
func WithWriters(stdout, stderr io.Writer) Option {
	return func(a *App) {
		a.stdout = stdout
		a.stderr = stderr
	}
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, opts ...Option) *App {
	a := &App{
		Config:  cfg,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		printer: localePrinter(),
		Logger:  slog.New(slog.DiscardHandler),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(a)
	}

	// Collector always runs to gather stats; hooks control trace verbosity.
	// Level 0 initially; ApplyFlags sets the actual level from -v flags.
	a.Collector = observability.NewSessionCollector()
	a.Hooks = observability.NewHooks(0, a.Collector, nil, observability.NewTraceWriterTo(a.stderr))
	a.Secrets = auth.NewSecretStore(config.GlobalConfigDir())

	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		format = output.FormatAuto
	}
	a.Console = output.New(output.Options{Format: format, Writer: a.stdout})
	return a
}

// ApplyFlags applies global flag values: trace verbosity and debug logging.
func (a *App) ApplyFlags() {
	// Determine verbosity level from flags and DAEMON_DEBUG env var
	verboseLevel := a.Flags.Verbose
	if debugEnv := os.Getenv("DAEMON_DEBUG"); debugEnv != "" {
		// DAEMON_DEBUG can be "1", "2", or "true" (treated as 2 for full debug)
		if level, err := strconv.Atoi(debugEnv); err == nil {
			if level > verboseLevel {
				verboseLevel = level
			}
		} else if debugEnv == "true" {
			verboseLevel = 2
		}
	}

	a.Hooks.SetLevel(verboseLevel)

	if verboseLevel > 0 {
		a.Logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
}

// ResolveSecret fills the client secret from the secret store when neither
// a usable secret nor a certificate came from the config layers.
func (a *App) ResolveSecret() {
	cfg := a.Config
	if credential.Usable(cfg.ClientSecret) || usableCertificate(cfg.CertificateName) {
		return
	}
	secret, err := a.Secrets.Load(cfg.ClientID)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			a.Logger.Debug("secret store unavailable", "error", err)
		}
		return
	}
	cfg.SetSecret(secret, config.SourceKeyring)
}

func usableCertificate(name string) bool {
	_, err := credential.Resolve(credential.Settings{CertificateName: name})
	return err == nil
}

// Credential resolves the configured credential.
func (a *App) Credential() (credential.Credential, error) {
	return credential.Resolve(credential.Settings{
		ClientSecret:    a.Config.ClientSecret,
		CertificateName: a.Config.CertificateName,
	})
}

// TokenProvider builds the configured token provider. Configuration
// problems, including an unreadable certificate, are returned before any
// network traffic.
func (a *App) TokenProvider() (token.Provider, error) {
	cred, err := a.Credential()
	if err != nil {
		return nil, err
	}
	p, err := token.New(token.Options{
		Backend:             a.Config.Provider,
		Authority:           a.Config.Authority,
		ClientID:            a.Config.ClientID,
		TokenURL:            a.Config.TokenURL,
		Credential:          cred,
		CertificateDir:      a.Config.CertificateDir,
		CertificatePassword: a.Config.CertificatePass,
		HTTPClient:          a.HTTPClient,
		Logger:              a.Logger,

		DisableInstanceDiscovery: loopbackAuthority(a.Config.Authority),
	})
	if err != nil {
		var cfgErr *credential.ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, &config.Error{Key: "provider", Message: err.Error(), Hint: "Check authority, client_id and provider", Cause: err}
	}
	return p, nil
}

// loopbackAuthority reports whether authority is a local identity provider,
// which public cloud instance discovery cannot validate.
func loopbackAuthority(authority string) bool {
	u, err := url.Parse(authority)
	return err == nil && hostutil.IsLocalhost(u.Host)
}

// CredentialFiles lists the files the token provider is built from: the
// certificate PEM when a certificate is configured, nothing otherwise.
func (a *App) CredentialFiles() []string {
	cred, err := a.Credential()
	if err != nil || cred.Kind != credential.KindCertificate {
		return nil
	}
	return []string{cred.Certificate.Path(a.Config.CertificateDir)}
}

// Caller builds the API caller with request hooks attached.
func (a *App) Caller() *api.Caller {
	return api.NewCaller(a.HTTPClient, a.Logger).WithHooks(a.Hooks)
}

// URL is the polled endpoint.
func (a *App) URL() string {
	return api.EndpointURL(a.Config.APIBaseURL, a.Config.Endpoint)
}

// Tick builds the per-tick job.
func (a *App) Tick() (*daemon.Tick, error) {
	provider, err := a.TokenProvider()
	if err != nil {
		return nil, err
	}
	filter, err := api.NewFilter(a.Config.Query)
	if err != nil {
		return nil, &config.Error{Key: "query", Message: err.Error(), Hint: "Fix the jq expression in query", Cause: err}
	}
	return &daemon.Tick{
		Provider: provider,
		Caller:   a.Caller(),
		Console:  a.Console,
		URL:      a.URL(),
		Scopes:   token.Scopes(a.Config.APIBaseURL),
		APIName:  a.Config.APIName,
		Filter:   filter,
		Observer: a.Hooks,
	}, nil
}

// EnableMetrics creates the Prometheus metrics and attaches them to the hooks.
func (a *App) EnableMetrics() (*observability.Metrics, error) {
	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}
	a.Hooks.SetMetrics(m)
	return m, nil
}

// Gate builds the circuit breaker gate, or nil when it is disabled.
func (a *App) Gate() *resilience.Gate {
	cfg := resilience.ForInterval(a.Config.BreakerThreshold, a.Config.Interval)
	if !cfg.Enabled() {
		return nil
	}
	store := resilience.NewStore(
		filepath.Join(a.Config.CacheDir, resilience.DefaultDirName),
		a.URL()+"|"+a.Config.ClientID,
	)
	return resilience.NewGate(store, cfg)
}

// Err renders an error, printing stats to stderr if --stats is set.
func (a *App) Err(err error) error {
	if outputErr := a.Console.Err(err); outputErr != nil {
		return outputErr
	}
	a.PrintStats()
	return nil
}

// PrintStats writes a compact stats line to stderr when --stats is set.
func (a *App) PrintStats() {
	if !a.Flags.Stats || a.Collector == nil || a.Console.Format() == output.FormatJSON {
		return
	}
	stats := a.Collector.Summary()
	a.printStatsTo(a.stderr, &stats)
}

func (a *App) printStatsTo(w io.Writer, stats *observability.SessionMetrics) {
	var parts []string

	duration := stats.EndTime.Sub(stats.StartTime)
	if duration < time.Second {
		parts = append(parts, fmt.Sprintf("%dms", duration.Milliseconds()))
	} else {
		parts = append(parts, fmt.Sprintf("%.1fs", duration.Seconds()))
	}

	p := a.printer
	if stats.Ticks > 0 {
		parts = append(parts, plural(p, stats.Ticks, "tick", "ticks"))
	}
	if stats.TotalRequests > 0 {
		parts = append(parts, plural(p, stats.TotalRequests, "request", "requests"))
	}
	if stats.CachedTokens > 0 {
		parts = append(parts, p.Sprintf("%d cached tokens", stats.CachedTokens))
	}
	if failed := stats.FailedTicks; failed > 0 {
		parts = append(parts, p.Sprintf("%d failed", failed))
	}
	if stats.SkippedTicks > 0 {
		parts = append(parts, p.Sprintf("%d skipped", stats.SkippedTicks))
	}

	fmt.Fprintf(w, "\nStats: %s\n", strings.Join(parts, " | "))
}

func plural(p *message.Printer, n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return p.Sprintf("%d %s", n, many)
}

// IsInteractive returns true if stdin and stdout are terminals.
func (a *App) IsInteractive() bool {
	if a.Console.Format() == output.FormatJSON {
		return false
	}
	return term.IsTerminal(os.Stdin.Fd()) && term.IsTerminal(os.Stdout.Fd())
}

// Stdout is where command output goes.
func (a *App) Stdout() io.Writer { return a.stdout }

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
