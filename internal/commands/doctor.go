package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/basecamp/daemon-console/internal/api"
	"github.com/basecamp/daemon-console/internal/appctx"
	"github.com/basecamp/daemon-console/internal/credential"
	"github.com/basecamp/daemon-console/internal/output"
	"github.com/basecamp/daemon-console/internal/token"
	"github.com/basecamp/daemon-console/internal/version"
)

// Check represents a single diagnostic check result.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "fail", "skip", "warn"
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// DoctorResult holds the complete diagnostic results.
type DoctorResult struct {
	Checks  []Check `json:"checks"`
	Passed  int     `json:"passed"`
	Failed  int     `json:"failed"`
	Warned  int     `json:"warned"`
	Skipped int     `json:"skipped"`
}

// Summary returns a human-readable summary of the results.
func (r *DoctorResult) Summary() string {
	if r.Failed == 0 && r.Warned == 0 && r.Passed > 0 {
		if r.Skipped > 0 {
			return fmt.Sprintf("All %d checks passed, %d skipped", r.Passed, r.Skipped)
		}
		return fmt.Sprintf("All %d checks passed", r.Passed)
	}
	parts := []string{}
	if r.Passed > 0 {
		parts = append(parts, fmt.Sprintf("%d passed", r.Passed))
	}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.Failed))
	}
	if r.Warned > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", r.Warned, pluralize(r.Warned, "warning", "warnings")))
	}
	if r.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", r.Skipped))
	}
	return strings.Join(parts, ", ")
}

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration, token and API problems",
		Long: `Run diagnostic checks in the order the daemon depends on them:
  - Configuration values
  - Credential (secret or certificate)
  - Token acquisition
  - Protected API call
  - Cache directory

Later checks are skipped when an earlier one fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			result := summarizeChecks(runDoctorChecks(cmd.Context(), app))
			if app.Console.Format() == output.FormatJSON {
				if err := app.Console.Data(result); err != nil {
					return err
				}
			} else {
				renderDoctor(app.Console, result)
			}
			if result.Failed > 0 {
				return &output.Error{Code: firstFailureCode(result.Checks), Message: result.Summary()}
			}
			return nil
		},
	}
}

// runDoctorChecks executes all diagnostic checks.
func runDoctorChecks(ctx context.Context, app *appctx.App) []Check {
	checks := []Check{checkVersion()}

	cfgCheck := checkConfig(app)
	checks = append(checks, cfgCheck)

	credCheck := Check{Name: "Credential", Status: "skip", Message: "Skipped (invalid configuration)"}
	if cfgCheck.Status == "pass" || cfgCheck.Status == "warn" {
		credCheck = checkCredential(app)
	}
	checks = append(checks, credCheck)

	var provider token.Provider
	tokenCheck := Check{Name: "Token", Status: "skip", Message: "Skipped (no credential)"}
	if credCheck.Status == "pass" || credCheck.Status == "warn" {
		provider, tokenCheck = checkToken(ctx, app)
	}
	checks = append(checks, tokenCheck)

	apiCheck := Check{Name: "API", Status: "skip", Message: "Skipped (no token)"}
	if tokenCheck.Status == "pass" {
		apiCheck = checkAPI(ctx, app, provider)
	}
	checks = append(checks, apiCheck)

	return append(checks, checkCacheDir(app))
}

func checkVersion() Check {
	return Check{
		Name:    "Version",
		Status:  "pass",
		Message: fmt.Sprintf("%s (%s %s/%s)", version.Full(), runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

func checkConfig(app *appctx.App) Check {
	check := Check{Name: "Configuration"}
	if err := app.Config.Validate(); err != nil {
		e := output.AsError(err)
		check.Status = "fail"
		check.Message = e.Message
		check.Hint = e.Hint
		return check
	}
	check.Status = "pass"
	check.Message = fmt.Sprintf("%s as %s", app.Config.Authority, app.Config.ClientID)
	if warnings := app.Config.Warnings(); len(warnings) > 0 {
		check.Status = "warn"
		check.Message = warnings[0]
		check.Hint = "End ApiUrl with '/', for example https://graph.microsoft.com/"
	}
	return check
}

func checkCredential(app *appctx.App) Check {
	check := Check{Name: "Credential"}

	cred, err := app.Credential()
	if err != nil {
		check.Status = "fail"
		check.Message = err.Error()
		var cfgErr *credential.ConfigurationError
		if errors.As(err, &cfgErr) {
			check.Hint = cfgErr.Hint
		}
		return check
	}

	source := app.Config.Sources["client_secret"]
	if source == "" {
		source = "default"
	}
	switch cred.Kind {
	case credential.KindCertificate:
		cert, err := credential.LoadCertificate(cred.Certificate, app.Config.CertificateDir, app.Config.CertificatePass)
		if err != nil {
			check.Status = "fail"
			check.Message = err.Error()
			check.Hint = output.AsError(err).Hint
			return check
		}
		leaf := cert.Leaf()
		if leaf == nil {
			check.Status = "fail"
			check.Message = "Certificate chain is empty"
			return check
		}
		check.Status = "pass"
		check.Message = fmt.Sprintf("Certificate %s, expires %s", leaf.Subject.CommonName, leaf.NotAfter.Format(time.DateOnly))
		if until := time.Until(leaf.NotAfter); until < 30*24*time.Hour {
			check.Status = "warn"
			check.Hint = "Renew the certificate and upload it to the app registration"
		}
	default:
		check.Status = "pass"
		check.Message = "Client secret from " + source
		if source == "file" {
			check.Status = "warn"
			check.Hint = "Move the secret out of the config file with: daemon-console secret set"
		}
	}
	return check
}

func checkToken(ctx context.Context, app *appctx.App) (token.Provider, Check) {
	check := Check{Name: "Token"}

	provider, err := app.TokenProvider()
	if err != nil {
		check.Status = "fail"
		check.Message = err.Error()
		return nil, check
	}

	start := time.Now()
	res, err := provider.AcquireToken(ctx, token.Scopes(app.Config.APIBaseURL))
	if err != nil {
		e := output.AsError(err)
		check.Status = "fail"
		check.Message = e.Message
		check.Hint = e.Hint
		return nil, check
	}

	check.Status = "pass"
	check.Message = fmt.Sprintf("Acquired from %s provider (%dms), expires in %s",
		app.Config.Provider, time.Since(start).Milliseconds(), time.Until(res.ExpiresOn).Round(time.Minute))
	return provider, check
}

func checkAPI(ctx context.Context, app *appctx.App, provider token.Provider) Check {
	check := Check{Name: "API"}

	res, err := provider.AcquireToken(ctx, token.Scopes(app.Config.APIBaseURL))
	if err != nil {
		check.Status = "fail"
		check.Message = err.Error()
		return check
	}

	fields := 0
	start := time.Now()
	err = app.Caller().CallAPI(ctx, app.URL(), res.AccessToken, func(r *api.Result) error {
		fields = len(r.Visible())
		return nil
	})
	if err != nil {
		e := output.AsError(err)
		check.Status = "fail"
		check.Message = e.Message
		check.Hint = e.Hint
		return check
	}

	check.Status = "pass"
	check.Message = fmt.Sprintf("%s answered with %d %s (%dms)",
		app.Config.APIName, fields, pluralize(fields, "field", "fields"), time.Since(start).Milliseconds())
	return check
}

func checkCacheDir(app *appctx.App) Check {
	check := Check{Name: "Cache"}
	dir := app.Config.CacheDir

	if err := os.MkdirAll(dir, 0o700); err != nil {
		check.Status = "warn"
		check.Message = "Cannot create " + dir
		check.Hint = "Token cache and breaker state will not persist; set --cache-dir"
		return check
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		check.Status = "warn"
		check.Message = dir + " is not writable"
		check.Hint = "Set --cache-dir to a writable directory"
		return check
	}
	probe.Close()
	os.Remove(probe.Name())

	check.Status = "pass"
	check.Message = filepath.Clean(dir)
	return check
}

// firstFailureCode maps the first failed check to the exit code the daemon
// itself would have stopped with.
func firstFailureCode(checks []Check) string {
	for _, c := range checks {
		if c.Status != "fail" {
			continue
		}
		switch c.Name {
		case "Configuration", "Credential":
			return output.CodeConfig
		case "Token":
			return output.CodeProvider
		}
		return output.CodeAPI
	}
	return output.CodeAPI
}

// summarizeChecks counts results by status.
func summarizeChecks(checks []Check) *DoctorResult {
	result := &DoctorResult{Checks: checks}
	for _, c := range checks {
		switch c.Status {
		case "pass":
			result.Passed++
		case "fail":
			result.Failed++
		case "warn":
			result.Warned++
		case "skip":
			result.Skipped++
		}
	}
	return result
}

// pluralize returns singular or plural form based on count.
func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// renderDoctor prints one status line per check, then the summary.
func renderDoctor(c *output.Console, result *DoctorResult) {
	for _, check := range result.Checks {
		line := check.Name + ": " + check.Message
		switch check.Status {
		case "pass":
			c.Success("✓ " + line)
		case "fail":
			c.Failure(errors.New("✗ " + line))
		case "warn":
			c.Warn("! " + line)
		default:
			c.Hint("○ " + line)
		}
		if check.Hint != "" && (check.Status == "fail" || check.Status == "warn") {
			c.Hint("    ↳ " + check.Hint)
		}
	}
	if result.Failed == 0 {
		c.Info(result.Summary())
	}
}
