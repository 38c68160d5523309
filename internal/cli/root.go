package cli

import (
	"context"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/basecamp/daemon-console/internal/appctx"
	"github.com/basecamp/daemon-console/internal/commands"
	"github.com/basecamp/daemon-console/internal/config"
	"github.com/basecamp/daemon-console/internal/output"
	"github.com/basecamp/daemon-console/internal/version"
)

// rootFlags holds the persistent flag values.
type rootFlags struct {
	overrides config.FlagOverrides
	global    appctx.GlobalFlags
}

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "daemon-console",
		Short: "Call a protected web API on an interval with an app-only token",
		Long: `daemon-console acquires an OAuth2 client credentials token for its own
application identity, then calls {ApiUrl}v1.0/users every five seconds and
prints each top-level field of the response.

Run without a subcommand to start polling.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          commands.RunDaemonDefault,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipSetup(cmd) {
				return nil
			}

			cfg, err := config.Load(flags.overrides)
			if err != nil {
				return err
			}
			if _, err := output.ParseFormat(cfg.Format); err != nil {
				return err
			}

			app := appctx.NewApp(cfg, appctx.WithWriters(cmd.OutOrStdout(), cmd.ErrOrStderr()))
			app.Flags = flags.global
			app.ApplyFlags()
			app.ResolveSecret()

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	addSettingFlags(cmd.PersistentFlags(), &flags.overrides)
	cmd.PersistentFlags().CountVarP(&flags.global.Verbose, "verbose", "v", "Verbose output (-v for ticks, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.global.Stats, "stats", false, "Show session statistics on exit")

	_ = cmd.RegisterFlagCompletionFunc("provider", fixedCompletion(config.Providers...))
	_ = cmd.RegisterFlagCompletionFunc("format", fixedCompletion("auto", "plain", "styled", "json"))

	cmd.AddCommand(commands.All()...)
	return cmd
}

// addSettingFlags binds the flags that override configuration values.
func addSettingFlags(pf *pflag.FlagSet, o *config.FlagOverrides) {
	// Configuration sources
	pf.StringVarP(&o.ConfigFile, "config", "c", "", "Settings file (default ./appsettings.json)")
	pf.StringVar(&o.EnvFile, "env-file", "", "Dotenv file (default ./.env)")

	// Setting overrides
	pf.StringVar(&o.APIBaseURL, "api-url", "", "Protected API base URL, e.g. https://graph.microsoft.com/")
	pf.StringVar(&o.Provider, "provider", "", "Token provider: msal or oauth2")
	pf.DurationVar(&o.Interval, "interval", 0, "Delay between API calls (default 5s)")
	pf.StringVar(&o.Query, "query", "", "jq expression applied to each response")
	pf.StringVar(&o.MetricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	pf.StringVar(&o.CacheDir, "cache-dir", "", "Cache directory")
	pf.StringVar(&o.Format, "format", "", "Output format: auto, plain, styled or json")
}

// skipSetup reports whether cmd runs without configuration.
func skipSetup(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "version", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "completion" {
			return true
		}
	}
	return false
}

func fixedCompletion(values ...string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return values, cobra.ShellCompDirectiveNoFileComp
	}
}

// Execute runs the root command and exits with the code for its error.
// SIGINT and SIGTERM cancel the command context, which stops the poll loop
// cleanly with exit code 0.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, NewRootCmd(), os.Args[1:])
	stop()
	os.Exit(code)
}

// run executes cmd with args and renders any error. It returns the process
// exit code.
func run(ctx context.Context, cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)

	// Use ExecuteContextC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteContextC(ctx)
	if err == nil {
		return output.ExitOK
	}

	err = transformCobraError(err)
	apiErr := output.AsError(err)

	// Use app.Err() when the app is available (for --stats support)
	if executedCmd != nil {
		if app := appctx.FromContext(executedCmd.Context()); app != nil {
			_ = app.Err(err)
			return apiErr.ExitCode()
		}
	}

	// Fallback: the app was never built, e.g. a flag or config load error
	format := output.FormatAuto
	if f, ferr := cmd.PersistentFlags().GetString("format"); ferr == nil && f != "" {
		if parsed, perr := output.ParseFormat(f); perr == nil {
			format = parsed
		}
	}
	writer := output.New(output.Options{Format: format, Writer: cmd.OutOrStdout()})
	_ = writer.Err(err)
	return apiErr.ExitCode()
}

var unknownShorthand = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)

// transformCobraError turns cobra's parse errors into usage errors with
// consistent wording.
func transformCobraError(err error) error {
	msg := err.Error()

	// "flag needs an argument: --FLAG" → "--FLAG requires a value"
	if strings.HasPrefix(msg, "flag needs an argument: ") {
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")
	}

	// "unknown flag: --FLAG" → "Unknown option: --FLAG"
	if strings.HasPrefix(msg, "unknown flag: ") {
		flag := strings.TrimPrefix(msg, "unknown flag: ")
		return output.ErrUsage("Unknown option: " + flag)
	}

	// "unknown shorthand flag: 'X' in -X" → "Unknown option: -X"
	if matches := unknownShorthand.FindStringSubmatch(msg); len(matches) > 1 {
		return output.ErrUsage("Unknown option: " + matches[1])
	}

	if strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsageHint(msg, "Run 'daemon-console --help' for a list of commands")
	}

	if strings.Contains(msg, "invalid argument") {
		return output.ErrUsage(msg)
	}

	// "accepts 0 arg(s), received N" → "Unexpected argument"
	if strings.Contains(msg, "accepts 0 arg(s)") {
		return output.ErrUsage("Unexpected argument")
	}

	return err
}
