package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/basecamp/daemon-console/internal/appctx"
	"github.com/basecamp/daemon-console/internal/console"
	"github.com/basecamp/daemon-console/internal/daemon"
	"github.com/basecamp/daemon-console/internal/observability"
	"github.com/basecamp/daemon-console/internal/output"
	"github.com/basecamp/daemon-console/internal/poll"
	"github.com/basecamp/daemon-console/internal/resilience"
)

// NewRunCmd creates the run command. It is also what the bare root
// command does.
func NewRunCmd() *cobra.Command {
	var noKeypress bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Call the API on an interval until a key is pressed",
		Long: `Acquire an app-only token and call the protected API every interval,
printing each top-level field of the response as "name = value".

Failures are reported and the next tick still runs. The loop ends when a key
is pressed or the process receives SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunDaemon(cmd, noKeypress)
		},
	}

	cmd.Flags().BoolVar(&noKeypress, "no-keypress", false, "Ignore the keyboard and stop only on a signal")
	return cmd
}

// RunDaemonDefault is the root command's RunE.
func RunDaemonDefault(cmd *cobra.Command, _ []string) error {
	return RunDaemon(cmd, false)
}

// RunDaemon validates the configuration, then polls until stopped.
// Configuration errors are returned before the first tick.
func RunDaemon(cmd *cobra.Command, noKeypress bool) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}
	if err := app.Config.Validate(); err != nil {
		return err
	}

	tick, err := app.Tick()
	if err != nil {
		return err
	}

	gate := app.Gate()
	sched := &poll.Scheduler{
		Interval: app.Config.Interval,
		Job:      gate.Wrap(tick.Run),
		Reporter: daemon.Reporter(app.Console, app.Logger),
		Observer: app.Hooks,
	}
	d := &daemon.Daemon{Scheduler: sched, Logger: app.Logger}

	// A renewed certificate is picked up on the next tick.
	if files := app.CredentialFiles(); len(files) > 0 {
		rot, err := daemon.NewRotator(tick.Provider, app.TokenProvider, files, app.Logger)
		if err != nil {
			return err
		}
		tick.Provider = rot
		d.Rotation = rot
	}

	if addr := app.Config.MetricsAddr; addr != "" {
		metrics, err := app.EnableMetrics()
		if err != nil {
			return err
		}
		d.Server = observability.NewServer(addr, metrics, app.Collector, sched.Stats, app.Logger)
	}

	keyboard := !noKeypress && app.IsInteractive()
	if keyboard {
		d.WaitForKey = func(ctx context.Context) error {
			return console.WaitForKey(ctx, os.Stdin)
		}
	}

	printBanner(app, keyboard)
	if gate != nil {
		if state, err := gate.Breaker().State(); err == nil && state != resilience.CircuitClosed {
			app.Console.Warn(fmt.Sprintf("Circuit breaker is %s after earlier failures", strings.ReplaceAll(state, "_", "-")))
		}
	}
	err = d.Run(cmd.Context())
	app.PrintStats()
	return err
}

func printBanner(app *appctx.App, keyboard bool) {
	if app.Console.Format() == output.FormatJSON {
		return
	}
	if keyboard {
		app.Console.Info(fmt.Sprintf("The API will be called every %s seconds unless any key was pressed.", seconds(app.Config.Interval)))
		app.Console.Info("Press any key to exit")
		return
	}
	app.Console.Info(fmt.Sprintf("The API will be called every %s seconds until interrupted.", seconds(app.Config.Interval)))
	app.Console.Info("Press Ctrl+C to exit")
}

// seconds formats d in seconds without trailing zeros: 5s is "5", 1500ms is "1.5".
func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
