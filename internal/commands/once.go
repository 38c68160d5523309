package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/basecamp/daemon-console/internal/daemon"
	"github.com/basecamp/daemon-console/internal/output"
	"github.com/basecamp/daemon-console/internal/poll"
	"github.com/basecamp/daemon-console/internal/token"
)

// NewOnceCmd creates the once command.
func NewOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Acquire a token and call the API a single time",
		Long: `Run one tick immediately and exit. Unlike run, a failure is fatal and
sets the exit code, which makes once suitable for scripts and health checks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			sched := &poll.Scheduler{
				Interval: app.Config.Interval,
				Job:      app.Gate().Wrap(tick.Run),
				Observer: app.Hooks,
			}
			if err := sched.RunOnce(cmd.Context()); err != nil {
				if errors.Is(err, token.ErrInvalidScope) {
					return &output.Error{
						Code:    output.CodeInvalidScope,
						Message: daemon.ScopeNotSupported,
						Hint:    "The scope must be <ApiUrl>.default; check ApiUrl",
						Cause:   err,
					}
				}
				return err
			}
			app.PrintStats()
			return nil
		},
	}
}
