// Package commands implements the daemon-console subcommands.
package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/basecamp/daemon-console/internal/appctx"
)

// requireApp returns the app stored by the root command's pre-run hook.
func requireApp(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, errors.New("app not initialized")
	}
	return app, nil
}

// All returns every subcommand, in help order.
func All() []*cobra.Command {
	return []*cobra.Command{
		NewRunCmd(),
		NewOnceCmd(),
		NewTokenCmd(),
		NewDoctorCmd(),
		NewConfigCmd(),
		NewSecretCmd(),
		NewVersionCmd(),
	}
}
