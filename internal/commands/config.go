package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/basecamp/daemon-console/internal/config"
	"github.com/basecamp/daemon-console/internal/output"
)

// NewConfigCmd creates the config command for inspecting configuration.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect daemon-console configuration.

Configuration is loaded from multiple sources with the following precedence:
  flags > env > .env > --config file > global > defaults

The client secret may also come from the system keyring (see "secret set").

Config locations:
  - Global: ~/.config/daemon-console/config.json (or config.yaml)
  - File:   ./appsettings.json, or the file given with --config`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigPathCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the effective configuration with the source of each value. Secrets are redacted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
}

func runConfigShow(cmd *cobra.Command) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}

	entries := app.Config.Entries()
	if app.Console.Format() == output.FormatJSON {
		data := make(map[string]map[string]string, len(entries))
		for _, e := range entries {
			data[e.Key] = map[string]string{"value": e.Value, "source": e.Source}
		}
		return app.Console.Data(data)
	}

	rows := make([][2]string, 0, len(entries))
	for _, e := range entries {
		value := e.Value
		if value == "" {
			value = "-"
		}
		rows = append(rows, [2]string{e.Key, value + "  (" + e.Source + ")"})
	}
	app.Console.Table(rows)
	return nil
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without calling the identity provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			if err := app.Config.Validate(); err != nil {
				return err
			}
			// Building the provider resolves the credential and loads any certificate.
			if _, err := app.TokenProvider(); err != nil {
				return err
			}
			cred, _ := app.Credential()
			app.Console.Success("Configuration is valid (" + cred.Kind.String() + ")")
			for _, w := range app.Config.Warnings() {
				app.Console.Warn(w)
			}
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			dir := config.GlobalConfigDir()
			app.Console.Table([][2]string{
				{"global", filepath.Join(dir, "config.json")},
				{"file", config.DefaultFile},
				{"secrets", app.Secrets.Path()},
				{"cache", app.Config.CacheDir},
			})
			return nil
		},
	}
}
