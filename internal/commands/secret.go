package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basecamp/daemon-console/internal/appctx"
	"github.com/basecamp/daemon-console/internal/auth"
	"github.com/basecamp/daemon-console/internal/config"
	"github.com/basecamp/daemon-console/internal/credential"
	"github.com/basecamp/daemon-console/internal/output"
	"github.com/basecamp/daemon-console/internal/tui"
)

// NewSecretCmd creates the secret command for the stored client secret.
func NewSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the stored client secret",
		Long: `Store the client secret in the system keyring instead of appsettings.json.

The stored secret is used only when the configuration supplies neither a
client secret nor a certificate name. Without a keyring, the secret is kept
in a 0600 file in the config directory.`,
	}
	cmd.AddCommand(newSecretSetCmd(), newSecretDeleteCmd())
	return cmd
}

func newSecretSetCmd() *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the client secret for the configured client ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			clientID, err := requireClientID(app)
			if err != nil {
				return err
			}

			secret, err := readSecret(cmd, app, clientID, fromStdin)
			if err != nil {
				return err
			}
			if !credential.Usable(secret) {
				return output.ErrUsageHint("The secret is empty or still the placeholder", "Copy the secret value from the app registration")
			}

			if err := app.Secrets.Save(clientID, secret); err != nil {
				return fmt.Errorf("storing secret: %w", err)
			}
			if app.Secrets.UsingKeyring() {
				app.Console.Success("Secret stored in the system keyring for " + clientID)
			} else {
				app.Console.Warn("System keyring unavailable; secret stored in plaintext at " + app.Secrets.Path())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the secret from standard input")
	return cmd
}

func readSecret(cmd *cobra.Command, app *appctx.App, clientID string, fromStdin bool) (string, error) {
	if fromStdin {
		data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 64<<10))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	if !app.IsInteractive() {
		return "", output.ErrUsageHint("No secret given", "Pipe the secret with --stdin")
	}
	return tui.Password("Client secret", "Stored for client "+clientID)
}

func newSecretDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored client secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			clientID, err := requireClientID(app)
			if err != nil {
				return err
			}

			if !yes && app.IsInteractive() {
				ok, err := tui.Confirm("Delete the stored secret for "+clientID+"?", false)
				if err != nil {
					return err
				}
				if !ok {
					app.Console.Info("Canceled")
					return nil
				}
			}

			if err := app.Secrets.Delete(clientID); err != nil {
				if errors.Is(err, auth.ErrNotFound) {
					return output.ErrUsage("No secret stored for " + clientID)
				}
				return err
			}
			app.Console.Success("Secret deleted for " + clientID)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func requireClientID(app *appctx.App) (string, error) {
	if app.Config.ClientID == "" {
		return "", &config.Error{Key: "client_id", Message: "client_id is not set", Hint: "Set ClientId in appsettings.json or DAEMON_CLIENT_ID"}
	}
	return app.Config.ClientID, nil
}
