package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/daemon-console/internal/config"
	"github.com/basecamp/daemon-console/internal/output"
)

// isolate runs the test in an empty directory with no daemon settings.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	t.Setenv("DAEMON_NO_KEYRING", "1")
	for _, k := range []string{"DAEMON_CLIENT_ID", "DAEMON_TENANT", "DAEMON_AUTHORITY", "DAEMON_API_URL", "DAEMON_CLIENT_SECRET", "DAEMON_FORMAT", "DAEMON_DEBUG"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(dir)
	return dir
}

func runRoot(t *testing.T, args ...string) (int, string) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	return run(context.Background(), cmd, args), out.String()
}

func TestRootRegistersCommands(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"run", "once", "token", "doctor", "config", "secret", "version"} {
		found, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, found.Name())
	}
}

func TestRootPersistentFlags(t *testing.T) {
	pf := NewRootCmd().PersistentFlags()
	for _, name := range []string{"config", "env-file", "api-url", "provider", "interval", "query", "metrics-addr", "cache-dir", "format", "verbose", "stats"} {
		assert.NotNil(t, pf.Lookup(name), name)
	}
	assert.Equal(t, "v", pf.Lookup("verbose").Shorthand)
}

func TestVersionSkipsConfiguration(t *testing.T) {
	isolate(t)
	code, out := runRoot(t, "version")
	assert.Equal(t, output.ExitOK, code)
	assert.NotEmpty(t, out)
}

func TestMissingConfigurationIsFatal(t *testing.T) {
	isolate(t)
	code, out := runRoot(t, "once", "--format", "plain")
	assert.Equal(t, output.ExitConfig, code)
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "client_id")
}

func TestMissingExplicitConfigFile(t *testing.T) {
	isolate(t)
	code, out := runRoot(t, "config", "show", "--config", "nope.json", "--format", "json")
	assert.Equal(t, output.ExitConfig, code)
	assert.Contains(t, out, `"ok":false`)
}

func TestUnknownFormat(t *testing.T) {
	isolate(t)
	code, _ := runRoot(t, "config", "--format", "xml")
	assert.Equal(t, output.ExitUsage, code)
}

func TestUnknownFlag(t *testing.T) {
	isolate(t)
	code, out := runRoot(t, "--bogus")
	assert.Equal(t, output.ExitUsage, code)
	assert.Contains(t, out, "Unknown option: --bogus")
}

func TestFlagsOverrideSettings(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "appsettings.json"), []byte(`{
		"Instance": "https://login.microsoftonline.com/{0}",
		"Tenant": "contoso",
		"ClientId": "abc",
		"ApiUrl": "https://graph.microsoft.com/"
	}`), 0o600))

	code, out := runRoot(t, "config", "show", "--api-url", "https://api.example.com/", "--interval", "2s", "--format", "plain")
	require.Equal(t, output.ExitOK, code, out)
	assert.Contains(t, out, "https://api.example.com/  (flag)")
	assert.Contains(t, out, "abc  (file)")
}

func TestSecretFromStoreIsResolved(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "appsettings.json"), []byte(`{
		"Authority": "https://login.example.com/t",
		"Provider": "oauth2",
		"ClientId": "abc",
		"ApiUrl": "https://graph.example.com/"
	}`), 0o600))

	set := NewRootCmd()
	set.SetIn(bytes.NewBufferString("stored-secret"))
	set.SetOut(new(bytes.Buffer))
	require.Equal(t, output.ExitOK, run(context.Background(), set, []string{"secret", "set", "--stdin"}))

	code, out := runRoot(t, "config", "validate", "--format", "plain")
	assert.Equal(t, output.ExitOK, code, out)
	assert.Contains(t, out, "Configuration is valid (client secret)")
}

func TestTransformCobraError(t *testing.T) {
	tests := []struct {
		in   string
		want string
		code int
	}{
		{"flag needs an argument: --interval", "--interval requires a value", output.ExitUsage},
		{"unknown flag: --bogus", "Unknown option: --bogus", output.ExitUsage},
		{"unknown shorthand flag: 'x' in -x", "Unknown option: -x", output.ExitUsage},
		{`unknown command "foo" for "daemon-console"`, `unknown command "foo" for "daemon-console"`, output.ExitUsage},
		{`invalid argument "soon" for "--interval" flag`, `invalid argument "soon" for "--interval" flag`, output.ExitUsage},
		{`accepts 0 arg(s), received 1`, "Unexpected argument", output.ExitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e := output.AsError(transformCobraError(errors.New(tt.in)))
			assert.Equal(t, tt.want, e.Message)
			assert.Equal(t, tt.code, e.ExitCode())
		})
	}

	other := errors.New("boom")
	assert.Same(t, other, transformCobraError(other))
}

func TestSkipSetup(t *testing.T) {
	root := NewRootCmd()
	assert.False(t, skipSetup(root))

	version, _, err := root.Find([]string{"version"})
	require.NoError(t, err)
	assert.True(t, skipSetup(version))

	completion := &cobra.Command{Use: "completion"}
	bash := &cobra.Command{Use: "bash"}
	completion.AddCommand(bash)
	assert.True(t, skipSetup(bash))
}

func TestAddSettingFlags(t *testing.T) {
	var o config.FlagOverrides
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addSettingFlags(fs, &o)

	require.NoError(t, fs.Parse([]string{"-c", "daemon.yaml", "--interval", "1500ms", "--provider", "oauth2", "--query", ".value"}))
	assert.Equal(t, "daemon.yaml", o.ConfigFile)
	assert.Equal(t, 1500*time.Millisecond, o.Interval)
	assert.Equal(t, "oauth2", o.Provider)
	assert.Equal(t, ".value", o.Query)

	assert.Error(t, fs.Parse([]string{"--interval", "soon"}))
}
