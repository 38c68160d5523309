// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/basecamp/daemon-console/internal/hostutil"
)

// Defaults.
const (
	DefaultInterval = 5000 * time.Millisecond
	DefaultEndpoint = "v1.0/users"
	DefaultProvider = "msal"
	DefaultAPIName  = "MS Graph"
	DefaultFile     = "appsettings.json"
)

// Providers accepted by the provider key.
var Providers = []string{"msal", "oauth2"}

// Config holds the resolved configuration.
type Config struct {
	// Identity provider settings
	Instance        string `json:"instance,omitempty"`
	Tenant          string `json:"tenant,omitempty"`
	Authority       string `json:"authority"`
	ClientID        string `json:"client_id"`
	ClientSecret    string `json:"-"`
	CertificateName string `json:"certificate_name,omitempty"`
	CertificateDir  string `json:"certificate_dir,omitempty"`
	CertificatePass string `json:"-"`
	Provider        string `json:"provider"`
	TokenURL        string `json:"token_url,omitempty"`

	// Protected API settings
	APIBaseURL string `json:"api_base_url"`
	APIName    string `json:"api_name"`
	Endpoint   string `json:"endpoint"`
	Query      string `json:"query,omitempty"`

	// Scheduling
	Interval         time.Duration `json:"interval"`
	BreakerThreshold int           `json:"breaker_threshold,omitempty"`

	// Ambient settings
	CacheDir    string `json:"cache_dir"`
	MetricsAddr string `json:"metrics_addr,omitempty"`
	Format      string `json:"format"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceGlobal  Source = "global"
	SourceFile    Source = "file"
	SourceDotenv  Source = "dotenv"
	SourceEnv     Source = "env"
	SourceKeyring Source = "keyring"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	ConfigFile  string
	EnvFile     string
	APIBaseURL  string
	Provider    string
	Interval    time.Duration
	MetricsAddr string
	Query       string
	CacheDir    string
	Format      string
}

// Error reports a configuration problem detected while loading or validating.
type Error struct {
	Key     string
	Message string
	Hint    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s", e.Key, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrorCode maps configuration errors onto the config exit code.
func (e *Error) ErrorCode() string { return "config" }

// ErrorHint returns the remediation hint.
func (e *Error) ErrorHint() string { return e.Hint }

// Default returns the default configuration.
func Default() *Config {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}

	return &Config{
		Provider: DefaultProvider,
		APIName:  DefaultAPIName,
		Endpoint: DefaultEndpoint,
		Interval: DefaultInterval,
		CacheDir: filepath.Join(cacheDir, "daemon-console"),
		Format:   "auto",
		Sources:  make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > .env > --config file > global > defaults.
// The keyring layer is applied by the caller through SetSecret.
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	for _, path := range globalConfigPaths() {
		if err := loadFromFile(cfg, path, SourceGlobal, false); err != nil {
			return nil, err
		}
	}

	path, required := overrides.ConfigFile, true
	if path == "" {
		path, required = DefaultFile, false
	}
	if err := loadFromFile(cfg, path, SourceFile, required); err != nil {
		return nil, err
	}

	if err := loadDotenv(overrides.EnvFile); err != nil {
		return nil, err
	}

	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)
	cfg.finalize()

	return cfg, nil
}

// loadDotenv loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. An explicit path must exist.
func loadDotenv(path string) error {
	required := path != ""
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if required {
			return &Error{Key: "env_file", Message: fmt.Sprintf("cannot read %s", path), Cause: err}
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return &Error{Key: "env_file", Message: fmt.Sprintf("malformed env file %s", path), Cause: err}
	}
	return nil
}

func loadFromFile(cfg *Config, path string, source Source, required bool) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		if required {
			return &Error{
				Key:     "config",
				Message: fmt.Sprintf("cannot read %s", path),
				Hint:    "Pass an existing appsettings.json or YAML file with --config",
				Cause:   err,
			}
		}
		return nil // File doesn't exist, skip
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		if required {
			return &Error{Key: "config", Message: fmt.Sprintf("malformed config at %s", path), Cause: err}
		}
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return nil
	}

	applyMap(cfg, normalizeKeys(raw), string(source))
	return nil
}

// normalizeKeys folds appsettings.json PascalCase and snake_case keys onto
// one form: lower case without separators.
func normalizeKeys(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		key := strings.ToLower(k)
		key = strings.NewReplacer("_", "", "-", "").Replace(key)
		out[key] = v
	}
	return out
}

func applyMap(cfg *Config, m map[string]any, source string) {
	setString := func(dst *string, name string, keys ...string) {
		for _, k := range keys {
			if v := getStringOrNumber(m, k); v != "" {
				*dst = v
				cfg.Sources[name] = source
				return
			}
		}
	}

	setString(&cfg.Instance, "instance", "instance")
	setString(&cfg.Tenant, "tenant", "tenant", "tenantid")
	setString(&cfg.Authority, "authority", "authority")
	setString(&cfg.ClientID, "client_id", "clientid")
	setString(&cfg.ClientSecret, "client_secret", "clientsecret")
	setString(&cfg.CertificateName, "certificate_name", "certificatename")
	setString(&cfg.CertificateDir, "certificate_dir", "certificatedir")
	setString(&cfg.Provider, "provider", "provider")
	setString(&cfg.TokenURL, "token_url", "tokenurl")
	setString(&cfg.APIBaseURL, "api_base_url", "apiurl", "apibaseurl")
	setString(&cfg.APIName, "api_name", "apiname")
	setString(&cfg.Endpoint, "endpoint", "endpoint")
	setString(&cfg.Query, "query", "query")
	setString(&cfg.CacheDir, "cache_dir", "cachedir")
	setString(&cfg.MetricsAddr, "metrics_addr", "metricsaddr")
	setString(&cfg.Format, "format", "format")

	if ms, ok := getInt(m, "intervalms"); ok {
		if ms > 0 {
			cfg.Interval = time.Duration(ms) * time.Millisecond
			cfg.Sources["interval"] = source
		} else {
			fmt.Fprintf(os.Stderr, "warning: ignoring non-positive interval_ms %d\n", ms)
		}
	} else if s, ok := m["interval"].(string); ok && s != "" {
		if d, err := parseInterval(s); err == nil {
			cfg.Interval = d
			cfg.Sources["interval"] = source
		} else {
			fmt.Fprintf(os.Stderr, "warning: ignoring interval %q: %v\n", s, err)
		}
	}

	if n, ok := getInt(m, "breakerthreshold"); ok && n >= 0 {
		cfg.BreakerThreshold = n
		cfg.Sources["breaker_threshold"] = source
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	envString := func(dst *string, name, env string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
			cfg.Sources[name] = string(SourceEnv)
		}
	}

	envString(&cfg.Instance, "instance", "DAEMON_INSTANCE")
	envString(&cfg.Tenant, "tenant", "DAEMON_TENANT")
	envString(&cfg.Authority, "authority", "DAEMON_AUTHORITY")
	envString(&cfg.ClientID, "client_id", "DAEMON_CLIENT_ID")
	envString(&cfg.ClientSecret, "client_secret", "DAEMON_CLIENT_SECRET")
	envString(&cfg.CertificateName, "certificate_name", "DAEMON_CERTIFICATE_NAME")
	envString(&cfg.CertificateDir, "certificate_dir", "DAEMON_CERTIFICATE_DIR")
	envString(&cfg.CertificatePass, "certificate_password", "DAEMON_CERTIFICATE_PASSWORD")
	envString(&cfg.Provider, "provider", "DAEMON_PROVIDER")
	envString(&cfg.TokenURL, "token_url", "DAEMON_TOKEN_URL")
	envString(&cfg.APIBaseURL, "api_base_url", "DAEMON_API_URL")
	envString(&cfg.Endpoint, "endpoint", "DAEMON_ENDPOINT")
	envString(&cfg.Query, "query", "DAEMON_QUERY")
	envString(&cfg.CacheDir, "cache_dir", "DAEMON_CACHE_DIR")
	envString(&cfg.MetricsAddr, "metrics_addr", "DAEMON_METRICS_ADDR")
	envString(&cfg.Format, "format", "DAEMON_FORMAT")

	if v := os.Getenv("DAEMON_INTERVAL"); v != "" {
		if d, err := parseInterval(v); err == nil {
			cfg.Interval = d
			cfg.Sources["interval"] = string(SourceEnv)
		} else {
			fmt.Fprintf(os.Stderr, "warning: ignoring DAEMON_INTERVAL=%q: %v\n", v, err)
		}
	}
	if v := os.Getenv("DAEMON_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.BreakerThreshold = n
			cfg.Sources["breaker_threshold"] = string(SourceEnv)
		}
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.APIBaseURL != "" {
		cfg.APIBaseURL = o.APIBaseURL
		cfg.Sources["api_base_url"] = string(SourceFlag)
	}
	if o.Provider != "" {
		cfg.Provider = o.Provider
		cfg.Sources["provider"] = string(SourceFlag)
	}
	if o.Interval > 0 {
		cfg.Interval = o.Interval
		cfg.Sources["interval"] = string(SourceFlag)
	}
	if o.MetricsAddr != "" {
		cfg.MetricsAddr = o.MetricsAddr
		cfg.Sources["metrics_addr"] = string(SourceFlag)
	}
	if o.Query != "" {
		cfg.Query = o.Query
		cfg.Sources["query"] = string(SourceFlag)
	}
	if o.CacheDir != "" {
		cfg.CacheDir = o.CacheDir
		cfg.Sources["cache_dir"] = string(SourceFlag)
	}
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
}

// SetSecret records a client secret obtained outside the file and env
// layers, such as the OS keyring.
func (cfg *Config) SetSecret(secret string, source Source) {
	if secret == "" {
		return
	}
	cfg.ClientSecret = secret
	cfg.Sources["client_secret"] = string(source)
}

// finalize derives the authority once all layers are applied. The API base
// URL is kept as configured since the scope is built from it verbatim.
func (cfg *Config) finalize() {
	if cfg.Authority == "" && cfg.Instance != "" && cfg.Tenant != "" {
		cfg.Authority = BuildAuthority(cfg.Instance, cfg.Tenant)
		cfg.Sources["authority"] = "derived"
	}
	cfg.Authority = strings.TrimSuffix(strings.TrimSpace(cfg.Authority), "/")
	cfg.APIBaseURL = strings.TrimSpace(cfg.APIBaseURL)
	cfg.Endpoint = strings.TrimPrefix(cfg.Endpoint, "/")
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
}

// BuildAuthority formats an instance template such as
// "https://login.microsoftonline.com/{0}" with the tenant.
// Instances without a placeholder get the tenant appended as a path segment.
func BuildAuthority(instance, tenant string) string {
	switch {
	case strings.Contains(instance, "{0}"):
		return strings.ReplaceAll(instance, "{0}", tenant)
	case strings.Contains(instance, "%s"):
		return strings.ReplaceAll(instance, "%s", tenant)
	default:
		return strings.TrimSuffix(instance, "/") + "/" + tenant
	}
}

// Validate checks the settings every run needs. Credential selection is
// left to the credential package.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.ClientID == "" {
		errs = append(errs, &Error{Key: "client_id", Message: "is required", Hint: "Set ClientId in appsettings.json or DAEMON_CLIENT_ID"})
	}
	if cfg.Authority == "" {
		errs = append(errs, &Error{Key: "authority", Message: "is required", Hint: "Set Instance and Tenant, Authority, or DAEMON_AUTHORITY"})
	}
	if cfg.APIBaseURL == "" {
		errs = append(errs, &Error{Key: "api_base_url", Message: "is required", Hint: "Set ApiUrl, for example https://graph.microsoft.com/"})
	}
	if cfg.Interval <= 0 {
		errs = append(errs, &Error{Key: "interval", Message: "must be positive"})
	}
	if !validProvider(cfg.Provider) {
		errs = append(errs, &Error{Key: "provider", Message: fmt.Sprintf("unknown provider %q", cfg.Provider), Hint: "Use msal or oauth2"})
	}
	for key, u := range map[string]string{"authority": cfg.Authority, "api_base_url": cfg.APIBaseURL, "token_url": cfg.TokenURL} {
		if err := hostutil.RequireSecureURL(u); err != nil {
			errs = append(errs, &Error{Key: key, Message: err.Error(), Cause: err})
		}
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return &Error{Message: strings.Join(msgs, "; "), Hint: "Run 'daemon-console config show' to see resolved values", Cause: errors.Join(errs...)}
	}
}

// Warnings lists accepted settings that are likely mistakes.
func (cfg *Config) Warnings() []string {
	var warnings []string
	if cfg.APIBaseURL != "" && !strings.HasSuffix(cfg.APIBaseURL, "/") {
		warnings = append(warnings, fmt.Sprintf("api_base_url %s has no trailing slash; the scope will be %s.default", cfg.APIBaseURL, cfg.APIBaseURL))
	}
	return warnings
}

func validProvider(p string) bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// Entry is one resolved configuration value for display.
type Entry struct {
	Key    string
	Value  string
	Source string
}

// Entries lists resolved values in display order with secrets masked.
func (cfg *Config) Entries() []Entry {
	values := []struct{ key, value string }{
		{"authority", cfg.Authority},
		{"tenant", cfg.Tenant},
		{"client_id", cfg.ClientID},
		{"client_secret", Redact(cfg.ClientSecret)},
		{"certificate_name", cfg.CertificateName},
		{"certificate_dir", cfg.CertificateDir},
		{"provider", cfg.Provider},
		{"token_url", cfg.TokenURL},
		{"api_base_url", cfg.APIBaseURL},
		{"api_name", cfg.APIName},
		{"endpoint", cfg.Endpoint},
		{"query", cfg.Query},
		{"interval", cfg.Interval.String()},
		{"breaker_threshold", strconv.Itoa(cfg.BreakerThreshold)},
		{"cache_dir", cfg.CacheDir},
		{"metrics_addr", cfg.MetricsAddr},
		{"format", cfg.Format},
	}

	out := make([]Entry, 0, len(values))
	for _, v := range values {
		src := cfg.Sources[v.key]
		if src == "" {
			src = string(SourceDefault)
		}
		out = append(out, Entry{Key: v.key, Value: v.value, Source: src})
	}
	return out
}

// Redact masks a secret for display.
func Redact(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "********"
	default:
		return secret[:3] + strings.Repeat("*", 5)
	}
}

// parseInterval accepts a Go duration ("5s") or a bare millisecond count ("5000").
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.Atoi(s); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("must be positive")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

// getStringOrNumber extracts a value that may be either a string or number.
func getStringOrNumber(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

// getInt reads an integer from JSON (float64) or YAML (int) decoding.
func getInt(m map[string]any, key string) (int, bool) {
	switch val := m[key].(type) {
	case float64:
		if val != float64(int(val)) {
			return 0, false
		}
		return int(val), true
	case int:
		return val, true
	case int64:
		return int(val), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		return n, err == nil
	default:
		return 0, false
	}
}

// Path helpers

func globalConfigPaths() []string {
	dir := GlobalConfigDir()
	return []string{
		filepath.Join(dir, "config.json"),
		filepath.Join(dir, "config.yaml"),
	}
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "daemon-console")
}
