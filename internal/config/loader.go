package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Environment variables read by ApplyEnv.
const (
	EnvConfig      = "SMS_CONFIG"
	EnvDatabaseURL = "DATABASE_URL"
	EnvDebug       = "SMS_DEBUG"
	EnvPort        = "PORT"
	EnvAuthSecret  = "AUTH_SECRET"
)

// DefaultConfigFile is looked up in the working directory when no path is
// given and SMS_CONFIG is unset.
const DefaultConfigFile = "config.yaml"

// ResolvePath picks the configuration file: the explicit flag value, then
// $SMS_CONFIG, then ./config.yaml if present. An empty result means no file.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// Load reads configuration from path (optional), applies defaults and
// environment overrides, and validates the result. When the file's directory
// holds a .checksums manifest the file must match it.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		if info.IsDir() {
			absPath = filepath.Join(absPath, DefaultConfigFile)
		}

		if err := verifyConfigHash(absPath); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := parseInto(cfg, data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", absPath, err)
		}
		cfg.SourcePath = absPath
	}

	ApplyEnv(cfg)
	applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without environment overrides or
// validation.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := parseInto(cfg, data); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

func parseInto(cfg *Config, data []byte) error {
	interpolated := interpolateEnv(string(data))
	dec := yaml.NewDecoder(strings.NewReader(interpolated))
	dec.KnownFields(true)
	// An empty document decodes to the defaults.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays the process environment. Environment values win over
// the file.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.Database.URL = v
		if cfg.Database.Driver == "" {
			cfg.Database.Driver = DriverPostgres
		}
	}
	if v, ok := os.LookupEnv(EnvDebug); ok {
		cfg.Service.Debug = ParseDebugFlag(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		cfg.Webhook.Listen = ":" + v
	}
	if v := os.Getenv(EnvAuthSecret); v != "" {
		cfg.API.Auth.APIKey = v
	}
}

// ParseDebugFlag accepts "true" and "1"; anything else is false.
func ParseDebugFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1":
		return true
	default:
		return false
	}
}

// applyConfigDefaults fills values that depend on other settings.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Database.Driver == "" {
		if cfg.Database.URL != "" {
			cfg.Database.Driver = DriverPostgres
		} else {
			cfg.Database.Driver = DriverSQLite
		}
	}
	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.Debug {
		cfg.Service.LogLevel = "debug"
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = defaults.Webhook.Path
	}
	if cfg.Webhook.CredentialSource == "" {
		cfg.Webhook.CredentialSource = defaults.Webhook.CredentialSource
	}
	if cfg.Webhook.SignatureHeader == "" {
		cfg.Webhook.SignatureHeader = defaults.Webhook.SignatureHeader
	}
	if cfg.Webhook.StoreTimeout == 0 {
		cfg.Webhook.StoreTimeout = defaults.Webhook.StoreTimeout
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case DriverPostgres:
		if cfg.Database.URL == "" {
			return fmt.Errorf("database.url (or %s) is required for the postgres driver", EnvDatabaseURL)
		}
	case DriverSQLite:
		if cfg.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.Database.Driver)
	}
	if cfg.Database.MaxConns < 0 || cfg.Database.MinConns < 0 {
		return fmt.Errorf("database pool sizes must not be negative")
	}

	for field, v := range map[string]string{
		"database.url":             cfg.Database.URL,
		"api.auth.api_key":         cfg.API.Auth.APIKey,
		"webhook.signature_secret": cfg.Webhook.SignatureSecret,
	} {
		if m := envVarPattern.FindString(v); m != "" {
			return fmt.Errorf("%s references unset environment variable %s", field, m)
		}
	}

	if cfg.Webhook.Listen == "" {
		return fmt.Errorf("webhook.listen is required")
	}
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		return fmt.Errorf("webhook.path must start with '/', got %q", cfg.Webhook.Path)
	}
	switch cfg.Webhook.CredentialSource {
	case "header", "body":
	default:
		return fmt.Errorf("webhook.credential_source must be \"header\" or \"body\", got %q", cfg.Webhook.CredentialSource)
	}
	if cfg.Webhook.StoreTimeout < 0 {
		return fmt.Errorf("webhook.store_timeout must be positive")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled is true")
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth.api_key (or %s) or api.auth.tokens is required when api.enabled is true", EnvAuthSecret)
		}
		if cfg.API.Listen == cfg.Webhook.Listen {
			return fmt.Errorf("api.listen and webhook.listen must differ")
		}
	}
	for i, tok := range cfg.API.Auth.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("api.auth.tokens[%d].token is empty", i)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("api.auth.tokens[%d] has no scopes", i)
		}
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
		}
	}
	return nil
}
