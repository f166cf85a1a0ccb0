package config

import "time"

// Config represents the complete sms-inbound configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	API      APIConfig      `yaml:"api,omitempty"`
	Tracing  TracingConfig  `yaml:"tracing,omitempty"`

	// SourcePath is the absolute path of the loaded file, empty when the
	// configuration came from defaults and environment only.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`

	// Debug logs raw bodies and normalization details at DEBUG and adds a
	// debug object to webhook responses.
	Debug bool `yaml:"debug"`

	PIDFile string `yaml:"pid_file"`
}

// DatabaseConfig selects the message store.
type DatabaseConfig struct {
	Driver             string        `yaml:"driver"`
	URL                string        `yaml:"url"`
	Path               string        `yaml:"path"`
	MaxConns           int32         `yaml:"max_conns"`
	MinConns           int32         `yaml:"min_conns"`
	MaxConnLifetime    time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime    time.Duration `yaml:"max_conn_idle_time"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Bootstrap          bool          `yaml:"bootstrap"`
}

// WebhookConfig defines the SMS ingestion listener.
type WebhookConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`

	// CredentialSource is "header" or "body".
	CredentialSource string `yaml:"credential_source"`
	SecretHeader     string `yaml:"secret_header"`
	SecretField      string `yaml:"secret_field"`

	DefaultSender string        `yaml:"default_sender"`
	MaxBodySize   string        `yaml:"max_body_size"`
	StoreTimeout  time.Duration `yaml:"store_timeout"`

	// SignatureSecret enables HMAC-SHA256 request signing on top of the
	// account secret. Empty disables it.
	SignatureSecret string `yaml:"signature_secret,omitempty"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
}

// APIConfig defines the admin HTTP API.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the admin bearer token (scope "*"). AUTH_SECRET sets it.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// TracingConfig defines OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
	Environment  string  `yaml:"environment"`
}

// ChecksumManifest is the on-disk .checksums format.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "sms-inbound",
			LogLevel: "info",
			PIDFile:  "./data/sms-inbound.pid",
		},
		Database: DatabaseConfig{
			Path: "./data/sms.db",
		},
		Webhook: WebhookConfig{
			Listen:           ":3000",
			Path:             "/webhook/sms",
			CredentialSource: "header",
			SecretHeader:     "X-Secret-Key",
			SecretField:      "secret_key",
			DefaultSender:    "Mobile Automation",
			MaxBodySize:      "1MB",
			StoreTimeout:     5 * time.Second,
			SignatureHeader:  "X-Signature-256",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "stdout",
			OTLPEndpoint: "http://localhost:4318/v1/traces",
			SampleRate:   1.0,
			Environment:  "development",
		},
	}
}
