// Package doctor validates sms-inbound configuration beyond what Load
// enforces, reporting errors and warnings.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/sms-inbound/internal/auth"
	"github.com/mattjoyce/sms-inbound/internal/config"
	"github.com/mattjoyce/sms-inbound/internal/tracing"
	"github.com/mattjoyce/sms-inbound/internal/webhook"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var knownScopes = map[string]struct{}{
	auth.ScopeAll:        {},
	auth.ScopeMessagesRO: {},
	auth.ScopeMessagesRW: {},
	auth.ScopeEventsRO:   {},
	auth.ScopeEventsRW:   {},
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateDatabase(r)
	d.validateWebhook(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateTracing(r)
	d.warnMissingEnvVars(r)
	d.warnDeprecatedSyntax(r)
	d.warnDebug(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateDatabase(r *Result) {
	db := d.cfg.Database

	switch db.Driver {
	case config.DriverPostgres:
		u, err := url.Parse(db.URL)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			d.addError(r, "database", "database.url", "url must be a postgres:// or postgresql:// connection string")
			break
		}
		if u.Host == "" {
			d.addError(r, "database", "database.url", "url has no host")
		}
		if db.InsecureSkipVerify {
			d.addWarning(r, "database", "database.insecure_skip_verify",
				"TLS certificate verification is disabled for the database connection")
		}
		if db.MaxConns > 0 && db.MinConns > db.MaxConns {
			d.addWarning(r, "database", "database.min_conns",
				fmt.Sprintf("min_conns (%d) exceeds max_conns (%d) and will be clamped", db.MinConns, db.MaxConns))
		}
	case config.DriverSQLite:
		if db.Path == "" {
			d.addError(r, "database", "database.path", "path is required for the sqlite driver")
			break
		}
		if _, err := os.Stat(filepath.Dir(db.Path)); os.IsNotExist(err) {
			d.addWarning(r, "database", "database.path",
				fmt.Sprintf("directory %s does not exist yet", filepath.Dir(db.Path)))
		}
		if db.URL != "" {
			d.addWarning(r, "database", "database.url", "url is ignored by the sqlite driver")
		}
	default:
		d.addError(r, "database", "database.driver", fmt.Sprintf("unknown driver %q", db.Driver))
	}
}

func (d *Doctor) validateWebhook(r *Result) {
	wc := d.cfg.Webhook

	if _, _, err := net.SplitHostPort(wc.Listen); err != nil {
		d.addError(r, "webhook", "webhook.listen", fmt.Sprintf("invalid listen address %q: %v", wc.Listen, err))
	}
	if !strings.HasPrefix(wc.Path, "/") {
		d.addError(r, "webhook", "webhook.path", "path must start with '/'")
	}
	if _, err := webhook.FromGlobalConfig(d.cfg); err != nil {
		d.addError(r, "webhook", "webhook.max_body_size", err.Error())
	}
	if wc.CredentialSource == string(auth.SourceBody) {
		d.addWarning(r, "webhook", "webhook.credential_source",
			"body credentials are a legacy mode; clients should send the X-Secret-Key header")
	}
	if wc.StoreTimeout > 0 && wc.StoreTimeout < 100*time.Millisecond {
		d.addWarning(r, "webhook", "webhook.store_timeout",
			fmt.Sprintf("store_timeout %s is very short", wc.StoreTimeout))
	}
	if wc.StoreTimeout > 30*time.Second {
		d.addWarning(r, "webhook", "webhook.store_timeout",
			fmt.Sprintf("store_timeout %s exceeds the server write timeout", wc.StoreTimeout))
	}
	if wc.SignatureSecret != "" && len(wc.SignatureSecret) < 16 {
		d.addWarning(r, "webhook", "webhook.signature_secret", "signature secret is shorter than 16 characters")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
		return
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addError(r, "api", "api.auth", "API enabled but no authentication configured")
	}
	if d.cfg.API.Listen == d.cfg.Webhook.Listen {
		d.addError(r, "api", "api.listen", "api.listen must differ from webhook.listen")
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && !ip.IsLoopback()) {
		d.addWarning(r, "api", "api.listen", "admin API listens on a non-loopback address")
	}
}

// validateTokenScopes checks that every scope is one the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if _, ok := knownScopes[scope]; !ok {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected messages:ro, messages:rw, events:ro, events:rw or *)", scope))
			}
		}
	}
}

func (d *Doctor) validateTracing(r *Result) {
	tc := d.cfg.Tracing
	if !tc.Enabled {
		return
	}
	cfg := tracing.DefaultConfig()
	cfg.Enabled = true
	cfg.ServiceName = d.cfg.Service.Name
	cfg.SampleRate = tc.SampleRate
	if tc.Exporter != "" {
		cfg.Exporter = tc.Exporter
	}
	if tc.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = tc.OTLPEndpoint
	}
	if err := cfg.Validate(); err != nil {
		d.addError(r, "tracing", "tracing", err.Error())
	}
	if tc.SampleRate == 0 {
		d.addWarning(r, "tracing", "tracing.sample_rate", "sample_rate is 0; no traces will be recorded")
	}
}

// warnMissingEnvVars warns about ${VAR} references where VAR is not set.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addWarning(r, "env_vars", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
		d.checkEnvRefs(r, fmt.Sprintf("api.auth.tokens[%d].token", i), token.Token)
	}
	d.checkEnvRefs(r, "database.url", d.cfg.Database.URL)
	d.checkEnvRefs(r, "api.auth.api_key", d.cfg.API.Auth.APIKey)
	d.checkEnvRefs(r, "webhook.signature_secret", d.cfg.Webhook.SignatureSecret)
}

func (d *Doctor) checkEnvRefs(r *Result, field, value string) {
	for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
		if os.Getenv(m[1]) == "" {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Enabled && d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"api_key grants full access; migrate to tokens array with scopes")
	}
}

func (d *Doctor) warnDebug(r *Result) {
	if d.cfg.Service.Debug {
		d.addWarning(r, "service", "service.debug",
			"debug mode logs full message bodies and returns debug details to clients")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}

	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
