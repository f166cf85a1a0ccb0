package config

import (
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/sms-inbound/internal/privacy"
)

// Redacted returns a copy with secrets masked, safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.API.Auth.APIKey = privacy.MaskSecret(c.API.Auth.APIKey)
	out.API.Auth.Tokens = make([]APIToken, len(c.API.Auth.Tokens))
	for i, t := range c.API.Auth.Tokens {
		out.API.Auth.Tokens[i] = APIToken{Token: privacy.MaskSecret(t.Token), Scopes: t.Scopes}
	}
	out.Webhook.SignatureSecret = privacy.MaskSecret(c.Webhook.SignatureSecret)
	out.Database.URL = redactURL(c.Database.URL)
	return &out
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return privacy.MaskSecret(raw)
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}

// GetPath retrieves a value from the redacted configuration using a
// dot-notation path such as "webhook.listen". An empty path returns the
// whole document.
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return getValue(m, path)
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}
