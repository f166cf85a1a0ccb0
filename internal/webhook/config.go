package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/sms-inbound/internal/auth"
	"github.com/mattjoyce/sms-inbound/internal/config"
)

// FromGlobalConfig converts the webhook section of the service configuration
// to webhook.Config and parses the max body size.
func FromGlobalConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("config is nil")
	}
	wc := cfg.Webhook

	maxBodySize, err := parseMaxBodySize(wc.MaxBodySize)
	if err != nil {
		return Config{}, fmt.Errorf("webhook: invalid max_body_size %q: %w", wc.MaxBodySize, err)
	}

	return Config{
		Listen: wc.Listen,
		Path:   wc.Path,
		Credential: auth.SecretConfig{
			Source:    auth.CredentialSource(wc.CredentialSource),
			Header:    wc.SecretHeader,
			BodyField: wc.SecretField,
		},
		DefaultSender:   wc.DefaultSender,
		MaxBodySize:     maxBodySize,
		StoreTimeout:    wc.StoreTimeout,
		Debug:           cfg.Service.Debug,
		SignatureSecret: wc.SignatureSecret,
		SignatureHeader: wc.SignatureHeader,
	}, nil
}

// parseMaxBodySize parses size strings like "1MB", "2048576", "1048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
