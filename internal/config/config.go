// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New(ctx) builds a Config with defaults; Load(ctx) layers sources on top.
//   - Credentials are opaque inputs; nothing here calls the vendor.
//   - External errors are wrapped with this package's sentinels.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// MockMode short-circuits every vendor call to the in-process synthetic vendor.
	MockMode bool `koanf:"mock_mode"`

	// OAuth client-credentials inputs.
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	Scopes       string `koanf:"scopes"`
	Audience     string `koanf:"audience"`

	// AccountID scopes every resource path (/accounts/{id}/...).
	AccountID string `koanf:"account_id"`

	// S2SAPIKey authenticates the respondent protocol (HTTP Basic).
	S2SAPIKey string `koanf:"s2s_api_key"`

	// Endpoints.
	AuthURL    string `koanf:"auth_url"`
	APIBaseURL string `koanf:"api_base_url"`
	S2SBaseURL string `koanf:"s2s_base_url"`
	APIVersion string `koanf:"api_version"`

	// MaxRetries bounds total attempts per logical vendor call.
	MaxRetries int `koanf:"max_retries"`

	// MaxBackoffSeconds caps a single wait between attempts.
	MaxBackoffSeconds int `koanf:"max_backoff_seconds"`

	// RequestTimeoutSeconds bounds one HTTP attempt.
	RequestTimeoutSeconds int `koanf:"request_timeout_seconds"`

	// Defaults used by the fielding runner when a study does not name them.
	ProjectManagerID string `koanf:"project_manager_id"`
	BusinessUnitID   string `koanf:"business_unit_id"`
}

// New returns a Config populated with defaults. The context is reserved for
// future sources and currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":9080",
		MockMode:              false,
		Scopes:                "app:api",
		Audience:              "https://api.luc.id",
		AuthURL:               "https://auth.lucidhq.com/oauth/token",
		APIBaseURL:            "https://api.cint.com/v1",
		S2SBaseURL:            "https://s2s.cint.com",
		APIVersion:            "2025-12-18",
		MaxRetries:            3,
		MaxBackoffSeconds:     30,
		RequestTimeoutSeconds: 30,
	}
}

// MaxBackoff returns MaxBackoffSeconds as a duration.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

// RequestTimeout returns RequestTimeoutSeconds as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Validate checks the fields required for the configured mode. Mock mode
// needs no credentials.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("%w: max_retries must be at least 1", ErrInvalidConfig)
	}
	if c.MockMode {
		return nil
	}

	required := []struct {
		key, val string
	}{
		{"client_id", c.ClientID},
		{"client_secret", c.ClientSecret},
		{"account_id", c.AccountID},
		{"s2s_api_key", c.S2SAPIKey},
		{"auth_url", c.AuthURL},
		{"api_base_url", c.APIBaseURL},
		{"s2s_base_url", c.S2SBaseURL},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}
