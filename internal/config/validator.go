package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDriverURL checks that a backend driver endpoint is a websocket URL.
func (v *Validator) ValidateDriverURL(name, raw string) error {
	if raw == "" {
		return nil // variant disabled
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("backends.%s.driver_url: %w", name, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("backends.%s.driver_url must use ws or wss, got %q", name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("backends.%s.driver_url has no host", name)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePositive rejects zero and negative durations and limits.
func (v *Validator) ValidatePositive(field string, value int) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive, got %d", field, value)
	}
	return nil
}

// ValidateSchedule checks a standard cron spec or @every descriptor.
func (v *Validator) ValidateSchedule(field, spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("%s: invalid schedule %q: %w", field, spec, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateDriverURL("web", cfg.Backends.Web.URL); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateDriverURL("socket", cfg.Backends.Socket.URL); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidatePositive("webhook.timeout", cfg.Webhook.Timeout); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidatePositive("media.fetch_timeout", cfg.Media.FetchTimeout); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateSchedule("sessions.sweep_schedule", cfg.Sessions.SweepSchedule); err != nil {
		errors = append(errors, err)
	}
	if cfg.Webhook.RateLimit < 0 {
		errors = append(errors, fmt.Errorf("webhook.rate_limit_per_minute must be >= 0"))
	}
	if cfg.Gateway.RateLimit < 0 {
		errors = append(errors, fmt.Errorf("gateway.rate_limit_per_minute must be >= 0"))
	}

	return errors
}
