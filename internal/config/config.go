package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main wabridge configuration
type Config struct {
	// Data directory: credential dirs, session store, PID file, logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Real-time websocket gateway
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// HTTP command surface
	HTTP HTTPConfig `json:"http" mapstructure:"http"`

	// Backend driver endpoints
	Backends BackendsConfig `json:"backends" mapstructure:"backends"`

	Media   MediaConfig   `json:"media" mapstructure:"media"`
	Mention MentionConfig `json:"mention" mapstructure:"mention"`

	// Outbound webhook dispatch and inbound automation endpoint
	Webhook WebhookConfig `json:"webhook" mapstructure:"webhook"`

	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig configures the websocket subscriber transport.
type GatewayConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"` // empty disables the challenge
	RateLimit    int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// HTTPConfig configures the command API.
type HTTPConfig struct {
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
	Timeout int    `json:"timeout" mapstructure:"timeout"` // seconds
}

// BackendsConfig holds one driver endpoint per adapter variant.
type BackendsConfig struct {
	Web            DriverConfig `json:"web" mapstructure:"web"`
	Socket         DriverConfig `json:"socket" mapstructure:"socket"`
	RequestTimeout int          `json:"request_timeout" mapstructure:"request_timeout"` // seconds
}

// DriverConfig points at an out-of-process backend driver.
type DriverConfig struct {
	URL string `json:"driver_url" mapstructure:"driver_url"`
}

// MediaConfig bounds remote media fetches.
type MediaConfig struct {
	FetchTimeout int   `json:"fetch_timeout" mapstructure:"fetch_timeout"` // seconds
	MaxBytes     int64 `json:"max_bytes" mapstructure:"max_bytes"`
}

// MentionConfig configures mention-all.
type MentionConfig struct {
	AnonymityMarker string `json:"anonymity_marker" mapstructure:"anonymity_marker"`
}

// WebhookConfig configures webhook delivery and the automation endpoint.
type WebhookConfig struct {
	Timeout   int    `json:"timeout" mapstructure:"timeout"` // seconds
	Secret    string `json:"secret" mapstructure:"secret"`
	RateLimit int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// SessionsConfig configures session persistence.
type SessionsConfig struct {
	StorePath      string `json:"store_path" mapstructure:"store_path"`
	RestoreOnStart bool   `json:"restore_on_start" mapstructure:"restore_on_start"`
	// Cron spec for removing credential dirs that belong to no session.
	// Empty disables the sweep.
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     7,
			Compress:   true,
			Redaction:  true,
		},
		Gateway: GatewayConfig{
			Host:      "0.0.0.0",
			Port:      3001,
			RateLimit: 120,
		},
		HTTP: HTTPConfig{
			Host:    "0.0.0.0",
			Port:    3000,
			Timeout: 60,
		},
		Backends: BackendsConfig{
			Web:            DriverConfig{URL: "ws://127.0.0.1:7001/drive"},
			Socket:         DriverConfig{URL: "ws://127.0.0.1:7002/drive"},
			RequestTimeout: 60,
		},
		Media: MediaConfig{
			FetchTimeout: 30,
			MaxBytes:     64 << 20,
		},
		Mention: MentionConfig{
			AnonymityMarker: "cita!",
		},
		Webhook: WebhookConfig{
			Timeout:   10,
			RateLimit: 100,
		},
		Sessions: SessionsConfig{
			RestoreOnStart: true,
			SweepSchedule:  "@every 1h",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.Gateway.Port == c.HTTP.Port && c.Gateway.Host == c.HTTP.Host {
		return fmt.Errorf("gateway and http cannot share %s:%d", c.HTTP.Host, c.HTTP.Port)
	}
	if c.Backends.Web.URL == "" && c.Backends.Socket.URL == "" {
		return fmt.Errorf("at least one backend driver_url must be configured")
	}
	if c.Backends.RequestTimeout <= 0 {
		return fmt.Errorf("backends.request_timeout must be positive")
	}
	if c.Media.MaxBytes <= 0 {
		return fmt.Errorf("media.max_bytes must be positive")
	}
	if c.Mention.AnonymityMarker == "" {
		return fmt.Errorf("mention.anonymity_marker cannot be empty")
	}

	v := NewValidator()
	if errs := v.ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
