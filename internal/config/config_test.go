package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3000, cfg.HTTP.Port)
	assert.Equal(t, 3001, cfg.Gateway.Port)
	assert.Equal(t, "cita!", cfg.Mention.AnonymityMarker)
	assert.Equal(t, int64(64<<20), cfg.Media.MaxBytes)
	assert.True(t, cfg.Sessions.RestoreOnStart)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad http port",
			mutate:  func(c *Config) { c.HTTP.Port = 0 },
			wantErr: "invalid http port",
		},
		{
			name: "gateway and http collide",
			mutate: func(c *Config) {
				c.Gateway.Port = c.HTTP.Port
			},
			wantErr: "cannot share",
		},
		{
			name: "no backends",
			mutate: func(c *Config) {
				c.Backends.Web.URL = ""
				c.Backends.Socket.URL = ""
			},
			wantErr: "at least one backend",
		},
		{
			name:    "non websocket driver",
			mutate:  func(c *Config) { c.Backends.Web.URL = "http://localhost:7001" },
			wantErr: "must use ws or wss",
		},
		{
			name:    "empty marker",
			mutate:  func(c *Config) { c.Mention.AnonymityMarker = "" },
			wantErr: "anonymity_marker",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "one backend is enough",
			mutate:  func(c *Config) { c.Backends.Web.URL = "" },
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	assert.Contains(t, s, `"anonymity_marker": "cita!"`)
}
