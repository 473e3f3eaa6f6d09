package rungate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const configTOML = `
actor = "carol"

[backend]
base_url = "https://backend.example.com"
token = "${env.RUNGATE_TOKEN}"

[plans]
base_url = "file:///etc/rungate/plans"

[policy]
cost_ceiling_usd = 1.0
allowed_models = ["m-4", "m-5"]

[stream]
max_reconnect_attempts = 5
reconnect_interval_ms = 250

[logging]
level = "debug"
format = "json"
`

func TestLoadConfig(t *testing.T) {
	assert.Nil(t, os.Setenv("RUNGATE_TOKEN", "secret-token"))
	defer func() { _ = os.Unsetenv("RUNGATE_TOKEN") }()

	location := filepath.Join(t.TempDir(), "rungate.toml")
	assert.Nil(t, os.WriteFile(location, []byte(configTOML), 0644))

	cfg, err := LoadConfig(context.Background(), location)
	assert.Nil(t, err)
	assert.Equal(t, "carol", cfg.Actor)
	assert.Equal(t, "https://backend.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "secret-token", cfg.Backend.Token)
	assert.Equal(t, "file:///etc/rungate/plans", cfg.Plans.BaseURL)
	if assert.NotNil(t, cfg.Policy) {
		assert.Equal(t, 1.0, cfg.Policy.CostCeilingUSD)
		assert.Equal(t, []string{"m-4", "m-5"}, cfg.Policy.AllowedModels)
	}
	assert.Equal(t, "debug", cfg.Logging.Level)

	streamConfig := cfg.Stream.StreamConfig()
	assert.Equal(t, 5, streamConfig.MaxReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, streamConfig.ReconnectInterval)
	// Unset heartbeat keeps the package default.
	assert.Equal(t, 30*time.Second, streamConfig.HeartbeatInterval)

	assert.Nil(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	var testCases = []struct {
		description string
		mutate      func(c *Config)
		expectErr   bool
	}{
		{
			description: "defaults with backend",
			mutate:      func(c *Config) { c.Backend.BaseURL = "http://localhost:8080" },
		},
		{
			description: "missing backend base url",
			mutate:      func(c *Config) {},
			expectErr:   true,
		},
		{
			description: "negative reconnect attempts",
			mutate: func(c *Config) {
				c.Backend.BaseURL = "http://localhost:8080"
				c.Stream.MaxReconnectAttempts = -1
			},
			expectErr: true,
		},
		{
			description: "negative interval",
			mutate: func(c *Config) {
				c.Backend.BaseURL = "http://localhost:8080"
				c.Stream.HeartbeatIntervalMs = -5
			},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		err := cfg.Validate()
		if tc.expectErr {
			assert.NotNil(t, err, tc.description)
		} else {
			assert.Nil(t, err, tc.description)
		}
	}
}
