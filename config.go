package rungate

import (
	"context"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/luxera/rungate/internal/expr"
	"github.com/luxera/rungate/internal/logging"
	"github.com/luxera/rungate/policy"
	"github.com/luxera/rungate/service/stream"
	"github.com/viant/afs"
)

// Config is a serialisable representation of the gate configuration. It can
// be populated from TOML, JSON or environment-expanded files. The zero-value
// is useful - all nested fields inherit their package defaults.
type Config struct {
	// Actor is recorded as the human on manual approve/reject decisions.
	Actor   string         `json:"actor,omitempty" toml:"actor"`
	Backend BackendConfig  `json:"backend" toml:"backend"`
	Plans   PlansConfig    `json:"plans" toml:"plans"`
	Policy  *policy.Config `json:"policy,omitempty" toml:"policy"`
	Stream  StreamConfig   `json:"stream" toml:"stream"`
	Events  EventsConfig   `json:"events" toml:"events"`
	Logging logging.Config `json:"logging" toml:"logging"`
}

// EventsConfig selects the messaging vendor backing notification topics.
// The fs vendor persists events under BasePath so that other processes can
// consume them.
type EventsConfig struct {
	Vendor   string `json:"vendor,omitempty" toml:"vendor"`
	BasePath string `json:"basePath,omitempty" toml:"base_path"`
}

// BackendConfig locates the execution backend and its credential. Token is a
// literal bearer token; TokenURL/TokenKey resolve one through a secret
// source instead and take precedence when set.
type BackendConfig struct {
	BaseURL  string `json:"baseURL" toml:"base_url"`
	Token    string `json:"token,omitempty" toml:"token"`
	TokenURL string `json:"tokenURL,omitempty" toml:"token_url"`
	TokenKey string `json:"tokenKey,omitempty" toml:"token_key"`
}

// PlansConfig locates plan definitions.
type PlansConfig struct {
	BaseURL string `json:"baseURL,omitempty" toml:"base_url"`
}

// StreamConfig is the file form of stream.Config with millisecond intervals.
type StreamConfig struct {
	MaxReconnectAttempts int `json:"maxReconnectAttempts" toml:"max_reconnect_attempts"`
	ReconnectIntervalMs  int `json:"reconnectIntervalMs" toml:"reconnect_interval_ms"`
	HeartbeatIntervalMs  int `json:"heartbeatIntervalMs" toml:"heartbeat_interval_ms"`
}

// StreamConfig converts the file form into the stream package settings,
// filling unset fields with the package defaults.
func (c StreamConfig) StreamConfig() stream.Config {
	ret := stream.DefaultConfig()
	if c.MaxReconnectAttempts != 0 {
		ret.MaxReconnectAttempts = c.MaxReconnectAttempts
	}
	if c.ReconnectIntervalMs != 0 {
		ret.ReconnectInterval = time.Duration(c.ReconnectIntervalMs) * time.Millisecond
	}
	if c.HeartbeatIntervalMs != 0 {
		ret.HeartbeatInterval = time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
	}
	return ret
}

// DefaultConfig returns a Config populated with the package defaults.
// Callers may modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	streamDefaults := stream.DefaultConfig()
	return &Config{
		Actor: "operator",
		Stream: StreamConfig{
			MaxReconnectAttempts: streamDefaults.MaxReconnectAttempts,
			ReconnectIntervalMs:  int(streamDefaults.ReconnectInterval / time.Millisecond),
			HeartbeatIntervalMs:  int(streamDefaults.HeartbeatInterval / time.Millisecond),
		},
		Logging: logging.DefaultConfig(),
	}
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Stream.MaxReconnectAttempts < 0 {
		return fmt.Errorf("stream.max_reconnect_attempts must be >= 0")
	}
	if c.Stream.ReconnectIntervalMs < 0 || c.Stream.HeartbeatIntervalMs < 0 {
		return fmt.Errorf("stream intervals must be >= 0")
	}
	return nil
}

// LoadConfig reads a TOML config from the given afs URL or file path,
// expanding ${env.KEY} expressions before decoding. Missing sections keep
// their defaults.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	data, err := afs.New().DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", URL, err)
	}
	cfg := DefaultConfig()
	if _, err = toml.Decode(expr.Expand(string(data)), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config from %s: %w", URL, err)
	}
	return cfg, nil
}
