// Package stream maintains a single logical SSE subscription to one run's
// event channel over an unreliable transport: bounded reconnects with a
// fixed interval, a heartbeat watchdog, and callback delivery of parsed
// events.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/luxera/rungate/internal/logging"
	"github.com/luxera/rungate/runtime/run"
)

// Config controls reconnect and liveness behaviour.
type Config struct {
	// MaxReconnectAttempts bounds consecutive failed reconnects; the counter
	// resets on every successful open.
	MaxReconnectAttempts int `json:"maxReconnectAttempts,omitempty" yaml:"maxReconnectAttempts,omitempty" toml:"max_reconnect_attempts"`
	// ReconnectInterval is the fixed delay between reconnect attempts.
	ReconnectInterval time.Duration `json:"reconnectInterval,omitempty" yaml:"reconnectInterval,omitempty" toml:"reconnect_interval"`
	// HeartbeatInterval is the liveness watchdog; zero disables it.
	HeartbeatInterval time.Duration `json:"heartbeatInterval,omitempty" yaml:"heartbeatInterval,omitempty" toml:"heartbeat_interval"`
}

// DefaultConfig returns the stream defaults.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 10,
		ReconnectInterval:    2 * time.Second,
		HeartbeatInterval:    30 * time.Second,
	}
}

// Handlers receives stream lifecycle and event callbacks. Nil handlers are
// skipped. Callbacks fire from the client's own goroutine, never
// concurrently with each other.
type Handlers struct {
	OnOpen      func()
	OnEvent     func(event *run.Event)
	OnError     func(err error)
	OnReconnect func(attempt int)
	OnClose     func()
}

// Client subscribes to one run's SSE channel. At most one transport
// connection is active at any time; Close is idempotent and cancels any
// pending reconnect timer and the heartbeat watchdog.
type Client struct {
	url      string
	token    string
	config   Config
	handlers Handlers
	http     *http.Client
	logger   *slog.Logger

	mux       sync.Mutex
	cancel    context.CancelFunc
	reconnect *time.Timer
	closed    bool
	started   bool
	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the given stream URL and bearer token.
func New(url, token string, config Config, handlers Handlers, options ...Option) *Client {
	ret := &Client{
		url:      url,
		token:    token,
		config:   config,
		handlers: handlers,
		http:     &http.Client{},
		logger:   logging.NewDefault(),
		done:     make(chan struct{}),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Open starts the subscription in the background. Connection failures are
// reported through OnError and retried per Config; Open itself only fails
// when the client was already opened or closed.
func (c *Client) Open(ctx context.Context) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closed {
		return fmt.Errorf("stream client already closed")
	}
	if c.started {
		return fmt.Errorf("stream client already open")
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	go c.loop(ctx)
	return nil
}

// Close terminates the subscription. Safe to call multiple times and before
// Open; OnClose fires exactly once per client.
func (c *Client) Close() {
	c.mux.Lock()
	if c.closed {
		c.mux.Unlock()
		return
	}
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	cancel := c.cancel
	started := c.started
	c.mux.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-c.done
	}
	c.fireClose()
}

// Done returns a channel closed when the subscription goroutine has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) isClosed() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.closed
}

func (c *Client) loop(ctx context.Context) {
	defer close(c.done)
	defer c.fireClose()

	attempt := 0
	for {
		opened, err := c.consume(ctx)
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		if err != nil {
			c.fireError(err)
		}
		if opened {
			attempt = 0
		}
		attempt++
		if attempt > c.config.MaxReconnectAttempts {
			c.logger.Warn("stream reconnect attempts exhausted", "url", c.url, "attempts", c.config.MaxReconnectAttempts)
			return
		}
		if c.handlers.OnReconnect != nil {
			c.handlers.OnReconnect(attempt)
		}
		if !c.waitReconnect(ctx) {
			return
		}
	}
}

// consume runs one transport connection to completion. The opened result
// reports whether the server accepted the subscription.
func (c *Client) consume(ctx context.Context) (opened bool, err error) {
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("stream open: %s", resp.Status)
	}

	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen()
	}

	// The watchdog cancels the connection when no line arrives for a full
	// heartbeat interval; any received line, keep-alive comments included,
	// resets it.
	var watchdog *time.Timer
	if c.config.HeartbeatInterval > 0 {
		watchdog = time.AfterFunc(c.config.HeartbeatInterval, connCancel)
		defer watchdog.Stop()
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var dataLines []string

	for scanner.Scan() {
		if watchdog != nil {
			watchdog.Reset(c.config.HeartbeatInterval)
		}
		line := scanner.Text()
		if line == "" {
			if len(dataLines) == 0 {
				continue
			}
			payload := strings.Join(dataLines, "\n")
			dataLines = dataLines[:0]
			c.dispatch(payload)
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		}
	}
	if scanErr := scanner.Err(); scanErr != nil && connCtx.Err() == nil {
		return true, scanErr
	}
	if connCtx.Err() != nil && ctx.Err() == nil {
		return true, fmt.Errorf("stream heartbeat missed after %s", c.config.HeartbeatInterval)
	}
	return true, nil
}

func (c *Client) dispatch(payload string) {
	event := run.ParseEvent([]byte(payload))
	if event.Type == run.EventMalformed {
		c.logger.Warn("dropping malformed stream event", "url", c.url, "error", event.Err)
	}
	if c.handlers.OnEvent != nil {
		c.handlers.OnEvent(event)
	}
}

// waitReconnect sleeps for the reconnect interval; false means the client
// was cancelled while waiting.
func (c *Client) waitReconnect(ctx context.Context) bool {
	timer := time.NewTimer(c.config.ReconnectInterval)
	c.mux.Lock()
	if c.closed {
		c.mux.Unlock()
		timer.Stop()
		return false
	}
	c.reconnect = timer
	c.mux.Unlock()

	defer func() {
		c.mux.Lock()
		c.reconnect = nil
		c.mux.Unlock()
	}()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		timer.Stop()
		return false
	}
}

func (c *Client) fireError(err error) {
	if c.handlers.OnError != nil {
		c.handlers.OnError(err)
	}
}

func (c *Client) fireClose() {
	c.closeOnce.Do(func() {
		if c.handlers.OnClose != nil {
			c.handlers.OnClose()
		}
	})
}
