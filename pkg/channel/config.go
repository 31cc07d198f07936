package channel

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Config holds transport channel configuration.
type Config struct {
	// URL is the relay websocket endpoint.
	// Default: "ws://localhost:3001/socket"
	URL string

	// ReconnectAttempts is the number of connection attempts before giving up.
	// Default: 5
	ReconnectAttempts int

	// ReconnectDelay is the fixed pause between attempts.
	// Default: 1s
	ReconnectDelay time.Duration

	// HandshakeTimeout bounds each websocket handshake.
	// Default: 10s
	HandshakeTimeout time.Duration

	// QueueSize is the outbound queue length.
	// Default: 256
	QueueSize int

	// BinaryAudio sends audio as raw binary frames instead of audioData events.
	BinaryAudio bool

	// Logger for channel events. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:               "ws://localhost:3001/socket",
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		HandshakeTimeout:  10 * time.Second,
		QueueSize:         256,
	}
}

// Option is a functional option for configuring the channel.
type Option func(*Config)

// WithURL sets the relay URL.
func WithURL(u string) Option {
	return func(c *Config) {
		c.URL = u
	}
}

// WithReconnect sets the attempt count and the delay between attempts.
func WithReconnect(attempts int, delay time.Duration) Option {
	return func(c *Config) {
		c.ReconnectAttempts = attempts
		c.ReconnectDelay = delay
	}
}

// WithBinaryAudio sends audio as binary frames.
func WithBinaryAudio(enabled bool) Option {
	return func(c *Config) {
		c.BinaryAudio = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrMissingURL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("channel: invalid URL %q: %w", c.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("channel: URL scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.ReconnectAttempts < 1 {
		return fmt.Errorf("channel: reconnect attempts must be at least 1, got %d", c.ReconnectAttempts)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("channel: reconnect delay must not be negative, got %v", c.ReconnectDelay)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("channel: queue size must be positive, got %d", c.QueueSize)
	}
	return nil
}
