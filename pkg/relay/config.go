// Package relay serves the audio relay over HTTP: the /socket websocket
// endpoint backed by a hub, health and stats endpoints, and static assets.
package relay

import (
	"fmt"

	"github.com/teslashibe/go-btmic/pkg/hub"
)

// Config holds relay server configuration.
type Config struct {
	// Port is the HTTP listen port.
	// Default: 3001
	Port int `yaml:"port" json:"port"`

	// StaticDir is served at "/" when it is non-empty.
	// Default: "./public"
	StaticDir string `yaml:"static_dir" json:"static_dir"`

	// Debug enables HTTP access logging.
	Debug bool `yaml:"debug" json:"debug"`

	// Version is reported by /health.
	Version string `yaml:"-" json:"-"`

	// QueueSize is the per-client send queue length.
	// Default: 256
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:      3001,
		StaticDir: "./public",
		Version:   "dev",
		QueueSize: hub.DefaultQueueSize,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQueueSize, c.QueueSize)
	}
	return nil
}

// Addr returns the listen address for Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
