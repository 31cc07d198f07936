// Package config loads btmic settings from .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-btmic/pkg/audioio"
	"github.com/teslashibe/go-btmic/pkg/channel"
	"github.com/teslashibe/go-btmic/pkg/relay"
	"github.com/teslashibe/go-btmic/pkg/session"
)

// Default client settings.
const (
	DefaultRelayURL = "ws://localhost:3001/socket"
	DefaultLogLevel = "info"
)

// Server holds relay process settings.
type Server struct {
	Port      int
	StaticDir string
	Debug     bool
	LogLevel  string
}

// Client holds capture/receive client settings.
type Client struct {
	RelayURL          string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	BinaryAudio       bool
	ProbeInterval     time.Duration
	Audio             audioio.Config
	RequireBluetooth  bool
	ReceiverMode      bool
	LocaleFile        string
	LogLevel          string
}

// LoadServer reads relay settings.
func LoadServer() (*Server, error) {
	_ = godotenv.Load()

	defaults := relay.DefaultConfig()
	cfg := &Server{
		Port:      getEnvAsInt("PORT", defaults.Port),
		StaticDir: getEnv("STATIC_DIR", defaults.StaticDir),
		Debug:     getEnvAsBool("RELAY_DEBUG", false),
		LogLevel:  getEnv("LOG_LEVEL", DefaultLogLevel),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Server) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 0 and 65535, got %d", c.Port)
	}
	return nil
}

// Relay returns the relay server configuration.
func (c *Server) Relay(version string) relay.Config {
	cfg := relay.DefaultConfig()
	cfg.Port = c.Port
	cfg.StaticDir = c.StaticDir
	cfg.Debug = c.Debug
	cfg.Version = version
	return cfg
}

// LoadClient reads client settings.
func LoadClient() (*Client, error) {
	_ = godotenv.Load()

	ch := channel.DefaultConfig()
	audio := audioio.DefaultConfig()
	audio.Backend = audioio.Backend(getEnv("AUDIO_BACKEND", string(audio.Backend)))
	audio.SampleRate = getEnvAsInt("SAMPLE_RATE", audio.SampleRate)
	audio.BufferDuration = getEnvAsDuration("CHUNK_DURATION", audio.BufferDuration)
	audio.BlockSamples = getEnvAsInt("BLOCK_SAMPLES", 0)
	audio.Device = getEnv("AUDIO_DEVICE", "")

	cfg := &Client{
		RelayURL:          getEnv("RELAY_URL", DefaultRelayURL),
		ReconnectAttempts: getEnvAsInt("RECONNECT_ATTEMPTS", ch.ReconnectAttempts),
		ReconnectDelay:    getEnvAsDuration("RECONNECT_DELAY", ch.ReconnectDelay),
		BinaryAudio:       getEnvAsBool("BINARY_AUDIO", false),
		ProbeInterval:     getEnvAsDuration("PROBE_INTERVAL", time.Second),
		Audio:             audio,
		RequireBluetooth:  getEnvAsBool("REQUIRE_BLUETOOTH", false),
		ReceiverMode:      getEnvAsBool("RECEIVER_MODE", true),
		LocaleFile:        getEnv("LOCALE_FILE", ""),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the client settings. Call it again after applying
// command-line overrides.
func (c *Client) Validate() error {
	if _, err := audioio.ParseBackend(string(c.Audio.Backend)); err != nil {
		return err
	}
	if err := c.Audio.Validate(); err != nil {
		return err
	}
	if c.ProbeInterval <= 0 {
		return errors.New("PROBE_INTERVAL must be positive")
	}
	ch := c.Channel()
	return ch.Validate()
}

// Channel returns the transport configuration.
func (c *Client) Channel() channel.Config {
	cfg := channel.DefaultConfig()
	cfg.URL = c.RelayURL
	cfg.ReconnectAttempts = c.ReconnectAttempts
	cfg.ReconnectDelay = c.ReconnectDelay
	cfg.BinaryAudio = c.BinaryAudio
	return cfg
}

// Locale loads LocaleFile, or returns nil when none is set.
func (c *Client) Locale() (session.Locale, error) {
	if c.LocaleFile == "" {
		return nil, nil
	}
	return LoadLocale(c.LocaleFile)
}

// LoadLocale reads a YAML mapping of message keys to strings.
func LoadLocale(path string) (session.Locale, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locale: %w", err)
	}

	var locale session.Locale
	if err := yaml.Unmarshal(data, &locale); err != nil {
		return nil, fmt.Errorf("parse locale %s: %w", path, err)
	}
	return locale, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
