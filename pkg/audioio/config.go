// Package audioio provides audio capture and playback.
//
// This package supports multiple backends:
//   - Device - microphone via pion/mediadevices, speaker via faiface/beep (requires cgo)
//   - Mock - CI/Testing without hardware
//
// The backend is selected automatically based on build tags,
// or can be explicitly specified via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendDevice uses the system microphone and speaker.
	BackendDevice Backend = "device"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// ParseBackend converts a backend name into a Backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendDevice, BackendMock:
		return Backend(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
	}
}

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (device when built with cgo, mock otherwise)
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 48000
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the length of each captured chunk.
	// Default: 100ms
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// BlockSamples, when positive, fixes the chunk size in samples per
	// channel and overrides BufferDuration.
	BlockSamples int `yaml:"block_samples" json:"block_samples"`

	// Device is the backend device identifier. Empty selects the default.
	Device string `yaml:"device" json:"device"`

	// Capture processing. Backends deliver raw input only, so Validate
	// rejects any of these set to true.
	EchoCancellation bool `yaml:"echo_cancellation" json:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression" json:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control" json:"auto_gain_control"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     48000,
		Channels:       1, // Mono
		BufferDuration: 100 * time.Millisecond,
		Device:         "", // Use system default
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BlockSamples < 0 {
		return fmt.Errorf("block_samples must not be negative, got %d", c.BlockSamples)
	}
	if c.BlockSamples == 0 && c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	switch {
	case c.EchoCancellation:
		return fmt.Errorf("%w: echo_cancellation", ErrProcessingUnsupported)
	case c.NoiseSuppression:
		return fmt.Errorf("%w: noise_suppression", ErrProcessingUnsupported)
	case c.AutoGainControl:
		return fmt.Errorf("%w: auto_gain_control", ErrProcessingUnsupported)
	}
	return nil
}

// BufferSize returns the number of samples per channel in each chunk.
func (c *Config) BufferSize() int {
	if c.BlockSamples > 0 {
		return c.BlockSamples
	}
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// ChunkDuration returns the wall-clock length of one chunk.
func (c *Config) ChunkDuration() time.Duration {
	if c.BlockSamples > 0 && c.SampleRate > 0 {
		return time.Duration(c.BlockSamples) * time.Second / time.Duration(c.SampleRate)
	}
	return c.BufferDuration
}

// BufferBytes returns the size of a buffer in bytes (assuming int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2 // 2 bytes per int16 sample
}
