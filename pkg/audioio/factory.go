package audioio

import (
	"fmt"
	"log/slog"
)

// NewSource creates a new audio source with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := resolveBackend(cfg.Backend)

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"chunk_ms", cfg.ChunkDuration().Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendDevice:
		return newDeviceSource(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, backend)
	}
}

// NewSink creates a new audio sink with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := resolveBackend(cfg.Backend)

	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendDevice:
		return newDeviceSink(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, backend)
	}
}

func resolveBackend(b Backend) Backend {
	if b == BackendAuto || b == "" {
		return detectBestBackend()
	}
	return b
}

// detectBestBackend returns the best backend compiled into this binary.
func detectBestBackend() Backend {
	if deviceAvailable {
		return BackendDevice
	}
	return BackendMock
}

// AvailableBackends returns the list of backends compiled into this binary.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if deviceAvailable {
		backends = append(backends, BackendDevice)
	}
	return backends
}
