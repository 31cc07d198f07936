package relay

import "errors"

// Sentinel errors for the relay package.
var (
	// ErrInvalidPort indicates the listen port is out of range.
	ErrInvalidPort = errors.New("relay: invalid port")

	// ErrInvalidQueueSize indicates a non-positive client queue size.
	ErrInvalidQueueSize = errors.New("relay: queue size must be positive")

	// ErrAlreadyRunning indicates Serve was called twice.
	ErrAlreadyRunning = errors.New("relay: already running")
)
