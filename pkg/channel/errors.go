package channel

import (
	"errors"
	"fmt"
)

// Sentinel errors for the channel package.
var (
	// ErrNotConnected indicates a send while the channel is not open.
	ErrNotConnected = errors.New("channel: not connected")

	// ErrQueueFull indicates the outbound queue is full and the message was dropped.
	ErrQueueFull = errors.New("channel: send queue full")

	// ErrAlreadyRunning indicates Start was called on a running channel.
	ErrAlreadyRunning = errors.New("channel: already running")

	// ErrReconnectExhausted indicates every connection attempt failed.
	ErrReconnectExhausted = errors.New("channel: reconnection attempts exhausted")

	// ErrMissingURL indicates the relay URL was not provided.
	ErrMissingURL = errors.New("channel: relay URL is required")
)

// ConnectionError represents a failed connection attempt.
type ConnectionError struct {
	// Attempt is the 1-based attempt number.
	Attempt int

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if another attempt will follow.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("channel: connection attempt %d failed: %v", e.Attempt, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if reconnection will be attempted.
func (e *ConnectionError) IsRetryable() bool {
	return e.Retryable
}

// IsNotConnected returns true if the error indicates no open connection.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsRetryable returns true if the error is a transient connection failure.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}
	return false
}
