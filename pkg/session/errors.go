package session

import "errors"

var (
	// ErrDeviceMismatch indicates capture requires a connected Bluetooth
	// output device and none is ready.
	ErrDeviceMismatch = errors.New("session: bluetooth device not ready")

	// ErrReceiverDisabled indicates receiver mode is not enabled.
	ErrReceiverDisabled = errors.New("session: receiver mode disabled")

	// ErrClosed indicates the session was closed.
	ErrClosed = errors.New("session: closed")
)
