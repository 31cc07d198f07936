package latency

import "errors"

var (
	// ErrAlreadyRunning is returned when Start is called on a running monitor.
	ErrAlreadyRunning = errors.New("latency: monitor already running")

	// ErrNoProber is returned when Start is called without a prober.
	ErrNoProber = errors.New("latency: prober is nil")
)
