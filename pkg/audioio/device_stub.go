//go:build !cgo

package audioio

import (
	"fmt"
	"log/slog"
)

// deviceAvailable reports whether the device backend is compiled in.
const deviceAvailable = false

// newDeviceSource returns an error when built without cgo.
func newDeviceSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("%w: microphone capture requires cgo", ErrDeviceUnavailable)
}

// newDeviceSink returns an error when built without cgo.
func newDeviceSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("%w: speaker playback requires cgo", ErrDeviceUnavailable)
}
