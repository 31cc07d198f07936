package audioio

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the audioio package.
var (
	// ErrPermissionDenied indicates the user or OS refused microphone access.
	ErrPermissionDenied = errors.New("audioio: permission denied")

	// ErrDeviceUnavailable indicates no usable audio device was found.
	ErrDeviceUnavailable = errors.New("audioio: device unavailable")

	// ErrUnsupportedBackend indicates an unknown backend name.
	ErrUnsupportedBackend = errors.New("audioio: unsupported backend")

	// ErrProcessingUnsupported indicates a capture processing stage was
	// requested that no backend applies.
	ErrProcessingUnsupported = errors.New("audioio: capture processing unsupported")

	// ErrClosed indicates the source or sink was closed.
	ErrClosed = errors.New("audioio: closed")
)

// ClassifyError maps a backend error onto ErrPermissionDenied or
// ErrDeviceUnavailable, keeping the original as the cause. Errors that
// already match a sentinel are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"),
		strings.Contains(msg, "denied"),
		strings.Contains(msg, "not allowed"):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
}

// IsPermissionDenied returns true if err is a permission failure.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsDeviceUnavailable returns true if err is a missing or busy device.
func IsDeviceUnavailable(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable)
}
