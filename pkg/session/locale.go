package session

import "fmt"

// Message keys. Values may contain a single %s for the error detail.
const (
	MsgConnectionError    = "connection_error"
	MsgReconnectExhausted = "reconnect_exhausted"
	MsgPermissionDenied   = "permission_denied"
	MsgMicrophoneFailed   = "microphone_failed"
	MsgDeviceMismatch     = "device_mismatch"
	MsgDeviceLost         = "device_lost"
	MsgReceiverDisabled   = "receiver_disabled"
	MsgPlaybackFailed     = "playback_failed"
)

// DefaultLocale holds the English messages.
var DefaultLocale = map[string]string{
	MsgConnectionError:    "Connection error: %s",
	MsgReconnectExhausted: "Unable to reach the relay server",
	MsgPermissionDenied:   "Microphone access was denied",
	MsgMicrophoneFailed:   "Failed to access microphone: %s",
	MsgDeviceMismatch:     "Connect a Bluetooth audio device before recording",
	MsgDeviceLost:         "Bluetooth device disconnected",
	MsgReceiverDisabled:   "Receiver mode is not enabled",
	MsgPlaybackFailed:     "Failed to play audio: %s",
}

// Locale resolves message keys, falling back to DefaultLocale.
type Locale map[string]string

// Message formats the message for key.
func (l Locale) Message(key string, args ...any) string {
	format, ok := l[key]
	if !ok {
		format, ok = DefaultLocale[key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
