// Package protocol defines the WebSocket event messages exchanged between
// btmic clients and the relay server.
//
// Every text frame carries a JSON envelope {"event": ..., "data": ...}.
// Event names are part of the wire contract and must not change.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event identifies the kind of a WebSocket message.
type Event string

const (
	// Client → Relay
	EventAudioData   Event = "audioData"   // Captured audio chunk
	EventLatencyPing Event = "latencyPing" // Round-trip probe

	// Relay → Client
	EventAudioStream Event = "audioStream" // Another client's audio chunk
	EventLatencyPong Event = "latencyPong" // Probe echo
)

// Message is the envelope for every text frame.
type Message struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Probe is the latency probe payload. Timestamp is the sender's monotonic
// clock reading in milliseconds; the relay never interprets it.
type Probe struct {
	Timestamp float64 `json:"timestamp"`
}

// NewMessage creates a message with data encoded as JSON.
func NewMessage(event Event, data interface{}) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s data: %w", event, err)
		}
	}
	return &Message{Event: event, Data: raw}, nil
}

// NewAudioMessage wraps raw audio bytes. On the wire the bytes travel as a
// base64 JSON string.
func NewAudioMessage(event Event, audio []byte) (*Message, error) {
	return NewMessage(event, audio)
}

// NewProbeMessage creates a latencyPing carrying the given timestamp.
func NewProbeMessage(timestamp float64) (*Message, error) {
	return NewMessage(EventLatencyPing, Probe{Timestamp: timestamp})
}

// ParseMessage parses a JSON envelope from bytes.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("failed to parse message: missing event")
	}
	return &msg, nil
}

// Bytes returns the JSON-encoded message.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// Retag returns a copy of m under a different event name. The payload
// bytes are shared, not re-encoded, so relayed data stays byte-identical.
func (m *Message) Retag(event Event) *Message {
	return &Message{Event: event, Data: m.Data}
}

// Echo returns the latencyPong answering m.
func (m *Message) Echo() *Message {
	return m.Retag(EventLatencyPong)
}

// ParseData unmarshals the message data into v.
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// AudioBytes decodes the raw audio carried by an audioData or audioStream message.
func (m *Message) AudioBytes() ([]byte, error) {
	var audio []byte
	if err := m.ParseData(&audio); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", m.Event, err)
	}
	return audio, nil
}

// GetProbe extracts the probe payload of a latencyPing or latencyPong.
func (m *Message) GetProbe() (*Probe, error) {
	var p Probe
	if err := m.ParseData(&p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", m.Event, err)
	}
	return &p, nil
}
