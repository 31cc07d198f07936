// Package hub is the relay core: a registry of live connections and a single
// event loop that fans audio out to every peer except the sender and echoes
// latency probes back to their sender.
package hub

// MessageType indicates the websocket frame format
type MessageType int

const (
	// JSONMessage is a JSON-encoded protocol envelope
	JSONMessage MessageType = iota
	// BinaryMessage is a raw audio chunk
	BinaryMessage
)

// Message is one frame queued to or received from a client
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
