package hub

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-btmic/pkg/protocol"
)

// DefaultQueueSize is the per-client send queue length
const DefaultQueueSize = 256

// inbound is a frame read from a client, tagged with its origin
type inbound struct {
	from *Client
	msg  Message
}

// Hub owns the registry and routes every inbound frame.
// All registry mutations happen on the Run goroutine.
type Hub struct {
	// Name for logging
	name   string
	logger *slog.Logger

	registry *Registry

	// Frames read from clients, in per-client arrival order
	inbound chan inbound

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done    chan struct{}
	running atomic.Bool

	// Stats
	messagesIn    atomic.Uint64
	messagesOut   atomic.Uint64
	chunksRelayed atomic.Uint64
	probesEchoed  atomic.Uint64
	dropped       atomic.Uint64
	invalid       atomic.Uint64
}

// New creates a new Hub. A nil logger uses slog.Default().
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "hub", name),
		registry:   NewRegistry(),
		inbound:    make(chan inbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Registry returns the live connection registry
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run starts the hub's main loop and blocks until ctx is cancelled.
// This should be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		for _, c := range h.registry.drain() {
			c.closeSend()
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.registry.Add(client)
			h.logger.Info("client connected", "id", client.id, "total", h.registry.Len())

		case client := <-h.unregister:
			if _, ok := h.registry.Remove(client.id); ok {
				client.closeSend()
			}
			h.logger.Info("client disconnected", "id", client.id, "remaining", h.registry.Len())

		case in := <-h.inbound:
			h.route(in.from, in.msg)
		}
	}
}

// route handles one inbound frame
func (h *Hub) route(from *Client, msg Message) {
	h.messagesIn.Add(1)

	// Raw binary frames are audio; relay them as-is
	if msg.Type == BinaryMessage {
		h.relayAudio(from, msg)
		return
	}

	pm, err := protocol.ParseMessage(msg.Data)
	if err != nil {
		h.invalid.Add(1)
		h.logger.Debug("skipping unparsable frame", "id", from.id, "error", err)
		return
	}

	switch pm.Event {
	case protocol.EventAudioData:
		data, err := pm.Retag(protocol.EventAudioStream).Bytes()
		if err != nil {
			h.invalid.Add(1)
			h.logger.Debug("skipping audio frame", "id", from.id, "error", err)
			return
		}
		h.relayAudio(from, NewJSONMessage(data))

	case protocol.EventLatencyPing:
		data, err := pm.Echo().Bytes()
		if err != nil {
			h.invalid.Add(1)
			h.logger.Debug("skipping probe", "id", from.id, "error", err)
			return
		}
		if from.enqueue(NewJSONMessage(data)) {
			h.probesEchoed.Add(1)
			h.messagesOut.Add(1)
		} else {
			h.dropped.Add(1)
		}

	default:
		h.logger.Debug("ignoring event", "id", from.id, "event", pm.Event)
	}
}

// relayAudio forwards one chunk to every peer of from
func (h *Hub) relayAudio(from *Client, msg Message) {
	delivered, dropped := Forward(h.registry, from.id, msg)
	h.chunksRelayed.Add(1)
	h.messagesOut.Add(uint64(delivered))
	if dropped > 0 {
		h.dropped.Add(uint64(dropped))
		h.logger.Warn("dropped chunk for slow clients", "from", from.id, "count", dropped)
	}
}

// Register adds c to the hub. It returns false if the hub is not running.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c from the hub
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// submit queues a frame read from c for routing
func (h *Hub) submit(c *Client, msg Message) bool {
	select {
	case h.inbound <- inbound{from: c, msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Stats contains hub statistics
type Stats struct {
	Clients          int    `json:"clients"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	ChunksRelayed    uint64 `json:"chunks_relayed"`
	ProbesEchoed     uint64 `json:"probes_echoed"`
	Dropped          uint64 `json:"dropped"`
	Invalid          uint64 `json:"invalid"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		Clients:          h.registry.Len(),
		MessagesReceived: h.messagesIn.Load(),
		MessagesSent:     h.messagesOut.Load(),
		ChunksRelayed:    h.chunksRelayed.Load(),
		ProbesEchoed:     h.probesEchoed.Load(),
		Dropped:          h.dropped.Load(),
		Invalid:          h.invalid.Load(),
	}
}
