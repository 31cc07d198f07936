// Package channel is the client side of the relay transport: a persistent
// websocket connection that reconnects with a bounded fixed-delay policy,
// exposes send verbs for audio and latency probes, and routes inbound
// echoes and audio to separate streams.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-btmic/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	eventBuffer = 32
	echoBuffer  = 16
)

// State is the liveness of the underlying connection.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// EventType identifies a lifecycle event.
type EventType int

const (
	// EventConnected fires when a connection opens.
	EventConnected EventType = iota
	// EventDisconnected fires when an open connection drops, on Stop,
	// and once more with Terminal set when every attempt has failed.
	EventDisconnected
	// EventConnectError fires for each failed attempt.
	EventConnectError
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connect"
	case EventDisconnected:
		return "disconnect"
	case EventConnectError:
		return "connect_error"
	default:
		return "unknown"
	}
}

// Event is a channel lifecycle notification.
type Event struct {
	Type     EventType
	Attempt  int
	Terminal bool
	Err      error
}

type outbound struct {
	mt   int
	data []byte
}

// Channel is an auto-reconnecting websocket connection to the relay.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	state    atomic.Int32
	attempts atomic.Int32
	dropped  atomic.Uint64

	mu     sync.Mutex
	id     string
	send   chan outbound // nil unless open
	cancel context.CancelFunc
	done   chan struct{}

	events chan Event
	echoes chan protocol.Probe
	chunks chan []byte
}

// New creates a channel. Call Start to connect.
func New(cfg Config, opts ...Option) *Channel {
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = DefaultConfig().QueueSize
	}
	return &Channel{
		cfg:    cfg,
		logger: logger.With("component", "channel"),
		events: make(chan Event, eventBuffer),
		echoes: make(chan protocol.Probe, echoBuffer),
		chunks: make(chan []byte, queue),
	}
}

// Start connects in the background. It may be called again after the
// channel stopped or gave up.
func (c *Channel) Start(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			c.mu.Unlock()
			return ErrAlreadyRunning
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		c.run(ctx)
	}()
	return nil
}

// Stop closes the connection and stops reconnecting. It blocks until the
// background loop has exited and is safe to call more than once.
func (c *Channel) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the current run ends. It is nil before Start.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// run connects, serves, and reconnects until ctx ends or attempts run out
func (c *Channel) run(ctx context.Context) {
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			return
		}

		c.serve(ctx, conn)

		if ctx.Err() != nil {
			c.logger.Info("channel stopped")
			c.emit(Event{Type: EventDisconnected, Err: ctx.Err()})
			return
		}
		c.logger.Warn("connection lost, reconnecting")
		c.emit(Event{Type: EventDisconnected})
	}
}

// connect dials with the fixed-delay policy, emitting an event per failure
func (c *Channel) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	limit := c.cfg.ReconnectAttempts

	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		c.attempts.Store(int32(attempt))
		c.setState(StateConnecting)

		conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
		if err == nil {
			c.logger.Info("connected", "url", c.cfg.URL, "attempt", attempt)
			return conn, nil
		}
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return nil, ctx.Err()
		}

		connErr := &ConnectionError{Attempt: attempt, Cause: err, Retryable: attempt < limit}
		lastErr = connErr
		c.logger.Warn("connection failed", "attempt", attempt, "max", limit, "error", err)
		c.emit(Event{Type: EventConnectError, Attempt: attempt, Err: connErr})

		if attempt == limit {
			break
		}
		select {
		case <-ctx.Done():
			c.setState(StateClosed)
			return nil, ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}

	c.setState(StateClosed)
	c.logger.Error("giving up", "url", c.cfg.URL, "attempts", limit)
	err := fmt.Errorf("%w: %w", ErrReconnectExhausted, lastErr)
	c.emit(Event{Type: EventDisconnected, Attempt: limit, Terminal: true, Err: err})
	return nil, err
}

// serve runs the pumps for one connection and returns when it drops
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	send := make(chan outbound, c.cfg.QueueSize)

	c.mu.Lock()
	c.id = uuid.NewString()
	c.send = send
	c.mu.Unlock()
	c.setState(StateOpen)
	c.emit(Event{Type: EventConnected, Attempt: int(c.attempts.Load())})

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(conn, send, stop)
	}()

	// Close the socket on Stop so the read pump unblocks
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
		case <-stop:
		}
	}()

	c.readPump(conn)

	// Anything still queued for this connection is discarded
	c.mu.Lock()
	c.id = ""
	c.send = nil
	c.mu.Unlock()
	c.setState(StateClosed)

	close(stop)
	<-writerDone
	conn.Close()
}

// readPump routes inbound frames until the connection fails
func (c *Channel) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch mt {
		case websocket.BinaryMessage:
			c.deliverChunk(data)
		case websocket.TextMessage:
			c.route(data)
		}
	}
}

// route dispatches one inbound event
func (c *Channel) route(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Debug("skipping unparsable frame", "error", err)
		return
	}

	switch msg.Event {
	case protocol.EventLatencyPong:
		probe, err := msg.GetProbe()
		if err != nil {
			c.logger.Debug("skipping bad echo", "error", err)
			return
		}
		select {
		case c.echoes <- *probe:
		default:
			c.dropped.Add(1)
		}

	case protocol.EventAudioStream:
		audio, err := msg.AudioBytes()
		if err != nil {
			c.logger.Debug("skipping bad chunk", "error", err)
			return
		}
		c.deliverChunk(audio)

	default:
		c.logger.Debug("ignoring event", "event", msg.Event)
	}
}

func (c *Channel) deliverChunk(audio []byte) {
	select {
	case c.chunks <- audio:
	default:
		c.dropped.Add(1)
	}
}

// writePump is the only writer of data frames on conn
func (c *Channel) writePump(conn *websocket.Conn, send <-chan outbound, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return

		case m := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(m.mt, m.data); err != nil {
				c.logger.Debug("write failed", "error", err)
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// enqueue queues a frame for the open connection without blocking
func (c *Channel) enqueue(mt int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.send == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- outbound{mt: mt, data: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

// SendAudio sends one audio chunk. It returns ErrNotConnected when the
// channel is not open; the chunk is dropped either way.
func (c *Channel) SendAudio(audio []byte) error {
	if c.cfg.BinaryAudio {
		return c.enqueue(websocket.BinaryMessage, audio)
	}
	msg, err := protocol.NewAudioMessage(protocol.EventAudioData, audio)
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return c.enqueue(websocket.TextMessage, data)
}

// SendProbe sends a latency probe carrying timestamp.
func (c *Channel) SendProbe(timestamp float64) error {
	msg, err := protocol.NewProbeMessage(timestamp)
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return c.enqueue(websocket.TextMessage, data)
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Channel) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("lifecycle event dropped", "event", ev.Type.String())
	}
}

// Events returns lifecycle notifications.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Echoes returns latency probe echoes.
func (c *Channel) Echoes() <-chan protocol.Probe {
	return c.echoes
}

// Chunks returns audio chunks relayed from other clients.
func (c *Channel) Chunks() <-chan []byte {
	return c.chunks
}

// State returns the connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Connected reports whether the connection is open.
func (c *Channel) Connected() bool {
	return c.State() == StateOpen
}

// Attempts returns the attempt number of the current connection cycle.
func (c *Channel) Attempts() int {
	return int(c.attempts.Load())
}

// ID returns an identifier minted locally for the open connection, empty
// otherwise. It is not the connection ID the relay assigns.
func (c *Channel) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Dropped returns the number of inbound messages dropped because a
// consumer fell behind.
func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}

// URL returns the relay endpoint.
func (c *Channel) URL() string {
	return c.cfg.URL
}
