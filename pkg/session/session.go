// Package session coordinates capture, playback and latency monitoring
// for one client as a single state machine.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-btmic/pkg/audioio"
	"github.com/teslashibe/go-btmic/pkg/capture"
	"github.com/teslashibe/go-btmic/pkg/channel"
	"github.com/teslashibe/go-btmic/pkg/latency"
	"github.com/teslashibe/go-btmic/pkg/playback"
	"github.com/teslashibe/go-btmic/pkg/protocol"
)

// Mode is the session state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeCapturing
	ModeReceiving
	ModeError
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeCapturing:
		return "capturing"
	case ModeReceiving:
		return "receiving"
	case ModeError:
		return "error"
	default:
		return "unknown"
	}
}

// Device is a paired Bluetooth audio output device.
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// Transport is the relay connection. *channel.Channel satisfies it.
type Transport interface {
	SendAudio(audio []byte) error
	SendProbe(timestamp float64) error
	Connected() bool
	Events() <-chan channel.Event
	Echoes() <-chan protocol.Probe
	Chunks() <-chan []byte
}

// redialer is a transport that can be started again after it gave up.
// *channel.Channel satisfies it.
type redialer interface {
	Start(ctx context.Context) error
	Done() <-chan struct{}
}

// Config selects session features.
type Config struct {
	// RequireBluetooth blocks capture until a connected device is set.
	RequireBluetooth bool

	// ReceiverMode allows StartReceiving.
	ReceiverMode bool

	// Locale overrides message strings by key.
	Locale Locale

	// Playback describes the format of received chunks.
	Playback playback.Config

	// CaptureOptions are passed to capture.Start.
	CaptureOptions []capture.Option

	// Monitor probes latency while capturing. Nil creates a default one.
	Monitor *latency.Monitor

	Logger *slog.Logger
}

// Status is a snapshot for presentation.
type Status struct {
	Mode         Mode
	Connected    bool
	Reconnecting bool
	Attempt      int
	Device       *Device
	DeviceReady  bool
	Volume       float64
	Latency      latency.Stats
	Capture      capture.Stats
	Playback     playback.Stats
	Message      string
}

type messageKind int

const (
	kindNone messageKind = iota
	kindTransport
	kindDevice
	kindAudio
)

// Session owns the capture and playback units. Capture and receive are
// mutually exclusive.
type Session struct {
	cfg       Config
	transport Transport
	source    audioio.Source
	sink      audioio.Sink
	monitor   *latency.Monitor
	logger    *slog.Logger

	// opMu serializes mode transitions
	opMu sync.Mutex

	mu           sync.RWMutex
	mode         Mode
	connected    bool
	reconnecting bool
	exhausted    bool
	attempt      int
	device       *Device
	message      string
	kind         messageKind
	closed       bool

	handle      *capture.Handle
	lastCapture capture.Stats
	player      *playback.Player
	recvCancel  context.CancelFunc
	recvDone    chan struct{}
}

// New creates an idle session. sink may be nil when receiver mode is off.
func New(cfg Config, transport Transport, source audioio.Source, sink audioio.Sink) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	monitor := cfg.Monitor
	if monitor == nil {
		monitor = latency.New(latency.WithLogger(logger))
	}
	if cfg.Playback.SampleRate == 0 {
		cfg.Playback = playback.DefaultConfig()
	}
	if cfg.Playback.Logger == nil {
		cfg.Playback.Logger = logger
	}

	return &Session{
		cfg:       cfg,
		transport: transport,
		source:    source,
		sink:      sink,
		monitor:   monitor,
		logger:    logger.With("component", "session"),
		connected: transport.Connected(),
	}
}

// Run applies transport lifecycle events until ctx is done.
func (s *Session) Run(ctx context.Context) {
	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.HandleEvent(ev)
		}
	}
}

// HandleEvent updates connection state from a transport event.
func (s *Session) HandleEvent(ev channel.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempt = ev.Attempt
	switch ev.Type {
	case channel.EventConnected:
		s.connected = true
		s.reconnecting = false
		s.exhausted = false
		if s.kind == kindTransport {
			s.setMessageLocked(kindNone, "")
		}
	case channel.EventConnectError:
		s.connected = false
		s.reconnecting = true
		s.setMessageLocked(kindTransport, s.cfg.Locale.Message(MsgConnectionError, causeText(ev.Err)))
	case channel.EventDisconnected:
		s.connected = false
		s.reconnecting = !ev.Terminal && ev.Err == nil
		if ev.Terminal {
			s.exhausted = true
			s.setMessageLocked(kindTransport, s.cfg.Locale.Message(MsgReconnectExhausted))
		}
	}
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	var connErr *channel.ConnectionError
	if errors.As(err, &connErr) && connErr.Cause != nil {
		return connErr.Cause.Error()
	}
	return err.Error()
}

// SetDevice records the paired device. Losing the device while capturing
// with RequireBluetooth stops capture.
func (s *Session) SetDevice(d *Device) {
	s.mu.Lock()
	if d != nil {
		dev := *d
		s.device = &dev
	} else {
		s.device = nil
	}
	ready := s.deviceReadyLocked()
	if ready && s.kind == kindDevice {
		s.setMessageLocked(kindNone, "")
	}
	lost := !ready && s.cfg.RequireBluetooth && s.mode == ModeCapturing
	s.mu.Unlock()

	if lost {
		s.logger.Warn("bluetooth device lost, stopping capture")
		s.StopCapture()
		s.setMessage(kindDevice, s.cfg.Locale.Message(MsgDeviceLost))
	}
}

func (s *Session) deviceReadyLocked() bool {
	return s.device != nil && s.device.Connected
}

// StartCapture stops receiving if needed, acquires the microphone and
// starts publishing chunks and probing latency.
func (s *Session) StartCapture(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	closed, mode, ready := s.closed, s.mode, s.deviceReadyLocked()
	s.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	s.redialLocked(ctx)

	switch {
	case mode == ModeCapturing:
		return nil
	case s.cfg.RequireBluetooth && !ready:
		s.setMessage(kindDevice, s.cfg.Locale.Message(MsgDeviceMismatch))
		return ErrDeviceMismatch
	}

	if mode == ModeReceiving {
		s.stopReceivingLocked()
	}

	opts := append([]capture.Option{capture.WithLogger(s.logger)}, s.cfg.CaptureOptions...)
	h, err := capture.Start(ctx, s.source, s.transport, opts...)
	if err != nil {
		msg := s.cfg.Locale.Message(MsgMicrophoneFailed, err.Error())
		if audioio.IsPermissionDenied(err) {
			msg = s.cfg.Locale.Message(MsgPermissionDenied)
		}
		s.fail(kindAudio, msg)
		return err
	}

	if err := s.monitor.Start(ctx, s.transport); err != nil {
		s.logger.Warn("latency monitor not started", "error", err)
	}

	s.mu.Lock()
	s.handle = h
	s.mode = ModeCapturing
	if s.kind != kindTransport {
		s.setMessageLocked(kindNone, "")
	}
	s.mu.Unlock()

	s.logger.Info("capture started")
	return nil
}

// StopCapture releases the microphone and stops the latency monitor. The
// device is released when it returns.
func (s *Session) StopCapture() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopCaptureLocked()
}

func (s *Session) stopCaptureLocked() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	if s.mode == ModeCapturing {
		s.mode = ModeIdle
	}
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	s.monitor.Stop()
	err := h.Stop()

	s.mu.Lock()
	s.lastCapture = h.Stats()
	s.mu.Unlock()
	return err
}

// StartReceiving stops capture if needed and plays every chunk received
// from the relay.
func (s *Session) StartReceiving(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	closed, mode := s.closed, s.mode
	s.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	s.redialLocked(ctx)

	switch {
	case !s.cfg.ReceiverMode || s.sink == nil:
		s.setMessage(kindAudio, s.cfg.Locale.Message(MsgReceiverDisabled))
		return ErrReceiverDisabled
	case mode == ModeReceiving:
		return nil
	}

	if mode == ModeCapturing {
		s.stopCaptureLocked()
	}

	player, err := playback.New(s.sink, s.cfg.Playback)
	if err != nil {
		s.fail(kindAudio, s.cfg.Locale.Message(MsgPlaybackFailed, err.Error()))
		return err
	}

	chunks := s.transport.Chunks()
	drain(chunks)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.player = player
	s.recvCancel = cancel
	s.recvDone = done
	s.mode = ModeReceiving
	if s.kind != kindTransport {
		s.setMessageLocked(kindNone, "")
	}
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := player.Run(runCtx, chunks); err != nil {
			s.logger.Error("playback failed", "error", err)
			s.fail(kindAudio, s.cfg.Locale.Message(MsgPlaybackFailed, err.Error()))
		}
	}()

	s.logger.Info("receiving started")
	return nil
}

// redialLocked starts the transport again if it exhausted its reconnect
// attempts. Callers hold opMu.
func (s *Session) redialLocked(ctx context.Context) {
	s.mu.RLock()
	exhausted := s.exhausted
	s.mu.RUnlock()

	r, ok := s.transport.(redialer)
	if !exhausted || !ok {
		return
	}

	// The terminal event is emitted just before the run ends
	if done := r.Done(); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	if err := r.Start(ctx); err != nil {
		s.logger.Warn("transport not restarted", "error", err)
		return
	}

	s.mu.Lock()
	s.exhausted = false
	s.reconnecting = true
	s.attempt = 0
	if s.kind == kindTransport {
		s.setMessageLocked(kindNone, "")
	}
	s.mu.Unlock()
	s.logger.Info("transport restarted")
}

// drain discards chunks that arrived while not receiving
func drain(chunks <-chan []byte) {
	for {
		select {
		case _, ok := <-chunks:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// StopReceiving stops playback.
func (s *Session) StopReceiving() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopReceivingLocked()
}

func (s *Session) stopReceivingLocked() {
	s.mu.Lock()
	cancel, done := s.recvCancel, s.recvDone
	s.recvCancel, s.recvDone = nil, nil
	if s.mode == ModeReceiving {
		s.mode = ModeIdle
	}
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// fail enters ModeError with a user-visible message
func (s *Session) fail(kind messageKind, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ModeError
	s.setMessageLocked(kind, msg)
}

func (s *Session) setMessage(kind messageKind, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMessageLocked(kind, msg)
}

func (s *Session) setMessageLocked(kind messageKind, msg string) {
	s.kind = kind
	s.message = msg
}

// Mode returns the current mode.
func (s *Session) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Mode:         s.mode,
		Connected:    s.connected,
		Reconnecting: s.reconnecting,
		Attempt:      s.attempt,
		DeviceReady:  s.deviceReadyLocked(),
		Latency:      s.monitor.Stats(),
		Capture:      s.lastCapture,
		Message:      s.message,
	}
	if s.device != nil {
		dev := *s.device
		st.Device = &dev
	}
	if s.handle != nil {
		st.Volume = s.handle.Volume()
		st.Capture = s.handle.Stats()
	}
	if s.player != nil {
		st.Playback = s.player.Stats()
	}
	return st
}

// Close stops capture and playback. The session cannot be restarted.
func (s *Session) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stopReceivingLocked()
	return s.stopCaptureLocked()
}
