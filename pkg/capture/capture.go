// Package capture runs a microphone source, forwards each chunk to a
// sender while it is connected, and publishes a live volume estimate.
package capture

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-btmic/pkg/audioio"
)

// DefaultMeterInterval is roughly one display frame.
const DefaultMeterInterval = 16 * time.Millisecond

// Sender is the transport a capture publishes to.
type Sender interface {
	SendAudio(audio []byte) error
	Connected() bool
}

type options struct {
	logger        *slog.Logger
	meterInterval time.Duration
	fftSize       int
	onVolume      func(float64)
}

// Option configures a capture.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMeterInterval sets how often the volume is recomputed.
func WithMeterInterval(d time.Duration) Option {
	return func(o *options) {
		o.meterInterval = d
	}
}

// WithFFTSize sets the meter's analysis window.
func WithFFTSize(n int) Option {
	return func(o *options) {
		o.fftSize = n
	}
}

// WithVolumeCallback is called with each new volume estimate.
func WithVolumeCallback(fn func(float64)) Option {
	return func(o *options) {
		o.onVolume = fn
	}
}

// Stats counts what happened to captured chunks.
type Stats struct {
	Chunks  uint64 `json:"chunks"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Handle is a running capture.
type Handle struct {
	src    audioio.Source
	sender Sender
	logger *slog.Logger
	meter  *Meter
	opts   options

	cancel    context.CancelFunc
	pumpDone  chan struct{}
	meterDone chan struct{}
	stopOnce  sync.Once
	stopErr   error
	stopped   atomic.Bool

	volume  atomic.Uint64 // math.Float64bits
	chunks  atomic.Uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Start acquires src and begins forwarding chunks to sender. Acquisition
// errors wrap audioio.ErrPermissionDenied or audioio.ErrDeviceUnavailable.
func Start(ctx context.Context, src audioio.Source, sender Sender, opts ...Option) (*Handle, error) {
	o := options{
		meterInterval: DefaultMeterInterval,
		fftSize:       DefaultFFTSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := src.Start(ctx); err != nil {
		cancel()
		return nil, audioio.ClassifyError(err)
	}

	h := &Handle{
		src:       src,
		sender:    sender,
		logger:    o.logger.With("component", "capture", "backend", src.Name()),
		meter:     NewMeter(o.fftSize),
		opts:      o,
		cancel:    cancel,
		pumpDone:  make(chan struct{}),
		meterDone: make(chan struct{}),
	}

	go h.pump(ctx)
	go h.meterLoop(ctx)

	cfg := src.Config()
	h.logger.Info("capture started",
		"sample_rate", cfg.SampleRate,
		"chunk_ms", cfg.ChunkDuration().Milliseconds(),
	)
	return h, nil
}

// pump forwards chunks in arrival order until the source closes
func (h *Handle) pump(ctx context.Context) {
	defer close(h.pumpDone)

	stream := h.src.Stream()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			h.handleChunk(chunk)
		}
	}
}

func (h *Handle) handleChunk(chunk audioio.AudioChunk) {
	h.chunks.Add(1)
	h.meter.Push(chunk.Samples)

	// Never queue while disconnected
	if !h.sender.Connected() {
		h.dropped.Add(1)
		return
	}
	if err := h.sender.SendAudio(chunk.Bytes()); err != nil {
		h.failed.Add(1)
		h.logger.Debug("chunk not sent", "error", err)
		return
	}
	h.sent.Add(1)
}

// meterLoop republishes the volume estimate every interval
func (h *Handle) meterLoop(ctx context.Context) {
	defer close(h.meterDone)

	ticker := time.NewTicker(h.opts.meterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.setVolume(h.meter.Level())
		}
	}
}

func (h *Handle) setVolume(v float64) {
	h.volume.Store(math.Float64bits(v))
	if h.opts.onVolume != nil {
		h.opts.onVolume(v)
	}
}

// Stop releases the device, stops the meter and resets the volume to 0.
// It returns after everything has shut down and is safe to call repeatedly.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		h.cancel()
		h.stopErr = h.src.Stop()
		<-h.pumpDone
		<-h.meterDone
		h.meter.Reset()
		h.setVolume(0)

		stats := h.Stats()
		h.logger.Info("capture stopped",
			"chunks", stats.Chunks,
			"sent", stats.Sent,
			"dropped", stats.Dropped,
		)
	})
	return h.stopErr
}

// Running reports whether Stop has not been called.
func (h *Handle) Running() bool {
	return !h.stopped.Load()
}

// Volume returns the latest volume estimate in [0, 1].
func (h *Handle) Volume() float64 {
	return math.Float64frombits(h.volume.Load())
}

// Stats returns chunk counters.
func (h *Handle) Stats() Stats {
	return Stats{
		Chunks:  h.chunks.Load(),
		Sent:    h.sent.Load(),
		Dropped: h.dropped.Load(),
		Failed:  h.failed.Load(),
	}
}
