//go:build cgo

package audioio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// speakerSink plays chunks on the default output device through
// faiface/beep. Every Write starts an independent voice, so chunks that
// arrive while another is still playing are mixed rather than queued.
type speakerSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool

	// Stats
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	playing        atomic.Int64
}

func newDeviceSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return &speakerSink{cfg: cfg, logger: logger}, nil
}

// Start opens the speaker.
func (s *speakerSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}

	sr := beep.SampleRate(s.cfg.SampleRate)
	if err := speaker.Init(sr, sr.N(s.cfg.ChunkDuration()/2)); err != nil {
		return ClassifyError(err)
	}
	s.running = true

	s.logger.Info("speaker started", "sample_rate", s.cfg.SampleRate)
	return nil
}

// Stop silences the speaker.
func (s *speakerSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	speaker.Clear()
	s.playing.Store(0)

	s.logger.Info("speaker stopped")
	return nil
}

// Write starts playing chunk immediately.
func (s *speakerSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return ErrClosed
	}

	samples := chunk.Samples
	channels := chunk.Channels
	if channels <= 0 {
		channels = s.cfg.Channels
	}
	if chunk.SampleRate > 0 && chunk.SampleRate != s.cfg.SampleRate && channels == 1 {
		samples = Resample(samples, chunk.SampleRate, s.cfg.SampleRate)
	}

	s.playing.Add(1)
	speaker.Play(beep.Seq(newPCMStreamer(samples, channels), beep.Callback(func() {
		s.playing.Add(-1)
	})))

	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(samples)))
	return nil
}

// Flush waits until every started voice has finished.
func (s *speakerSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for s.playing.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Clear stops every voice.
func (s *speakerSink) Clear() error {
	speaker.Clear()
	s.playing.Store(0)
	return nil
}

// Config returns the audio configuration.
func (s *speakerSink) Config() Config {
	return s.cfg
}

// Name returns "beep".
func (s *speakerSink) Name() string {
	return "beep"
}

// Close releases the speaker.
func (s *speakerSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasRunning := s.running
	s.mu.Unlock()

	s.Stop()
	if wasRunning {
		speaker.Close()
	}
	return nil
}

// Stats returns sink statistics.
func (s *speakerSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Playing:        s.playing.Load(),
		Running:        running,
		Backend:        "beep",
	}
}

var _ SinkWithStats = (*speakerSink)(nil)
