// Package playback plays audio chunks received from the relay. Each chunk
// is handed to the sink as soon as it arrives; chunks may overlap.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-btmic/pkg/audioio"
)

var (
	// ErrEmptyChunk is returned for payloads without a full sample.
	ErrEmptyChunk = errors.New("playback: empty chunk")

	// ErrInvalidFormat is returned by New for a bad sample format.
	ErrInvalidFormat = errors.New("playback: invalid format")
)

// Config describes the format of received chunks.
type Config struct {
	SampleRate int
	Channels   int
	Logger     *slog.Logger
}

// DefaultConfig matches the capture defaults.
func DefaultConfig() Config {
	audio := audioio.DefaultConfig()
	return Config{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	}
}

// Stats counts played chunks.
type Stats struct {
	Played  uint64 `json:"played"`
	Failed  uint64 `json:"failed"`
	Skipped uint64 `json:"skipped"`
}

// Player writes received chunks to a sink.
type Player struct {
	sink   audioio.Sink
	cfg    Config
	logger *slog.Logger

	played  atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

// New creates a player for sink.
func New(sink audioio.Sink, cfg Config) (*Player, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("%w: %d Hz x %d", ErrInvalidFormat, cfg.SampleRate, cfg.Channels)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		sink:   sink,
		cfg:    cfg,
		logger: logger.With("component", "playback", "backend", sink.Name()),
	}, nil
}

// Play decodes data as PCM16 and schedules it immediately.
func (p *Player) Play(ctx context.Context, data []byte) error {
	if len(data) < 2 {
		p.skipped.Add(1)
		return ErrEmptyChunk
	}

	chunk := audioio.ChunkFromBytes(data, p.cfg.SampleRate, p.cfg.Channels)
	if err := p.sink.Write(ctx, chunk); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("playback: write: %w", err)
	}
	p.played.Add(1)
	return nil
}

// Run opens the sink and plays every chunk from chunks until ctx is done
// or chunks is closed. Audio still scheduled when ctx ends is discarded.
func (p *Player) Run(ctx context.Context, chunks <-chan []byte) error {
	if err := p.sink.Start(ctx); err != nil {
		return audioio.ClassifyError(err)
	}
	defer p.sink.Stop()

	p.logger.Info("playback started", "sample_rate", p.cfg.SampleRate)
	defer func() {
		stats := p.Stats()
		p.logger.Info("playback stopped", "played", stats.Played, "failed", stats.Failed)
	}()

	for {
		select {
		case <-ctx.Done():
			p.sink.Clear()
			return nil
		case data, ok := <-chunks:
			if !ok {
				return p.sink.Flush(ctx)
			}
			if err := p.Play(ctx, data); err != nil {
				p.logger.Debug("chunk not played", "error", err)
			}
		}
	}
}

// Stats returns playback counters.
func (p *Player) Stats() Stats {
	return Stats{
		Played:  p.played.Load(),
		Failed:  p.failed.Load(),
		Skipped: p.skipped.Load(),
	}
}
