//go:build cgo

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"

	// Registers the system microphone driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

// deviceAvailable reports whether the device backend is compiled in.
const deviceAvailable = true

// mediaDevicesSource captures the system microphone through pion/mediadevices.
type mediaDevicesSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	stream   mediadevices.MediaStream
	streamCh chan AudioChunk
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newDeviceSource(cfg Config, logger *slog.Logger) (Source, error) {
	return &mediaDevicesSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 10),
	}, nil
}

// Start acquires the microphone and begins capture.
func (s *mediaDevicesSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(s.cfg.SampleRate)
			c.ChannelCount = prop.Int(s.cfg.Channels)
			c.Latency = prop.Duration(s.cfg.ChunkDuration())
			if s.cfg.Device != "" {
				c.DeviceID = prop.String(s.cfg.Device)
			}
		},
	})
	if err != nil {
		return ClassifyError(fmt.Errorf("get user media: %w", err))
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return fmt.Errorf("%w: no audio track", ErrDeviceUnavailable)
	}
	track, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
		return fmt.Errorf("%w: unexpected track type %T", ErrDeviceUnavailable, tracks[0])
	}

	s.stream = stream
	s.running = true
	s.stopCh = make(chan struct{})
	s.streamCh = make(chan AudioChunk, 10)

	s.wg.Add(1)
	go s.readLoop(ctx, track.NewReader(false), s.stopCh, s.streamCh)

	s.logger.Info("microphone capture started",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
		"chunk_samples", s.cfg.BufferSize(),
		"latency", s.cfg.ChunkDuration(),
	)
	return nil
}

// readLoop re-blocks driver frames into fixed-size chunks
func (s *mediaDevicesSource) readLoop(ctx context.Context, reader audioReader, stopCh <-chan struct{}, out chan<- AudioChunk) {
	defer s.wg.Done()
	defer close(out)

	size := s.cfg.BufferSize() * s.cfg.Channels
	pending := make([]int16, 0, size*2)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		audio, release, err := reader.Read()
		if err != nil {
			select {
			case <-stopCh:
			default:
				if err != io.EOF {
					s.logger.Warn("microphone read failed", "error", err)
				}
			}
			return
		}
		samples := s.convert(audio)
		release()

		pending = append(pending, samples...)
		for len(pending) >= size {
			chunk := AudioChunk{
				Samples:    append([]int16(nil), pending[:size]...),
				SampleRate: s.cfg.SampleRate,
				Channels:   s.cfg.Channels,
			}
			pending = append(pending[:0], pending[size:]...)

			select {
			case out <- chunk:
				s.chunksRead.Add(1)
				s.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				s.overruns.Add(1)
			}
		}
	}
}

// audioReader is the read side of a mediadevices audio track
type audioReader interface {
	Read() (wave.Audio, func(), error)
}

// convert flattens a driver frame into interleaved PCM16 in the configured
// layout and rate
func (s *mediaDevicesSource) convert(a wave.Audio) []int16 {
	info := a.ChunkInfo()

	var samples []int16
	switch v := a.(type) {
	case *wave.Int16Interleaved:
		samples = append([]int16(nil), v.Data...)
	case *wave.Float32Interleaved:
		samples = make([]int16, len(v.Data))
		for i, f := range v.Data {
			samples[i] = floatToInt16(float64(f))
		}
	case *wave.Int16NonInterleaved:
		samples = make([]int16, 0, info.Len*info.Channels)
		for i := 0; i < info.Len; i++ {
			for ch := 0; ch < info.Channels; ch++ {
				samples = append(samples, v.Data[ch][i])
			}
		}
	case *wave.Float32NonInterleaved:
		samples = make([]int16, 0, info.Len*info.Channels)
		for i := 0; i < info.Len; i++ {
			for ch := 0; ch < info.Channels; ch++ {
				samples = append(samples, floatToInt16(float64(v.Data[ch][i])))
			}
		}
	default:
		s.logger.Debug("unsupported sample format", "type", fmt.Sprintf("%T", a))
		return nil
	}

	if info.Channels == 2 && s.cfg.Channels == 1 {
		samples = StereoToMono(samples)
	}
	if info.SamplingRate > 0 && info.SamplingRate != s.cfg.SampleRate && s.cfg.Channels == 1 {
		samples = Resample(samples, info.SamplingRate, s.cfg.SampleRate)
	}
	return samples
}

// Stop halts capture and releases the microphone.
func (s *mediaDevicesSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	for _, t := range s.stream.GetTracks() {
		t.Close()
	}
	s.stream = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("microphone capture stopped")
	return nil
}

// Read reads the next audio chunk.
func (s *mediaDevicesSource) Read(ctx context.Context) (AudioChunk, error) {
	ch := s.Stream()
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *mediaDevicesSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *mediaDevicesSource) Config() Config {
	return s.cfg
}

// Name returns "mediadevices".
func (s *mediaDevicesSource) Name() string {
	return "mediadevices"
}

// Close releases resources.
func (s *mediaDevicesSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns source statistics.
func (s *mediaDevicesSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "mediadevices",
	}
}

var _ SourceWithStats = (*mediaDevicesSource)(nil)
