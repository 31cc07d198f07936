package audioio

import (
	"context"
	"io"
	"time"
)

// AudioChunk is a block of interleaved PCM16 samples.
type AudioChunk struct {
	// Samples contains PCM16 audio samples.
	Samples []int16

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int
}

// ChunkFromBytes decodes raw little-endian PCM16 bytes into a chunk.
// A trailing odd byte is ignored.
func ChunkFromBytes(data []byte, sampleRate, channels int) AudioChunk {
	return AudioChunk{
		Samples:    BytesToSamples(data),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Bytes returns the chunk as little-endian PCM16 bytes.
func (c *AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// Floats returns the samples scaled to [-1, 1).
func (c *AudioChunk) Floats() []float64 {
	out := make([]float64, len(c.Samples))
	for i, s := range c.Samples {
		out[i] = float64(s) / 32768
	}
	return out
}

// Duration returns the duration of this audio chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate*c.Channels)
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start acquires the device and begins capture. Errors wrap
	// ErrPermissionDenied or ErrDeviceUnavailable.
	Start(ctx context.Context) error

	// Stop halts capture and releases the device.
	// It is safe to call Stop multiple times.
	Stop() error

	// Read reads the next audio chunk, blocking if necessary.
	// Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Stream returns a channel that receives audio chunks.
	// The channel is closed when the source is stopped.
	Stream() <-chan AudioChunk

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "mediadevices", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// ChunksRead is the total number of chunks read.
	ChunksRead int64 `json:"chunks_read"`

	// SamplesRead is the total number of samples read.
	SamplesRead int64 `json:"samples_read"`

	// Overruns is the number of chunks dropped because nobody was reading.
	Overruns int64 `json:"overruns"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
