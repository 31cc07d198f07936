package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker or other output device.
type Sink interface {
	// Start opens the output device.
	Start(ctx context.Context) error

	// Stop halts playback.
	// It is safe to call Stop multiple times.
	Stop() error

	// Write schedules a chunk for playback and returns without waiting for
	// it to finish. Chunks written back to back may overlap.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush waits for all scheduled audio to be played.
	Flush(ctx context.Context) error

	// Clear discards all scheduled audio immediately.
	Clear() error

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "beep", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the sink cannot be restarted.
	io.Closer
}

// SinkStats contains statistics about the audio sink.
type SinkStats struct {
	// ChunksWritten is the total number of chunks written.
	ChunksWritten int64 `json:"chunks_written"`

	// SamplesWritten is the total number of samples written.
	SamplesWritten int64 `json:"samples_written"`

	// Playing is the number of chunks currently being played.
	Playing int64 `json:"playing"`

	// Running indicates if the sink is currently open.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
