package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-btmic/pkg/audioio"
)

type fakeSender struct {
	mu        sync.Mutex
	connected atomic.Bool
	failWith  error
	sent      [][]byte
}

func (f *fakeSender) SendAudio(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.sent = append(f.sent, audio)
	return nil
}

func (f *fakeSender) Connected() bool {
	return f.connected.Load()
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testSource(opts ...audioio.MockSourceOption) *audioio.MockSource {
	cfg := audioio.DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond
	return audioio.NewMockSource(cfg, nil, opts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCaptureSendsWhileConnected(t *testing.T) {
	src := testSource()
	defer src.Close()
	sender := &fakeSender{}
	sender.connected.Store(true)

	h, err := Start(context.Background(), src, sender)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	waitFor(t, "three chunks", func() bool { return sender.count() >= 3 })

	sender.mu.Lock()
	first := sender.sent[0]
	sender.mu.Unlock()
	cfg := src.Config()
	if len(first) != cfg.BufferBytes() {
		t.Errorf("chunk size = %d bytes, want %d", len(first), cfg.BufferBytes())
	}
}

func TestCaptureDropsWhileDisconnected(t *testing.T) {
	src := testSource()
	defer src.Close()
	sender := &fakeSender{}

	h, err := Start(context.Background(), src, sender)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	waitFor(t, "dropped chunks", func() bool { return h.Stats().Dropped >= 3 })
	if sender.count() != 0 {
		t.Errorf("sent %d chunks while disconnected", sender.count())
	}

	// Chunks dropped while offline are never replayed
	sender.connected.Store(true)
	waitFor(t, "resumed sending", func() bool { return sender.count() >= 1 })

	stats := h.Stats()
	if stats.Chunks < stats.Sent+stats.Dropped {
		t.Errorf("inconsistent stats: %+v", stats)
	}
}

func TestCaptureCountsSendFailures(t *testing.T) {
	src := testSource()
	defer src.Close()
	sender := &fakeSender{failWith: errors.New("queue full")}
	sender.connected.Store(true)

	h, err := Start(context.Background(), src, sender)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	waitFor(t, "failed sends", func() bool { return h.Stats().Failed >= 2 })
	if h.Stats().Sent != 0 {
		t.Errorf("Sent = %d, want 0", h.Stats().Sent)
	}
}

func TestCapturePermissionDenied(t *testing.T) {
	src := testSource(audioio.WithStartError(errors.New("permission denied")))

	h, err := Start(context.Background(), src, &fakeSender{})
	if h != nil {
		t.Error("handle should be nil on failure")
	}
	if !audioio.IsPermissionDenied(err) {
		t.Errorf("Start error = %v, want permission denied", err)
	}
}

func TestCaptureDeviceUnavailable(t *testing.T) {
	src := testSource(audioio.WithStartError(errors.New("no such device")))

	_, err := Start(context.Background(), src, &fakeSender{})
	if !audioio.IsDeviceUnavailable(err) {
		t.Errorf("Start error = %v, want device unavailable", err)
	}
}

func TestCaptureStopIsIdempotent(t *testing.T) {
	src := testSource()
	defer src.Close()
	sender := &fakeSender{}
	sender.connected.Store(true)

	h, err := Start(context.Background(), src, sender)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "first chunk", func() bool { return sender.count() >= 1 })

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if h.Running() {
		t.Error("Running() should be false after Stop")
	}
	if src.Stats().Running {
		t.Error("device should be released after Stop")
	}

	// Nothing is sent once Stop has returned
	n := sender.count()
	time.Sleep(50 * time.Millisecond)
	if sender.count() != n {
		t.Errorf("sent %d chunks after Stop", sender.count()-n)
	}
}

func TestCaptureVolume(t *testing.T) {
	src := testSource(audioio.WithSineWave(1000, 0.8))
	defer src.Close()

	var updates atomic.Int64
	h, err := Start(context.Background(), src, &fakeSender{},
		WithMeterInterval(5*time.Millisecond),
		WithVolumeCallback(func(float64) { updates.Add(1) }),
	)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "volume", func() bool { return h.Volume() > 0.01 })
	if v := h.Volume(); v > 1 {
		t.Errorf("Volume() = %f, want <= 1", v)
	}
	if updates.Load() == 0 {
		t.Error("volume callback never called")
	}

	h.Stop()
	if h.Volume() != 0 {
		t.Errorf("Volume() after Stop = %f, want 0", h.Volume())
	}
}

func TestCaptureStopsWithContext(t *testing.T) {
	src := testSource()
	defer src.Close()
	sender := &fakeSender{}
	sender.connected.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := Start(ctx, src, sender)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "first chunk", func() bool { return sender.count() >= 1 })
	cancel()

	done := make(chan struct{})
	go func() {
		h.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung after context cancel")
	}
}
