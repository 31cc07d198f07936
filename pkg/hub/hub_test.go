package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/teslashibe/go-btmic/pkg/protocol"
)

var errClosed = errors.New("fake conn closed")

type frame struct {
	mt   int
	data []byte
}

// fakeConn is an in-memory Conn driven by the test
type fakeConn struct {
	in        chan frame
	out       chan frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan frame, 64),
		out:    make(chan frame, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case fr := <-f.in:
		return fr.mt, fr.data, nil
	case <-f.closed:
		return 0, nil, errClosed
	}
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closed:
		return errClosed
	case f.out <- frame{mt: mt, data: data}:
		return nil
	}
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) sendText(data []byte) {
	f.in <- frame{mt: websocket.TextMessage, data: data}
}

func (f *fakeConn) sendBinary(data []byte) {
	f.in <- frame{mt: websocket.BinaryMessage, data: data}
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// nextFrame returns the next non-ping frame written to fc
func nextFrame(t *testing.T, fc *fakeConn) frame {
	t.Helper()
	for {
		select {
		case fr := <-fc.out:
			if fr.mt == websocket.PingMessage {
				continue
			}
			return fr
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
}

// expectSilence fails if fc receives a data frame within d
func expectSilence(t *testing.T, fc *fakeConn, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case fr := <-fc.out:
			if fr.mt == websocket.TextMessage || fr.mt == websocket.BinaryMessage {
				t.Fatalf("unexpected frame: %s", fr.data)
			}
		case <-deadline:
			return
		}
	}
}

// waitStat polls a hub counter until it reaches want
func waitStat(t *testing.T, name string, get func() uint64, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for get() != want {
		if time.Now().After(deadline) {
			t.Fatalf("%s = %d, want %d", name, get(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startHub runs a hub and connects n fake clients to it
func startHub(t *testing.T, n int) (*Hub, []*fakeConn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := New("test", nil)
	go h.Run(ctx)

	conns := make([]*fakeConn, n)
	for i := range conns {
		conns[i] = newFakeConn()
		go NewClient(h, conns[i], 0).Run()
	}
	waitForClients(t, h, n)

	t.Cleanup(func() {
		for _, fc := range conns {
			fc.Close()
		}
		cancel()
	})
	return h, conns
}

func audioFrame(t *testing.T, audio []byte) []byte {
	t.Helper()
	msg, err := protocol.NewAudioMessage(protocol.EventAudioData, audio)
	if err != nil {
		t.Fatalf("NewAudioMessage() error = %v", err)
	}
	data, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	return data
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a := NewClient(nil, newFakeConn(), 0)
	b := NewClient(nil, newFakeConn(), 0)

	if a.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("client IDs must be unique and non-empty: %q %q", a.ID(), b.ID())
	}

	reg.Add(a)
	reg.Add(b)
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}

	peers := reg.Peers(a.ID())
	if len(peers) != 1 || peers[0] != b {
		t.Errorf("Peers(a) = %v, want [b]", peers)
	}

	if _, ok := reg.Remove(a.ID()); !ok {
		t.Error("Remove(a) should succeed")
	}
	if _, ok := reg.Remove(a.ID()); ok {
		t.Error("second Remove(a) should report missing")
	}
	if _, ok := reg.Get(b.ID()); !ok {
		t.Error("Get(b) should find b")
	}
}

func TestForward(t *testing.T) {
	reg := NewRegistry()
	a := NewClient(nil, newFakeConn(), 0)
	b := NewClient(nil, newFakeConn(), 0)
	c := NewClient(nil, newFakeConn(), 0)
	reg.Add(a)
	reg.Add(b)
	reg.Add(c)

	delivered, dropped := Forward(reg, a.ID(), NewBinaryMessage([]byte{0x01, 0x02}))
	if delivered != 2 || dropped != 0 {
		t.Fatalf("Forward() = (%d, %d), want (2, 0)", delivered, dropped)
	}
	if len(a.send) != 0 {
		t.Error("sender should not receive its own chunk")
	}
	if len(b.send) != 1 || len(c.send) != 1 {
		t.Errorf("peer queues = %d, %d, want 1, 1", len(b.send), len(c.send))
	}
}

func TestForwardLoneClient(t *testing.T) {
	reg := NewRegistry()
	a := NewClient(nil, newFakeConn(), 0)
	reg.Add(a)

	delivered, dropped := Forward(reg, a.ID(), NewBinaryMessage([]byte{0x01}))
	if delivered != 0 || dropped != 0 {
		t.Errorf("Forward() = (%d, %d), want (0, 0)", delivered, dropped)
	}
}

func TestForwardSlowRecipient(t *testing.T) {
	reg := NewRegistry()
	a := NewClient(nil, newFakeConn(), 0)
	slow := NewClient(nil, newFakeConn(), 1)
	fast := NewClient(nil, newFakeConn(), 0)
	reg.Add(a)
	reg.Add(slow)
	reg.Add(fast)

	Forward(reg, a.ID(), NewBinaryMessage([]byte{0x01}))
	delivered, dropped := Forward(reg, a.ID(), NewBinaryMessage([]byte{0x02}))

	if delivered != 1 || dropped != 1 {
		t.Errorf("Forward() = (%d, %d), want (1, 1)", delivered, dropped)
	}
	if len(fast.send) != 2 {
		t.Errorf("fast queue = %d, want 2", len(fast.send))
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	c := NewClient(nil, newFakeConn(), 0)
	c.closeSend()
	c.closeSend()

	if c.enqueue(NewBinaryMessage([]byte{0x01})) {
		t.Error("enqueue should fail after close")
	}
}

func TestHubRelaysChunksInOrder(t *testing.T) {
	h, conns := startHub(t, 3)
	a, b, c := conns[0], conns[1], conns[2]

	const n = 20
	for i := 0; i < n; i++ {
		a.sendText(audioFrame(t, []byte{byte(i)}))
	}

	for _, peer := range []*fakeConn{b, c} {
		for i := 0; i < n; i++ {
			fr := nextFrame(t, peer)
			msg, err := protocol.ParseMessage(fr.data)
			if err != nil {
				t.Fatalf("ParseMessage() error = %v", err)
			}
			if msg.Event != protocol.EventAudioStream {
				t.Fatalf("Event = %v, want audioStream", msg.Event)
			}
			audio, err := msg.AudioBytes()
			if err != nil {
				t.Fatalf("AudioBytes() error = %v", err)
			}
			if len(audio) != 1 || audio[0] != byte(i) {
				t.Fatalf("chunk %d = %v, want [%d]", i, audio, i)
			}
		}
	}
	expectSilence(t, a, 100*time.Millisecond)

	waitStat(t, "ChunksRelayed", func() uint64 { return h.GetStats().ChunksRelayed }, n)
	waitStat(t, "MessagesSent", func() uint64 { return h.GetStats().MessagesSent }, 2*n)
}

func TestHubRelaysBinaryUnmodified(t *testing.T) {
	_, conns := startHub(t, 2)

	conns[0].sendBinary([]byte{0x01, 0x02})

	fr := nextFrame(t, conns[1])
	if fr.mt != websocket.BinaryMessage {
		t.Fatalf("frame type = %d, want binary", fr.mt)
	}
	if string(fr.data) != "\x01\x02" {
		t.Errorf("payload = %v, want [1 2]", fr.data)
	}
}

func TestHubEchoesProbeToSenderOnly(t *testing.T) {
	h, conns := startHub(t, 2)

	ping := []byte(`{"event":"latencyPing","data":{"timestamp":987.654321}}`)
	conns[0].sendText(ping)

	fr := nextFrame(t, conns[0])
	want := `{"event":"latencyPong","data":{"timestamp":987.654321}}`
	if string(fr.data) != want {
		t.Errorf("echo = %s, want %s", fr.data, want)
	}
	expectSilence(t, conns[1], 100*time.Millisecond)

	waitStat(t, "ProbesEchoed", func() uint64 { return h.GetStats().ProbesEchoed }, 1)
}

func TestHubLoneClient(t *testing.T) {
	h, conns := startHub(t, 1)

	conns[0].sendText(audioFrame(t, []byte{0x01}))
	expectSilence(t, conns[0], 100*time.Millisecond)
	waitStat(t, "ChunksRelayed", func() uint64 { return h.GetStats().ChunksRelayed }, 1)

	stats := h.GetStats()
	if stats.MessagesSent != 0 || stats.Dropped != 0 {
		t.Errorf("stats = %+v, want no deliveries and no drops", stats)
	}
}

func TestHubSkipsInvalidFrames(t *testing.T) {
	h, conns := startHub(t, 2)

	conns[0].sendText([]byte(`{not json`))
	conns[0].sendText([]byte(`{"event":"unknown"}`))
	conns[0].sendText(audioFrame(t, []byte{0x07}))

	fr := nextFrame(t, conns[1])
	msg, _ := protocol.ParseMessage(fr.data)
	if msg == nil || msg.Event != protocol.EventAudioStream {
		t.Fatalf("expected audioStream after invalid frames, got %s", fr.data)
	}
	waitStat(t, "Invalid", func() uint64 { return h.GetStats().Invalid }, 1)
}

func TestHubDisconnectRemovesClient(t *testing.T) {
	h, conns := startHub(t, 3)

	conns[2].Close()
	waitForClients(t, h, 2)

	conns[0].sendText(audioFrame(t, []byte{0x09}))
	nextFrame(t, conns[1])
}

func TestHubShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New("shutdown", nil)
	go h.Run(ctx)

	fc := newFakeConn()
	done := make(chan struct{})
	go func() {
		NewClient(h, fc, 0).Run()
		close(done)
	}()
	waitForClients(t, h, 1)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not finish after hub shutdown")
	}
	if !fc.isClosed() {
		t.Error("connection should be closed")
	}
	if h.Register(NewClient(h, newFakeConn(), 0)) {
		t.Error("Register should fail after shutdown")
	}
}

func TestHubManyClients(t *testing.T) {
	h, conns := startHub(t, 10)

	conns[0].sendText(audioFrame(t, []byte{0x42}))
	for i := 1; i < len(conns); i++ {
		fr := nextFrame(t, conns[i])
		if len(fr.data) == 0 {
			t.Errorf("client %d got empty frame", i)
		}
	}
	waitStat(t, "MessagesSent", func() uint64 { return h.GetStats().MessagesSent }, 9)
	if ids := h.Registry().IDs(); len(ids) != 10 {
		t.Errorf("IDs() = %d entries, want 10", len(ids))
	}
	if !h.IsRunning() {
		t.Error("hub should be running")
	}
}
