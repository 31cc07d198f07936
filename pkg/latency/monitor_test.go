package latency

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-btmic/pkg/protocol"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeProber echoes every probe after the clock advances by delay.
type fakeProber struct {
	mu     sync.Mutex
	clock  *fakeClock
	delay  time.Duration
	fail   error
	probes []float64
	echoes chan protocol.Probe
	noEcho bool
}

func newFakeProber(clock *fakeClock, delay time.Duration) *fakeProber {
	return &fakeProber{clock: clock, delay: delay, echoes: make(chan protocol.Probe, 16)}
}

func (p *fakeProber) SendProbe(ts float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.probes = append(p.probes, ts)
	if !p.noEcho {
		p.clock.Advance(p.delay)
		p.echoes <- protocol.Probe{Timestamp: ts}
	}
	return nil
}

func (p *fakeProber) Echoes() <-chan protocol.Probe {
	return p.echoes
}

func (p *fakeProber) sent() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.probes...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRollingAverage(t *testing.T) {
	m := New()

	// k <= 10: mean of everything
	var sum float64
	for i := 1; i <= WindowSize; i++ {
		m.Record(float64(i))
		sum += float64(i)
		if got, want := m.Stats().Average, sum/float64(i); got != want {
			t.Fatalf("after %d samples Average = %f, want %f", i, got, want)
		}
	}

	// k > 10: mean of the last 10 only
	m.Record(100)
	want := (sum - 1 + 100) / WindowSize
	if got := m.Stats().Average; got != want {
		t.Errorf("Average = %f, want %f", got, want)
	}
	if got := m.Stats().Samples; got != WindowSize+1 {
		t.Errorf("Samples = %d, want %d", got, WindowSize+1)
	}
}

func TestMinMaxMonotone(t *testing.T) {
	m := New()
	samples := []float64{50, 20, 80, 30, 10, 90, 40, 60, 70, 25, 55, 35}

	prevMin, prevMax := math.Inf(1), 0.0
	for _, rtt := range samples {
		m.Record(rtt)
		s := m.Stats()
		if s.Min > prevMin || s.Max < prevMax {
			t.Fatalf("min/max not monotone after %v: %+v", rtt, s)
		}
		if s.Min > s.Average || s.Average > s.Max {
			t.Fatalf("min <= avg <= max violated: %+v", s)
		}
		prevMin, prevMax = s.Min, s.Max
	}

	s := m.Stats()
	if s.Min != 10 || s.Max != 90 || s.Current != 35 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestStatsBeforeFirstSample(t *testing.T) {
	s := New().Stats()

	if s.HasSamples() {
		t.Error("HasSamples() should be false")
	}
	if !math.IsInf(s.Min, 1) || s.Max != 0 {
		t.Errorf("sentinels = min %v max %v, want +Inf and 0", s.Min, s.Max)
	}
	if !math.IsNaN(s.Average) {
		t.Errorf("Average = %v, want undefined", s.Average)
	}
	if s.String() != "current -ms avg -ms min -ms max -ms" {
		t.Errorf("String() = %q", s.String())
	}
}

func TestStatsString(t *testing.T) {
	m := New()
	m.Record(12.34)
	m.Record(20)

	want := "current 20.0ms avg 16.2ms min 12.3ms max 20.0ms"
	if got := m.Stats().String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRecordIgnoresNegative(t *testing.T) {
	m := New()
	m.Record(-1)
	if m.Stats().HasSamples() {
		t.Error("negative sample should be ignored")
	}
}

func TestObserveUsesMonotonicOffset(t *testing.T) {
	clock := newFakeClock()
	m := New(WithClock(clock.Now))

	clock.Advance(1500 * time.Millisecond)
	sent := m.Now()
	if sent != 1500 {
		t.Fatalf("Now() = %f, want 1500", sent)
	}

	clock.Advance(42500 * time.Microsecond)
	m.Observe(sent)

	if got := m.Stats().Current; got != 42.5 {
		t.Errorf("Current = %f, want 42.5", got)
	}
}

func TestMonitorProbesAndMeasures(t *testing.T) {
	clock := newFakeClock()
	prober := newFakeProber(clock, 25*time.Millisecond)
	m := New(WithClock(clock.Now), WithInterval(5*time.Millisecond))

	if err := m.Start(context.Background(), prober); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, "three samples", func() bool { return m.Stats().Samples >= 3 })

	// Each probe advances the clock by 25ms before its echo is read
	s := m.Stats()
	if s.Min < 25 || s.Min > s.Average || s.Average > s.Max {
		t.Errorf("Stats() = %+v", s)
	}
	if math.Mod(s.Current, 25) != 0 {
		t.Errorf("Current = %f, want a multiple of 25", s.Current)
	}
	if m.ProbesSent() < 3 {
		t.Errorf("ProbesSent() = %d, want >= 3", m.ProbesSent())
	}

	// Timestamps are strictly increasing monotonic offsets
	probes := prober.sent()
	for i := 1; i < len(probes); i++ {
		if probes[i] <= probes[i-1] {
			t.Fatalf("probe %d timestamp %f not after %f", i, probes[i], probes[i-1])
		}
	}
}

func TestMonitorRestartResetsStats(t *testing.T) {
	clock := newFakeClock()
	prober := newFakeProber(clock, 0)
	prober.noEcho = true
	m := New(WithClock(clock.Now), WithInterval(time.Hour))

	m.Record(5)
	m.Record(500)

	if err := m.Start(context.Background(), prober); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s := m.Stats()
	if s.HasSamples() || !math.IsInf(s.Min, 1) || s.Max != 0 {
		t.Errorf("Stats() after Start = %+v, want reset", s)
	}
	m.Stop()
}

func TestMonitorRestartDropsStaleEcho(t *testing.T) {
	clock := newFakeClock()
	prober := newFakeProber(clock, 0)
	prober.noEcho = true
	m := New(WithClock(clock.Now), WithInterval(time.Hour))

	if err := m.Start(context.Background(), prober); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	inFlight := m.Now()
	m.Stop()

	// The echo of the last probe arrives while stopped
	prober.echoes <- protocol.Probe{Timestamp: inFlight}
	clock.Advance(30 * time.Second)

	if err := m.Start(context.Background(), prober); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer m.Stop()

	fresh := m.Now()
	clock.Advance(10 * time.Millisecond)
	prober.echoes <- protocol.Probe{Timestamp: fresh}

	waitFor(t, "fresh echo", func() bool { return m.Stats().HasSamples() })

	s := m.Stats()
	if s.Samples != 1 || s.Max != 10 || s.Min != 10 {
		t.Errorf("Stats() after restart = %+v, want a single 10ms sample", s)
	}
	if got := m.ProbesSent(); got != 0 {
		t.Errorf("ProbesSent() = %d, want 0", got)
	}
}

func TestMonitorStop(t *testing.T) {
	clock := newFakeClock()
	prober := newFakeProber(clock, time.Millisecond)
	m := New(WithClock(clock.Now), WithInterval(2*time.Millisecond))

	if err := m.Start(context.Background(), prober); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "a probe", func() bool { return len(prober.sent()) > 0 })

	m.Stop()
	m.Stop()
	if m.Running() {
		t.Error("Running() should be false after Stop")
	}

	n := len(prober.sent())
	time.Sleep(20 * time.Millisecond)
	if got := len(prober.sent()); got != n {
		t.Errorf("%d probes sent after Stop", got-n)
	}

	// A late echo still resolves harmlessly
	before := m.Stats().Samples
	m.Observe(m.Now() - 3)
	if m.Stats().Samples != before+1 {
		t.Error("late echo should be recorded")
	}

	// The monitor can be started again
	if err := m.Start(context.Background(), prober); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	m.Stop()
}

func TestMonitorStartErrors(t *testing.T) {
	m := New(WithInterval(time.Hour))

	if err := m.Start(context.Background(), nil); !errors.Is(err, ErrNoProber) {
		t.Errorf("Start(nil) = %v, want ErrNoProber", err)
	}

	prober := newFakeProber(newFakeClock(), 0)
	if err := m.Start(context.Background(), prober); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()
	if err := m.Start(context.Background(), prober); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestMonitorSkipsFailedProbes(t *testing.T) {
	clock := newFakeClock()
	prober := newFakeProber(clock, 0)
	prober.fail = errors.New("channel: not connected")
	m := New(WithClock(clock.Now), WithInterval(2*time.Millisecond))

	if err := m.Start(context.Background(), prober); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	if m.ProbesSent() != 0 || m.Stats().HasSamples() {
		t.Errorf("failed probes counted: sent %d, %+v", m.ProbesSent(), m.Stats())
	}
}
