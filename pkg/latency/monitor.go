// Package latency measures round-trip time to the relay with periodic
// probes and keeps rolling statistics over the echoes.
package latency

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-btmic/pkg/protocol"
)

// DefaultInterval is the time between probes.
const DefaultInterval = time.Second

// Prober sends probes and delivers their echoes. *channel.Channel
// satisfies it.
type Prober interface {
	SendProbe(timestamp float64) error
	Echoes() <-chan protocol.Probe
}

// Clock returns the current time. Readings must carry a monotonic
// component, as time.Now does.
type Clock func() time.Time

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the probe interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(c Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// Monitor probes a Prober on a fixed interval.
type Monitor struct {
	interval time.Duration
	clock    Clock
	epoch    time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	win    window
	cancel context.CancelFunc
	done   chan struct{}
	sent   uint64
}

// New creates a stopped monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		interval: DefaultInterval,
		clock:    time.Now,
		win:      newWindow(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "latency")
	m.epoch = m.clock()
	return m
}

// Now returns milliseconds elapsed since the monitor was created.
func (m *Monitor) Now() float64 {
	return float64(m.clock().Sub(m.epoch)) / float64(time.Millisecond)
}

// Start resets the statistics and begins probing p. Echoes of probes
// sent before Start are discarded.
func (m *Monitor) Start(ctx context.Context, p Prober) error {
	if p == nil {
		return ErrNoProber
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return ErrAlreadyRunning
	}

	m.win = newWindow()
	m.sent = 0
	startedAt := m.Now()

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx, p, startedAt, m.done)

	m.logger.Debug("latency monitor started", "interval", m.interval)
	return nil
}

func (m *Monitor) run(ctx context.Context, p Prober, startedAt float64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	echoes := p.Echoes()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.SendProbe(m.Now()); err != nil {
				m.logger.Debug("probe not sent", "error", err)
				continue
			}
			m.mu.Lock()
			m.sent++
			m.mu.Unlock()
		case probe, ok := <-echoes:
			if !ok {
				echoes = nil
				continue
			}
			// Left over from an earlier run
			if probe.Timestamp < startedAt {
				m.logger.Debug("stale echo dropped", "timestamp", probe.Timestamp)
				continue
			}
			m.Observe(probe.Timestamp)
		}
	}
}

// Stop halts probing. Echoes that arrive later may still be passed to
// Observe.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Debug("latency monitor stopped")
}

// Running reports whether the monitor is probing.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

// Observe records the echo of a probe sent at timestamp.
func (m *Monitor) Observe(timestamp float64) {
	m.Record(m.Now() - timestamp)
}

// Record adds a round-trip sample in milliseconds. Negative values are
// ignored.
func (m *Monitor) Record(rtt float64) {
	if rtt < 0 {
		return
	}
	m.mu.Lock()
	m.win.add(rtt)
	m.mu.Unlock()
}

// Stats returns the current snapshot.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.win.stats()
}

// ProbesSent returns the number of probes sent since the last Start.
func (m *Monitor) ProbesSent() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}
