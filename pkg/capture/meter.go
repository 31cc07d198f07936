package capture

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Meter constants follow the usual analyser defaults.
const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.8
	MinDecibels      = -100.0
	MaxDecibels      = -30.0
)

// Meter estimates input volume from a windowed FFT of the most recent
// samples. Each bin is smoothed over time, mapped from
// [MinDecibels, MaxDecibels] onto 0..255, and the mean is scaled to [0, 1].
type Meter struct {
	mu       sync.Mutex
	size     int
	ring     []float64
	pos      int
	fft      *fourier.FFT
	smoothed []float64
	scratch  []float64
	coeffs   []complex128
}

// NewMeter creates a meter over the last size samples. size should be a
// power of two; values below 32 use DefaultFFTSize.
func NewMeter(size int) *Meter {
	if size < 32 {
		size = DefaultFFTSize
	}
	return &Meter{
		size:     size,
		ring:     make([]float64, size),
		fft:      fourier.NewFFT(size),
		smoothed: make([]float64, size/2),
		scratch:  make([]float64, size),
	}
}

// Push appends PCM16 samples to the analysis window.
func (m *Meter) Push(samples []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Only the tail can survive in the ring
	if len(samples) > m.size {
		samples = samples[len(samples)-m.size:]
	}
	for _, s := range samples {
		m.ring[m.pos] = float64(s) / 32768
		m.pos = (m.pos + 1) % m.size
	}
}

// Level takes a spectrum snapshot and returns the volume in [0, 1].
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Oldest sample first
	n := copy(m.scratch, m.ring[m.pos:])
	copy(m.scratch[n:], m.ring[:m.pos])
	window.Blackman(m.scratch)

	m.coeffs = m.fft.Coefficients(m.coeffs, m.scratch)

	var sum float64
	bins := len(m.smoothed)
	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(m.coeffs[k]) / float64(m.size)
		m.smoothed[k] = DefaultSmoothing*m.smoothed[k] + (1-DefaultSmoothing)*mag
		sum += byteScale(m.smoothed[k])
	}

	level := sum / float64(bins) / 255
	return math.Max(0, math.Min(1, level))
}

// Reset clears the window and smoothing state.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.ring {
		m.ring[i] = 0
	}
	for i := range m.smoothed {
		m.smoothed[i] = 0
	}
	m.pos = 0
}

// byteScale maps a linear magnitude onto the analyser's 0..255 range
func byteScale(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := math.Floor(255 * (db - MinDecibels) / (MaxDecibels - MinDecibels))
	return math.Max(0, math.Min(255, v))
}
