package latency

import (
	"fmt"
	"math"
)

// WindowSize is the number of recent samples the rolling average covers.
const WindowSize = 10

// Stats is a snapshot of round-trip measurements in milliseconds. Min is
// +Inf and Average is NaN until the first sample.
type Stats struct {
	Current float64
	Average float64
	Min     float64
	Max     float64
	Samples int
}

// HasSamples reports whether at least one echo has been measured.
// Average is undefined until then.
func (s Stats) HasSamples() bool {
	return s.Samples > 0
}

// String renders the snapshot, using "-" for values not yet known.
func (s Stats) String() string {
	if !s.HasSamples() {
		return "current -ms avg -ms min -ms max -ms"
	}
	return fmt.Sprintf("current %sms avg %sms min %sms max %sms",
		format(s.Current), format(s.Average), format(s.Min), format(s.Max))
}

func format(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.1f", v)
}

// window keeps the last WindowSize samples plus running min/max.
type window struct {
	samples [WindowSize]float64
	next    int
	count   int
	total   int
	current float64
	min     float64
	max     float64
}

func newWindow() window {
	return window{min: math.Inf(1)}
}

func (w *window) add(rtt float64) {
	w.samples[w.next] = rtt
	w.next = (w.next + 1) % WindowSize
	if w.count < WindowSize {
		w.count++
	}
	w.total++
	w.current = rtt
	w.min = math.Min(w.min, rtt)
	w.max = math.Max(w.max, rtt)
}

func (w *window) stats() Stats {
	s := Stats{
		Current: w.current,
		Min:     w.min,
		Max:     w.max,
		Samples: w.total,
	}
	if w.count == 0 {
		s.Average = math.NaN()
		return s
	}
	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.samples[i]
	}
	s.Average = sum / float64(w.count)
	return s
}
