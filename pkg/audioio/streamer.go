package audioio

import "github.com/faiface/beep"

// pcmStreamer plays interleaved PCM16 samples as a beep.Streamer.
// Mono input is duplicated to both speaker channels.
type pcmStreamer struct {
	samples  []int16
	channels int
	pos      int
}

func newPCMStreamer(samples []int16, channels int) *pcmStreamer {
	if channels <= 0 {
		channels = 1
	}
	return &pcmStreamer{samples: samples, channels: channels}
}

// Stream fills buf with up to len(buf) frames.
func (p *pcmStreamer) Stream(buf [][2]float64) (int, bool) {
	frames := len(p.samples) / p.channels
	if p.pos >= frames {
		return 0, false
	}

	n := 0
	for n < len(buf) && p.pos < frames {
		base := p.pos * p.channels
		left := float64(p.samples[base]) / 32768
		right := left
		if p.channels > 1 {
			right = float64(p.samples[base+1]) / 32768
		}
		buf[n][0], buf[n][1] = left, right
		n++
		p.pos++
	}
	return n, true
}

// Err always returns nil; in-memory samples cannot fail.
func (p *pcmStreamer) Err() error {
	return nil
}

// Len returns the total number of frames.
func (p *pcmStreamer) Len() int {
	return len(p.samples) / p.channels
}

var _ beep.Streamer = (*pcmStreamer)(nil)
