package audio

import (
	"math"
	"sync/atomic"

	"github.com/gopxl/beep/v2"
)

// GainStage scales a streamer by a gain that may be changed from any
// goroutine while the render path is pulling. The gain is published as
// float64 bits in an atomic word, so a reader sees either the old or the
// new value, never a mix.
type GainStage struct {
	src  beep.Streamer
	bits atomic.Uint64
}

// NewGainStage wraps src at unity gain.
func NewGainStage(src beep.Streamer) *GainStage {
	g := &GainStage{src: src}
	g.bits.Store(math.Float64bits(1))
	return g
}

// ClampGain limits v to [0, 1]. NaN maps to 0.
func ClampGain(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SetGain publishes a new gain, clamped to [0, 1]. It is visible to the
// next Stream call.
func (g *GainStage) SetGain(v float64) {
	g.bits.Store(math.Float64bits(ClampGain(v)))
}

func (g *GainStage) Gain() float64 {
	return math.Float64frombits(g.bits.Load())
}

// Stream pulls from the source and scales every sample. The gain is loaded
// once per call, so a buffer already in flight keeps its gain.
func (g *GainStage) Stream(samples [][2]float64) (int, bool) {
	gain := g.Gain()
	n, ok := g.src.Stream(samples)
	if gain == 1 {
		return n, ok
	}
	for i := range samples[:n] {
		samples[i][0] *= gain
		samples[i][1] *= gain
	}
	return n, ok
}

func (g *GainStage) Err() error {
	return g.src.Err()
}
