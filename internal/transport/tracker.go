package transport

import (
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
)

// Tracker is the session clock. The render path advances it by the frames
// it actually pulled from the mixer; the control path resets it on seek.
type Tracker struct {
	rate   beep.SampleRate
	total  int
	frames atomic.Int64
}

// NewTracker creates a clock for a session lasting total.
func NewTracker(rate beep.SampleRate, total time.Duration) *Tracker {
	n := rate.N(total)
	if n < 0 {
		n = 0
	}
	return &Tracker{rate: rate, total: n}
}

// Advance adds n rendered frames.
func (t *Tracker) Advance(n int) {
	t.frames.Add(int64(n))
}

// Reset moves the clock to pos, clamped to [0, Duration()].
func (t *Tracker) Reset(pos time.Duration) {
	n := t.rate.N(t.Clamp(pos))
	if n > t.total {
		n = t.total
	}
	t.frames.Store(int64(n))
}

// Clamp limits pos to [0, Duration()].
func (t *Tracker) Clamp(pos time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if d := t.Duration(); pos > d {
		return d
	}
	return pos
}

// Position never exceeds Duration.
func (t *Tracker) Position() time.Duration {
	f := t.frames.Load()
	if f > int64(t.total) {
		f = int64(t.total)
	}
	return t.rate.D(int(f))
}

func (t *Tracker) Duration() time.Duration {
	return t.rate.D(t.total)
}
