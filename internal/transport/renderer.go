package transport

import (
	"context"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/satindergrewal/stemplayer/internal/audio"
	"github.com/satindergrewal/stemplayer/internal/output"
)

// Renderer is the render path: on every tick it pulls one buffer from the
// mixer, advances the tracker and hands the buffer to the sink. It owns its
// buffer, takes no locks and never logs.
//
// Start and Stop are called from the control path only. Stop waits for the
// in-flight buffer, so once it returns nothing touches the mixer or its
// decoders until the next Start.
type Renderer struct {
	src      beep.Streamer
	sink     output.Sink
	tracker  *Tracker
	interval time.Duration
	buf      [][2]float64

	cancel context.CancelFunc
	done   chan struct{}

	// Written by the render goroutine, read after done is closed.
	finished bool
	err      error
}

// NewRenderer creates a stopped renderer pulling one buffer per interval.
func NewRenderer(src beep.Streamer, sink output.Sink, tracker *Tracker, interval time.Duration) *Renderer {
	if interval <= 0 {
		interval = audio.BufferDuration
	}
	return &Renderer{
		src:      src,
		sink:     sink,
		tracker:  tracker,
		interval: interval,
		buf:      make([][2]float64, audio.BufferFrames),
	}
}

// Start launches the render goroutine. It is a no-op while running.
func (r *Renderer) Start() {
	if r.Running() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.finished = false
	r.err = nil
	go r.run(ctx, r.done)
}

// Stop signals the render goroutine and waits for it to exit. Safe to call
// when already stopped.
func (r *Renderer) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
}

// Running reports whether the render goroutine is alive. It turns false
// by itself when the mixer runs dry or the sink fails.
func (r *Renderer) Running() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Finished reports whether the last run ended because every stem was
// exhausted. Only meaningful once Running is false.
func (r *Renderer) Finished() bool {
	if r.Running() {
		return false
	}
	return r.finished
}

// Err returns the sink error that ended the last run, if any.
func (r *Renderer) Err() error {
	if r.Running() {
		return nil
	}
	return r.err
}

func (r *Renderer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, ok := r.src.Stream(r.buf)
		if n > 0 {
			r.tracker.Advance(n)
			if err := r.sink.Write(r.buf[:n]); err != nil {
				r.err = err
				return
			}
		}
		if !ok {
			r.finished = true
			return
		}
	}
}
