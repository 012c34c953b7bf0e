package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep/v2"

	"github.com/satindergrewal/stemplayer/internal/audio"
)

// Broadcaster is an output sink that fans the mixed PCM out to N network
// listeners. Write only queues the buffer; Run does the fan-out.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}

	in      chan audio.Block
	dropped atomic.Int64
}

// Listener receives interleaved stereo float32 PCM at audio.SampleRate.
type Listener struct {
	C    chan []float32 // buffered channel of 20ms PCM buffers
	done chan struct{}
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
		in:        make(chan audio.Block, 50),
	}
}

// Subscribe registers a new listener. Returns a Listener that receives frames.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []float32, 150), // ~3 seconds of buffer at 20ms/frame
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	close(l.done)
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Dropped returns how many buffers Write discarded because Run fell behind.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Open only checks the format; listeners expect the shared one.
func (b *Broadcaster) Open(format beep.Format) error {
	if format.SampleRate != audio.Format.SampleRate || format.NumChannels != audio.Channels {
		return fmt.Errorf("broadcaster: unsupported format %d Hz / %d ch", format.SampleRate, format.NumChannels)
	}
	return nil
}

// Write queues one rendering buffer without blocking.
func (b *Broadcaster) Write(frames [][2]float64) error {
	for len(frames) > 0 {
		var blk audio.Block
		blk.Fill(frames)
		frames = frames[blk.Frames:]
		select {
		case b.in <- blk:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Stop discards anything not yet fanned out.
func (b *Broadcaster) Stop() error {
	for {
		select {
		case <-b.in:
		default:
			return nil
		}
	}
}

func (b *Broadcaster) Close() error {
	return b.Stop()
}

// Run fans queued buffers out to all listeners until ctx is done.
// Slow listeners get frames dropped rather than blocking the broadcast.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case blk := <-b.in:
			frame := append([]float32(nil), blk.Interleaved()...)
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					// listener too slow, drop frame to keep broadcast moving
				}
			}
			b.mu.RUnlock()
		}
	}
}
