package output

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep/v2"
	"github.com/hajimehoshi/oto/v2"

	"github.com/satindergrewal/stemplayer/internal/audio"
)

// deviceQueue is how many buffers may wait for the device (~320ms).
const deviceQueue = 16

// Device plays rendered audio on the default output device through oto.
// oto allows one context per process, so a Device keeps its context for
// its whole life and Close only releases the player.
type Device struct {
	mu     sync.Mutex
	ctx    *oto.Context
	format beep.Format
	player oto.Player
	reader *blockReader

	queue  chan audio.Block
	active atomic.Pointer[oto.Player]
}

// NewDevice creates a device sink. Nothing is opened until Open.
func NewDevice() *Device {
	return &Device{queue: make(chan audio.Block, deviceQueue)}
}

func (d *Device) Open(format beep.Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx == nil {
		ctx, ready, err := oto.NewContext(int(format.SampleRate), format.NumChannels, oto.FormatFloat32LE)
		if err != nil {
			return fmt.Errorf("open audio device: %w", err)
		}
		<-ready
		d.ctx = ctx
		d.format = format
		log.Printf("Output: audio device opened (%d Hz, %d ch)", format.SampleRate, format.NumChannels)
	} else if d.format.SampleRate != format.SampleRate || d.format.NumChannels != format.NumChannels {
		return fmt.Errorf("audio device already running at %d Hz/%d ch", d.format.SampleRate, d.format.NumChannels)
	}

	if d.player == nil {
		d.reader = newBlockReader(d.queue)
		d.player = d.ctx.NewPlayer(d.reader)
		p := d.player
		d.active.Store(&p)
	}
	d.player.Play()
	return nil
}

// Write queues one buffer for the device, dropping it if the device is
// behind.
func (d *Device) Write(frames [][2]float64) error {
	if p := d.active.Load(); p != nil {
		if err := (*p).Err(); err != nil {
			return err
		}
	}
	var b audio.Block
	b.Fill(frames)
	select {
	case d.queue <- b:
	default:
	}
	return nil
}

func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil {
		d.player.Pause()
	}
	d.drain()
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return nil
	}
	d.active.Store(nil)
	d.reader.close()
	err := d.player.Close()
	d.player = nil
	d.reader = nil
	d.drain()
	return err
}

func (d *Device) drain() {
	for {
		select {
		case <-d.queue:
		default:
			return
		}
	}
}

// blockReader turns queued blocks into the float32 little-endian byte
// stream oto pulls from.
type blockReader struct {
	queue   <-chan audio.Block
	quit    chan struct{}
	once    sync.Once
	buf     [audio.BufferBytes]byte
	pending []byte
}

func newBlockReader(queue <-chan audio.Block) *blockReader {
	return &blockReader{queue: queue, quit: make(chan struct{})}
}

func (r *blockReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		select {
		case <-r.quit:
			return 0, io.EOF
		case b := <-r.queue:
			n := audio.PutFloats(r.buf[:], b.Interleaved())
			r.pending = r.buf[:n]
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *blockReader) close() {
	r.once.Do(func() { close(r.quit) })
}
