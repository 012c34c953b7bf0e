package transport

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/stemplayer/internal/audio"
	"github.com/satindergrewal/stemplayer/internal/library"
	"github.com/satindergrewal/stemplayer/internal/output"
)

// ErrNoStems is returned by Load when nothing in the folder could be decoded.
var ErrNoStems = errors.New("no playable stems")

// State is the transport's playback state.
type State int

const (
	Idle State = iota
	Loaded
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loaded:
		return "loaded"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type (
	OpenFunc func(path string) (audio.StemDecoder, error)
	ScanFunc func(folder string, exts []string) (*library.ScanResult, error)
)

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	Extensions      []string
	SoftLimit       bool
	ResampleQuality int
	// Interval is the render cadence. Defaults to audio.BufferDuration.
	Interval time.Duration

	// Open and Scan replace file decoding and folder discovery.
	Open OpenFunc
	Scan ScanFunc
}

func (o Options) withDefaults() Options {
	if len(o.Extensions) == 0 {
		o.Extensions = library.DefaultExtensions
	}
	if o.ResampleQuality <= 0 {
		o.ResampleQuality = 4
	}
	if o.Interval <= 0 {
		o.Interval = audio.BufferDuration
	}
	if o.Open == nil {
		quality := o.ResampleQuality
		o.Open = func(path string) (audio.StemDecoder, error) {
			return audio.OpenFile(path, quality)
		}
	}
	if o.Scan == nil {
		o.Scan = library.Scan
	}
	return o
}

// SkippedFile is a file Load left out of the session.
type SkippedFile struct {
	Path   string
	Reason string
}

type LoadResult struct {
	Folder    string
	StemCount int
	Stems     []StemInfo
	Skipped   []SkippedFile
}

// Status is a point-in-time view of the transport.
type Status struct {
	State     State
	Folder    string
	Position  time.Duration
	Duration  time.Duration
	Stems     []StemInfo
	LastError string
}

// Controller is the transport state machine. Every command and query takes
// mu, so commands are applied one at a time. The render path never takes mu:
// it only sees the mixer, the tracker and the per-stem gains.
type Controller struct {
	mu      sync.Mutex
	sink    output.Sink
	opts    Options
	state   State
	session *session
	lastErr error
}

// NewController creates an idle controller rendering into sink. The sink is
// owned by the caller.
func NewController(sink output.Sink, opts Options) *Controller {
	return &Controller{
		sink: sink,
		opts: opts.withDefaults(),
	}
}

// Load scans folder and replaces the current session with its stems. Files
// that are filtered out or fail to decode are reported in Skipped. If the
// scan itself fails the current session is kept as is.
func (c *Controller) Load(folder string) (*LoadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	scan, err := c.opts.Scan(folder, c.opts.Extensions)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", folder, err)
	}

	res := &LoadResult{Folder: folder}
	for _, path := range scan.Rejected {
		res.Skipped = append(res.Skipped, SkippedFile{Path: path, Reason: "unsupported extension"})
	}

	var stems []*Stem
	for _, f := range scan.Files {
		dec, err := c.opts.Open(f.Path)
		if err != nil {
			log.Printf("Transport: skipping %s: %v", f.Name, err)
			res.Skipped = append(res.Skipped, SkippedFile{Path: f.Path, Reason: err.Error()})
			continue
		}
		stems = append(stems, newStem(f, dec))
	}

	c.teardownLocked()
	c.lastErr = nil
	if len(stems) == 0 {
		c.state = Idle
		return res, fmt.Errorf("load %s: %w", folder, ErrNoStems)
	}

	c.session = newSession(folder, stems, c.sink, c.opts)
	c.state = Loaded
	res.StemCount = len(stems)
	res.Stems = c.session.infos()
	log.Printf("Transport: loaded %d stems from %s (%s, %d skipped)",
		len(stems), folder, FormatClock(c.session.tracker.Duration()), len(res.Skipped))
	return res, nil
}

// Play starts rendering from Loaded or Paused. If the sink cannot be opened
// the state is left unchanged and a *DeviceError is returned.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()

	if c.state != Loaded && c.state != Paused {
		return invalidState("play", c.state)
	}
	if err := c.openSinkLocked(); err != nil {
		return err
	}
	c.session.renderer.Start()
	c.state = Playing
	return nil
}

func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()

	if c.state != Playing {
		return invalidState("pause", c.state)
	}
	c.session.renderer.Stop()
	c.stopSinkLocked()
	c.state = Paused
	return nil
}

// Restart moves every stem back to zero and plays, whatever the state was.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()

	if c.state == Idle {
		return invalidState("restart", c.state)
	}
	wasPlaying := c.state == Playing
	if !wasPlaying {
		if err := c.openSinkLocked(); err != nil {
			return err
		}
	}

	r := c.session.renderer
	r.Stop()
	if err := c.session.seekAll(0); err != nil {
		if wasPlaying {
			r.Start()
		} else {
			c.stopSinkLocked()
		}
		return fmt.Errorf("restart: %w", err)
	}
	r.Start()
	c.state = Playing
	return nil
}

// Seek moves every stem to pos, clamped to [0, TotalDuration()]. Stems
// shorter than pos sit at their end and play silence. Playback state is
// unchanged.
func (c *Controller) Seek(pos time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()

	if c.state == Idle {
		return invalidState("seek", c.state)
	}
	pos = c.session.tracker.Clamp(pos)

	r := c.session.renderer
	r.Stop()
	err := c.session.seekAll(pos)
	if c.state == Playing {
		r.Start()
	}
	if err != nil {
		return fmt.Errorf("seek to %s: %w", FormatClock(pos), err)
	}
	return nil
}

// SetGain sets a stem's gain, clamped to [0, 1]. It takes effect from the
// next rendering buffer. Unknown ids are ignored.
func (c *Controller) SetGain(id StemID, gain float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Idle {
		return invalidState("set gain", c.state)
	}
	if st, ok := c.session.byID[id]; ok {
		st.gain.SetGain(gain)
	}
	return nil
}

func (c *Controller) CurrentPosition() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()

	if c.session == nil {
		return 0
	}
	return c.session.tracker.Position()
}

func (c *Controller) TotalDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return 0
	}
	return c.session.tracker.Duration()
}

func (c *Controller) IsPlaying() bool {
	return c.State() == Playing
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()
	return c.state
}

// Stems returns the loaded stems in load order.
func (c *Controller) Stems() []StemInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	return c.session.infos()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()

	st := Status{State: c.state}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.session != nil {
		st.Folder = c.session.folder
		st.Position = c.session.tracker.Position()
		st.Duration = c.session.tracker.Duration()
		st.Stems = c.session.infos()
	}
	return st
}

// Close stops playback and releases the session. The controller is Idle
// afterwards and can Load again. The sink is not closed.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.teardownLocked()
	c.state = Idle
	return err
}

func (c *Controller) openSinkLocked() error {
	if err := c.sink.Open(audio.Format); err != nil {
		log.Printf("Transport: output open failed: %v", err)
		return &DeviceError{Op: "open", Err: err}
	}
	return nil
}

func (c *Controller) stopSinkLocked() {
	if err := c.sink.Stop(); err != nil {
		log.Printf("Transport: output stop: %v", err)
	}
}

// reconcileLocked notices a render path that ended on its own, either at
// the end of the longest stem or on a sink failure, and moves to Paused.
func (c *Controller) reconcileLocked() {
	if c.state != Playing || c.session.renderer.Running() {
		return
	}
	r := c.session.renderer
	if err := r.Err(); err != nil {
		c.lastErr = &DeviceError{Op: "write", Err: err}
		log.Printf("Transport: output failed, pausing: %v", err)
	} else if r.Finished() {
		c.session.tracker.Reset(c.session.tracker.Duration())
		log.Printf("Transport: end of stems at %s", FormatClock(c.session.tracker.Duration()))
	}
	c.stopSinkLocked()
	c.state = Paused
}

func (c *Controller) teardownLocked() error {
	if c.session == nil {
		return nil
	}
	s := c.session
	c.session = nil

	s.renderer.Stop()
	c.stopSinkLocked()
	if err := s.close(); err != nil {
		log.Printf("Transport: closing %s: %v", s.folder, err)
		return err
	}
	return nil
}

// Seconds converts a position in seconds to a Duration. Values past the
// Duration range saturate, so a huge seek still lands at the end; NaN is 0.
func Seconds(secs float64) time.Duration {
	switch {
	case math.IsNaN(secs):
		return 0
	case secs >= float64(math.MaxInt64/time.Second):
		return math.MaxInt64
	case secs <= float64(math.MinInt64/time.Second):
		return math.MinInt64
	}
	return time.Duration(secs * float64(time.Second))
}

// FormatClock renders d as mm:ss. Minutes are not wrapped at an hour.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
