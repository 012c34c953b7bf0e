package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"

	"github.com/satindergrewal/stemplayer/internal/audio"
	"github.com/satindergrewal/stemplayer/internal/library"
	"github.com/satindergrewal/stemplayer/internal/output"
)

// StemID identifies a stem for the lifetime of its session.
type StemID string

// Stem is one loaded track: its decoder and the gain stage wrapping it.
type Stem struct {
	ID    StemID
	Name  string
	Title string
	Path  string

	dec  audio.StemDecoder
	gain *audio.GainStage
}

func newStem(f library.File, dec audio.StemDecoder) *Stem {
	return &Stem{
		ID:    StemID(uuid.New().String()),
		Name:  f.Name,
		Title: f.Title,
		Path:  f.Path,
		dec:   dec,
		gain:  audio.NewGainStage(dec),
	}
}

// StemInfo is a read-only snapshot of a stem.
type StemInfo struct {
	ID       StemID
	Name     string
	Title    string
	Path     string
	Duration time.Duration
	Gain     float64
}

func (s *Stem) info() StemInfo {
	return StemInfo{
		ID:       s.ID,
		Name:     s.Name,
		Title:    s.Title,
		Path:     s.Path,
		Duration: s.dec.Duration(),
		Gain:     s.gain.Gain(),
	}
}

// session is every stem of one loaded folder plus the mixer, clock and
// render path built over them. Stems shorter than the longest one are
// padded with silence by the mixer, so the session lasts as long as its
// longest stem.
type session struct {
	folder   string
	stems    []*Stem
	byID     map[StemID]*Stem
	mixer    *audio.Mixer
	tracker  *Tracker
	renderer *Renderer
	closed   bool
}

func newSession(folder string, stems []*Stem, sink output.Sink, opts Options) *session {
	var total time.Duration
	inputs := make([]beep.Streamer, len(stems))
	byID := make(map[StemID]*Stem, len(stems))
	for i, st := range stems {
		inputs[i] = st.gain
		byID[st.ID] = st
		if d := st.dec.Duration(); d > total {
			total = d
		}
	}

	mixer := audio.NewMixer(inputs, opts.SoftLimit)
	tracker := NewTracker(audio.Format.SampleRate, total)
	return &session{
		folder:   folder,
		stems:    stems,
		byID:     byID,
		mixer:    mixer,
		tracker:  tracker,
		renderer: NewRenderer(mixer, sink, tracker, opts.Interval),
	}
}

// seekAll moves every decoder to pos. If any decoder fails, the ones
// already moved are put back and the clock is left alone. The render path
// must be stopped.
func (s *session) seekAll(pos time.Duration) error {
	prev := make([]time.Duration, len(s.stems))
	for i, st := range s.stems {
		prev[i] = st.dec.Position()
		if err := st.dec.Seek(pos); err != nil {
			for j := i - 1; j >= 0; j-- {
				s.stems[j].dec.Seek(prev[j])
			}
			return fmt.Errorf("seek %s: %w", st.Name, err)
		}
	}
	s.mixer.Reset()
	s.tracker.Reset(pos)
	return nil
}

func (s *session) infos() []StemInfo {
	out := make([]StemInfo, len(s.stems))
	for i, st := range s.stems {
		out[i] = st.info()
	}
	return out
}

// close stops rendering and releases every decoder. Safe to call twice.
func (s *session) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.renderer.Stop()

	var errs []error
	for _, st := range s.stems {
		if err := st.dec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", st.Name, err))
		}
	}
	return errors.Join(errs...)
}
