package transport

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/satindergrewal/stemplayer/internal/audio"
	"github.com/satindergrewal/stemplayer/internal/library"
)

// fakeDecoder streams a constant value at the shared rate.
type fakeDecoder struct {
	mu      sync.Mutex
	value   float64
	total   int
	pos     int
	seekErr error
	closed  int
}

func newFake(value float64, d time.Duration) *fakeDecoder {
	return &fakeDecoder{value: value, total: audio.Format.SampleRate.N(d)}
}

func (f *fakeDecoder) Stream(samples [][2]float64) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= f.total {
		return 0, false
	}
	n := min(len(samples), f.total-f.pos)
	for i := range samples[:n] {
		samples[i] = [2]float64{f.value, f.value}
	}
	f.pos += n
	return n, true
}

func (f *fakeDecoder) Err() error { return nil }

func (f *fakeDecoder) Position() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return audio.Format.SampleRate.D(f.pos)
}

func (f *fakeDecoder) Duration() time.Duration {
	return audio.Format.SampleRate.D(f.total)
}

func (f *fakeDecoder) Seek(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seekErr != nil {
		return f.seekErr
	}
	f.pos = max(0, min(audio.Format.SampleRate.N(d), f.total))
	return nil
}

func (f *fakeDecoder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeDecoder) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeDecoder) setSeekErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seekErr = err
}

// fakeFolder stands in for a directory on disk. Paths listed in broken fail
// to decode; rejected paths are filtered out by extension.
type fakeFolder struct {
	decoders map[string]*fakeDecoder
	broken   []string
	rejected []string
	scanErr  error
}

func (ff *fakeFolder) scan(folder string, exts []string) (*library.ScanResult, error) {
	if ff.scanErr != nil {
		return nil, ff.scanErr
	}
	var paths []string
	for p := range ff.decoders {
		paths = append(paths, p)
	}
	paths = append(paths, ff.broken...)
	sort.Strings(paths)

	res := &library.ScanResult{Rejected: ff.rejected}
	for _, p := range paths {
		res.Files = append(res.Files, library.File{Path: p, Name: p, Title: p})
	}
	return res, nil
}

func (ff *fakeFolder) open(path string) (audio.StemDecoder, error) {
	if d, ok := ff.decoders[path]; ok {
		return d, nil
	}
	return nil, &audio.DecodeError{Path: path, Err: errors.New("corrupt frame header")}
}

func (ff *fakeFolder) options(interval time.Duration) Options {
	return Options{Interval: interval, Scan: ff.scan, Open: ff.open}
}

// recordingSink keeps every frame written to it.
type recordingSink struct {
	mu       sync.Mutex
	format   beep.Format
	opens    int
	stops    int
	closes   int
	frames   [][2]float64
	openErr  error
	writeErr error
}

func (s *recordingSink) Open(format beep.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.format = format
	s.opens++
	return nil
}

func (s *recordingSink) Write(frames [][2]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.frames = append(s.frames, frames...)
	return nil
}

func (s *recordingSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *recordingSink) take() [][2]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.frames
	s.frames = nil
	return out
}

func (s *recordingSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *recordingSink) setOpenErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
}
