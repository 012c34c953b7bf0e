// Package output defines where rendered audio goes.
package output

import (
	"errors"

	"github.com/gopxl/beep/v2"
)

// Sink receives rendered buffers. Write is called from the render path and
// must not block; a sink that cannot keep up drops audio instead.
type Sink interface {
	// Open prepares the sink for format and starts (or resumes) output.
	// It is called on every transition into playback.
	Open(format beep.Format) error
	Write(frames [][2]float64) error
	// Stop pauses output and discards queued audio. The sink stays open.
	Stop() error
	Close() error
}

// Tee writes to several sinks at once.
type Tee []Sink

func (t Tee) Open(format beep.Format) error {
	for i, s := range t {
		if err := s.Open(format); err != nil {
			for _, opened := range t[:i] {
				opened.Stop()
			}
			return err
		}
	}
	return nil
}

// Write hands frames to every sink and returns the first failure.
func (t Tee) Write(frames [][2]float64) error {
	var first error
	for _, s := range t {
		if err := s.Write(frames); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t Tee) Stop() error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.Stop())
	}
	return errors.Join(errs...)
}

func (t Tee) Close() error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Discard is a sink that accepts and drops everything.
type Discard struct{}

func (Discard) Open(beep.Format) error { return nil }
func (Discard) Write([][2]float64) error { return nil }
func (Discard) Stop() error { return nil }
func (Discard) Close() error { return nil }
