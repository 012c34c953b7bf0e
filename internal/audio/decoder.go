package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// DecodeError reports a file that could not be turned into a stem.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StemDecoder yields frames of one file in the shared Format. Stream,
// Position and Seek are not safe for concurrent use; the transport makes
// sure only one goroutine touches a decoder at a time.
type StemDecoder interface {
	beep.Streamer
	// Position is the position of the output stream: the time of the next
	// frame Stream will return, not how far the source has been read.
	Position() time.Duration
	Duration() time.Duration
	// Seek moves the cursor to d, clamped to [0, Duration()].
	Seek(d time.Duration) error
	Close() error
}

// DecodeFunc decodes an opened file. The returned streamer owns f.
type DecodeFunc func(f *os.File) (beep.StreamSeekCloser, beep.Format, error)

var decoders = map[string]DecodeFunc{
	".mp3": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
		return mp3.Decode(f)
	},
	".flac": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
		return flac.Decode(f)
	},
	".wav": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
		return wav.Decode(f)
	},
}

// CanDecode reports whether a decoder is registered for the file's extension.
func CanDecode(path string) bool {
	_, ok := decoders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// OpenFile opens path and returns a decoder converting it to Format.
// quality is the beep resampling quality used when the source rate differs.
func OpenFile(path string, quality int) (dec StemDecoder, err error) {
	decode, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, &DecodeError{Path: path, Err: ErrUnsupportedFormat}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	// Corrupt input has been seen to panic inside the codec libraries.
	defer func() {
		if r := recover(); r != nil {
			f.Close()
			dec = nil
			err = &DecodeError{Path: path, Err: fmt.Errorf("decoder panic: %v", r)}
		}
	}()

	src, format, err := decode(f)
	if err != nil {
		f.Close()
		return nil, &DecodeError{Path: path, Err: err}
	}
	if format.SampleRate <= 0 {
		src.Close()
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("invalid sample rate %d", format.SampleRate)}
	}

	return newFileDecoder(src, format, quality), nil
}

// fileDecoder adapts a beep.StreamSeekCloser to the shared format. beep
// already widens mono sources to two channels; the sample rate is converted
// with a resampler that is rebuilt after every seek so no stale frames leak.
type fileDecoder struct {
	src     beep.StreamSeekCloser
	format  beep.Format
	quality int
	out     beep.Streamer
	// pos counts output frames at the shared rate. The resampler reads
	// ahead of what it returns, so src.Position is not the cursor.
	pos int

	closeOnce sync.Once
	closeErr  error
}

func newFileDecoder(src beep.StreamSeekCloser, format beep.Format, quality int) *fileDecoder {
	d := &fileDecoder{src: src, format: format, quality: quality}
	d.rebuild()
	return d
}

func (d *fileDecoder) rebuild() {
	if d.format.SampleRate == Format.SampleRate {
		d.out = d.src
		return
	}
	d.out = beep.Resample(d.quality, d.format.SampleRate, Format.SampleRate, d.src)
}

func (d *fileDecoder) Stream(samples [][2]float64) (int, bool) {
	n, ok := d.out.Stream(samples)
	d.pos += n
	return n, ok
}

func (d *fileDecoder) Err() error {
	return d.src.Err()
}

func (d *fileDecoder) Position() time.Duration {
	return min(Format.SampleRate.D(d.pos), d.Duration())
}

func (d *fileDecoder) Duration() time.Duration {
	return d.format.SampleRate.D(d.src.Len())
}

func (d *fileDecoder) Seek(pos time.Duration) error {
	n := d.format.SampleRate.N(pos)
	if n < 0 {
		n = 0
	}
	if n > d.src.Len() {
		n = d.src.Len()
	}
	if err := d.src.Seek(n); err != nil {
		return err
	}
	d.pos = Format.SampleRate.N(d.format.SampleRate.D(n))
	d.rebuild()
	return nil
}

func (d *fileDecoder) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.src.Close()
	})
	return d.closeErr
}

// FloatsToBytes converts interleaved float32 samples to little-endian bytes.
func FloatsToBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	PutFloats(buf, samples)
	return buf
}

// PutFloats writes samples into buf as float32 little-endian and returns
// the number of bytes written.
func PutFloats(buf []byte, samples []float32) int {
	n := 0
	for _, s := range samples {
		if n+4 > len(buf) {
			break
		}
		binary.LittleEndian.PutUint32(buf[n:], math.Float32bits(s))
		n += 4
	}
	return n
}

// ToInt16 converts float samples to int16, clipping to the int16 range.
func ToInt16(dst []int16, samples []float32) {
	for i, s := range samples {
		if i >= len(dst) {
			return
		}
		v := float64(s) * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		dst[i] = int16(v)
	}
}
