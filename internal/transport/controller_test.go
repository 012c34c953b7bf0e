package transport

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/stemplayer/internal/audio"
)

// idle keeps the render goroutine from ever ticking, so positions only
// change through commands.
const idle = time.Hour

func songFolder(drum, vocal float64, d time.Duration) (*fakeFolder, *fakeDecoder, *fakeDecoder) {
	dr, vo := newFake(drum, d), newFake(vocal, d)
	return &fakeFolder{decoders: map[string]*fakeDecoder{
		"drum.flac":  dr,
		"vocal.flac": vo,
	}}, dr, vo
}

func newTestController(t *testing.T, ff *fakeFolder, interval time.Duration) (*Controller, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	c := NewController(sink, ff.options(interval))
	t.Cleanup(func() { c.Close() })
	return c, sink
}

func stemID(t *testing.T, stems []StemInfo, name string) StemID {
	t.Helper()
	for _, s := range stems {
		if s.Name == name {
			return s.ID
		}
	}
	t.Fatalf("no stem named %s", name)
	return ""
}

func TestLoadBuildsSession(t *testing.T) {
	ff, _, _ := songFolder(0.1, 0.2, time.Minute)
	c, _ := newTestController(t, ff, idle)

	res, err := c.Load("/music/song1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.StemCount)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, time.Minute, c.TotalDuration())
	assert.Equal(t, time.Duration(0), c.CurrentPosition())
	assert.Equal(t, Loaded, c.State())
	assert.False(t, c.IsPlaying())

	require.Len(t, res.Stems, 2)
	assert.Equal(t, "drum.flac", res.Stems[0].Name)
	assert.Equal(t, "vocal.flac", res.Stems[1].Name)
	assert.NotEqual(t, res.Stems[0].ID, res.Stems[1].ID)
	assert.Equal(t, 1.0, res.Stems[0].Gain)

	// ids are stable for the session
	assert.Equal(t, res.Stems[0].ID, c.Stems()[0].ID)
}

func TestLoadSkipsRejectedAndBrokenFiles(t *testing.T) {
	ff, _, _ := songFolder(0.1, 0.2, time.Minute)
	ff.rejected = []string{"click.wav"}
	ff.broken = []string{"bass.mp3"}
	c, _ := newTestController(t, ff, idle)

	res, err := c.Load("/music/song2")
	require.NoError(t, err)
	assert.Equal(t, 2, res.StemCount)

	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "click.wav", res.Skipped[0].Path)
	assert.Equal(t, "unsupported extension", res.Skipped[0].Reason)
	assert.Equal(t, "bass.mp3", res.Skipped[1].Path)
	assert.Contains(t, res.Skipped[1].Reason, "corrupt")
}

func TestLoadWithNoStemsStaysIdle(t *testing.T) {
	ff := &fakeFolder{rejected: []string{"notes.txt"}, broken: []string{"broken.mp3"}}
	c, _ := newTestController(t, ff, idle)

	res, err := c.Load("/music/empty")
	assert.ErrorIs(t, err, ErrNoStems)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.StemCount)
	assert.Len(t, res.Skipped, 2)
	assert.Equal(t, Idle, c.State())

	commands := map[string]func() error{
		"play":     c.Play,
		"pause":    c.Pause,
		"restart":  c.Restart,
		"seek":     func() error { return c.Seek(time.Second) },
		"set gain": func() error { return c.SetGain("missing", 0.5) },
	}
	for name, cmd := range commands {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, cmd(), ErrInvalidState)
			assert.Equal(t, Idle, c.State())
		})
	}
	assert.Equal(t, time.Duration(0), c.CurrentPosition())
	assert.Equal(t, time.Duration(0), c.TotalDuration())
}

func TestLoadScanErrorKeepsSession(t *testing.T) {
	ff, drum, _ := songFolder(0.1, 0.2, time.Minute)
	c, _ := newTestController(t, ff, idle)
	_, err := c.Load("/music/song1")
	require.NoError(t, err)
	before := c.Stems()

	ff.scanErr = os.ErrNotExist
	_, err = c.Load("/music/gone")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, Loaded, c.State())
	assert.Equal(t, before, c.Stems())
	assert.Equal(t, 0, drum.closeCount())
}

func TestLoadReplacesAndClosesPreviousSession(t *testing.T) {
	ff, drum, vocal := songFolder(0.1, 0.2, time.Minute)
	c, sink := newTestController(t, ff, idle)
	_, err := c.Load("/music/song1")
	require.NoError(t, err)
	require.NoError(t, c.Play())

	keys := newFake(0.3, 2*time.Minute)
	ff.decoders = map[string]*fakeDecoder{"keys.flac": keys}
	res, err := c.Load("/music/song2")
	require.NoError(t, err)

	assert.Equal(t, 1, res.StemCount)
	assert.Equal(t, Loaded, c.State())
	assert.Equal(t, 2*time.Minute, c.TotalDuration())
	assert.Equal(t, 1, drum.closeCount())
	assert.Equal(t, 1, vocal.closeCount())
	assert.GreaterOrEqual(t, sink.stops, 1)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, keys.closeCount())
	assert.Equal(t, Idle, c.State())
}

func TestPlayTracksRealTime(t *testing.T) {
	ff, _, _ := songFolder(0.1, 0.2, time.Minute)
	c, sink := newTestController(t, ff, 0)
	_, err := c.Load("/music/song1")
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, c.Play())
	assert.True(t, c.IsPlaying())
	assert.Equal(t, audio.Format, sink.format)

	time.Sleep(300 * time.Millisecond)
	pos := c.CurrentPosition()
	elapsed := time.Since(start)
	assert.LessOrEqual(t, pos, elapsed+audio.BufferDuration)
	assert.GreaterOrEqual(t, pos, elapsed/2)
}

func TestPauseFreezesPosition(t *testing.T) {
	ff, drum, _ := songFolder(0.1, 0.2, time.Minute)
	c, _ := newTestController(t, ff, time.Millisecond)
	_, err := c.Load("/music/song1")
	require.NoError(t, err)

	require.NoError(t, c.Play())
	require.Eventually(t, func() bool { return c.CurrentPosition() > 0 }, time.Second, time.Millisecond)
	require.NoError(t, c.Pause())
	assert.Equal(t, Paused, c.State())

	pos := c.CurrentPosition()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, pos, c.CurrentPosition())
	assert.Equal(t, pos, drum.Position())

	assert.ErrorIs(t, c.Pause(), ErrInvalidState)
}

func TestSetGainDuringPlayback(t *testing.T) {
	ff, _, _ := songFolder(0.2, 0.4, time.Minute)
	c, sink := newTestController(t, ff, time.Millisecond)
	res, err := c.Load("/music/song1")
	require.NoError(t, err)
	drumID := stemID(t, res.Stems, "drum.flac")

	require.NoError(t, c.Play())
	require.Eventually(t, func() bool { return sink.frameCount() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, c.SetGain(drumID, 0.5))
	sink.take()
	require.Eventually(t, func() bool { return sink.frameCount() >= 4*audio.BufferFrames }, time.Second, time.Millisecond)
	require.NoError(t, c.Pause())

	frames := sink.take()
	for i, f := range frames {
		// one buffer may have been pulled before the new gain was published
		if i < audio.BufferFrames && f[0] == 0.6 {
			continue
		}
		require.InDelta(t, 0.5*0.2+0.4, f[0], 1e-12, "frame %d", i)
		require.Equal(t, f[0], f[1])
	}

	for _, s := range c.Stems() {
		if s.ID == drumID {
			assert.Equal(t, 0.5, s.Gain)
		} else {
			assert.Equal(t, 1.0, s.Gain)
		}
	}
}

func TestSetGainUnknownStemIsNoop(t *testing.T) {
	ff, _, _ := songFolder(0.2, 0.4, time.Minute)
	c, _ := newTestController(t, ff, idle)
	_, err := c.Load("/music/song1")
	require.NoError(t, err)

	assert.NoError(t, c.SetGain("not-a-stem", 0.1))
	for _, s := range c.Stems() {
		assert.Equal(t, 1.0, s.Gain)
	}
}

func TestPauseSeekPlayStaysInSync(t *testing.T) {
	ff, drum, vocal := songFolder(0.1, 0.2, time.Minute)
	c, sink := newTestController(t, ff, time.Millisecond)
	_, err := c.Load("/music/song1")
	require.NoError(t, err)

	require.NoError(t, c.Play())
	require.NoError(t, c.Pause())
	require.NoError(t, c.Seek(30*time.Second))

	assert.Equal(t, Paused, c.State())
	assert.Equal(t, 30*time.Second, c.CurrentPosition())
	assert.Equal(t, 30*time.Second, drum.Position())
	assert.Equal(t, 30*time.Second, vocal.Position())

	sink.take()
	require.NoError(t, c.Play())
	require.Eventually(t, func() bool { return sink.frameCount() > 0 }, time.Second, time.Millisecond)
	require.NoError(t, c.Pause())

	pos := c.CurrentPosition()
	assert.Greater(t, pos, 30*time.Second)
	assert.Equal(t, pos, drum.Position())
	assert.Equal(t, pos, vocal.Position())
}

func TestSeekClampsAndPadsShortStems(t *testing.T) {
	long, short := newFake(0.1, time.Minute), newFake(0.2, 30*time.Second)
	ff := &fakeFolder{decoders: map[string]*fakeDecoder{"a.flac": long, "b.flac": short}}
	c, _ := newTestController(t, ff, idle)
	_, err := c.Load("/music/uneven")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, c.TotalDuration())

	tests := []struct {
		seek, want, wantShort time.Duration
	}{
		{45 * time.Second, 45 * time.Second, 30 * time.Second},
		{10 * time.Second, 10 * time.Second, 10 * time.Second},
		{-time.Second, 0, 0},
		{2 * time.Minute, time.Minute, 30 * time.Second},
	}
	for _, tt := range tests {
		require.NoError(t, c.Seek(tt.seek))
		assert.Equal(t, tt.want, c.CurrentPosition(), "seek %s", tt.seek)
		assert.Equal(t, tt.want, long.Position(), "seek %s", tt.seek)
		assert.Equal(t, tt.wantShort, short.Position(), "seek %s", tt.seek)
	}
}

func TestSeekFailureRollsBack(t *testing.T) {
	ff, drum, vocal := songFolder(0.1, 0.2, time.Minute)
	c, _ := newTestController(t, ff, idle)
	_, err := c.Load("/music/song1")
	require.NoError(t, err)
	require.NoError(t, c.Seek(10*time.Second))

	ioErr := errors.New("read error")
	vocal.setSeekErr(ioErr)
	err = c.Seek(20 * time.Second)
	assert.ErrorIs(t, err, ioErr)

	assert.Equal(t, 10*time.Second, c.CurrentPosition())
	assert.Equal(t, 10*time.Second, drum.Position())
	assert.Equal(t, 10*time.Second, vocal.Position())
	assert.Equal(t, Loaded, c.State())
}

func TestRestartFromAnyState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *Controller) error
	}{
		{"loaded", func(c *Controller) error { return nil }},
		{"playing", func(c *Controller) error { return c.Play() }},
		{"paused", func(c *Controller) error {
			if err := c.Play(); err != nil {
				return err
			}
			return c.Pause()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ff, drum, vocal := songFolder(0.1, 0.2, time.Minute)
			c, _ := newTestController(t, ff, idle)
			_, err := c.Load("/music/song1")
			require.NoError(t, err)
			require.NoError(t, c.Seek(12*time.Second))
			require.NoError(t, tt.setup(c))

			require.NoError(t, c.Restart())
			assert.True(t, c.IsPlaying())
			assert.Equal(t, time.Duration(0), c.CurrentPosition())
			assert.Equal(t, time.Duration(0), drum.Position())
			assert.Equal(t, time.Duration(0), vocal.Position())
		})
	}
}

func TestDeviceErrorLeavesStateUnchanged(t *testing.T) {
	ff, drum, _ := songFolder(0.1, 0.2, time.Minute)
	c, sink := newTestController(t, ff, idle)
	_, err := c.Load("/music/song1")
	require.NoError(t, err)

	busy := errors.New("device busy")
	sink.setOpenErr(busy)

	err = c.Play()
	var de *DeviceError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "open", de.Op)
	assert.ErrorIs(t, err, busy)
	assert.Equal(t, Loaded, c.State())
	assert.False(t, c.IsPlaying())

	sink.setOpenErr(nil)
	require.NoError(t, c.Play())
	require.NoError(t, c.Seek(5*time.Second))
	require.NoError(t, c.Pause())

	sink.setOpenErr(busy)
	assert.True(t, errors.As(c.Restart(), &de))
	assert.Equal(t, Paused, c.State())
	assert.Equal(t, 5*time.Second, drum.Position())
}

func TestEndOfStemsPauses(t *testing.T) {
	long, short := newFake(0.1, 100*time.Millisecond), newFake(0.2, 50*time.Millisecond)
	ff := &fakeFolder{decoders: map[string]*fakeDecoder{"a.flac": long, "b.flac": short}}
	c, sink := newTestController(t, ff, time.Millisecond)
	_, err := c.Load("/music/short")
	require.NoError(t, err)

	require.NoError(t, c.Play())
	require.Eventually(t, func() bool { return c.State() == Paused }, 2*time.Second, time.Millisecond)
	assert.Equal(t, c.TotalDuration(), c.CurrentPosition())
	assert.Len(t, sink.take(), audio.Format.SampleRate.N(100*time.Millisecond))
	assert.Empty(t, c.Status().LastError)

	require.NoError(t, c.Restart())
	assert.Equal(t, time.Duration(0), long.Position())
	require.Eventually(t, func() bool { return c.State() == Paused }, 2*time.Second, time.Millisecond)
}

func TestWriteErrorPauses(t *testing.T) {
	ff, _, _ := songFolder(0.1, 0.2, time.Minute)
	c, sink := newTestController(t, ff, time.Millisecond)
	sink.writeErr = errors.New("broken pipe")
	_, err := c.Load("/music/song1")
	require.NoError(t, err)

	require.NoError(t, c.Play())
	require.Eventually(t, func() bool { return c.State() == Paused }, time.Second, time.Millisecond)
	assert.Contains(t, c.Status().LastError, "broken pipe")
}

func TestStatus(t *testing.T) {
	ff, _, _ := songFolder(0.1, 0.2, time.Minute)
	c, _ := newTestController(t, ff, idle)

	st := c.Status()
	assert.Equal(t, Idle, st.State)
	assert.Empty(t, st.Stems)

	_, err := c.Load("/music/song1")
	require.NoError(t, err)
	require.NoError(t, c.Seek(90*time.Second))

	st = c.Status()
	assert.Equal(t, Loaded, st.State)
	assert.Equal(t, "/music/song1", st.Folder)
	assert.Equal(t, time.Minute, st.Position)
	assert.Equal(t, time.Minute, st.Duration)
	assert.Len(t, st.Stems, 2)
}

func TestLoadDecodesRealFiles(t *testing.T) {
	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "bass.wav"), 22050, 0.25, 400*time.Millisecond)
	writeTone(t, filepath.Join(dir, "drums.wav"), 44100, 0.25, 200*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("take 3"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keys.wav"), []byte("RIFF junk"), 0644))

	c := NewController(&recordingSink{}, Options{Extensions: []string{".wav"}, Interval: idle})
	t.Cleanup(func() { c.Close() })

	res, err := c.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, res.StemCount)
	assert.Equal(t, 400*time.Millisecond, c.TotalDuration())
	require.Len(t, res.Skipped, 2)

	require.NoError(t, c.Seek(300*time.Millisecond))
	assert.Equal(t, 300*time.Millisecond, c.CurrentPosition())
}

// seekFailer wraps a real decoder and fails Seek once err is set.
type seekFailer struct {
	audio.StemDecoder
	err error
}

func (s *seekFailer) Seek(d time.Duration) error {
	if s.err != nil {
		return s.err
	}
	return s.StemDecoder.Seek(d)
}

func TestSeekFailureKeepsResampledStemInSync(t *testing.T) {
	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "bass.wav"), 22050, 0.25, 10*time.Second)
	writeTone(t, filepath.Join(dir, "drums.wav"), 44100, 0.25, 10*time.Second)

	opened := map[string]*seekFailer{}
	open := func(path string) (audio.StemDecoder, error) {
		dec, err := audio.OpenFile(path, 4)
		if err != nil {
			return nil, err
		}
		sf := &seekFailer{StemDecoder: dec}
		opened[filepath.Base(path)] = sf
		return sf, nil
	}
	c := NewController(&recordingSink{}, Options{
		Extensions: []string{".wav"},
		Interval:   time.Millisecond,
		Open:       open,
	})
	t.Cleanup(func() { c.Close() })

	_, err := c.Load(dir)
	require.NoError(t, err)
	require.NoError(t, c.Seek(time.Second))
	require.NoError(t, c.Play())
	require.Eventually(t, func() bool {
		return c.CurrentPosition() >= time.Second+60*time.Millisecond
	}, time.Second, time.Millisecond)
	require.NoError(t, c.Pause())

	pos := c.CurrentPosition()
	assert.Equal(t, pos, opened["bass.wav"].Position())
	assert.Equal(t, pos, opened["drums.wav"].Position())

	ioErr := errors.New("read error")
	opened["drums.wav"].err = ioErr
	assert.ErrorIs(t, c.Seek(1500*time.Millisecond), ioErr)

	assert.Equal(t, pos, c.CurrentPosition())
	assert.Equal(t, pos, opened["bass.wav"].Position())
	assert.Equal(t, pos, opened["drums.wav"].Position())
}

func TestSeekPastRangeLandsAtEnd(t *testing.T) {
	ff, drum, vocal := songFolder(0.1, 0.2, time.Minute)
	c, _ := newTestController(t, ff, idle)
	_, err := c.Load("/music/song1")
	require.NoError(t, err)

	require.NoError(t, c.Seek(Seconds(1e12)))
	assert.Equal(t, time.Minute, c.CurrentPosition())
	assert.Equal(t, time.Minute, drum.Position())
	assert.Equal(t, time.Minute, vocal.Position())
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want time.Duration
	}{
		{0, 0},
		{1.5, 1500 * time.Millisecond},
		{-2, -2 * time.Second},
		{1e12, math.MaxInt64},
		{math.Inf(1), math.MaxInt64},
		{-1e12, math.MinInt64},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Seconds(tt.in), "Seconds(%v)", tt.in)
	}
}

func writeTone(t *testing.T, path string, rate beep.SampleRate, value float64, d time.Duration) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tone := beep.Take(rate.N(d), beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{value, value}
		}
		return len(samples), true
	}))
	format := beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}
	require.NoError(t, wav.Encode(f, tone, format))
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{59 * time.Second, "00:59"},
		{61500 * time.Millisecond, "01:01"},
		{75 * time.Minute, "75:00"},
		{-time.Second, "00:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatClock(tt.in))
	}
}
