package audio

import (
	"github.com/gopxl/beep/v2"
)

// Mixer sums a fixed set of inputs into one stream. Inputs are set at
// construction and never change; a new set of stems gets a new Mixer.
//
// Summation is plain addition with no gain compensation, so the output can
// leave [-1, 1] once several loud stems overlap. When softLimit is set the
// sum is passed through SoftLimit instead.
//
// Inputs that run out early contribute silence until the longest input is
// exhausted; only then does Stream report ok == false. A Mixer with no
// inputs streams silence forever.
type Mixer struct {
	inputs    []beep.Streamer
	done      []bool
	scratch   [][2]float64
	softLimit bool
}

// NewMixer builds a mixer over inputs. The slice is copied.
func NewMixer(inputs []beep.Streamer, softLimit bool) *Mixer {
	m := &Mixer{
		inputs:    append([]beep.Streamer(nil), inputs...),
		done:      make([]bool, len(inputs)),
		scratch:   make([][2]float64, BufferFrames),
		softLimit: softLimit,
	}
	return m
}

// Len returns the number of inputs.
func (m *Mixer) Len() int { return len(m.inputs) }

// Reset marks every input live again. Call after seeking the inputs.
func (m *Mixer) Reset() {
	for i := range m.done {
		m.done[i] = false
	}
}

func (m *Mixer) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i] = [2]float64{}
	}
	if len(m.inputs) == 0 {
		return len(samples), true
	}

	// Grow but never shrink; the render path always asks for the same size.
	if cap(m.scratch) < len(samples) {
		m.scratch = make([][2]float64, len(samples))
	}
	tmp := m.scratch[:len(samples)]

	produced := 0
	for i, in := range m.inputs {
		if m.done[i] {
			continue
		}
		filled := 0
		for filled < len(tmp) {
			n, ok := in.Stream(tmp[filled:])
			filled += n
			if !ok {
				m.done[i] = true
				break
			}
			if n == 0 {
				break
			}
		}
		for j := 0; j < filled; j++ {
			samples[j][0] += tmp[j][0]
			samples[j][1] += tmp[j][1]
		}
		if filled > produced {
			produced = filled
		}
	}

	if produced == 0 && m.exhausted() {
		return 0, false
	}
	// Live inputs that returned short are padded with the zeros already there.
	if !m.exhausted() {
		produced = len(samples)
	}
	if m.softLimit {
		for j := 0; j < produced; j++ {
			samples[j][0] = SoftLimit(samples[j][0])
			samples[j][1] = SoftLimit(samples[j][1])
		}
	}
	return produced, true
}

func (m *Mixer) exhausted() bool {
	for _, d := range m.done {
		if !d {
			return false
		}
	}
	return true
}

// Err returns the first input error, if any.
func (m *Mixer) Err() error {
	for _, in := range m.inputs {
		if err := in.Err(); err != nil {
			return err
		}
	}
	return nil
}
