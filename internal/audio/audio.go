package audio

import (
	"time"

	"github.com/gopxl/beep/v2"
)

const (
	SampleRate     = 44100
	Channels       = 2
	BufferDuration = 20 * time.Millisecond
	BufferFrames   = 882                     // frames per 20ms rendering buffer
	BufferSamples  = BufferFrames * Channels // interleaved samples per buffer
	BufferBytes    = BufferSamples * 4       // bytes per buffer (float32 = 4 bytes)
)

// Format is the shared output format every stem is converted to:
// 44.1kHz, stereo, 32-bit float.
var Format = beep.Format{
	SampleRate:  SampleRate,
	NumChannels: Channels,
	Precision:   4,
}

// Block is one rendering buffer handed to output sinks. It is a value type
// so sinks can queue it on a channel without allocating on the render path.
type Block struct {
	Frames  int
	Samples [BufferSamples]float32
}

// Fill copies interleaved frames into the block, up to BufferFrames.
func (b *Block) Fill(frames [][2]float64) {
	n := len(frames)
	if n > BufferFrames {
		n = BufferFrames
	}
	for i := 0; i < n; i++ {
		b.Samples[2*i] = float32(frames[i][0])
		b.Samples[2*i+1] = float32(frames[i][1])
	}
	b.Frames = n
}

// Interleaved returns the populated part of the block.
func (b *Block) Interleaved() []float32 {
	return b.Samples[:b.Frames*Channels]
}
