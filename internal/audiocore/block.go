package audiocore

import (
	"math"
	"time"

	"github.com/go-audio/audio"
)

// Block is one device callback worth of interleaved samples.
//
// Devices deliver either float samples or signed integers; the pipeline
// normalizes integer blocks to float before processing, so consumers always
// see a *audio.Float32Buffer in Buffer.
type Block struct {
	Buffer    audio.Buffer
	Timestamp time.Time
}

// NewFloatBlock wraps interleaved float32 samples.
func NewFloatBlock(data []float32, channels, sampleRate int) *Block {
	return &Block{
		Buffer: &audio.Float32Buffer{
			Data:           data,
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: 32,
		},
		Timestamp: time.Now(),
	}
}

// NewIntBlock wraps interleaved signed integer samples of the given bit depth.
func NewIntBlock(data []int, channels, sampleRate, bitDepth int) *Block {
	return &Block{
		Buffer: &audio.IntBuffer{
			Data:           data,
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: bitDepth,
		},
		Timestamp: time.Now(),
	}
}

// Float32 returns the block as float samples, converting integer data in
// place of the original buffer. Integer samples are divided by the maximum
// positive value of their bit depth and clamped to [-1,1].
func (b *Block) Float32() *audio.Float32Buffer {
	switch buf := b.Buffer.(type) {
	case *audio.Float32Buffer:
		return buf
	case *audio.IntBuffer:
		scale := intFullScale(buf.SourceBitDepth)
		out := make([]float32, len(buf.Data))
		for i, s := range buf.Data {
			out[i] = float32(normalizeInt(s, scale))
		}
		fb := &audio.Float32Buffer{Data: out, Format: buf.Format, SourceBitDepth: 32}
		b.Buffer = fb
		return fb
	default:
		fb := b.Buffer.AsFloat32Buffer()
		b.Buffer = fb
		return fb
	}
}

// Samples returns the interleaved float samples of the block.
func (b *Block) Samples() []float32 {
	return b.Float32().Data
}

// Channels returns the channel count, 1 when the format is unknown.
func (b *Block) Channels() int {
	if f := b.Buffer.PCMFormat(); f != nil && f.NumChannels > 0 {
		return f.NumChannels
	}
	return 1
}

// SampleRate returns the sample rate, 0 when the format is unknown.
func (b *Block) SampleRate() int {
	if f := b.Buffer.PCMFormat(); f != nil {
		return f.SampleRate
	}
	return 0
}

// Frames returns the number of sample frames in the block.
func (b *Block) Frames() int {
	return b.Buffer.NumFrames()
}

// Duration returns the playback length of the block.
func (b *Block) Duration() time.Duration {
	rate := b.SampleRate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(rate) * float64(time.Second))
}

// intFullScale returns the largest positive sample value for bitDepth,
// defaulting to 16-bit.
func intFullScale(bitDepth int) float64 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	return math.Pow(2, float64(bitDepth-1)) - 1
}

// normalizeInt scales s by scale and clamps to [-1,1]; the most negative
// two's complement value is one step past full scale.
func normalizeInt(s int, scale float64) float64 {
	return max(-1, min(1, float64(s)/scale))
}
