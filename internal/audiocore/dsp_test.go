package audiocore

import (
	"math"
	"testing"

	"github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatBuf(samples ...float32) *audio.Float32Buffer {
	return &audio.Float32Buffer{
		Data:   samples,
		Format: &audio.Format{NumChannels: 1, SampleRate: 48000},
	}
}

func TestMeasure(t *testing.T) {
	t.Parallel()

	t.Run("empty block", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, Levels{}, Measure(floatBuf()))
		assert.Equal(t, Levels{}, Measure(nil))
	})

	t.Run("float samples", func(t *testing.T) {
		t.Parallel()
		lv := Measure(floatBuf(0.5, -0.5, 0.5, -0.5))
		assert.InDelta(t, 0.5, lv.RMS, 1e-6)
		assert.InDelta(t, 0.5, lv.Peak, 1e-6)
	})

	t.Run("peak uses magnitude", func(t *testing.T) {
		t.Parallel()
		lv := Measure(floatBuf(0.1, -0.9, 0.2))
		assert.InDelta(t, 0.9, lv.Peak, 1e-6)
		assert.LessOrEqual(t, lv.RMS, lv.Peak)
	})

	t.Run("int16 normalized by full scale", func(t *testing.T) {
		t.Parallel()
		buf := &audio.IntBuffer{
			Data:           []int{32767, -32767},
			Format:         &audio.Format{NumChannels: 2, SampleRate: 44100},
			SourceBitDepth: 16,
		}
		lv := Measure(buf)
		assert.InDelta(t, 1.0, lv.RMS, 1e-9)
		assert.InDelta(t, 1.0, lv.Peak, 1e-9)
	})

	t.Run("most negative integer clamps to full scale", func(t *testing.T) {
		t.Parallel()
		lv := Measure(&audio.IntBuffer{
			Data:           []int{-32768, -32768},
			Format:         &audio.Format{NumChannels: 1, SampleRate: 44100},
			SourceBitDepth: 16,
		})
		assert.InDelta(t, 1.0, lv.Peak, 0)
		assert.InDelta(t, 1.0, lv.RMS, 0)

		block := NewIntBlock([]int{-8388608, 8388607}, 2, 48000, 24)
		assert.Equal(t, []float32{-1, 1}, block.Samples())
		assert.InDelta(t, 1.0, Measure(block.Buffer).Peak, 0)
	})

	t.Run("in-range input stays within unit scale", func(t *testing.T) {
		t.Parallel()
		data := make([]float32, 1024)
		for i := range data {
			data[i] = float32(math.Sin(float64(i) / 7))
		}
		lv := Measure(floatBuf(data...))
		assert.GreaterOrEqual(t, lv.RMS, 0.0)
		assert.LessOrEqual(t, lv.RMS, 1.0)
		assert.LessOrEqual(t, lv.Peak, 1.0)
	})
}

func TestApplyGain(t *testing.T) {
	t.Parallel()

	t.Run("zero dB is identity", func(t *testing.T) {
		t.Parallel()
		buf := floatBuf(0.25, -0.5, 0.75)
		ApplyGain(buf, 0)
		assert.Equal(t, []float32{0.25, -0.5, 0.75}, buf.Data)
	})

	t.Run("six dB roughly doubles", func(t *testing.T) {
		t.Parallel()
		buf := floatBuf(0.1, -0.2)
		ApplyGain(buf, 6)
		assert.InDelta(t, 0.1995, buf.Data[0], 1e-3)
		assert.InDelta(t, -0.399, buf.Data[1], 1e-3)
		assert.Greater(t, Measure(buf).RMS, Measure(floatBuf(0.1, -0.2)).RMS)
	})

	t.Run("negative gain attenuates", func(t *testing.T) {
		t.Parallel()
		buf := floatBuf(1)
		ApplyGain(buf, -20)
		assert.InDelta(t, 0.1, buf.Data[0], 1e-6)
	})

	t.Run("factor", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 1.0, GainFactor(0), 0)
		assert.InDelta(t, 10.0, GainFactor(20), 1e-12)
	})
}

func TestSoftLimiter(t *testing.T) {
	t.Parallel()

	t.Run("disabled is identity", func(t *testing.T) {
		t.Parallel()
		buf := floatBuf(3, -3, 0.5)
		NewSoftLimiter(false, 4).Apply(buf)
		assert.Equal(t, []float32{3, -3, 0.5}, buf.Data)
	})

	t.Run("bounded for any input and drive", func(t *testing.T) {
		t.Parallel()
		for _, drive := range []float64{0.1, 1, 1.5, 10, 100} {
			buf := floatBuf(-1000, -2, -1, -0.3, 0, 0.3, 1, 2, 1000)
			NewSoftLimiter(true, drive).Apply(buf)
			for _, s := range buf.Data {
				assert.LessOrEqual(t, math.Abs(float64(s)), 1.0, "drive %v", drive)
			}
		}
	})

	t.Run("odd symmetric", func(t *testing.T) {
		t.Parallel()
		buf := floatBuf(0.4, -0.4)
		NewSoftLimiter(true, 2).Apply(buf)
		assert.InDelta(t, -buf.Data[0], buf.Data[1], 1e-7)
		assert.InDelta(t, math.Tanh(0.8), buf.Data[0], 1e-6)
	})

	t.Run("non-positive drive falls back to default", func(t *testing.T) {
		t.Parallel()
		l := NewSoftLimiter(true, 0)
		require.InDelta(t, DefaultLimiterDrive, l.Drive, 0)
	})
}

func TestBlockIntConversion(t *testing.T) {
	t.Parallel()

	b := NewIntBlock([]int{16383, -16383, 0, 32767}, 2, 48000, 16)
	assert.Equal(t, 2, b.Frames())
	assert.Equal(t, 2, b.Channels())

	samples := b.Samples()
	require.Len(t, samples, 4)
	assert.InDelta(t, 0.5, samples[0], 1e-4)
	assert.InDelta(t, -0.5, samples[1], 1e-4)
	assert.InDelta(t, 1.0, samples[3], 1e-6)

	_, isFloat := b.Buffer.(*audio.Float32Buffer)
	assert.True(t, isFloat, "block is float after conversion")
}
