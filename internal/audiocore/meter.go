package audiocore

import (
	"math"

	"github.com/go-audio/audio"
)

// Levels is a meter reading. Both values are on the normalized [0,1] scale
// for integer input and in-range float input.
type Levels struct {
	RMS  float64
	Peak float64
}

// Measure computes RMS and peak over every sample of buf regardless of
// channel. Integer buffers are normalized by the maximum positive value of
// their bit depth first and clamped to full scale. Empty input yields zero levels.
func Measure(buf audio.Buffer) Levels {
	switch b := buf.(type) {
	case *audio.Float32Buffer:
		return measureFloat32(b.Data)
	case *audio.IntBuffer:
		return measureInt(b.Data, intFullScale(b.SourceBitDepth))
	case *audio.FloatBuffer:
		return measureFloat64(b.Data)
	case nil:
		return Levels{}
	default:
		return measureFloat32(buf.AsFloat32Buffer().Data)
	}
}

func measureFloat32(data []float32) Levels {
	if len(data) == 0 {
		return Levels{}
	}
	var sum, peak float64
	for _, s := range data {
		v := float64(s)
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return Levels{RMS: math.Sqrt(sum / float64(len(data))), Peak: peak}
}

func measureFloat64(data []float64) Levels {
	if len(data) == 0 {
		return Levels{}
	}
	var sum, peak float64
	for _, v := range data {
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return Levels{RMS: math.Sqrt(sum / float64(len(data))), Peak: peak}
}

func measureInt(data []int, scale float64) Levels {
	if len(data) == 0 {
		return Levels{}
	}
	var sum, peak float64
	for _, s := range data {
		v := normalizeInt(s, scale)
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return Levels{RMS: math.Sqrt(sum / float64(len(data))), Peak: peak}
}
