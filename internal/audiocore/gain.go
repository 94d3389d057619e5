package audiocore

import (
	"math"

	"github.com/go-audio/audio"
)

// GainFactor converts a decibel gain into a linear multiplier.
func GainFactor(db float64) float64 {
	return math.Pow(10, db/20)
}

// ApplyGain scales buf in place by db decibels. 0 dB leaves the samples
// untouched.
func ApplyGain(buf *audio.Float32Buffer, db float64) {
	if buf == nil || db == 0 {
		return
	}
	factor := float32(GainFactor(db))
	for i := range buf.Data {
		buf.Data[i] *= factor
	}
}
