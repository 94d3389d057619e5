package audiocore

import (
	"math"

	"github.com/go-audio/audio"
)

// DefaultLimiterDrive is used when a limiter is enabled without a usable drive.
const DefaultLimiterDrive = 1.5

// SoftLimiter saturates samples with tanh(drive*x). The output stays within
// [-1, 1] and is odd-symmetric; larger drive gives harder saturation.
type SoftLimiter struct {
	Enabled bool
	Drive   float64
}

// NewSoftLimiter returns a limiter, replacing a non-positive drive with the default.
func NewSoftLimiter(enabled bool, drive float64) SoftLimiter {
	if drive <= 0 {
		drive = DefaultLimiterDrive
	}
	return SoftLimiter{Enabled: enabled, Drive: drive}
}

// Apply limits buf in place. A disabled limiter is the identity.
func (l SoftLimiter) Apply(buf *audio.Float32Buffer) {
	if buf == nil || !l.Enabled {
		return
	}
	drive := l.Drive
	if drive <= 0 {
		drive = DefaultLimiterDrive
	}
	for i, s := range buf.Data {
		buf.Data[i] = float32(math.Tanh(drive * float64(s)))
	}
}
