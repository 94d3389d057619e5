package malgo

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// DecodeSamples converts raw interleaved samples in the device capture
// format to normalized float32. Trailing bytes that do not form a complete
// sample are ignored.
func DecodeSamples(raw []byte, format malgo.FormatType, dst []float32) ([]float32, error) {
	bytesPerSample, _ := FormatInfo(format)
	if bytesPerSample == 0 {
		return nil, fmt.Errorf("unsupported capture format: %v", format)
	}

	n := len(raw) / bytesPerSample
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]

	for i := range n {
		src := raw[i*bytesPerSample:]
		switch format {
		case malgo.FormatU8:
			dst[i] = float32(int(src[0])-128) / 127
		case malgo.FormatS16:
			dst[i] = float32(int16(binary.LittleEndian.Uint16(src))) / math.MaxInt16
		case malgo.FormatS24:
			v := int32(src[0]) | int32(src[1])<<8 | int32(src[2])<<16
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
			dst[i] = float32(v) / 0x7FFFFF
		case malgo.FormatS32:
			dst[i] = float32(float64(int32(binary.LittleEndian.Uint32(src))) / math.MaxInt32)
		case malgo.FormatF32:
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src))
		}
	}
	return dst, nil
}

// FormatInfo returns the sample width and a display name for a malgo format.
func FormatInfo(format malgo.FormatType) (bytesPerSample int, name string) {
	switch format {
	case malgo.FormatU8:
		return 1, "U8"
	case malgo.FormatS16:
		return 2, "S16"
	case malgo.FormatS24:
		return 3, "S24"
	case malgo.FormatS32:
		return 4, "S32"
	case malgo.FormatF32:
		return 4, "F32"
	default:
		return 0, "Unknown"
	}
}
