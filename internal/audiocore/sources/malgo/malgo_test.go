package malgo

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/errors"
)

func TestSelectDevice(t *testing.T) {
	t.Parallel()

	devices := []audiocore.DeviceInfo{
		{Index: 0, Name: "HDA Intel PCH, ALC3246 Analog", ID: ":0,0"},
		{Index: 1, Name: "USB Audio CODEC", ID: ":1,0", IsDefault: true},
		{Index: 2, Name: "Loopback PCM", ID: ":2,0"},
	}

	tests := []struct {
		name string
		want string
		idx  int
	}{
		{"default keyword", "default", 1},
		{"sysdefault keyword", "sysdefault", 1},
		{"empty picks default", "", 1},
		{"exact name", "Loopback PCM", 2},
		{"decoded id", ":0,0", 0},
		{"name substring", "USB", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			idx, err := SelectDevice(devices, tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.idx, idx)
		})
	}

	t.Run("no match", func(t *testing.T) {
		t.Parallel()
		_, err := SelectDevice(devices, "hw:9,9")
		require.Error(t, err)
		assert.ErrorIs(t, err, audiocore.ErrNoDevice)
		assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
	})

	t.Run("default without flag uses first", func(t *testing.T) {
		t.Parallel()
		idx, err := SelectDevice(devices[:1], "default")
		require.NoError(t, err)
		assert.Equal(t, 0, idx)
	})
}

func TestDecodeSamples(t *testing.T) {
	t.Parallel()

	t.Run("f32", func(t *testing.T) {
		t.Parallel()
		raw := make([]byte, 8)
		binary.LittleEndian.PutUint32(raw, math.Float32bits(0.25))
		binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(-1))
		out, err := DecodeSamples(raw, malgo.FormatF32, nil)
		require.NoError(t, err)
		assert.Equal(t, []float32{0.25, -1}, out)
	})

	t.Run("s16 normalized", func(t *testing.T) {
		t.Parallel()
		raw := make([]byte, 6)
		binary.LittleEndian.PutUint16(raw, uint16(math.MaxInt16))
		v := int16(-math.MaxInt16)
		binary.LittleEndian.PutUint16(raw[2:], uint16(v))
		out, err := DecodeSamples(raw, malgo.FormatS16, nil)
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.InDelta(t, 1.0, out[0], 1e-6)
		assert.InDelta(t, -1.0, out[1], 1e-6)
		assert.InDelta(t, 0.0, out[2], 0)
	})

	t.Run("s24 sign extension", func(t *testing.T) {
		t.Parallel()
		raw := []byte{0x01, 0x00, 0x80, 0xFF, 0xFF, 0x7F}
		out, err := DecodeSamples(raw, malgo.FormatS24, nil)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.InDelta(t, -1.0, out[0], 1e-6)
		assert.InDelta(t, 1.0, out[1], 1e-6)
	})

	t.Run("partial trailing sample ignored", func(t *testing.T) {
		t.Parallel()
		out, err := DecodeSamples([]byte{0, 0, 0, 0, 1}, malgo.FormatF32, nil)
		require.NoError(t, err)
		assert.Len(t, out, 1)
	})

	t.Run("reuses destination", func(t *testing.T) {
		t.Parallel()
		dst := make([]float32, 0, 16)
		out, err := DecodeSamples(make([]byte, 8), malgo.FormatS16, dst)
		require.NoError(t, err)
		assert.Len(t, out, 4)
		assert.Equal(t, 16, cap(out))
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()
		_, err := DecodeSamples([]byte{1, 2}, malgo.FormatUnknown, nil)
		require.Error(t, err)
	})
}

func TestDecodeID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hw:1,0", decodeID(hex.EncodeToString([]byte("hw:1,0\x00\x00"))))
	assert.Equal(t, "not-hex", decodeID("not-hex"))
}
