package convert

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

func samples16(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return out
}

func random12(n int, seed int64) []uint16 {
	r := rand.New(rand.NewSource(seed))
	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(r.Intn(4096))
	}
	return out
}

func TestUnpack_KnownBytes(t *testing.T) {
	// 0xABC and 0x123
	tests := []struct {
		name string
		fmt  device.PixelFormat
		src  []byte
	}{
		{"Mono12Packed", device.PixelFormatMono12Packed, []byte{0xAB, 0x3C, 0x12}},
		{"Mono12p", device.PixelFormatMono12p, []byte{0xBC, 0x3A, 0x12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]byte, 4)
			n, err := Convert(tt.fmt, 2, 1, tt.src, dst, AlignLow)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
			assert.Equal(t, []uint16{0xABC, 0x123}, samples16(dst))

			n, err = Convert(tt.fmt, 2, 1, tt.src, dst, AlignHigh)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
			assert.Equal(t, []uint16{0xABC0, 0x1230}, samples16(dst))
		})
	}
}

// Packing then unpacking must reproduce every 12-bit value, for both formats
// and both alignments.
func TestRoundTrip(t *testing.T) {
	formats := []device.PixelFormat{device.PixelFormatMono12p, device.PixelFormatMono12Packed}
	sizes := []struct{ w, h int }{{8, 4}, {7, 3}, {1, 1}, {640, 2}}

	for _, f := range formats {
		for _, sz := range sizes {
			want := random12(sz.w*sz.h, int64(sz.w*1000+sz.h))
			packed, err := Pack(f, want)
			require.NoError(t, err)
			require.Len(t, packed, PackedSize(len(want)))

			dst := make([]byte, UnpackedSize(len(want)))

			_, err = Convert(f, sz.w, sz.h, packed, dst, AlignLow)
			require.NoError(t, err)
			assert.Equal(t, want, samples16(dst), "%s %dx%d low", f, sz.w, sz.h)

			_, err = Convert(f, sz.w, sz.h, packed, dst, AlignHigh)
			require.NoError(t, err)
			got := samples16(dst)
			for i := range want {
				if got[i] != want[i]<<4 {
					t.Fatalf("%s %dx%d high: sample %d = 0x%04x, want 0x%04x", f, sz.w, sz.h, i, got[i], want[i]<<4)
				}
			}
		}
	}
}

func TestConvert_Errors(t *testing.T) {
	t.Run("not packed", func(t *testing.T) {
		_, err := Convert(device.PixelFormatMono16, 2, 2, make([]byte, 8), make([]byte, 8), AlignLow)
		assert.ErrorIs(t, err, ErrNotPacked)
	})

	t.Run("short source", func(t *testing.T) {
		_, err := Convert(device.PixelFormatMono12p, 4, 4, make([]byte, 23), make([]byte, 32), AlignLow)
		assert.ErrorIs(t, err, ErrShortBuffer)
	})

	t.Run("short destination", func(t *testing.T) {
		_, err := Convert(device.PixelFormatMono12Packed, 4, 4, make([]byte, 24), make([]byte, 31), AlignLow)
		assert.ErrorIs(t, err, ErrShortBuffer)
	})
}

func TestNeedsConversion(t *testing.T) {
	assert.True(t, NeedsConversion(device.PixelFormatMono12p))
	assert.True(t, NeedsConversion(device.PixelFormatMono12Packed))
	assert.False(t, NeedsConversion(device.PixelFormatMono12))
	assert.False(t, NeedsConversion(device.PixelFormatMono8))
}

func TestPackedSize(t *testing.T) {
	assert.Equal(t, 0, PackedSize(0))
	assert.Equal(t, 2, PackedSize(1))
	assert.Equal(t, 3, PackedSize(2))
	assert.Equal(t, 5, PackedSize(3))
	assert.Equal(t, 640*480*3/2, PackedSize(640*480))
}

// Left then right by k restores values whose top k bits are clear.
func TestShift_SelfInverse(t *testing.T) {
	for bits := uint(1); bits <= 8; bits++ {
		limit := uint16(1) << (16 - bits)
		values := []uint16{0, 1, limit / 2, limit - 1}

		data := make([]byte, len(values)*2)
		for i, v := range values {
			binary.LittleEndian.PutUint16(data[i*2:], v)
		}

		Shift(data, ShiftLeft, bits)
		Shift(data, ShiftRight, bits)

		assert.Equal(t, values, samples16(data), "bits=%d", bits)
	}
}

func TestShift(t *testing.T) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data[0:], 0x0FFF)
	binary.LittleEndian.PutUint16(data[2:], 0xF001)

	t.Run("none is a no-op", func(t *testing.T) {
		d := append([]byte(nil), data...)
		Shift(d, ShiftNone, 4)
		assert.Equal(t, data, d)
	})

	t.Run("left truncates", func(t *testing.T) {
		d := append([]byte(nil), data...)
		Shift(d, ShiftLeft, 4)
		assert.Equal(t, []uint16{0xFFF0, 0x0010}, samples16(d))
	})

	t.Run("right fills zeros", func(t *testing.T) {
		d := append([]byte(nil), data...)
		Shift(d, ShiftRight, 4)
		assert.Equal(t, []uint16{0x00FF, 0x0F00}, samples16(d))
	})
}

func TestParse(t *testing.T) {
	dir, err := ParseShiftDirection("Left")
	require.NoError(t, err)
	assert.Equal(t, ShiftLeft, dir)

	_, err = ParseShiftDirection("up")
	assert.Error(t, err)

	align, err := ParseAlign("mono16high")
	require.NoError(t, err)
	assert.Equal(t, AlignHigh, align)
}
