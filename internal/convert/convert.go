// Package convert unpacks 12-bit packed pixel formats into 16-bit samples and
// applies the optional uniform bit shift to 16-bit images.
//
// 16-bit output is little-endian, two bytes per sample.
package convert

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

var (
	// ErrShortBuffer is returned when src holds fewer bytes than the packed
	// image needs, or dst is too small for the unpacked image.
	ErrShortBuffer = errors.New("buffer too short")
	// ErrNotPacked is returned for formats that need no conversion.
	ErrNotPacked = errors.New("pixel format is not a packed 12-bit format")
)

// Align selects where the 12 significant bits land in the 16-bit sample.
type Align int

const (
	// AlignLow keeps the value in bits 0..11
	AlignLow Align = iota
	// AlignHigh stores value<<4, filling bits 4..15
	AlignHigh
)

func (a Align) String() string {
	if a == AlignHigh {
		return "Mono16High"
	}
	return "Mono16Low"
}

// NeedsConversion reports whether frames in format f must be unpacked.
func NeedsConversion(f device.PixelFormat) bool {
	return f == device.PixelFormatMono12p || f == device.PixelFormatMono12Packed
}

// PackedSize is the number of bytes n packed 12-bit pixels occupy. Two pixels
// share a byte triplet; an odd last pixel uses the first two bytes of one.
func PackedSize(n int) int {
	return n/2*3 + (n%2)*2
}

// UnpackedSize is the number of bytes n 16-bit samples occupy.
func UnpackedSize(n int) int {
	return n * 2
}

// Convert unpacks width*height pixels of format f from src into dst and
// returns the number of bytes written.
func Convert(f device.PixelFormat, width, height int, src, dst []byte, align Align) (int, error) {
	if !NeedsConversion(f) {
		return 0, fmt.Errorf("%w: %s", ErrNotPacked, f)
	}
	n := width * height
	if len(src) < PackedSize(n) {
		return 0, fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d", ErrShortBuffer, f, width, height, PackedSize(n), len(src))
	}
	if len(dst) < UnpackedSize(n) {
		return 0, fmt.Errorf("%w: destination needs %d bytes, got %d", ErrShortBuffer, UnpackedSize(n), len(dst))
	}

	var shift uint
	if align == AlignHigh {
		shift = 4
	}

	unpack := unpackMono12Packed
	if f == device.PixelFormatMono12p {
		unpack = unpackMono12p
	}

	pairs := n / 2
	for i := 0; i < pairs; i++ {
		b := src[i*3 : i*3+3]
		p0, p1 := unpack(b[0], b[1], b[2])
		binary.LittleEndian.PutUint16(dst[i*4:], p0<<shift)
		binary.LittleEndian.PutUint16(dst[i*4+2:], p1<<shift)
	}
	if n%2 == 1 {
		b := src[pairs*3:]
		p0, _ := unpack(b[0], b[1], 0)
		binary.LittleEndian.PutUint16(dst[pairs*4:], p0<<shift)
	}
	return UnpackedSize(n), nil
}

// unpackMono12p decodes the PFNC LSB-first bit-packed layout.
func unpackMono12p(b0, b1, b2 byte) (uint16, uint16) {
	p0 := uint16(b0) | uint16(b1&0x0F)<<8
	p1 := uint16(b1>>4) | uint16(b2)<<4
	return p0, p1
}

// unpackMono12Packed decodes the GigE Vision byte-triplet layout: the high
// eight bits of each pixel in b0 and b2, the low nibbles shared in b1.
func unpackMono12Packed(b0, b1, b2 byte) (uint16, uint16) {
	p0 := uint16(b0)<<4 | uint16(b1&0x0F)
	p1 := uint16(b2)<<4 | uint16(b1>>4)
	return p0, p1
}

// Pack encodes 12-bit samples into format f. Bits above 11 are discarded.
func Pack(f device.PixelFormat, samples []uint16) ([]byte, error) {
	if !NeedsConversion(f) {
		return nil, fmt.Errorf("%w: %s", ErrNotPacked, f)
	}
	out := make([]byte, PackedSize(len(samples)))
	for i := 0; i < len(samples); i += 2 {
		p0 := samples[i] & 0x0FFF
		var p1 uint16
		if i+1 < len(samples) {
			p1 = samples[i+1] & 0x0FFF
		}
		o := i / 2 * 3
		var b0, b1, b2 byte
		if f == device.PixelFormatMono12p {
			b0 = byte(p0)
			b1 = byte(p0>>8) | byte(p1&0x0F)<<4
			b2 = byte(p1 >> 4)
		} else {
			b0 = byte(p0 >> 4)
			b1 = byte(p0&0x0F) | byte(p1&0x0F)<<4
			b2 = byte(p1 >> 4)
		}
		out[o] = b0
		out[o+1] = b1
		if i+1 < len(samples) {
			out[o+2] = b2
		}
	}
	return out, nil
}
