package fakecam

import (
	"encoding/binary"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/convert"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/pixfmt"
)

// payloadSize is the wire size of one frame.
func payloadSize(pf device.PixelFormat, width, height int) int {
	if convert.NeedsConversion(pf) {
		return convert.PackedSize(width * height)
	}
	m, err := pixfmt.Resolve(pf)
	if err != nil {
		return width * height
	}
	return pixfmt.ExpectedSize(m, width, height)
}

// PatternValue is the sample at (x, y, channel) of frame seq, before any
// packing. 16-bit formats use 12 significant bits.
func PatternValue(x, y, ch int, seq uint64, bits uint) uint16 {
	v := uint64(x+y*3+ch*7) + seq
	return uint16(v & (1<<bits - 1))
}

// Pattern renders a diagonal ramp in format pf. Formats outside the table get
// a byte ramp of width*height bytes.
func Pattern(pf device.PixelFormat, width, height int, seq uint64) []byte {
	if convert.NeedsConversion(pf) {
		samples := make([]uint16, width*height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				samples[y*width+x] = PatternValue(x, y, 0, seq, 12)
			}
		}
		out, _ := convert.Pack(pf, samples)
		return out
	}

	m, err := pixfmt.Resolve(pf)
	if err != nil {
		out := make([]byte, width*height)
		for i := range out {
			out[i] = byte(i)
		}
		return out
	}

	spp := pixfmt.SamplesPerPixel(m.ColorMode)
	out := make([]byte, pixfmt.ExpectedSize(m, width, height))
	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for ch := 0; ch < spp; ch++ {
				if m.DataType == pixfmt.UInt16 {
					binary.LittleEndian.PutUint16(out[i:], PatternValue(x, y, ch, seq, 12))
					i += 2
				} else {
					out[i] = byte(PatternValue(x, y, ch, seq, 8))
					i++
				}
			}
		}
	}
	return out
}
