// Package pixfmt maps camera wire pixel formats to the image attributes the
// rest of the pipeline works with (color mode, data type, Bayer pattern).
//
// The table is an explicit association list. A wire format that is not in the
// table is an error; there is no default mapping.
package pixfmt

import (
	"errors"
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

// ErrUnsupportedFormat is returned for wire formats outside the table, and for
// attribute combinations that no advertised wire format can produce.
var ErrUnsupportedFormat = errors.New("unsupported pixel format")

// ColorMode describes the sample layout of an image
type ColorMode int

const (
	ColorMono ColorMode = iota
	ColorBayer
	// ColorRGB1 is pixel-interleaved RGB
	ColorRGB1
)

func (c ColorMode) String() string {
	switch c {
	case ColorMono:
		return "Mono"
	case ColorBayer:
		return "Bayer"
	case ColorRGB1:
		return "RGB1"
	default:
		return "Unknown"
	}
}

// DataType is the per-sample storage type
type DataType int

const (
	UInt8 DataType = iota
	UInt16
)

func (d DataType) String() string {
	switch d {
	case UInt8:
		return "UInt8"
	case UInt16:
		return "UInt16"
	default:
		return "Unknown"
	}
}

// BayerPattern is the color filter arrangement of Bayer images. BayerNone is
// used for every non-Bayer format.
type BayerPattern int

const (
	BayerNone BayerPattern = iota
	BayerRGGB
	BayerGBRG
	BayerGRBG
	BayerBGGR
)

func (b BayerPattern) String() string {
	switch b {
	case BayerNone:
		return "None"
	case BayerRGGB:
		return "RGGB"
	case BayerGBRG:
		return "GBRG"
	case BayerGRBG:
		return "GRBG"
	case BayerBGGR:
		return "BGGR"
	default:
		return "Unknown"
	}
}

// Mapping is one row of the pixel format table.
type Mapping struct {
	Wire      device.PixelFormat
	ColorMode ColorMode
	DataType  DataType
	Bayer     BayerPattern
}

// table is searched in order by ReverseResolve, so for a given attribute
// triple the preferred wire format comes first.
var table = []Mapping{
	{device.PixelFormatMono8, ColorMono, UInt8, BayerNone},
	{device.PixelFormatRGB8Packed, ColorRGB1, UInt8, BayerNone},
	{device.PixelFormatBayerGR8, ColorBayer, UInt8, BayerGRBG},
	{device.PixelFormatBayerRG8, ColorBayer, UInt8, BayerRGGB},
	{device.PixelFormatBayerGB8, ColorBayer, UInt8, BayerGBRG},
	{device.PixelFormatBayerBG8, ColorBayer, UInt8, BayerBGGR},

	{device.PixelFormatMono16, ColorMono, UInt16, BayerNone},
	{device.PixelFormatMono12, ColorMono, UInt16, BayerNone},
	{device.PixelFormatMono12p, ColorMono, UInt16, BayerNone},
	{device.PixelFormatMono12Packed, ColorMono, UInt16, BayerNone},
	{device.PixelFormatMono10, ColorMono, UInt16, BayerNone},
	{device.PixelFormatRGB12Packed, ColorRGB1, UInt16, BayerNone},
	{device.PixelFormatRGB10Packed, ColorRGB1, UInt16, BayerNone},
	{device.PixelFormatBayerGR12, ColorBayer, UInt16, BayerGRBG},
	{device.PixelFormatBayerRG12, ColorBayer, UInt16, BayerRGGB},
	{device.PixelFormatBayerGB12, ColorBayer, UInt16, BayerGBRG},
	{device.PixelFormatBayerBG12, ColorBayer, UInt16, BayerBGGR},
}

// Table returns a copy of the mapping table in search order.
func Table() []Mapping {
	out := make([]Mapping, len(table))
	copy(out, table)
	return out
}

// Resolve maps a wire format to its image attributes.
func Resolve(wire device.PixelFormat) (Mapping, error) {
	for _, m := range table {
		if m.Wire == wire {
			return m, nil
		}
	}
	return Mapping{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, wire)
}

// ReverseResolve finds the wire format producing the requested attributes.
//
// The first table row matching (cm, dt, bayer) whose wire format is also in
// supported is returned. A nil supported list means the camera exposes no
// pixel format enumeration; the first table match is then accepted as is.
func ReverseResolve(cm ColorMode, dt DataType, bayer BayerPattern, supported []device.PixelFormat) (device.PixelFormat, error) {
	matched := false
	for _, m := range table {
		if m.ColorMode != cm || m.DataType != dt || m.Bayer != bayer {
			continue
		}
		matched = true
		if supported == nil || contains(supported, m.Wire) {
			return m.Wire, nil
		}
	}
	if matched {
		return 0, fmt.Errorf("%w: camera does not advertise a format for %s/%s/%s", ErrUnsupportedFormat, cm, dt, bayer)
	}
	return 0, fmt.Errorf("%w: no wire format for %s/%s/%s", ErrUnsupportedFormat, cm, dt, bayer)
}

func contains(list []device.PixelFormat, f device.PixelFormat) bool {
	for _, v := range list {
		if v == f {
			return true
		}
	}
	return false
}

// BytesPerSample returns the storage size of one sample.
func BytesPerSample(dt DataType) int {
	if dt == UInt16 {
		return 2
	}
	return 1
}

// SamplesPerPixel returns 3 for RGB and 1 otherwise.
func SamplesPerPixel(cm ColorMode) int {
	if cm == ColorRGB1 {
		return 3
	}
	return 1
}

// ExpectedSize is the byte size of an unpacked width x height image.
func ExpectedSize(m Mapping, width, height int) int {
	return width * height * SamplesPerPixel(m.ColorMode) * BytesPerSample(m.DataType)
}
