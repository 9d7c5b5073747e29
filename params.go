package gigecapture

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/convert"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/pixfmt"
)

// ImageMode selects how many frames one acquisition produces.
type ImageMode int

const (
	ImageModeSingle ImageMode = iota
	ImageModeMultiple
	ImageModeContinuous
)

func (m ImageMode) String() string {
	switch m {
	case ImageModeSingle:
		return "single"
	case ImageModeMultiple:
		return "multiple"
	case ImageModeContinuous:
		return "continuous"
	default:
		return "unknown"
	}
}

// ParseImageMode accepts "single", "multiple" and "continuous".
func ParseImageMode(s string) (ImageMode, error) {
	switch strings.ToLower(s) {
	case "single":
		return ImageModeSingle, nil
	case "multiple", "multi":
		return ImageModeMultiple, nil
	case "", "continuous":
		return ImageModeContinuous, nil
	}
	return ImageModeContinuous, fmt.Errorf("%w: image mode %q", ErrInvalidParam, s)
}

func (m ImageMode) deviceMode() device.AcquisitionMode {
	switch m {
	case ImageModeSingle:
		return device.ModeSingleFrame
	case ImageModeMultiple:
		return device.ModeMultiFrame
	default:
		return device.ModeContinuous
	}
}

// Params are the operator-adjustable settings of the driver.
type Params struct {
	// Stream settings; applied at the next stream (re)creation
	FrameRetention time.Duration
	PacketResend   bool
	PacketTimeout  time.Duration

	// PixelFormatAlign places unpacked 12-bit samples in the 16-bit word
	PixelFormatAlign convert.Align
	ShiftDir         convert.ShiftDirection
	ShiftBits        uint

	ImageMode ImageMode
	NumImages int
	// ArrayCallbacks enables delivery to the consumer
	ArrayCallbacks bool
	// AcquirePeriod is used for the time-remaining estimate
	AcquirePeriod time.Duration

	BinX int
	BinY int
}

// DefaultParams returns the settings used when nothing is configured.
func DefaultParams() Params {
	stream := device.DefaultStreamConfig()
	return Params{
		FrameRetention:   stream.FrameRetention,
		PacketResend:     stream.PacketResend,
		PacketTimeout:    stream.PacketTimeout,
		PixelFormatAlign: convert.AlignLow,
		ShiftDir:         convert.ShiftNone,
		ShiftBits:        convert.DefaultShiftBits,
		ImageMode:        ImageModeContinuous,
		NumImages:        100,
		ArrayCallbacks:   true,
		BinX:             1,
		BinY:             1,
	}
}

// Validate checks value ranges.
func (p Params) Validate() error {
	if p.FrameRetention < 0 || p.PacketTimeout < 0 || p.AcquirePeriod < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidParam)
	}
	if p.ShiftBits > 15 {
		return fmt.Errorf("%w: shift bits %d (must be 0-15)", ErrInvalidParam, p.ShiftBits)
	}
	if p.NumImages < 1 {
		return fmt.Errorf("%w: num images %d (must be >= 1)", ErrInvalidParam, p.NumImages)
	}
	if p.BinX < 1 || p.BinY < 1 {
		return fmt.Errorf("%w: binning %dx%d", ErrInvalidParam, p.BinX, p.BinY)
	}
	if p.ImageMode < ImageModeSingle || p.ImageMode > ImageModeContinuous {
		return fmt.Errorf("%w: image mode %d", ErrInvalidParam, p.ImageMode)
	}
	if p.PixelFormatAlign != convert.AlignLow && p.PixelFormatAlign != convert.AlignHigh {
		return fmt.Errorf("%w: alignment %d", ErrInvalidParam, p.PixelFormatAlign)
	}
	if p.ShiftDir < convert.ShiftNone || p.ShiftDir > convert.ShiftRight {
		return fmt.Errorf("%w: shift direction %d", ErrInvalidParam, p.ShiftDir)
	}
	return nil
}

func (p Params) streamConfig() device.StreamConfig {
	return device.StreamConfig{
		PacketResend:   p.PacketResend,
		PacketTimeout:  p.PacketTimeout,
		FrameRetention: p.FrameRetention,
	}
}

// Param names an integer parameter for generic get/set access.
type Param int

const (
	ParamFrameRetention     Param = iota // microseconds
	ParamPacketResend                    // 0/1
	ParamPacketTimeout                   // microseconds
	ParamConvertPixelFormat              // 0 low, 1 high
	ParamShiftDir                        // 0 none, 1 left, 2 right
	ParamShiftBits
	ParamImageMode // 0 single, 1 multiple, 2 continuous
	ParamNumImages
	ParamArrayCallbacks // 0/1
	ParamAcquirePeriod  // milliseconds
	ParamBinX
	ParamBinY
)

var paramNames = map[Param]string{
	ParamFrameRetention:     "frame_retention_us",
	ParamPacketResend:       "packet_resend",
	ParamPacketTimeout:      "packet_timeout_us",
	ParamConvertPixelFormat: "convert_pixel_format",
	ParamShiftDir:           "shift_dir",
	ParamShiftBits:          "shift_bits",
	ParamImageMode:          "image_mode",
	ParamNumImages:          "num_images",
	ParamArrayCallbacks:     "array_callbacks",
	ParamAcquirePeriod:      "acquire_period_ms",
	ParamBinX:               "bin_x",
	ParamBinY:               "bin_y",
}

func (p Param) String() string {
	if n, ok := paramNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Param(%d)", int(p))
}

// ParseParam looks a parameter up by name.
func ParseParam(name string) (Param, error) {
	for p, n := range paramNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown parameter %q", ErrInvalidParam, name)
}

// ParamNames returns every parameter name, sorted.
func ParamNames() []string {
	out := make([]string, 0, len(paramNames))
	for _, n := range paramNames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// get reads p from params.
func (p Param) get(params Params) (int64, error) {
	switch p {
	case ParamFrameRetention:
		return params.FrameRetention.Microseconds(), nil
	case ParamPacketResend:
		return boolInt(params.PacketResend), nil
	case ParamPacketTimeout:
		return params.PacketTimeout.Microseconds(), nil
	case ParamConvertPixelFormat:
		return int64(params.PixelFormatAlign), nil
	case ParamShiftDir:
		return int64(params.ShiftDir), nil
	case ParamShiftBits:
		return int64(params.ShiftBits), nil
	case ParamImageMode:
		return int64(params.ImageMode), nil
	case ParamNumImages:
		return int64(params.NumImages), nil
	case ParamArrayCallbacks:
		return boolInt(params.ArrayCallbacks), nil
	case ParamAcquirePeriod:
		return params.AcquirePeriod.Milliseconds(), nil
	case ParamBinX:
		return int64(params.BinX), nil
	case ParamBinY:
		return int64(params.BinY), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidParam, p)
}

// set writes v into a copy of params and validates the result.
func (p Param) set(params Params, v int64) (Params, error) {
	switch p {
	case ParamFrameRetention:
		params.FrameRetention = time.Duration(v) * time.Microsecond
	case ParamPacketResend:
		params.PacketResend = v != 0
	case ParamPacketTimeout:
		params.PacketTimeout = time.Duration(v) * time.Microsecond
	case ParamConvertPixelFormat:
		params.PixelFormatAlign = convert.Align(v)
	case ParamShiftDir:
		params.ShiftDir = convert.ShiftDirection(v)
	case ParamShiftBits:
		if v < 0 {
			return params, fmt.Errorf("%w: shift bits %d", ErrInvalidParam, v)
		}
		params.ShiftBits = uint(v)
	case ParamImageMode:
		params.ImageMode = ImageMode(v)
	case ParamNumImages:
		params.NumImages = int(v)
	case ParamArrayCallbacks:
		params.ArrayCallbacks = v != 0
	case ParamAcquirePeriod:
		params.AcquirePeriod = time.Duration(v) * time.Millisecond
	case ParamBinX:
		params.BinX = int(v)
	case ParamBinY:
		params.BinY = int(v)
	default:
		return params, fmt.Errorf("%w: %s", ErrInvalidParam, p)
	}
	return params, params.Validate()
}

func (p Param) affectsStream() bool {
	return p == ParamFrameRetention || p == ParamPacketResend || p == ParamPacketTimeout
}

// OutputFormat is the image layout requested from the camera.
type OutputFormat struct {
	ColorMode ColorMode
	DataType  DataType
	Bayer     BayerPattern
}

func supportedFormats(fs device.FeatureSet) []device.PixelFormat {
	values, ok := fs.EnumValues(device.FeaturePixelFormat)
	if !ok {
		return nil
	}
	out := make([]device.PixelFormat, len(values))
	for i, v := range values {
		out[i] = device.PixelFormat(v)
	}
	return out
}

func resolveOutputFormat(fs device.FeatureSet, want OutputFormat) (device.PixelFormat, error) {
	return pixfmt.ReverseResolve(want.ColorMode, want.DataType, want.Bayer, supportedFormats(fs))
}

// ParseOutputFormat builds an OutputFormat from attribute names as printed by
// their String methods ("Mono", "UInt16", "RGGB"). Matching ignores case and
// an empty bayer means BayerNone.
func ParseOutputFormat(colorMode, dataType, bayer string) (OutputFormat, error) {
	var out OutputFormat
	var ok bool
	if out.ColorMode, ok = parseEnum(colorMode, ColorMono, ColorBayer, ColorRGB1); !ok {
		return OutputFormat{}, fmt.Errorf("%w: unknown color mode %q", ErrInvalidParam, colorMode)
	}
	if out.DataType, ok = parseEnum(dataType, UInt8, UInt16); !ok {
		return OutputFormat{}, fmt.Errorf("%w: unknown data type %q", ErrInvalidParam, dataType)
	}
	if bayer == "" {
		return out, nil
	}
	if out.Bayer, ok = parseEnum(bayer, BayerNone, BayerRGGB, BayerGBRG, BayerGRBG, BayerBGGR); !ok {
		return OutputFormat{}, fmt.Errorf("%w: unknown bayer pattern %q", ErrInvalidParam, bayer)
	}
	return out, nil
}

func parseEnum[T fmt.Stringer](s string, values ...T) (T, bool) {
	for _, v := range values {
		if strings.EqualFold(v.String(), s) {
			return v, true
		}
	}
	var zero T
	return zero, false
}
