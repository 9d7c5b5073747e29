package gigecapture

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/bufpool"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/gige"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/pixfmt"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/stats"
)

// Version of the driver
const Version = "1.4.0"

// Frame is re-exported from internal/frame.
// See internal/frame/frame.go for the reference-counting contract.
type Frame = frame.Frame

// FrameDescriptor is re-exported from internal/frame.
type FrameDescriptor = frame.Descriptor

// NewFrame creates a frame holding one reference; onRelease runs when the
// last reference is dropped. Useful for feeding consumers in tests.
func NewFrame(desc FrameDescriptor, data []byte, onRelease func()) *Frame {
	return frame.New(desc, data, onRelease)
}

// Image attribute enums, re-exported from internal/pixfmt.
type (
	ColorMode    = pixfmt.ColorMode
	DataType     = pixfmt.DataType
	BayerPattern = pixfmt.BayerPattern
)

const (
	ColorMono  = pixfmt.ColorMono
	ColorBayer = pixfmt.ColorBayer
	ColorRGB1  = pixfmt.ColorRGB1

	UInt8  = pixfmt.UInt8
	UInt16 = pixfmt.UInt16

	BayerNone = pixfmt.BayerNone
	BayerRGGB = pixfmt.BayerRGGB
	BayerGBRG = pixfmt.BayerGBRG
	BayerGRBG = pixfmt.BayerGRBG
	BayerBGGR = pixfmt.BayerBGGR
)

// Camera collaborator contracts, re-exported from internal/device so that
// backends outside this module can implement them.
type (
	Camera           = device.Camera
	Device           = device.Device
	Stream           = device.Stream
	FeatureSet       = device.FeatureSet
	Opener           = device.Opener
	RawBuffer        = device.RawBuffer
	PixelFormat      = device.PixelFormat
	StreamStatistics = device.StreamStatistics
)

// ConnectionState is re-exported from internal/gige.
type ConnectionState = gige.State

// AcquisitionState is the state of the acquisition loop.
type AcquisitionState int

const (
	// StateWaitingForSystemReady: Run has not seen SignalReady yet
	StateWaitingForSystemReady AcquisitionState = iota
	// StateIdle: ready, not acquiring
	StateIdle
	// StateAcquiring: frames are being processed
	StateAcquiring
	// StateFaulted: connection lost or integrity error; needs Reset
	StateFaulted
)

func (s AcquisitionState) String() string {
	switch s {
	case StateWaitingForSystemReady:
		return "waiting_for_system_ready"
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// DetectorStatus is the operator-facing status.
type DetectorStatus int

const (
	StatusIdle DetectorStatus = iota
	StatusAcquire
	StatusError
	StatusDisconnected
)

func (s DetectorStatus) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusAcquire:
		return "Acquire"
	case StatusError:
		return "Error"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Stats is a snapshot of driver state and statistics.
type Stats struct {
	Camera     string `json:"camera"`
	Connection string `json:"connection"`
	State      string `json:"state"`
	Status     string `json:"status"`
	StreamID   string `json:"stream_id"`

	// ImageCounter counts every processed buffer since the driver started
	ImageCounter uint64 `json:"image_counter"`
	// NumImagesCounter counts delivered frames in the current acquisition
	NumImagesCounter uint64 `json:"num_images_counter"`
	// TimeRemaining is the estimated time left in multiple-image mode
	TimeRemaining time.Duration `json:"time_remaining"`

	ReplenishFailures uint64 `json:"replenish_failures"`
	StreamRetries     uint32 `json:"stream_retries"`
	ControlLosts      uint32 `json:"control_losts"`
	QueueDepth        int    `json:"queue_depth"`

	Pool    bufpool.Stats  `json:"pool"`
	Metrics stats.Snapshot `json:"metrics"`
}
