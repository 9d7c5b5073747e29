// Package device defines the contracts the acquisition pipeline consumes from
// a camera/stream abstraction.
//
// Implementations live elsewhere (internal/fakecam, internal/gstcam, or a
// vendor SDK binding). The pipeline only relies on what is declared here:
// buffers handed off by a Stream, counters it reports, and a generic named
// feature interface on the Device.
package device

import (
	"context"
	"time"
)

// AcquisitionMode selects how many frames the camera produces per start.
type AcquisitionMode int

const (
	// ModeContinuous streams until stopped
	ModeContinuous AcquisitionMode = iota
	// ModeSingleFrame produces one frame
	ModeSingleFrame
	// ModeMultiFrame produces a configured number of frames
	ModeMultiFrame
)

// String returns the GenICam name of the mode
func (m AcquisitionMode) String() string {
	switch m {
	case ModeContinuous:
		return "Continuous"
	case ModeSingleFrame:
		return "SingleFrame"
	case ModeMultiFrame:
		return "MultiFrame"
	default:
		return "Unknown"
	}
}

// Feature names the pipeline touches on the camera.
const (
	FeaturePixelFormat           = "PixelFormat"
	FeatureAcquisitionFrameCount = "AcquisitionFrameCount"
)

// StreamConfig is read once per stream (re)creation.
type StreamConfig struct {
	// PacketResend enables transport-level packet retransmission requests
	PacketResend bool
	// PacketTimeout is the per-packet timeout before a resend is requested
	PacketTimeout time.Duration
	// FrameRetention is how long an incomplete frame is kept before it is
	// given up as failed
	FrameRetention time.Duration
}

// DefaultStreamConfig returns the stream settings used when nothing is configured.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PacketResend:   true,
		PacketTimeout:  20 * time.Millisecond,
		FrameRetention: 100 * time.Millisecond,
	}
}

// StreamStatistics are the counters a stream reports. They are monotonic for
// the life of one stream object.
type StreamStatistics struct {
	Completed uint64
	Failures  uint64
	Underruns uint64

	// HasPacketStats is true for transports that track packets (GigE Vision)
	HasPacketStats bool
	ResentPackets  uint64
	MissingPackets uint64
}

// FeatureSet is the generic named-feature interface of a camera.
type FeatureSet interface {
	// HasFeature reports whether the camera's feature model has the node
	HasFeature(name string) bool
	GetInteger(name string) (int64, error)
	SetInteger(name string, value int64) error
	// EnumValues returns the available entries of an enumeration feature.
	// ok is false when the feature is not an enumeration on this camera.
	EnumValues(name string) (values []int64, ok bool)
}

// Device is the control channel of an opened camera.
type Device interface {
	// Features returns nil when the camera has no feature-description model
	Features() FeatureSet
	SetRegisterCaching(enabled bool) error
	// TimestampTickFrequency is 0 when the camera has no timestamp clock
	TimestampTickFrequency() uint64
	// OnControlLost registers fn to be called, from any goroutine, when the
	// control channel to the camera is lost
	OnControlLost(fn func())
}

// Camera is an opened camera.
type Camera interface {
	Name() string
	// Device returns nil when the camera exposes no usable device
	Device() Device
	CreateStream(cfg StreamConfig) (Stream, error)
	SetAcquisitionMode(mode AcquisitionMode) error
	StartAcquisition() error
	StopAcquisition() error
	// PayloadSize is the buffer size in bytes needed for one frame
	PayloadSize() (int, error)
	Close() error
}

// Stream hands filled buffers back to the pipeline.
//
// Implementations must guarantee:
//   - the buffer-ready handler is called from the stream's own goroutine
//   - PushBuffer and TryPopBuffer are safe to call from the handler
//   - Close stops notifications and releases every buffer still held by
//     calling its Release method
type Stream interface {
	// PushBuffer gives an empty (or requeued) buffer to the stream
	PushBuffer(buf *RawBuffer)
	// TryPopBuffer returns the next completed buffer, or nil
	TryPopBuffer() *RawBuffer
	Statistics() StreamStatistics
	SetBufferReadyHandler(fn func())
	Close() error
}

// Opener opens a camera by name. An empty name selects the first camera.
type Opener func(ctx context.Context, name string) (Camera, error)
