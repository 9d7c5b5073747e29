// Package frame defines the validated image handed to downstream consumers.
package frame

import (
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/pixfmt"
)

// Descriptor is the metadata attached to every delivered frame.
type Descriptor struct {
	// UniqueID is the driver-wide image counter
	UniqueID uint64
	// FrameNumber counts delivered frames since acquisition start (1-based)
	FrameNumber uint64

	ColorMode pixfmt.ColorMode
	DataType  pixfmt.DataType
	Bayer     pixfmt.BayerPattern

	Width   int
	Height  int
	XOffset int
	YOffset int
	BinX    int
	BinY    int

	// DeviceTimestamp is the camera clock in nanoseconds
	DeviceTimestamp uint64
	// WallTime is when the acquisition loop processed the frame
	WallTime time.Time

	// StreamID identifies the stream instance that produced the frame
	StreamID string
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// Frame is a validated image.
//
// Frames are reference counted. The producer holds one reference while a
// consumer's DeliverFrame runs and releases it afterwards; a consumer that
// keeps the frame past the call must Retain it first and Release it when
// done. Data must not be modified after delivery.
type Frame struct {
	Descriptor Descriptor
	// Data holds the samples: 1 byte each for UInt8, 2 bytes little-endian
	// for UInt16, pixel-interleaved for RGB
	Data []byte

	refs      atomic.Int32
	onRelease func()
}

// New creates a frame holding one reference. onRelease runs once when the
// last reference is released.
func New(desc Descriptor, data []byte, onRelease func()) *Frame {
	f := &Frame{Descriptor: desc, Data: data, onRelease: onRelease}
	f.refs.Store(1)
	return f
}

// Retain adds a reference and returns f.
func (f *Frame) Retain() *Frame {
	f.refs.Add(1)
	return f
}

// Release drops a reference. Data must not be used after the caller's last
// Release.
func (f *Frame) Release() {
	n := f.refs.Add(-1)
	if n == 0 && f.onRelease != nil {
		fn := f.onRelease
		f.onRelease = nil
		fn()
	}
	if n < 0 {
		panic("frame: released more times than retained")
	}
}

// Refs returns the current reference count.
func (f *Frame) Refs() int {
	return int(f.refs.Load())
}

// Size returns the number of data bytes.
func (f *Frame) Size() int {
	return len(f.Data)
}
