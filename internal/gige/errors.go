package gige

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamCreation is returned when the stream cannot be created after
	// the single retry
	ErrStreamCreation = errors.New("stream creation failed")
	// ErrConnectionLost is returned for operations attempted after the
	// camera reported loss of its control channel
	ErrConnectionLost = errors.New("camera connection lost")
	// ErrNoDevice is returned when the opened camera exposes no device
	ErrNoDevice = errors.New("camera exposes no device")
	// ErrNoFeatures is returned when the device has no feature model
	ErrNoFeatures = errors.New("camera has no feature description")
	// ErrNotConnected is returned when no camera is open
	ErrNotConnected = errors.New("camera not connected")
	// ErrShutdown is returned by Connect after Shutdown
	ErrShutdown = errors.New("connection manager shut down")
	// ErrQueueFull marks a good buffer that could not be queued
	ErrQueueFull = errors.New("frame queue full")
	// ErrUnknownBuffer is the integrity error for buffers without an owner
	ErrUnknownBuffer = errors.New("buffer has no owner")
)

// RejectReason classifies why the acquisition loop dropped a frame, for
// telemetry.
type RejectReason int

const (
	// RejectUnsupportedFormat indicates a wire pixel format outside the table
	RejectUnsupportedFormat RejectReason = iota
	// RejectSizeMismatch indicates the reported size disagrees with the dimensions
	RejectSizeMismatch
	// RejectConversion indicates a packed format could not be unpacked
	RejectConversion
	// RejectUnknownBuffer indicates a buffer without an owner token
	RejectUnknownBuffer
	// RejectAllocation indicates no memory for the converted image
	RejectAllocation
)

// String returns the label used in metrics and logs
func (r RejectReason) String() string {
	switch r {
	case RejectUnsupportedFormat:
		return "unsupported_format"
	case RejectSizeMismatch:
		return "size_mismatch"
	case RejectConversion:
		return "conversion"
	case RejectUnknownBuffer:
		return "unknown_buffer"
	case RejectAllocation:
		return "allocation"
	default:
		return "unknown"
	}
}

// FrameError describes one dropped frame. It unwraps to the underlying cause.
type FrameError struct {
	Reason       RejectReason
	ImageCounter uint64
	Err          error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d rejected (%s): %v", e.ImageCounter, e.Reason, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
