package gigecapture

import (
	"errors"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/bufpool"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/gige"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/pixfmt"
)

var (
	// ErrAllocation: the buffer pool is out of memory
	ErrAllocation = bufpool.ErrAllocation
	// ErrUnsupportedFormat: pixel format outside the table or not advertised
	ErrUnsupportedFormat = pixfmt.ErrUnsupportedFormat
	// ErrStreamCreation: the stream could not be created after one retry
	ErrStreamCreation = gige.ErrStreamCreation
	// ErrConnectionLost: the camera reported loss of its control channel
	ErrConnectionLost = gige.ErrConnectionLost
	// ErrQueueFull: a good buffer was requeued because the frame queue was full
	ErrQueueFull = gige.ErrQueueFull
	// ErrUnknownBuffer: a buffer without owner reached the acquisition loop
	ErrUnknownBuffer = gige.ErrUnknownBuffer

	// ErrSizeMismatch: the reported frame size disagrees with its dimensions
	ErrSizeMismatch = errors.New("frame size mismatch")
	// ErrDisconnected: the operation needs a valid camera connection
	ErrDisconnected = errors.New("camera disconnected")
	// ErrNotReady: the system-ready signal has not been given yet
	ErrNotReady = errors.New("system not ready")
	// ErrAlreadyAcquiring: StartAcquisition while acquiring
	ErrAlreadyAcquiring = errors.New("acquisition already running")
	// ErrFaulted: acquisition is faulted and needs a reset
	ErrFaulted = errors.New("acquisition faulted, reset required")
	// ErrInvalidParam: unknown parameter or out-of-range value
	ErrInvalidParam = errors.New("invalid parameter")
)

// FrameError is the error logged for a dropped frame, carrying the reject
// reason.
type FrameError = gige.FrameError

// RejectReason classifies dropped frames.
type RejectReason = gige.RejectReason

const (
	RejectUnsupportedFormat = gige.RejectUnsupportedFormat
	RejectSizeMismatch      = gige.RejectSizeMismatch
	RejectConversion        = gige.RejectConversion
	RejectUnknownBuffer     = gige.RejectUnknownBuffer
	RejectAllocation        = gige.RejectAllocation
)
