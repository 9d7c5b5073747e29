// Package gige manages the camera connection and the producer side of the
// acquisition pipeline: the stream's buffer-ready notification.
package gige

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/framequeue"
)

// HandlerStats is a snapshot of notification handler counters.
type HandlerStats struct {
	// Notifications is the number of buffer-ready calls that yielded a buffer
	Notifications uint64
	// Queued is the number of good buffers handed to the frame queue
	Queued uint64
	// QueueFull is the number of good buffers requeued because the queue was full
	QueueFull uint64
	// BadFrames is the number of buffers requeued for a non-success status
	BadFrames uint64
	// ByStatus counts bad buffers per status name
	ByStatus map[string]uint64
	// ConsecutiveBad is the current streak of bad buffers
	ConsecutiveBad uint64
}

// Handler is the stream's buffer-ready callback.
//
// It runs on a goroutine owned by the stream, so it never takes the driver
// lock and never blocks: the frame queue push is non-blocking and every
// counter is atomic.
type Handler struct {
	queue  *framequeue.Queue
	logger zerolog.Logger

	badFrames *Throttle
	queueFull *Throttle

	notifications atomic.Uint64
	queued        atomic.Uint64
	fullDrops     atomic.Uint64
	bad           atomic.Uint64
	byStatus      [device.StatusUnknown + 1]atomic.Uint64
}

// NewHandler creates a handler feeding queue.
func NewHandler(queue *framequeue.Queue, logger zerolog.Logger) *Handler {
	return &Handler{
		queue:     queue,
		logger:    logger.With().Str("component", "gige-callback").Logger(),
		badFrames: NewThrottle(badFrameLogLimit, badFrameSummaryEvery),
		queueFull: NewThrottle(badFrameLogLimit, badFrameSummaryEvery),
	}
}

// OnBufferReady pulls one completed buffer from stream.
//
// Only StatusSuccess buffers reach the frame queue. Everything else, and good
// buffers that find the queue full, goes straight back to the stream so the
// camera never runs out of buffers because of a bad frame.
func (h *Handler) OnBufferReady(stream device.Stream) {
	buf := stream.TryPopBuffer()
	if buf == nil {
		return
	}
	h.notifications.Add(1)

	if buf.Status != device.StatusSuccess {
		stream.PushBuffer(buf)
		h.recordBad(buf.Status)
		return
	}

	if n := h.badFrames.Reset(); n > h.badFrames.Limit() {
		h.logger.Info().
			Uint64("bad_frames", n).
			Msg("gige: stream recovered after bad frames")
	}

	if h.queue.TryPush(buf) {
		h.queued.Add(1)
		h.queueFull.Reset()
		return
	}

	stream.PushBuffer(buf)
	h.fullDrops.Add(1)
	if n, emit, suppressed := h.queueFull.Hit(); emit {
		ev := h.logger.Warn().Uint64("consecutive", n).Int("capacity", h.queue.Cap())
		if n > h.queueFull.Limit() {
			ev = ev.Uint64("suppressed", suppressed)
		}
		ev.Msg("gige: frame queue full, buffer requeued")
	}
}

func (h *Handler) recordBad(status device.BufferStatus) {
	h.bad.Add(1)
	idx := status
	if idx < 0 || idx > device.StatusUnknown {
		idx = device.StatusUnknown
	}
	h.byStatus[idx].Add(1)

	n, emit, suppressed := h.badFrames.Hit()
	if !emit {
		return
	}
	if n <= h.badFrames.Limit() {
		h.logger.Warn().
			Str("status", status.String()).
			Uint64("consecutive", n).
			Msg("gige: bad frame status")
		return
	}
	h.logger.Warn().
		Str("status", status.String()).
		Uint64("consecutive", n).
		Uint64("suppressed", suppressed).
		Msg("gige: bad frame status")
}

// Stats returns a snapshot of the handler counters.
func (h *Handler) Stats() HandlerStats {
	byStatus := make(map[string]uint64)
	for i := range h.byStatus {
		if v := h.byStatus[i].Load(); v > 0 {
			byStatus[device.BufferStatus(i).String()] = v
		}
	}
	return HandlerStats{
		Notifications:  h.notifications.Load(),
		Queued:         h.queued.Load(),
		QueueFull:      h.fullDrops.Load(),
		BadFrames:      h.bad.Load(),
		ByStatus:       byStatus,
		ConsecutiveBad: h.badFrames.Streak(),
	}
}
