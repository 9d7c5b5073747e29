package gigecapture

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/convert"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/gige"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/pixfmt"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/stats"
)

// Run is the acquisition loop. It blocks until ctx is cancelled.
//
// The loop waits for SignalReady, enters Idle, then repeatedly pops the
// frame queue with a short timeout. Timeouts are where stop requests and
// connection loss are observed; buffers are processed under the driver lock.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Debug().Msg("gige-capture: waiting for system ready")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ready:
	}

	d.mu.Lock()
	if d.state == StateWaitingForSystemReady {
		status := d.status
		if d.conn.Valid() {
			status = StatusIdle
		}
		d.setStateLocked(StateIdle, status)
	}
	d.mu.Unlock()
	d.logger.Info().Msg("gige-capture: acquisition loop running")

	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			if d.state == StateAcquiring {
				d.stopCaptureLocked(context.Background())
			}
			d.mu.Unlock()
			return ctx.Err()
		default:
		}

		buf, ok := d.queue.PopWithTimeout(d.cfg.PollTimeout)

		d.mu.Lock()
		if !ok {
			d.onPollTimeoutLocked(ctx)
		} else {
			d.handleBufferLocked(ctx, buf)
		}
		d.mu.Unlock()
	}
}

func (d *Driver) onPollTimeoutLocked(ctx context.Context) {
	d.collector.SetQueueDepth(d.queue.Len())
	if d.state != StateAcquiring {
		return
	}
	if !d.conn.Valid() {
		d.faultLocked(gige.ErrConnectionLost, StatusDisconnected)
		return
	}
	if !d.acquireRequested {
		d.logger.Info().
			Uint64("delivered", d.delivered).
			Msg("gige-capture: acquisition stopped on request")
		d.stopCaptureLocked(ctx)
	}
}

// handleBufferLocked owns buf: every path releases it, returns it to the
// stream, or hands its memory to a frame.
func (d *Driver) handleBufferLocked(ctx context.Context, buf *device.RawBuffer) {
	if d.state != StateAcquiring {
		buf.Release()
		return
	}
	if !buf.Owned() {
		d.reject(gige.RejectUnknownBuffer, buf, gige.ErrUnknownBuffer)
		d.faultLocked(gige.ErrUnknownBuffer, StatusError)
		return
	}
	// Leftovers of a previous stream instance or of a lost connection
	if !d.conn.Valid() || buf.Generation != d.generation {
		buf.Release()
		return
	}

	d.processBufferLocked(buf)
	d.publishStatsLocked()

	if d.captureDoneLocked() {
		d.logger.Info().
			Str("mode", d.params.ImageMode.String()).
			Uint64("delivered", d.delivered).
			Msg("gige-capture: acquisition complete")
		d.acquireRequested = false
		d.stopCaptureLocked(ctx)
		return
	}
	d.replenishLocked()
}

// processBufferLocked validates, converts and delivers one buffer. It always
// consumes buf.
func (d *Driver) processBufferLocked(buf *device.RawBuffer) {
	d.imageCounter++

	mapping, err := pixfmt.Resolve(buf.PixelFormat)
	if err != nil {
		d.reject(gige.RejectUnsupportedFormat, buf, err)
		buf.Release()
		return
	}

	out := buf
	if convert.NeedsConversion(buf.PixelFormat) {
		out, err = d.unpackLocked(buf)
		buf.Release()
		if err != nil {
			return
		}
	}

	if want := pixfmt.ExpectedSize(mapping, out.Width, out.Height); out.Size != want {
		d.reject(gige.RejectSizeMismatch, out, ErrSizeMismatch)
		out.Release()
		return
	}

	data := out.Bytes()
	if mapping.DataType == pixfmt.UInt16 {
		convert.Shift(data, d.params.ShiftDir, d.params.ShiftBits)
	}

	d.delivered++
	now := time.Now()
	desc := frame.Descriptor{
		UniqueID:        d.imageCounter,
		FrameNumber:     d.delivered,
		ColorMode:       mapping.ColorMode,
		DataType:        mapping.DataType,
		Bayer:           mapping.Bayer,
		Width:           out.Width,
		Height:          out.Height,
		XOffset:         out.XOffset,
		YOffset:         out.YOffset,
		BinX:            d.params.BinX,
		BinY:            d.params.BinY,
		DeviceTimestamp: out.Timestamp,
		WallTime:        now,
		StreamID:        d.conn.StreamID(),
		TraceID:         uuid.NewString(),
	}

	f := frame.New(desc, data, out.Release)
	if d.params.ArrayCallbacks && d.consumer != nil {
		d.consumer.DeliverFrame(f)
	}
	f.Release()

	d.collector.FrameDelivered(now)
	for _, throttle := range d.rejectThrottles {
		throttle.Reset()
	}
}

// unpackLocked converts a packed 12-bit buffer into a new 16-bit pool buffer.
// The caller releases the source.
func (d *Driver) unpackLocked(src *device.RawBuffer) (*device.RawBuffer, error) {
	n := src.Width * src.Height
	dst, err := d.pool.Allocate(convert.UnpackedSize(n))
	if err != nil {
		d.reject(gige.RejectAllocation, src, err)
		return nil, err
	}

	written, err := convert.Convert(src.PixelFormat, src.Width, src.Height, src.Bytes(), dst.Data, d.params.PixelFormatAlign)
	if err != nil {
		reason := gige.RejectConversion
		if errors.Is(err, convert.ErrShortBuffer) {
			reason = gige.RejectSizeMismatch
		}
		d.reject(reason, src, err)
		dst.Release()
		return nil, err
	}

	dst.Size = written
	dst.PixelFormat = device.PixelFormatMono16
	dst.Width = src.Width
	dst.Height = src.Height
	dst.XOffset = src.XOffset
	dst.YOffset = src.YOffset
	dst.Timestamp = src.Timestamp
	dst.Status = src.Status
	dst.Generation = src.Generation
	return dst, nil
}

// reject counts and (throttled) logs a dropped frame.
func (d *Driver) reject(reason gige.RejectReason, buf *device.RawBuffer, err error) {
	d.collector.FrameRejected(reason.String())

	throttle, ok := d.rejectThrottles[reason]
	if !ok {
		throttle = gige.NewThrottle(0, 0)
		d.rejectThrottles[reason] = throttle
	}
	n, emit, suppressed := throttle.Hit()
	if !emit {
		return
	}
	ev := d.logger.Warn().
		Err(&gige.FrameError{Reason: reason, ImageCounter: d.imageCounter, Err: err}).
		Str("reason", reason.String()).
		Str("pixel_format", buf.PixelFormat.String()).
		Int("width", buf.Width).
		Int("height", buf.Height).
		Int("size", buf.Size).
		Uint64("image_counter", d.imageCounter)
	if n > throttle.Limit() {
		ev = ev.Uint64("suppressed", suppressed)
	}
	ev.Msg("gige-capture: frame rejected")
}

func (d *Driver) captureDoneLocked() bool {
	switch d.params.ImageMode {
	case ImageModeSingle:
		return d.delivered >= 1
	case ImageModeMultiple:
		return d.delivered >= uint64(d.params.NumImages)
	default:
		return false
	}
}

// replenishLocked gives the stream a fresh buffer for the one just consumed.
func (d *Driver) replenishLocked() {
	stream := d.conn.Stream()
	if stream == nil {
		return
	}
	buf, err := d.pool.Allocate(d.payloadSize)
	if err != nil {
		d.replenishFails++
		d.reject(gige.RejectAllocation, &device.RawBuffer{Size: d.payloadSize}, err)
		return
	}
	buf.Generation = d.generation
	stream.PushBuffer(buf)
}

// stopCaptureLocked stops the camera and rebuilds the stream so buffers still
// held by it are released. The driver goes Idle, or Faulted when the stream
// cannot be rebuilt.
func (d *Driver) stopCaptureLocked(ctx context.Context) {
	d.acquireRequested = false
	if cam := d.conn.Camera(); cam != nil {
		if err := cam.StopAcquisition(); err != nil {
			d.logger.Warn().Err(err).Msg("gige-capture: camera stop failed")
		}
	}
	d.drainQueueLocked()
	d.publishStatsLocked()

	if err := d.rebuildStreamLocked(ctx); err != nil {
		d.faultLocked(err, StatusError)
		return
	}
	d.setStateLocked(StateIdle, StatusIdle)
}

func (d *Driver) rebuildStreamLocked(ctx context.Context) error {
	if err := d.conn.CreateStream(ctx); err != nil {
		d.logger.Error().Err(err).Msg("gige-capture: stream rebuild failed")
		return err
	}
	return nil
}

func (d *Driver) faultLocked(err error, status DetectorStatus) {
	d.acquireRequested = false
	d.drainQueueLocked()
	if cam := d.conn.Camera(); cam != nil && d.conn.Valid() {
		_ = cam.StopAcquisition()
	}
	d.logger.Error().Err(err).Str("status", status.String()).Msg("gige-capture: acquisition faulted")
	d.setStateLocked(StateFaulted, status)
}

// publishStatsLocked pushes stream and handler counters to the collector.
func (d *Driver) publishStatsLocked() {
	if stream := d.conn.Stream(); stream != nil {
		d.collector.PublishStream(stream.Statistics())
	}
	h := d.handler.Stats()
	d.collector.PublishHandler(stats.HandlerCounters{
		Queued:         h.Queued,
		QueueFull:      h.QueueFull,
		BadFrames:      h.BadFrames,
		ByStatus:       h.ByStatus,
		ConsecutiveBad: h.ConsecutiveBad,
	})
	d.collector.SetQueueDepth(d.queue.Len())
}
