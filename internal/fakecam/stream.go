package fakecam

import (
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

// Stream is the simulated stream. Buffers pushed by the pipeline wait in a
// free list until a frame is emitted into them.
type Stream struct {
	cfg   device.StreamConfig
	lists device.BufferLists

	handlerMu sync.Mutex
	handler   func()
	closed    atomic.Bool

	completed atomic.Uint64
	failures  atomic.Uint64
	underruns atomic.Uint64
	resent    atomic.Uint64
	missing   atomic.Uint64
}

func newStream(cfg device.StreamConfig) *Stream {
	return &Stream{cfg: cfg}
}

// Config returns the settings the stream was created with.
func (s *Stream) Config() device.StreamConfig {
	return s.cfg
}

// PushBuffer implements device.Stream. Buffers pushed after Close are
// released immediately.
func (s *Stream) PushBuffer(buf *device.RawBuffer) {
	if s.closed.Load() {
		buf.Release()
		return
	}
	s.lists.PushFree(buf)
}

// TryPopBuffer implements device.Stream.
func (s *Stream) TryPopBuffer() *device.RawBuffer {
	return s.lists.PopDone()
}

// Statistics implements device.Stream.
func (s *Stream) Statistics() device.StreamStatistics {
	return device.StreamStatistics{
		Completed:      s.completed.Load(),
		Failures:       s.failures.Load(),
		Underruns:      s.underruns.Load(),
		HasPacketStats: true,
		ResentPackets:  s.resent.Load(),
		MissingPackets: s.missing.Load(),
	}
}

// SetBufferReadyHandler implements device.Stream.
func (s *Stream) SetBufferReadyHandler(fn func()) {
	s.handlerMu.Lock()
	s.handler = fn
	s.handlerMu.Unlock()
}

// Close implements device.Stream.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.SetBufferReadyHandler(nil)
	s.lists.ReleaseAll()
	return nil
}

// FreeBuffers returns the number of buffers waiting to be filled.
func (s *Stream) FreeBuffers() int {
	free, _ := s.lists.Len()
	return free
}

func (s *Stream) deliver(ov FrameOverride, payload []byte, ts uint64) bool {
	if s.closed.Load() {
		return false
	}
	buf := s.lists.PopFree()
	if buf == nil {
		s.underruns.Add(1)
		return false
	}

	status := ov.Status
	n := copy(buf.Data[:cap(buf.Data)], payload)
	if n < len(payload) && status == device.StatusSuccess {
		status = device.StatusSizeMismatch
	}
	buf.Size = n
	if ov.Size > 0 {
		buf.Size = ov.Size
	}
	buf.PixelFormat = ov.PixelFormat
	buf.Width = ov.Width
	buf.Height = ov.Height
	buf.Timestamp = ts
	buf.Status = status

	if status == device.StatusSuccess {
		s.completed.Add(1)
	} else {
		s.failures.Add(1)
	}
	s.resent.Add(ov.ResentPackets)
	s.missing.Add(ov.MissingPackets)
	if status == device.StatusMissingPackets && ov.MissingPackets == 0 {
		s.missing.Add(1)
	}

	s.lists.PushDone(buf)

	s.handlerMu.Lock()
	fn := s.handler
	s.handlerMu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}
