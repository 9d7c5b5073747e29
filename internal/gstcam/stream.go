package gstcam

import (
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

// Stream receives appsink samples into buffers pushed by the pipeline.
type Stream struct {
	cfg   device.StreamConfig
	lists device.BufferLists

	handlerMu sync.Mutex
	handler   func()
	closed    atomic.Bool

	completed atomic.Uint64
	failures  atomic.Uint64
	underruns atomic.Uint64
}

func newStream(cfg device.StreamConfig) *Stream {
	return &Stream{cfg: cfg}
}

// PushBuffer implements device.Stream.
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

// Statistics implements device.Stream. Appsink has no packet layer.
func (s *Stream) Statistics() device.StreamStatistics {
	return device.StreamStatistics{
		Completed: s.completed.Load(),
		Failures:  s.failures.Load(),
		Underruns: s.underruns.Load(),
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

// fill copies one sample into a free buffer and notifies. It runs on the
// GStreamer streaming thread. Returns false on underrun.
func (s *Stream) fill(data []byte, pf device.PixelFormat, width, height int, ts uint64) bool {
	if s.closed.Load() {
		return false
	}
	buf := s.lists.PopFree()
	if buf == nil {
		s.underruns.Add(1)
		return false
	}

	status := device.StatusSuccess
	n := copy(buf.Data[:cap(buf.Data)], data)
	if n < len(data) {
		status = device.StatusSizeMismatch
	}
	buf.Size = n
	buf.PixelFormat = pf
	buf.Width = width
	buf.Height = height
	buf.XOffset = 0
	buf.YOffset = 0
	buf.Timestamp = ts
	buf.Status = status

	if status == device.StatusSuccess {
		s.completed.Add(1)
	} else {
		s.failures.Add(1)
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
