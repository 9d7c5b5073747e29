package supplier

import (
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/frame"
)

// workerSlot is a single-frame mailbox for one worker. All fields are
// guarded by mu.
type workerSlot struct {
	mu    sync.Mutex
	cond  *sync.Cond
	frame *frame.Frame
	seq   uint64

	lastConsumedAt   time.Time
	lastConsumedSeq  uint64
	consecutiveDrops uint64
	totalDrops       uint64

	closed bool
}

// publish stores f, which carries a reference owned by the slot. A frame
// still waiting is replaced and released.
func (w *workerSlot) publish(f *frame.Frame, seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		f.Release()
		return
	}
	if w.frame != nil {
		w.consecutiveDrops++
		w.totalDrops++
		w.frame.Release()
	}
	w.frame = f
	w.seq = seq
	w.cond.Signal()
}

// ReadFunc blocks until a frame is available and returns it, or returns nil
// once the worker is unsubscribed or the supplier stopped. The caller owns
// one reference on the returned frame and must Release it.
type ReadFunc func() *frame.Frame

// Subscribe registers a worker. The returned ReadFunc must be called from a
// single goroutine. Subscribing an existing ID replaces its slot.
func (s *Supplier) Subscribe(workerID string) ReadFunc {
	if s.stopping.Load() {
		return func() *frame.Frame { return nil }
	}

	slot := &workerSlot{lastConsumedAt: time.Now()}
	slot.cond = sync.NewCond(&slot.mu)

	if prev, loaded := s.slots.Swap(workerID, slot); loaded {
		prev.(*workerSlot).close()
	}
	s.logger.Debug().Str("worker", workerID).Msg("frame-supplier: worker subscribed")

	return func() *frame.Frame {
		slot.mu.Lock()
		defer slot.mu.Unlock()

		for slot.frame == nil && !slot.closed {
			slot.cond.Wait()
		}
		if slot.closed {
			return nil
		}

		f := slot.frame
		slot.frame = nil
		slot.lastConsumedAt = time.Now()
		slot.lastConsumedSeq = slot.seq
		slot.consecutiveDrops = 0
		return f
	}
}

// Unsubscribe closes the worker's slot, releasing a pending frame and waking
// a blocked read. Unknown IDs are ignored.
func (s *Supplier) Unsubscribe(workerID string) {
	val, ok := s.slots.LoadAndDelete(workerID)
	if !ok {
		return
	}
	val.(*workerSlot).close()
	s.logger.Debug().Str("worker", workerID).Msg("frame-supplier: worker unsubscribed")
}

func (w *workerSlot) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.frame != nil {
		w.frame.Release()
		w.frame = nil
	}
	w.cond.Broadcast()
}
