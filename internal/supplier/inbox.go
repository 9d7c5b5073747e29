package supplier

import (
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/frame"
)

// Publish hands f to the distribution loop without blocking.
//
// The supplier takes its own reference on f, so the caller may Release its
// reference right after Publish returns. An unconsumed frame still in the
// inbox is replaced and released (counted in InboxDrops).
//
// Contract: f.Data must not be modified after Publish.
func (s *Supplier) Publish(f *frame.Frame) {
	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()

	// Stop clears the inbox under the same lock
	if s.stopping.Load() {
		return
	}
	f.Retain()
	s.published.Add(1)

	if old := s.inboxFrame; old != nil {
		s.inboxDrops.Add(1)
		old.Release()
	}
	s.inboxFrame = f
	s.inboxCond.Signal()
}

// DeliverFrame makes the supplier usable as the driver's consumer.
func (s *Supplier) DeliverFrame(f *frame.Frame) {
	s.Publish(f)
}
