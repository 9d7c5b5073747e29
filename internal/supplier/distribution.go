package supplier

import (
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/frame"
)

// publishBatchSize is the worker count above which distribution is split
// across goroutines, publishBatchSize slots each.
const publishBatchSize = 8

// distributeToWorkers gives every worker slot its own reference on f and
// drops the inbox reference.
//
// References are taken before any batch goroutine starts, so f cannot be
// released while a batch is still running. Batches are fire-and-forget:
// distribution finishes long before the next frame arrives.
func (s *Supplier) distributeToWorkers(f *frame.Frame) {
	seq := s.publishSeq.Add(1)

	var slots []*workerSlot
	s.slots.Range(func(_, value any) bool {
		slots = append(slots, value.(*workerSlot))
		return true
	})

	for range slots {
		f.Retain()
	}
	f.Release()

	if len(slots) <= publishBatchSize {
		for _, slot := range slots {
			slot.publish(f, seq)
		}
		return
	}

	for i := 0; i < len(slots); i += publishBatchSize {
		end := i + publishBatchSize
		if end > len(slots) {
			end = len(slots)
		}
		go func(batch []*workerSlot) {
			for _, slot := range batch {
				slot.publish(f, seq)
			}
		}(slots[i:end])
	}
}
