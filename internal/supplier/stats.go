package supplier

import "time"

// idleThreshold marks a worker idle when it has not read for this long.
const idleThreshold = 30 * time.Second

// Stats is a snapshot of supplier state.
type Stats struct {
	// Published counts frames accepted by Publish
	Published uint64 `json:"published"`
	// InboxDrops counts frames replaced in the inbox before distribution.
	// Non-zero means the distribution loop is starved.
	InboxDrops uint64                 `json:"inbox_drops"`
	Workers    map[string]WorkerStats `json:"workers"`
}

// WorkerStats describes one worker mailbox.
type WorkerStats struct {
	WorkerID        string    `json:"worker_id"`
	LastConsumedAt  time.Time `json:"last_consumed_at"`
	LastConsumedSeq uint64    `json:"last_consumed_seq"`
	// ConsecutiveDrops resets on every read
	ConsecutiveDrops uint64 `json:"consecutive_drops"`
	TotalDrops       uint64 `json:"total_drops"`
	IsIdle           bool   `json:"is_idle"`
}

// Stats returns a snapshot. Safe to call concurrently with everything else.
func (s *Supplier) Stats() Stats {
	workers := make(map[string]WorkerStats)
	s.slots.Range(func(key, value any) bool {
		id := key.(string)
		slot := value.(*workerSlot)

		slot.mu.Lock()
		workers[id] = WorkerStats{
			WorkerID:         id,
			LastConsumedAt:   slot.lastConsumedAt,
			LastConsumedSeq:  slot.lastConsumedSeq,
			ConsecutiveDrops: slot.consecutiveDrops,
			TotalDrops:       slot.totalDrops,
			IsIdle:           time.Since(slot.lastConsumedAt) > idleThreshold,
		}
		slot.mu.Unlock()
		return true
	})

	return Stats{
		Published:  s.published.Load(),
		InboxDrops: s.inboxDrops.Load(),
		Workers:    workers,
	}
}
