// Package framequeue is the bounded hand-off between the stream's buffer-ready
// notification and the acquisition loop.
//
// Producers never block (TryPush fails fast when full); the consumer blocks
// for at most a short timeout so it can observe stop requests.
package framequeue

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

const (
	// DefaultCapacity is the number of buffers the queue holds
	DefaultCapacity = 20
	// DefaultPollTimeout bounds how long the consumer waits per pop
	DefaultPollTimeout = 5 * time.Millisecond
)

// Queue is a bounded FIFO of raw buffers. Safe for one or more producers and
// one or more consumers.
type Queue struct {
	ch chan *device.RawBuffer
}

// New creates a queue. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan *device.RawBuffer, capacity)}
}

// TryPush enqueues buf without blocking. Returns false when the queue is full.
func (q *Queue) TryPush(buf *device.RawBuffer) bool {
	select {
	case q.ch <- buf:
		return true
	default:
		return false
	}
}

// PopWithTimeout dequeues the oldest buffer, waiting at most d.
func (q *Queue) PopWithTimeout(d time.Duration) (*device.RawBuffer, bool) {
	select {
	case buf := <-q.ch:
		return buf, true
	default:
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case buf := <-q.ch:
		return buf, true
	case <-timer.C:
		return nil, false
	}
}

// Len returns the number of queued buffers.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Drain removes and returns every queued buffer without waiting.
func (q *Queue) Drain() []*device.RawBuffer {
	var out []*device.RawBuffer
	for {
		select {
		case buf := <-q.ch:
			out = append(out, buf)
		default:
			return out
		}
	}
}
