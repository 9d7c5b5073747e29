package device

import "sync"

// BufferLists holds the free and completed buffer FIFOs of a stream
// implementation. Safe for concurrent use.
type BufferLists struct {
	mu   sync.Mutex
	free []*RawBuffer
	done []*RawBuffer
}

// PushFree appends an empty buffer to the free list.
func (l *BufferLists) PushFree(buf *RawBuffer) {
	l.mu.Lock()
	l.free = append(l.free, buf)
	l.mu.Unlock()
}

// PopFree takes the oldest free buffer, or nil.
func (l *BufferLists) PopFree() *RawBuffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.free) == 0 {
		return nil
	}
	buf := l.free[0]
	l.free[0] = nil
	l.free = l.free[1:]
	return buf
}

// PushDone appends a filled buffer to the completed list.
func (l *BufferLists) PushDone(buf *RawBuffer) {
	l.mu.Lock()
	l.done = append(l.done, buf)
	l.mu.Unlock()
}

// PopDone takes the oldest completed buffer, or nil.
func (l *BufferLists) PopDone() *RawBuffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.done) == 0 {
		return nil
	}
	buf := l.done[0]
	l.done[0] = nil
	l.done = l.done[1:]
	return buf
}

// Len returns the number of free and completed buffers.
func (l *BufferLists) Len() (free, done int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.free), len(l.done)
}

// ReleaseAll empties both lists and releases every buffer.
func (l *BufferLists) ReleaseAll() int {
	l.mu.Lock()
	bufs := make([]*RawBuffer, 0, len(l.free)+len(l.done))
	bufs = append(bufs, l.free...)
	bufs = append(bufs, l.done...)
	l.free = nil
	l.done = nil
	l.mu.Unlock()

	for _, b := range bufs {
		b.Release()
	}
	return len(bufs)
}
