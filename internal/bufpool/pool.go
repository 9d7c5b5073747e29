// Package bufpool provides the fixed-size memory regions streams fill with
// frames.
//
// Memory is recycled through sync.Pool buckets keyed by exact size (a stream
// always asks for the same payload size), and bounded by an optional budget.
package bufpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

// ErrAllocation is returned when the memory budget does not fit another buffer.
var ErrAllocation = errors.New("buffer allocation failed")

// Pool allocates RawBuffers. Safe for concurrent use.
type Pool struct {
	maxMemory int64

	mu      sync.RWMutex
	buckets map[int]*sync.Pool

	inUse       atomic.Int64 // bytes handed out and not yet released
	outstanding atomic.Int64 // buffers handed out and not yet released
	allocated   atomic.Uint64
	failures    atomic.Uint64
}

// Stats is a snapshot of pool usage.
type Stats struct {
	MaxMemory   int64  `json:"max_memory"`
	InUse       int64  `json:"in_use"`
	Outstanding int64  `json:"outstanding"`
	Allocated   uint64 `json:"allocated"`
	Failures    uint64 `json:"failures"`
}

// New creates a pool. maxMemory <= 0 disables the budget.
func New(maxMemory int64) *Pool {
	return &Pool{
		maxMemory: maxMemory,
		buckets:   make(map[int]*sync.Pool),
	}
}

func (p *Pool) bucket(size int) *sync.Pool {
	p.mu.RLock()
	b, ok := p.buckets[size]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.buckets[size]; ok {
		return b
	}
	b = &sync.Pool{
		New: func() interface{} {
			return make([]byte, size)
		},
	}
	p.buckets[size] = b
	return b
}

// Allocate returns a zeroed buffer of exactly size bytes that releases back
// into this pool.
func (p *Pool) Allocate(size int) (*device.RawBuffer, error) {
	if size <= 0 {
		p.failures.Add(1)
		return nil, fmt.Errorf("%w: invalid size %d", ErrAllocation, size)
	}

	used := p.inUse.Add(int64(size))
	if p.maxMemory > 0 && used > p.maxMemory {
		p.inUse.Add(-int64(size))
		p.failures.Add(1)
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrAllocation, size, used-int64(size), p.maxMemory)
	}

	data := p.bucket(size).Get().([]byte)
	clear(data)

	buf := &device.RawBuffer{Data: data}
	buf.Bind(p)

	p.outstanding.Add(1)
	p.allocated.Add(1)
	return buf, nil
}

// Release returns buf's memory to the pool. Releasing a buffer twice is a
// caller bug; the second call is ignored because the owner token is cleared.
func (p *Pool) Release(buf *device.RawBuffer) {
	if buf == nil || !buf.Owned() {
		return
	}
	buf.Unbind()

	data := buf.Data
	buf.Data = nil
	buf.Size = 0

	p.inUse.Add(-int64(cap(data)))
	p.outstanding.Add(-1)

	// nolint:staticcheck // SA6002: sync.Pool.Put requires interface{}
	p.bucket(cap(data)).Put(data[:cap(data)])
}

// InUse returns the number of bytes currently handed out.
func (p *Pool) InUse() int64 {
	return p.inUse.Load()
}

// Outstanding returns the number of buffers currently handed out.
func (p *Pool) Outstanding() int {
	return int(p.outstanding.Load())
}

// Stats returns a usage snapshot.
func (p *Pool) Stats() Stats {
	return Stats{
		MaxMemory:   p.maxMemory,
		InUse:       p.inUse.Load(),
		Outstanding: p.outstanding.Load(),
		Allocated:   p.allocated.Load(),
		Failures:    p.failures.Load(),
	}
}
