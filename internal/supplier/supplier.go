// Package supplier fans delivered frames out to independent workers with
// just-in-time mailbox semantics.
//
// Philosophy: drop frames, never queue. A slow worker sees the newest frame
// when it asks for the next one; the acquisition loop is never slowed down
// by a worker.
//
// Design:
//   - Non-blocking Publish (one inbox slot, overwrite on publish)
//   - Blocking read per worker (one mailbox slot per worker, overwrite)
//   - Zero-copy sharing: every holder owns a reference on the frame and the
//     frame's memory returns to the buffer pool after the last Release
package supplier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/frame"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("supplier already started")

// Supplier distributes frames to subscribed workers.
//
// Goroutine topology:
//   - 1 fixed: distributionLoop (spawned by Start, stopped by Stop)
//   - 0-N/8 transient: batch goroutines when more than 8 workers subscribe
//   - N external: worker goroutines, owned by the workers
//
// All methods are safe for concurrent use.
type Supplier struct {
	logger zerolog.Logger

	// Publisher → distribution loop
	inboxMu    sync.Mutex
	inboxCond  *sync.Cond
	inboxFrame *frame.Frame
	inboxDrops atomic.Uint64
	published  atomic.Uint64

	// Distribution loop → workers
	slots sync.Map // workerID → *workerSlot

	publishSeq atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping atomic.Bool

	startedMu sync.Mutex
	started   bool
}

// New creates a supplier. Call Start before publishing.
func New(logger zerolog.Logger) *Supplier {
	s := &Supplier{
		logger: logger.With().Str("component", "frame-supplier").Logger(),
	}
	s.inboxCond = sync.NewCond(&s.inboxMu)
	return s
}

// Start spawns the distribution loop and returns immediately. The loop runs
// until ctx is done or Stop is called.
func (s *Supplier) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	// Wake the loop when the parent context ends
	go func() {
		<-s.ctx.Done()
		s.inboxMu.Lock()
		s.inboxCond.Broadcast()
		s.inboxMu.Unlock()
	}()

	s.wg.Add(1)
	go s.distributionLoop()

	s.logger.Debug().Msg("frame-supplier: started")
	return nil
}

// Stop shuts the distribution loop down and closes every worker slot.
// Pending frames are released. Idempotent.
//
// After Stop, Publish drops frames and every read function returns nil.
func (s *Supplier) Stop() error {
	s.startedMu.Lock()
	if !s.started || s.stopping.Load() {
		s.startedMu.Unlock()
		return nil
	}
	s.stopping.Store(true)
	s.startedMu.Unlock()

	s.cancel()
	s.inboxMu.Lock()
	s.inboxCond.Broadcast()
	s.inboxMu.Unlock()
	s.wg.Wait()

	s.inboxMu.Lock()
	if s.inboxFrame != nil {
		s.inboxFrame.Release()
		s.inboxFrame = nil
	}
	s.inboxMu.Unlock()

	s.slots.Range(func(key, value any) bool {
		s.Unsubscribe(key.(string))
		return true
	})

	s.logger.Debug().
		Uint64("published", s.published.Load()).
		Uint64("inbox_drops", s.inboxDrops.Load()).
		Msg("frame-supplier: stopped")
	return nil
}

// distributionLoop waits for the inbox, takes the frame and fans it out.
func (s *Supplier) distributionLoop() {
	defer s.wg.Done()

	for {
		s.inboxMu.Lock()
		for s.inboxFrame == nil {
			if s.ctx.Err() != nil {
				s.inboxMu.Unlock()
				return
			}
			s.inboxCond.Wait()
		}
		if s.ctx.Err() != nil {
			s.inboxMu.Unlock()
			return
		}
		f := s.inboxFrame
		s.inboxFrame = nil
		s.inboxMu.Unlock()

		s.distributeToWorkers(f)
	}
}
