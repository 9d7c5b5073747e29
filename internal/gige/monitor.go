package gige

import "sync/atomic"

const (
	// badFrameLogLimit is how many consecutive occurrences are logged one by one
	badFrameLogLimit = 10
	// badFrameSummaryEvery is the spacing of summary logs past the limit
	badFrameSummaryEvery = 1000
)

// Throttle decides which occurrences of a repeating event get logged.
//
// The first limit occurrences in a streak are logged individually. After
// that only every `every`-th occurrence is logged, carrying the number of
// occurrences suppressed since the previous logged one. Reset ends the streak.
//
// Hit and Reset are lock-free so they can run on the stream's notification
// goroutine.
type Throttle struct {
	limit uint64
	every uint64

	count        atomic.Uint64 // current streak length
	lastReported atomic.Uint64 // streak position of the last logged occurrence
}

// NewThrottle creates a throttle. Zero values select 10 and 1000.
func NewThrottle(limit, every uint64) *Throttle {
	if limit == 0 {
		limit = badFrameLogLimit
	}
	if every == 0 {
		every = badFrameSummaryEvery
	}
	return &Throttle{limit: limit, every: every}
}

// Hit records one occurrence. n is the streak length including this one;
// emit reports whether to log it; suppressed is only meaningful for summary
// logs (n > limit).
func (t *Throttle) Hit() (n uint64, emit bool, suppressed uint64) {
	n = t.count.Add(1)
	if n <= t.limit {
		t.lastReported.Store(n)
		return n, true, 0
	}
	if (n-t.limit)%t.every == 0 {
		last := t.lastReported.Swap(n)
		return n, true, n - last - 1
	}
	return n, false, 0
}

// Reset ends the current streak and returns its length.
func (t *Throttle) Reset() uint64 {
	t.lastReported.Store(0)
	return t.count.Swap(0)
}

// Streak returns the current streak length.
func (t *Throttle) Streak() uint64 {
	return t.count.Load()
}

// Limit returns the number of individually logged occurrences per streak.
func (t *Throttle) Limit() uint64 {
	return t.limit
}
