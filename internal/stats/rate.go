package stats

import (
	"math"
	"time"
)

const (
	defaultRateWindow = 64

	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of the mean for the rate to count as stable.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of
	// the expected inter-frame interval.
	jitterStabilityThreshold = 0.20
)

// RateStats describes the delivered frame rate over the tracker window.
type RateStats struct {
	Frames       int     `json:"frames"`
	FPSMean      float64 `json:"fps_mean"`
	FPSStdDev    float64 `json:"fps_stddev"`
	FPSMin       float64 `json:"fps_min"`
	FPSMax       float64 `json:"fps_max"`
	JitterMean   float64 `json:"jitter_mean"`
	JitterStdDev float64 `json:"jitter_stddev"`
	JitterMax    float64 `json:"jitter_max"`
	IsStable     bool    `json:"is_stable"`
}

// RateTracker keeps the timestamps of the last N frames. Not safe for
// concurrent use; Collector serializes access.
type RateTracker struct {
	times []time.Time
	next  int
	full  bool
}

// NewRateTracker creates a tracker over the last window frames.
func NewRateTracker(window int) *RateTracker {
	if window < 2 {
		window = 2
	}
	return &RateTracker{times: make([]time.Time, window)}
}

// Add records a frame timestamp.
func (r *RateTracker) Add(t time.Time) {
	r.times[r.next] = t
	r.next = (r.next + 1) % len(r.times)
	if r.next == 0 {
		r.full = true
	}
}

// Reset forgets every timestamp.
func (r *RateTracker) Reset() {
	r.next = 0
	r.full = false
}

// ordered returns the window oldest first.
func (r *RateTracker) ordered() []time.Time {
	if !r.full {
		return append([]time.Time(nil), r.times[:r.next]...)
	}
	out := make([]time.Time, 0, len(r.times))
	out = append(out, r.times[r.next:]...)
	return append(out, r.times[:r.next]...)
}

// Stats computes rate statistics over the window.
func (r *RateTracker) Stats() RateStats {
	return CalculateRateStats(r.ordered())
}

// CalculateRateStats computes mean, spread and jitter of the frame rate
// described by ascending frame timestamps. The mean is taken over the span
// between first and last frame.
func CalculateRateStats(frameTimes []time.Time) RateStats {
	n := len(frameTimes)
	if n < 2 {
		return RateStats{Frames: n}
	}

	span := frameTimes[n-1].Sub(frameTimes[0]).Seconds()
	if span <= 0 {
		return RateStats{Frames: n}
	}
	fpsMean := float64(n-1) / span

	intervals := make([]float64, 0, n-1)
	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		iv := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		intervals = append(intervals, iv)
		if iv > 0 {
			instantaneous = append(instantaneous, 1/iv)
		}
	}

	out := RateStats{Frames: n, FPSMean: fpsMean}
	if len(instantaneous) > 0 {
		out.FPSMin, out.FPSMax = instantaneous[0], instantaneous[0]
		var sumSquares float64
		for _, fps := range instantaneous {
			out.FPSMin = math.Min(out.FPSMin, fps)
			out.FPSMax = math.Max(out.FPSMax, fps)
			d := fps - fpsMean
			sumSquares += d * d
		}
		out.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))
	}

	expected := 1 / fpsMean
	var jitterSum float64
	jitters := make([]float64, len(intervals))
	for i, iv := range intervals {
		j := math.Abs(iv - expected)
		jitters[i] = j
		jitterSum += j
		out.JitterMax = math.Max(out.JitterMax, j)
	}
	out.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		d := j - out.JitterMean
		jitterSquares += d * d
	}
	out.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	out.IsStable = out.FPSStdDev < fpsMean*fpsStabilityThreshold &&
		out.JitterMean < expected*jitterStabilityThreshold
	return out
}
