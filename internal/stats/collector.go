// Package stats collects acquisition statistics and exposes them as a
// snapshot and as Prometheus metrics.
package stats

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

// StreamCounters mirrors the counters of the current stream instance. They
// restart from zero whenever a new stream is created.
type StreamCounters struct {
	Completed      uint64 `json:"completed"`
	Failed         uint64 `json:"failed"`
	Underrun       uint64 `json:"underrun"`
	HasPacketStats bool   `json:"has_packet_stats"`
	MissingPackets uint64 `json:"missing_packets"`
	ResentPackets  uint64 `json:"resent_packets"`
}

// HandlerCounters are the notification handler's lifetime counters.
type HandlerCounters struct {
	Queued         uint64            `json:"queued"`
	QueueFull      uint64            `json:"queue_full"`
	BadFrames      uint64            `json:"bad_frames"`
	ByStatus       map[string]uint64 `json:"by_status,omitempty"`
	ConsecutiveBad uint64            `json:"consecutive_bad"`
}

// Snapshot is a point-in-time copy of every statistic.
type Snapshot struct {
	Stream    StreamCounters    `json:"stream"`
	Handler   HandlerCounters   `json:"handler"`
	Delivered uint64            `json:"delivered"`
	Rejected  map[string]uint64 `json:"rejected,omitempty"`
	Rate      RateStats         `json:"rate"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Collector aggregates statistics. Safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	stream    StreamCounters
	handler   HandlerCounters
	delivered uint64
	rejected  map[string]uint64
	rate      *RateTracker
	updatedAt time.Time

	registry *prometheus.Registry

	streamGauges    *prometheus.GaugeVec
	deliveredTotal  prometheus.Counter
	rejectedTotal   *prometheus.CounterVec
	handlerGauges   *prometheus.GaugeVec
	badStatusGauges *prometheus.GaugeVec
	fpsGauge        prometheus.Gauge
	queueDepth      prometheus.Gauge
	connected       prometheus.Gauge
}

// NewCollector creates a collector with its own Prometheus registry.
// namespace prefixes every metric; camera becomes a constant label.
func NewCollector(namespace, camera string) (*Collector, error) {
	if namespace == "" {
		namespace = "gige_capture"
	}
	labels := prometheus.Labels{"camera": camera}

	c := &Collector{
		rejected: make(map[string]uint64),
		rate:     NewRateTracker(defaultRateWindow),
		registry: prometheus.NewRegistry(),

		streamGauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "stream_buffers",
			Help:        "Counters reported by the current stream instance",
			ConstLabels: labels,
		}, []string{"counter"}),
		deliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frames_delivered_total",
			Help:        "Frames delivered to downstream consumers",
			ConstLabels: labels,
		}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frames_rejected_total",
			Help:        "Frames dropped by the acquisition loop, by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		handlerGauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "notification_buffers",
			Help:        "Buffer-ready notification counters",
			ConstLabels: labels,
		}, []string{"counter"}),
		badStatusGauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "bad_frames",
			Help:        "Buffers requeued for a non-success status, by status",
			ConstLabels: labels,
		}, []string{"status"}),
		fpsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "delivered_fps",
			Help:        "Mean delivered frame rate over the recent window",
			ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "frame_queue_depth",
			Help:        "Buffers waiting in the frame queue",
			ConstLabels: labels,
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "camera_connected",
			Help:        "1 when the camera connection is valid",
			ConstLabels: labels,
		}),
	}

	collectors := []prometheus.Collector{
		c.streamGauges, c.deliveredTotal, c.rejectedTotal, c.handlerGauges,
		c.badStatusGauges, c.fpsGauge, c.queueDepth, c.connected,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

// PublishStream records the counters of the current stream.
func (c *Collector) PublishStream(s device.StreamStatistics) {
	c.mu.Lock()
	c.stream = StreamCounters{
		Completed:      s.Completed,
		Failed:         s.Failures,
		Underrun:       s.Underruns,
		HasPacketStats: s.HasPacketStats,
		MissingPackets: s.MissingPackets,
		ResentPackets:  s.ResentPackets,
	}
	c.updatedAt = time.Now()
	c.mu.Unlock()

	c.streamGauges.WithLabelValues("completed").Set(float64(s.Completed))
	c.streamGauges.WithLabelValues("failed").Set(float64(s.Failures))
	c.streamGauges.WithLabelValues("underrun").Set(float64(s.Underruns))
	if s.HasPacketStats {
		c.streamGauges.WithLabelValues("missing_packets").Set(float64(s.MissingPackets))
		c.streamGauges.WithLabelValues("resent_packets").Set(float64(s.ResentPackets))
	}
}

// PublishHandler records the notification handler counters.
func (c *Collector) PublishHandler(h HandlerCounters) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()

	c.handlerGauges.WithLabelValues("queued").Set(float64(h.Queued))
	c.handlerGauges.WithLabelValues("queue_full").Set(float64(h.QueueFull))
	c.handlerGauges.WithLabelValues("bad").Set(float64(h.BadFrames))
	for status, n := range h.ByStatus {
		c.badStatusGauges.WithLabelValues(status).Set(float64(n))
	}
}

// FrameDelivered counts one delivered frame.
func (c *Collector) FrameDelivered(at time.Time) {
	c.mu.Lock()
	c.delivered++
	c.rate.Add(at)
	fps := c.rate.Stats().FPSMean
	c.mu.Unlock()

	c.deliveredTotal.Inc()
	c.fpsGauge.Set(fps)
}

// FrameRejected counts one frame dropped for reason.
func (c *Collector) FrameRejected(reason string) {
	c.mu.Lock()
	c.rejected[reason]++
	c.mu.Unlock()

	c.rejectedTotal.WithLabelValues(reason).Inc()
}

// SetQueueDepth records the frame queue length.
func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// SetConnected records whether the camera connection is valid.
func (c *Collector) SetConnected(ok bool) {
	if ok {
		c.connected.Set(1)
	} else {
		c.connected.Set(0)
	}
}

// ResetRate clears the frame-rate window, e.g. at acquisition start.
func (c *Collector) ResetRate() {
	c.mu.Lock()
	c.rate.Reset()
	c.mu.Unlock()
}

// Snapshot returns a copy of every statistic.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	rejected := make(map[string]uint64, len(c.rejected))
	for k, v := range c.rejected {
		rejected[k] = v
	}
	handler := c.handler
	if handler.ByStatus != nil {
		byStatus := make(map[string]uint64, len(handler.ByStatus))
		for k, v := range handler.ByStatus {
			byStatus[k] = v
		}
		handler.ByStatus = byStatus
	}
	return Snapshot{
		Stream:    c.stream,
		Handler:   handler,
		Delivered: c.delivered,
		Rejected:  rejected,
		Rate:      c.rate.Stats(),
		UpdatedAt: c.updatedAt,
	}
}

// Registry returns the Prometheus registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
