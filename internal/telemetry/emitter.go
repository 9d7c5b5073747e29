// Package telemetry publishes driver statistics and state transitions to an
// MQTT broker.
//
// Topics, under the configured prefix:
//
//	<prefix>/stats  periodic JSON snapshot of the driver statistics
//	<prefix>/state  JSON state transition, retained
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	gigecapture "github.com/e7canasta/orion-care-sensor/modules/gige-capture"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("telemetry: mqtt not connected")

const stateQueueSize = 16

// Publisher is the transport. *PahoPublisher implements it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// StatsSource provides the periodic snapshot. *gigecapture.Driver implements it.
type StatsSource interface {
	Stats() gigecapture.Stats
}

// Config configures an Emitter.
type Config struct {
	TopicPrefix string
	Interval    time.Duration
	QoS         byte
}

// StateEvent is the payload published on every state transition.
type StateEvent struct {
	Acquisition string    `json:"acquisition"`
	Status      string    `json:"status"`
	Connection  string    `json:"connection"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stats counts published messages.
type Stats struct {
	Published   map[string]uint64 `json:"published"`
	Errors      uint64            `json:"errors"`
	StateDrops  uint64            `json:"state_drops"`
	LastPublish time.Time         `json:"last_publish"`
}

// Emitter periodically publishes statistics and forwards state changes.
type Emitter struct {
	cfg    Config
	pub    Publisher
	src    StatsSource
	logger zerolog.Logger

	states     chan StateEvent
	stateDrops atomic.Uint64

	mu          sync.Mutex
	published   map[string]uint64
	errs        uint64
	lastPublish time.Time

	wg sync.WaitGroup
}

// New creates an emitter. Interval <= 0 selects 5 s.
func New(cfg Config, pub Publisher, src StatsSource, logger zerolog.Logger) *Emitter {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "gige-capture"
	}
	return &Emitter{
		cfg:       cfg,
		pub:       pub,
		src:       src,
		logger:    logger.With().Str("component", "telemetry").Logger(),
		states:    make(chan StateEvent, stateQueueSize),
		published: make(map[string]uint64),
	}
}

// StatsTopic is where snapshots go.
func (e *Emitter) StatsTopic() string { return e.cfg.TopicPrefix + "/stats" }

// StateTopic is where state transitions go.
func (e *Emitter) StateTopic() string { return e.cfg.TopicPrefix + "/state" }

// OnStateChange matches gigecapture.StateListener. It never blocks: the
// driver calls it with its lock held, so events beyond the queue are dropped.
func (e *Emitter) OnStateChange(acq gigecapture.AcquisitionState, status gigecapture.DetectorStatus, conn gigecapture.ConnectionState) {
	ev := StateEvent{
		Acquisition: acq.String(),
		Status:      status.String(),
		Connection:  conn.String(),
		Timestamp:   time.Now(),
	}
	select {
	case e.states <- ev:
	default:
		e.stateDrops.Add(1)
	}
}

// Start runs the publish loop until ctx is done. Wait blocks until it exits.
func (e *Emitter) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.loop(ctx)
	e.logger.Info().
		Str("stats_topic", e.StatsTopic()).
		Str("state_topic", e.StateTopic()).
		Dur("interval", e.cfg.Interval).
		Msg("telemetry: started")
}

// Wait blocks until the loop started by Start has exited.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

func (e *Emitter) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.states:
			e.publishJSON(e.StateTopic(), true, ev)
		case <-ticker.C:
			e.publishJSON(e.StatsTopic(), false, e.src.Stats())
		}
	}
}

// PublishStats publishes one snapshot immediately.
func (e *Emitter) PublishStats() error {
	return e.publishJSON(e.StatsTopic(), false, e.src.Stats())
}

func (e *Emitter) publishJSON(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err == nil {
		err = e.pub.Publish(topic, e.cfg.QoS, retained, payload)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.errs++
		// first error, then every 100th
		if e.errs%100 == 1 {
			e.logger.Warn().Err(err).Str("topic", topic).Uint64("errors", e.errs).Msg("telemetry: publish failed")
		}
		return err
	}
	e.published[topic]++
	e.lastPublish = time.Now()
	e.logger.Debug().Str("topic", topic).Int("size", len(payload)).Msg("telemetry: published")
	return nil
}

// Stats returns a snapshot of the publish counters.
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Published:   published,
		Errors:      e.errs,
		StateDrops:  e.stateDrops.Load(),
		LastPublish: e.lastPublish,
	}
}
