package gigecapture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/bufpool"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/framequeue"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/gige"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/stats"
)

// DefaultNumBuffers is the number of buffers primed into the stream at
// acquisition start.
const DefaultNumBuffers = 20

// Config configures a Driver.
type Config struct {
	// CameraName selects the camera; empty opens the first one
	CameraName    string
	EnableCaching bool
	// MaxMemory caps the buffer pool in bytes; 0 means unlimited
	MaxMemory int64

	Params Params

	StreamRetry gige.RetryConfig

	QueueCapacity int
	PollTimeout   time.Duration
	NumBuffers    int

	MetricsNamespace string
}

// DefaultConfig returns a Config for the first camera with default parameters.
func DefaultConfig() Config {
	return Config{
		Params:        DefaultParams(),
		StreamRetry:   gige.DefaultStreamRetry(),
		QueueCapacity: framequeue.DefaultCapacity,
		PollTimeout:   framequeue.DefaultPollTimeout,
		NumBuffers:    DefaultNumBuffers,
	}
}

// StateListener observes acquisition and connection state changes. It runs
// with the driver lock held and must not call back into the Driver.
type StateListener func(acq AcquisitionState, status DetectorStatus, conn ConnectionState)

// Driver is the acquisition pipeline of one camera.
//
// The camera's stream pushes completed buffers into a bounded frame queue
// from its own goroutine; Run pops them, validates and converts them, and
// hands the resulting frames to the Consumer. Operator calls and the loop
// share one lock.
type Driver struct {
	cfg      Config
	logger   zerolog.Logger
	consumer Consumer

	queue     *framequeue.Queue
	pool      *bufpool.Pool
	handler   *gige.Handler
	conn      *gige.ConnectionManager
	collector *stats.Collector

	ready     chan struct{}
	readyOnce sync.Once
	shutdown  sync.Once

	mu               sync.Mutex
	params           Params
	state            AcquisitionState
	status           DetectorStatus
	acquireRequested bool
	imageCounter     uint64
	delivered        uint64
	payloadSize      int
	generation       uint64
	replenishFails   uint64
	rejectThrottles  map[gige.RejectReason]*gige.Throttle
	listeners        []StateListener
}

// New creates a driver. The camera is not opened until Connect.
func New(opener Opener, consumer Consumer, cfg Config, logger zerolog.Logger) (*Driver, error) {
	if opener == nil {
		return nil, errors.New("gigecapture: opener is required")
	}
	def := DefaultConfig()
	if cfg.Params == (Params{}) {
		cfg.Params = def.Params
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.NumBuffers <= 0 {
		cfg.NumBuffers = def.NumBuffers
	}
	if cfg.StreamRetry == (gige.RetryConfig{}) {
		cfg.StreamRetry = def.StreamRetry
	}

	collector, err := stats.NewCollector(cfg.MetricsNamespace, cfg.CameraName)
	if err != nil {
		return nil, fmt.Errorf("gigecapture: %w", err)
	}

	logger = logger.With().Str("component", "gige-capture").Logger()
	queue := framequeue.New(cfg.QueueCapacity)
	handler := gige.NewHandler(queue, logger)

	d := &Driver{
		cfg:             cfg,
		logger:          logger,
		consumer:        consumer,
		queue:           queue,
		pool:            bufpool.New(cfg.MaxMemory),
		handler:         handler,
		collector:       collector,
		ready:           make(chan struct{}),
		params:          cfg.Params,
		state:           StateWaitingForSystemReady,
		status:          StatusDisconnected,
		rejectThrottles: make(map[gige.RejectReason]*gige.Throttle),
	}

	d.conn = gige.NewConnectionManager(opener, handler, gige.ConnectionConfig{
		CameraName:    cfg.CameraName,
		EnableCaching: cfg.EnableCaching,
		Stream:        cfg.Params.streamConfig(),
		StreamRetry:   cfg.StreamRetry,
	}, logger)
	d.conn.OnStateChange(func(s gige.State) {
		collector.SetConnected(s == gige.StateConnected)
	})

	return d, nil
}

// OnStateChange registers a listener. Must be called before Run.
func (d *Driver) OnStateChange(fn StateListener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

func (d *Driver) setStateLocked(s AcquisitionState, status DetectorStatus) {
	if d.state == s && d.status == status {
		return
	}
	d.logger.Debug().
		Str("from", d.state.String()).
		Str("to", s.String()).
		Str("status", status.String()).
		Msg("gige-capture: state changed")
	d.state = s
	d.status = status
	conn := d.conn.State()
	for _, fn := range d.listeners {
		fn(s, status, conn)
	}
}

// Connect opens the camera and creates its stream.
//
// This method:
//  1. Stops a running acquisition
//  2. Releases every buffer still waiting in the frame queue
//  3. (Re)opens the camera with the current stream settings
//  4. Leaves the driver Idle on success, or Faulted with status Disconnected
//
// It is also the manual recovery path after a lost connection (see Reset).
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateAcquiring {
		d.acquireRequested = false
	}
	d.drainQueueLocked()

	d.conn.SetStreamConfig(d.params.streamConfig())
	if err := d.conn.Connect(ctx); err != nil {
		next := d.state
		if d.isReady() {
			next = StateFaulted
		}
		d.setStateLocked(next, StatusDisconnected)
		return err
	}

	next := StateWaitingForSystemReady
	if d.isReady() {
		next = StateIdle
	}
	d.setStateLocked(next, StatusIdle)
	d.publishStatsLocked()
	return nil
}

// Reset reconnects the camera. It is the only way out of StateFaulted.
func (d *Driver) Reset(ctx context.Context) error {
	d.logger.Info().Msg("gige-capture: reset requested")
	return d.Connect(ctx)
}

// SignalReady releases the acquisition loop from StateWaitingForSystemReady.
// Calls after the first are no-ops.
func (d *Driver) SignalReady() {
	d.readyOnce.Do(func() { close(d.ready) })
}

func (d *Driver) isReady() bool {
	select {
	case <-d.ready:
		return true
	default:
		return false
	}
}

// StartAcquisition arms the camera and begins delivering frames.
//
// This method:
//  1. Checks readiness, connection and that no acquisition is running
//  2. Programs the acquisition mode and, when the camera has the feature,
//     the frame count
//  3. Reads the payload size and resets the per-acquisition counters
//  4. Primes NumBuffers pool buffers into the stream
//  5. Starts the camera
//
// When priming or starting fails the stream is rebuilt so no primed buffer
// leaks, and the error is returned. If the rebuild fails too the driver goes
// Faulted.
func (d *Driver) StartAcquisition(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isReady() {
		return ErrNotReady
	}
	switch d.state {
	case StateAcquiring:
		return ErrAlreadyAcquiring
	case StateFaulted:
		return ErrFaulted
	}
	if !d.conn.Valid() {
		d.setStateLocked(d.state, StatusDisconnected)
		return ErrDisconnected
	}

	cam := d.conn.Camera()
	stream := d.conn.Stream()
	if cam == nil || stream == nil {
		d.setStateLocked(d.state, StatusDisconnected)
		return ErrDisconnected
	}

	if err := cam.SetAcquisitionMode(d.params.ImageMode.deviceMode()); err != nil {
		return fmt.Errorf("set acquisition mode: %w", err)
	}
	if d.params.ImageMode == ImageModeMultiple {
		if fs := cameraFeatures(cam); fs != nil && fs.HasFeature(device.FeatureAcquisitionFrameCount) {
			if err := fs.SetInteger(device.FeatureAcquisitionFrameCount, int64(d.params.NumImages)); err != nil {
				return fmt.Errorf("set frame count: %w", err)
			}
		}
	}

	size, err := cam.PayloadSize()
	if err != nil {
		return fmt.Errorf("read payload size: %w", err)
	}
	d.payloadSize = size
	d.delivered = 0
	d.generation = d.conn.Generation()
	d.collector.ResetRate()

	if err := d.primeLocked(stream); err != nil {
		return d.abortStartLocked(ctx, err)
	}

	d.acquireRequested = true
	if err := cam.StartAcquisition(); err != nil {
		d.acquireRequested = false
		return d.abortStartLocked(ctx, fmt.Errorf("start acquisition: %w", err))
	}

	d.setStateLocked(StateAcquiring, StatusAcquire)
	d.logger.Info().
		Str("mode", d.params.ImageMode.String()).
		Int("num_images", d.params.NumImages).
		Int("payload_size", size).
		Int("buffers", d.cfg.NumBuffers).
		Msg("gige-capture: acquisition started")
	return nil
}

// abortStartLocked rebuilds the stream after a failed start so no primed
// buffer stays behind. A failed rebuild faults the driver.
func (d *Driver) abortStartLocked(ctx context.Context, cause error) error {
	if err := d.rebuildStreamLocked(ctx); err != nil {
		d.faultLocked(err, StatusError)
		return errors.Join(cause, err)
	}
	return cause
}

// primeLocked pushes NumBuffers fresh buffers into stream.
func (d *Driver) primeLocked(stream device.Stream) error {
	for i := 0; i < d.cfg.NumBuffers; i++ {
		buf, err := d.pool.Allocate(d.payloadSize)
		if err != nil {
			return fmt.Errorf("prime buffer %d of %d: %w", i+1, d.cfg.NumBuffers, err)
		}
		buf.Generation = d.generation
		stream.PushBuffer(buf)
	}
	return nil
}

func cameraFeatures(cam device.Camera) device.FeatureSet {
	dev := cam.Device()
	if dev == nil {
		return nil
	}
	return dev.Features()
}

// StopAcquisition requests the loop to stop. The loop observes the request
// at its next poll timeout.
func (d *Driver) StopAcquisition() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquireRequested {
		d.logger.Info().Msg("gige-capture: stop requested")
	}
	d.acquireRequested = false
}

// Shutdown stops acquisition and releases the camera. Only the first call
// has an effect.
func (d *Driver) Shutdown() {
	d.shutdown.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		d.acquireRequested = false
		d.conn.Shutdown()
		d.drainQueueLocked()
		d.setStateLocked(StateIdle, StatusDisconnected)
		d.logger.Info().
			Uint64("image_counter", d.imageCounter).
			Int("buffers_outstanding", d.pool.Outstanding()).
			Msg("gige-capture: shut down")
	})
}

func (d *Driver) drainQueueLocked() {
	for _, buf := range d.queue.Drain() {
		buf.Release()
	}
}

// State returns the acquisition state.
func (d *Driver) State() AcquisitionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Status returns the detector status.
func (d *Driver) Status() DetectorStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Connection returns the camera connection state.
func (d *Driver) Connection() ConnectionState {
	return d.conn.State()
}

// GetParam reads one parameter.
func (d *Driver) GetParam(p Param) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return p.get(d.params)
}

// Params returns a copy of the current parameters.
func (d *Driver) Params() Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// SetParam writes one parameter. The camera must be connected. Stream
// parameters apply at the next stream creation; acquisition parameters at
// the next StartAcquisition.
func (d *Driver) SetParam(p Param, v int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.conn.Valid() {
		d.setStateLocked(d.state, StatusDisconnected)
		return fmt.Errorf("set %s: %w", p, ErrDisconnected)
	}

	params, err := p.set(d.params, v)
	if err != nil {
		return fmt.Errorf("set %s: %w", p, err)
	}
	d.params = params
	if p.affectsStream() {
		d.conn.SetStreamConfig(params.streamConfig())
	}
	d.logger.Debug().Str("param", p.String()).Int64("value", v).Msg("gige-capture: parameter set")
	return nil
}

// SetOutputFormat selects the camera pixel format producing the requested
// image layout. Not allowed while acquiring.
func (d *Driver) SetOutputFormat(want OutputFormat) (PixelFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.conn.Valid() {
		d.setStateLocked(d.state, StatusDisconnected)
		return 0, ErrDisconnected
	}
	if d.state == StateAcquiring {
		return 0, ErrAlreadyAcquiring
	}
	cam := d.conn.Camera()
	if cam == nil {
		return 0, ErrDisconnected
	}
	fs := cameraFeatures(cam)
	if fs == nil {
		return 0, fmt.Errorf("camera has no feature model: %w", ErrUnsupportedFormat)
	}

	wire, err := resolveOutputFormat(fs, want)
	if err != nil {
		return 0, err
	}
	if err := fs.SetInteger(device.FeaturePixelFormat, int64(wire)); err != nil {
		return 0, fmt.Errorf("write pixel format %s: %w", wire, err)
	}
	d.logger.Info().
		Str("pixel_format", wire.String()).
		Str("color_mode", want.ColorMode.String()).
		Str("data_type", want.DataType.String()).
		Msg("gige-capture: output format selected")
	return wire, nil
}

// Stats returns a snapshot of driver state and statistics.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statsLocked()
}

func (d *Driver) statsLocked() Stats {
	return Stats{
		Camera:            d.conn.CameraName(),
		Connection:        d.conn.State().String(),
		State:             d.state.String(),
		Status:            d.status.String(),
		StreamID:          d.conn.StreamID(),
		ImageCounter:      d.imageCounter,
		NumImagesCounter:  d.delivered,
		TimeRemaining:     d.timeRemainingLocked(),
		ReplenishFailures: d.replenishFails,
		StreamRetries:     d.conn.Retries(),
		ControlLosts:      d.conn.ControlLosts(),
		QueueDepth:        d.queue.Len(),
		Pool:              d.pool.Stats(),
		Metrics:           d.collector.Snapshot(),
	}
}

func (d *Driver) timeRemainingLocked() time.Duration {
	if d.state != StateAcquiring || d.params.ImageMode != ImageModeMultiple {
		return 0
	}
	left := int64(d.params.NumImages) - int64(d.delivered)
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * d.params.AcquirePeriod
}

// Collector exposes the statistics collector, e.g. for the metrics endpoint.
func (d *Driver) Collector() *stats.Collector {
	return d.collector
}
