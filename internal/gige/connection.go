package gige

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

// State of the camera connection
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// ConnectionConfig configures a ConnectionManager.
type ConnectionConfig struct {
	// CameraName selects the camera; empty opens the first one
	CameraName string
	// EnableCaching turns on the device's register cache
	EnableCaching bool
	Stream        device.StreamConfig
	StreamRetry   RetryConfig
}

// ConnectionManager owns the camera and stream lifecycle.
//
// Connect, CreateStream and Shutdown are serialized by one mutex. Valid and
// State are lock-free reads so the acquisition loop and the control-lost
// callback never wait on a reconnect in progress.
type ConnectionManager struct {
	opener  device.Opener
	handler *Handler
	logger  zerolog.Logger

	mu       sync.Mutex
	cfg      ConnectionConfig
	camera   device.Camera
	stream   device.Stream
	streamID string
	closed   bool

	state        atomic.Int32
	valid        atomic.Bool
	generation   atomic.Uint64 // incremented per stream instance
	cameraEpoch  atomic.Uint64 // incremented per camera object
	retries      atomic.Uint32
	controlLosts atomic.Uint32

	onState func(State)
}

// NewConnectionManager creates a manager in state Disconnected.
func NewConnectionManager(opener device.Opener, handler *Handler, cfg ConnectionConfig, logger zerolog.Logger) *ConnectionManager {
	if cfg.StreamRetry.MaxRetries == 0 && cfg.StreamRetry.RetryDelay == 0 {
		cfg.StreamRetry = DefaultStreamRetry()
	}
	return &ConnectionManager{
		opener:  opener,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With().Str("component", "gige-connection").Logger(),
	}
}

// OnStateChange registers fn to observe state transitions. Must be called
// before Connect.
func (c *ConnectionManager) OnStateChange(fn func(State)) {
	c.onState = fn
}

func (c *ConnectionManager) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return
	}
	c.logger.Debug().Str("from", old.String()).Str("to", s.String()).Msg("gige: connection state changed")
	if c.onState != nil {
		c.onState(s)
	}
}

// State returns the current connection state.
func (c *ConnectionManager) State() State {
	return State(c.state.Load())
}

// Valid reports whether the camera connection is usable. It turns false as
// soon as the camera reports loss of control.
func (c *ConnectionManager) Valid() bool {
	return c.valid.Load()
}

// Generation identifies the current stream instance.
func (c *ConnectionManager) Generation() uint64 {
	return c.generation.Load()
}

// Retries returns the lifetime number of stream-creation retries.
func (c *ConnectionManager) Retries() uint32 {
	return c.retries.Load()
}

// ControlLosts returns how many times the camera reported loss of control.
func (c *ConnectionManager) ControlLosts() uint32 {
	return c.controlLosts.Load()
}

// Camera returns the open camera, or nil.
func (c *ConnectionManager) Camera() device.Camera {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.camera
}

// Stream returns the current stream, or nil.
func (c *ConnectionManager) Stream() device.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// StreamID returns the id of the current stream instance.
func (c *ConnectionManager) StreamID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamID
}

// CameraName returns the configured camera name.
func (c *ConnectionManager) CameraName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.CameraName
}

// SetStreamConfig replaces the stream settings. They apply at the next stream
// (re)creation.
func (c *ConnectionManager) SetStreamConfig(cfg device.StreamConfig) {
	c.mu.Lock()
	c.cfg.Stream = cfg
	c.mu.Unlock()
}

// StreamConfig returns the stream settings in effect for the next stream.
func (c *ConnectionManager) StreamConfig() device.StreamConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Stream
}

// Connect (re)opens the camera and creates a stream.
//
// Sequence: invalidate, stop and close the previous camera, open, validate
// the device and its feature model, apply the register cache policy, stop any
// running acquisition, create the stream, mark valid. Any failure leaves the
// manager Faulted; there is no automatic retry beyond the one built into
// stream creation.
func (c *ConnectionManager) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrShutdown
	}

	c.valid.Store(false)
	c.setState(StateConnecting)

	if err := c.connectLocked(ctx); err != nil {
		c.setState(StateFaulted)
		c.logger.Error().Err(err).Str("camera", c.cfg.CameraName).Msg("gige: connect failed")
		return err
	}

	c.valid.Store(true)
	c.setState(StateConnected)
	c.logger.Info().
		Str("camera", c.camera.Name()).
		Str("stream_id", c.streamID).
		Msg("gige: camera connected")
	return nil
}

func (c *ConnectionManager) connectLocked(ctx context.Context) error {
	if c.camera != nil {
		if err := c.camera.StopAcquisition(); err != nil {
			c.logger.Debug().Err(err).Msg("gige: stop acquisition on old camera")
		}
	}
	c.teardownStreamLocked()
	c.closeCameraLocked()

	if err := c.openCameraLocked(ctx); err != nil {
		return err
	}

	if err := c.camera.StopAcquisition(); err != nil {
		c.logger.Warn().Err(err).Msg("gige: failed to stop acquisition after connect")
	}

	if freq := c.camera.Device().TimestampTickFrequency(); freq == 0 {
		c.logger.Info().Msg("gige: camera has no timestamp clock, using system clock")
	} else {
		c.logger.Info().Uint64("tick_frequency_hz", freq).Msg("gige: camera timestamp clock")
	}

	return c.createStreamLocked(ctx)
}

// openCameraLocked opens a new camera object and validates it.
func (c *ConnectionManager) openCameraLocked(ctx context.Context) error {
	cam, err := c.opener(ctx, c.cfg.CameraName)
	if err != nil {
		return fmt.Errorf("open camera %q: %w", c.cfg.CameraName, err)
	}

	dev := cam.Device()
	if dev == nil {
		_ = cam.Close()
		return fmt.Errorf("open camera %q: %w", c.cfg.CameraName, ErrNoDevice)
	}
	if dev.Features() == nil {
		_ = cam.Close()
		return fmt.Errorf("open camera %q: %w", c.cfg.CameraName, ErrNoFeatures)
	}

	if err := dev.SetRegisterCaching(c.cfg.EnableCaching); err != nil {
		c.logger.Warn().Err(err).Bool("enabled", c.cfg.EnableCaching).Msg("gige: register cache policy not applied")
	}

	epoch := c.cameraEpoch.Add(1)
	dev.OnControlLost(func() { c.controlLost(epoch) })

	c.camera = cam
	return nil
}

// controlLost runs on whatever goroutine the camera reports from. It only
// touches atomics.
func (c *ConnectionManager) controlLost(epoch uint64) {
	if c.cameraEpoch.Load() != epoch {
		return
	}
	c.controlLosts.Add(1)
	c.valid.Store(false)
	c.setState(StateFaulted)
	c.logger.Error().Msg("gige: camera control lost")
}

// CreateStream replaces the current stream with a new one built from the
// current stream settings.
func (c *ConnectionManager) CreateStream(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrShutdown
	}
	if c.camera == nil {
		return ErrNotConnected
	}
	if err := c.createStreamLocked(ctx); err != nil {
		c.valid.Store(false)
		c.setState(StateFaulted)
		return err
	}
	return nil
}

// createStreamLocked tears down the old stream and creates a new one. On
// failure it waits, re-creates the camera object and tries once more.
func (c *ConnectionManager) createStreamLocked(ctx context.Context) error {
	c.teardownStreamLocked()

	state := &RetryState{Retries: &c.retries}
	err := RunWithRetry(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			c.closeCameraLocked()
			if err := c.openCameraLocked(ctx); err != nil {
				return err
			}
		}
		stream, err := c.camera.CreateStream(c.cfg.Stream)
		if err != nil {
			return err
		}
		c.installStreamLocked(stream)
		return nil
	}, c.cfg.StreamRetry, state, c.logger)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStreamCreation, err)
	}
	return nil
}

func (c *ConnectionManager) installStreamLocked(stream device.Stream) {
	c.generation.Add(1)
	c.stream = stream
	c.streamID = uuid.NewString()
	stream.SetBufferReadyHandler(func() { c.handler.OnBufferReady(stream) })

	c.logger.Info().
		Str("stream_id", c.streamID).
		Uint64("generation", c.generation.Load()).
		Bool("packet_resend", c.cfg.Stream.PacketResend).
		Dur("packet_timeout", c.cfg.Stream.PacketTimeout).
		Dur("frame_retention", c.cfg.Stream.FrameRetention).
		Msg("gige: stream created")
}

func (c *ConnectionManager) teardownStreamLocked() {
	if c.stream == nil {
		return
	}
	c.stream.SetBufferReadyHandler(nil)
	if err := c.stream.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("gige: stream close failed")
	}
	c.stream = nil
	c.streamID = ""
}

func (c *ConnectionManager) closeCameraLocked() {
	if c.camera == nil {
		return
	}
	// Stale control-lost callbacks from this camera become no-ops
	c.cameraEpoch.Add(1)
	if err := c.camera.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("gige: camera close failed")
	}
	c.camera = nil
}

// Shutdown stops acquisition, invalidates the connection and releases the
// camera. Only the first call has an effect.
func (c *ConnectionManager) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.valid.Store(false)

	if c.camera != nil {
		if err := c.camera.StopAcquisition(); err != nil {
			c.logger.Debug().Err(err).Msg("gige: stop acquisition on shutdown")
		}
	}
	c.teardownStreamLocked()
	c.closeCameraLocked()
	c.setState(StateDisconnected)
	c.logger.Info().Msg("gige: connection shut down")
}
