// Package gstcam is a camera backend driven by a GStreamer test source.
//
// Frames come from videotestsrc through an appsink; each sample is copied
// into a buffer the acquisition pipeline pushed to the stream. Pipeline
// errors and end-of-stream on the bus are reported as loss of control, the
// same way a GigE camera reports a dropped control channel.
package gstcam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

var (
	// ErrClosed is returned by operations on a closed camera
	ErrClosed = errors.New("gstcam: camera closed")
	// ErrNoStream is returned by StartAcquisition before CreateStream
	ErrNoStream = errors.New("gstcam: no stream")
	// ErrNoSuchFeature is returned for features the backend does not model
	ErrNoSuchFeature = errors.New("gstcam: no such feature")
)

// Config configures the test source.
type Config struct {
	Name        string
	Width       int
	Height      int
	FPS         float64
	PixelFormat device.PixelFormat
}

// DefaultConfig returns a 640x480 Mono8 source at 30 fps.
func DefaultConfig() Config {
	return Config{
		Name:        "GStreamer_TestSource_0",
		Width:       640,
		Height:      480,
		FPS:         30,
		PixelFormat: device.PixelFormatMono8,
	}
}

// Camera implements device.Camera on a GStreamer pipeline.
type Camera struct {
	logger zerolog.Logger

	mu         sync.Mutex
	cfg        Config
	closed     bool
	caching    bool
	mode       device.AcquisitionMode
	frameCount int64
	stream     *Stream
	elements   *pipelineElements
	lostFns    []func()

	// frames produced in the current acquisition and its limit (<0 = none)
	produced atomic.Int64
	limit    atomic.Int64
	started  time.Time

	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup
}

// Opener returns a device.Opener for cfg. Each call opens a new camera.
func Opener(cfg Config, logger zerolog.Logger) device.Opener {
	return func(ctx context.Context, name string) (device.Camera, error) {
		if name != "" && name != cfg.Name {
			return nil, fmt.Errorf("gstcam: camera %q not found", name)
		}
		if err := checkGStreamerAvailable(); err != nil {
			return nil, err
		}
		return New(cfg, logger), nil
	}
}

// New creates a camera without touching GStreamer.
func New(cfg Config, logger zerolog.Logger) *Camera {
	def := DefaultConfig()
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.PixelFormat == 0 {
		cfg.PixelFormat = def.PixelFormat
	}
	return &Camera{
		cfg:        cfg,
		frameCount: 1,
		logger:     logger.With().Str("component", "gstcam").Str("camera", cfg.Name).Logger(),
	}
}

// Name implements device.Camera.
func (c *Camera) Name() string {
	return c.cfg.Name
}

// Device implements device.Camera.
func (c *Camera) Device() device.Device {
	return (*gstDevice)(c)
}

// CreateStream implements device.Camera.
func (c *Camera) CreateStream(cfg device.StreamConfig) (device.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.stream = newStream(cfg)
	return c.stream, nil
}

// SetAcquisitionMode implements device.Camera.
func (c *Camera) SetAcquisitionMode(mode device.AcquisitionMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.mode = mode
	return nil
}

// StartAcquisition builds the pipeline and sets it PLAYING.
func (c *Camera) StartAcquisition() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.stream == nil {
		return ErrNoStream
	}
	if c.elements != nil {
		return nil
	}

	elements, err := createPipeline(c.cfg, c.cfg.PixelFormat)
	if err != nil {
		return err
	}

	switch c.mode {
	case device.ModeSingleFrame:
		c.limit.Store(1)
	case device.ModeMultiFrame:
		c.limit.Store(c.frameCount)
	default:
		c.limit.Store(-1)
	}
	c.produced.Store(0)
	c.started = time.Now()

	stream := c.stream
	pf, width, height := c.cfg.PixelFormat, c.cfg.Width, c.cfg.Height
	started := c.started
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return c.onNewSample(sink, stream, pf, width, height, started)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		elements.Pipeline.SetState(gst.StateNull)
		return fmt.Errorf("gstcam: failed to start pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.monitorCancel = cancel
	c.elements = elements
	c.monitorWG.Add(1)
	go c.monitorBus(ctx, elements.Pipeline)

	c.logger.Info().
		Str("pixel_format", pf.String()).
		Int("width", width).
		Int("height", height).
		Float64("fps", c.cfg.FPS).
		Str("mode", c.mode.String()).
		Msg("gstcam: pipeline playing")
	return nil
}

// onNewSample runs on the GStreamer streaming thread.
func (c *Camera) onNewSample(sink *app.Sink, stream *Stream, pf device.PixelFormat, width, height int, started time.Time) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		c.logger.Warn().Msg("gstcam: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		c.logger.Warn().Msg("gstcam: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	if limit := c.limit.Load(); limit >= 0 && c.produced.Load() >= limit {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		c.logger.Warn().Msg("gstcam: empty buffer received")
		return gst.FlowOK
	}
	ts := uint64(time.Since(started).Nanoseconds())
	ok := stream.fill(data, pf, width, height, ts)
	buffer.Unmap()

	if ok {
		c.produced.Add(1)
	}
	return gst.FlowOK
}

// monitorBus polls the pipeline bus until ctx is done. Errors and EOS are
// reported as control loss.
func (c *Camera) monitorBus(ctx context.Context, pipeline *gst.Pipeline) {
	defer c.monitorWG.Done()

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			c.logger.Warn().Uint64("frames", uint64(c.produced.Load())).Msg("gstcam: end of stream")
			c.LoseControl()
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			c.logger.Error().
				Str("error", gerr.Error()).
				Str("debug", gerr.DebugString()).
				Msg("gstcam: pipeline error")
			c.LoseControl()
			return

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				oldState, newState := msg.ParseStateChanged()
				c.logger.Debug().
					Interface("from", oldState).
					Interface("to", newState).
					Msg("gstcam: pipeline state changed")
			}
		}
	}
}

// StopAcquisition implements device.Camera. The pipeline is torn down.
func (c *Camera) StopAcquisition() error {
	c.mu.Lock()
	elements := c.elements
	cancel := c.monitorCancel
	c.elements = nil
	c.monitorCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.monitorWG.Wait()

	if elements != nil {
		if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
			return fmt.Errorf("gstcam: failed to stop pipeline: %w", err)
		}
		c.logger.Info().Uint64("frames", uint64(c.produced.Load())).Msg("gstcam: pipeline stopped")
	}
	return nil
}

// PayloadSize implements device.Camera.
func (c *Camera) PayloadSize() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	return payloadSize(c.cfg.PixelFormat, c.cfg.Width, c.cfg.Height), nil
}

// Close implements device.Camera.
func (c *Camera) Close() error {
	err := c.StopAcquisition()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.lostFns = nil
	return err
}

// LoseControl fires the control-lost callbacks.
func (c *Camera) LoseControl() {
	c.mu.Lock()
	fns := append([]func(){}, c.lostFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Produced returns the frames delivered in the current acquisition.
func (c *Camera) Produced() int64 {
	return c.produced.Load()
}

func payloadSize(pf device.PixelFormat, width, height int) int {
	if pf == device.PixelFormatMono16 {
		return width * height * 2
	}
	return width * height
}
