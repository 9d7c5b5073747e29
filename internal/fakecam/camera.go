// Package fakecam is an in-process simulated camera implementing the device
// contracts. It generates test patterns in any supported pixel format and can
// be scripted to produce bad frames, lose control, or fail stream creation.
package fakecam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

var (
	// ErrClosed is returned by operations on a closed camera
	ErrClosed = errors.New("fakecam: camera closed")
	// ErrStreamRefused is returned by scripted stream-creation failures
	ErrStreamRefused = errors.New("fakecam: stream creation refused")
	// ErrNoSuchFeature is returned for unknown features
	ErrNoSuchFeature = errors.New("fakecam: no such feature")
)

// Config describes the simulated camera.
type Config struct {
	Name        string
	Width       int
	Height      int
	PixelFormat device.PixelFormat
	// SupportedFormats is the PixelFormat enumeration. nil means the camera
	// has no enumeration node.
	SupportedFormats []device.PixelFormat
	// TickFrequency of the timestamp clock; 0 means no clock
	TickFrequency uint64
	// FrameRate drives the internal generator; 0 disables it (frames are
	// only produced by Emit)
	FrameRate float64
	// BadEvery makes every n-th generated frame a timeout; 0 disables
	BadEvery int
	// HasFrameCount exposes the AcquisitionFrameCount feature
	HasFrameCount bool
	// NoDevice and NoFeatures simulate broken cameras
	NoDevice   bool
	NoFeatures bool
}

// DefaultConfig returns a 640x480 Mono8 camera with every table format advertised.
func DefaultConfig() Config {
	return Config{
		Name:        "Fake_Camera_0",
		Width:       640,
		Height:      480,
		PixelFormat: device.PixelFormatMono8,
		SupportedFormats: []device.PixelFormat{
			device.PixelFormatMono8,
			device.PixelFormatMono12,
			device.PixelFormatMono12p,
			device.PixelFormatMono12Packed,
			device.PixelFormatMono16,
			device.PixelFormatRGB8Packed,
			device.PixelFormatBayerRG8,
			device.PixelFormatBayerRG12,
		},
		TickFrequency: 1_000_000_000,
		HasFrameCount: true,
	}
}

// Camera is the simulated camera. The zero value is not usable; use New.
type Camera struct {
	mu  sync.Mutex
	cfg Config

	closed     bool
	caching    bool
	mode       device.AcquisitionMode
	frameCount int64
	acquiring  bool
	stream     *Stream
	lostFns    []func()

	failStreams int
	opens       int
	streams     int
	starts      int
	stops       int

	seq    atomic.Uint64
	genCtx context.CancelFunc
	genWG  sync.WaitGroup
}

// New creates a simulated camera.
func New(cfg Config) *Camera {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 480
	}
	if cfg.PixelFormat == 0 {
		cfg.PixelFormat = device.PixelFormatMono8
	}
	return &Camera{cfg: cfg, frameCount: 1}
}

// Opener returns a device.Opener that (re)opens this camera. The name must
// be empty or match the configured name.
func (c *Camera) Opener() device.Opener {
	return func(ctx context.Context, name string) (device.Camera, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if name != "" && name != c.cfg.Name {
			return nil, fmt.Errorf("fakecam: camera %q not found", name)
		}
		c.closed = false
		c.opens++
		return c, nil
	}
}

// Name implements device.Camera.
func (c *Camera) Name() string {
	return c.cfg.Name
}

// Device implements device.Camera.
func (c *Camera) Device() device.Device {
	if c.cfg.NoDevice {
		return nil
	}
	return (*fakeDevice)(c)
}

// CreateStream implements device.Camera.
func (c *Camera) CreateStream(cfg device.StreamConfig) (device.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	c.streams++
	if c.failStreams > 0 {
		c.failStreams--
		return nil, ErrStreamRefused
	}
	s := newStream(cfg)
	c.stream = s
	return s, nil
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

// StartAcquisition implements device.Camera. With a frame rate configured,
// frames are generated on an internal goroutine according to the mode.
func (c *Camera) StartAcquisition() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.starts++
	c.acquiring = true

	if c.cfg.FrameRate > 0 && c.genCtx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.genCtx = cancel
		limit := int64(-1)
		switch c.mode {
		case device.ModeSingleFrame:
			limit = 1
		case device.ModeMultiFrame:
			limit = c.frameCount
		}
		c.genWG.Add(1)
		go c.generate(ctx, limit)
	}
	return nil
}

// StopAcquisition implements device.Camera.
func (c *Camera) StopAcquisition() error {
	c.mu.Lock()
	c.stops++
	c.acquiring = false
	cancel := c.genCtx
	c.genCtx = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.genWG.Wait()
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
	_ = c.StopAcquisition()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.lostFns = nil
	return nil
}

func (c *Camera) generate(ctx context.Context, limit int64) {
	defer c.genWG.Done()

	interval := time.Duration(float64(time.Second) / c.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var produced int64
	for limit < 0 || produced < limit {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		status := device.StatusSuccess
		n := c.seq.Load() + 1
		if c.cfg.BadEvery > 0 && n%uint64(c.cfg.BadEvery) == 0 {
			status = device.StatusTimeout
		}
		c.Emit(status)
		produced++
	}
}

// --- scripting API ---

// FrameOverride overrides the generated frame. Zero fields take the camera's
// current settings.
type FrameOverride struct {
	Status      device.BufferStatus
	PixelFormat device.PixelFormat
	Width       int
	Height      int
	// Payload replaces the generated pattern
	Payload []byte
	// Size overrides the reported filled size
	Size int

	ResentPackets  uint64
	MissingPackets uint64
}

// Emit produces one generated frame with the given status. Returns false when
// the stream has no free buffer (counted as an underrun) or no stream exists.
func (c *Camera) Emit(status device.BufferStatus) bool {
	return c.EmitFrame(FrameOverride{Status: status})
}

// EmitFrame produces one frame described by ov and fires the stream's
// buffer-ready notification on the calling goroutine.
func (c *Camera) EmitFrame(ov FrameOverride) bool {
	c.mu.Lock()
	s := c.stream
	if ov.PixelFormat == 0 {
		ov.PixelFormat = c.cfg.PixelFormat
	}
	if ov.Width == 0 {
		ov.Width = c.cfg.Width
	}
	if ov.Height == 0 {
		ov.Height = c.cfg.Height
	}
	c.mu.Unlock()

	if s == nil {
		return false
	}

	seq := c.seq.Add(1)
	payload := ov.Payload
	if payload == nil {
		payload = Pattern(ov.PixelFormat, ov.Width, ov.Height, seq)
	}
	return s.deliver(ov, payload, uint64(time.Now().UnixNano()))
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

// FailNextStreams makes the next n CreateStream calls fail.
func (c *Camera) FailNextStreams(n int) {
	c.mu.Lock()
	c.failStreams = n
	c.mu.Unlock()
}

// SetPixelFormat changes the format of generated frames.
func (c *Camera) SetPixelFormat(f device.PixelFormat) {
	c.mu.Lock()
	c.cfg.PixelFormat = f
	c.mu.Unlock()
}

// CurrentStream returns the most recently created stream.
func (c *Camera) CurrentStream() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Calls reports how often the lifecycle methods were called.
type Calls struct {
	Opens, Streams, Starts, Stops int
}

// Calls returns lifecycle call counts.
func (c *Camera) Calls() Calls {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Calls{Opens: c.opens, Streams: c.streams, Starts: c.starts, Stops: c.stops}
}

// Mode returns the acquisition mode last set.
func (c *Camera) Mode() device.AcquisitionMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Acquiring reports whether acquisition is started.
func (c *Camera) Acquiring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquiring
}

// RegisterCaching reports the register cache policy last applied.
func (c *Camera) RegisterCaching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caching
}

// Closed reports whether the camera is closed.
func (c *Camera) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
