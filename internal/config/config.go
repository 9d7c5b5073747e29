// Package config loads the gige-capture service configuration.
//
// Values come from, in order of precedence: GIGE_* environment variables,
// the YAML file (optional), and Default().
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	gigecapture "github.com/e7canasta/orion-care-sensor/modules/gige-capture"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/convert"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/fakecam"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/gige"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/gstcam"
)

// Config is the complete service configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Stream      StreamConfig      `yaml:"stream"`
	Conversion  ConversionConfig  `yaml:"conversion"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Simulator   SimulatorConfig   `yaml:"simulator"`
	HTTP        HTTPConfig        `yaml:"http"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	IPC         IPCConfig         `yaml:"ipc"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Log         LogConfig         `yaml:"log"`
}

// CameraConfig selects and opens the camera.
type CameraConfig struct {
	Name string `yaml:"name"`
	// Backend is "fake" or "gst"
	Backend       string `yaml:"backend"`
	EnableCaching bool   `yaml:"enable_caching"`
	// MaxMemory caps the buffer pool in bytes (0 = unlimited)
	MaxMemory int64 `yaml:"max_memory"`
}

// StreamConfig holds transport settings, applied per stream.
type StreamConfig struct {
	FrameRetentionUS int           `yaml:"frame_retention_us"`
	PacketResend     bool          `yaml:"packet_resend"`
	PacketTimeoutUS  int           `yaml:"packet_timeout_us"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	NumBuffers       int           `yaml:"num_buffers"`
}

// ConversionConfig controls 12-bit unpacking and sample shifting.
type ConversionConfig struct {
	PixelFormatAlign string `yaml:"pixel_format_align"` // low, high
	ShiftDir         string `yaml:"shift_dir"`          // none, left, right
	ShiftBits        uint   `yaml:"shift_bits"`
}

// AcquisitionConfig holds the image-mode settings.
type AcquisitionConfig struct {
	ImageMode      string        `yaml:"image_mode"` // single, multiple, continuous
	NumImages      int           `yaml:"num_images"`
	AcquirePeriod  time.Duration `yaml:"acquire_period"`
	ArrayCallbacks bool          `yaml:"array_callbacks"`
	// AutoStart starts acquiring once the system is ready
	AutoStart bool `yaml:"auto_start"`
}

// SimulatorConfig drives the fake and gst backends.
type SimulatorConfig struct {
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	PixelFormat string  `yaml:"pixel_format"`
	FPS         float64 `yaml:"fps"`
	// BadEvery makes every n-th fake frame time out (0 = never)
	BadEvery int `yaml:"bad_every"`
}

// HTTPConfig configures the control API.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// IPCConfig configures the Unix socket frame sink.
type IPCConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
	OutboxSize int    `yaml:"outbox_size"`
}

// MQTTConfig configures the telemetry publisher.
type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Interval    time.Duration `yaml:"interval"`
	QoS         byte          `yaml:"qos"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// Default returns the built-in configuration: a fake camera, HTTP on :8080,
// metrics on, IPC and MQTT off.
func Default() *Config {
	params := gigecapture.DefaultParams()
	return &Config{
		Camera: CameraConfig{
			Name:    "Fake_Camera_0",
			Backend: "fake",
		},
		Stream: StreamConfig{
			FrameRetentionUS: int(params.FrameRetention / time.Microsecond),
			PacketResend:     params.PacketResend,
			PacketTimeoutUS:  int(params.PacketTimeout / time.Microsecond),
			RetryDelay:       gige.DefaultStreamRetry().RetryDelay,
			NumBuffers:       gigecapture.DefaultNumBuffers,
		},
		Conversion: ConversionConfig{
			PixelFormatAlign: "low",
			ShiftDir:         "none",
			ShiftBits:        convert.DefaultShiftBits,
		},
		Acquisition: AcquisitionConfig{
			ImageMode:      "continuous",
			NumImages:      params.NumImages,
			AcquirePeriod:  50 * time.Millisecond,
			ArrayCallbacks: true,
		},
		Simulator: SimulatorConfig{
			Width:       640,
			Height:      480,
			PixelFormat: "Mono8",
			FPS:         20,
		},
		HTTP:    HTTPConfig{ListenAddr: ":8080"},
		Metrics: MetricsConfig{Enabled: true, Namespace: "gige_capture"},
		IPC: IPCConfig{
			SocketPath: "/tmp/gige_capture.sock",
			OutboxSize: 20,
		},
		MQTT: MQTTConfig{
			Broker:      "localhost:1883",
			ClientID:    "gige-capture",
			TopicPrefix: "gige-capture",
			Interval:    5 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv applies GIGE_* overrides:
//
//	GIGE_CAMERA_NAME, GIGE_CAMERA_BACKEND, GIGE_IMAGE_MODE, GIGE_NUM_IMAGES,
//	GIGE_SIM_FPS, GIGE_SIM_PIXEL_FORMAT, GIGE_HTTP_LISTEN_ADDR,
//	GIGE_IPC_ENABLED, GIGE_IPC_SOCKET_PATH, GIGE_MQTT_ENABLED,
//	GIGE_MQTT_BROKER, GIGE_LOG_LEVEL, GIGE_LOG_FORMAT
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = strings.EqualFold(strings.TrimSpace(v), "true")
		}
	}

	str("GIGE_CAMERA_NAME", &c.Camera.Name)
	str("GIGE_CAMERA_BACKEND", &c.Camera.Backend)
	str("GIGE_IMAGE_MODE", &c.Acquisition.ImageMode)
	str("GIGE_SIM_PIXEL_FORMAT", &c.Simulator.PixelFormat)
	str("GIGE_HTTP_LISTEN_ADDR", &c.HTTP.ListenAddr)
	boolean("GIGE_IPC_ENABLED", &c.IPC.Enabled)
	str("GIGE_IPC_SOCKET_PATH", &c.IPC.SocketPath)
	boolean("GIGE_MQTT_ENABLED", &c.MQTT.Enabled)
	str("GIGE_MQTT_BROKER", &c.MQTT.Broker)
	str("GIGE_LOG_LEVEL", &c.Log.Level)
	str("GIGE_LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("GIGE_NUM_IMAGES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("GIGE_NUM_IMAGES must be a valid integer")
		}
		c.Acquisition.NumImages = n
	}
	if v, ok := lookup("GIGE_SIM_FPS"); ok && v != "" {
		fps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.New("GIGE_SIM_FPS must be a valid number")
		}
		c.Simulator.FPS = fps
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch c.Camera.Backend {
	case "fake", "gst":
	default:
		return fmt.Errorf("camera.backend must be 'fake' or 'gst', got %q", c.Camera.Backend)
	}
	if c.Camera.MaxMemory < 0 {
		return fmt.Errorf("camera.max_memory must be >= 0")
	}
	if c.Stream.NumBuffers <= 0 {
		return fmt.Errorf("stream.num_buffers must be > 0")
	}
	if c.Simulator.Width <= 0 || c.Simulator.Height <= 0 {
		return fmt.Errorf("simulator.width and simulator.height must be > 0")
	}
	if c.Simulator.FPS < 0 {
		return fmt.Errorf("simulator.fps must be >= 0")
	}
	if _, err := device.ParsePixelFormat(c.Simulator.PixelFormat); err != nil {
		return fmt.Errorf("simulator.pixel_format: %w", err)
	}

	if _, err := c.Params(); err != nil {
		return err
	}

	if c.HTTP.ListenAddr == "" {
		return fmt.Errorf("http.listen_addr cannot be empty")
	}
	if c.IPC.Enabled && c.IPC.SocketPath == "" {
		return fmt.Errorf("ipc.socket_path is required when ipc is enabled")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error'")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'console' or 'json'")
	}
	return nil
}

// Params converts the stream, conversion and acquisition sections to driver
// parameters.
func (c *Config) Params() (gigecapture.Params, error) {
	p := gigecapture.DefaultParams()
	p.FrameRetention = time.Duration(c.Stream.FrameRetentionUS) * time.Microsecond
	p.PacketResend = c.Stream.PacketResend
	p.PacketTimeout = time.Duration(c.Stream.PacketTimeoutUS) * time.Microsecond

	var err error
	if p.PixelFormatAlign, err = convert.ParseAlign(c.Conversion.PixelFormatAlign); err != nil {
		return p, fmt.Errorf("conversion.pixel_format_align: %w", err)
	}
	if p.ShiftDir, err = convert.ParseShiftDirection(c.Conversion.ShiftDir); err != nil {
		return p, fmt.Errorf("conversion.shift_dir: %w", err)
	}
	p.ShiftBits = c.Conversion.ShiftBits

	if p.ImageMode, err = gigecapture.ParseImageMode(c.Acquisition.ImageMode); err != nil {
		return p, fmt.Errorf("acquisition.image_mode: %w", err)
	}
	p.NumImages = c.Acquisition.NumImages
	p.AcquirePeriod = c.Acquisition.AcquirePeriod
	p.ArrayCallbacks = c.Acquisition.ArrayCallbacks

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Driver builds the driver configuration. Validate must have succeeded.
func (c *Config) Driver() gigecapture.Config {
	dc := gigecapture.DefaultConfig()
	dc.CameraName = c.Camera.Name
	dc.EnableCaching = c.Camera.EnableCaching
	dc.MaxMemory = c.Camera.MaxMemory
	dc.NumBuffers = c.Stream.NumBuffers
	dc.Params, _ = c.Params()
	if c.Stream.RetryDelay > 0 {
		dc.StreamRetry.RetryDelay = c.Stream.RetryDelay
		dc.StreamRetry.MaxRetryDelay = c.Stream.RetryDelay
	}
	dc.MetricsNamespace = c.Metrics.Namespace
	return dc
}

// FakeCamera builds the simulated camera settings.
func (c *Config) FakeCamera() fakecam.Config {
	fc := fakecam.DefaultConfig()
	fc.Name = c.Camera.Name
	fc.Width = c.Simulator.Width
	fc.Height = c.Simulator.Height
	fc.PixelFormat, _ = device.ParsePixelFormat(c.Simulator.PixelFormat)
	fc.FrameRate = c.Simulator.FPS
	fc.BadEvery = c.Simulator.BadEvery
	return fc
}

// GstCamera builds the GStreamer test source settings.
func (c *Config) GstCamera() gstcam.Config {
	pf, _ := device.ParsePixelFormat(c.Simulator.PixelFormat)
	return gstcam.Config{
		Name:        c.Camera.Name,
		Width:       c.Simulator.Width,
		Height:      c.Simulator.Height,
		FPS:         c.Simulator.FPS,
		PixelFormat: pf,
	}
}

// IsDebug returns true if the log level is set to debug.
func (c *Config) IsDebug() bool {
	return c.Log.Level == "debug"
}

// String returns a one-line summary for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Camera: %s (%s), Mode: %s, Sim: %dx%d %s @%.1ffps, HTTP: %s, IPC: %t, MQTT: %t, Log: %s/%s}",
		c.Camera.Name, c.Camera.Backend, c.Acquisition.ImageMode,
		c.Simulator.Width, c.Simulator.Height, c.Simulator.PixelFormat, c.Simulator.FPS,
		c.HTTP.ListenAddr, c.IPC.Enabled, c.MQTT.Enabled, c.Log.Level, c.Log.Format)
}
