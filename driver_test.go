package gigecapture

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/fakecam"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/gige"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

// recorder keeps a copy of every delivered frame.
type recorder struct {
	mu     sync.Mutex
	descs  []FrameDescriptor
	data   [][]byte
	retain bool
	kept   []*Frame
}

func (r *recorder) DeliverFrame(f *Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs = append(r.descs, f.Descriptor)
	r.data = append(r.data, append([]byte(nil), f.Data...))
	if r.retain {
		r.kept = append(r.kept, f.Retain())
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.descs)
}

func (r *recorder) frame(i int) (FrameDescriptor, []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.descs[i], r.data[i]
}

type driverFixture struct {
	d    *Driver
	cam  *fakecam.Camera
	rec  *recorder
	logs *syncWriter
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StreamRetry = gige.RetryConfig{
		MaxRetries:    1,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: 10 * time.Millisecond,
	}
	return cfg
}

// newDriverFixture connects a driver to a fake camera, starts the loop and
// signals readiness.
func newDriverFixture(t *testing.T, camCfg fakecam.Config, mutate func(*Config)) *driverFixture {
	t.Helper()

	cam := fakecam.New(camCfg)
	rec := &recorder{}
	logs := &syncWriter{w: &bytes.Buffer{}}

	cfg := testConfig()
	cfg.CameraName = camCfg.Name
	if mutate != nil {
		mutate(&cfg)
	}

	d, err := New(cam.Opener(), rec, cfg, zerolog.New(logs))
	require.NoError(t, err)
	require.NoError(t, d.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		d.Shutdown()
	})

	d.SignalReady()
	require.Eventually(t, func() bool { return d.State() == StateIdle }, waitFor, tick)

	return &driverFixture{d: d, cam: cam, rec: rec, logs: logs}
}

func (f *driverFixture) waitState(t *testing.T, want AcquisitionState) {
	t.Helper()
	require.Eventually(t, func() bool { return f.d.State() == want }, waitFor, tick,
		"state stuck at %s, want %s", f.d.State(), want)
}

func (f *driverFixture) waitImages(t *testing.T, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return f.d.Stats().ImageCounter >= n }, waitFor, tick)
}

// syncWriter serializes log writes from the loop and the test goroutine.
type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *syncWriter) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.String()
}

func TestNew_RequiresOpener(t *testing.T) {
	_, err := New(nil, nil, DefaultConfig(), zerolog.Nop())
	assert.Error(t, err)
}

func TestNew_RejectsInvalidParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Params.NumImages = 0
	_, err := New(fakecam.New(fakecam.DefaultConfig()).Opener(), nil, cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestRun_WaitsForSystemReady(t *testing.T) {
	cam := fakecam.New(fakecam.DefaultConfig())
	d, err := New(cam.Opener(), nil, testConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer d.Shutdown()
	require.NoError(t, d.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateWaitingForSystemReady, d.State())
	assert.ErrorIs(t, d.StartAcquisition(context.Background()), ErrNotReady)

	d.SignalReady()
	d.SignalReady() // idempotent
	require.Eventually(t, func() bool { return d.State() == StateIdle }, waitFor, tick)
	assert.Equal(t, StatusIdle, d.Status())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_CancelledWhileWaiting(t *testing.T) {
	d, err := New(fakecam.New(fakecam.DefaultConfig()).Opener(), nil, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Run(ctx), context.Canceled)
	assert.Equal(t, StateWaitingForSystemReady, d.State())
}

func TestConnect_Failure(t *testing.T) {
	camCfg := fakecam.DefaultConfig()
	camCfg.NoFeatures = true
	d, err := New(fakecam.New(camCfg).Opener(), nil, testConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer d.Shutdown()

	err = d.Connect(context.Background())
	assert.ErrorIs(t, err, gige.ErrNoFeatures)
	assert.Equal(t, StatusDisconnected, d.Status())
	assert.Equal(t, gige.StateFaulted, d.Connection())
}

func TestSetParam_Disconnected(t *testing.T) {
	d, err := New(fakecam.New(fakecam.DefaultConfig()).Opener(), nil, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	err = d.SetParam(ParamNumImages, 5)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, StatusDisconnected, d.Status())

	v, err := d.GetParam(ParamNumImages)
	require.NoError(t, err)
	assert.EqualValues(t, 100, v, "reads work without a camera")
}

func TestSetParam(t *testing.T) {
	f := newDriverFixture(t, fakecam.DefaultConfig(), nil)

	tests := []struct {
		param Param
		value int64
	}{
		{ParamFrameRetention, 250_000},
		{ParamPacketResend, 0},
		{ParamPacketTimeout, 40_000},
		{ParamConvertPixelFormat, 1},
		{ParamShiftDir, 2},
		{ParamShiftBits, 2},
		{ParamImageMode, 1},
		{ParamNumImages, 7},
		{ParamArrayCallbacks, 0},
		{ParamAcquirePeriod, 50},
		{ParamBinX, 2},
		{ParamBinY, 4},
	}
	for _, tt := range tests {
		t.Run(tt.param.String(), func(t *testing.T) {
			require.NoError(t, f.d.SetParam(tt.param, tt.value))
			got, err := f.d.GetParam(tt.param)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}

	p := f.d.Params()
	assert.Equal(t, 250*time.Millisecond, p.FrameRetention)
	assert.Equal(t, 40*time.Millisecond, p.PacketTimeout)
	assert.False(t, p.PacketResend)
}

func TestSetParam_Invalid(t *testing.T) {
	f := newDriverFixture(t, fakecam.DefaultConfig(), nil)

	tests := []struct {
		name  string
		param Param
		value int64
	}{
		{"zero images", ParamNumImages, 0},
		{"shift too large", ParamShiftBits, 16},
		{"negative shift", ParamShiftBits, -1},
		{"bad mode", ParamImageMode, 9},
		{"bad align", ParamConvertPixelFormat, 3},
		{"bad direction", ParamShiftDir, 5},
		{"zero binning", ParamBinX, 0},
		{"unknown", Param(99), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.d.SetParam(tt.param, tt.value), ErrInvalidParam)
		})
	}
	assert.Equal(t, DefaultParams(), f.d.Params(), "failed writes leave parameters untouched")
}

func TestSetParam_StreamSettingsApplyOnNextStream(t *testing.T) {
	f := newDriverFixture(t, fakecam.DefaultConfig(), nil)
	before := f.cam.CurrentStream()

	require.NoError(t, f.d.SetParam(ParamPacketTimeout, 30_000))
	assert.Same(t, before, f.cam.CurrentStream(), "no stream rebuild on write")
	assert.Equal(t, device.DefaultStreamConfig().PacketTimeout, before.Config().PacketTimeout)

	require.NoError(t, f.d.SetParam(ParamImageMode, int64(ImageModeSingle)))
	require.NoError(t, f.d.StartAcquisition(context.Background()))
	require.True(t, f.cam.Emit(device.StatusSuccess))
	f.waitState(t, StateIdle)

	require.Eventually(t, func() bool { return f.cam.CurrentStream() != before }, waitFor, tick)
	assert.Equal(t, 30*time.Millisecond, f.cam.CurrentStream().Config().PacketTimeout)
}

func TestSetOutputFormat(t *testing.T) {
	tests := []struct {
		name      string
		supported []device.PixelFormat
		want      OutputFormat
		wire      device.PixelFormat
		wantErr   error
	}{
		{
			name:      "first supported table row",
			supported: fakecam.DefaultConfig().SupportedFormats,
			want:      OutputFormat{ColorMono, UInt16, BayerNone},
			wire:      device.PixelFormatMono16,
		},
		{
			name:      "skips unsupported rows",
			supported: []device.PixelFormat{device.PixelFormatMono8, device.PixelFormatMono12p},
			want:      OutputFormat{ColorMono, UInt16, BayerNone},
			wire:      device.PixelFormatMono12p,
		},
		{
			name:      "bayer",
			supported: fakecam.DefaultConfig().SupportedFormats,
			want:      OutputFormat{ColorBayer, UInt8, BayerRGGB},
			wire:      device.PixelFormatBayerRG8,
		},
		{
			name:      "not advertised",
			supported: fakecam.DefaultConfig().SupportedFormats,
			want:      OutputFormat{ColorBayer, UInt8, BayerGRBG},
			wantErr:   ErrUnsupportedFormat,
		},
		{
			name:      "no table row",
			supported: fakecam.DefaultConfig().SupportedFormats,
			want:      OutputFormat{ColorRGB1, UInt8, BayerRGGB},
			wantErr:   ErrUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			camCfg := fakecam.DefaultConfig()
			camCfg.SupportedFormats = tt.supported
			f := newDriverFixture(t, camCfg, nil)

			wire, err := f.d.SetOutputFormat(tt.want)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wire, wire)

			got, err := f.cam.Device().Features().GetInteger(device.FeaturePixelFormat)
			require.NoError(t, err)
			assert.EqualValues(t, tt.wire, got, "format written to the camera")
		})
	}
}

func TestSetOutputFormat_WhileAcquiring(t *testing.T) {
	f := newDriverFixture(t, fakecam.DefaultConfig(), nil)
	require.NoError(t, f.d.StartAcquisition(context.Background()))

	_, err := f.d.SetOutputFormat(OutputFormat{ColorMono, UInt8, BayerNone})
	assert.ErrorIs(t, err, ErrAlreadyAcquiring)
}

func TestStartAcquisition_AlreadyAcquiring(t *testing.T) {
	f := newDriverFixture(t, fakecam.DefaultConfig(), nil)
	require.NoError(t, f.d.StartAcquisition(context.Background()))
	assert.ErrorIs(t, f.d.StartAcquisition(context.Background()), ErrAlreadyAcquiring)
	assert.Equal(t, StatusAcquire, f.d.Status())
	assert.True(t, f.cam.Acquiring())
}

func TestStartAcquisition_PrimeFailureReleasesBuffers(t *testing.T) {
	camCfg := fakecam.DefaultConfig()
	camCfg.Width, camCfg.Height = 100, 100
	f := newDriverFixture(t, camCfg, func(c *Config) {
		c.MaxMemory = 5 * 100 * 100 // room for five of twenty buffers
	})

	err := f.d.StartAcquisition(context.Background())
	assert.ErrorIs(t, err, ErrAllocation)
	assert.Equal(t, StateIdle, f.d.State())
	assert.EqualValues(t, 0, f.d.Stats().Pool.Outstanding, "primed buffers released with the old stream")
	assert.False(t, f.cam.Acquiring())
}

func TestStartAcquisition_PrimeFailureWithRebuildFailureFaults(t *testing.T) {
	camCfg := fakecam.DefaultConfig()
	camCfg.Width, camCfg.Height = 100, 100
	f := newDriverFixture(t, camCfg, func(c *Config) {
		c.MaxMemory = 5 * 100 * 100
	})
	f.cam.FailNextStreams(2)

	err := f.d.StartAcquisition(context.Background())
	assert.ErrorIs(t, err, ErrAllocation)
	assert.ErrorIs(t, err, ErrStreamCreation)
	assert.Equal(t, StateFaulted, f.d.State())
	assert.Equal(t, StatusError, f.d.Status())
	assert.EqualValues(t, 0, f.d.Stats().Pool.Outstanding)
	assert.False(t, f.cam.Acquiring())

	assert.ErrorIs(t, f.d.StartAcquisition(context.Background()), ErrFaulted)
}

func TestShutdown_Idempotent(t *testing.T) {
	f := newDriverFixture(t, fakecam.DefaultConfig(), nil)
	require.NoError(t, f.d.StartAcquisition(context.Background()))

	f.d.Shutdown()
	f.d.Shutdown()

	assert.True(t, f.cam.Closed())
	assert.Equal(t, StatusDisconnected, f.d.Status())
	assert.EqualValues(t, 0, f.d.Stats().Pool.Outstanding)
	assert.ErrorIs(t, f.d.Connect(context.Background()), gige.ErrShutdown)
}

func TestReport(t *testing.T) {
	f := newDriverFixture(t, fakecam.DefaultConfig(), nil)

	var short, long bytes.Buffer
	require.NoError(t, f.d.Report(&short, 0))
	require.NoError(t, f.d.Report(&long, 1))

	assert.Contains(t, short.String(), "gige-capture "+Version)
	assert.Contains(t, short.String(), "state:             idle (Idle)")
	assert.NotContains(t, short.String(), "image mode:")
	assert.Contains(t, long.String(), "image mode:        continuous")
	assert.Contains(t, long.String(), "binning:           1x1")
}

func TestOnStateChange(t *testing.T) {
	cam := fakecam.New(fakecam.DefaultConfig())
	d, err := New(cam.Opener(), nil, testConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer d.Shutdown()

	var mu sync.Mutex
	var seen []AcquisitionState
	d.OnStateChange(func(s AcquisitionState, _ DetectorStatus, _ ConnectionState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, d.Connect(context.Background()))
	d.SignalReady()
	require.NoError(t, d.Connect(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []AcquisitionState{StateWaitingForSystemReady, StateIdle}, seen)
}
