package gige

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/fakecam"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/framequeue"
)

const testRetryDelay = 20 * time.Millisecond

func newTestManager(t *testing.T, cfg fakecam.Config) (*ConnectionManager, *fakecam.Camera) {
	t.Helper()
	cam := fakecam.New(cfg)
	h := NewHandler(framequeue.New(0), zerolog.Nop())
	cm := NewConnectionManager(cam.Opener(), h, ConnectionConfig{
		CameraName:    cfg.Name,
		EnableCaching: true,
		Stream:        device.DefaultStreamConfig(),
		StreamRetry: RetryConfig{
			MaxRetries:    1,
			RetryDelay:    testRetryDelay,
			MaxRetryDelay: testRetryDelay,
		},
	}, zerolog.Nop())
	return cm, cam
}

func TestConnect_Success(t *testing.T) {
	cm, cam := newTestManager(t, fakecam.DefaultConfig())
	assert.Equal(t, StateDisconnected, cm.State())

	require.NoError(t, cm.Connect(context.Background()))

	assert.Equal(t, StateConnected, cm.State())
	assert.True(t, cm.Valid())
	assert.True(t, cam.RegisterCaching())
	assert.NotNil(t, cm.Stream())
	assert.NotEmpty(t, cm.StreamID())
	assert.EqualValues(t, 1, cm.Generation())
	assert.GreaterOrEqual(t, cam.Calls().Stops, 1, "connect stops any running acquisition")
}

func TestConnect_InvalidCamera(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fakecam.Config)
		wantErr error
	}{
		{"no device", func(c *fakecam.Config) { c.NoDevice = true }, ErrNoDevice},
		{"no features", func(c *fakecam.Config) { c.NoFeatures = true }, ErrNoFeatures},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fakecam.DefaultConfig()
			tt.mutate(&cfg)
			cm, _ := newTestManager(t, cfg)

			err := cm.Connect(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StateFaulted, cm.State())
			assert.False(t, cm.Valid())
		})
	}
}

func TestCreateStream_RetriesOnce(t *testing.T) {
	cm, cam := newTestManager(t, fakecam.DefaultConfig())
	cam.FailNextStreams(1)

	start := time.Now()
	require.NoError(t, cm.Connect(context.Background()))

	assert.GreaterOrEqual(t, time.Since(start), testRetryDelay)
	assert.Equal(t, StateConnected, cm.State())
	assert.EqualValues(t, 1, cm.Retries())
	assert.Equal(t, 2, cam.Calls().Streams)
	assert.Equal(t, 2, cam.Calls().Opens, "camera object is re-created before the retry")
}

func TestCreateStream_SecondFailureIsFatal(t *testing.T) {
	cm, cam := newTestManager(t, fakecam.DefaultConfig())
	cam.FailNextStreams(2)

	err := cm.Connect(context.Background())

	assert.ErrorIs(t, err, ErrStreamCreation)
	assert.Equal(t, StateFaulted, cm.State())
	assert.False(t, cm.Valid())
	assert.Equal(t, 2, cam.Calls().Streams, "exactly one retry")
	assert.EqualValues(t, 1, cm.Retries(), "the give-up attempt is not a retry")
}

func TestCreateStream_ReplacesStream(t *testing.T) {
	cm, cam := newTestManager(t, fakecam.DefaultConfig())
	require.NoError(t, cm.Connect(context.Background()))

	first := cam.CurrentStream()
	firstID := cm.StreamID()

	cm.SetStreamConfig(device.StreamConfig{PacketResend: false, PacketTimeout: time.Millisecond})
	require.NoError(t, cm.CreateStream(context.Background()))

	second := cam.CurrentStream()
	assert.NotSame(t, first, second)
	assert.NotEqual(t, firstID, cm.StreamID())
	assert.EqualValues(t, 2, cm.Generation())
	assert.False(t, second.Config().PacketResend, "new settings apply at stream re-creation")
	assert.EqualValues(t, 0, second.Statistics().Completed, "counters start at zero per stream")
}

func TestControlLost(t *testing.T) {
	cm, cam := newTestManager(t, fakecam.DefaultConfig())

	var mu sync.Mutex
	var seen []State
	cm.OnStateChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, cm.Connect(context.Background()))
	cam.LoseControl()

	assert.False(t, cm.Valid())
	assert.Equal(t, StateFaulted, cm.State())
	assert.EqualValues(t, 1, cm.ControlLosts())

	// Manual reset reconnects
	require.NoError(t, cm.Connect(context.Background()))
	assert.True(t, cm.Valid())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateFaulted, StateConnecting, StateConnected}, seen)
}

func TestShutdown_Once(t *testing.T) {
	cm, cam := newTestManager(t, fakecam.DefaultConfig())
	require.NoError(t, cm.Connect(context.Background()))
	stops := cam.Calls().Stops

	cm.Shutdown()
	cm.Shutdown()

	assert.True(t, cam.Closed())
	assert.False(t, cm.Valid())
	assert.Equal(t, StateDisconnected, cm.State())
	assert.Nil(t, cm.Stream())
	// One explicit stop plus the one Close performs
	assert.Equal(t, stops+2, cam.Calls().Stops)

	assert.ErrorIs(t, cm.Connect(context.Background()), ErrShutdown)
}

// Shutdown issued while a connect sits in its retry delay waits for it.
func TestShutdown_SerializedWithConnect(t *testing.T) {
	cm, cam := newTestManager(t, fakecam.DefaultConfig())
	cam.FailNextStreams(1)

	done := make(chan error, 1)
	go func() { done <- cm.Connect(context.Background()) }()

	time.Sleep(testRetryDelay / 2)
	cm.Shutdown()

	require.NoError(t, <-done)
	assert.Equal(t, StateDisconnected, cm.State())
	assert.True(t, cam.Closed())
}

func TestFrameError(t *testing.T) {
	err := &FrameError{Reason: RejectSizeMismatch, ImageCounter: 12, Err: ErrUnknownBuffer}
	assert.ErrorIs(t, err, ErrUnknownBuffer)
	assert.Equal(t, "frame 12 rejected (size_mismatch): buffer has no owner", err.Error())
}
