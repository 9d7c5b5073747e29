package gigecapture

import (
	"context"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/convert"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/fakecam"
)

func smallCamera() fakecam.Config {
	cfg := fakecam.DefaultConfig()
	cfg.Width, cfg.Height = 8, 4
	return cfg
}

func withMode(mode ImageMode, n int) func(*Config) {
	return func(c *Config) {
		c.Params.ImageMode = mode
		c.Params.NumImages = n
	}
}

func TestSingleMode_DeliversExactlyOne(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), withMode(ImageModeSingle, 1))

	require.NoError(t, f.d.StartAcquisition(context.Background()))
	assert.Equal(t, device.ModeSingleFrame, f.cam.Mode())

	for i := 0; i < 3; i++ {
		f.cam.Emit(device.StatusSuccess)
	}
	f.waitState(t, StateIdle)

	// Frames after completion find no buffers in the rebuilt stream
	assert.False(t, f.cam.Emit(device.StatusSuccess))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, f.rec.count())
	s := f.d.Stats()
	assert.EqualValues(t, 1, s.NumImagesCounter)
	assert.Equal(t, "Idle", s.Status)
	assert.False(t, f.cam.Acquiring())
	assert.EqualValues(t, 0, s.Pool.Outstanding, "every buffer returned after completion")
}

func TestMultipleMode_DeliversExactlyK(t *testing.T) {
	const k = 5
	f := newDriverFixture(t, smallCamera(), withMode(ImageModeMultiple, k))

	require.NoError(t, f.d.StartAcquisition(context.Background()))
	assert.Equal(t, device.ModeMultiFrame, f.cam.Mode())
	count, err := f.cam.Device().Features().GetInteger(device.FeatureAcquisitionFrameCount)
	require.NoError(t, err)
	assert.EqualValues(t, k, count)

	for i := 0; i < k+3; i++ {
		f.cam.Emit(device.StatusSuccess)
	}
	f.waitState(t, StateIdle)
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, k, f.rec.count())
	for i := 0; i < k; i++ {
		desc, _ := f.rec.frame(i)
		assert.EqualValues(t, i+1, desc.FrameNumber)
	}
	assert.EqualValues(t, k, f.d.Stats().NumImagesCounter)
}

func TestMultipleMode_NoFrameCountFeature(t *testing.T) {
	camCfg := smallCamera()
	camCfg.HasFrameCount = false
	f := newDriverFixture(t, camCfg, withMode(ImageModeMultiple, 2))

	require.NoError(t, f.d.StartAcquisition(context.Background()))
	f.cam.Emit(device.StatusSuccess)
	f.cam.Emit(device.StatusSuccess)
	f.waitState(t, StateIdle)
	assert.Equal(t, 2, f.rec.count())
}

func TestMultipleMode_TimeRemaining(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), func(c *Config) {
		c.Params.ImageMode = ImageModeMultiple
		c.Params.NumImages = 10
		c.Params.AcquirePeriod = 100 * time.Millisecond
	})

	require.NoError(t, f.d.StartAcquisition(context.Background()))
	assert.Equal(t, time.Second, f.d.Stats().TimeRemaining)

	f.cam.Emit(device.StatusSuccess)
	f.cam.Emit(device.StatusSuccess)
	f.waitImages(t, 2)
	assert.Equal(t, 800*time.Millisecond, f.d.Stats().TimeRemaining)
}

func TestContinuous_StopRequest(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), nil)

	require.NoError(t, f.d.StartAcquisition(context.Background()))
	assert.Equal(t, device.ModeContinuous, f.cam.Mode())
	for i := 0; i < 30; i++ {
		f.cam.Emit(device.StatusSuccess)
		if i%5 == 4 {
			f.waitImages(t, uint64(i+1))
		}
	}
	f.waitImages(t, 30)
	assert.Equal(t, StateAcquiring, f.d.State())

	f.d.StopAcquisition()
	f.waitState(t, StateIdle)

	assert.Equal(t, 30, f.rec.count())
	assert.False(t, f.cam.Acquiring())
	assert.Equal(t, StatusIdle, f.d.Status())
	assert.EqualValues(t, 0, f.d.Stats().Pool.Outstanding)
}

func TestContinuous_GeneratedFrames(t *testing.T) {
	camCfg := smallCamera()
	camCfg.FrameRate = 500
	camCfg.BadEvery = 4
	f := newDriverFixture(t, camCfg, nil)

	require.NoError(t, f.d.StartAcquisition(context.Background()))
	require.Eventually(t, func() bool { return f.rec.count() >= 10 }, waitFor, tick)
	f.d.StopAcquisition()
	f.waitState(t, StateIdle)

	s := f.d.Stats()
	assert.Positive(t, s.Metrics.Handler.BadFrames, "timeouts requeued by the handler")
	assert.Equal(t, s.ImageCounter, s.NumImagesCounter, "bad statuses never reach the loop")
	assert.EqualValues(t, 0, s.Pool.Outstanding)
}

func TestSizeMismatch_RejectedAndCountersAdvance(t *testing.T) {
	f := newDriverFixture(t, fakecam.DefaultConfig(), nil) // 640x480 Mono8

	require.NoError(t, f.d.StartAcquisition(context.Background()))
	free := f.cam.CurrentStream().FreeBuffers()

	require.True(t, f.cam.EmitFrame(fakecam.FrameOverride{Status: device.StatusSuccess, Size: 300000}))
	f.waitImages(t, 1)

	s := f.d.Stats()
	assert.EqualValues(t, 1, s.ImageCounter)
	assert.EqualValues(t, 0, s.NumImagesCounter)
	assert.EqualValues(t, 1, s.Metrics.Rejected["size_mismatch"])
	assert.Equal(t, 0, f.rec.count())
	assert.Equal(t, StateAcquiring.String(), s.State, "loop continues after a rejected frame")
	require.Eventually(t, func() bool { return f.cam.CurrentStream().FreeBuffers() == free }, waitFor, tick,
		"rejected buffer replaced by a fresh one")

	require.True(t, f.cam.Emit(device.StatusSuccess))
	f.waitImages(t, 2)
	assert.Equal(t, 1, f.rec.count())
	desc, data := f.rec.frame(0)
	assert.EqualValues(t, 2, desc.UniqueID)
	assert.EqualValues(t, 1, desc.FrameNumber)
	assert.Len(t, data, 640*480)
}

func TestUnsupportedFormat_Rejected(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), nil)
	require.NoError(t, f.d.StartAcquisition(context.Background()))

	require.True(t, f.cam.EmitFrame(fakecam.FrameOverride{Status: device.StatusSuccess, PixelFormat: 0x0110abcd}))
	f.waitImages(t, 1)

	s := f.d.Stats()
	assert.EqualValues(t, 1, s.Metrics.Rejected["unsupported_format"])
	assert.EqualValues(t, 0, s.NumImagesCounter)
	assert.Equal(t, StateAcquiring.String(), s.State)
}

func TestRejectLogThrottle(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), nil)
	require.NoError(t, f.d.StartAcquisition(context.Background()))

	for i := 0; i < 15; i++ {
		require.True(t, f.cam.EmitFrame(fakecam.FrameOverride{Status: device.StatusSuccess, Size: 3}))
		f.waitImages(t, uint64(i+1))
	}
	assert.Equal(t, 10, countLogs(f, "gige-capture: frame rejected"))
	assert.EqualValues(t, 15, f.d.Stats().Metrics.Rejected["size_mismatch"])
}

func countLogs(f *driverFixture, msg string) int {
	return strings.Count(f.logs.String(), `"message":"`+msg+`"`)
}

func TestPackedConversion(t *testing.T) {
	samples := []uint16{0x000, 0x001, 0x7FF, 0xFFF, 0x123, 0xABC, 0x800, 0x00F}

	tests := []struct {
		name   string
		format device.PixelFormat
		align  convert.Align
		dir    convert.ShiftDirection
		bits   uint
		want   func(uint16) uint16
	}{
		{"mono12packed low", device.PixelFormatMono12Packed, convert.AlignLow, convert.ShiftNone, 4, func(v uint16) uint16 { return v }},
		{"mono12p low", device.PixelFormatMono12p, convert.AlignLow, convert.ShiftNone, 4, func(v uint16) uint16 { return v }},
		{"mono12p high", device.PixelFormatMono12p, convert.AlignHigh, convert.ShiftNone, 4, func(v uint16) uint16 { return v << 4 }},
		{"high then right shift", device.PixelFormatMono12Packed, convert.AlignHigh, convert.ShiftRight, 4, func(v uint16) uint16 { return v }},
		{"low then left shift", device.PixelFormatMono12Packed, convert.AlignLow, convert.ShiftLeft, 2, func(v uint16) uint16 { return v << 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			camCfg := fakecam.DefaultConfig()
			camCfg.Width, camCfg.Height = 4, 2
			camCfg.PixelFormat = tt.format
			f := newDriverFixture(t, camCfg, func(c *Config) {
				c.Params.PixelFormatAlign = tt.align
				c.Params.ShiftDir = tt.dir
				c.Params.ShiftBits = tt.bits
			})

			packed, err := convert.Pack(tt.format, samples)
			require.NoError(t, err)

			require.NoError(t, f.d.StartAcquisition(context.Background()))
			require.True(t, f.cam.EmitFrame(fakecam.FrameOverride{Status: device.StatusSuccess, Payload: packed}))
			require.Eventually(t, func() bool { return f.rec.count() == 1 }, waitFor, tick)

			desc, data := f.rec.frame(0)
			assert.Equal(t, UInt16, desc.DataType)
			assert.Equal(t, ColorMono, desc.ColorMode)
			require.Len(t, data, len(samples)*2)
			for i, v := range samples {
				assert.Equal(t, tt.want(v), binary.LittleEndian.Uint16(data[i*2:]), "sample %d", i)
			}
		})
	}
}

func TestDescriptorAnnotation(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), func(c *Config) {
		c.Params.BinX, c.Params.BinY = 2, 2
	})
	require.NoError(t, f.d.StartAcquisition(context.Background()))

	require.True(t, f.cam.Emit(device.StatusSuccess))
	require.True(t, f.cam.Emit(device.StatusSuccess))
	require.Eventually(t, func() bool { return f.rec.count() == 2 }, waitFor, tick)

	first, data := f.rec.frame(0)
	second, _ := f.rec.frame(1)
	assert.Equal(t, 8, first.Width)
	assert.Equal(t, 4, first.Height)
	assert.Equal(t, 2, first.BinX)
	assert.Equal(t, 2, first.BinY)
	assert.Equal(t, f.d.Stats().StreamID, first.StreamID)
	assert.NotEmpty(t, first.TraceID)
	assert.NotEqual(t, first.TraceID, second.TraceID)
	assert.NotZero(t, first.DeviceTimestamp)
	assert.False(t, first.WallTime.IsZero())
	assert.Equal(t, fakecam.Pattern(device.PixelFormatMono8, 8, 4, 1), data)
}

func TestArrayCallbacksDisabled(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), func(c *Config) {
		c.Params.ArrayCallbacks = false
	})
	require.NoError(t, f.d.StartAcquisition(context.Background()))

	require.True(t, f.cam.Emit(device.StatusSuccess))
	f.waitImages(t, 1)

	assert.Equal(t, 0, f.rec.count())
	assert.EqualValues(t, 1, f.d.Stats().NumImagesCounter)
}

func TestRetainedFrameKeepsMemory(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), withMode(ImageModeSingle, 1))
	f.rec.retain = true

	require.NoError(t, f.d.StartAcquisition(context.Background()))
	require.True(t, f.cam.Emit(device.StatusSuccess))
	f.waitState(t, StateIdle)

	assert.EqualValues(t, 1, f.d.Stats().Pool.Outstanding, "retained frame still owns its buffer")

	f.rec.mu.Lock()
	kept := f.rec.kept[0]
	f.rec.mu.Unlock()
	assert.Equal(t, 1, kept.Refs())
	kept.Release()
	assert.EqualValues(t, 0, f.d.Stats().Pool.Outstanding)
}

func TestUnownedBuffer_Faults(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), nil)
	require.NoError(t, f.d.StartAcquisition(context.Background()))

	require.True(t, f.d.queue.TryPush(&device.RawBuffer{
		Data:        make([]byte, 32),
		Size:        32,
		PixelFormat: device.PixelFormatMono8,
		Width:       8,
		Height:      4,
	}))
	f.waitState(t, StateFaulted)

	assert.Equal(t, StatusError, f.d.Status())
	assert.EqualValues(t, 1, f.d.Stats().Metrics.Rejected["unknown_buffer"])
	assert.ErrorIs(t, f.d.StartAcquisition(context.Background()), ErrFaulted)

	require.NoError(t, f.d.Reset(context.Background()))
	assert.Equal(t, StateIdle, f.d.State())
	require.NoError(t, f.d.StartAcquisition(context.Background()))
}

func TestControlLost(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), nil)
	require.NoError(t, f.d.StartAcquisition(context.Background()))

	require.True(t, f.cam.Emit(device.StatusSuccess))
	f.waitImages(t, 1)

	f.cam.LoseControl()
	// In flight when control was lost: released without processing
	f.cam.Emit(device.StatusSuccess)
	f.waitState(t, StateFaulted)

	s := f.d.Stats()
	assert.Equal(t, StatusDisconnected.String(), s.Status)
	assert.EqualValues(t, 1, s.ImageCounter)
	assert.EqualValues(t, 1, s.ControlLosts)
	assert.Equal(t, 1, f.rec.count())
	assert.ErrorIs(t, f.d.SetParam(ParamNumImages, 3), ErrDisconnected)
	assert.ErrorIs(t, f.d.StartAcquisition(context.Background()), ErrFaulted)

	require.NoError(t, f.d.Reset(context.Background()))
	assert.Equal(t, StateIdle, f.d.State())
	assert.Equal(t, StatusIdle, f.d.Status())
	assert.Equal(t, "connected", f.d.Connection().String())

	require.NoError(t, f.d.StartAcquisition(context.Background()))
	require.True(t, f.cam.Emit(device.StatusSuccess))
	require.Eventually(t, func() bool { return f.rec.count() == 2 }, waitFor, tick)
}

func TestStreamRebuildFailure_Faults(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), withMode(ImageModeSingle, 1))
	require.NoError(t, f.d.StartAcquisition(context.Background()))

	f.cam.FailNextStreams(2) // first try and the retry
	require.True(t, f.cam.Emit(device.StatusSuccess))
	f.waitState(t, StateFaulted)

	assert.Equal(t, 1, f.rec.count())
	assert.Equal(t, StatusError, f.d.Status())
	assert.EqualValues(t, 1, f.d.Stats().StreamRetries)

	require.NoError(t, f.d.Reset(context.Background()))
	assert.Equal(t, StateIdle, f.d.State())
}

func TestStreamRebuild_RetrySucceeds(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), withMode(ImageModeSingle, 1))
	require.NoError(t, f.d.StartAcquisition(context.Background()))
	opens := f.cam.Calls().Opens

	f.cam.FailNextStreams(1)
	require.True(t, f.cam.Emit(device.StatusSuccess))
	f.waitState(t, StateIdle)

	assert.Equal(t, opens+1, f.cam.Calls().Opens, "camera object re-created before the retry")
	assert.EqualValues(t, 1, f.d.Stats().StreamRetries)
}

func TestStaleGenerationReleased(t *testing.T) {
	f := newDriverFixture(t, smallCamera(), nil)
	require.NoError(t, f.d.StartAcquisition(context.Background()))

	f.d.mu.Lock()
	stale, err := f.d.pool.Allocate(32)
	gen := f.d.generation
	f.d.mu.Unlock()
	require.NoError(t, err)
	stale.Generation = gen - 1
	stale.Size = 32
	stale.PixelFormat = device.PixelFormatMono8
	stale.Width, stale.Height = 8, 4

	require.True(t, f.d.queue.TryPush(stale))
	require.True(t, f.cam.Emit(device.StatusSuccess))
	require.Eventually(t, func() bool { return f.rec.count() == 1 }, waitFor, tick)

	s := f.d.Stats()
	assert.EqualValues(t, 1, s.ImageCounter, "stale buffer not counted")
	assert.Equal(t, StateAcquiring.String(), s.State)
}
