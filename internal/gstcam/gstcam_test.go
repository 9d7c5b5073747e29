package gstcam

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

type testReleaser struct{ n int }

func (r *testReleaser) Release(*device.RawBuffer) { r.n++ }

func TestBuildCaps(t *testing.T) {
	caps, err := buildCaps(device.PixelFormatMono16, 320, 240, 12.5)
	require.NoError(t, err)
	assert.Equal(t, "video/x-raw,format=GRAY16_LE,width=320,height=240,framerate=12500/1000", caps)

	_, err = buildCaps(device.PixelFormatRGB8Packed, 320, 240, 30)
	assert.Error(t, err)
}

func TestFeatures(t *testing.T) {
	cam := New(Config{Name: "gst0", Width: 64, Height: 48}, zerolog.Nop())
	fs := cam.Device().Features()

	values, ok := fs.EnumValues(device.FeaturePixelFormat)
	require.True(t, ok)
	assert.Len(t, values, 2)

	require.NoError(t, fs.SetInteger(device.FeaturePixelFormat, int64(device.PixelFormatMono16)))
	size, err := cam.PayloadSize()
	require.NoError(t, err)
	assert.Equal(t, 64*48*2, size)

	assert.Error(t, fs.SetInteger(device.FeaturePixelFormat, int64(device.PixelFormatBayerRG8)))
	assert.Error(t, fs.SetInteger(device.FeatureAcquisitionFrameCount, 0))
	assert.Error(t, fs.SetInteger("PayloadSize", 10))
	_, err = fs.GetInteger("Gain")
	assert.ErrorIs(t, err, ErrNoSuchFeature)
}

func TestStream_Fill(t *testing.T) {
	s := newStream(device.DefaultStreamConfig())
	var notified int
	s.SetBufferReadyHandler(func() { notified++ })

	assert.False(t, s.fill([]byte{1, 2, 3, 4}, device.PixelFormatMono8, 2, 2, 7), "no free buffer")
	assert.EqualValues(t, 1, s.Statistics().Underruns)

	rel := &testReleaser{}
	small := &device.RawBuffer{Data: make([]byte, 2)}
	small.Bind(rel)
	s.PushBuffer(small)
	require.True(t, s.fill([]byte{1, 2, 3, 4}, device.PixelFormatMono8, 2, 2, 7))

	got := s.TryPopBuffer()
	require.NotNil(t, got)
	assert.Equal(t, device.StatusSizeMismatch, got.Status)
	assert.EqualValues(t, 7, got.Timestamp)
	assert.Equal(t, 1, notified)
	assert.EqualValues(t, 1, s.Statistics().Failures)

	s.PushBuffer(got)
	require.NoError(t, s.Close())
	assert.Equal(t, 1, rel.n, "close releases held buffers")
}

// TestCamera_Pipeline needs a GStreamer installation with videotestsrc.
func TestCamera_Pipeline(t *testing.T) {
	opener := Opener(Config{Name: "gst0", Width: 32, Height: 16, FPS: 100}, zerolog.Nop())
	devCam, err := opener(context.Background(), "gst0")
	if err != nil {
		t.Skipf("Skipping test: GStreamer not available: %v", err)
	}
	cam := devCam.(*Camera)
	defer cam.Close()

	stream, err := cam.CreateStream(device.DefaultStreamConfig())
	require.NoError(t, err)
	rel := &testReleaser{}
	for i := 0; i < 4; i++ {
		buf := &device.RawBuffer{Data: make([]byte, 32*16)}
		buf.Bind(rel)
		stream.PushBuffer(buf)
	}

	require.NoError(t, cam.SetAcquisitionMode(device.ModeMultiFrame))
	require.NoError(t, cam.Device().Features().SetInteger(device.FeatureAcquisitionFrameCount, 3))
	require.NoError(t, cam.StartAcquisition())

	require.Eventually(t, func() bool { return cam.Produced() == 3 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, cam.StopAcquisition())

	buf := stream.TryPopBuffer()
	require.NotNil(t, buf)
	assert.Equal(t, device.StatusSuccess, buf.Status)
	assert.Equal(t, 32*16, buf.Size)
	assert.Equal(t, device.PixelFormatMono8, buf.PixelFormat)
	assert.EqualValues(t, 3, stream.Statistics().Completed)
	assert.EqualValues(t, 3, cam.Produced(), "multi-frame limit holds")
}
