package gstcam

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

// pipelineElements holds the elements needed after creation.
type pipelineElements struct {
	Pipeline   *gst.Pipeline
	AppSink    *app.Sink
	CapsFilter *gst.Element
}

// gstFormat maps the wire formats this backend can produce to GStreamer
// raw video formats.
var gstFormat = map[device.PixelFormat]string{
	device.PixelFormatMono8:  "GRAY8",
	device.PixelFormatMono16: "GRAY16_LE",
}

// SupportedFormats lists the pixel formats the backend advertises.
func SupportedFormats() []device.PixelFormat {
	return []device.PixelFormat{device.PixelFormatMono8, device.PixelFormatMono16}
}

func buildCaps(pf device.PixelFormat, width, height int, fps float64) (string, error) {
	format, ok := gstFormat[pf]
	if !ok {
		return "", fmt.Errorf("gstcam: pixel format %s not supported", pf)
	}
	// framerate as a fraction with millihertz precision
	num := int(fps * 1000)
	if num <= 0 {
		num = 30000
	}
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/1000",
		format, width, height, num), nil
}

// createPipeline builds
//
//	videotestsrc → capsfilter → appsink
//
// The pipeline is configured but not started (state remains NULL).
func createPipeline(cfg Config, pf device.PixelFormat) (*pipelineElements, error) {
	gst.Init(nil)

	capsStr, err := buildCaps(pf, cfg.Width, cfg.Height, cfg.FPS)
	if err != nil {
		return nil, err
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("videotestsrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create videotestsrc: %w", err)
	}
	src.SetProperty("is-live", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 2)
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to add pipeline elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	return &pipelineElements{
		Pipeline:   pipeline,
		AppSink:    appsink,
		CapsFilter: capsfilter,
	}, nil
}

// checkGStreamerAvailable is a fail-fast check run when the camera is opened.
func checkGStreamerAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("videotestsrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or videotestsrc missing: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}
