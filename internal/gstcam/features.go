package gstcam

import (
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

// gstDevice is the control side of Camera.
type gstDevice Camera

func (d *gstDevice) cam() *Camera { return (*Camera)(d) }

func (d *gstDevice) Features() device.FeatureSet {
	return (*gstFeatures)(d.cam())
}

func (d *gstDevice) SetRegisterCaching(enabled bool) error {
	c := d.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caching = enabled
	return nil
}

// TimestampTickFrequency: timestamps are nanoseconds since acquisition start.
func (d *gstDevice) TimestampTickFrequency() uint64 {
	return 1_000_000_000
}

func (d *gstDevice) OnControlLost(fn func()) {
	c := d.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lostFns = append(c.lostFns, fn)
}

type gstFeatures Camera

func (f *gstFeatures) cam() *Camera { return (*Camera)(f) }

func (f *gstFeatures) HasFeature(name string) bool {
	switch name {
	case "Width", "Height", "PayloadSize", device.FeaturePixelFormat, device.FeatureAcquisitionFrameCount:
		return true
	}
	return false
}

func (f *gstFeatures) GetInteger(name string) (int64, error) {
	c := f.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	switch name {
	case "Width":
		return int64(c.cfg.Width), nil
	case "Height":
		return int64(c.cfg.Height), nil
	case "PayloadSize":
		return int64(payloadSize(c.cfg.PixelFormat, c.cfg.Width, c.cfg.Height)), nil
	case device.FeaturePixelFormat:
		return int64(c.cfg.PixelFormat), nil
	case device.FeatureAcquisitionFrameCount:
		return c.frameCount, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNoSuchFeature, name)
}

// SetInteger applies at the next StartAcquisition, when the pipeline is
// rebuilt.
func (f *gstFeatures) SetInteger(name string, value int64) error {
	c := f.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	switch name {
	case "Width", "Height":
		if value <= 0 {
			return fmt.Errorf("gstcam: %s must be positive", name)
		}
		if name == "Width" {
			c.cfg.Width = int(value)
		} else {
			c.cfg.Height = int(value)
		}
	case "PayloadSize":
		return fmt.Errorf("gstcam: %s is read-only", name)
	case device.FeaturePixelFormat:
		pf := device.PixelFormat(value)
		if _, ok := gstFormat[pf]; !ok {
			return fmt.Errorf("gstcam: pixel format %s not available", pf)
		}
		c.cfg.PixelFormat = pf
	case device.FeatureAcquisitionFrameCount:
		if value < 1 {
			return fmt.Errorf("gstcam: %s must be >= 1", name)
		}
		c.frameCount = value
	default:
		return fmt.Errorf("%w: %s", ErrNoSuchFeature, name)
	}
	return nil
}

func (f *gstFeatures) EnumValues(name string) ([]int64, bool) {
	if name != device.FeaturePixelFormat {
		return nil, false
	}
	formats := SupportedFormats()
	out := make([]int64, len(formats))
	for i, pf := range formats {
		out[i] = int64(pf)
	}
	return out, true
}
