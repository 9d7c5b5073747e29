package fakecam

import (
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
)

// fakeDevice exposes the control side of Camera.
type fakeDevice Camera

func (d *fakeDevice) cam() *Camera { return (*Camera)(d) }

func (d *fakeDevice) Features() device.FeatureSet {
	if d.cfg.NoFeatures {
		return nil
	}
	return (*fakeFeatures)(d.cam())
}

func (d *fakeDevice) SetRegisterCaching(enabled bool) error {
	c := d.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caching = enabled
	return nil
}

func (d *fakeDevice) TimestampTickFrequency() uint64 {
	return d.cfg.TickFrequency
}

func (d *fakeDevice) OnControlLost(fn func()) {
	c := d.cam()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lostFns = append(c.lostFns, fn)
}

// fakeFeatures is the named-feature view of Camera.
type fakeFeatures Camera

func (f *fakeFeatures) cam() *Camera { return (*Camera)(f) }

func (f *fakeFeatures) HasFeature(name string) bool {
	switch name {
	case "Width", "Height", "PayloadSize":
		return true
	case device.FeaturePixelFormat:
		return f.cfg.SupportedFormats != nil
	case device.FeatureAcquisitionFrameCount:
		return f.cfg.HasFrameCount
	}
	return false
}

func (f *fakeFeatures) GetInteger(name string) (int64, error) {
	c := f.cam()
	if !f.HasFeature(name) {
		return 0, fmt.Errorf("%w: %s", ErrNoSuchFeature, name)
	}
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
	default:
		return c.frameCount, nil
	}
}

func (f *fakeFeatures) SetInteger(name string, value int64) error {
	c := f.cam()
	if !f.HasFeature(name) {
		return fmt.Errorf("%w: %s", ErrNoSuchFeature, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch name {
	case "Width":
		c.cfg.Width = int(value)
	case "Height":
		c.cfg.Height = int(value)
	case "PayloadSize":
		return fmt.Errorf("fakecam: %s is read-only", name)
	case device.FeaturePixelFormat:
		pf := device.PixelFormat(value)
		for _, s := range c.cfg.SupportedFormats {
			if s == pf {
				c.cfg.PixelFormat = pf
				return nil
			}
		}
		return fmt.Errorf("fakecam: pixel format %s not available", pf)
	default:
		if value < 1 {
			return fmt.Errorf("fakecam: %s must be >= 1", name)
		}
		c.frameCount = value
	}
	return nil
}

func (f *fakeFeatures) EnumValues(name string) ([]int64, bool) {
	if name != device.FeaturePixelFormat || f.cfg.SupportedFormats == nil {
		return nil, false
	}
	out := make([]int64, len(f.cfg.SupportedFormats))
	for i, pf := range f.cfg.SupportedFormats {
		out[i] = int64(pf)
	}
	return out, true
}
