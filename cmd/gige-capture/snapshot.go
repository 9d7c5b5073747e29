package main

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	gigecapture "github.com/e7canasta/orion-care-sensor/modules/gige-capture"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/supplier"
)

// snapshotWriter is a supplier worker saving every n-th frame as PNG.
type snapshotWriter struct {
	dir    string
	every  uint64
	logger zerolog.Logger
}

func newSnapshotWriter(dir string, every int, logger zerolog.Logger) (*snapshotWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if every < 1 {
		every = 1
	}
	return &snapshotWriter{dir: dir, every: uint64(every), logger: logger.With().Str("component", "snapshots").Logger()}, nil
}

func (w *snapshotWriter) run(read supplier.ReadFunc) {
	for {
		f := read()
		if f == nil {
			return
		}
		if f.Descriptor.FrameNumber%w.every == 0 {
			if err := w.save(f); err != nil {
				w.logger.Warn().Err(err).Uint64("frame", f.Descriptor.UniqueID).Msg("snapshots: save failed")
			}
		}
		f.Release()
	}
}

func (w *snapshotWriter) save(f *gigecapture.Frame) error {
	img, err := toImage(f)
	if err != nil {
		return err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("frame_%08d.png", f.Descriptor.UniqueID))
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return err
	}
	w.logger.Debug().Str("path", path).Msg("snapshots: saved")
	return out.Close()
}

// toImage wraps mono and Bayer (raw mosaic) frames; RGB is interleaved 8-bit.
func toImage(f *gigecapture.Frame) (image.Image, error) {
	d := f.Descriptor
	rect := image.Rect(0, 0, d.Width, d.Height)

	switch {
	case d.ColorMode == gigecapture.ColorRGB1 && d.DataType == gigecapture.UInt8:
		img := image.NewRGBA(rect)
		for i := 0; i < d.Width*d.Height && 3*i+2 < len(f.Data); i++ {
			img.Pix[4*i] = f.Data[3*i]
			img.Pix[4*i+1] = f.Data[3*i+1]
			img.Pix[4*i+2] = f.Data[3*i+2]
			img.Pix[4*i+3] = 0xff
		}
		return img, nil

	case d.ColorMode != gigecapture.ColorRGB1 && d.DataType == gigecapture.UInt8:
		img := image.NewGray(rect)
		copy(img.Pix, f.Data)
		return img, nil

	case d.ColorMode != gigecapture.ColorRGB1 && d.DataType == gigecapture.UInt16:
		// frame samples are little-endian, image.Gray16 is big-endian
		img := image.NewGray16(rect)
		for i := 0; 2*i+1 < len(f.Data) && 2*i+1 < len(img.Pix); i++ {
			binary.BigEndian.PutUint16(img.Pix[2*i:], binary.LittleEndian.Uint16(f.Data[2*i:]))
		}
		return img, nil
	}
	return nil, fmt.Errorf("no PNG mapping for %s/%s", d.ColorMode, d.DataType)
}
