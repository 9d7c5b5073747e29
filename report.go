package gigecapture

import (
	"fmt"
	"io"
	"sort"
)

// Report writes a human-readable status report. details > 0 adds the
// parameters and per-reason counters.
func (d *Driver) Report(w io.Writer, details int) error {
	d.mu.Lock()
	s := d.statsLocked()
	params := d.params
	d.mu.Unlock()

	p := &reportWriter{w: w}
	p.printf("gige-capture %s\n", Version)
	p.printf("  camera:            %s\n", s.Camera)
	p.printf("  connection:        %s\n", s.Connection)
	p.printf("  state:             %s (%s)\n", s.State, s.Status)
	p.printf("  stream id:         %s\n", s.StreamID)
	p.printf("  image counter:     %d\n", s.ImageCounter)
	p.printf("  delivered:         %d\n", s.NumImagesCounter)
	p.printf("  fps:               %.2f\n", s.Metrics.Rate.FPSMean)

	if details <= 0 {
		return p.err
	}

	p.printf("  stream:            completed=%d failed=%d underrun=%d\n",
		s.Metrics.Stream.Completed, s.Metrics.Stream.Failed, s.Metrics.Stream.Underrun)
	if s.Metrics.Stream.HasPacketStats {
		p.printf("  packets:           missing=%d resent=%d\n",
			s.Metrics.Stream.MissingPackets, s.Metrics.Stream.ResentPackets)
	}
	p.printf("  handler:           queued=%d queue_full=%d bad=%d\n",
		s.Metrics.Handler.Queued, s.Metrics.Handler.QueueFull, s.Metrics.Handler.BadFrames)
	printCounts(p, "  bad status", s.Metrics.Handler.ByStatus)
	printCounts(p, "  rejected", s.Metrics.Rejected)
	p.printf("  pool:              in_use=%d outstanding=%d failures=%d\n",
		s.Pool.InUse, s.Pool.Outstanding, s.Pool.Failures)
	p.printf("  replenish fails:   %d\n", s.ReplenishFailures)
	p.printf("  stream retries:    %d\n", s.StreamRetries)
	p.printf("  control losts:     %d\n", s.ControlLosts)

	p.printf("  image mode:        %s (num_images=%d)\n", params.ImageMode, params.NumImages)
	p.printf("  conversion:        %s, shift %s %d\n", params.PixelFormatAlign, params.ShiftDir, params.ShiftBits)
	p.printf("  binning:           %dx%d\n", params.BinX, params.BinY)
	p.printf("  packet resend:     %t (timeout %s, retention %s)\n",
		params.PacketResend, params.PacketTimeout, params.FrameRetention)
	if s.TimeRemaining > 0 {
		p.printf("  time remaining:    %s\n", s.TimeRemaining)
	}
	return p.err
}

func printCounts(p *reportWriter, label string, counts map[string]uint64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.printf("%s %-20s %d\n", label, k+":", counts[k])
	}
}

// reportWriter remembers the first write error.
type reportWriter struct {
	w   io.Writer
	err error
}

func (p *reportWriter) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
