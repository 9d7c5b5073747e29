// Package ipcsink ships delivered frames to another process over a Unix
// socket.
//
// Each frame is one message: a 4-byte big-endian length followed by a
// msgpack-encoded Message. The sink dials the socket (the receiving process
// listens), keeps a bounded outbox and drops frames when the outbox is full,
// so a slow or absent receiver never stalls acquisition.
package ipcsink

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/frame"
)

const (
	// DefaultOutboxSize buffers about one second at 20 fps
	DefaultOutboxSize = 20

	// MaxMessageSize bounds a single encoded message
	MaxMessageSize = 64 * 1024 * 1024

	defaultRedialDelay  = 500 * time.Millisecond
	defaultWriteTimeout = 2 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Start on a running sink
	ErrAlreadyRunning = errors.New("ipcsink: already running")
	// ErrMessageTooLarge is returned when an encoded frame exceeds MaxMessageSize
	ErrMessageTooLarge = errors.New("ipcsink: message too large")
)

// Message is the wire representation of one frame.
type Message struct {
	UniqueID        uint64 `msgpack:"unique_id"`
	FrameNumber     uint64 `msgpack:"frame_number"`
	ColorMode       string `msgpack:"color_mode"`
	DataType        string `msgpack:"data_type"`
	Bayer           string `msgpack:"bayer"`
	Width           int    `msgpack:"width"`
	Height          int    `msgpack:"height"`
	XOffset         int    `msgpack:"x_offset"`
	YOffset         int    `msgpack:"y_offset"`
	BinX            int    `msgpack:"bin_x"`
	BinY            int    `msgpack:"bin_y"`
	DeviceTimestamp uint64 `msgpack:"device_timestamp"`
	Timestamp       string `msgpack:"timestamp"`
	StreamID        string `msgpack:"stream_id"`
	TraceID         string `msgpack:"trace_id"`
	Data            []byte `msgpack:"data"`
}

// NewMessage builds the wire message for f. Data is shared, not copied.
func NewMessage(f *frame.Frame) Message {
	d := f.Descriptor
	return Message{
		UniqueID:        d.UniqueID,
		FrameNumber:     d.FrameNumber,
		ColorMode:       d.ColorMode.String(),
		DataType:        d.DataType.String(),
		Bayer:           d.Bayer.String(),
		Width:           d.Width,
		Height:          d.Height,
		XOffset:         d.XOffset,
		YOffset:         d.YOffset,
		BinX:            d.BinX,
		BinY:            d.BinY,
		DeviceTimestamp: d.DeviceTimestamp,
		Timestamp:       d.WallTime.Format(time.RFC3339Nano),
		StreamID:        d.StreamID,
		TraceID:         d.TraceID,
		Data:            f.Data,
	}
}

// Encode returns the length-prefixed msgpack encoding of m.
func Encode(m Message) ([]byte, error) {
	body, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	if len(body) > MaxMessageSize {
		return nil, fmt.Errorf("%d bytes: %w", len(body), ErrMessageTooLarge)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// Stats is a snapshot of sink counters.
type Stats struct {
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
	Connected bool   `json:"connected"`
}

// Sink is a frame consumer writing to a Unix socket.
type Sink struct {
	socketPath   string
	logger       zerolog.Logger
	redialDelay  time.Duration
	writeTimeout time.Duration

	outbox chan *frame.Frame

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	sent      atomic.Uint64
	dropped   atomic.Uint64
	errs      atomic.Uint64
	connected atomic.Bool
}

// New creates a sink for socketPath. outboxSize <= 0 selects
// DefaultOutboxSize.
func New(socketPath string, outboxSize int, logger zerolog.Logger) *Sink {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	return &Sink{
		socketPath:   socketPath,
		logger:       logger.With().Str("component", "ipc-sink").Logger(),
		redialDelay:  defaultRedialDelay,
		writeTimeout: defaultWriteTimeout,
		outbox:       make(chan *frame.Frame, outboxSize),
	}
}

// Start launches the writer goroutine. It returns immediately; the socket
// is dialed (and redialed) in the background.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go s.writeLoop(ctx)
	s.logger.Info().Str("socket", s.socketPath).Msg("ipc-sink: started")
	return nil
}

// Stop stops the writer and releases every queued frame. Idempotent.
func (s *Sink) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	s.drain()
	s.logger.Info().
		Uint64("sent", s.sent.Load()).
		Uint64("dropped", s.dropped.Load()).
		Msg("ipc-sink: stopped")
}

// IsRunning reports whether the writer goroutine is active.
func (s *Sink) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// DeliverFrame queues f without blocking. When the outbox is full or the
// sink is stopped the frame is dropped.
func (s *Sink) DeliverFrame(f *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.dropped.Add(1)
		return
	}
	f.Retain()
	select {
	case s.outbox <- f:
	default:
		f.Release()
		if n := s.dropped.Add(1); n == 1 || n%1000 == 0 {
			s.logger.Warn().Uint64("dropped", n).Msg("ipc-sink: outbox full, frame dropped")
		}
	}
}

// Stats returns a snapshot of the counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Sent:      s.sent.Load(),
		Dropped:   s.dropped.Load(),
		Errors:    s.errs.Load(),
		Connected: s.connected.Load(),
	}
}

func (s *Sink) writeLoop(ctx context.Context) {
	defer close(s.done)

	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
		s.connected.Store(false)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.outbox:
			if conn == nil {
				conn = s.dial(ctx)
			}
			if conn == nil {
				// receiver absent: the frame is dropped
				f.Release()
				s.dropped.Add(1)
				continue
			}
			if err := s.write(conn, f); err != nil {
				s.errs.Add(1)
				s.logger.Warn().Err(err).Msg("ipc-sink: write failed, reconnecting")
				conn.Close()
				conn = nil
				s.connected.Store(false)
			}
		}
	}
}

// dial connects once and returns nil on failure after waiting redialDelay,
// so a missing receiver costs at most one attempt per delay.
func (s *Sink) dial(ctx context.Context) net.Conn {
	d := net.Dialer{Timeout: s.writeTimeout}
	conn, err := d.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		s.errs.Add(1)
		s.logger.Debug().Err(err).Str("socket", s.socketPath).Msg("ipc-sink: dial failed")
		select {
		case <-ctx.Done():
		case <-time.After(s.redialDelay):
		}
		return nil
	}
	s.connected.Store(true)
	s.logger.Info().Str("socket", s.socketPath).Msg("ipc-sink: connected")
	return conn
}

func (s *Sink) write(conn net.Conn, f *frame.Frame) error {
	defer f.Release()

	buf, err := Encode(NewMessage(f))
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	s.sent.Add(1)
	return nil
}

func (s *Sink) drain() {
	for {
		select {
		case f := <-s.outbox:
			f.Release()
		default:
			return
		}
	}
}
