package device

import "fmt"

// BufferStatus is the completion status the transport reports for a buffer.
type BufferStatus int

const (
	StatusSuccess BufferStatus = iota
	StatusCleared
	StatusTimeout
	StatusMissingPackets
	StatusWrongPacketID
	StatusSizeMismatch
	StatusFilling
	StatusAborted
	StatusUnknown
)

// String returns a human-readable status name
func (s BufferStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusCleared:
		return "cleared"
	case StatusTimeout:
		return "timeout"
	case StatusMissingPackets:
		return "missing packets"
	case StatusWrongPacketID:
		return "wrong packet id"
	case StatusSizeMismatch:
		return "image is bigger than the buffer"
	case StatusFilling:
		return "filling"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// PixelFormat is a GenICam PFNC pixel format code.
type PixelFormat uint32

const (
	PixelFormatMono8        PixelFormat = 0x01080001
	PixelFormatMono10       PixelFormat = 0x01100003
	PixelFormatMono12       PixelFormat = 0x01100005
	PixelFormatMono12Packed PixelFormat = 0x010c0006
	PixelFormatMono12p      PixelFormat = 0x010c0047
	PixelFormatMono16       PixelFormat = 0x01100007

	PixelFormatBayerGR8 PixelFormat = 0x01080008
	PixelFormatBayerRG8 PixelFormat = 0x01080009
	PixelFormatBayerGB8 PixelFormat = 0x0108000a
	PixelFormatBayerBG8 PixelFormat = 0x0108000b

	PixelFormatBayerGR12 PixelFormat = 0x01100010
	PixelFormatBayerRG12 PixelFormat = 0x01100011
	PixelFormatBayerGB12 PixelFormat = 0x01100012
	PixelFormatBayerBG12 PixelFormat = 0x01100013

	PixelFormatRGB8Packed  PixelFormat = 0x02180014
	PixelFormatRGB10Packed PixelFormat = 0x02300018
	PixelFormatRGB12Packed PixelFormat = 0x0230001a
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatMono8:        "Mono8",
	PixelFormatMono10:       "Mono10",
	PixelFormatMono12:       "Mono12",
	PixelFormatMono12Packed: "Mono12Packed",
	PixelFormatMono12p:      "Mono12p",
	PixelFormatMono16:       "Mono16",
	PixelFormatBayerGR8:     "BayerGR8",
	PixelFormatBayerRG8:     "BayerRG8",
	PixelFormatBayerGB8:     "BayerGB8",
	PixelFormatBayerBG8:     "BayerBG8",
	PixelFormatBayerGR12:    "BayerGR12",
	PixelFormatBayerRG12:    "BayerRG12",
	PixelFormatBayerGB12:    "BayerGB12",
	PixelFormatBayerBG12:    "BayerBG12",
	PixelFormatRGB8Packed:   "RGB8Packed",
	PixelFormatRGB10Packed:  "RGB10Packed",
	PixelFormatRGB12Packed:  "RGB12Packed",
}

func (f PixelFormat) String() string {
	if name, ok := pixelFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(0x%08x)", uint32(f))
}

// ParsePixelFormat looks a format up by its PFNC name ("Mono12p").
func ParsePixelFormat(name string) (PixelFormat, error) {
	for f, n := range pixelFormatNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown pixel format %q", name)
}

// Releaser takes back a buffer it handed out.
type Releaser interface {
	Release(buf *RawBuffer)
}

// RawBuffer is a memory region filled by the stream with one frame.
//
// At any time a buffer is owned by exactly one party: the stream, the frame
// queue, the acquisition loop, or nobody (released).
type RawBuffer struct {
	// Data is the backing memory; cap(Data) is the payload size
	Data []byte
	// Size is the number of bytes actually filled
	Size int

	PixelFormat PixelFormat
	Width       int
	Height      int
	XOffset     int
	YOffset     int
	// Timestamp is the device timestamp in nanoseconds
	Timestamp uint64
	Status    BufferStatus

	// Generation identifies the stream instance the buffer was primed into
	Generation uint64

	releaser Releaser
}

// Bind attaches the owner token. Called by the allocator.
func (b *RawBuffer) Bind(r Releaser) {
	b.releaser = r
}

// Unbind clears the owner token. Called by the allocator on release.
func (b *RawBuffer) Unbind() {
	b.releaser = nil
}

// Owned reports whether the buffer carries an owner token.
func (b *RawBuffer) Owned() bool {
	return b.releaser != nil
}

// Release hands the buffer back to its allocator. No-op for unowned buffers.
func (b *RawBuffer) Release() {
	if r := b.releaser; r != nil {
		r.Release(b)
	}
}

// Bytes returns the filled part of the buffer.
func (b *RawBuffer) Bytes() []byte {
	if b.Size > len(b.Data) {
		return b.Data
	}
	return b.Data[:b.Size]
}
