package convert

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ShiftDirection of the post-conversion bit shift
type ShiftDirection int

const (
	ShiftNone ShiftDirection = iota
	ShiftLeft
	ShiftRight
)

// DefaultShiftBits is the shift amount used when none is configured.
const DefaultShiftBits = 4

func (d ShiftDirection) String() string {
	switch d {
	case ShiftLeft:
		return "left"
	case ShiftRight:
		return "right"
	default:
		return "none"
	}
}

// ParseShiftDirection accepts "none", "left" and "right" (case-insensitive).
func ParseShiftDirection(s string) (ShiftDirection, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return ShiftNone, nil
	case "left":
		return ShiftLeft, nil
	case "right":
		return ShiftRight, nil
	}
	return ShiftNone, fmt.Errorf("invalid shift direction %q", s)
}

// ParseAlign accepts "low"/"mono16low" and "high"/"mono16high".
func ParseAlign(s string) (Align, error) {
	switch strings.ToLower(s) {
	case "", "low", "mono16low":
		return AlignLow, nil
	case "high", "mono16high":
		return AlignHigh, nil
	}
	return AlignLow, fmt.Errorf("invalid alignment %q", s)
}

// Shift shifts every little-endian 16-bit sample in data by bits. Left shifts
// truncate at bit 15, right shifts fill with zeros. A trailing odd byte is
// left untouched.
func Shift(data []byte, dir ShiftDirection, bits uint) {
	if dir == ShiftNone || bits == 0 {
		return
	}
	for i := 0; i+1 < len(data); i += 2 {
		v := binary.LittleEndian.Uint16(data[i:])
		if dir == ShiftLeft {
			v <<= bits
		} else {
			v >>= bits
		}
		binary.LittleEndian.PutUint16(data[i:], v)
	}
}
