// Package header decodes the 16-byte snapshot header a FrameCam device sends
// in answer to a snapshot request.
//
// Byte layout (multi-byte integers are big-endian):
//
//	0-5:   Magic (01 02 03 04 05 06)
//	6:     Format (0=JPEG, 1=RAW_GRBG8, 2=RAW_BGGR8)
//	7:     Interleaving factor
//	8-9:   Width
//	10-11: Height
//	12-15: ImageSize
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Size is the length of an encoded snapshot header.
const Size = 16

// Magic prefixes every valid header.
var Magic = [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

// ErrInvalidHeader reports a header that is truncated, names an unknown
// format, or fails a validity check.
var ErrInvalidHeader = errors.New("invalid snapshot header")

// Format identifies the payload that follows a header.
type Format uint8

const (
	JPEG Format = iota
	RawGRBG8
	RawBGGR8
)

func (f Format) String() string {
	switch f {
	case JPEG:
		return "JPEG"
	case RawGRBG8:
		return "RAW_GRBG8"
	case RawBGGR8:
		return "RAW_BGGR8"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// Known reports whether f is one of the defined formats.
func (f Format) Known() bool {
	return f <= RawBGGR8
}

// IsRaw reports whether the payload is a single-byte-per-pixel Bayer dump.
func (f Format) IsRaw() bool {
	return f == RawGRBG8 || f == RawBGGR8
}

// SnapshotHeader describes the payload the device prepared.
type SnapshotHeader struct {
	Magic        [6]byte
	Format       Format
	Interleaving uint8
	Width        uint16
	Height       uint16
	ImageSize    uint32
}

// Parse decodes the first Size bytes of b. It does not check the magic; call
// Valid before trusting the result.
func Parse(b []byte) (*SnapshotHeader, error) {
	if len(b) < Size {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrInvalidHeader, len(b), Size)
	}

	h := &SnapshotHeader{
		Format:       Format(b[6]),
		Interleaving: b[7],
		Width:        binary.BigEndian.Uint16(b[8:10]),
		Height:       binary.BigEndian.Uint16(b[10:12]),
		ImageSize:    binary.BigEndian.Uint32(b[12:16]),
	}
	copy(h.Magic[:], b[0:6])

	if !h.Format.Known() {
		return nil, fmt.Errorf("%w: unknown format %d", ErrInvalidHeader, b[6])
	}
	return h, nil
}

// Valid reports whether the magic matches. No other field is checked.
func (h *SnapshotHeader) Valid() bool {
	return h.Magic == Magic
}

// CheckGeometry cross-checks ImageSize against the declared dimensions.
// Raw payloads carry exactly one byte per pixel; JPEG payloads only need a
// non-zero size.
func (h *SnapshotHeader) CheckGeometry() error {
	if h.Format.IsRaw() {
		want := uint32(h.Width) * uint32(h.Height)
		if h.ImageSize != want {
			return fmt.Errorf("%w: image size %d, want %dx%d=%d", ErrInvalidHeader, h.ImageSize, h.Width, h.Height, want)
		}
		return nil
	}
	if h.ImageSize == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrInvalidHeader, h.Format)
	}
	return nil
}

// MarshalBinary encodes h in wire order.
func (h *SnapshotHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, Size)
	copy(b[0:6], h.Magic[:])
	b[6] = byte(h.Format)
	b[7] = h.Interleaving
	binary.BigEndian.PutUint16(b[8:10], h.Width)
	binary.BigEndian.PutUint16(b[10:12], h.Height)
	binary.BigEndian.PutUint32(b[12:16], h.ImageSize)
	return b, nil
}

// Factor returns the interleaving factor, treating 0 as "not interleaved".
func (h *SnapshotHeader) Factor() int {
	if h.Interleaving == 0 {
		return 1
	}
	return int(h.Interleaving)
}
