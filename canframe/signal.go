// Package canframe packs independently scaled numeric signals into the 8-byte
// payload of a fixed-size bus frame and extracts them again.
//
// Bit 0 of byte 0 is logical bit 0; the payload is the little-endian image of
// a 64-bit accumulator. Encode and Decode work on already-quantised integers
// so they stay allocation-free and exact; Signal.Quantize and Signal.Physical
// convert to and from engineering units.
package canframe

import (
	"math"

	"bmscode-go/errcode"
)

// FrameBits is the payload width.
const FrameBits = 64

// Signal describes one field of a frame.
//
//	physical = raw*Scale + Offset
type Signal struct {
	Name   string
	Start  uint8   // bit offset, 0..63
	Length uint8   // bit length, 1..64
	Scale  float64 // zero is treated as 1
	Offset float64
	Signed bool
}

// GenerateMask returns length contiguous set bits starting at offset.
// offset+length must not exceed 64 and length must be positive.
func GenerateMask(offset, length uint) (uint64, error) {
	if length == 0 || length > FrameBits || offset >= FrameBits || offset+length > FrameBits {
		return 0, errcode.New(errcode.Overflow, "generate_mask", "bit span outside 64-bit frame")
	}
	return lowMask(length) << offset, nil
}

func lowMask(length uint) uint64 {
	return ^uint64(0) >> (FrameBits - length)
}

func (s Signal) scale() float64 {
	if s.Scale == 0 {
		return 1
	}
	return s.Scale
}

// Range returns the smallest and largest raw values the field can carry.
func (s Signal) Range() (lo, hi int64) {
	n := uint(s.Length)
	if s.Signed {
		if n >= 64 {
			return math.MinInt64, math.MaxInt64
		}
		return -(int64(1) << (n - 1)), int64(1)<<(n-1) - 1
	}
	if n >= 63 {
		// Raw values are carried as int64; the top unsigned bit pattern
		// reads back through the same bits.
		return 0, math.MaxInt64
	}
	return 0, int64(1)<<n - 1
}

// Quantize converts a physical value to a raw integer,
// raw = round((physical - Offset) / Scale), clamped into Range.
func (s Signal) Quantize(physical float64) int64 {
	lo, hi := s.Range()
	v := math.Round((physical - s.Offset) / s.scale())
	if math.IsNaN(v) {
		return 0
	}
	if v <= float64(lo) {
		return lo
	}
	if v >= float64(hi) {
		return hi
	}
	return int64(v)
}

// Physical converts a raw integer back to engineering units.
func (s Signal) Physical(raw int64) float64 {
	return float64(raw)*s.scale() + s.Offset
}

// extract pulls the field out of the accumulator, sign-extending if needed.
func (s Signal) extract(acc uint64) int64 {
	n := uint(s.Length)
	v := (acc >> s.Start) & lowMask(n)
	if s.Signed && n < 64 {
		shift := 64 - n
		return int64(v<<shift) >> shift
	}
	return int64(v)
}

// place positions raw inside the accumulator.
func (s Signal) place(raw int64) uint64 {
	return (uint64(raw) & lowMask(uint(s.Length))) << s.Start
}
