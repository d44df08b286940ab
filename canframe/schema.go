package canframe

import (
	"encoding/binary"
	"fmt"

	"bmscode-go/errcode"
)

// Frame is one 8-byte payload.
type Frame [8]byte

// Uint64 returns the little-endian accumulator behind the payload.
func (f Frame) Uint64() uint64 { return binary.LittleEndian.Uint64(f[:]) }

// FrameOf builds a payload from an accumulator.
func FrameOf(acc uint64) (f Frame) {
	binary.LittleEndian.PutUint64(f[:], acc)
	return f
}

// Schema is a validated, ordered list of non-overlapping signals.
// Build one with NewSchema; the zero value encodes nothing.
type Schema struct {
	signals []Signal
	used    uint64 // union of all signal masks
}

// NewSchema validates the signals: every span must fit in 64 bits and no two
// spans may overlap. Violations are errcode.Overflow.
func NewSchema(signals ...Signal) (*Schema, error) {
	const op = "new_schema"
	s := &Schema{signals: make([]Signal, len(signals))}
	copy(s.signals, signals)
	total := 0
	for i, sig := range s.signals {
		m, err := GenerateMask(uint(sig.Start), uint(sig.Length))
		if err != nil {
			return nil, errcode.New(errcode.Overflow, op,
				fmt.Sprintf("signal %d (%s): start %d length %d exceeds frame", i, sig.Name, sig.Start, sig.Length))
		}
		if s.used&m != 0 {
			return nil, errcode.New(errcode.Overflow, op,
				fmt.Sprintf("signal %d (%s) overlaps an earlier signal", i, sig.Name))
		}
		s.used |= m
		total += int(sig.Length)
	}
	if total > FrameBits {
		return nil, errcode.New(errcode.Overflow, op, "signals use more than 64 bits")
	}
	return s, nil
}

// MustSchema is NewSchema for package-level tables; it panics on error.
func MustSchema(signals ...Signal) *Schema {
	s, err := NewSchema(signals...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of signals.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.signals)
}

// Signal returns the i-th signal.
func (s *Schema) Signal(i int) Signal { return s.signals[i] }

// Index returns the position of the named signal, or -1.
func (s *Schema) Index(name string) int {
	if s == nil {
		return -1
	}
	for i, sig := range s.signals {
		if sig.Name == name {
			return i
		}
	}
	return -1
}

// UsedBits returns the union of all signal spans.
func (s *Schema) UsedBits() uint64 {
	if s == nil {
		return 0
	}
	return s.used
}

// Encode places raw[i] into the span of signal i. Each value is masked to its
// length, so out-of-range values wrap rather than spill into neighbours.
func (s *Schema) Encode(raw []int64) (Frame, error) {
	if len(raw) != s.Len() {
		return Frame{}, errcode.New(errcode.InvalidParams, "encode",
			fmt.Sprintf("want %d values, got %d", s.Len(), len(raw)))
	}
	var acc uint64
	for i, sig := range s.signals {
		acc |= sig.place(raw[i])
	}
	return FrameOf(acc), nil
}

// DecodeInto extracts every signal of f into dst, which must have Len()
// entries.
func (s *Schema) DecodeInto(dst []int64, f Frame) error {
	if len(dst) != s.Len() {
		return errcode.New(errcode.InvalidParams, "decode",
			fmt.Sprintf("want %d slots, got %d", s.Len(), len(dst)))
	}
	acc := f.Uint64()
	for i, sig := range s.signals {
		dst[i] = sig.extract(acc)
	}
	return nil
}

// Decode is DecodeInto with a freshly allocated result.
func (s *Schema) Decode(f Frame) []int64 {
	out := make([]int64, s.Len())
	_ = s.DecodeInto(out, f)
	return out
}

// Quantize converts physical values to raw integers signal by signal.
func (s *Schema) Quantize(physical []float64) ([]int64, error) {
	if len(physical) != s.Len() {
		return nil, errcode.New(errcode.InvalidParams, "quantize",
			fmt.Sprintf("want %d values, got %d", s.Len(), len(physical)))
	}
	out := make([]int64, len(physical))
	for i, sig := range s.signals {
		out[i] = sig.Quantize(physical[i])
	}
	return out, nil
}

// Physical decodes f and converts every signal to engineering units.
func (s *Schema) Physical(f Frame) []float64 {
	acc := f.Uint64()
	out := make([]float64, s.Len())
	for i, sig := range s.signals {
		out[i] = sig.Physical(sig.extract(acc))
	}
	return out
}
