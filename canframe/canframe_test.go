package canframe

import (
	"errors"
	"math/bits"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmscode-go/errcode"
)

func TestGenerateMask_Property(t *testing.T) {
	for pos := uint(0); pos < 64; pos++ {
		for n := uint(1); pos+n <= 64; n++ {
			m, err := GenerateMask(pos, n)
			require.NoError(t, err)
			if bits.OnesCount64(m) != int(n) {
				t.Fatalf("pos=%d len=%d: popcount %d", pos, n, bits.OnesCount64(m))
			}
			if bits.TrailingZeros64(m) != int(pos) {
				t.Fatalf("pos=%d len=%d: starts at %d", pos, n, bits.TrailingZeros64(m))
			}
			// Contiguous: shifting out the trailing zeros leaves 2^n - 1.
			if m>>pos != ^uint64(0)>>(64-n) {
				t.Fatalf("pos=%d len=%d: not contiguous: %#x", pos, n, m)
			}
		}
	}
}

func TestGenerateMask_Overflow(t *testing.T) {
	for _, c := range []struct{ pos, n uint }{
		{0, 0}, {0, 65}, {60, 5}, {64, 1}, {63, 2},
	} {
		_, err := GenerateMask(c.pos, c.n)
		assert.True(t, errors.Is(err, errcode.Overflow), "pos=%d len=%d", c.pos, c.n)
	}
	m, err := GenerateMask(0, 64)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), m)
}

func TestNewSchema_RejectsOverflowAndOverlap(t *testing.T) {
	_, err := NewSchema(Signal{Name: "a", Start: 60, Length: 8})
	assert.True(t, errors.Is(err, errcode.Overflow))

	_, err = NewSchema(
		Signal{Name: "a", Start: 0, Length: 12},
		Signal{Name: "b", Start: 8, Length: 8},
	)
	assert.True(t, errors.Is(err, errcode.Overflow))

	_, err = NewSchema(Signal{Name: "z", Start: 3, Length: 0})
	assert.True(t, errors.Is(err, errcode.Overflow))

	s, err := NewSchema(
		Signal{Name: "a", Start: 0, Length: 32},
		Signal{Name: "b", Start: 32, Length: 32},
	)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), s.UsedBits())
}

// 100 | 50<<12 | 4000<<24 == 0x0F_A003_2064.
func TestEncode_WorkedExample(t *testing.T) {
	s := MustSchema(
		Signal{Name: "a", Start: 0, Length: 12},
		Signal{Name: "b", Start: 12, Length: 12},
		Signal{Name: "c", Start: 24, Length: 16},
	)
	f, err := s.Encode([]int64{100, 50, 4000})
	require.NoError(t, err)
	assert.Equal(t, Frame{0x64, 0x20, 0x03, 0xA0, 0x0F, 0x00, 0x00, 0x00}, f)
	assert.Equal(t, []int64{100, 50, 4000}, s.Decode(f))
}

func TestEncode_MasksToLength(t *testing.T) {
	s := MustSchema(
		Signal{Name: "a", Start: 0, Length: 4},
		Signal{Name: "b", Start: 4, Length: 4},
	)
	f, err := s.Encode([]int64{0x1F, 0x0})
	require.NoError(t, err)
	assert.Equal(t, byte(0x0F), f[0], "excess bits of a must not reach b")
}

func TestEncode_WrongArity(t *testing.T) {
	s := MustSchema(Signal{Name: "a", Start: 0, Length: 8})
	_, err := s.Encode([]int64{1, 2})
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))
	assert.Error(t, s.DecodeInto(make([]int64, 3), Frame{}))
}

func TestDecode_SignExtends(t *testing.T) {
	s := MustSchema(
		Signal{Name: "i", Start: 3, Length: 10, Signed: true},
		Signal{Name: "u", Start: 13, Length: 10},
	)
	f, err := s.Encode([]int64{-5, 1000})
	require.NoError(t, err)
	assert.Equal(t, []int64{-5, 1000}, s.Decode(f))

	lo, hi := s.Signal(0).Range()
	f, err = s.Encode([]int64{lo, 0})
	require.NoError(t, err)
	assert.Equal(t, lo, s.Decode(f)[0])
	f, err = s.Encode([]int64{hi, 0})
	require.NoError(t, err)
	assert.Equal(t, hi, s.Decode(f)[0])
}

func TestRoundTrip_RandomSchemas(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 500; iter++ {
		// Random partition of 64 bits into consecutive fields, some gaps.
		var sigs []Signal
		pos := 0
		for pos < 64 {
			n := 1 + rng.Intn(20)
			if pos+n > 64 {
				n = 64 - pos
			}
			if rng.Intn(4) != 0 {
				sigs = append(sigs, Signal{Start: uint8(pos), Length: uint8(n), Signed: rng.Intn(2) == 0})
			}
			pos += n
		}
		s, err := NewSchema(sigs...)
		require.NoError(t, err)

		raw := make([]int64, s.Len())
		for i, sig := range sigs {
			lo, hi := sig.Range()
			span := uint64(hi - lo)
			raw[i] = lo + int64(rng.Uint64()%(span+1))
		}
		f, err := s.Encode(raw)
		require.NoError(t, err)
		got := make([]int64, s.Len())
		require.NoError(t, s.DecodeInto(got, f))
		require.Equal(t, raw, got, "iteration %d", iter)
	}
}

func TestRoundTrip_FullWidth(t *testing.T) {
	s := MustSchema(Signal{Name: "all", Start: 0, Length: 64, Signed: true})
	for _, v := range []int64{0, -1, 1 << 62, -(1 << 63)} {
		f, err := s.Encode([]int64{v})
		require.NoError(t, err)
		assert.Equal(t, v, s.Decode(f)[0])
	}
}

func TestQuantize(t *testing.T) {
	temp := Signal{Name: "temp", Start: 40, Length: 8, Scale: 1, Offset: -40}
	assert.Equal(t, int64(65), temp.Quantize(25))
	assert.Equal(t, int64(0), temp.Quantize(-100), "clamped low")
	assert.Equal(t, int64(255), temp.Quantize(400), "clamped high")
	assert.InDelta(t, 25.0, temp.Physical(65), 1e-9)

	volt := Signal{Name: "v", Start: 24, Length: 16, Scale: 0.01}
	assert.Equal(t, int64(40012), volt.Quantize(400.12))

	cur := Signal{Name: "i", Start: 0, Length: 16, Scale: 0.1, Signed: true}
	assert.Equal(t, int64(-123), cur.Quantize(-12.3))
}

func TestSchemaPhysical(t *testing.T) {
	s := MustSchema(
		Signal{Name: "limit", Start: 0, Length: 12, Scale: 0.1},
		Signal{Name: "temp", Start: 12, Length: 8, Scale: 1, Offset: -40},
	)
	raw, err := s.Quantize([]float64{120.5, 31})
	require.NoError(t, err)
	f, err := s.Encode(raw)
	require.NoError(t, err)
	got := s.Physical(f)
	assert.InDelta(t, 120.5, got[0], 1e-9)
	assert.InDelta(t, 31.0, got[1], 1e-9)
	assert.Equal(t, 1, s.Index("temp"))
	assert.Equal(t, -1, s.Index("nope"))
}

func TestCatalog(t *testing.T) {
	a := Message{ID: 0x173, Name: "soe", Schema: MustSchema()}
	b := Message{ID: 0x174, Name: "fault", Schema: MustSchema()}
	c, err := NewCatalog(a, b)
	require.NoError(t, err)
	m, ok := c.ByID(0x174)
	require.True(t, ok)
	assert.Equal(t, "fault", m.Name)
	assert.Equal(t, []string{"fault", "soe"}, c.Names())

	_, err = NewCatalog(a, Message{ID: 0x173, Name: "other"})
	assert.True(t, errors.Is(err, errcode.DuplicateName))
}
