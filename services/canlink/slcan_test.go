package canlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmscode-go/bus"
	"bmscode-go/canframe"
	"bmscode-go/errcode"
)

func TestAppendFrame(t *testing.T) {
	f := bus.Frame{ID: 0x173, Data: canframe.Frame{0x64, 0x20, 0x03, 0xA0, 0x0F}}
	assert.Equal(t, "t1738642003A00F000000\r", string(AppendFrame(nil, f)))

	ext := bus.Frame{ID: 0x18FF50E5, Data: canframe.Frame{1}}
	assert.Equal(t, "T18FF50E580100000000000000\r", string(AppendFrame(nil, ext)))
}

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte("t0C080100000000000000"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0C0), f.ID)
	assert.Equal(t, canframe.Frame{0x01}, f.Data)

	f, err = ParseFrame([]byte("t0C02abCD"))
	require.NoError(t, err)
	assert.Equal(t, canframe.Frame{0xAB, 0xCD}, f.Data, "short DLC zero-pads, either case")

	f, err = ParseFrame([]byte("T18FF50E50"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x18FF50E5), f.ID)
}

func TestParseFrame_RoundTrip(t *testing.T) {
	in := bus.Frame{ID: 0x7FF, Data: canframe.Frame{0xDE, 0xAD, 0xBE, 0xEF, 0, 1, 2, 3}}
	line := AppendFrame(nil, in)
	out, err := ParseFrame(line[:len(line)-1])
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseFrame_Rejects(t *testing.T) {
	for _, line := range []string{
		"",
		"r1230",       // remote frame
		"t12",         // truncated
		"t8001FF",     // 11-bit overflow
		"tXYZ0",       // bad id
		"t1239",       // dlc > 8
		"t1232FF",     // payload short
		"t1231FFFF",   // payload long
		"t1231GG",     // bad digit
		"T2000000000", // 29-bit overflow
	} {
		_, err := ParseFrame([]byte(line))
		assert.ErrorIs(t, err, errcode.BadFrame, "line %q", line)
	}
}

func TestLineSplitter(t *testing.T) {
	var (
		s   lineSplitter
		got []string
	)
	collect := func(l []byte) { got = append(got, string(l)) }

	s.feed([]byte("t1230\rt45"), collect)
	s.feed([]byte("60\r\n\r"), collect)
	assert.Equal(t, []string{"t1230", "t4560"}, got)

	got = nil
	long := make([]byte, maxLine+5)
	for i := range long {
		long[i] = 'A'
	}
	s.feed(long, collect)
	s.feed([]byte("\rt7770\r"), collect)
	assert.Equal(t, []string{"t7770"}, got, "overlong line is discarded whole")
}
