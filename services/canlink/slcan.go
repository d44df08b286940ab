package canlink

import (
	"bmscode-go/bus"
	"bmscode-go/errcode"
	"bmscode-go/x/conv"
)

// maxLine bounds one SLCAN line: 'T', 8 ID digits, DLC, 16 data digits.
const maxLine = 32

// AppendFrame appends f as one SLCAN line, "tIIIL<data>\r" for standard
// identifiers and "TIIIIIIIIL<data>\r" for extended ones. DLC is always 8.
func AppendFrame(dst []byte, f bus.Frame) []byte {
	if f.ID <= 0x7FF {
		dst = append(dst, 't')
		dst = conv.AppendHex(dst, uint64(f.ID), 3)
	} else {
		dst = append(dst, 'T')
		dst = conv.AppendHex(dst, uint64(f.ID&0x1FFFFFFF), 8)
	}
	dst = append(dst, '8')
	for _, b := range f.Data {
		dst = conv.AppendHex(dst, uint64(b), 2)
	}
	return append(dst, '\r')
}

// ParseFrame decodes one SLCAN data line without its terminator. Short DLCs
// are zero-padded to 8 bytes.
func ParseFrame(line []byte) (bus.Frame, error) {
	const op = "slcan.parse"
	var f bus.Frame
	if len(line) == 0 {
		return f, errcode.New(errcode.BadFrame, op, "empty line")
	}
	idLen, maxID := 0, uint64(0)
	switch line[0] {
	case 't':
		idLen, maxID = 3, 0x7FF
	case 'T':
		idLen, maxID = 8, 0x1FFFFFFF
	default:
		return f, errcode.New(errcode.BadFrame, op, "not a data frame")
	}
	if len(line) < 2+idLen {
		return f, errcode.New(errcode.BadFrame, op, "truncated header")
	}
	id, ok := conv.ParseHex(line[1 : 1+idLen])
	if !ok || id > maxID {
		return f, errcode.New(errcode.BadFrame, op, "bad identifier")
	}
	dlc, ok := conv.HexDigit(line[1+idLen])
	if !ok || dlc > 8 {
		return f, errcode.New(errcode.BadFrame, op, "bad length")
	}
	data := line[2+idLen:]
	if len(data) != 2*int(dlc) {
		return f, errcode.New(errcode.BadFrame, op, "payload does not match length")
	}
	for i := 0; i < int(dlc); i++ {
		v, ok := conv.ParseHex(data[2*i : 2*i+2])
		if !ok {
			return f, errcode.New(errcode.BadFrame, op, "bad payload digit")
		}
		f.Data[i] = byte(v)
	}
	f.ID = uint32(id)
	return f, nil
}

// lineSplitter reassembles CR/LF-terminated lines from arbitrary chunks.
// Lines longer than maxLine are discarded whole.
type lineSplitter struct {
	buf     [maxLine]byte
	n       int
	overrun bool
}

func (s *lineSplitter) feed(p []byte, fn func(line []byte)) {
	for _, c := range p {
		if c == '\r' || c == '\n' {
			if s.n > 0 && !s.overrun {
				fn(s.buf[:s.n])
			}
			s.n, s.overrun = 0, false
			continue
		}
		if s.n == len(s.buf) {
			s.overrun = true
			continue
		}
		s.buf[s.n] = c
		s.n++
	}
}
