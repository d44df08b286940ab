// Package conv has allocation-free number/text helpers for MCU code paths.
package conv

const hexd = "0123456789ABCDEF"

// AppendHex appends the low digits*4 bits of n as uppercase, zero-padded hex.
func AppendHex(dst []byte, n uint64, digits int) []byte {
	for i := digits - 1; i >= 0; i-- {
		dst = append(dst, hexd[(n>>(uint(i)*4))&0xF])
	}
	return dst
}

// HexDigit returns the value of one hex digit (either case).
func HexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// ParseHex parses up to 16 hex digits. Empty or invalid input reports false.
func ParseHex(s []byte) (uint64, bool) {
	if len(s) == 0 || len(s) > 16 {
		return 0, false
	}
	var v uint64
	for _, c := range s {
		d, ok := HexDigit(c)
		if !ok {
			return 0, false
		}
		v = v<<4 | uint64(d)
	}
	return v, true
}
