package mathx

// CeilDiv returns ceil(a/b). b == 0 yields 0.
func CeilDiv[T ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// RoundDiv returns a/b rounded half up. b == 0 yields 0.
func RoundDiv[T ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + b/2) / b
}

// LerpU16 interpolates from a to b with t as a Q16 fraction (65535 is 1).
func LerpU16(a, b, t uint16) uint16 {
	d := int32(b) - int32(a)
	return uint16(int32(a) + d*int32(t)/65535)
}

// MapU16 maps x from [inMin,inMax] onto [outMin,outMax], clamping x to the
// input window first. An empty input window maps everything to outMin.
func MapU16(x, inMin, inMax, outMin, outMax uint16) uint16 {
	if inMax <= inMin {
		return outMin
	}
	x = Clamp(x, inMin, inMax)
	num := int32(x-inMin) * (int32(outMax) - int32(outMin))
	return uint16(int32(outMin) + num/int32(inMax-inMin))
}
