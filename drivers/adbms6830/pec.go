package adbms6830

// PEC15 guards commands: seed 16, polynomial 0x4599, result shifted left one.
func pec15(data []byte) uint16 {
	rem := uint16(16)
	for _, b := range data {
		rem ^= uint16(b) << 7
		for i := 0; i < 8; i++ {
			if rem&0x4000 != 0 {
				rem = (rem << 1) ^ 0x4599
			} else {
				rem <<= 1
			}
			rem &= 0x7FFF
		}
	}
	return rem << 1
}

// PEC10 guards register data: seed 16, polynomial 0x08F. On received frames
// the six command-counter bits that precede the PEC are folded in as well.
func pec10(data []byte, counter byte, rx bool) uint16 {
	rem := uint16(16)
	for _, b := range data {
		rem ^= uint16(b) << 2
		for i := 0; i < 8; i++ {
			rem = pec10Step(rem)
		}
	}
	if rx {
		rem ^= uint16(counter&0xFC) << 2
		for i := 0; i < 6; i++ {
			rem = pec10Step(rem)
		}
	}
	return rem & 0x3FF
}

func pec10Step(rem uint16) uint16 {
	if rem&0x200 != 0 {
		return (rem << 1) ^ 0x8F
	}
	return rem << 1
}

// checkFrame verifies one received 8-byte register frame.
func checkFrame(f []byte) bool {
	want := uint16(f[6]&0x03)<<8 | uint16(f[7])
	return pec10(f[:groupBytes], f[6], true) == want
}
