// Package adbms6830 provides command codes and bitfields used in the
// operation of the ADBMS6830 16-cell battery monitor.
package adbms6830

const (
	// Cells and aux channels per device.
	CellsPerIC = 16
	AuxPerIC   = 12 // GPIO1..GPIO10, VMV, V+

	// Register group payload, then PEC10.
	groupBytes = 6
	frameBytes = groupBytes + 2

	// --- Read commands ---
	cmdRDCVA  = 0x004
	cmdRDCVB  = 0x006
	cmdRDCVC  = 0x008
	cmdRDCVD  = 0x00A
	cmdRDCVE  = 0x009
	cmdRDCVF  = 0x00B
	cmdRDAUXA = 0x019
	cmdRDAUXB = 0x01A
	cmdRDAUXC = 0x01B
	cmdRDAUXD = 0x01F
	cmdRDCFGA = 0x002
	cmdRDCFGB = 0x026

	// --- Write / control ---
	cmdWRCFGA   = 0x001
	cmdWRCFGB   = 0x024
	cmdCLRCELL  = 0x711
	cmdCLRAUX   = 0x712
	cmdSNAP     = 0x02D
	cmdUNSNAP   = 0x02F
	cmdADSVBase = 0x260 // | RD<<8 | CONT<<7 | DCP<<4 | RSTF<<2 | OW
	cmdADAXBase = 0x410 // | OW<<8 | PUP<<7 | CH[4]<<6 | CH[3:0]

	// --- ADSV bits ---
	adsvRD   = 1 << 8
	adsvCONT = 1 << 7
	adsvDCP  = 1 << 4
	adsvRSTF = 1 << 2

	// --- ADAX bits ---
	adaxOW  = 1 << 8
	adaxPUP = 1 << 7

	// --- CFGA ---
	cfgaREFON = 1 << 7 // byte 0

	// Voltage code: 150 µV per LSB, +1.5 V offset.
	lsbMicroV    = 150
	offsetMicroV = 1_500_000

	// Result registers read 0x8000 after reset or CLRCELL/CLRAUX until a
	// conversion lands.
	clearedCode = -0x8000

	// VUV/VOV thresholds step in 16 LSBs.
	thresholdLSBMicroV = 16 * lsbMicroV
)

var cellGroups = [...]uint16{cmdRDCVA, cmdRDCVB, cmdRDCVC, cmdRDCVD, cmdRDCVE, cmdRDCVF}
var auxGroups = [...]uint16{cmdRDAUXA, cmdRDAUXB, cmdRDAUXC, cmdRDAUXD}

// OpenWire selects the cell open-wire current source during ADSV.
type OpenWire uint8

const (
	OpenWireOff OpenWire = iota
	OpenWireEven
	OpenWireOdd
)
