package adbms6830

import (
	"errors"
	"math"
	"time"

	"tinygo.org/x/drivers"

	"bmscode-go/errcode"
	"bmscode-go/x/mathx"
)

// ChipSelect drives the (active-low) CSB line; selected=true pulls it low.
type ChipSelect func(selected bool)

// Config describes the daisy chain. Thresholds of zero are left at the
// device's power-on value.
type Config struct {
	ICs           int
	UndervoltageV float64
	OvervoltageV  float64
	WakeDelay     time.Duration // isoSPI wake per device; default 500µs
}

func (c Config) Validate() error {
	if c.ICs <= 0 {
		return errors.New("ICs must be positive")
	}
	if c.OvervoltageV != 0 && c.UndervoltageV >= c.OvervoltageV {
		return errors.New("UndervoltageV must be below OvervoltageV")
	}
	return nil
}

// Device is a chain of ADBMS6830s behind one SPI chip select.
type Device struct {
	spi   drivers.SPI
	cs    ChipSelect
	cfg   Config
	sleep func(time.Duration)

	pecErrors uint32

	// Fixed buffers to avoid per-call heap allocations.
	cmd [4]byte
	tx  []byte
	rx  []byte
}

// New constructs a Device. cs may be nil when the SPI peripheral drives CSB.
func New(spi drivers.SPI, cs ChipSelect) *Device {
	if cs == nil {
		cs = func(bool) {}
	}
	return &Device{spi: spi, cs: cs, sleep: time.Sleep}
}

// SetSleep replaces the delay used between wake pulses.
func (d *Device) SetSleep(fn func(time.Duration)) {
	if fn != nil {
		d.sleep = fn
	}
}

// ICs returns the configured chain length.
func (d *Device) ICs() int { return d.cfg.ICs }

// PECErrors returns how many received register frames failed their PEC.
func (d *Device) PECErrors() uint32 { return d.pecErrors }

// Configure wakes the chain and writes configuration groups A and B to
// every device: reference on, GPIO pull-downs off, VUV/VOV thresholds.
func (d *Device) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return errcode.Wrap(errcode.InvalidParams, "adbms6830.configure", err)
	}
	if cfg.WakeDelay <= 0 {
		cfg.WakeDelay = 500 * time.Microsecond
	}
	d.cfg = cfg
	d.tx = make([]byte, cfg.ICs*frameBytes)
	d.rx = make([]byte, cfg.ICs*frameBytes)
	for i := range d.tx {
		d.tx[i] = 0xFF
	}

	d.Wake()

	var a [groupBytes]byte
	a[0] = cfgaREFON
	a[3] = 0xFF // GPO1..8
	a[4] = 0x03 // GPO9..10
	if err := d.writeGroup(cmdWRCFGA, a); err != nil {
		return err
	}

	var b [groupBytes]byte
	vuv := thresholdCode(cfg.UndervoltageV)
	vov := thresholdCode(cfg.OvervoltageV)
	b[0] = byte(vuv)
	b[1] = byte(vov<<4) | byte(vuv>>8)&0x0F
	b[2] = byte(vov >> 4)
	return d.writeGroup(cmdWRCFGB, b)
}

// Wake pulses CSB once per device so every isoSPI port is awake.
func (d *Device) Wake() {
	n := d.cfg.ICs
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		d.cs(true)
		_, _ = d.spi.Transfer(0xFF)
		d.cs(false)
		d.sleep(d.cfg.WakeDelay)
	}
}

// StartCellConversion starts continuous cell conversion (ADSV) with
// discharge disabled during measurement.
func (d *Device) StartCellConversion(ow OpenWire) error {
	return d.command(cmdADSVBase | adsvCONT | uint16(ow&0x03))
}

// StartAuxConversion converts all GPIO and supply channels (ADAX, CH=0).
// openWire enables the pull-up current used for aux open-wire checks.
func (d *Device) StartAuxConversion(openWire bool) error {
	code := uint16(cmdADAXBase)
	if openWire {
		code |= adaxOW | adaxPUP
	}
	return d.command(code)
}

// ClearCells resets the cell result registers to their cleared value, so a
// read before the next conversion lands reports NaN rather than stale data.
func (d *Device) ClearCells() error { return d.command(cmdCLRCELL) }

// ReadCellVoltages fills dst with ICs*CellsPerIC cell voltages in volts,
// device 0 first. The registers are snapshotted for a coherent read.
// Channels still holding the cleared code read NaN.
func (d *Device) ReadCellVoltages(dst []float64) error {
	return d.readVoltages("adbms6830.read_cells", cellGroups[:], CellsPerIC, true, dst)
}

// ReadAuxVoltages fills dst with ICs*AuxPerIC aux voltages in volts, NaN
// for cleared channels.
func (d *Device) ReadAuxVoltages(dst []float64) error {
	return d.readVoltages("adbms6830.read_aux", auxGroups[:], AuxPerIC, false, dst)
}

func (d *Device) readVoltages(op string, groups []uint16, perIC int, snap bool, dst []float64) error {
	if d.cfg.ICs == 0 {
		return errcode.New(errcode.InvalidParams, op, "not configured")
	}
	if len(dst) < d.cfg.ICs*perIC {
		return errcode.New(errcode.InvalidParams, op, "destination too short")
	}
	if snap {
		if err := d.command(cmdSNAP); err != nil {
			return err
		}
		defer func() { _ = d.command(cmdUNSNAP) }()
	}
	for g, code := range groups {
		if err := d.readGroup(op, code); err != nil {
			return err
		}
		for ic := 0; ic < d.cfg.ICs; ic++ {
			f := d.rx[ic*frameBytes:]
			for k := 0; k < 3; k++ {
				ch := g*3 + k
				if ch >= perIC {
					break
				}
				raw := int16(uint16(f[2*k]) | uint16(f[2*k+1])<<8)
				if raw == clearedCode {
					dst[ic*perIC+ch] = math.NaN()
					continue
				}
				dst[ic*perIC+ch] = CodeToVolts(raw)
			}
		}
	}
	return nil
}

// CodeToVolts converts a signed result code to volts.
func CodeToVolts(code int16) float64 {
	return float64(int64(code)*lsbMicroV+offsetMicroV) / 1e6
}

// VoltsToCode is the inverse of CodeToVolts, saturating at the code range.
func VoltsToCode(v float64) int16 {
	c := math.Round((v*1e6 - offsetMicroV) / lsbMicroV)
	if c > math.MaxInt16 {
		return math.MaxInt16
	}
	if c < math.MinInt16 {
		return math.MinInt16
	}
	return int16(c)
}

func thresholdCode(v float64) uint16 {
	const maxMicroV = offsetMicroV + 0xFFF*thresholdLSBMicroV
	uv := math.Round(v * 1e6)
	if uv <= offsetMicroV {
		return 0
	}
	c := mathx.RoundDiv(uint32(math.Min(uv, maxMicroV))-offsetMicroV, thresholdLSBMicroV)
	return uint16(mathx.Min(c, 0xFFF))
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

func (d *Device) setCommand(code uint16) {
	d.cmd[0] = byte(code >> 8)
	d.cmd[1] = byte(code)
	pec := pec15(d.cmd[:2])
	d.cmd[2] = byte(pec >> 8)
	d.cmd[3] = byte(pec)
}

func (d *Device) command(code uint16) error {
	d.setCommand(code)
	d.cs(true)
	err := d.spi.Tx(d.cmd[:], nil)
	d.cs(false)
	return err
}

func (d *Device) readGroup(op string, code uint16) error {
	d.setCommand(code)
	d.cs(true)
	err := d.spi.Tx(d.cmd[:], nil)
	if err == nil {
		err = d.spi.Tx(d.tx, d.rx)
	}
	d.cs(false)
	if err != nil {
		return err
	}
	for ic := 0; ic < d.cfg.ICs; ic++ {
		if !checkFrame(d.rx[ic*frameBytes : (ic+1)*frameBytes]) {
			d.pecErrors++
			return errcode.New(errcode.PEC, op, "register frame failed PEC10")
		}
	}
	return nil
}

// writeGroup sends the same payload to every device. The last device in the
// chain is shifted out first.
func (d *Device) writeGroup(code uint16, payload [groupBytes]byte) error {
	d.setCommand(code)
	for ic := 0; ic < d.cfg.ICs; ic++ {
		f := d.tx[ic*frameBytes : (ic+1)*frameBytes]
		copy(f, payload[:])
		pec := pec10(payload[:], 0, false)
		f[6] = byte(pec>>8) & 0x03
		f[7] = byte(pec)
	}
	d.cs(true)
	err := d.spi.Tx(d.cmd[:], nil)
	if err == nil {
		err = d.spi.Tx(d.tx, nil)
	}
	d.cs(false)
	for i := range d.tx {
		d.tx[i] = 0xFF
	}
	return err
}
