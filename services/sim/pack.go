// Package sim models a battery pack and charger for host runs.
package sim

import (
	"math"
	"sync"

	"bmscode-go/drivers/adbms6830"
	"bmscode-go/errcode"
	"bmscode-go/services/config"
	"bmscode-go/x/mathx"
)

// Pack is a lumped series string. Every cell follows one linear open-circuit
// curve between the configured empty and full voltages, offset by its own
// imbalance. It satisfies the front end's cell monitor contract.
type Pack struct {
	mu sync.Mutex

	ics        int
	capacityAh float64
	soc        float64 // 0..1
	currentA   float64 // positive is discharge
	rOhm       float64 // per-cell series resistance
	tempC      float64

	socCfg config.SOC
	therm  config.Thermistor

	imbalanceMV []int
	openCell    int
	readErr     error
	converted   bool
}

type Option func(*Pack)

func WithCapacity(ah float64) Option    { return func(p *Pack) { p.capacityAh = ah } }
func WithSOC(frac float64) Option       { return func(p *Pack) { p.soc = mathx.Clamp(frac, 0, 1) } }
func WithResistance(ohm float64) Option { return func(p *Pack) { p.rOhm = ohm } }
func WithTemperature(c float64) Option  { return func(p *Pack) { p.tempC = c } }

// NewPack builds a pack shaped like cfg's AFE chain.
func NewPack(cfg config.Config, opts ...Option) *Pack {
	p := &Pack{
		ics:         cfg.AFE.ICCount,
		capacityAh:  50,
		soc:         0.5,
		rOhm:        0.001,
		tempC:       25,
		socCfg:      cfg.SOC,
		therm:       cfg.Thermistor,
		imbalanceMV: make([]int, cfg.AFE.ICCount*adbms6830.CellsPerIC),
		openCell:    -1,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pack) ICs() int { return p.ics }
func (p *Pack) Wake()    {}

func (p *Pack) StartCellConversion(adbms6830.OpenWire) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.converted = true
	return nil
}

// ClearCells drops the last cell conversion; reads fail until the next start.
func (p *Pack) ClearCells() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.converted = false
	return nil
}

func (p *Pack) StartAuxConversion(bool) error { return nil }

// ReadCellVoltages reports terminal voltages: open-circuit minus IR drop.
func (p *Pack) ReadCellVoltages(dst []float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.ics * adbms6830.CellsPerIC
	if len(dst) < n {
		return errcode.New(errcode.InvalidParams, "sim.cells", "destination too short")
	}
	if p.readErr != nil {
		return p.readErr
	}
	if !p.converted {
		return errcode.New(errcode.Timeout, "sim.cells", "no conversion started")
	}
	ocv := p.ocvMV()
	for i := 0; i < n; i++ {
		mv := int(ocv) + p.imbalanceMV[i]
		v := float64(mv)/1000 - p.currentA*p.rOhm
		if i == p.openCell {
			v = 0
		}
		dst[i] = v
	}
	return nil
}

// ReadAuxVoltages reports every GPIO as a thermistor divider at the pack
// temperature; the two spare inputs read the reference.
func (p *Pack) ReadAuxVoltages(dst []float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.ics * adbms6830.AuxPerIC
	if len(dst) < n {
		return errcode.New(errcode.InvalidParams, "sim.aux", "destination too short")
	}
	if p.readErr != nil {
		return p.readErr
	}
	v := dividerV(p.tempC, p.therm)
	for i := 0; i < n; i++ {
		if i%adbms6830.AuxPerIC >= 10 {
			dst[i] = p.therm.VrefV
			continue
		}
		dst[i] = v
	}
	return nil
}

func (p *Pack) ocvMV() uint16 {
	t := uint16(math.Round(p.soc * 65535))
	return mathx.LerpU16(p.socCfg.EmptyMV, p.socCfg.FullMV, t)
}

// Step integrates the current over dtMs milliseconds.
func (p *Pack) Step(dtMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capacityAh <= 0 {
		return
	}
	ah := p.currentA * float64(dtMs) / 3_600_000
	p.soc = mathx.Clamp(p.soc-ah/p.capacityAh, 0, 1)
}

// Current returns the pack current; positive is discharge.
func (p *Pack) Current() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentA
}

func (p *Pack) SetCurrent(a float64) {
	p.mu.Lock()
	p.currentA = a
	p.mu.Unlock()
}

func (p *Pack) SOC() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.soc
}

func (p *Pack) SetTemperature(c float64) {
	p.mu.Lock()
	p.tempC = c
	p.mu.Unlock()
}

// SetImbalance offsets one cell from the common curve.
func (p *Pack) SetImbalance(cell, mv int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if mathx.Between(cell, 0, len(p.imbalanceMV)-1) {
		p.imbalanceMV[cell] = mv
	}
}

// OpenCell disconnects one sense wire; -1 restores all.
func (p *Pack) OpenCell(cell int) {
	p.mu.Lock()
	p.openCell = cell
	p.mu.Unlock()
}

// FailReads makes subsequent reads return err; nil clears it.
func (p *Pack) FailReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
}

// dividerV inverts the beta equation: NTC to ground, pull-up to Vref.
func dividerV(tempC float64, t config.Thermistor) float64 {
	if t.Beta == 0 || t.R25Ohm == 0 {
		return 0
	}
	const t25 = 298.15
	r := t.R25Ohm * math.Exp(t.Beta*(1/(tempC+273.15)-1/t25))
	return t.VrefV * r / (r + t.PullupOhm)
}
