package bms

import (
	"math"

	"bmscode-go/drivers/adbms6830"
	"bmscode-go/errcode"
	"bmscode-go/services/config"
)

// CellMonitor is the part of the ADBMS6830 driver the front end uses.
// Reads report NaN for channels whose conversion has not landed.
type CellMonitor interface {
	ICs() int
	Wake()
	ClearCells() error
	StartCellConversion(ow adbms6830.OpenWire) error
	StartAuxConversion(pullUp bool) error
	ReadCellVoltages(dst []float64) error
	ReadAuxVoltages(dst []float64) error
}

type owPhase uint8

const (
	owOff owPhase = iota
	owEven
	owOdd
)

// AFE turns cell monitor readings into a Sample: the first CellsPerIC cells
// and the first ThermistorsPerIC GPIO inputs of every device.
//
// Every OpenWireEvery samples it runs an open-wire pass over the following
// ticks: an even then an odd current-source conversion, each compared with
// the last normal reading, with the GPIO pull-ups on for the first. Sample
// reports errcode.Busy while the pass runs and whenever a conversion has not
// landed yet; the caller keeps its previous sample.
type AFE struct {
	dev     CellMonitor
	afe     config.AFE
	therm   config.Thermistor
	thr     config.Thresholds
	current func() float64
	imd     func() uint8

	cells []float64
	aux   []float64
	ref   []float64

	phase   owPhase
	samples int
	owFound bool
	owOpen  bool
}

// AFEOption customises an AFE.
type AFEOption func(*AFE)

// WithCurrentSensor supplies the pack current reading.
func WithCurrentSensor(fn func() float64) AFEOption { return func(a *AFE) { a.current = fn } }

// WithIMD supplies the insulation monitor state.
func WithIMD(fn func() uint8) AFEOption { return func(a *AFE) { a.imd = fn } }

func NewAFE(dev CellMonitor, cfg config.Config, opts ...AFEOption) *AFE {
	a := &AFE{
		dev:   dev,
		afe:   cfg.AFE,
		therm: cfg.Thermistor,
		thr:   cfg.Thresholds,
		cells: make([]float64, dev.ICs()*adbms6830.CellsPerIC),
		aux:   make([]float64, dev.ICs()*adbms6830.AuxPerIC),
		ref:   make([]float64, dev.ICs()*adbms6830.CellsPerIC),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// OpenWire reports the result of the last completed open-wire pass.
func (a *AFE) OpenWire() bool { return a.owOpen }

// Sample wakes the chain, starts both conversions and reads back the results.
// s.CellV and s.ThermC are reused when they already have capacity.
func (a *AFE) Sample(s *Sample) error {
	const op = "afe.sample"
	a.dev.Wake()
	if a.phase != owOff {
		return a.openWireStep(op)
	}
	if err := a.start(op, adbms6830.OpenWireOff, false); err != nil {
		return err
	}
	if err := a.read(); err != nil {
		return err
	}
	if a.pending() {
		return errcode.New(errcode.Busy, op, "conversion pending")
	}
	a.fill(s)

	a.samples++
	if a.afe.OpenWireEvery > 0 && a.samples%a.afe.OpenWireEvery == 0 {
		copy(a.ref, a.cells)
		a.owFound = false
		if err := a.switchTo(op, owEven); err != nil {
			return err
		}
	}
	return nil
}

// openWireStep reads the conversion started on the previous tick and moves
// the pass along once it has landed.
func (a *AFE) openWireStep(op string) error {
	if err := a.read(); err != nil {
		return err
	}
	if a.pending() {
		return errcode.New(errcode.Busy, op, "open-wire conversion pending")
	}
	if a.cellsMoved() {
		a.owFound = true
	}
	if a.phase == owEven {
		if a.auxFloating() {
			a.owFound = true
		}
		if err := a.switchTo(op, owOdd); err != nil {
			return err
		}
		return errcode.New(errcode.Busy, op, "open-wire pass running")
	}
	a.owOpen = a.owFound
	if err := a.switchTo(op, owOff); err != nil {
		return err
	}
	return errcode.New(errcode.Busy, op, "open-wire pass done")
}

// switchTo clears the cell results so nothing from the previous mode is read
// back, then starts the conversions for phase p.
func (a *AFE) switchTo(op string, p owPhase) error {
	if err := a.dev.ClearCells(); err != nil {
		return errcode.Wrap(errcode.Timeout, op, err)
	}
	var ow adbms6830.OpenWire
	switch p {
	case owEven:
		ow = adbms6830.OpenWireEven
	case owOdd:
		ow = adbms6830.OpenWireOdd
	}
	if err := a.start(op, ow, p == owEven); err != nil {
		return err
	}
	a.phase = p
	return nil
}

func (a *AFE) start(op string, ow adbms6830.OpenWire, pullUp bool) error {
	if err := a.dev.StartAuxConversion(pullUp); err != nil {
		return errcode.Wrap(errcode.Timeout, op, err)
	}
	if err := a.dev.StartCellConversion(ow); err != nil {
		return errcode.Wrap(errcode.Timeout, op, err)
	}
	return nil
}

func (a *AFE) read() error {
	if err := a.dev.ReadCellVoltages(a.cells); err != nil {
		return err
	}
	return a.dev.ReadAuxVoltages(a.aux)
}

// each calls fn with the cell and aux buffer indices of every configured
// channel; aux is -1 past ThermistorsPerIC.
func (a *AFE) each(fn func(cell, aux int)) {
	for ic := 0; ic < a.dev.ICs(); ic++ {
		for i := 0; i < max(a.afe.CellsPerIC, a.afe.ThermistorsPerIC); i++ {
			cell, aux := -1, -1
			if i < a.afe.CellsPerIC {
				cell = ic*adbms6830.CellsPerIC + i
			}
			if i < a.afe.ThermistorsPerIC {
				aux = ic*adbms6830.AuxPerIC + i
			}
			fn(cell, aux)
		}
	}
}

func (a *AFE) pending() bool {
	found := false
	a.each(func(cell, aux int) {
		if cell >= 0 && math.IsNaN(a.cells[cell]) {
			found = true
		}
		if aux >= 0 && math.IsNaN(a.aux[aux]) {
			found = true
		}
	})
	return found
}

func (a *AFE) cellsMoved() bool {
	delta := float64(a.thr.OpenWireDeltaMV) / 1000
	moved := false
	a.each(func(cell, _ int) {
		if cell >= 0 && math.Abs(a.cells[cell]-a.ref[cell]) > delta {
			moved = true
		}
	})
	return moved
}

func (a *AFE) auxFloating() bool {
	auxOW := float64(a.thr.OpenWireAuxMV) / 1000
	floating := false
	a.each(func(_, aux int) {
		if aux >= 0 && a.aux[aux] > auxOW {
			floating = true
		}
	})
	return floating
}

// fill copies a normal conversion into s. Cells below the open-wire floor
// and thermistor inputs above the open-wire ceiling count as open, as does
// the last open-wire pass.
func (a *AFE) fill(s *Sample) {
	s.CellV = s.CellV[:0]
	s.ThermC = s.ThermC[:0]
	s.OpenWire = a.owOpen
	cellOW := float64(a.thr.OpenWireCellMV) / 1000
	auxOW := float64(a.thr.OpenWireAuxMV) / 1000
	a.each(func(cell, aux int) {
		if cell >= 0 {
			v := a.cells[cell]
			if v < cellOW {
				s.OpenWire = true
			}
			s.CellV = append(s.CellV, v)
		}
		if aux >= 0 {
			v := a.aux[aux]
			if v > auxOW {
				s.OpenWire = true
			}
			if t := ThermistorC(v, a.therm); !math.IsNaN(t) {
				s.ThermC = append(s.ThermC, t)
			}
		}
	})
	if a.current != nil {
		s.CurrentA = a.current()
	}
	if a.imd != nil {
		s.IMD = a.imd()
	}
}

// ThermistorC converts a divider voltage (NTC to ground, pull-up to Vref)
// to °C with the beta equation.
func ThermistorC(v float64, p config.Thermistor) float64 {
	if v <= 0 || v >= p.VrefV || p.Beta == 0 || p.R25Ohm == 0 {
		return math.NaN()
	}
	r := p.PullupOhm * v / (p.VrefV - v)
	const t25 = 298.15
	invT := 1/t25 + math.Log(r/p.R25Ohm)/p.Beta
	return 1/invT - 273.15
}
