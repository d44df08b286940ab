package bms

import (
	"math"

	"bmscode-go/services/config"
	"bmscode-go/x/mathx"
)

// socHalfPercent is the SOC resolution carried by the status frame.
const socHalfPercent = 200

// summarize folds a sample into pack statistics. SOC follows the average
// cell voltage across the configured window, in half-percent steps.
func summarize(s *Sample, soc config.SOC, m *Measurements) {
	*m = Measurements{
		CurrentA: s.CurrentA,
		IMD:      s.IMD,
		OpenWire: s.OpenWire,
	}
	if len(s.CellV) == 0 {
		return
	}

	m.CellMinV, m.CellMaxV = math.Inf(1), math.Inf(-1)
	for _, v := range s.CellV {
		m.PackV += v
		m.CellMinV = mathx.Min(m.CellMinV, v)
		m.CellMaxV = mathx.Max(m.CellMaxV, v)
	}
	m.CellAvgV = m.PackV / float64(len(s.CellV))

	if len(s.ThermC) > 0 {
		var sum float64
		m.TempMinC, m.TempMaxC = math.Inf(1), math.Inf(-1)
		for _, t := range s.ThermC {
			sum += t
			m.TempMinC = mathx.Min(m.TempMinC, t)
			m.TempMaxC = mathx.Max(m.TempMaxC, t)
		}
		m.TempAvgC = sum / float64(len(s.ThermC))
	}

	avgMV := uint16(mathx.Clamp(math.Round(m.CellAvgV*1000), 0, math.MaxUint16))
	half := mathx.MapU16(avgMV, soc.EmptyMV, soc.FullMV, 0, socHalfPercent)
	m.SOC = float64(half) / 2
	m.Valid = true
}

// -----------------------------------------------------------------------------
// Threshold monitor
// -----------------------------------------------------------------------------

// ThresholdMonitor raises a flag whenever a measurement crosses its limit.
// Flags are not latched: they clear as soon as the measurement recovers.
type ThresholdMonitor struct {
	T config.Thresholds
}

func (t ThresholdMonitor) Evaluate(m *Measurements, f *Faults) {
	if !m.Valid {
		return
	}
	f.Undervoltage = m.CellMinV < t.T.UndervoltageV
	f.Overvoltage = m.CellMaxV > t.T.OvervoltageV
	f.Undertemp = m.TempMinC < t.T.UndertempC
	f.Overtemp = m.TempMaxC > t.T.OvertempC
	f.Overcurrent = math.Abs(m.CurrentA) > t.T.OvercurrentA
	f.OpenWire = m.OpenWire
}
