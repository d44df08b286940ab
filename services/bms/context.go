package bms

import (
	"time"

	"github.com/rs/zerolog"

	"bmscode-go/canframe"
)

// -----------------------------------------------------------------------------
// Collaborators
// -----------------------------------------------------------------------------

// Contactor names one of the three high-current relays.
type Contactor uint8

const (
	Negative Contactor = iota
	Positive
	Precharge
)

func (c Contactor) String() string {
	switch c {
	case Negative:
		return "negative"
	case Positive:
		return "positive"
	case Precharge:
		return "precharge"
	default:
		return "unknown"
	}
}

// Contactors actuates the contactor outputs.
type Contactors interface {
	Set(c Contactor, closed bool) error
}

// FrontEnd refreshes a measurement sample from the analog front end. An
// errcode.Busy error means no fresh reading this tick; s is left untouched.
type FrontEnd interface {
	Sample(s *Sample) error
}

// FaultEvaluator derives threshold fault flags from measurements. It must
// leave ExternalKill and Timeout alone; those are owned by the controller.
type FaultEvaluator interface {
	Evaluate(m *Measurements, f *Faults)
}

// Charger is started on Charge entry and stopped on exit.
type Charger interface {
	Start() error
	Request(currentA float64) error
	Stop() error
}

// Transport hands encoded telemetry frames to the bus.
type Transport interface {
	Send(id uint32, data canframe.Frame, tsMs int64) error
}

// Watchdog is fed at the top of every tick.
type Watchdog interface {
	Feed()
}

// -----------------------------------------------------------------------------
// Context
// -----------------------------------------------------------------------------

// Faults holds one flag per fault condition.
type Faults struct {
	Undervoltage bool
	Overvoltage  bool
	Undertemp    bool
	Overtemp     bool
	Overcurrent  bool
	ExternalKill bool
	Timeout      bool
	OpenWire     bool
}

// Any is the fault summary: true when any flag is set.
func (f Faults) Any() bool {
	return f.Undervoltage || f.Overvoltage || f.Undertemp || f.Overtemp ||
		f.Overcurrent || f.ExternalKill || f.Timeout || f.OpenWire
}

// Commands are the level-triggered requests carried by the command frame.
type Commands struct {
	StartPrecharge    bool
	PrechargeComplete bool
	ChargeRequest     bool
	ReturnToIdle      bool
	ExternalKill      bool
}

// Sample is one raw refresh from the front end.
type Sample struct {
	CellV    []float64
	ThermC   []float64
	CurrentA float64
	IMD      uint8
	OpenWire bool
}

// Measurements are the pack statistics derived from the latest sample.
type Measurements struct {
	PackV    float64
	CellMinV float64
	CellMaxV float64
	CellAvgV float64
	TempMinC float64
	TempMaxC float64
	TempAvgC float64
	CurrentA float64
	SOC      float64 // percent
	IMD      uint8
	OpenWire bool
	Valid    bool
}

// Limits are the state-of-energy limits advertised while the pack is live.
type Limits struct {
	MaxDischargeA float64
	MaxRegenA     float64
	MaxChargeA    float64
}

// Context is the single value threaded through every hook and predicate.
type Context struct {
	Faults   Faults
	Commands Commands
	Meas     Measurements

	// Advertised limits; zero outside Active and Charge.
	SOE Limits

	limits     Limits
	contactors Contactors
	charger    Charger
	delay      func(time.Duration)
	settle     time.Duration
	log        zerolog.Logger

	actuationErrors int
}

// set drives one contactor, logging failures. Hooks cannot fail, so a
// failed write is counted and surfaced through Stats.
func (c *Context) set(k Contactor, closed bool) {
	if err := c.contactors.Set(k, closed); err != nil {
		c.actuationErrors++
		c.log.Error().Err(err).Str("contactor", k.String()).Bool("closed", closed).Msg("contactor write failed")
	}
}

func (c *Context) openAll() {
	c.set(Precharge, false)
	c.set(Positive, false)
	c.set(Negative, false)
}
