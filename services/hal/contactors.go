package hal

import (
	"fmt"

	"bmscode-go/errcode"
	"bmscode-go/services/bms"
	"bmscode-go/services/config"
)

// ContactorBank drives the three contactor coils from GPIO outputs.
type ContactorBank struct {
	pins      [3]GPIOPin
	activeLow bool
}

var _ bms.Contactors = (*ContactorBank)(nil)

// NewContactorBank claims the configured pins as outputs with every coil
// de-energised.
func NewContactorBank(f PinFactory, cfg config.Contactors) (*ContactorBank, error) {
	b := &ContactorBank{activeLow: cfg.ActiveLow}
	for k, n := range map[bms.Contactor]int{
		bms.Negative:  cfg.NegativePin,
		bms.Positive:  cfg.PositivePin,
		bms.Precharge: cfg.PrechargePin,
	} {
		p, ok := f.ByNumber(n)
		if !ok {
			return nil, errcode.New(errcode.InvalidParams, "hal.contactors", fmt.Sprintf("%s: no pin %d", k, n))
		}
		if err := p.ConfigureOutput(b.level(false)); err != nil {
			return nil, errcode.Wrap(errcode.Error, "hal.contactors", err)
		}
		b.pins[k] = p
	}
	return b, nil
}

func (b *ContactorBank) level(closed bool) bool { return closed != b.activeLow }

// Set energises (closed) or releases one contactor.
func (b *ContactorBank) Set(c bms.Contactor, closed bool) error {
	if int(c) >= len(b.pins) {
		return errcode.New(errcode.InvalidParams, "hal.contactors", "unknown contactor "+c.String())
	}
	b.pins[c].Set(b.level(closed))
	return nil
}

// Closed reads back the commanded state of c.
func (b *ContactorBank) Closed(c bms.Contactor) bool {
	if int(c) >= len(b.pins) {
		return false
	}
	return b.pins[c].Get() == b.level(true)
}
