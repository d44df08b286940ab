package bms

import (
	"bmscode-go/fsm"
)

// State names, registered in this order. The registration index doubles as
// the state code in the status frame.
const (
	StateIdle      = "Idle"
	StatePrecharge = "Precharge"
	StateActive    = "Active"
	StateCharge    = "Charge"
	StateFault     = "Fault"
)

type engine = fsm.Engine[Context]

// -----------------------------------------------------------------------------
// Hooks
// -----------------------------------------------------------------------------

func idleEnter(_ *engine, c *Context) {
	c.log.Info().Msg("entering idle")
	c.openAll()
	c.SOE = Limits{}
}

func prechargeEnter(_ *engine, c *Context) {
	c.log.Info().Msg("entering precharge")
	c.set(Positive, true)
	c.set(Precharge, true)
}

// activeEnter holds the controller's one blocking wait: the settle between
// closing the negative contactor and opening the precharge path.
func activeEnter(_ *engine, c *Context) {
	c.log.Info().Msg("entering active")
	c.set(Negative, true)
	if c.settle > 0 {
		c.delay(c.settle)
	}
	c.set(Precharge, false)
}

func activeUpdate(_ *engine, c *Context) {
	c.SOE.MaxDischargeA = c.limits.MaxDischargeA
	c.SOE.MaxRegenA = c.limits.MaxRegenA
}

func chargeEnter(_ *engine, c *Context) {
	c.log.Info().Msg("entering charge")
	if c.charger == nil {
		return
	}
	if err := c.charger.Start(); err != nil {
		c.log.Error().Err(err).Msg("charger start failed")
	}
}

// chargeUpdate keeps requesting charge current until the pack is full.
func chargeUpdate(e *engine, c *Context) {
	activeUpdate(e, c)
	if c.charger == nil {
		return
	}
	req := c.limits.MaxChargeA
	if c.Meas.Valid && c.Meas.SOC >= 100 {
		req = 0
	}
	if err := c.charger.Request(req); err != nil {
		c.log.Warn().Err(err).Float64("current_a", req).Msg("charger request failed")
	}
}

func chargeExit(_ *engine, c *Context) {
	c.log.Debug().Msg("exiting charge")
	if c.charger == nil {
		return
	}
	if err := c.charger.Stop(); err != nil {
		c.log.Error().Err(err).Msg("charger stop failed")
	}
}

func faultEnter(_ *engine, c *Context) {
	c.log.Warn().Interface("faults", c.Faults).Msg("entering fault")
	c.openAll()
	c.SOE = Limits{}
}

func exitLogger(name string) fsm.StateFunc[Context] {
	return func(_ *engine, c *Context) {
		c.log.Debug().Msgf("exiting %s", name)
	}
}

// -----------------------------------------------------------------------------
// Predicates
// -----------------------------------------------------------------------------

func faulted(_ *engine, c *Context) bool           { return c.Faults.Any() }
func startPrecharge(_ *engine, c *Context) bool    { return c.Commands.StartPrecharge }
func prechargeComplete(_ *engine, c *Context) bool { return c.Commands.PrechargeComplete }
func chargeRequested(_ *engine, c *Context) bool   { return c.Commands.ChargeRequest }
func returnToIdle(_ *engine, c *Context) bool      { return c.Commands.ReturnToIdle }

var healthy = fsm.Not(faulted)

// -----------------------------------------------------------------------------
// Graph
// -----------------------------------------------------------------------------

// buildGraph registers the five states and the transition table. Command
// transitions also require a clear fault summary so a fault can never be
// outrun by a command that matched first.
func buildGraph(e *engine) error {
	states := []struct {
		name  string
		hooks fsm.Hooks[Context]
	}{
		{StateIdle, fsm.Hooks[Context]{Enter: idleEnter, Exit: exitLogger(StateIdle)}},
		{StatePrecharge, fsm.Hooks[Context]{Enter: prechargeEnter, Exit: exitLogger(StatePrecharge)}},
		{StateActive, fsm.Hooks[Context]{Enter: activeEnter, Update: activeUpdate, Exit: exitLogger(StateActive)}},
		{StateCharge, fsm.Hooks[Context]{Enter: chargeEnter, Update: chargeUpdate, Exit: chargeExit}},
		{StateFault, fsm.Hooks[Context]{Enter: faultEnter, Exit: exitLogger(StateFault)}},
	}
	for _, s := range states {
		if err := e.AddState(s.name, s.hooks); err != nil {
			return err
		}
	}

	transitions := []struct {
		from, to string
		guard    fsm.PredicateGroup[Context]
	}{
		{StateIdle, StatePrecharge, fsm.Group(healthy, startPrecharge)},
		{StatePrecharge, StateActive, fsm.Group(healthy, prechargeComplete)},
		{StateActive, StateCharge, fsm.Group(healthy, chargeRequested)},
		{StateActive, StateIdle, fsm.Group(healthy, returnToIdle)},
		{StateCharge, StateActive, fsm.Group(healthy, fsm.Not(chargeRequested))},
	}
	for _, t := range transitions {
		if err := e.AddTransition(t.from, t.to, t.guard); err != nil {
			return err
		}
	}

	// Every non-Fault state falls to Fault; Fault leaves only for Idle.
	if err := e.AddTransitionFromAll(StateFault, fsm.Group(faulted)); err != nil {
		return err
	}
	return e.AddTransition(StateFault, StateIdle, fsm.Group(fsm.Not(faulted)))
}
