// Package bms is the contactor sequencing controller: a five-state graph
// (Idle, Precharge, Active, Charge, Fault) on the fsm engine, fed by the
// analog front end and the inbound command frame, publishing SOE, fault and
// status frames every tick.
package bms

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"bmscode-go/bus"
	"bmscode-go/canframe"
	"bmscode-go/errcode"
	"bmscode-go/fsm"
	"bmscode-go/services/config"
	"bmscode-go/x/framering"
	"bmscode-go/x/mathx"
	"bmscode-go/x/timex"
)

// rxDepth is the inbound frame ring size; it must be a power of two.
const rxDepth = 32

// maxPending is how many ticks in a row the front end may report Busy before
// it counts as failed.
const maxPending = 8

// Deps are the controller's collaborators. Only Contactors is required.
type Deps struct {
	Contactors Contactors
	FrontEnd   FrontEnd
	Faults     FaultEvaluator // default: ThresholdMonitor over cfg.Thresholds
	Charger    Charger
	Transport  Transport
	Watchdog   Watchdog
	Delay      func(time.Duration) // default: time.Sleep
	Clock      func() int64        // milliseconds; default: timex.NowMs
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the controller and engine logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Controller) { c.log = l } }

// Stats are running counters for diagnostics.
type Stats struct {
	Ticks           uint64
	CommandFrames   uint64
	IgnoredFrames   uint64
	RxDropped       uint32
	SendErrors      uint64
	AFEErrors       uint64
	AFEPending      uint64
	ActuationErrors int
}

// Controller owns the engine and drives it one step per Tick.
type Controller struct {
	cfg  config.Config
	deps Deps
	eng  *fsm.Engine[Context]
	rx   *framering.Ring[bus.Frame]
	enc  encoder
	log  zerolog.Logger

	sample    Sample
	afeFailed bool
	pending   int
	cmdSeen   bool
	lastCmdMs int64
	stats     Stats
}

// New builds the state graph. The engine starts on the first Tick, in Idle.
func New(cfg config.Config, deps Deps, opts ...Option) (*Controller, error) {
	const op = "bms.new"
	if deps.Contactors == nil {
		return nil, errcode.New(errcode.NullArgument, op, "contactors are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:  cfg,
		deps: deps,
		rx:   framering.New[bus.Frame](rxDepth),
		log:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.deps.Faults == nil {
		c.deps.Faults = ThresholdMonitor{T: cfg.Thresholds}
	}
	if c.deps.Delay == nil {
		c.deps.Delay = time.Sleep
	}
	if c.deps.Clock == nil {
		c.deps.Clock = timex.NowMs
	}

	ctx := Context{
		limits: Limits{
			MaxDischargeA: cfg.Limits.MaxDischargeA,
			MaxRegenA:     cfg.Limits.MaxRegenA,
			MaxChargeA:    cfg.Limits.MaxChargeA,
		},
		contactors: deps.Contactors,
		charger:    deps.Charger,
		delay:      c.deps.Delay,
		settle:     mathx.Min(cfg.Settle(), config.MaxSettle),
		log:        c.log,
	}
	c.eng = fsm.New(ctx,
		fsm.WithSelfTransitions(cfg.SelfTransitions),
		fsm.WithCapacity(5, 11),
		fsm.WithLogger(c.log),
	)
	if err := buildGraph(c.eng); err != nil {
		return nil, err
	}
	return c, nil
}

// Receive queues an inbound frame for the next tick. It is the only
// producer-side call and is safe from a receive goroutine or interrupt;
// it returns false when the queue is full.
func (c *Controller) Receive(f bus.Frame) bool { return c.rx.Push(f) }

// Tick runs one control cycle: feed the watchdog, apply queued commands,
// refresh measurements, evaluate faults, step the engine, publish telemetry.
// Faults never make Tick fail; only an unusable engine does.
func (c *Controller) Tick() error {
	now := c.deps.Clock()
	if c.deps.Watchdog != nil {
		c.deps.Watchdog.Feed()
	}
	ctx := c.eng.Context()
	if ctx == nil {
		return errcode.New(errcode.Destroyed, "bms.tick", "")
	}

	c.applyCommands(ctx, now)
	c.refresh(ctx)
	c.evaluate(ctx, now)

	if err := c.eng.Run(); err != nil {
		return err
	}
	c.publish(ctx, now)
	c.stats.Ticks++
	return nil
}

func (c *Controller) applyCommands(ctx *Context, now int64) {
	for n := c.rx.Len(); n > 0; n-- {
		f, ok := c.rx.Pop()
		if !ok {
			break
		}
		if f.ID != c.cfg.CAN.CommandID {
			c.stats.IgnoredFrames++
			continue
		}
		ctx.Commands = c.enc.decodeCommand(f.Data)
		c.cmdSeen = true
		c.lastCmdMs = now
		c.stats.CommandFrames++
	}
}

func (c *Controller) refresh(ctx *Context) {
	if c.deps.FrontEnd == nil {
		return
	}
	err := c.deps.FrontEnd.Sample(&c.sample)
	if errors.Is(err, errcode.Busy) {
		c.stats.AFEPending++
		if c.pending < maxPending {
			c.pending++
			return
		}
	} else {
		c.pending = 0
	}
	if err != nil {
		if !c.afeFailed {
			c.log.Warn().Err(err).Msg("front end refresh failed")
		}
		c.afeFailed = true
		c.stats.AFEErrors++
		ctx.Meas.Valid = false
		return
	}
	if c.afeFailed {
		c.log.Info().Msg("front end recovered")
	}
	c.afeFailed = false
	summarize(&c.sample, c.cfg.SOC, &ctx.Meas)
}

// evaluate sets every fault flag. The command timeout is armed by the first
// command frame, so a controller with no command source stays healthy.
func (c *Controller) evaluate(ctx *Context, now int64) {
	c.deps.Faults.Evaluate(&ctx.Meas, &ctx.Faults)
	ctx.Faults.ExternalKill = ctx.Commands.ExternalKill

	timedOut := false
	if limit := c.cfg.CommandTimeoutMS; limit > 0 && c.cmdSeen {
		timedOut = now-c.lastCmdMs > int64(limit)
	}
	ctx.Faults.Timeout = timedOut || c.afeFailed
}

func (c *Controller) publish(ctx *Context, now int64) {
	if c.deps.Transport == nil {
		return
	}
	ids := c.cfg.CAN
	soe, err := c.enc.encodeSOE(ctx)
	c.send(ids.SOEID, soe, err, now)
	fault, err := c.enc.encodeFault(ctx.Faults)
	c.send(ids.FaultID, fault, err, now)
	status, err := c.enc.encodeStatus(int(c.eng.CurrentID()), ctx.Meas)
	c.send(ids.StatusID, status, err, now)
}

func (c *Controller) send(id uint32, f canframe.Frame, encErr error, now int64) {
	err := encErr
	if err == nil {
		err = c.deps.Transport.Send(id, f, now)
	}
	if err != nil {
		c.stats.SendErrors++
		c.log.Debug().Err(err).Uint32("id", id).Msg("telemetry send failed")
	}
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// State returns the current state name, or "" before the first tick.
func (c *Controller) State() string {
	if !c.eng.IsRunning() {
		return ""
	}
	name, _ := c.eng.Current()
	return name
}

// Faults returns a copy of the current fault flags.
func (c *Controller) Faults() Faults {
	if ctx := c.eng.Context(); ctx != nil {
		return ctx.Faults
	}
	return Faults{}
}

// Measurements returns a copy of the latest pack statistics.
func (c *Controller) Measurements() Measurements {
	if ctx := c.eng.Context(); ctx != nil {
		return ctx.Meas
	}
	return Measurements{}
}

// Commands returns the command set applied on the last tick.
func (c *Controller) Commands() Commands {
	if ctx := c.eng.Context(); ctx != nil {
		return ctx.Commands
	}
	return Commands{}
}

// Stats returns the running counters.
func (c *Controller) Stats() Stats {
	s := c.stats
	s.RxDropped = c.rx.Dropped()
	if ctx := c.eng.Context(); ctx != nil {
		s.ActuationErrors = ctx.actuationErrors
	}
	return s
}

// Shutdown opens every contactor and releases the engine. Later Ticks fail
// with errcode.Destroyed.
func (c *Controller) Shutdown() error {
	if ctx := c.eng.Context(); ctx != nil {
		c.log.Info().Msg("shutdown: opening contactors")
		ctx.openAll()
	}
	return c.eng.Destroy()
}
