package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bmscode-go/bus"
	"bmscode-go/canframe"
	"bmscode-go/services/bms"
	"bmscode-go/services/canlink"
	"bmscode-go/services/config"
	"bmscode-go/services/hal"
	"bmscode-go/services/sim"
	"bmscode-go/services/ticker"
	"bmscode-go/x/mathx"
)

type runFlags struct {
	duration  time.Duration
	script    []string
	cmdPeriod time.Duration
	soc       float64
	loadA     float64
	tempC     float64
	slcan     bool
	realtime  bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller against a simulated pack",
		Long: `Run steps the controller against a simulated pack.

By default time is virtual: the run is as fast as the host allows and the
script drives the command frame. Each --at entry is <offset>:<commands>, where
<commands> is a '+'-joined list of command signals or "none", for example

  bmsctl run --at 0s:start_precharge --at 300ms:precharge_complete \
             --at 1s:charge_request --at 3s:return_to_idle --duration 4s

The latest command frame is repeated every --cmd-period, as an ECU would.

With --realtime the controller ticks on the wall clock and commands arrive as
SLCAN lines on stdin; telemetry is written to stdout as SLCAN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			log := g.logger(cmd.ErrOrStderr())
			if f.realtime {
				return runRealtime(cmd.Context(), cfg, f, cmd.InOrStdin(), cmd.OutOrStdout(), log)
			}
			steps, err := parseScript(f.script)
			if err != nil {
				return err
			}
			return runVirtual(cfg, f, steps, cmd.OutOrStdout(), log)
		},
	}
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 2*time.Second, "simulated (or, with --realtime, wall-clock) run time; 0 runs until interrupted")
	cmd.Flags().StringArrayVar(&f.script, "at", nil, "scripted command frame, <offset>:<cmd>[+<cmd>...]")
	cmd.Flags().DurationVar(&f.cmdPeriod, "cmd-period", 100*time.Millisecond, "command frame repeat period")
	cmd.Flags().Float64Var(&f.soc, "soc", 0.5, "initial state of charge, 0..1")
	cmd.Flags().Float64Var(&f.loadA, "load-a", 40, "discharge current drawn while Active")
	cmd.Flags().Float64Var(&f.tempC, "temp-c", 25, "pack temperature")
	cmd.Flags().BoolVar(&f.slcan, "slcan", false, "print every telemetry frame as SLCAN")
	cmd.Flags().BoolVar(&f.realtime, "realtime", false, "tick on the wall clock with SLCAN on stdin/stdout")
	return cmd
}

// -----------------------------------------------------------------------------
// Script
// -----------------------------------------------------------------------------

type step struct {
	at    time.Duration
	frame canframe.Frame
}

func parseScript(entries []string) ([]step, error) {
	steps := make([]step, 0, len(entries))
	for _, e := range entries {
		s, err := parseStep(e)
		if err != nil {
			return nil, err
		}
		if n := len(steps); n > 0 && s.at < steps[n-1].at {
			return nil, fmt.Errorf("--at %q: offsets must not decrease", e)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func parseStep(e string) (step, error) {
	off, cmds, ok := strings.Cut(e, ":")
	if !ok {
		return step{}, fmt.Errorf("--at %q: want <offset>:<commands>", e)
	}
	at, err := time.ParseDuration(off)
	if err != nil || at < 0 {
		return step{}, fmt.Errorf("--at %q: bad offset", e)
	}
	raw := make([]int64, bms.CommandSchema.Len())
	if cmds != "none" {
		for _, name := range strings.Split(cmds, "+") {
			i := bms.CommandSchema.Index(name)
			if i < 0 {
				return step{}, fmt.Errorf("--at %q: unknown command %q", e, name)
			}
			raw[i] = 1
		}
	}
	frame, err := bms.CommandSchema.Encode(raw)
	if err != nil {
		return step{}, err
	}
	return step{at: at, frame: frame}, nil
}

// -----------------------------------------------------------------------------
// Rig
// -----------------------------------------------------------------------------

// rig is the controller wired to a simulated pack and GPIO contactors.
type rig struct {
	cfg     config.Config
	pack    *sim.Pack
	charger *sim.Charger
	bank    *hal.ContactorBank
	bus     *bus.Bus
	conn    *bus.Connection
	ctrl    *bms.Controller
}

func newRig(cfg config.Config, f *runFlags, clock func() int64, delay func(time.Duration), log zerolog.Logger) (*rig, error) {
	r := &rig{cfg: cfg, bus: bus.NewBus(16)}
	r.conn = r.bus.NewConnection("bms")
	r.pack = sim.NewPack(cfg, sim.WithSOC(f.soc), sim.WithTemperature(f.tempC))
	r.charger = sim.NewCharger(r.pack, cfg.Limits.MaxChargeA)

	bank, err := hal.NewContactorBank(hal.DefaultPinFactory(), cfg.Contactors)
	if err != nil {
		return nil, err
	}
	r.bank = bank

	r.ctrl, err = bms.New(cfg, bms.Deps{
		Contactors: bank,
		FrontEnd:   bms.NewAFE(r.pack, cfg, bms.WithCurrentSensor(r.pack.Current)),
		Charger:    r.charger,
		Transport:  r.conn,
		Clock:      clock,
		Delay:      delay,
	}, bms.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// step ticks the controller and advances the pack by one period.
func (r *rig) step(loadA float64) error {
	if err := r.ctrl.Tick(); err != nil {
		return err
	}
	switch r.ctrl.State() {
	case bms.StateActive:
		r.pack.SetCurrent(loadA)
	case bms.StateCharge:
	default:
		r.pack.SetCurrent(0)
	}
	r.pack.Step(int64(r.cfg.TickMS))
	return nil
}

func (r *rig) contactors() string {
	var b strings.Builder
	for _, c := range []bms.Contactor{bms.Negative, bms.Positive, bms.Precharge} {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		state := "open"
		if r.bank.Closed(c) {
			state = "closed"
		}
		b.WriteString(c.String() + "=" + state)
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// Virtual time
// -----------------------------------------------------------------------------

func runVirtual(cfg config.Config, f *runFlags, steps []step, out io.Writer, log zerolog.Logger) error {
	if f.duration <= 0 {
		return fmt.Errorf("--duration must be positive without --realtime")
	}
	var now int64
	r, err := newRig(cfg, f, func() int64 { return now }, func(d time.Duration) { now += d.Milliseconds() }, log)
	if err != nil {
		return err
	}
	defer r.ctrl.Shutdown()

	tele := r.conn.Subscribe()
	defer tele.Unsubscribe()

	var (
		cmd      canframe.Frame
		haveCmd  bool
		next     int
		lastSent int64
		prev     string
		line     []byte
		period   = f.cmdPeriod.Milliseconds()
		tickMs   = uint64(cfg.TickMS)
		ticks    = mathx.CeilDiv(uint64(f.duration.Milliseconds()), tickMs)
	)
	for i := uint64(0); i < ticks; i++ {
		for next < len(steps) && steps[next].at.Milliseconds() <= now {
			cmd, haveCmd = steps[next].frame, true
			lastSent = now - period
			next++
		}
		if haveCmd && now-lastSent >= period {
			r.ctrl.Receive(bus.Frame{ID: cfg.CAN.CommandID, Data: cmd, TsMs: now})
			lastSent = now
		}

		if err := r.step(f.loadA); err != nil {
			return err
		}
		if s := r.ctrl.State(); s != prev {
			fmt.Fprintf(out, "%7dms  %-9s %s\n", now, s, r.contactors())
			prev = s
		}
		for drained := false; !drained; {
			select {
			case fr := <-tele.Channel():
				if f.slcan {
					line = canlink.AppendFrame(line[:0], fr)
					line[len(line)-1] = '\n'
					_, _ = out.Write(line)
				}
			default:
				drained = true
			}
		}
		now += int64(tickMs)
	}

	m, faults, st := r.ctrl.Measurements(), r.ctrl.Faults(), r.ctrl.Stats()
	fmt.Fprintf(out, "end %dms: state=%s soc=%.1f%% min=%.3fV max=%.3fV current=%.1fA faults=%+v\n",
		now, r.ctrl.State(), m.SOC, m.CellMinV, m.CellMaxV, r.pack.Current(), faults)
	log.Debug().Interface("stats", st).Msg("run finished")
	return nil
}

// -----------------------------------------------------------------------------
// Wall clock
// -----------------------------------------------------------------------------

func runRealtime(parent context.Context, cfg config.Config, f *runFlags, in io.Reader, out io.Writer, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()
	if f.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	r, err := newRig(cfg, f, nil, nil, log)
	if err != nil {
		return err
	}

	port := canlink.NewStreamPort(in, out)
	link := canlink.New(
		func(context.Context) (canlink.Port, error) { return port, nil },
		r.bus.NewConnection("canlink"),
		r.ctrl.Receive,
		canlink.WithLogger(log.With().Str("svc", "canlink").Logger()),
		canlink.WithTxIDs(cfg.CAN.SOEID, cfg.CAN.FaultID, cfg.CAN.StatusID),
	)
	tk, err := ticker.New(cfg.Tick(), func() error { return r.step(f.loadA) }, log.With().Str("svc", "ticker").Logger())
	if err != nil {
		return err
	}

	linkDone := make(chan error, 1)
	go func() { linkDone <- link.Run(ctx) }()
	tk.Run(ctx)

	if err := r.ctrl.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
	err = <-linkDone
	st := link.Stats()
	log.Info().
		Uint64("ticks", tk.Ticks()).
		Uint64("overruns", tk.Overruns()).
		Uint64("tx", st.TxFrames).
		Uint64("rx", st.RxFrames).
		Uint64("rx_bad", st.RxBad).
		Msg("run finished")
	return err
}
