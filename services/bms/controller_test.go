package bms

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmscode-go/bus"
	"bmscode-go/canframe"
	"bmscode-go/errcode"
	"bmscode-go/services/config"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type call struct {
	C      Contactor
	Closed bool
}

type fakeContactors struct {
	calls []call
	err   error
}

func (f *fakeContactors) Set(c Contactor, closed bool) error {
	f.calls = append(f.calls, call{c, closed})
	return f.err
}

func (f *fakeContactors) take() []call {
	out := f.calls
	f.calls = nil
	return out
}

// fakeFaults drives the threshold flags directly.
type fakeFaults struct{ set Faults }

func (x *fakeFaults) Evaluate(_ *Measurements, f *Faults) {
	kill, timeout := f.ExternalKill, f.Timeout
	*f = x.set
	f.ExternalKill, f.Timeout = kill, timeout
}

type fakeTransport struct {
	last map[uint32]canframe.Frame
	sent int
	err  error
}

func (t *fakeTransport) Send(id uint32, data canframe.Frame, _ int64) error {
	if t.err != nil {
		return t.err
	}
	t.last[id] = data
	t.sent++
	return nil
}

type fakeCharger struct {
	starts, stops int
	requests      []float64
}

func (c *fakeCharger) Start() error {
	c.starts++
	return nil
}

func (c *fakeCharger) Stop() error {
	c.stops++
	return nil
}

func (c *fakeCharger) Request(a float64) error {
	c.requests = append(c.requests, a)
	return nil
}

type fakeFrontEnd struct {
	s   Sample
	err error
}

func (f *fakeFrontEnd) Sample(s *Sample) error {
	if f.err != nil {
		return f.err
	}
	*s = f.s
	return nil
}

type fakeWatchdog struct{ fed int }

func (w *fakeWatchdog) Feed() { w.fed++ }

// gapWatchdog records the longest interval between feeds on a virtual clock.
type gapWatchdog struct {
	now    *int64
	last   int64
	maxGap int64
	fed    bool
}

func (w *gapWatchdog) Feed() {
	if w.fed {
		w.maxGap = max(w.maxGap, *w.now-w.last)
	}
	w.last, w.fed = *w.now, true
}

// -----------------------------------------------------------------------------
// Harness
// -----------------------------------------------------------------------------

type harness struct {
	t        *testing.T
	c        *Controller
	cfg      config.Config
	out      *fakeContactors
	faults   *fakeFaults
	tx       *fakeTransport
	charger  *fakeCharger
	watchdog *fakeWatchdog
	delays   []time.Duration
	nowMs    int64
}

func newHarness(t *testing.T, mutate ...func(*config.Config, *Deps)) *harness {
	t.Helper()
	cfg, err := config.Default("host")
	require.NoError(t, err)

	h := &harness{
		t:        t,
		cfg:      cfg,
		out:      &fakeContactors{},
		faults:   &fakeFaults{},
		tx:       &fakeTransport{last: map[uint32]canframe.Frame{}},
		charger:  &fakeCharger{},
		watchdog: &fakeWatchdog{},
	}
	deps := Deps{
		Contactors: h.out,
		Faults:     h.faults,
		Charger:    h.charger,
		Transport:  h.tx,
		Watchdog:   h.watchdog,
		Delay:      func(d time.Duration) { h.delays = append(h.delays, d) },
		Clock:      func() int64 { return h.nowMs },
	}
	for _, m := range mutate {
		m(&h.cfg, &deps)
	}
	h.c, err = New(h.cfg, deps)
	require.NoError(t, err)
	return h
}

func (h *harness) tick() {
	h.t.Helper()
	require.NoError(h.t, h.c.Tick())
}

func (h *harness) command(c Commands) {
	h.t.Helper()
	require.True(h.t, h.c.Receive(bus.Frame{ID: h.cfg.CAN.CommandID, Data: EncodeCommand(c)}))
	h.tick()
}

func (h *harness) requireState(want string) {
	h.t.Helper()
	require.Equal(h.t, want, h.c.State())
}

func (h *harness) physical(id uint32, s *canframe.Schema) []float64 {
	h.t.Helper()
	f, ok := h.tx.last[id]
	require.True(h.t, ok, "no frame sent for %#x", id)
	return s.Physical(f)
}

// driveTo walks the happy path up to the named state.
func (h *harness) driveTo(state string) {
	h.t.Helper()
	h.tick()
	steps := []struct {
		name string
		cmd  Commands
	}{
		{StatePrecharge, Commands{StartPrecharge: true}},
		{StateActive, Commands{PrechargeComplete: true}},
		{StateCharge, Commands{ChargeRequest: true}},
	}
	for _, s := range steps {
		if h.c.State() == state {
			return
		}
		h.command(s.cmd)
		h.requireState(s.name)
	}
	h.requireState(state)
}

var allOpen = []call{{Precharge, false}, {Positive, false}, {Negative, false}}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestNew_RequiresContactors(t *testing.T) {
	cfg, err := config.Default("host")
	require.NoError(t, err)
	_, err = New(cfg, Deps{})
	assert.True(t, errors.Is(err, errcode.NullArgument))
}

func TestFirstTick_EntersIdleWithContactorsOpen(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "", h.c.State())

	h.tick()
	h.requireState(StateIdle)
	if diff := cmp.Diff(allOpen, h.out.take()); diff != "" {
		t.Fatalf("idle entry (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, h.watchdog.fed)
	assert.Equal(t, 3, h.tx.sent)
}

func TestHappyPath_ContactorSequence(t *testing.T) {
	h := newHarness(t)
	h.tick()
	h.out.take()

	h.command(Commands{StartPrecharge: true})
	h.requireState(StatePrecharge)
	if diff := cmp.Diff([]call{{Positive, true}, {Precharge, true}}, h.out.take()); diff != "" {
		t.Fatalf("precharge entry (-want +got):\n%s", diff)
	}

	h.command(Commands{PrechargeComplete: true})
	h.requireState(StateActive)
	if diff := cmp.Diff([]call{{Negative, true}, {Precharge, false}}, h.out.take()); diff != "" {
		t.Fatalf("active entry (-want +got):\n%s", diff)
	}
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, h.delays)

	soe := h.physical(h.cfg.CAN.SOEID, SOESchema)
	assert.InDelta(t, 200.0, soe[0], 1e-9)
	assert.InDelta(t, 80.0, soe[1], 1e-9)

	h.command(Commands{ChargeRequest: true})
	h.requireState(StateCharge)
	assert.Equal(t, 1, h.charger.starts)
	assert.Equal(t, []float64{20}, h.charger.requests)
	assert.Empty(t, h.out.take())

	h.command(Commands{})
	h.requireState(StateActive)
	assert.Equal(t, 1, h.charger.stops)
	h.out.take()

	h.command(Commands{ReturnToIdle: true})
	h.requireState(StateIdle)
	if diff := cmp.Diff(allOpen, h.out.take()); diff != "" {
		t.Fatalf("idle entry (-want +got):\n%s", diff)
	}
	soe = h.physical(h.cfg.CAN.SOEID, SOESchema)
	assert.Zero(t, soe[0])
	assert.Zero(t, soe[1])
}

func TestFault_HoldsWhileFlagSetAndReleasesInOneTick(t *testing.T) {
	h := newHarness(t)
	h.tick()

	h.faults.set.Overvoltage = true
	h.tick()
	h.requireState(StateFault)

	for i := 0; i < 20; i++ {
		h.command(Commands{StartPrecharge: true, ReturnToIdle: true})
		h.requireState(StateFault)
	}

	h.faults.set.Overvoltage = false
	h.tick()
	h.requireState(StateIdle)
}

func TestFault_PreemptsCommandInSameTick(t *testing.T) {
	h := newHarness(t)
	h.tick()
	h.out.take()

	h.faults.set.Overcurrent = true
	h.command(Commands{StartPrecharge: true})
	h.requireState(StateFault)
	for _, c := range h.out.take() {
		assert.False(t, c.Closed, "no contactor may close on the way into fault")
	}
}

func TestFault_ReachableFromEveryState(t *testing.T) {
	for _, state := range []string{StateIdle, StatePrecharge, StateActive, StateCharge} {
		t.Run(state, func(t *testing.T) {
			h := newHarness(t)
			h.driveTo(state)
			h.out.take()

			h.faults.set.Undertemp = true
			h.tick()
			h.requireState(StateFault)
			if diff := cmp.Diff(allOpen, h.out.take()); diff != "" {
				t.Fatalf("fault entry (-want +got):\n%s", diff)
			}
			if state == StateCharge {
				assert.Equal(t, 1, h.charger.stops)
			}
		})
	}
}

func TestExternalKill(t *testing.T) {
	h := newHarness(t)
	h.driveTo(StateActive)

	h.command(Commands{ExternalKill: true})
	h.requireState(StateFault)
	fault := h.physical(h.cfg.CAN.FaultID, FaultSchema)
	assert.Equal(t, 1.0, fault[0], "summary")
	assert.Equal(t, 1.0, fault[6], "external kill")

	h.command(Commands{})
	h.requireState(StateIdle)
	fault = h.physical(h.cfg.CAN.FaultID, FaultSchema)
	assert.Zero(t, fault[0])
}

func TestCommandTimeout(t *testing.T) {
	h := newHarness(t)

	// No command source yet: silence is not a fault.
	for ; h.nowMs < 2000; h.nowMs += 100 {
		h.tick()
	}
	h.requireState(StateIdle)

	h.command(Commands{})
	h.nowMs += 500
	h.tick()
	h.requireState(StateIdle)

	h.nowMs++
	h.tick()
	h.requireState(StateFault)
	assert.True(t, h.c.Faults().Timeout)

	h.command(Commands{})
	h.requireState(StateIdle)
}

func TestFrontEndFailureRaisesTimeout(t *testing.T) {
	fe := &fakeFrontEnd{s: Sample{CellV: []float64{3.6, 3.7}, ThermC: []float64{25}}}
	h := newHarness(t, func(_ *config.Config, d *Deps) { d.FrontEnd = fe })
	h.tick()
	require.True(t, h.c.Measurements().Valid)

	fe.err = errcode.New(errcode.PEC, "test", "")
	h.tick()
	h.requireState(StateFault)
	assert.True(t, h.c.Faults().Timeout)
	assert.Equal(t, uint64(1), h.c.Stats().AFEErrors)

	fe.err = nil
	h.tick()
	h.requireState(StateIdle)
}

func TestFrontEndPendingKeepsLastMeasurements(t *testing.T) {
	fe := &fakeFrontEnd{err: errcode.New(errcode.Busy, "test", "")}
	h := newHarness(t, func(_ *config.Config, d *Deps) {
		d.FrontEnd = fe
		d.Faults = nil
	})

	// Nothing has converted yet: no reading, and no fault from it.
	h.tick()
	h.requireState(StateIdle)
	assert.False(t, h.c.Measurements().Valid)
	assert.False(t, h.c.Faults().Any())

	fe.err = nil
	fe.s = Sample{CellV: []float64{3.6, 3.7}, ThermC: []float64{25}}
	h.tick()
	require.True(t, h.c.Measurements().Valid)

	fe.err = errcode.New(errcode.Busy, "test", "")
	fe.s = Sample{}
	for i := 0; i < maxPending; i++ {
		h.tick()
	}
	h.requireState(StateIdle)
	m := h.c.Measurements()
	assert.True(t, m.Valid)
	assert.InDelta(t, 3.65, m.CellAvgV, 1e-9)
	assert.Zero(t, h.c.Stats().AFEErrors)

	// A front end that never lands a conversion is a failed one.
	h.tick()
	h.requireState(StateFault)
	assert.True(t, h.c.Faults().Timeout)
	assert.Equal(t, uint64(1), h.c.Stats().AFEErrors)
	assert.Equal(t, uint64(maxPending+2), h.c.Stats().AFEPending)
}

func TestThresholdMonitorDrivesFault(t *testing.T) {
	fe := &fakeFrontEnd{s: Sample{CellV: []float64{3.6, 3.7}, ThermC: []float64{25, 30}}}
	h := newHarness(t, func(_ *config.Config, d *Deps) {
		d.FrontEnd = fe
		d.Faults = nil
	})
	h.tick()
	h.requireState(StateIdle)

	fe.s.CellV = []float64{3.6, 4.3}
	h.tick()
	h.requireState(StateFault)
	assert.True(t, h.c.Faults().Overvoltage)

	fault := h.physical(h.cfg.CAN.FaultID, FaultSchema)
	assert.Equal(t, []float64{1, 0, 1, 0, 0, 0, 0, 0}, fault)
}

func TestCharge_StopsRequestingWhenFull(t *testing.T) {
	fe := &fakeFrontEnd{s: Sample{CellV: []float64{4.2, 4.2}}}
	h := newHarness(t, func(_ *config.Config, d *Deps) { d.FrontEnd = fe })
	h.driveTo(StateCharge)
	require.InDelta(t, 100.0, h.c.Measurements().SOC, 1e-9)
	assert.Equal(t, []float64{0}, h.charger.requests)

	fe.s.CellV = []float64{4.0, 4.0}
	h.tick()
	h.requireState(StateCharge)
	assert.Equal(t, []float64{0, 20}, h.charger.requests)

	fe.s.CellV = []float64{4.25, 4.25}
	h.tick()
	assert.Equal(t, []float64{0, 20, 0}, h.charger.requests)
}

func TestStatusFrame(t *testing.T) {
	fe := &fakeFrontEnd{s: Sample{
		CellV:  []float64{3.5, 3.6, 3.7},
		ThermC: []float64{20, 31},
		IMD:    1,
	}}
	h := newHarness(t, func(_ *config.Config, d *Deps) { d.FrontEnd = fe })
	h.driveTo(StateActive)

	st := h.physical(h.cfg.CAN.StatusID, StatusSchema)
	assert.Equal(t, 2.0, st[0], "state code")
	assert.Equal(t, 1.0, st[1], "imd")
	assert.Equal(t, 31.0, st[2])
	assert.Equal(t, 20.0, st[3])
	assert.InDelta(t, 3.7, st[4], 0.006)
	assert.InDelta(t, 3.5, st[5], 0.006)
	assert.InDelta(t, 50.0, st[6], 0.5)

	soe := h.physical(h.cfg.CAN.SOEID, SOESchema)
	assert.InDelta(t, 10.8, soe[2], 0.005, "pack voltage")
	assert.Equal(t, 31.0, soe[3], "battery temperature is the hottest cell")
}

func TestForeignFramesAndOverflow(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < rxDepth+8; i++ {
		h.c.Receive(bus.Frame{ID: 0x123})
	}
	h.tick()
	st := h.c.Stats()
	assert.Equal(t, uint64(rxDepth), st.IgnoredFrames)
	assert.Equal(t, uint32(8), st.RxDropped)
	assert.Zero(t, st.CommandFrames)
}

func TestActuationErrorsAreCounted(t *testing.T) {
	h := newHarness(t)
	h.out.err = errors.New("pin stuck")
	h.tick()
	h.requireState(StateIdle)
	assert.Equal(t, 3, h.c.Stats().ActuationErrors)
}

func TestSendErrorsAreCounted(t *testing.T) {
	h := newHarness(t)
	h.tx.err = errors.New("bus off")
	h.tick()
	assert.Equal(t, uint64(3), h.c.Stats().SendErrors)
}

func TestShutdown(t *testing.T) {
	h := newHarness(t)
	h.driveTo(StateActive)
	h.out.take()

	require.NoError(t, h.c.Shutdown())
	if diff := cmp.Diff(allOpen, h.out.take()); diff != "" {
		t.Fatalf("shutdown (-want +got):\n%s", diff)
	}
	err := h.c.Tick()
	assert.True(t, errors.Is(err, errcode.Destroyed))
	assert.Equal(t, "", h.c.State())
}

func TestSelfTransitionsReassertFault(t *testing.T) {
	h := newHarness(t, func(c *config.Config, _ *Deps) { c.SelfTransitions = true })
	h.tick()
	h.faults.set.Overtemp = true
	h.tick()
	h.requireState(StateFault)
	h.out.take()

	h.tick()
	h.requireState(StateFault)
	assert.Equal(t, allOpen, h.out.take())
}

func TestWatchdogWindowCoversActiveSettle(t *testing.T) {
	cfg, err := config.Default("pico")
	require.NoError(t, err)

	var now int64
	wd := &gapWatchdog{now: &now}
	c, err := New(cfg, Deps{
		Contactors: &fakeContactors{},
		Faults:     &fakeFaults{},
		Watchdog:   wd,
		Delay:      func(d time.Duration) { now += d.Milliseconds() },
		Clock:      func() int64 { return now },
	})
	require.NoError(t, err)

	tick := func() {
		require.NoError(t, c.Tick())
		now += int64(cfg.TickMS)
	}
	tick()
	for _, cmd := range []Commands{{StartPrecharge: true}, {PrechargeComplete: true}, {}} {
		require.True(t, c.Receive(bus.Frame{ID: cfg.CAN.CommandID, Data: EncodeCommand(cmd)}))
		tick()
	}
	require.Equal(t, StateActive, c.State())

	assert.Equal(t, int64(cfg.TickMS+cfg.SettleMS), wd.maxGap)
	assert.LessOrEqual(t, wd.maxGap, cfg.Watchdog().Milliseconds())
}
