// Package fsm is a small table-driven finite state machine.
//
// States are registered by unique name and addressed internally by a stable
// StateID (their slot in the state table). Transitions are guarded by a
// PredicateGroup and evaluated in insertion order. Each call to Run advances
// the machine by at most one transition and then runs the current state's
// update hook exactly once.
//
// The engine owns a context value of type C, copied in at construction, which
// every hook and predicate receives by pointer. The engine is not re-entrant:
// calling Run or SetState from inside a hook fails with errcode.Busy.
package fsm

import (
	"bmscode-go/errcode"
)

// StateID is a stable handle into the state table. It stays valid for the
// engine's lifetime regardless of later growth.
type StateID int

// NoState is returned by lookups that find nothing.
const NoState StateID = -1

type state[C any] struct {
	name  string
	hooks Hooks[C]
}

type transition[C any] struct {
	from, to StateID
	preds    PredicateGroup[C]
}

// Engine holds the state table, the transition table, the current state and
// the context shared by all hooks.
type Engine[C any] struct {
	ctx         C
	states      []state[C]
	byName      map[string]StateID
	transitions []transition[C]
	current     StateID
	running     bool
	stepping    bool
	destroyed   bool
	opts        options
}

// New creates an engine with no states or transitions, not running. ctx is
// copied; later changes to the caller's value are not seen by the engine.
func New[C any](ctx C, opts ...Option) *Engine[C] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	e := &Engine[C]{
		ctx:    ctx,
		byName: make(map[string]StateID, o.maxStates),
		opts:   o,
	}
	if o.maxStates > 0 {
		e.states = make([]state[C], 0, o.maxStates)
	}
	if o.maxTransitions > 0 {
		e.transitions = make([]transition[C], 0, o.maxTransitions)
	}
	return e
}

func (e *Engine[C]) check(op string) error {
	if e == nil {
		return errcode.New(errcode.NullArgument, op, "nil engine")
	}
	if e.destroyed {
		return errcode.New(errcode.Destroyed, op, "")
	}
	return nil
}

func (e *Engine[C]) checkMutable(op string) error {
	if err := e.check(op); err != nil {
		return err
	}
	if e.stepping {
		return errcode.New(errcode.Busy, op, "called from inside a hook")
	}
	return nil
}

// AddState appends a state. Duplicate names are rejected with
// errcode.DuplicateName and the table is left unchanged.
func (e *Engine[C]) AddState(name string, hooks Hooks[C]) error {
	const op = "add_state"
	if err := e.checkMutable(op); err != nil {
		return err
	}
	if name == "" {
		return errcode.New(errcode.InvalidParams, op, "empty state name")
	}
	if _, dup := e.byName[name]; dup {
		e.opts.log.Warn().Str("state", name).Msg("fsm: duplicate state rejected")
		return errcode.New(errcode.DuplicateName, op, name)
	}
	if e.opts.maxStates > 0 && len(e.states) >= e.opts.maxStates {
		return errcode.New(errcode.Allocation, op, "state table full")
	}
	id := StateID(len(e.states))
	e.states = append(e.states, state[C]{name: name, hooks: hooks})
	e.byName[name] = id
	return nil
}

// AddTransition installs from -> to guarded by preds. Both states must exist.
// The predicate group is copied. On any error nothing is installed.
func (e *Engine[C]) AddTransition(from, to string, preds PredicateGroup[C]) error {
	const op = "add_transition"
	if err := e.checkMutable(op); err != nil {
		return err
	}
	f, ok := e.byName[from]
	if !ok {
		return errcode.New(errcode.UnknownState, op, from)
	}
	t, ok := e.byName[to]
	if !ok {
		return errcode.New(errcode.UnknownState, op, to)
	}
	if err := e.reserveTransitions(op, 1); err != nil {
		return err
	}
	e.transitions = append(e.transitions, transition[C]{from: f, to: t, preds: preds.clone()})
	return nil
}

// AddTransitionFromAll installs s -> to for every state s registered at the
// time of the call. The from == to transition is included only when the engine
// was built WithSelfTransitions(true). The batch is all-or-nothing.
func (e *Engine[C]) AddTransitionFromAll(to string, preds PredicateGroup[C]) error {
	const op = "add_transition_from_all"
	if err := e.checkMutable(op); err != nil {
		return err
	}
	t, ok := e.byName[to]
	if !ok {
		return errcode.New(errcode.UnknownState, op, to)
	}
	return e.addFanout(op, t, true, preds)
}

// AddTransitionToAll installs from -> s for every state s registered at the
// time of the call, with the same self-transition policy and atomicity as
// AddTransitionFromAll.
func (e *Engine[C]) AddTransitionToAll(from string, preds PredicateGroup[C]) error {
	const op = "add_transition_to_all"
	if err := e.checkMutable(op); err != nil {
		return err
	}
	f, ok := e.byName[from]
	if !ok {
		return errcode.New(errcode.UnknownState, op, from)
	}
	return e.addFanout(op, f, false, preds)
}

// addFanout expands anchor against every current state. inbound selects
// s -> anchor, otherwise anchor -> s.
func (e *Engine[C]) addFanout(op string, anchor StateID, inbound bool, preds PredicateGroup[C]) error {
	n := len(e.states)
	if !e.opts.selfTransitions {
		n--
	}
	if n <= 0 {
		return nil
	}
	if err := e.reserveTransitions(op, n); err != nil {
		return err
	}
	for i := range e.states {
		id := StateID(i)
		if id == anchor && !e.opts.selfTransitions {
			continue
		}
		tr := transition[C]{from: anchor, to: id, preds: preds.clone()}
		if inbound {
			tr.from, tr.to = id, anchor
		}
		e.transitions = append(e.transitions, tr)
	}
	return nil
}

func (e *Engine[C]) reserveTransitions(op string, n int) error {
	if e.opts.maxTransitions > 0 && len(e.transitions)+n > e.opts.maxTransitions {
		e.opts.log.Warn().Str("op", op).Int("need", n).Int("have", len(e.transitions)).
			Msg("fsm: transition table full")
		return errcode.New(errcode.Allocation, op, "transition table full")
	}
	return nil
}

// Run advances the machine by one step:
//
//  1. On the first call after creation or Stop, mark running and enter the
//     current state (index 0 unless SetState chose another). With no states
//     Run does nothing.
//  2. Fire the first transition, in insertion order, leaving the current state
//     whose predicates all hold: exit current, switch, enter target.
//  3. Run the update hook of the (possibly new) current state.
func (e *Engine[C]) Run() error {
	if err := e.checkMutable("run"); err != nil {
		return err
	}
	e.stepping = true
	defer func() { e.stepping = false }()

	if !e.running {
		if len(e.states) == 0 {
			return nil
		}
		e.running = true
		e.opts.log.Debug().Str("state", e.states[e.current].name).Msg("fsm: start")
		e.states[e.current].hooks.enter(e, &e.ctx)
		if !e.running {
			// Stopped from inside the enter hook.
			return nil
		}
	}

	for i := range e.transitions {
		tr := &e.transitions[i]
		if tr.from != e.current {
			continue
		}
		if !tr.preds.Satisfied(e, &e.ctx) {
			continue
		}
		e.switchTo(tr.to, "transition")
		if !e.running {
			return nil
		}
		break
	}

	e.states[e.current].hooks.update(e, &e.ctx)
	return nil
}

func (e *Engine[C]) switchTo(to StateID, why string) {
	from := e.current
	e.opts.log.Debug().
		Str("from", e.states[from].name).
		Str("to", e.states[to].name).
		Msg("fsm: " + why)
	e.states[from].hooks.exit(e, &e.ctx)
	e.current = to
	e.states[to].hooks.enter(e, &e.ctx)
}

// SetState relocates the current state without evaluating predicates. When
// the engine is running and the target differs, the exit/enter hooks run as
// for a transition; otherwise no hook runs. Meant for choosing the initial
// state, not for normal movement.
func (e *Engine[C]) SetState(name string) error {
	const op = "set_state"
	if err := e.checkMutable(op); err != nil {
		return err
	}
	id, ok := e.byName[name]
	if !ok {
		return errcode.New(errcode.UnknownState, op, name)
	}
	if e.running && id != e.current {
		e.stepping = true
		defer func() { e.stepping = false }()
		e.switchTo(id, "forced state")
		return nil
	}
	e.current = id
	return nil
}

// Stop clears the running flag. The current state's exit hook is not run; the
// next Run re-enters the current state.
func (e *Engine[C]) Stop() error {
	if err := e.check("stop"); err != nil {
		return err
	}
	e.running = false
	return nil
}

// Destroy releases the tables and context. Every later call reports
// errcode.Destroyed, including a second Destroy.
func (e *Engine[C]) Destroy() error {
	if err := e.checkMutable("destroy"); err != nil {
		return err
	}
	var zero C
	e.ctx = zero
	e.states = nil
	e.byName = nil
	e.transitions = nil
	e.current = 0
	e.running = false
	e.destroyed = true
	return nil
}

// StateCount returns the number of registered states.
func (e *Engine[C]) StateCount() int {
	if e == nil {
		return 0
	}
	return len(e.states)
}

// TransitionCount returns the number of installed transitions.
func (e *Engine[C]) TransitionCount() int {
	if e == nil {
		return 0
	}
	return len(e.transitions)
}

// IsRunning reports whether Run has started the machine and Stop has not
// been called since.
func (e *Engine[C]) IsRunning() bool {
	return e != nil && e.running
}

// Current returns the name of the current state, or false when there are no
// states.
func (e *Engine[C]) Current() (string, bool) {
	if e == nil || len(e.states) == 0 {
		return "", false
	}
	return e.states[e.current].name, true
}

// CurrentID returns the handle of the current state, or NoState.
func (e *Engine[C]) CurrentID() StateID {
	if e == nil || len(e.states) == 0 {
		return NoState
	}
	return e.current
}

// Lookup resolves a state name to its handle.
func (e *Engine[C]) Lookup(name string) (StateID, bool) {
	if e == nil {
		return NoState, false
	}
	id, ok := e.byName[name]
	if !ok {
		return NoState, false
	}
	return id, true
}

// StateName returns the name behind a handle, or "" if out of range.
func (e *Engine[C]) StateName(id StateID) string {
	if e == nil || id < 0 || int(id) >= len(e.states) {
		return ""
	}
	return e.states[id].name
}

// Context returns the engine-owned context. Outside hooks, callers must not
// hold on to it across Run calls from another goroutine.
func (e *Engine[C]) Context() *C {
	if e == nil || e.destroyed {
		return nil
	}
	return &e.ctx
}
