package fsm

// StateFunc is a lifecycle hook. It receives the engine and the engine-owned
// context; it must not block.
type StateFunc[C any] func(e *Engine[C], ctx *C)

// Predicate is one guard term of a transition.
type Predicate[C any] func(e *Engine[C], ctx *C) bool

// Hooks groups the three optional lifecycle hooks of a state.
// Nil hooks are skipped.
type Hooks[C any] struct {
	Enter  StateFunc[C]
	Update StateFunc[C]
	Exit   StateFunc[C]
}

// PredicateGroup is a conjunction evaluated in order with short-circuit.
// The empty group is satisfied.
type PredicateGroup[C any] []Predicate[C]

// Group builds a PredicateGroup from the given predicates. The result does not
// alias the argument list.
func Group[C any](preds ...Predicate[C]) PredicateGroup[C] {
	g := make(PredicateGroup[C], len(preds))
	copy(g, preds)
	return g
}

// Satisfied reports whether every predicate returns true.
func (g PredicateGroup[C]) Satisfied(e *Engine[C], ctx *C) bool {
	for _, p := range g {
		if p == nil {
			continue
		}
		if !p(e, ctx) {
			return false
		}
	}
	return true
}

func (g PredicateGroup[C]) clone() PredicateGroup[C] {
	if len(g) == 0 {
		return nil
	}
	out := make(PredicateGroup[C], len(g))
	copy(out, g)
	return out
}

// Not negates p. A nil p counts as Always, as in a PredicateGroup, so Not(nil)
// never holds.
func Not[C any](p Predicate[C]) Predicate[C] {
	if p == nil {
		return func(*Engine[C], *C) bool { return false }
	}
	return func(e *Engine[C], ctx *C) bool { return !p(e, ctx) }
}

// Always is the trivially true predicate.
func Always[C any](*Engine[C], *C) bool { return true }

func (h Hooks[C]) enter(e *Engine[C], ctx *C) {
	if h.Enter != nil {
		h.Enter(e, ctx)
	}
}

func (h Hooks[C]) update(e *Engine[C], ctx *C) {
	if h.Update != nil {
		h.Update(e, ctx)
	}
}

func (h Hooks[C]) exit(e *Engine[C], ctx *C) {
	if h.Exit != nil {
		h.Exit(e, ctx)
	}
}
