package fsm

import "github.com/rs/zerolog"

type options struct {
	selfTransitions bool
	maxStates       int
	maxTransitions  int
	log             zerolog.Logger
}

// Option configures an Engine at construction.
type Option func(*options)

// WithSelfTransitions controls whether AddTransitionFromAll and
// AddTransitionToAll also install the from == to transition. Default false.
func WithSelfTransitions(include bool) Option {
	return func(o *options) { o.selfTransitions = include }
}

// WithCapacity pre-sizes the state and transition tables and makes them hard
// limits. Growing past a limit fails with errcode.Allocation and leaves the
// tables untouched. Zero means unbounded.
func WithCapacity(states, transitions int) Option {
	return func(o *options) {
		if states > 0 {
			o.maxStates = states
		}
		if transitions > 0 {
			o.maxTransitions = transitions
		}
	}
}

// WithLogger sets the logger used for transition and mutation diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func defaultOptions() options {
	return options{log: zerolog.Nop()}
}
