package barrier

import "context"

// PostPhaseAction is run exactly once per phase, by the last arriving
// participant, between the state word's sense flip and the release
// events' flip (spec §4.3). Its ctx is a copy of the ambient context
// captured at construction (see WithAmbientContext), or context.Background
// if none was supplied.
type PostPhaseAction func(ctx context.Context) error

// config holds New's optional construction parameters, following the
// functional-options pattern map_config.go uses for Map: a private
// struct plus a handful of With* constructors, rather than a public
// options struct callers build by hand.
type config struct {
	ppa        PostPhaseAction
	ambientCtx context.Context
	trace      TraceFunc
}

// Option configures a Barrier at construction time.
type Option func(*config)

// WithPostPhaseAction registers the callback run once per phase by the
// last arriving participant. Without this option the barrier has no
// post-phase action and simply releases the phase once the last arrival
// is observed.
func WithPostPhaseAction(ppa PostPhaseAction) Option {
	return func(c *config) {
		c.ppa = ppa
	}
}

// WithAmbientContext captures ctx at construction; a copy of it (carrying
// the reentry marker — see barrier.go's finishPhase) is passed to the
// post-phase action on every invocation. Without this option the ambient
// context is context.Background().
func WithAmbientContext(ctx context.Context) Option {
	return func(c *config) {
		c.ambientCtx = ctx
	}
}

// WithTrace registers a hook invoked once per completed phase with a
// PhaseFinishedEvent. Without this option no tracing occurs.
func WithTrace(fn TraceFunc) Option {
	return func(c *config) {
		c.trace = fn
	}
}
