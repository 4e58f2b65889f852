package barrier

// PhaseFinishedEvent is the structured event a Barrier's trace hook
// receives once per completed phase, emitted by the last arrival after
// the state word's sense flip and before the release events are flipped
// (spec §6: "a trace hook emits a structured phase finished event
// carrying the sense and phase number").
type PhaseFinishedEvent struct {
	// Phase is the phase number that just finished (the value observed
	// before the phase counter's increment).
	Phase uint64
	// Sense is the sense bit observed at the last arrival's state-word
	// flip: false for even, true for odd.
	Sense bool
}

// TraceFunc is invoked once per completed phase. It must not block and
// must not call back into the Barrier that invoked it — it runs on the
// last arrival's goroutine, before the post-phase action, and receives no
// context carrying the reentry marker, so such calls are not rejected
// with ErrReentryFromPPA.
type TraceFunc func(PhaseFinishedEvent)
