// Package barrier implements a phased, cyclic synchronization barrier: a
// dynamically-sized group of goroutines repeatedly rendezvous and proceed
// through numbered phases in lock-step, with an optional post-phase action
// run exactly once per phase by the last arrival.
//
// The whole of the mutable state — how many participants are registered,
// how many have arrived this phase, and which "sense" (half-cycle) the
// barrier is in — lives in a single packed 32-bit word updated by
// compare-and-swap. No mutex is ever held across a participant-visible
// wait; two alternating manual-reset events select which generation of
// waiters gets released, avoiding both the "lost wakeup" and the
// "overrun into next phase" hazards a single condition variable would
// invite under this CAS scheme.
package barrier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/llxisdsh/barrier/internal/opt"
)

const (
	// maxParticipants is the largest value current/total can hold: the
	// state word only has 15 bits for each.
	maxParticipants = 0x7FFF

	senseBit   = uint32(1) << 31
	stateField = uint32(0x7FFF)
	currentOff = 16
)

func encode(current, total uint32, sense bool) uint32 {
	w := (current & stateField) << currentOff
	w |= total & stateField
	if sense {
		w |= senseBit
	}
	return w
}

func decode(word uint32) (current, total uint32, sense bool) {
	sense = word&senseBit != 0
	current = (word >> currentOff) & stateField
	total = word & stateField
	return
}

// expectedSense reports the sense a freshly-started phase p is expected to
// carry: false (even) for even phases, true (odd) for odd phases. The
// barrier starts at phase 0 with sense false, matching spec §3's lifecycle.
func expectedSense(phase uint64) bool {
	return phase%2 == 1
}

type ppaMarkerKey struct{}

func withPPAMarker(ctx context.Context) context.Context {
	return context.WithValue(ctx, ppaMarkerKey{}, true)
}

// isPPAReentry reports whether ctx (or a context it was derived from)
// carries the marker set while a post-phase action is running. Go has no
// stable per-goroutine thread identity to compare against, so reentry
// detection here relies on callers made from within a post-phase action
// threading that action's ctx argument into the barrier call they make —
// exactly the argument a correctly-written action already receives and is
// expected to use for its own cancellation propagation. See DESIGN.md.
func isPPAReentry(ctx context.Context) bool {
	return ctx.Value(ppaMarkerKey{}) != nil
}

// Barrier is a reusable, dynamically-resizable phased barrier. The zero
// value is not usable; construct one with New.
type Barrier struct {
	_ noCopy

	// state packs (sense, current, total) into one atomically-updated
	// word; see encode/decode. This is the only field on the hot path of
	// every SignalAndWait/AddParticipants/RemoveParticipants call.
	state atomic.Uint32
	phase atomic.Uint64

	// Cache-line gap between the hot CAS/phase pair above and the cold,
	// rarely-written configuration and bookkeeping fields below, to keep
	// contention on state/phase from bouncing lines holding the PPA
	// closure or trace hook. Mirrors internal/opt's false-sharing
	// concern for Map's own hot counters.
	_ [opt.CacheLineSize_]byte

	evenEvent *manualResetEvent
	oddEvent  *manualResetEvent

	ppa        PostPhaseAction
	ambientCtx context.Context
	trace      TraceFunc

	// exception carries the most recent post-phase action failure,
	// surfaced to every participant released by the phase it failed in.
	// nil means the last completed phase's action (if any) succeeded.
	exception atomic.Pointer[error]

	disposed atomic.Bool

	phaseWatch phaseWatch
}

// New creates a Barrier for total initial participants. total must be
// between 0 and 32767 inclusive.
func New(total int, opts ...Option) (*Barrier, error) {
	if total < 0 || total > maxParticipants {
		return nil, ErrInvalidArgument
	}
	cfg := config{ambientCtx: context.Background()}
	for _, o := range opts {
		o(&cfg)
	}

	b := &Barrier{
		ppa:        cfg.ppa,
		ambientCtx: cfg.ambientCtx,
		trace:      cfg.trace,
	}
	b.state.Store(encode(0, uint32(total), false))
	// Phase 0 carries sense false (even): the first phase's waiters wait
	// on evenEvent, so it starts reset; oddEvent starts set so a
	// participant joining "the next phase" before anyone has arrived can
	// safely observe the opposite event as already set (spec §3
	// lifecycle).
	b.evenEvent = newManualResetEvent(false)
	b.oddEvent = newManualResetEvent(true)
	return b, nil
}

func (b *Barrier) eventFor(sense bool) *manualResetEvent {
	if sense {
		return b.oddEvent
	}
	return b.evenEvent
}

// ParticipantCount returns the number of participants currently
// registered with the barrier.
func (b *Barrier) ParticipantCount() int {
	_, total, _ := decode(b.state.Load())
	return int(total)
}

// ParticipantsRemaining returns how many registered participants have not
// yet arrived in the current phase.
func (b *Barrier) ParticipantsRemaining() int {
	current, total, _ := decode(b.state.Load())
	return int(total - current)
}

// CurrentPhase returns the barrier's current phase number.
func (b *Barrier) CurrentPhase() uint64 {
	return b.phase.Load()
}

// SignalAndWait signals that the calling goroutine has reached the
// barrier and blocks until every other registered participant has also
// arrived, the post-phase action (if any) has run, and the phase has been
// released.
//
// ctx supplies both the "timeout" and "cancellation" inputs spec.md keeps
// separate: a deadline on ctx plays the timeout's role (an expired
// deadline makes SignalAndWait return (false, nil)), and an explicit
// cancellation of ctx plays the cancellation token's role (it makes
// SignalAndWait return (false, context.Canceled)) — except in both cases,
// if the phase completes concurrently with the timeout/cancellation, the
// race is resolved in the phase's favor and the call returns (true, nil)
// instead (spec §5, "cancellation suppressed if phase completes
// concurrently").
//
// If the barrier's post-phase action failed, every participant released
// by that phase — including this one — gets a *PostPhaseFailure wrapping
// the action's error.
func (b *Barrier) SignalAndWait(ctx context.Context) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.disposed.Load() {
		return false, ErrDisposed
	}
	if isPPAReentry(ctx) {
		return false, ErrReentryFromPPA
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return false, ctx.Err()
	}

	spins := 0
	for {
		word := b.state.Load()
		current, total, sense := decode(word)
		phaseAtRead := b.phase.Load()

		if total == 0 {
			return false, ErrZeroParticipants
		}
		if current == 0 && sense != expectedSense(phaseAtRead) {
			return false, ErrParticipantOverflow
		}

		if current+1 == total {
			// Last arrival.
			next := encode(0, total, !sense)
			if !b.state.CompareAndSwap(word, next) {
				delay(&spins)
				continue
			}
			if b.trace != nil {
				b.trace(PhaseFinishedEvent{Phase: phaseAtRead, Sense: sense})
			}
			return b.finishPhase(sense)
		}

		next := encode(current+1, total, sense)
		if !b.state.CompareAndSwap(word, next) {
			delay(&spins)
			continue
		}

		phase := b.phase.Load()
		ok, err := b.eventFor(sense).Wait(ctx)
		if ok {
			return b.afterRelease(phase)
		}
		return b.backout(phase, sense, err)
	}
}

// afterRelease surfaces the previous phase's post-phase action failure,
// if any, to a participant that was just released from phase.
func (b *Barrier) afterRelease(phase uint64) (bool, error) {
	if ptr := b.exception.Load(); ptr != nil {
		return false, &PostPhaseFailure{Phase: phase, Err: *ptr}
	}
	return true, nil
}

// backout undoes this goroutine's arrival after an unsuccessful
// (timed-out or cancelled) wait, unless the phase completed concurrently
// with the timeout/cancellation — in which case the race is lost in the
// phase's favor and the call is treated as a successful arrival.
func (b *Barrier) backout(phase uint64, sense bool, waitErr error) (bool, error) {
	spins := 0
	for {
		word := b.state.Load()
		current, total, curSense := decode(word)

		if b.phase.Load() != phase || curSense != sense {
			// The phase finished concurrently with our timeout/cancel;
			// the event is about to be, or already has been, set. Block
			// unconditionally so we don't return before the release we
			// already half-participated in.
			_, _ = b.eventFor(sense).Wait(context.Background())
			return b.afterRelease(phase)
		}

		next := encode(current-1, total, sense)
		if !b.state.CompareAndSwap(word, next) {
			delay(&spins)
			continue
		}

		if errors.Is(waitErr, context.DeadlineExceeded) {
			return false, nil
		}
		return false, waitErr
	}
}

// finishPhase is run by the last arrival only: it invokes the post-phase
// action (if any) under the reentry guard, then flips the release events,
// then reports the action's outcome to the last arrival itself — the same
// outcome every other participant of this phase will also observe via
// afterRelease.
func (b *Barrier) finishPhase(observedSense bool) (bool, error) {
	phase := b.phase.Load()

	if b.ppa == nil {
		b.setResetEvents(observedSense)
		return true, nil
	}

	var actionErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				actionErr = fmt.Errorf("post-phase action panicked: %v", r)
			}
			if actionErr != nil {
				err := actionErr
				b.exception.Store(&err)
			} else {
				b.exception.Store(nil)
			}
			b.setResetEvents(observedSense)
		}()
		actionErr = b.ppa(withPPAMarker(b.ambientCtx))
	}()

	if actionErr != nil {
		return false, &PostPhaseFailure{Phase: phase, Err: actionErr}
	}
	return true, nil
}

// setResetEvents advances the phase counter and flips the two release
// events. The reset-before-set ordering is load-bearing: it guarantees
// that by the time any newly-released or newly-joining participant
// observes the new phase's event, that event is already back in the
// reset state for next time (spec §4.4).
func (b *Barrier) setResetEvents(observedSense bool) {
	b.phase.Add(1)
	if observedSense {
		b.evenEvent.Reset()
		b.oddEvent.Set()
	} else {
		b.oddEvent.Reset()
		b.evenEvent.Set()
	}
	b.phaseWatch.signal(b.phase.Load())
}

// AddParticipants registers n additional participants and returns the
// phase number in which they first participate. If a phase is currently
// being finished (the last arrival's post-phase action is running),
// AddParticipants blocks until that transition completes before
// returning, so the returned phase number is always immediately
// meaningful (spec §4.5, scenario 4).
func (b *Barrier) AddParticipants(ctx context.Context, n int) (uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.disposed.Load() {
		return 0, ErrDisposed
	}
	if n < 1 {
		return 0, ErrInvalidArgument
	}
	if isPPAReentry(ctx) {
		return 0, ErrReentryFromPPA
	}
	addN := uint32(n)

	spins := 0
	for {
		word := b.state.Load()
		current, total, sense := decode(word)
		if total+addN > maxParticipants {
			return 0, ErrOverflow
		}

		next := encode(current, total+addN, sense)
		if !b.state.CompareAndSwap(word, next) {
			delay(&spins)
			continue
		}

		curPhase := b.phase.Load()
		if sense != expectedSense(curPhase) {
			// The last arrival has flipped sense but not yet advanced
			// the phase counter; we're joining the next phase. The
			// in-flight finishPhase's setResetEvents call is about to
			// set the event matching the *old* sense (it always sets
			// eventFor(observedSense) and resets eventFor(!observedSense));
			// block on that one as the completion signal, so we never
			// return before the transition we raced into has landed.
			_, _ = b.eventFor(!sense).Wait(context.Background())
			return curPhase + 1, nil
		}

		// Joining the current, still-open phase. The event can still be
		// set from the previous phase if setResetEvents has advanced the
		// phase counter but not yet reset it; reset it here in that case.
		ev := b.eventFor(sense)
		if ev.IsSet() {
			ev.Reset()
		}
		return curPhase, nil
	}
}

// AddParticipant is AddParticipants(ctx, 1).
func (b *Barrier) AddParticipant(ctx context.Context) (uint64, error) {
	return b.AddParticipants(ctx, 1)
}

// RemoveParticipants deregisters n participants. If at least one
// participant stays registered and every remaining participant has
// already arrived, it completes the current phase exactly as if the last
// remaining participant had arrived, including running the post-phase
// action. Removing every registered participant completes no phase.
func (b *Barrier) RemoveParticipants(ctx context.Context, n int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.disposed.Load() {
		return ErrDisposed
	}
	if n < 1 {
		return ErrInvalidArgument
	}
	if isPPAReentry(ctx) {
		return ErrReentryFromPPA
	}
	removeN := uint32(n)

	spins := 0
	for {
		word := b.state.Load()
		current, total, sense := decode(word)
		if removeN > total {
			return ErrOutOfRange
		}
		remaining := total - removeN
		if remaining < current {
			return ErrWouldOrphan
		}

		if remaining > 0 && current == remaining {
			next := encode(0, remaining, !sense)
			if !b.state.CompareAndSwap(word, next) {
				delay(&spins)
				continue
			}
			if b.trace != nil {
				b.trace(PhaseFinishedEvent{Phase: b.phase.Load(), Sense: sense})
			}
			_, err := b.finishPhase(sense)
			return err
		}

		next := encode(current, remaining, sense)
		if !b.state.CompareAndSwap(word, next) {
			delay(&spins)
			continue
		}
		return nil
	}
}

// RemoveParticipant is RemoveParticipants(ctx, 1).
func (b *Barrier) RemoveParticipant(ctx context.Context) error {
	return b.RemoveParticipants(ctx, 1)
}

// AwaitPhase blocks until the barrier's phase counter reaches at least
// phase, without registering the caller as a participant. It is a
// supplemental, non-participant observer API (SPEC_FULL.md); unlike
// SignalAndWait it never affects participant counts or arrival state.
func (b *Barrier) AwaitPhase(ctx context.Context, phase uint64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.disposed.Load() {
		return ErrDisposed
	}
	return b.phaseWatch.wait(ctx, phase, b.phase.Load)
}

// Dispose releases the barrier's two events, waking anyone still blocked
// on them in SignalAndWait or AddParticipants. Callers blocked in
// AwaitPhase are not woken.
// Dispose is not safe for concurrent use with other operations; the
// caller must ensure the barrier is quiescent.
func (b *Barrier) Dispose(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if isPPAReentry(ctx) {
		return ErrReentryFromPPA
	}
	b.disposed.Store(true)
	b.evenEvent.Set()
	b.oddEvent.Set()
	return nil
}
