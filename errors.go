package barrier

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Barrier's operations. Compare with errors.Is,
// not equality, since PostPhaseFailure and context errors wrap rather than
// equal these directly.
var (
	// ErrInvalidArgument is returned for out-of-range numeric inputs, e.g.
	// a non-positive participant count to AddParticipants/RemoveParticipants.
	ErrInvalidArgument = errors.New("barrier: invalid argument")

	// ErrDisposed is returned by any operation on a disposed Barrier.
	ErrDisposed = errors.New("barrier: disposed")

	// ErrReentryFromPPA is returned when a mutating operation is invoked,
	// on the same barrier, from within its own post-phase action.
	ErrReentryFromPPA = errors.New("barrier: called from post-phase action")

	// ErrOverflow is returned when AddParticipants would push the
	// registered participant count above the 32767 ceiling.
	ErrOverflow = errors.New("barrier: participant count would exceed 32767")

	// ErrOutOfRange is returned when RemoveParticipants is asked to remove
	// more participants than are currently registered.
	ErrOutOfRange = errors.New("barrier: removal exceeds registered participants")

	// ErrWouldOrphan is returned when RemoveParticipants would reduce the
	// total below the number of participants already arrived this phase.
	ErrWouldOrphan = errors.New("barrier: removal would orphan arrived participants")

	// ErrZeroParticipants is returned by SignalAndWait when the barrier
	// has no registered participants.
	ErrZeroParticipants = errors.New("barrier: zero participants registered")

	// ErrParticipantOverflow is returned by SignalAndWait when more
	// goroutines arrived than are registered. Detection is best-effort:
	// see DESIGN.md's "ParticipantOverflow is best-effort" note.
	ErrParticipantOverflow = errors.New("barrier: more arrivals than registered participants")
)

// PostPhaseFailure wraps the error returned by a post-phase action. It is
// delivered both to the goroutine that ran the action and to every
// participant released by the phase the action just finished, per spec
// §4.2's "post-release exception surfacing" and §4.3's "guaranteed-run
// finalizer."
type PostPhaseFailure struct {
	// Phase is the phase whose post-phase action failed.
	Phase uint64
	// Err is the error the post-phase action returned.
	Err error
}

func (e *PostPhaseFailure) Error() string {
	return fmt.Sprintf("barrier: post-phase action failed at phase %d: %v", e.Phase, e.Err)
}

func (e *PostPhaseFailure) Unwrap() error {
	return e.Err
}
