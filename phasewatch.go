package barrier

import "context"

// phaseWatch lets goroutines that are not participants observe phase
// completion without joining the barrier, via AwaitPhase. It is adapted
// from epoch.go's waiter-list-under-a-spinlock shape, keyed on an absolute
// phase number instead of a relative generation count, and backed by the
// same TicketLock used there to keep the list fair under contention.
//
// Like epoch.go's WaitAtLeast, an abandoned wait (ctx cancelled before the
// target phase arrives) leaves its waiter node in the list until signal
// eventually walks past it; AwaitPhase is meant for short-lived observers,
// not a long-running subscription mechanism.
type phaseWatch struct {
	_    noCopy
	mu   TicketLock
	head *phaseWaiter
	tail *phaseWaiter
}

type phaseWaiter struct {
	target uint64
	ch     chan struct{}
	next   *phaseWaiter
}

// signal wakes every waiter whose target phase has been reached, given the
// barrier's current phase number.
func (w *phaseWatch) signal(current uint64) {
	w.mu.Lock()
	var prev *phaseWaiter
	for cur := w.head; cur != nil; {
		next := cur.next
		if cur.target <= current {
			close(cur.ch)
			if prev == nil {
				w.head = next
			} else {
				prev.next = next
			}
			if cur == w.tail {
				w.tail = prev
			}
		} else {
			prev = cur
		}
		cur = next
	}
	w.mu.Unlock()
}

// wait blocks until current() >= target, ctx is done, or the barrier
// signals a phase reaching target in the meantime.
func (w *phaseWatch) wait(ctx context.Context, target uint64, current func() uint64) error {
	if current() >= target {
		return nil
	}

	w.mu.Lock()
	if current() >= target {
		w.mu.Unlock()
		return nil
	}
	waiter := &phaseWaiter{target: target, ch: make(chan struct{})}
	if w.tail == nil {
		w.head = waiter
	} else {
		w.tail.next = waiter
	}
	w.tail = waiter
	w.mu.Unlock()

	select {
	case <-waiter.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
