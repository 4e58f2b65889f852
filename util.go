package barrier

import (
	"time"
	_ "unsafe" // for go:linkname
)

// noCopy may be embedded in structs which must not be copied after first
// use. It has no state; its only purpose is to trip the `go vet -copylocks`
// checker via the Locker interface.
//
// See https://golang.org/issues/8005#issuecomment-190753527 for details.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// delay backs off a CAS retry loop: a few rounds of runtime-assisted
// spinning, then a short sleep. The 500µs figure is the same one used by
// Facebook/folly's Sleeper:
// https://github.com/facebook/folly/blob/main/folly/synchronization/detail/Sleeper.h
func delay(spins *int) {
	if trySpin(spins) {
		return
	}
	*spins = 0
	time.Sleep(500 * time.Microsecond)
}

func trySpin(spins *int) bool {
	if runtime_canSpin(*spins) {
		*spins++
		runtime_doSpin()
		return true
	}
	return false
}

//go:linkname runtime_canSpin sync.runtime_canSpin
func runtime_canSpin(i int) bool

//go:linkname runtime_doSpin sync.runtime_doSpin
func runtime_doSpin()
