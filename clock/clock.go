// Package clock abstracts timer scheduling so the liveness checks can be
// driven deterministically in tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
