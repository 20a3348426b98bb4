// Package clock abstracts time so that politeness delays and retry backoff
// can be driven by a simulated clock in tests.
package clock

import "time"

// Clock reports the current time and produces timer channels. It satisfies
// the retry-go Timer interface.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// System is the wall clock.
type System struct{}

// New returns the wall clock.
func New() System {
	return System{}
}

func (System) Now() time.Time {
	return time.Now()
}

func (System) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
