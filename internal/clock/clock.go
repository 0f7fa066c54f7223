// Package clock lets the coordinator and the sweeps schedule delayed work
// against a clock that tests can drive by hand.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// After receives once d has elapsed; d <= 0 receives immediately.
	After(d time.Duration) <-chan time.Time
	// NewTicker panics if d <= 0, as time.NewTicker does.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C, which has capacity 1. Late ticks are dropped.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

func (t *Ticker) Stop() { t.stop() }

type realClock struct{}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

// Or returns c, or the wall clock when c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
