// Package clock abstracts timers so debounce and expiry logic can be tested
// without sleeping. Production code uses Real(); tests use Fake().
package clock

import "time"

// Clock is the subset of the time package the engine schedules with.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (Real) or synchronously during
	// Advance (Fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer
	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a scheduled callback.
type Timer struct {
	stop func() bool
}

// Stop cancels the callback. It returns false if the timer already fired or
// was already stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Ticker delivers periodic ticks. C has capacity 1; late ticks are dropped.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }
