// Package clock abstracts the time source used by the recorder so that
// snapshot timers and simulated producers can be driven deterministically
// in tests.
package clock

import "time"

// Clock is the subset of the time package the recorder depends on.
// Production code uses Real(); tests use Fake().
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer can cancel
	// a call that has not started yet.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a scheduled AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the call from firing. It reports whether the call was
// still pending.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers periodic ticks on C. C has capacity 1; ticks are
// dropped when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Millis returns t as Unix milliseconds, the timestamp unit used for
// sessions and telemetry rows.
func Millis(t time.Time) int64 { return t.UnixMilli() }
