package clock

import (
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time // After and Ticker
	fn       func()         // AfterFunc
	interval time.Duration  // Ticker only
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot channel waiter.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.addLocked(&waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// AfterFunc registers f to run during the Advance that crosses now+d.
// If d <= 0, f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}
	c.mu.Lock()
	w := &waiter{deadline: c.now.Add(d), fn: f}
	c.addLocked(w)
	c.mu.Unlock()
	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.stopped || w.fired {
			return false
		}
		w.stopped = true
		return true
	}}
}

// NewTicker registers a periodic waiter.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	w := &waiter{deadline: c.now.Add(d), ch: ch, interval: d}
	c.addLocked(w)
	return &Ticker{C: ch, stopFunc: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		w.stopped = true
	}}
}

// Advance moves time forward by d, firing due waiters one at a time in
// deadline order. Before each waiter fires the clock is set to its
// deadline, so a callback that re-arms schedules from that deadline and
// fires again within the same Advance if the new deadline is inside the
// window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		w, at, ok := c.next(target)
		if !ok {
			return
		}
		if w.fn != nil {
			w.fn()
			continue
		}
		select {
		case w.ch <- at:
		default:
		}
	}
}

// WaitForTimers blocks until at least n waiters are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of armed waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) addLocked(w *waiter) {
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, w := range c.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

// next pops the earliest waiter due at or before target and moves the
// clock to its deadline. With nothing due it moves the clock to target
// and reports false. Tickers are rescheduled in place.
func (c *FakeClock) next(target time.Time) (*waiter, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, w := range c.waiters {
		if w.stopped || w.deadline.After(target) {
			continue
		}
		if idx < 0 || w.deadline.Before(c.waiters[idx].deadline) {
			idx = i
		}
	}
	if idx < 0 {
		if target.After(c.now) {
			c.now = target
		}
		c.prune()
		return nil, time.Time{}, false
	}

	w := c.waiters[idx]
	at := w.deadline
	if at.After(c.now) {
		c.now = at
	}
	if w.interval > 0 {
		fire := *w
		w.deadline = w.deadline.Add(w.interval)
		return &fire, at, true
	}
	w.fired = true
	c.waiters = append(c.waiters[:idx], c.waiters[idx+1:]...)
	return w, at, true
}

// prune drops stopped waiters.
func (c *FakeClock) prune() {
	keep := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped {
			keep = append(keep, w)
		}
	}
	c.waiters = keep
}
