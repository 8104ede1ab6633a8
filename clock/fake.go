package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock only moves when Advance is called. Expired callbacks run
// synchronously on the goroutine calling Advance, in deadline order.
// Callbacks may schedule new timers but must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	stopped  bool
	fired    bool
}

func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	return &fakeTimer{clock: c, waiter: w}
}

// Advance moves the clock forward by d, firing every timer whose deadline
// is reached, including timers scheduled by callbacks fired on the way.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		w := c.nextExpired(target)
		if w == nil {
			break
		}
		w.callback()
	}

	c.mu.Lock()
	c.current = target
	c.mu.Unlock()
}

// nextExpired pops the earliest live waiter due at or before target and
// moves the clock to its deadline so callbacks observe the fire time.
func (c *FakeClock) nextExpired(target time.Time) *fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	c.waiters = live
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	if len(c.waiters) == 0 || c.waiters[0].deadline.After(target) {
		return nil
	}
	w := c.waiters[0]
	w.fired = true
	c.waiters = c.waiters[1:]
	if w.deadline.After(c.current) {
		c.current = w.deadline
	}
	return w
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.waiter.stopped || t.waiter.fired {
		return false
	}
	t.waiter.stopped = true
	return true
}
