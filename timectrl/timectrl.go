package timectrl

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock is the time source used by the connection supervisor. Depending on
// this instead of the time package lets tests decide exactly when a
// configuration timeout fires relative to packet handling.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call was
	// stopped before it fired.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// ManualClock is a Clock whose time only moves when Advance is called.
// Timers that become due during Advance run synchronously, in deadline
// order, before Advance returns.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*manualTimer
	counter int
}

// NewManualClock returns a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run when the clock is advanced past now+d.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, deadline: c.now.Add(d), fn: f, seq: c.counter}
	c.counter++
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves the clock forward by d and runs every timer that became due.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, rest []*manualTimer
	for _, t := range c.timers {
		if !t.deadline.After(c.now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		t.fn()
	}
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Time
	fn       func()
	seq      int
}

func (t *manualTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Ticker invokes registered listeners on a fixed interval. The daemon uses
// it to capture periodic graph snapshots for time-series analytics.
type Ticker struct {
	mu        sync.Mutex
	Interval  time.Duration
	listeners []func(time.Time)
}

// NewTicker constructs a Ticker with the given interval.
func NewTicker(interval time.Duration) *Ticker {
	return &Ticker{Interval: interval}
}

// AddListener registers a callback invoked on every tick.
func (t *Ticker) AddListener(fn func(time.Time)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Start runs the ticker in a separate goroutine until ctx is cancelled.
// It returns a channel that is closed when the ticker stops. A non-positive
// interval returns an already closed channel.
func (t *Ticker) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if t.Interval <= 0 {
		close(done)
		return done
	}
	go func() {
		defer close(done)

		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				t.mu.Lock()
				listeners := append([]func(time.Time){}, t.listeners...)
				t.mu.Unlock()
				for _, fn := range listeners {
					fn(now)
				}
			}
		}
	}()
	return done
}
