// Package clocktest provides a manually driven clock for tests.
package clocktest

import (
	"context"
	"sort"
	"sync"
	"time"

	"credit-reset/internal/clock"
)

var _ clock.Clock = (*Fake)(nil)

// Fake is a clock that only moves when told to. Sleep advances the clock by the
// requested duration instead of blocking, and records the duration.
// Timer callbacks run synchronously inside Advance/Sleep, outside the lock.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	sleeps []time.Duration
	seq    int
}

type fakeTimer struct {
	c       *Fake
	at      time.Time
	f       func()
	seq     int
	stopped bool
	fired   bool
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fake) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f, seq: c.seq}
	c.timers = append(c.timers, t)
	return t
}

func (c *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	c.Advance(d)
	return ctx.Err()
}

// Advance moves the clock forward by d, firing due timers in time order.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	c.advanceTo(target)
}

// Set moves the clock to t (never backwards) firing due timers.
func (c *Fake) Set(t time.Time) {
	c.advanceTo(t)
}

func (c *Fake) advanceTo(target time.Time) {
	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			if target.After(c.now) {
				c.now = target
			}
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.fired = true
		f := next.f
		c.mu.Unlock()
		f()
	}
}

func (c *Fake) nextDueLocked(target time.Time) *fakeTimer {
	var live []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].at.Equal(live[j].at) {
			return live[i].seq < live[j].seq
		}
		return live[i].at.Before(live[j].at)
	})
	if len(live) == 0 || live[0].at.After(target) {
		return nil
	}
	return live[0]
}

// Sleeps returns every duration passed to Sleep so far.
func (c *Fake) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// PendingTimers counts timers that have neither fired nor been stopped.
func (c *Fake) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
