// Package timertest provides a manually advanced timer.Scheduler.
package timertest

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/sensornode/internal/timer"
)

// Fake is a timer.Scheduler driven by Advance. Callbacks run synchronously
// on the goroutine calling Advance, in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	fake   *Fake
	seq    int
	when   time.Duration
	period time.Duration
	fn     func()
	active bool
}

// New returns a Fake at time zero.
func New() *Fake {
	return &Fake{}
}

// AfterFunc arms a one-shot timer.
func (f *Fake) AfterFunc(d time.Duration, fn func()) timer.Timer {
	return f.add(d, 0, fn)
}

// Every arms a periodic timer. A non-positive period panics, as
// time.NewTicker does.
func (f *Fake) Every(d time.Duration, fn func()) timer.Timer {
	if d <= 0 {
		panic("timertest: non-positive period for Every")
	}
	return f.add(d, d, fn)
}

func (f *Fake) add(d, period time.Duration, fn func()) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{fake: f, seq: f.seq, when: f.now + d, period: period, fn: fn, active: true}
	f.timers = append(f.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now + d
	for {
		next := f.nextDue(target)
		if next == nil {
			break
		}
		f.now = next.when
		if next.period > 0 {
			next.when += next.period
		} else {
			next.active = false
		}
		fn := next.fn
		f.mu.Unlock()
		fn()
		f.mu.Lock()
	}
	f.now = target
	f.prune()
	f.mu.Unlock()
}

func (f *Fake) nextDue(limit time.Duration) *fakeTimer {
	var due []*fakeTimer
	for _, t := range f.timers {
		if t.active && t.when <= limit {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].when != due[j].when {
			return due[i].when < due[j].when
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

func (f *Fake) prune() {
	live := f.timers[:0]
	for _, t := range f.timers {
		if t.active {
			live = append(live, t)
		}
	}
	f.timers = live
}

// Now returns the elapsed fake time.
func (f *Fake) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Active returns the number of armed timers.
func (f *Fake) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if t.active {
			n++
		}
	}
	return n
}

// ActivePeriods returns the periods of armed periodic timers, for asserting
// which blink rate a channel is running at.
func (f *Fake) ActivePeriods() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Duration
	for _, t := range f.timers {
		if t.active && t.period > 0 {
			out = append(out, t.period)
		}
	}
	return out
}
