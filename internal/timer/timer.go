package timer

import (
	"sync"
	"time"
)

// Timer is a handle to a pending one-shot or periodic callback.
type Timer interface {
	// Stop prevents further firings. It reports whether the call stopped
	// the timer (false if it had already fired once-only or been stopped).
	Stop() bool
}

// Scheduler arms timers.
type Scheduler interface {
	// AfterFunc calls fn once after d.
	AfterFunc(d time.Duration, fn func()) Timer

	// Every calls fn every d until the returned Timer is stopped.
	Every(d time.Duration, fn func()) Timer
}

// System is the Scheduler backed by the runtime clock.
type System struct{}

// AfterFunc wraps time.AfterFunc.
func (System) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Every starts a ticker goroutine calling fn each period.
func (System) Every(d time.Duration, fn func()) Timer {
	t := &periodic{done: make(chan struct{})}
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return t
}

type periodic struct {
	once sync.Once
	done chan struct{}
}

func (p *periodic) Stop() bool {
	stopped := false
	p.once.Do(func() {
		close(p.done)
		stopped = true
	})
	return stopped
}
