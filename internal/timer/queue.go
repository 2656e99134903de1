package timer

import (
	"context"
	"sync/atomic"
	"time"
)

// Queue is a bounded FIFO of events run by a single goroutine.
type Queue struct {
	events  chan func()
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most size pending events.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{events: make(chan func(), size)}
}

// Post enqueues fn without blocking. A full queue drops the event and
// returns false; periodic producers will post again on their next tick.
func (q *Queue) Post(fn func()) bool {
	select {
	case q.events <- fn:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Run executes events in order until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-q.events:
			fn()
		}
	}
}

// Drain runs every event currently pending, including events posted by
// the events it runs, and returns how many ran.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case fn := <-q.events:
			fn()
			n++
		default:
			return n
		}
	}
}

// Queued is a Scheduler whose callbacks run on a Queue instead of the
// timer's own goroutine.
type Queued struct {
	base  Scheduler
	queue *Queue
}

// NewQueued wraps base so that every firing is posted to q.
func NewQueued(base Scheduler, q *Queue) *Queued {
	return &Queued{base: base, queue: q}
}

// AfterFunc posts fn to the queue once after d.
func (s *Queued) AfterFunc(d time.Duration, fn func()) Timer {
	return s.base.AfterFunc(d, func() { s.queue.Post(fn) })
}

// Every posts fn to the queue every d.
func (s *Queued) Every(d time.Duration, fn func()) Timer {
	return s.base.Every(d, func() { s.queue.Post(fn) })
}
