package mqtt

import (
	"context"
	"time"
)

// DefaultLockTimeout is how long Acquire waits for the publish lock.
const DefaultLockTimeout = 20 * time.Second

// PublishLock serializes publishes that must not interleave on the wire
// (telemetry, reported properties and, by default, command responses).
//
// Only one holder at a time; a waiter gives up after the configured timeout
// with ErrLockTimeout.
type PublishLock struct {
	sem     chan struct{}
	timeout time.Duration
}

// NewPublishLock creates an unlocked lock. A non-positive timeout selects
// DefaultLockTimeout.
func NewPublishLock(timeout time.Duration) *PublishLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &PublishLock{sem: make(chan struct{}, 1), timeout: timeout}
}

// Acquire blocks until the lock is held, the timeout passes or ctx ends.
// The returned release func must be called exactly once.
func (l *PublishLock) Acquire(ctx context.Context) (release func(), err error) {
	t := time.NewTimer(l.timeout)
	defer t.Stop()

	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, nil
	case <-t.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do runs fn while holding the lock.
func (l *PublishLock) Do(ctx context.Context, fn func() error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
