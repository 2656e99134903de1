package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPublishLockSerializes(t *testing.T) {
	l := NewPublishLock(time.Second)

	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), func() error {
			close(acquired)
			return nil
		})
	}()

	select {
	case <-acquired:
		t.Fatal("second holder entered while lock held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestPublishLockTimeout(t *testing.T) {
	l := NewPublishLock(10 * time.Millisecond)

	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if _, err := l.Acquire(context.Background()); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Acquire() error = %v, want ErrLockTimeout", err)
	}
}

func TestPublishLockContextCancel(t *testing.T) {
	l := NewPublishLock(time.Minute)

	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestPublishLockDoPropagatesError(t *testing.T) {
	l := NewPublishLock(0)
	want := errors.New("publish failed")

	if err := l.Do(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Do() error = %v, want %v", err, want)
	}
	// Lock must be free again.
	if err := l.Do(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("Do() after error = %v", err)
	}
}
