package timer_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/sensornode/internal/timer"
	"github.com/nerrad567/sensornode/internal/timer/timertest"
)

func TestQueuedDefersCallbacksUntilDrain(t *testing.T) {
	fake := timertest.New()
	q := timer.NewQueue(8)
	sched := timer.NewQueued(fake, q)

	var ticks int
	sched.Every(100*time.Millisecond, func() { ticks++ })

	fake.Advance(350 * time.Millisecond)
	if ticks != 0 {
		t.Fatalf("callback ran before drain: ticks = %d", ticks)
	}
	if n := q.Drain(); n != 3 {
		t.Errorf("Drain() = %d, want 3", n)
	}
	if ticks != 3 {
		t.Errorf("ticks = %d, want 3", ticks)
	}
}

func TestQueuePostDropsWhenFull(t *testing.T) {
	q := timer.NewQueue(1)
	if !q.Post(func() {}) {
		t.Fatal("first Post() = false")
	}
	if q.Post(func() {}) {
		t.Error("second Post() on full queue = true")
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
}

func TestQueueRunStopsOnCancel(t *testing.T) {
	q := timer.NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())

	var ran atomic.Bool
	q.Post(func() {
		ran.Store(true)
		cancel()
	})

	err := q.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if !ran.Load() {
		t.Error("queued event did not run")
	}
}

func TestFakeStop(t *testing.T) {
	fake := timertest.New()

	fired := false
	tm := fake.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Error("Stop() on armed timer = false")
	}
	if tm.Stop() {
		t.Error("second Stop() = true")
	}
	fake.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if fake.Active() != 0 {
		t.Errorf("Active() = %d, want 0", fake.Active())
	}
}

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	fake := timertest.New()

	var order []string
	fake.AfterFunc(300*time.Millisecond, func() { order = append(order, "late") })
	fake.AfterFunc(100*time.Millisecond, func() { order = append(order, "early") })

	fake.Advance(time.Second)
	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Errorf("order = %v, want [early late]", order)
	}
}

func TestSystemEveryStops(t *testing.T) {
	var n atomic.Int32
	tm := timer.System{}.Every(5*time.Millisecond, func() { n.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !tm.Stop() {
		t.Error("Stop() = false on running ticker")
	}
	if n.Load() < 2 {
		t.Errorf("ticker fired %d times, want >= 2", n.Load())
	}
}
