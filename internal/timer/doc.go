// Package timer provides the node's one-shot and periodic timers and the
// event queue their callbacks run on.
//
// Hardware state (LED channels, provisioning timers) must only be mutated
// from one goroutine. Timer callbacks therefore never do work directly:
// a Queued scheduler turns each firing into an event posted to a Queue,
// and the node's loop goroutine drains the queue.
//
//	q := timer.NewQueue(64)
//	sched := timer.NewQueued(timer.System{}, q)
//	go q.Run(ctx)
//	sched.Every(100*time.Millisecond, func() { ch.toggle(gen) })
//
// Tests substitute timertest.Fake for System and advance time by hand.
package timer
