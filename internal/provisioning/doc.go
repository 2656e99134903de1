// Package provisioning obtains the node's hub assignment from the device
// provisioning service.
//
// The Controller walks a small state machine:
//
//	Idle -> Connecting -> Registered -> Assigning -> Assigned
//	                                              \-> Failed
//
// Connecting reads the ID scope from the secure store and opens an MQTT
// session with the service. Once connected the registration request is
// published and a keepalive tick is armed; every ReconnectTicks ticks the
// connect step runs again, so a stalled registration is retried every few
// minutes rather than in a tight loop.
//
// An "assigning" response arms a one-shot status poll after the
// service-provided retry-after. Any poll still pending is cancelled first,
// so at most one poll is in flight for an operation. "assigned" cancels
// both timers and completes with the hub hostname. "failed" and "disabled"
// are terminal: the red LED blinks fast and nothing is retried until the
// node is reset.
//
// Timer callbacks and message deliveries are expected to run on the node's
// event loop (see timer.Queued and Options.Queue); the Controller still
// guards its state with a mutex so Status can be read from anywhere.
package provisioning
