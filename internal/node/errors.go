package node

import "errors"

var (
	// ErrQueueFull is returned when a delivery cannot be queued.
	ErrQueueFull = errors.New("node: event queue full")

	// ErrInitialGetFailed is returned when the service rejects the initial
	// twin fetch.
	ErrInitialGetFailed = errors.New("node: initial twin fetch rejected")
)
