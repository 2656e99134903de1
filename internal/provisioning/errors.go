package provisioning

import "errors"

// Domain errors for provisioning.
var (
	// ErrInvalidScope is returned when the ID scope read from the secure
	// store is missing or too short.
	ErrInvalidScope = errors.New("provisioning: invalid id scope")

	// ErrFailed is returned when the service reports the registration as
	// failed or disabled.
	ErrFailed = errors.New("provisioning: registration failed")

	// ErrMalformedResponse is returned for a response body that cannot be
	// decoded or an assignment without a hub.
	ErrMalformedResponse = errors.New("provisioning: malformed response")

	// ErrStopped is returned by Run when Stop ends the controller.
	ErrStopped = errors.New("provisioning: stopped")

	// ErrQueueFull is returned when a delivery cannot be queued.
	ErrQueueFull = errors.New("provisioning: event queue full")
)
