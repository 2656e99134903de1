package command

import "errors"

// Domain errors for command handling.
var (
	// ErrDelayNotFound is returned when a reboot payload has no usable delay.
	ErrDelayNotFound = errors.New("command: reboot delay not found")

	// ErrResponseTooLarge is returned when a handler's response exceeds the
	// response buffer.
	ErrResponseTooLarge = errors.New("command: response exceeds buffer")
)
