package led

import "errors"

// Domain errors for LED channels.
var (
	// ErrInvalidState is returned when Set is given an undefined state.
	ErrInvalidState = errors.New("led: invalid state")

	// ErrInvalidConfig is returned by NewBank for an incomplete configuration.
	ErrInvalidConfig = errors.New("led: invalid configuration")
)
