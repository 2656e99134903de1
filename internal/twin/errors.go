package twin

import (
	"errors"

	"github.com/nerrad567/sensornode/internal/infrastructure/mqtt"
)

// Domain errors for twin synchronization.
var (
	// ErrVersionMissing is returned when a desired document has no $version.
	ErrVersionMissing = errors.New("twin: document version missing")

	// ErrTypeMismatch is returned when a recognized property carries a value
	// of the wrong JSON type. Properties before it in the document stay applied.
	ErrTypeMismatch = errors.New("twin: property type mismatch")

	// ErrMalformedDocument is returned when the payload is not a JSON object.
	ErrMalformedDocument = errors.New("twin: malformed document")

	// ErrNothingToReport is returned by BuildReportedPatch when no property is
	// dirty. Callers treat it as a successful no-op.
	ErrNothingToReport = errors.New("twin: nothing to report")

	// ErrBufferTooSmall is returned when the reported patch does not fit the
	// payload buffer. Nothing is published for that attempt.
	ErrBufferTooSmall = errors.New("twin: payload buffer too small")

	// ErrLockTimeout is the shared publish lock timeout.
	ErrLockTimeout = mqtt.ErrLockTimeout
)
