package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/sensornode/internal/hardware"
	"github.com/nerrad567/sensornode/internal/timer"
)

// RebootCommand is the name the hub invokes.
const RebootCommand = "reboot"

const delayNotFoundMsg = "Delay time not found. Specify 'delay' in period format (PT5S for 5 sec)"

// RebootHandler schedules a hard reset after the requested delay.
type RebootHandler struct {
	sched    timer.Scheduler
	resetter hardware.Resetter
	logger   Logger
}

// NewRebootHandler creates the handler. logger may be nil.
func NewRebootHandler(sched timer.Scheduler, resetter hardware.Resetter, logger Logger) *RebootHandler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &RebootHandler{sched: sched, resetter: resetter, logger: logger}
}

// Handle parses the delay and arms the reset. The timer is not retained:
// a scheduled reboot cannot be revoked.
func (h *RebootHandler) Handle(payload []byte) Response {
	seconds, err := ParseRebootDelay(payload)
	if err != nil {
		h.logger.Warn("reboot rejected", "payload", string(payload), "error", err)
		return errorResponse(StatusNotFound, delayNotFoundMsg)
	}

	h.logger.Warn("reboot scheduled", "delay_seconds", seconds)
	h.sched.AfterFunc(time.Duration(seconds)*time.Second, func() {
		h.logger.Warn("rebooting")
		if err := h.resetter.Reset(); err != nil {
			h.logger.Error("reset failed", "error", err)
		}
	})

	body := fmt.Appendf(nil, `{"status":"success","delay":%d}`, seconds)
	return Response{Status: StatusSuccess, Payload: body}
}

// ParseRebootDelay extracts n from a "PTnS" delay carried either as the
// "delay" member of an object or as a bare JSON string.
func ParseRebootDelay(payload []byte) (int, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte(`""`)) {
		return 0, ErrDelayNotFound
	}

	var period string
	switch trimmed[0] {
	case '"':
		if err := json.Unmarshal(trimmed, &period); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrDelayNotFound, err)
		}
	case '{':
		var body struct {
			Delay *string `json:"delay"`
		}
		if err := json.Unmarshal(trimmed, &body); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrDelayNotFound, err)
		}
		if body.Delay == nil {
			return 0, ErrDelayNotFound
		}
		period = *body.Delay
	default:
		return 0, fmt.Errorf("%w: payload is neither object nor string", ErrDelayNotFound)
	}

	digits, ok := strings.CutPrefix(period, "PT")
	if !ok {
		return 0, fmt.Errorf("%w: %q lacks PT prefix", ErrDelayNotFound, period)
	}
	digits, ok = strings.CutSuffix(digits, "S")
	if !ok {
		return 0, fmt.Errorf("%w: %q lacks S suffix", ErrDelayNotFound, period)
	}
	n, err := strconv.ParseUint(digits, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrDelayNotFound, period, err)
	}
	return int(n), nil
}
