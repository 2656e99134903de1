package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/sensornode/internal/command"
	"github.com/nerrad567/sensornode/internal/node"
	"github.com/nerrad567/sensornode/internal/provisioning"
	"github.com/nerrad567/sensornode/internal/telemetry"
)

const (
	healthCheckTimeout = 2 * time.Second

	defaultCommandLimit = 20
	maxCommandLimit     = 200
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// handleHealth runs every registered dependency check. Any failure turns the
// response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	status := http.StatusOK
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check.HealthCheck(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	writeJSON(w, status, resp)
}

// StateResponse is the body of GET /api/v1/state.
type StateResponse struct {
	DeviceID     string               `json:"device_id"`
	LEDs         map[string]string    `json:"leds"`
	Provisioning *provisioning.Status `json:"provisioning,omitempty"`
	Node         *node.Status         `json:"node,omitempty"`
	Telemetry    *telemetry.Status    `json:"telemetry,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.currentState())
}

func (s *Server) currentState() StateResponse {
	resp := StateResponse{
		DeviceID: s.deviceID,
		LEDs:     s.bank.Snapshot(),
	}
	if s.provisioning != nil {
		st := s.provisioning.Status()
		resp.Provisioning = &st
	}
	n, t := s.views()
	if n != nil {
		st := n.Status()
		resp.Node = &st
	}
	if t != nil {
		st := t.Status()
		resp.Telemetry = &st
	}
	return resp
}

// handleCommands lists the most recent command log entries, newest first.
// ?limit bounds the count (default 20, max 200).
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command log not configured")
		return
	}

	limit := defaultCommandLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxCommandLimit)
	}

	entries, err := s.commands.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing command log", "error", err)
		writeInternalError(w, "failed to read command log")
		return
	}
	if entries == nil {
		entries = []command.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": entries,
		"count":    len(entries),
	})
}
