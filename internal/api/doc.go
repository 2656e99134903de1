// Package api serves the node's local diagnostics over HTTP.
//
// Endpoints:
//   - GET /api/v1/health: dependency checks, version and uptime
//   - GET /api/v1/state: provisioning phase, twin bookkeeping, LED states, telemetry counters
//   - GET /api/v1/commands: recent entries from the command log
//   - GET /api/v1/stream: websocket; the current state on connect, then a
//     new state event whenever the LEDs or the twin change
//   - GET /metrics: Prometheus exposition
//
// The server is read-only. It starts before the hub session exists; the
// node and telemetry views are attached with SetNode and SetTelemetry once
// they are built, and report as absent until then.
package api
