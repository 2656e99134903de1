// Package logging provides structured logging for the sensor node.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same shape.
//
// # Features
//
//   - JSON output for deployed nodes, text output on a bench
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("provisioning").Info("assigned", "hub", host)
//
// # Security
//
// Never log private keys or InfluxDB tokens. The ID scope is not secret
// and may be logged.
package logging
