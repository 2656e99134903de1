package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/sensornode/internal/command"
	"github.com/nerrad567/sensornode/internal/infrastructure/config"
	"github.com/nerrad567/sensornode/internal/infrastructure/logging"
	"github.com/nerrad567/sensornode/internal/led"
	"github.com/nerrad567/sensornode/internal/node"
	"github.com/nerrad567/sensornode/internal/provisioning"
	"github.com/nerrad567/sensornode/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

// HealthChecker is a dependency whose reachability is part of /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NodeView exposes the node's diagnostics. *node.Node satisfies it.
type NodeView interface {
	Status() node.Status
}

// ProvisioningView exposes the provisioning controller's diagnostics.
type ProvisioningView interface {
	Status() provisioning.Status
}

// TelemetryView exposes the telemetry reporter's diagnostics.
type TelemetryView interface {
	Status() telemetry.Status
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	DeviceID string
	Version  string

	// Checks are run by /health, keyed by name. Optional.
	Checks map[string]HealthChecker

	// Bank is always present; the LEDs run before any session exists.
	Bank *led.Bank

	// Provisioning is nil when the hub is configured statically.
	Provisioning ProvisioningView

	// Commands serves /commands. Optional.
	Commands command.Repository

	// Gatherer defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server is the diagnostics HTTP server.
type Server struct {
	cfg          config.APIConfig
	logger       *logging.Logger
	deviceID     string
	version      string
	checks       map[string]HealthChecker
	bank         *led.Bank
	provisioning ProvisioningView
	commands     command.Repository
	gatherer     prometheus.Gatherer
	startTime    time.Time

	viewMu    sync.RWMutex
	node      NodeView
	telemetry TelemetryView

	stream *StreamHub

	server *http.Server
	addr   net.Addr
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger and Bank are required
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bank == nil {
		return nil, fmt.Errorf("LED bank is required")
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:          deps.Config,
		logger:       deps.Logger,
		deviceID:     deps.DeviceID,
		version:      deps.Version,
		checks:       deps.Checks,
		bank:         deps.Bank,
		provisioning: deps.Provisioning,
		commands:     deps.Commands,
		gatherer:     gatherer,
		startTime:    time.Now(),
		stream:       NewStreamHub(deps.Config.Stream, deps.Logger),
	}, nil
}

// SetNode attaches the node once the hub session exists.
func (s *Server) SetNode(n NodeView) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.node = n
}

// SetTelemetry attaches the telemetry reporter.
func (s *Server) SetTelemetry(t TelemetryView) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.telemetry = t
}

func (s *Server) views() (NodeView, TelemetryView) {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.node, s.telemetry
}

// Start binds the listener and serves in a background goroutine. The
// server can be stopped with Close().
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.addr = ln.Addr()
	s.logger.Info("API server listening", "address", s.addr.String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close gracefully shuts down the API server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	// Hijacked websocket connections are not tracked by Shutdown.
	s.stream.closeAll()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
