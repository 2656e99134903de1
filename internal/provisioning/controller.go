package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sensornode/internal/infrastructure/config"
	"github.com/nerrad567/sensornode/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensornode/internal/led"
	"github.com/nerrad567/sensornode/internal/securestore"
	"github.com/nerrad567/sensornode/internal/timer"
)

const (
	// minScopeLength is the shortest ID scope the service issues.
	minScopeLength = 11

	// defaultRetryAfter is used when an "assigning" response carries no
	// retry-after.
	defaultRetryAfter = 3 * time.Second
)

// Phase is the controller's position in the registration flow.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseRegistered
	PhaseAssigning
	PhaseAssigned
	PhaseFailed
)

var phaseNames = [...]string{"idle", "connecting", "registered", "assigning", "assigned", "failed"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

// Terminal reports whether no further transitions happen from p.
func (p Phase) Terminal() bool {
	return p == PhaseAssigned || p == PhaseFailed
}

// Session is one connection to the provisioning service. *mqtt.Client
// satisfies it.
type Session interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Close() error
}

// Dialer opens a session authenticated with username.
type Dialer func(ctx context.Context, username string) (Session, error)

// MQTTDialer returns a Dialer connecting to the global endpoint with the
// node's certificate. Provisioning sessions never auto-reconnect; the
// keepalive tick re-runs the connect step instead.
func MQTTDialer(mqttCfg config.MQTTConfig, cfg config.ProvisioningConfig, clientID string) Dialer {
	return func(_ context.Context, username string) (Session, error) {
		sc := mqtt.NewSessionConfig(mqttCfg, cfg.GlobalEndpoint, cfg.Port, clientID, username)
		sc.AutoReconnect = false
		client, err := mqtt.Connect(sc)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Assignment is the outcome of a successful registration.
type Assignment struct {
	Hostname    string `json:"hostname"`
	DeviceID    string `json:"device_id"`
	OperationID string `json:"operation_id"`
}

// Status is a point-in-time view of the controller for diagnostics.
type Status struct {
	Phase       string `json:"phase"`
	OperationID string `json:"operation_id,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
	Attempts    int    `json:"connect_attempts"`
	Polls       int    `json:"status_polls"`
	LastError   string `json:"last_error,omitempty"`
}

// Options configures a Controller.
type Options struct {
	Config config.ProvisioningConfig

	// RegistrationID is the device identity presented to the service.
	RegistrationID string

	// ModelID is announced in the registration payload.
	ModelID string

	Store     securestore.Store
	Dial      Dialer
	Scheduler timer.Scheduler

	// Bank drives the green (in progress) and red (failure) indicators.
	// Optional.
	Bank *led.Bank

	// Queue, when set, receives message deliveries so they are handled on
	// the event loop instead of the transport goroutine.
	Queue *timer.Queue

	// Logger is optional.
	Logger Logger
}

// Controller runs one registration with the provisioning service.
type Controller struct {
	mu sync.Mutex

	phase       Phase
	session     Session
	username    string
	operationID string
	assignment  Assignment
	err         error
	lastErr     error
	attempts    int
	polls       int

	// counter counts keepalive ticks since the last registration publish.
	counter int
	tick    timer.Timer
	poll    timer.Timer
	// pollGen invalidates a poll callback already queued when its timer
	// was stopped.
	pollGen uint64
	tickGen uint64

	done chan struct{}

	cfg            config.ProvisioningConfig
	registrationID string
	modelID        string
	store          securestore.Store
	dial           Dialer
	sched          timer.Scheduler
	bank           *led.Bank
	queue          *timer.Queue

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Controller in the Idle phase.
//
// Parameters:
//   - opts: Store, Dial and Scheduler are required
//
// Returns:
//   - *Controller: Ready to Start
//   - error: If a required collaborator is missing
func New(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Dial == nil || opts.Scheduler == nil {
		return nil, errors.New("provisioning: store, dialer and scheduler are required")
	}
	if opts.Config.RetryTickMS <= 0 || opts.Config.ReconnectTicks <= 0 {
		return nil, errors.New("provisioning: retry tick and reconnect ticks must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Controller{
		done:           make(chan struct{}),
		cfg:            opts.Config,
		registrationID: opts.RegistrationID,
		modelID:        opts.ModelID,
		store:          opts.Store,
		dial:           opts.Dial,
		sched:          opts.Scheduler,
		bank:           opts.Bank,
		queue:          opts.Queue,
		logger:         logger,
	}, nil
}

// SetLogger replaces the logger.
func (c *Controller) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

func (c *Controller) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Run starts the controller and blocks until it reaches a terminal phase
// or ctx is done.
//
// Returns:
//   - Assignment: The assigned hub on success
//   - error: ErrInvalidScope, ErrFailed, or ctx.Err()
func (c *Controller) Run(ctx context.Context) (Assignment, error) {
	if err := c.Start(ctx); err != nil {
		return Assignment{}, err
	}
	select {
	case <-c.done:
		return c.Result()
	case <-ctx.Done():
		c.Stop()
		return Assignment{}, ctx.Err()
	}
}

// Start reads the scope and runs the first connect step. A failed connect
// is not fatal: the keepalive tick is armed either way and retries later.
// Start returns an error only when the controller went straight to Failed.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseIdle {
		return fmt.Errorf("provisioning: already started (%s)", c.phase)
	}
	c.setPhaseLocked(PhaseConnecting)
	c.setLED(led.Green, led.BlinkFast)

	scope, err := c.readScope(ctx)
	if err != nil {
		c.failLocked(err)
		return err
	}
	c.username = mqtt.Topics{}.ProvisioningUsername(scope, c.registrationID)

	c.connectLocked(ctx)
	c.armTickLocked()
	return nil
}

// Done is closed once the controller reaches a terminal phase.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Result returns the assignment once Done is closed.
func (c *Controller) Result() (Assignment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return Assignment{}, c.err
	}
	return c.assignment, nil
}

// Stop cancels both timers and closes the session without changing the
// outcome. The controller cannot be restarted.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase.Terminal() {
		return
	}
	c.stopTimersLocked()
	c.closeSessionLocked()
	c.err = ErrStopped
	c.setPhaseLocked(PhaseFailed)
	close(c.done)
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Status returns a diagnostics snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Phase:       c.phase.String(),
		OperationID: c.operationID,
		Hostname:    c.assignment.Hostname,
		Attempts:    c.attempts,
		Polls:       c.polls,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// =============================================================================
// Connect step
// =============================================================================

func (c *Controller) readScope(ctx context.Context) (string, error) {
	scope := c.cfg.IDScope
	if scope == "" {
		data, err := c.store.Read(ctx, c.cfg.ScopeZone, c.cfg.ScopeSlot)
		if err != nil {
			return "", fmt.Errorf("%w: reading zone %d slot %d: %w",
				ErrInvalidScope, c.cfg.ScopeZone, c.cfg.ScopeSlot, err)
		}
		scope = strings.TrimRight(string(data), "\x00 \n")
	}
	if len(scope) < minScopeLength {
		return "", fmt.Errorf("%w: %q is shorter than %d characters", ErrInvalidScope, scope, minScopeLength)
	}
	return scope, nil
}

// connectLocked (re)opens the session, subscribes to responses and
// publishes the registration request.
func (c *Controller) connectLocked(ctx context.Context) {
	c.attempts++
	c.closeSessionLocked()
	if c.phase != PhaseConnecting {
		c.setPhaseLocked(PhaseConnecting)
	}

	session, err := c.dial(ctx, c.username)
	if err != nil {
		c.connectFailedLocked("dial", err)
		return
	}
	c.session = session

	if err := session.Subscribe(mqtt.Topics{}.ProvisioningSubscribe(), 0, c.deliver); err != nil {
		c.connectFailedLocked("subscribe", err)
		return
	}

	payload, err := json.Marshal(registerRequest{Payload: registerPayload{ModelID: c.modelID}})
	if err != nil {
		c.connectFailedLocked("encode", err)
		return
	}
	if err := session.Publish(mqtt.Topics{}.ProvisioningRegister(newRequestID()), payload, 0, false); err != nil {
		c.connectFailedLocked("register", err)
		return
	}

	c.counter = 0
	c.setPhaseLocked(PhaseRegistered)
	connectAttempts.WithLabelValues("ok").Inc()
	c.getLogger().Info("registration requested",
		"registration_id", c.registrationID, "attempt", c.attempts)
}

func (c *Controller) connectFailedLocked(stage string, err error) {
	c.lastErr = err
	connectAttempts.WithLabelValues(stage).Inc()
	c.setLED(led.Red, led.BlinkFast)
	c.getLogger().Error("provisioning connect failed", "stage", stage, "attempt", c.attempts, "error", err)
}

func (c *Controller) armTickLocked() {
	if c.tick != nil {
		return
	}
	c.tickGen++
	gen := c.tickGen
	period := time.Duration(c.cfg.RetryTickMS) * time.Millisecond
	c.tick = c.sched.Every(period, func() { c.onTick(gen) })
}

// onTick counts keepalive ticks and re-runs the connect step every
// ReconnectTicks ticks.
func (c *Controller) onTick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.tickGen || c.phase.Terminal() {
		return
	}
	c.counter++
	if c.counter%c.cfg.ReconnectTicks != 0 {
		return
	}
	c.getLogger().Warn("no assignment yet, reconnecting",
		"phase", c.phase.String(), "ticks", c.counter)
	c.stopPollLocked()
	c.connectLocked(context.Background())
}

// =============================================================================
// Responses
// =============================================================================

type registerRequest struct {
	Payload registerPayload `json:"payload"`
}

type registerPayload struct {
	ModelID string `json:"modelId"`
}

type registrationResponse struct {
	OperationID       string `json:"operationId"`
	Status            string `json:"status"`
	RegistrationState struct {
		AssignedHub  string `json:"assignedHub"`
		DeviceID     string `json:"deviceId"`
		Status       string `json:"status"`
		ErrorCode    int    `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"registrationState"`
}

func (c *Controller) deliver(topic string, payload []byte) error {
	if c.queue == nil {
		return c.HandleMessage(topic, payload)
	}
	body := append([]byte(nil), payload...)
	if !c.queue.Post(func() {
		if err := c.HandleMessage(topic, body); err != nil {
			c.getLogger().Warn("provisioning response rejected", "topic", topic, "error", err)
		}
	}) {
		return ErrQueueFull
	}
	return nil
}

// HandleMessage processes one response from the service.
//
// Parameters:
//   - topic: "$dps/registrations/res/{status}/?$rid=..[&retry-after=..]"
//   - payload: Registration status document
//
// Returns:
//   - error: If the topic or body cannot be parsed
func (c *Controller) HandleMessage(topic string, payload []byte) error {
	res, err := mqtt.ParseProvisioningTopic(topic)
	if err != nil {
		return err
	}
	var body registrationResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase.Terminal() {
		return nil
	}

	status := strings.ToLower(body.Status)
	if status == "" {
		status = strings.ToLower(body.RegistrationState.Status)
	}
	responses.WithLabelValues(statusLabel(status)).Inc()

	switch status {
	case "assigning":
		c.assigningLocked(body.OperationID, res.RetryAfter)
	case "assigned":
		if body.RegistrationState.AssignedHub == "" {
			return fmt.Errorf("%w: assigned without a hub", ErrMalformedResponse)
		}
		c.assignedLocked(body)
	case "failed", "disabled":
		msg := body.RegistrationState.ErrorMessage
		if msg == "" {
			msg = status
		}
		c.failLocked(fmt.Errorf("%w: %s (code %d)", ErrFailed, msg, body.RegistrationState.ErrorCode))
	default:
		c.getLogger().Warn("unexpected provisioning response",
			"status_code", res.Status, "status", body.Status)
	}
	return nil
}

func (c *Controller) assigningLocked(operationID string, retryAfter int) {
	if operationID == "" {
		operationID = c.operationID
	}
	c.operationID = operationID
	c.setPhaseLocked(PhaseAssigning)

	wait := defaultRetryAfter
	if retryAfter > 0 {
		wait = time.Duration(retryAfter) * time.Second
	}

	c.stopPollLocked()
	c.pollGen++
	gen := c.pollGen
	c.poll = c.sched.AfterFunc(wait, func() { c.onPoll(gen) })
}

// onPoll publishes the operation status query.
func (c *Controller) onPoll(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.pollGen || c.phase != PhaseAssigning {
		return
	}
	c.poll = nil

	if c.session == nil {
		c.lastErr = errors.New("no session")
		statusPolls.WithLabelValues("no_session").Inc()
		c.setLED(led.Red, led.BlinkFast)
		return
	}
	topic := mqtt.Topics{}.ProvisioningQueryStatus(newRequestID(), c.operationID)
	if err := c.session.Publish(topic, nil, 0, false); err != nil {
		c.lastErr = err
		statusPolls.WithLabelValues("error").Inc()
		c.setLED(led.Red, led.BlinkFast)
		c.getLogger().Error("status poll publish failed", "operation_id", c.operationID, "error", err)
		return
	}
	c.polls++
	statusPolls.WithLabelValues("ok").Inc()
}

func (c *Controller) assignedLocked(body registrationResponse) {
	c.stopTimersLocked()

	// The hostname is written once; a late duplicate response cannot move us.
	if c.assignment.Hostname == "" {
		c.assignment = Assignment{
			Hostname:    body.RegistrationState.AssignedHub,
			DeviceID:    body.RegistrationState.DeviceID,
			OperationID: body.OperationID,
		}
	}
	c.closeSessionLocked()
	c.setPhaseLocked(PhaseAssigned)
	c.getLogger().Info("device assigned",
		"hub", c.assignment.Hostname, "device_id", c.assignment.DeviceID)
	close(c.done)
}

func (c *Controller) failLocked(err error) {
	c.stopTimersLocked()
	c.closeSessionLocked()
	c.err = err
	c.lastErr = err
	c.setPhaseLocked(PhaseFailed)
	c.setLED(led.Red, led.BlinkFast)
	c.getLogger().Error("provisioning failed", "error", err)
	close(c.done)
}

// =============================================================================
// Helpers
// =============================================================================

func (c *Controller) stopPollLocked() {
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
	c.pollGen++
}

func (c *Controller) stopTimersLocked() {
	c.stopPollLocked()
	if c.tick != nil {
		c.tick.Stop()
		c.tick = nil
	}
	c.tickGen++
}

func (c *Controller) closeSessionLocked() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		c.getLogger().Warn("closing provisioning session", "error", err)
	}
	c.session = nil
}

func (c *Controller) setPhaseLocked(p Phase) {
	c.phase = p
	phaseGauge.Set(float64(p))
}

func (c *Controller) setLED(color led.Color, s led.State) {
	if c.bank == nil {
		return
	}
	if err := c.bank.Set(color, s); err != nil {
		c.getLogger().Warn("setting status LED", "channel", color.String(), "error", err)
	}
}

func newRequestID() string {
	return uuid.NewString()
}

func statusLabel(status string) string {
	switch status {
	case "assigning", "assigned", "failed", "disabled":
		return status
	default:
		return "other"
	}
}
