package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sensornode/internal/command"
	"github.com/nerrad567/sensornode/internal/infrastructure/config"
	"github.com/nerrad567/sensornode/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensornode/internal/led"
	"github.com/nerrad567/sensornode/internal/timer"
	"github.com/nerrad567/sensornode/internal/twin"
)

// InitialGetRequestID is the request id of the startup twin fetch.
const InitialGetRequestID = "initial_get"

// handlerCount is the number of topics Start subscribes.
const handlerCount = 3

// Session is the hub connection. *mqtt.Client satisfies it.
type Session interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LEDHistory receives the channel states after a change.
// *influxdb.Client satisfies it.
type LEDHistory interface {
	WriteLEDState(deviceID, channel, state string, at time.Time)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Node.
type Options struct {
	Twin      *twin.Synchronizer
	Responder *command.Responder
	Bank      *led.Bank
	Session   Session
	Lock      *mqtt.PublishLock

	// DeviceID tags LED history points.
	DeviceID string

	// History records LED states whenever a channel changes. Optional.
	History LEDHistory

	// OnChange receives a Status after LED changes are folded in and after
	// a desired document is applied. It runs on the calling goroutine.
	// Optional.
	OnChange func(Status)

	// QoS for subscriptions and the initial get.
	QoS byte

	// Queue, when set, receives transport deliveries for the loop goroutine.
	Queue *timer.Queue

	// Logger is optional.
	Logger Logger
}

// Node wires the handlers and the report loop to one hub session.
type Node struct {
	twin      *twin.Synchronizer
	responder *command.Responder
	bank      *led.Bank
	session   Session
	lock      *mqtt.PublishLock
	qos       byte
	queue     *timer.Queue
	deviceID  string
	history   LEDHistory
	onChange  func(Status)

	mu          sync.Mutex
	started     bool
	subscribed  map[string]bool
	initPending bool
	initialDone bool
	lastReport  time.Time
	reportErr   error

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Node. Nothing is subscribed until Start.
//
// Parameters:
//   - opts: Twin, Responder, Bank, Session and Lock are required
//
// Returns:
//   - *Node: Ready to Start
//   - error: If a required collaborator is missing
func New(opts Options) (*Node, error) {
	if opts.Twin == nil || opts.Responder == nil || opts.Bank == nil || opts.Session == nil || opts.Lock == nil {
		return nil, errors.New("node: twin, responder, bank, session and lock are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Node{
		twin:       opts.Twin,
		responder:  opts.Responder,
		bank:       opts.Bank,
		session:    opts.Session,
		lock:       opts.Lock,
		qos:        opts.QoS,
		queue:      opts.Queue,
		deviceID:   opts.DeviceID,
		history:    opts.History,
		onChange:   opts.OnChange,
		subscribed: make(map[string]bool),
		logger:     logger,
	}, nil
}

// SetLogger replaces the logger.
func (n *Node) SetLogger(logger Logger) {
	n.loggerMu.Lock()
	defer n.loggerMu.Unlock()
	n.logger = logger
}

func (n *Node) getLogger() Logger {
	n.loggerMu.RLock()
	defer n.loggerMu.RUnlock()
	return n.logger
}

// Start subscribes the three handlers and requests the full twin.
//
// Whatever fails here is retried by CheckAndReport: subscriptions that were
// refused and the initial get until the full document arrives.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	n.started = true
	n.mu.Unlock()

	topics := mqtt.Topics{}
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{topics.CommandsSubscribe(), n.HandleCommand},
		{topics.PropertyPatchSubscribe(), n.HandlePropertyPatch},
		{topics.PropertyResponseSubscribe(), n.HandlePropertyResponse},
	}
	for _, s := range subs {
		if n.isSubscribed(s.topic) {
			continue
		}
		if err := n.session.Subscribe(s.topic, n.qos, n.deliver(s.handler)); err != nil {
			n.setGreen(led.Off)
			return fmt.Errorf("subscribing to %s: %w", s.topic, err)
		}
		n.mu.Lock()
		n.subscribed[s.topic] = true
		n.mu.Unlock()
	}

	n.mu.Lock()
	skip := n.initialDone || n.initPending
	n.mu.Unlock()
	if skip {
		return nil
	}
	return n.InitTwin(ctx)
}

// InitTwin publishes the request for the full twin document. The green
// LED goes solid once the request is out and off if it cannot be sent.
func (n *Node) InitTwin(ctx context.Context) error {
	topic := mqtt.Topics{}.TwinGet(InitialGetRequestID)
	err := n.lock.Do(ctx, func() error {
		return n.session.Publish(topic, nil, n.qos, false)
	})
	if err != nil {
		n.setGreen(led.Off)
		return fmt.Errorf("requesting twin: %w", err)
	}
	n.mu.Lock()
	n.initPending = true
	n.mu.Unlock()
	n.setGreen(led.Hold)
	n.getLogger().Info("twin requested", "request_id", InitialGetRequestID)
	return nil
}

// Reconnected marks an outstanding initial get as lost. The session is
// clean, so a response to a request sent before the drop never arrives.
// Install it as the session's connect callback.
func (n *Node) Reconnected() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.initialDone {
		n.initPending = false
	}
}

// resync repeats Start when a subscription is missing or the initial get
// has to be sent again.
func (n *Node) resync(ctx context.Context) error {
	n.mu.Lock()
	due := n.started && (len(n.subscribed) < handlerCount || (!n.initialDone && !n.initPending))
	n.mu.Unlock()
	if !due {
		return nil
	}
	resyncs.Inc()
	return n.Start(ctx)
}

func (n *Node) isSubscribed(topic string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.subscribed[topic]
}

// deliver wraps h so it runs on the event queue when one is configured.
func (n *Node) deliver(h mqtt.MessageHandler) mqtt.MessageHandler {
	if n.queue == nil {
		return h
	}
	return func(topic string, payload []byte) error {
		body := append([]byte(nil), payload...)
		if !n.queue.Post(func() {
			if err := h(topic, body); err != nil {
				n.getLogger().Warn("message handler failed", "topic", topic, "error", err)
			}
		}) {
			deliveries.WithLabelValues("dropped").Inc()
			return ErrQueueFull
		}
		return nil
	}
}

// =============================================================================
// Handlers
// =============================================================================

// HandleCommand dispatches a direct command and publishes its response.
func (n *Node) HandleCommand(topic string, payload []byte) error {
	deliveries.WithLabelValues("command").Inc()
	return n.responder.HandleMessage(topic, payload)
}

// HandlePropertyPatch applies a desired-property patch.
func (n *Node) HandlePropertyPatch(topic string, payload []byte) error {
	deliveries.WithLabelValues("patch").Inc()
	if _, err := mqtt.ParseDesiredPatchTopic(topic); err != nil {
		return err
	}
	delta, err := n.twin.ApplyDesiredDocument(twin.DocumentPatch, payload)
	if err != nil {
		return fmt.Errorf("applying desired patch: %w", err)
	}
	n.getLogger().Debug("desired patch applied",
		"version", delta.Version, "stale", delta.Stale, "dirty", delta.Dirty.String())
	if !delta.Stale {
		n.notify()
	}
	return nil
}

// HandlePropertyResponse handles a twin response: the reply to the initial
// get carries the full document, anything else acknowledges a reported
// patch and is only logged.
func (n *Node) HandlePropertyResponse(topic string, payload []byte) error {
	deliveries.WithLabelValues("response").Inc()
	res, err := mqtt.ParseTwinResponseTopic(topic)
	if err != nil {
		return err
	}

	if res.RequestID != InitialGetRequestID {
		twinResponses.WithLabelValues(statusClass(res.Status)).Inc()
		if res.Status < 200 || res.Status >= 300 {
			n.getLogger().Warn("reported properties rejected",
				"status", res.Status, "request_id", res.RequestID)
			return nil
		}
		n.getLogger().Debug("reported properties accepted",
			"request_id", res.RequestID, "version", res.Version)
		return nil
	}

	if res.Status != 200 {
		n.mu.Lock()
		n.initPending = false
		n.mu.Unlock()
		n.getLogger().Error("initial twin fetch rejected", "status", res.Status)
		return fmt.Errorf("%w: status %d", ErrInitialGetFailed, res.Status)
	}

	delta, err := n.twin.ApplyDesiredDocument(twin.DocumentFull, payload)
	if err != nil {
		// The baseline report still goes out so the cloud sees the live state.
		n.getLogger().Warn("initial twin document not applied", "error", err)
	}
	n.twin.ApplyHardwareDeltas(true)

	n.mu.Lock()
	n.initialDone = true
	n.mu.Unlock()

	n.getLogger().Info("initial twin applied", "version", delta.Version, "stale", delta.Stale)
	n.notify()
	return err
}

// =============================================================================
// Reporting
// =============================================================================

// CheckAndReport publishes a reported-property patch if anything is dirty,
// after folding pending LED changes into the dirty set. An incomplete Start
// is retried first. It is called every tick.
func (n *Node) CheckAndReport(ctx context.Context) error {
	if err := n.resync(ctx); err != nil {
		n.getLogger().Warn("retrying node start failed", "error", err)
	}
	if n.twin.HardwareChanged() {
		n.twin.ApplyHardwareDeltas(false)
		n.recordLEDs()
		n.notify()
	}
	err := n.twin.Report(ctx)

	n.mu.Lock()
	n.reportErr = err
	if err == nil {
		n.lastReport = time.Now()
	}
	n.mu.Unlock()
	return err
}

// Run calls CheckAndReport every interval until ctx is done. Report errors
// are logged; the next tick retries.
func (n *Node) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := n.CheckAndReport(ctx); err != nil && ctx.Err() == nil {
				n.getLogger().Warn("check and report failed", "error", err)
			}
		}
	}
}

// Status is a diagnostics snapshot of the node.
type Status struct {
	InitialGet bool              `json:"initial_get_received"`
	LastReport time.Time         `json:"last_report,omitzero"`
	LastError  string            `json:"last_report_error,omitempty"`
	Twin       twin.Status       `json:"twin"`
	LEDs       map[string]string `json:"leds"`
}

// Status returns the twin bookkeeping and LED states.
func (n *Node) Status() Status {
	n.mu.Lock()
	st := Status{InitialGet: n.initialDone, LastReport: n.lastReport}
	if n.reportErr != nil {
		st.LastError = n.reportErr.Error()
	}
	n.mu.Unlock()

	st.Twin = n.twin.Status()
	st.LEDs = n.bank.Snapshot()
	return st
}

func (n *Node) recordLEDs() {
	if n.history == nil {
		return
	}
	now := time.Now()
	for _, c := range led.Colors {
		n.history.WriteLEDState(n.deviceID, c.String(), n.bank.State(c).String(), now)
	}
}

func (n *Node) notify() {
	if n.onChange != nil {
		n.onChange(n.Status())
	}
}

func (n *Node) setGreen(s led.State) {
	if err := n.bank.Set(led.Green, s); err != nil {
		n.getLogger().Warn("setting status LED", "error", err)
	}
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "other"
	}
}

// HubUsername builds the hub session username for cfg.
func HubUsername(cfg *config.Config, hostname string) string {
	return mqtt.Topics{}.HubUsername(hostname, cfg.Device.ID, cfg.Hub.APIVersion, cfg.Device.ModelID)
}

// DialHub connects to the assigned hub. The green LED blinks slowly while
// the session is being established. The hub session reconnects on its own.
func DialHub(cfg *config.Config, hostname string, bank *led.Bank) (*mqtt.Client, error) {
	if bank != nil {
		_ = bank.Set(led.Green, led.BlinkSlow) //nolint:errcheck // Indicator only
	}
	sc := mqtt.NewSessionConfig(cfg.MQTT, hostname, cfg.Hub.Port, cfg.Device.ID, HubUsername(cfg, hostname))
	sc.AutoReconnect = true
	client, err := mqtt.Connect(sc)
	if err != nil {
		if bank != nil {
			_ = bank.Set(led.Green, led.Off) //nolint:errcheck // Indicator only
		}
		return nil, fmt.Errorf("connecting to hub %s: %w", hostname, err)
	}
	return client, nil
}
