package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sensornode/internal/infrastructure/mqtt"
)

// recordTimeout bounds writing one command log entry.
const recordTimeout = 2 * time.Second

// Publisher sends one message. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
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

// ResponderOptions configures a Responder.
type ResponderOptions struct {
	Dispatcher *Dispatcher
	Publisher  Publisher
	QoS        byte

	// Lock, when set, serializes responses with telemetry and property
	// reports. Nil publishes responses directly.
	Lock *mqtt.PublishLock

	// Repository records every exchange. Optional.
	Repository Repository

	Logger Logger
}

// Responder turns command messages into published responses.
type Responder struct {
	dispatcher *Dispatcher
	publisher  Publisher
	qos        byte
	lock       *mqtt.PublishLock
	repo       Repository

	logger   Logger
	loggerMu sync.RWMutex
}

// NewResponder creates a Responder.
func NewResponder(opts ResponderOptions) *Responder {
	r := &Responder{
		dispatcher: opts.Dispatcher,
		publisher:  opts.Publisher,
		qos:        opts.QoS,
		lock:       opts.Lock,
		repo:       opts.Repository,
		logger:     opts.Logger,
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r
}

// SetLogger replaces the logger.
func (r *Responder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	defer r.loggerMu.Unlock()
	r.logger = logger
}

func (r *Responder) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// HandleMessage is the transport handler for command topics.
//
// Parameters:
//   - topic: "$iothub/methods/POST/{name}/?$rid={rid}"
//   - payload: Command arguments as JSON
//
// Returns:
//   - error: If the topic cannot be parsed or the response cannot be published
func (r *Responder) HandleMessage(topic string, payload []byte) error {
	req, err := mqtt.ParseCommandTopic(topic)
	if err != nil {
		return err
	}

	r.getLogger().Info("command received", "name", req.Name, "request_id", req.RequestID)
	resp := r.dispatcher.Dispatch(req.Name, payload)

	ctx := context.Background()
	respTopic := mqtt.Topics{}.CommandResponse(resp.Status, req.RequestID)
	publish := func() error {
		return r.publisher.Publish(respTopic, resp.Payload, r.qos, false)
	}
	if r.lock != nil {
		err = r.lock.Do(ctx, publish)
	} else {
		err = publish()
	}

	r.record(Entry{
		RequestID:  req.RequestID,
		Name:       req.Name,
		Status:     resp.Status,
		Response:   string(resp.Payload),
		ReceivedAt: time.Now().UTC(),
	})

	if err != nil {
		r.getLogger().Error("command response not sent", "name", req.Name, "request_id", req.RequestID, "error", err)
		return fmt.Errorf("responding to %s: %w", req.Name, err)
	}
	return nil
}

func (r *Responder) record(e Entry) {
	if r.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.repo.Record(ctx, e); err != nil {
		r.getLogger().Warn("command log write failed", "error", err)
	}
}
