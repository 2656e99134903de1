package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sensornode/internal/hardware"
	"github.com/nerrad567/sensornode/internal/infrastructure/mqtt"
)

// Publisher sends one message. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Sink receives a copy of every sample read. *influxdb.Client satisfies it.
type Sink interface {
	WriteSensorSample(deviceID string, temperature, light int, at time.Time)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Sample is the telemetry message body.
type Sample struct {
	Temperature int `json:"temperature"`
	Light       int `json:"light"`
}

// Options configures a Reporter.
type Options struct {
	DeviceID  string
	Sensors   hardware.Sensors
	Publisher Publisher
	Lock      *mqtt.PublishLock
	QoS       byte

	// Interval returns the current send interval. It is consulted before
	// every wait.
	Interval func() time.Duration

	// Sink mirrors samples elsewhere. Optional.
	Sink Sink

	// Logger is optional.
	Logger Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Reporter sends a sample every interval.
type Reporter struct {
	topic     string
	deviceID  string
	sensors   hardware.Sensors
	publisher Publisher
	lock      *mqtt.PublishLock
	qos       byte
	interval  func() time.Duration
	sink      Sink
	now       func() time.Time

	mu       sync.Mutex
	last     Sample
	lastAt   time.Time
	hasLast  bool
	sent     uint64
	dropped  uint64
	logger   Logger
	loggerMu sync.RWMutex
}

// NewReporter creates a Reporter.
//
// Parameters:
//   - opts: Sensors, Publisher, Lock and Interval are required
//
// Returns:
//   - *Reporter: Ready to Run
//   - error: If a required collaborator is missing
func NewReporter(opts Options) (*Reporter, error) {
	if opts.Sensors == nil || opts.Publisher == nil || opts.Lock == nil || opts.Interval == nil {
		return nil, errors.New("telemetry: sensors, publisher, lock and interval are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reporter{
		topic:     mqtt.Topics{}.Telemetry(opts.DeviceID),
		deviceID:  opts.DeviceID,
		sensors:   opts.Sensors,
		publisher: opts.Publisher,
		lock:      opts.Lock,
		qos:       opts.QoS,
		interval:  opts.Interval,
		sink:      opts.Sink,
		now:       now,
		logger:    logger,
	}, nil
}

// SetLogger replaces the logger.
func (r *Reporter) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	defer r.loggerMu.Unlock()
	r.logger = logger
}

func (r *Reporter) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// Run sends a sample every interval until ctx is done. Send errors are
// logged and the loop continues.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		wait := r.interval()
		if wait <= 0 {
			wait = time.Second
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		if err := r.Send(ctx); err != nil && ctx.Err() == nil {
			r.getLogger().Warn("telemetry sample dropped", "error", err)
		}
	}
}

// Send samples the sensors and publishes one message.
func (r *Reporter) Send(ctx context.Context) error {
	reading, err := r.sensors.Read()
	if err != nil {
		samples.WithLabelValues("sensor_error").Inc()
		return fmt.Errorf("%w: %w", ErrSensorRead, err)
	}
	at := r.now()
	sample := Sample{Temperature: reading.Temperature, Light: reading.Light}

	lastTemperature.Set(float64(sample.Temperature))
	lastLight.Set(float64(sample.Light))
	if r.sink != nil {
		r.sink.WriteSensorSample(r.deviceID, sample.Temperature, sample.Light, at)
	}

	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encoding sample: %w", err)
	}

	err = r.lock.Do(ctx, func() error {
		return r.publisher.Publish(r.topic, payload, r.qos, false)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.dropped++
		if errors.Is(err, mqtt.ErrLockTimeout) {
			samples.WithLabelValues("lock_timeout").Inc()
		} else {
			samples.WithLabelValues("publish_error").Inc()
		}
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	r.sent++
	r.last, r.lastAt, r.hasLast = sample, at, true
	samples.WithLabelValues("ok").Inc()
	r.getLogger().Debug("telemetry sent", "temperature", sample.Temperature, "light", sample.Light)
	return nil
}

// Status is a diagnostics snapshot of the reporter.
type Status struct {
	Topic           string    `json:"topic"`
	IntervalSeconds float64   `json:"interval_seconds"`
	Sent            uint64    `json:"sent"`
	Dropped         uint64    `json:"dropped"`
	Last            *Sample   `json:"last,omitempty"`
	LastAt          time.Time `json:"last_at,omitzero"`
}

// Status returns counters and the last published sample.
func (r *Reporter) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		Topic:           r.topic,
		IntervalSeconds: r.interval().Seconds(),
		Sent:            r.sent,
		Dropped:         r.dropped,
	}
	if r.hasLast {
		last := r.last
		st.Last = &last
		st.LastAt = r.lastAt
	}
	return st
}
