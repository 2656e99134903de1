package twin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/sensornode/internal/infrastructure/config"
	"github.com/nerrad567/sensornode/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensornode/internal/led"
)

// persistTimeout bounds a state save after a desired document is applied.
const persistTimeout = 2 * time.Second

// Publisher sends one message. *mqtt.Client satisfies it.
type Publisher interface {
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

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AppliedDelta describes the effect of one apply call.
type AppliedDelta struct {
	// Version is the document version (zero for hardware deltas).
	Version int64

	// Stale is true when a patch was not newer than the recorded version
	// and was ignored.
	Stale bool

	// Dirty holds the bits this call set.
	Dirty Flags

	// Initial is true when the complete baseline snapshot was forced.
	Initial bool
}

// Options configures a Synchronizer.
type Options struct {
	Config config.TwinConfig

	// QoS for reported-property publishes.
	QoS byte

	// TelemetryInterval is the interval in seconds used until the twin sets one.
	TelemetryInterval uint32

	Bank      *led.Bank
	Publisher Publisher
	Lock      *mqtt.PublishLock

	// Repository persists the version and targets. Optional.
	Repository Repository

	// Identity names the hub assignment the persisted state belongs to,
	// usually the hub hostname and device id. Restore discards a snapshot
	// saved under a different identity.
	Identity string

	// Logger is optional.
	Logger Logger
}

// Synchronizer owns the node's twin bookkeeping.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Desired documents arrive on
//     transport goroutines while CheckAndReport runs on the node loop.
type Synchronizer struct {
	mu sync.Mutex

	version    int64
	hasVersion bool

	dirty Flags
	// seq counts how often each bit has been set, so a report only clears
	// bits that were not set again while it was in flight.
	seq [numFlags]uint64

	interval    uint32
	hasInterval bool
	intervalAck ack

	targets  map[led.Color]Target
	ledAck   [len(ledProperties)]ack
	writable [len(ledProperties)]bool
	byName   map[string]led.Color

	envelope       bool
	clearOnConfirm bool
	bufSize        int
	qos            byte

	bank      *led.Bank
	publisher Publisher
	lock      *mqtt.PublishLock
	repo      Repository
	identity  string
	limiter   *rate.Limiter

	requestID atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Synchronizer. Nothing is published until Report is called.
//
// Parameters:
//   - opts: Configuration and collaborators; Bank, Publisher and Lock are required
//
// Returns:
//   - *Synchronizer: Ready for documents
//   - error: If a required collaborator is missing or a writable channel is unknown
func New(opts Options) (*Synchronizer, error) {
	if opts.Bank == nil || opts.Publisher == nil || opts.Lock == nil {
		return nil, errors.New("twin: bank, publisher and lock are required")
	}

	limit := rate.Inf
	if opts.Config.ReportsPerSecond > 0 {
		limit = rate.Limit(opts.Config.ReportsPerSecond)
	}
	burst := max(opts.Config.ReportBurst, 1)

	s := &Synchronizer{
		interval:       opts.TelemetryInterval,
		intervalAck:    defaultAck,
		targets:        make(map[led.Color]Target),
		byName:         make(map[string]led.Color),
		envelope:       opts.Config.AckStyle != config.AckStylePlain,
		clearOnConfirm: opts.Config.ClearOnConfirm,
		bufSize:        opts.Config.PayloadBuffer,
		qos:            opts.QoS,
		bank:           opts.Bank,
		publisher:      opts.Publisher,
		lock:           opts.Lock,
		repo:           opts.Repository,
		identity:       opts.Identity,
		limiter:        rate.NewLimiter(limit, burst),
		logger:         opts.Logger,
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.bufSize <= 0 {
		s.bufSize = 256
	}
	for i := range s.ledAck {
		s.ledAck[i] = defaultAck
	}
	for _, name := range opts.Config.WritableLEDs {
		c, ok := led.ParseColor(name)
		if !ok {
			return nil, fmt.Errorf("twin: unknown writable channel %q", name)
		}
		if c == led.Red {
			return nil, fmt.Errorf("twin: channel %q is read-only", name)
		}
		s.writable[c] = true
		s.byName[PropertyName(c)] = c
	}
	return s, nil
}

// SetLogger replaces the logger.
func (s *Synchronizer) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	s.logger = logger
}

func (s *Synchronizer) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// =============================================================================
// Desired documents
// =============================================================================

// ApplyDesiredDocument applies a full or partial desired document.
//
// The version is extracted and recorded before any property is examined.
// A patch must be newer than the recorded version. A full document is the
// hub's current state and always applies, resetting the recorded version.
// Unrecognized properties are skipped. A recognized property of the wrong
// type aborts the rest of the document; properties before it stay applied.
//
// Parameters:
//   - kind: DocumentFull for the get-twin response, DocumentPatch for patches
//   - doc: Raw JSON payload
//
// Returns:
//   - AppliedDelta: Version and newly dirty bits; Stale if the document was ignored
//   - error: ErrVersionMissing, ErrTypeMismatch or ErrMalformedDocument
func (s *Synchronizer) ApplyDesiredDocument(kind DocumentKind, doc []byte) (AppliedDelta, error) {
	version, err := documentVersion(kind, doc)
	if err != nil {
		documentErrors.WithLabelValues(errorReason(err)).Inc()
		return AppliedDelta{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == DocumentPatch && s.hasVersion && version <= s.version {
		documentsStale.Inc()
		s.getLogger().Warn("ignoring stale desired document",
			"kind", kind.String(), "version", version, "recorded", s.version)
		return AppliedDelta{Version: version, Stale: true}, nil
	}

	s.version = version
	s.hasVersion = true
	twinVersion.Set(float64(version))

	delta := AppliedDelta{Version: version}
	err = desiredProperties(kind, doc, s.recognized, func(name string, n json.Number) error {
		f, err := s.applyPropertyLocked(version, name, n)
		delta.Dirty |= f
		return err
	})

	s.persistLocked()

	if err != nil {
		documentErrors.WithLabelValues(errorReason(err)).Inc()
		return delta, err
	}
	documentsApplied.WithLabelValues(kind.String()).Inc()
	return delta, nil
}

func (s *Synchronizer) recognized(name string) bool {
	if name == PropertyTelemetryInterval {
		return true
	}
	_, ok := s.byName[name]
	return ok
}

func (s *Synchronizer) applyPropertyLocked(version int64, name string, n json.Number) (Flags, error) {
	if name == PropertyTelemetryInterval {
		v, err := asUint32(name, n)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			s.intervalAck = ack{code: ackInvalidValue, version: version, desc: ackDescInvalidValue}
		} else {
			s.interval = v
			s.hasInterval = true
			s.intervalAck = ack{code: ackSuccess, version: version, desc: ackDescSuccess}
			s.getLogger().Info("telemetry interval updated", "seconds", v, "version", version)
		}
		s.markLocked(FlagTelemetryInterval)
		return FlagTelemetryInterval, nil
	}

	c := s.byName[name]
	raw, err := asInt32(name, n)
	if err != nil {
		return 0, err
	}
	flag := FlagFor(c)
	s.markLocked(flag)

	target := Target(raw)
	state, ok := target.State()
	if !ok {
		s.ledAck[c] = ack{code: ackInvalidValue, version: version, desc: ackDescInvalidValue}
		s.getLogger().Warn("invalid desired LED value", "property", name, "value", raw)
		return flag, nil
	}
	if err := s.bank.Set(c, state); err != nil {
		s.ledAck[c] = ack{code: ackFailed, version: version, desc: ackDescFailed}
		s.getLogger().Error("applying desired LED state failed", "property", name, "error", err)
		return flag, nil
	}
	s.targets[c] = target
	s.ledAck[c] = ack{code: ackSuccess, version: version, desc: ackDescSuccess}
	return flag, nil
}

// =============================================================================
// Hardware deltas
// =============================================================================

// ApplyHardwareDeltas folds LED changes made outside a twin update into the
// dirty set, consuming each channel's change flag.
//
// With initial set, every channel and the telemetry interval are marked
// dirty regardless of change flags, producing one complete baseline report.
func (s *Synchronizer) ApplyHardwareDeltas(initial bool) AppliedDelta {
	s.mu.Lock()
	defer s.mu.Unlock()

	var delta AppliedDelta
	for _, c := range led.Colors {
		if _, changed := s.bank.Channel(c).TakeChange(); changed || initial {
			delta.Dirty |= FlagFor(c)
		}
	}
	if initial {
		delta.Dirty |= FlagTelemetryInterval | FlagInitialGet
		delta.Initial = true
	}
	s.markLocked(delta.Dirty)
	return delta
}

// HardwareChanged reports whether any channel has an unconsumed change.
func (s *Synchronizer) HardwareChanged() bool {
	for _, c := range led.Colors {
		if s.bank.Channel(c).Changed() {
			return true
		}
	}
	return false
}

func (s *Synchronizer) markLocked(f Flags) {
	s.dirty |= f
	for i := range numFlags {
		if f&(1<<i) != 0 {
			s.seq[i]++
		}
	}
}

// =============================================================================
// Reporting
// =============================================================================

// Pending reports whether any property is dirty.
func (s *Synchronizer) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty.Any()
}

// BuildReportedPatch encodes every dirty property into buf.
//
// Returns:
//   - []byte: The encoded object, a prefix of buf
//   - Flags: The bits the object encodes
//   - error: ErrNothingToReport if nothing is dirty, ErrBufferTooSmall on overflow
func (s *Synchronizer) BuildReportedPatch(buf []byte) ([]byte, Flags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, flags, _, err := s.buildLocked(buf)
	return payload, flags, err
}

func (s *Synchronizer) buildLocked(buf []byte) ([]byte, Flags, [numFlags]uint64, error) {
	seqs := s.seq
	dirty := s.dirty
	if !dirty.Any() {
		return nil, 0, seqs, ErrNothingToReport
	}

	w := newBoundedWriter(buf)
	w.beginObject()

	if dirty.Has(FlagTelemetryInterval) {
		if s.envelope {
			w.ackMember(PropertyTelemetryInterval, s.intervalAck, int64(s.interval))
		} else {
			w.intMember(PropertyTelemetryInterval, int64(s.interval))
		}
	}

	for _, c := range reportOrder {
		if !dirty.Has(FlagFor(c)) {
			continue
		}
		name := PropertyName(c)
		v := reportedValue(s.bank.State(c))
		switch {
		case c == led.Red:
			w.stringMember(name, redValue(v))
		case s.writable[c] && s.envelope:
			w.ackMember(name, s.ledAck[c], v)
		case s.writable[c]:
			w.intMember(name, v)
		default:
			w.intMember(name, v)
		}
	}

	w.endObject()
	payload, err := w.bytes()
	if err != nil {
		return nil, 0, seqs, err
	}
	return payload, dirty, seqs, nil
}

// clearLocked clears the reported bits that were not set again since the
// report was built.
func (s *Synchronizer) clearLocked(flags Flags, seqs [numFlags]uint64) {
	for i := range numFlags {
		bit := Flags(1) << i
		if flags&bit != 0 && s.seq[i] == seqs[i] {
			s.dirty &^= bit
		}
	}
}

// Report publishes one reported-property patch holding every dirty
// property. It returns nil without publishing when nothing is dirty.
//
// The patch is published under the shared publish lock. Dirty bits are
// cleared once the patch has been handed to the transport; with
// clear_on_confirm they are kept when the publish fails so the next cycle
// retries them.
func (s *Synchronizer) Report(ctx context.Context) error {
	if !s.Pending() {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("reporting properties: %w", err)
	}

	buf := make([]byte, s.bufSize)

	s.mu.Lock()
	payload, flags, seqs, err := s.buildLocked(buf)
	s.mu.Unlock()

	if errors.Is(err, ErrNothingToReport) {
		return nil
	}
	if err != nil {
		reportErrors.WithLabelValues("encode").Inc()
		return fmt.Errorf("reporting properties: %w", err)
	}

	topic := mqtt.Topics{}.ReportedPatch(s.nextRequestID())
	handedOff := false
	err = s.lock.Do(ctx, func() error {
		handedOff = true
		return s.publisher.Publish(topic, payload, s.qos, false)
	})

	if !handedOff {
		reportErrors.WithLabelValues("lock").Inc()
		s.getLogger().Warn("reported properties abandoned", "error", err)
		return fmt.Errorf("reporting properties: %w", err)
	}

	if err == nil || !s.clearOnConfirm {
		s.mu.Lock()
		s.clearLocked(flags, seqs)
		s.mu.Unlock()
	}

	if err != nil {
		reportErrors.WithLabelValues("publish").Inc()
		return fmt.Errorf("reporting properties: %w", err)
	}

	reportsPublished.Inc()
	s.getLogger().Debug("reported properties published", "flags", flags.String(), "bytes", len(payload))
	return nil
}

func (s *Synchronizer) nextRequestID() string {
	return strconv.FormatUint(s.requestID.Add(1), 10)
}

// =============================================================================
// Accessors
// =============================================================================

// TelemetryInterval returns the current telemetry interval.
func (s *Synchronizer) TelemetryInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.interval) * time.Second
}

// Version returns the recorded document version and whether one is recorded.
func (s *Synchronizer) Version() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, s.hasVersion
}

// Status is a point-in-time view for diagnostics.
type Status struct {
	Version           int64          `json:"version"`
	HasVersion        bool           `json:"has_version"`
	Dirty             string         `json:"dirty"`
	TelemetryInterval uint32         `json:"telemetry_interval"`
	Targets           map[string]int `json:"targets"`
}

// Status returns the current bookkeeping.
func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := make(map[string]int, len(s.targets))
	for c, t := range s.targets {
		targets[c.String()] = int(t)
	}
	return Status{
		Version:           s.version,
		HasVersion:        s.hasVersion,
		Dirty:             s.dirty.String(),
		TelemetryInterval: s.interval,
		Targets:           targets,
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrVersionMissing):
		return "version_missing"
	case errors.Is(err, ErrTypeMismatch):
		return "type_mismatch"
	default:
		return "malformed"
	}
}
