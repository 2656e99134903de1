package twin

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sensornode/internal/hardware"
	"github.com/nerrad567/sensornode/internal/infrastructure/config"
	"github.com/nerrad567/sensornode/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensornode/internal/led"
	"github.com/nerrad567/sensornode/internal/timer/timertest"
)

// mockPublisher records publishes and can be told to fail.
type mockPublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

type published struct {
	topic   string
	payload string
	qos     byte
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, published{topic: topic, payload: string(payload), qos: qos})
	return nil
}

func (m *mockPublisher) last(t *testing.T) published {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		t.Fatal("nothing published")
	}
	return m.messages[len(m.messages)-1]
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

type fixture struct {
	sync  *Synchronizer
	bank  *led.Bank
	pub   *mockPublisher
	lock  *mqtt.PublishLock
	clock *timertest.Fake
}

func testTwinConfig() config.TwinConfig {
	return config.TwinConfig{
		AckStyle:       config.AckStyleEnvelope,
		WritableLEDs:   []string{"yellow"},
		PayloadBuffer:  256,
		ClearOnConfirm: true,
	}
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		pub:   &mockPublisher{},
		lock:  mqtt.NewPublishLock(50 * time.Millisecond),
		clock: timertest.New(),
	}
	bankCfg := led.BankConfig{
		ActiveLow: true,
		Scheduler: f.clock,
		BlinkFast: 100 * time.Millisecond,
		BlinkSlow: 400 * time.Millisecond,
	}
	for i := range bankCfg.Outputs {
		bankCfg.Outputs[i] = hardware.NewSimOutput(hardware.High)
	}
	bank, err := led.NewBank(bankCfg)
	if err != nil {
		t.Fatal(err)
	}
	f.bank = bank

	opts := Options{
		Config:            testTwinConfig(),
		QoS:               1,
		TelemetryInterval: 60,
		Bank:              bank,
		Publisher:         f.pub,
		Lock:              f.lock,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.sync = s
	return f
}

func TestApplyDesiredDocumentVersionMissing(t *testing.T) {
	docs := map[string]struct {
		kind DocumentKind
		doc  string
	}{
		"patch without version":       {DocumentPatch, `{"telemetryInterval":30}`},
		"full without desired":        {DocumentFull, `{"reported":{"$version":3}}`},
		"full with version elsewhere": {DocumentFull, `{"desired":{"led_y":1},"reported":{"$version":3}}`},
		"non-numeric version":         {DocumentPatch, `{"$version":"7"}`},
	}

	for name, tt := range docs {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)

			_, err := f.sync.ApplyDesiredDocument(tt.kind, []byte(tt.doc))
			if !errors.Is(err, ErrVersionMissing) {
				t.Fatalf("error = %v, want ErrVersionMissing", err)
			}
			if f.sync.Pending() {
				t.Error("dirty flags set after missing version")
			}
			if _, ok := f.sync.Version(); ok {
				t.Error("version recorded after missing version")
			}
		})
	}
}

func TestApplyDesiredDocumentMalformed(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.sync.ApplyDesiredDocument(DocumentPatch, []byte(`[1,2]`)); !errors.Is(err, ErrMalformedDocument) {
		t.Errorf("error = %v, want ErrMalformedDocument", err)
	}
}

func TestApplyDesiredPatch(t *testing.T) {
	f := newFixture(t, nil)

	delta, err := f.sync.ApplyDesiredDocument(DocumentPatch,
		[]byte(`{"telemetryInterval":30,"led_y":3,"unknown":{"nested":[1,2]},"$version":7}`))
	if err != nil {
		t.Fatalf("ApplyDesiredDocument() error = %v", err)
	}

	if delta.Version != 7 || delta.Stale {
		t.Errorf("delta = %+v", delta)
	}
	if !delta.Dirty.Has(FlagTelemetryInterval | FlagLEDYellow) {
		t.Errorf("delta.Dirty = %v", delta.Dirty)
	}
	if got := f.sync.TelemetryInterval(); got != 30*time.Second {
		t.Errorf("TelemetryInterval() = %v, want 30s", got)
	}
	if got := f.bank.State(led.Yellow); got != led.BlinkFast {
		t.Errorf("yellow state = %v, want BlinkFast", got)
	}
}

func TestApplyDesiredFullDocument(t *testing.T) {
	f := newFixture(t, nil)

	doc := `{"desired":{"led_y":1,"$version":4},"reported":{"led_y":{"value":2},"$version":9}}`
	delta, err := f.sync.ApplyDesiredDocument(DocumentFull, []byte(doc))
	if err != nil {
		t.Fatalf("ApplyDesiredDocument() error = %v", err)
	}
	if delta.Version != 4 {
		t.Errorf("Version = %d, want 4 (desired, not reported)", delta.Version)
	}
	if f.bank.State(led.Yellow) != led.Hold {
		t.Errorf("yellow = %v, want Hold", f.bank.State(led.Yellow))
	}
}

func TestApplyDesiredRecordsVersionWithoutProperties(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.sync.ApplyDesiredDocument(DocumentPatch, []byte(`{"other":1,"$version":12}`)); err != nil {
		t.Fatal(err)
	}
	if v, ok := f.sync.Version(); !ok || v != 12 {
		t.Errorf("Version() = %d, %v; want 12, true", v, ok)
	}
	if f.sync.Pending() {
		t.Error("unrecognized property made state dirty")
	}
}

func TestApplyDesiredTypeMismatchKeepsEarlierProperties(t *testing.T) {
	f := newFixture(t, nil)

	doc := `{"telemetryInterval":15,"led_y":"blink","$version":5}`
	delta, err := f.sync.ApplyDesiredDocument(DocumentPatch, []byte(doc))
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("error = %v, want ErrTypeMismatch", err)
	}
	if f.sync.TelemetryInterval() != 15*time.Second {
		t.Errorf("interval before the mismatch not applied")
	}
	if delta.Dirty.Has(FlagLEDYellow) {
		t.Error("mismatched property marked dirty")
	}
	if v, _ := f.sync.Version(); v != 5 {
		t.Errorf("Version() = %d, want 5", v)
	}
}

func TestApplyDesiredTypeMismatchAbortsRemainder(t *testing.T) {
	f := newFixture(t, nil)

	doc := `{"telemetryInterval":-4,"led_y":1,"$version":5}`
	if _, err := f.sync.ApplyDesiredDocument(DocumentPatch, []byte(doc)); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("error = %v, want ErrTypeMismatch", err)
	}
	if f.bank.State(led.Yellow) != led.Off {
		t.Error("property after the mismatch was applied")
	}
}

func TestApplyDesiredMonotonic(t *testing.T) {
	tests := []struct {
		name      string
		kind      DocumentKind
		version   int
		wantStale bool
	}{
		{"older patch", DocumentPatch, 9, true},
		{"equal patch", DocumentPatch, 10, true},
		{"newer patch", DocumentPatch, 11, false},
		{"older full", DocumentFull, 9, false},
		{"equal full", DocumentFull, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if _, err := f.sync.ApplyDesiredDocument(DocumentPatch, []byte(`{"led_y":1,"$version":10}`)); err != nil {
				t.Fatal(err)
			}

			doc := `{"led_y":2,"$version":` + strconv.Itoa(tt.version) + `}`
			if tt.kind == DocumentFull {
				doc = `{"desired":` + doc + `}`
			}
			delta, err := f.sync.ApplyDesiredDocument(tt.kind, []byte(doc))
			if err != nil {
				t.Fatal(err)
			}
			if delta.Stale != tt.wantStale {
				t.Errorf("Stale = %v, want %v", delta.Stale, tt.wantStale)
			}

			wantState := led.Off
			wantVersion := int64(tt.version)
			if tt.wantStale {
				wantState = led.Hold
				wantVersion = 10
			}
			if got := f.bank.State(led.Yellow); got != wantState {
				t.Errorf("yellow = %v, want %v", got, wantState)
			}
			if v, _ := f.sync.Version(); v != wantVersion {
				t.Errorf("Version() = %d, want %d", v, wantVersion)
			}
		})
	}
}

func TestBuildReportedPatchInitialGet(t *testing.T) {
	f := newFixture(t, nil)

	delta := f.sync.ApplyHardwareDeltas(true)
	if !delta.Initial || !delta.Dirty.Has(flagsAllLEDs|FlagTelemetryInterval|FlagInitialGet) {
		t.Fatalf("delta = %+v", delta)
	}

	buf := make([]byte, 256)
	payload, flags, err := f.sync.BuildReportedPatch(buf)
	if err != nil {
		t.Fatalf("BuildReportedPatch() error = %v", err)
	}
	want := `{"telemetryInterval":{"ac":200,"av":1,"ad":"Success","value":60},` +
		`"led_y":{"ac":200,"av":1,"ad":"Success","value":2},` +
		`"led_r":"Off","led_b":2,"led_g":2}`
	if string(payload) != want {
		t.Errorf("payload =\n%s\nwant\n%s", payload, want)
	}
	if flags.Count() != 6 {
		t.Errorf("flags = %v, want all six bits", flags)
	}
}

func TestBuildReportedPatchValues(t *testing.T) {
	f := newFixture(t, nil)

	_ = f.bank.Set(led.Red, led.BlinkSlow)
	_ = f.bank.Set(led.Blue, led.Hold)
	_ = f.bank.Set(led.Green, led.BlinkFast)
	f.sync.ApplyHardwareDeltas(false)

	if _, err := f.sync.ApplyDesiredDocument(DocumentPatch, []byte(`{"led_y":1,"$version":3}`)); err != nil {
		t.Fatal(err)
	}

	payload, _, err := f.sync.BuildReportedPatch(make([]byte, 256))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"led_y":{"ac":200,"av":3,"ad":"Success","value":1},"led_r":"Blink","led_b":1,"led_g":3}`
	if string(payload) != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}
}

func TestBuildReportedPatchInvalidLEDValue(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.sync.ApplyDesiredDocument(DocumentPatch, []byte(`{"led_y":9,"$version":2}`)); err != nil {
		t.Fatal(err)
	}
	payload, _, err := f.sync.BuildReportedPatch(make([]byte, 256))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"led_y":{"ac":400,"av":2,"ad":"Invalid value","value":2}}`
	if string(payload) != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}
}

func TestBuildReportedPatchPlainStyle(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.AckStyle = config.AckStylePlain })

	if _, err := f.sync.ApplyDesiredDocument(DocumentPatch, []byte(`{"telemetryInterval":10,"led_y":3,"$version":2}`)); err != nil {
		t.Fatal(err)
	}
	payload, _, err := f.sync.BuildReportedPatch(make([]byte, 256))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"telemetryInterval":10,"led_y":3}`
	if string(payload) != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}
}

func TestBuildReportedPatchNothingToReport(t *testing.T) {
	f := newFixture(t, nil)

	if _, _, err := f.sync.BuildReportedPatch(make([]byte, 256)); !errors.Is(err, ErrNothingToReport) {
		t.Errorf("error = %v, want ErrNothingToReport", err)
	}
}

func TestBuildReportedPatchBufferTooSmall(t *testing.T) {
	f := newFixture(t, nil)
	f.sync.ApplyHardwareDeltas(true)

	payload, _, err := f.sync.BuildReportedPatch(make([]byte, 40))
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("error = %v, want ErrBufferTooSmall", err)
	}
	if payload != nil {
		t.Errorf("partial payload returned: %q", payload)
	}
	if !f.sync.Pending() {
		t.Error("overflow cleared dirty flags")
	}
}

func TestReportPublishesAndClears(t *testing.T) {
	f := newFixture(t, nil)
	f.sync.ApplyHardwareDeltas(true)

	if err := f.sync.Report(context.Background()); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	msg := f.pub.last(t)
	if msg.topic != "$iothub/twin/PATCH/properties/reported/?$rid=1" {
		t.Errorf("topic = %q", msg.topic)
	}
	if msg.qos != 1 {
		t.Errorf("qos = %d, want 1", msg.qos)
	}

	// Second build without changes has nothing to report.
	if _, _, err := f.sync.BuildReportedPatch(make([]byte, 256)); !errors.Is(err, ErrNothingToReport) {
		t.Errorf("second build error = %v, want ErrNothingToReport", err)
	}
	if err := f.sync.Report(context.Background()); err != nil {
		t.Errorf("idle Report() error = %v", err)
	}
	if f.pub.count() != 1 {
		t.Errorf("published %d messages, want 1", f.pub.count())
	}
}

func TestReportPublishFailure(t *testing.T) {
	tests := []struct {
		name           string
		clearOnConfirm bool
		wantPending    bool
	}{
		{"clear on confirm keeps flags", true, true},
		{"clear on handoff drops flags", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(o *Options) { o.Config.ClearOnConfirm = tt.clearOnConfirm })
			f.pub.err = mqtt.ErrNotConnected
			_ = f.bank.Set(led.Blue, led.Hold)
			f.sync.ApplyHardwareDeltas(false)

			err := f.sync.Report(context.Background())
			if !errors.Is(err, mqtt.ErrNotConnected) {
				t.Fatalf("Report() error = %v, want ErrNotConnected", err)
			}
			if got := f.sync.Pending(); got != tt.wantPending {
				t.Errorf("Pending() = %v, want %v", got, tt.wantPending)
			}
		})
	}
}

func TestReportLockTimeout(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.bank.Set(led.Green, led.Hold)
	f.sync.ApplyHardwareDeltas(false)

	release, err := f.lock.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if err := f.sync.Report(context.Background()); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Report() error = %v, want ErrLockTimeout", err)
	}
	if !f.sync.Pending() {
		t.Error("abandoned report cleared dirty flags")
	}
	if f.pub.count() != 0 {
		t.Error("published without holding the lock")
	}
}

func TestReportKeepsBitsSetDuringFlight(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.bank.Set(led.Blue, led.Hold)
	f.sync.ApplyHardwareDeltas(false)

	_, flags, seqs, err := f.sync.buildLocked(make([]byte, 256))
	if err != nil {
		t.Fatal(err)
	}

	// Blue changes again before the first report completes.
	_ = f.bank.Set(led.Blue, led.Off)
	f.sync.ApplyHardwareDeltas(false)

	f.sync.mu.Lock()
	f.sync.clearLocked(flags, seqs)
	f.sync.mu.Unlock()

	if !f.sync.Pending() {
		t.Error("bit re-set during flight was cleared")
	}
}

func TestApplyHardwareDeltasConsumesChanges(t *testing.T) {
	f := newFixture(t, nil)

	if f.sync.HardwareChanged() {
		t.Fatal("fresh bank reports changes")
	}
	_ = f.bank.Set(led.Red, led.Hold)
	if !f.sync.HardwareChanged() {
		t.Fatal("HardwareChanged() = false after Set")
	}

	delta := f.sync.ApplyHardwareDeltas(false)
	if delta.Dirty != FlagLEDRed {
		t.Errorf("Dirty = %v, want red", delta.Dirty)
	}
	if f.sync.HardwareChanged() {
		t.Error("change flag not consumed")
	}
}

func TestNewRejectsWritableLED(t *testing.T) {
	for _, name := range []string{"purple", "red"} {
		t.Run(name, func(t *testing.T) {
			_, err := New(Options{
				Config:    config.TwinConfig{WritableLEDs: []string{"yellow", name}},
				Bank:      &led.Bank{},
				Publisher: &mockPublisher{},
				Lock:      mqtt.NewPublishLock(time.Second),
			})
			if err == nil {
				t.Errorf("New() accepted writable channel %q", name)
			}
		})
	}
}

func TestBuildReportedPatchRedStaysString(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Config.WritableLEDs = []string{"blue", "green", "yellow"}
	})
	_ = f.bank.Set(led.Red, led.Hold)
	f.sync.ApplyHardwareDeltas(false)

	payload, _, err := f.sync.BuildReportedPatch(make([]byte, 256))
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"led_r":"On"}`; string(payload) != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}
}

func TestFlagsString(t *testing.T) {
	if got := (FlagTelemetryInterval | FlagLEDRed).String(); got != "telemetryInterval|red" {
		t.Errorf("String() = %q", got)
	}
	if got := Flags(0).String(); got != "none" {
		t.Errorf("String() = %q", got)
	}
}
