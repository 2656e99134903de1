package command

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sensornode/internal/hardware"
	"github.com/nerrad567/sensornode/internal/infrastructure/config"
	"github.com/nerrad567/sensornode/internal/infrastructure/database"
	"github.com/nerrad567/sensornode/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensornode/internal/timer/timertest"
	_ "github.com/nerrad567/sensornode/migrations"
)

const delayNotFoundPayload = `{"Error":"Delay time not found. Specify 'delay' in period format (PT5S for 5 sec)"}`

type countingResetter struct {
	mu    sync.Mutex
	calls int
}

func (r *countingResetter) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *countingResetter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newRebootDispatcher(t *testing.T) (*Dispatcher, *timertest.Fake, *countingResetter) {
	t.Helper()
	clock := timertest.New()
	resetter := &countingResetter{}
	d := NewDispatcher(DefaultResponseBuffer)
	d.Register(RebootCommand, NewRebootHandler(clock, resetter, nil))
	return d, clock, resetter
}

func TestRebootSchedulesReset(t *testing.T) {
	d, clock, resetter := newRebootDispatcher(t)

	resp := d.Dispatch(RebootCommand, []byte(`{"delay":"PT5S"}`))
	if resp.Status != StatusSuccess {
		t.Fatalf("Status = %d, want 200", resp.Status)
	}
	if string(resp.Payload) != `{"status":"success","delay":5}` {
		t.Errorf("Payload = %s", resp.Payload)
	}

	clock.Advance(4 * time.Second)
	if resetter.count() != 0 {
		t.Fatal("reset fired early")
	}
	clock.Advance(time.Second)
	if resetter.count() != 1 {
		t.Errorf("reset calls = %d, want 1", resetter.count())
	}
}

func TestRebootBareStringPayload(t *testing.T) {
	d, _, _ := newRebootDispatcher(t)

	resp := d.Dispatch(RebootCommand, []byte(`"PT30S"`))
	if resp.Status != StatusSuccess || string(resp.Payload) != `{"status":"success","delay":30}` {
		t.Errorf("Dispatch() = %d %s", resp.Status, resp.Payload)
	}
}

func TestRebootRejectsBadPayloads(t *testing.T) {
	payloads := []string{
		``,
		`""`,
		`{}`,
		`{"delay":""}`,
		`{"delay":5}`,
		`{"delay":"5S"}`,
		`{"delay":"PT5M"}`,
		`{"delay":"PTxS"}`,
		`{"delay":"PT-1S"}`,
		`[1]`,
		`not json`,
	}

	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			d, clock, resetter := newRebootDispatcher(t)

			resp := d.Dispatch(RebootCommand, []byte(p))
			if resp.Status != StatusNotFound {
				t.Errorf("Status = %d, want 404", resp.Status)
			}
			if string(resp.Payload) != delayNotFoundPayload {
				t.Errorf("Payload = %s", resp.Payload)
			}
			if clock.Active() != 0 {
				t.Error("reset scheduled for rejected payload")
			}
			clock.Advance(time.Hour)
			if resetter.count() != 0 {
				t.Error("reset fired for rejected payload")
			}
		})
	}
}

func TestParseRebootDelay(t *testing.T) {
	n, err := ParseRebootDelay([]byte(` {"other":1,"delay":"PT0S"} `))
	if err != nil || n != 0 {
		t.Errorf("ParseRebootDelay() = %d, %v; want 0, nil", n, err)
	}
	if _, err := ParseRebootDelay([]byte(`{}`)); !errors.Is(err, ErrDelayNotFound) {
		t.Errorf("error = %v, want ErrDelayNotFound", err)
	}
}

func TestUnsupportedCommand(t *testing.T) {
	d, _, _ := newRebootDispatcher(t)

	for _, payload := range []string{``, `{}`, `{"delay":"PT5S"}`} {
		resp := d.Dispatch("foo", []byte(payload))
		if resp.Status != StatusNotFound {
			t.Errorf("Status = %d, want 404", resp.Status)
		}
		if string(resp.Payload) != `{"Status":"Unsupported Command"}` {
			t.Errorf("Payload = %s", resp.Payload)
		}
	}
}

func TestDispatchResponseTooLarge(t *testing.T) {
	d := NewDispatcher(64)
	d.Register("chatty", HandlerFunc(func([]byte) Response {
		return Response{Status: StatusSuccess, Payload: make([]byte, 65)}
	}))

	resp := d.Dispatch("chatty", nil)
	if resp.Status != StatusError {
		t.Errorf("Status = %d, want 500", resp.Status)
	}
}

// =============================================================================
// Responder
// =============================================================================

type mockPublisher struct {
	mu     sync.Mutex
	topics []string
	bodies []string
	err    error
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.topics = append(m.topics, topic)
	m.bodies = append(m.bodies, string(payload))
	return nil
}

type memoryRepo struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *memoryRepo) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryRepo) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[:min(limit, len(m.entries))], nil
}

func TestResponderPublishesResponse(t *testing.T) {
	d, _, _ := newRebootDispatcher(t)
	pub := &mockPublisher{}
	repo := &memoryRepo{}
	r := NewResponder(ResponderOptions{
		Dispatcher: d,
		Publisher:  pub,
		Lock:       mqtt.NewPublishLock(time.Second),
		Repository: repo,
	})

	if err := r.HandleMessage("$iothub/methods/POST/reboot/?$rid=9", []byte(`{"delay":"PT5S"}`)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "$iothub/methods/res/200/?$rid=9" {
		t.Errorf("topics = %v", pub.topics)
	}
	if len(repo.entries) != 1 || repo.entries[0].Name != "reboot" || repo.entries[0].Status != 200 {
		t.Errorf("entries = %+v", repo.entries)
	}
}

func TestResponderUnsupportedCommandBypassingLock(t *testing.T) {
	d, _, _ := newRebootDispatcher(t)
	pub := &mockPublisher{}
	lock := mqtt.NewPublishLock(10 * time.Millisecond)
	r := NewResponder(ResponderOptions{Dispatcher: d, Publisher: pub})

	// Holding the lock must not block a responder configured without it.
	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if err := r.HandleMessage("$iothub/methods/POST/foo/?$rid=3", []byte(`{}`)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if pub.topics[0] != "$iothub/methods/res/404/?$rid=3" || pub.bodies[0] != `{"Status":"Unsupported Command"}` {
		t.Errorf("published %v %v", pub.topics, pub.bodies)
	}
}

func TestResponderErrors(t *testing.T) {
	d, _, _ := newRebootDispatcher(t)

	r := NewResponder(ResponderOptions{Dispatcher: d, Publisher: &mockPublisher{}})
	if err := r.HandleMessage("$iothub/twin/res/200/?$rid=1", nil); !errors.Is(err, mqtt.ErrUnexpectedTopic) {
		t.Errorf("error = %v, want ErrUnexpectedTopic", err)
	}

	failing := NewResponder(ResponderOptions{Dispatcher: d, Publisher: &mockPublisher{err: mqtt.ErrNotConnected}})
	if err := failing.HandleMessage("$iothub/methods/POST/foo/?$rid=1", nil); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestSQLiteRepository(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "cmd.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	repo := NewSQLiteRepository(db.DB)
	base := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"reboot", "foo", "reboot"} {
		if err := repo.Record(ctx, Entry{
			RequestID:  string(rune('a' + i)),
			Name:       name,
			Status:     200,
			Response:   "{}",
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := repo.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].RequestID != "c" || got[1].RequestID != "b" {
		t.Errorf("Recent() = %+v", got)
	}
	if !got[0].ReceivedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("ReceivedAt = %v", got[0].ReceivedAt)
	}
}

var _ hardware.Resetter = (*countingResetter)(nil)
