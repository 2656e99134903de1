package twin

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/nerrad567/sensornode/internal/infrastructure/config"
	"github.com/nerrad567/sensornode/internal/infrastructure/database"
	"github.com/nerrad567/sensornode/internal/led"
	_ "github.com/nerrad567/sensornode/migrations"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "twin.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t).DB)
	ctx := context.Background()

	empty, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load() on empty table error = %v", err)
	}
	if empty.HasVersion || empty.HasInterval || len(empty.Targets) != 0 {
		t.Errorf("empty Load() = %+v", empty)
	}

	want := Snapshot{
		Identity:          "hub-1/node-1",
		Version:           42,
		HasVersion:        true,
		TelemetryInterval: 15,
		HasInterval:       true,
		Targets:           map[led.Color]Target{led.Yellow: TargetBlink},
	}
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	want.Version = 43
	want.Targets = map[led.Color]Target{led.Yellow: TargetBlink}
	if err := repo.Save(ctx, Snapshot{Targets: map[led.Color]Target{led.Blue: TargetHold}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Identity != "hub-1/node-1" {
		t.Errorf("Identity = %q", got.Identity)
	}
	if _, ok := got.Targets[led.Blue]; ok {
		t.Error("target from a replaced snapshot survived Save()")
	}
	if got.Version != 43 || !got.HasVersion || got.TelemetryInterval != 15 || !got.HasInterval {
		t.Errorf("Load() = %+v", got)
	}
	if got.Targets[led.Yellow] != TargetBlink {
		t.Errorf("yellow target = %v, want %v", got.Targets[led.Yellow], TargetBlink)
	}
}

func TestSynchronizerRestoreSurvivesRestart(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db.DB)

	first := newFixture(t, func(o *Options) { o.Repository = repo; o.Identity = "hub-1/node-1" })
	if _, err := first.sync.ApplyDesiredDocument(DocumentPatch,
		[]byte(`{"telemetryInterval":20,"led_y":1,"$version":8}`)); err != nil {
		t.Fatal(err)
	}

	second := newFixture(t, func(o *Options) { o.Repository = repo; o.Identity = "hub-1/node-1" })
	if err := second.sync.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if v, ok := second.sync.Version(); !ok || v != 8 {
		t.Errorf("restored Version() = %d, %v; want 8", v, ok)
	}
	if second.sync.TelemetryInterval().Seconds() != 20 {
		t.Errorf("restored interval = %v", second.sync.TelemetryInterval())
	}
	if second.bank.State(led.Yellow) != led.Hold {
		t.Errorf("restored yellow = %v, want Hold", second.bank.State(led.Yellow))
	}

	// A replayed older patch must not regress the restarted node.
	delta, err := second.sync.ApplyDesiredDocument(DocumentPatch, []byte(`{"led_y":2,"$version":7}`))
	if err != nil {
		t.Fatal(err)
	}
	if !delta.Stale || second.bank.State(led.Yellow) != led.Hold {
		t.Errorf("stale patch applied after restart: delta = %+v", delta)
	}
}

// After a restart the hub may answer get-twin with a lower version than the
// one persisted (twin recreated, version numbering restarted). The full
// document must win and the patches that follow it must apply.
func TestSynchronizerRestoreFullDocumentResetsVersion(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	withRepo := func(o *Options) { o.Repository = repo; o.Identity = "hub-1/node-1" }

	first := newFixture(t, withRepo)
	if _, err := first.sync.ApplyDesiredDocument(DocumentPatch, []byte(`{"led_y":1,"$version":40}`)); err != nil {
		t.Fatal(err)
	}

	second := newFixture(t, withRepo)
	if err := second.sync.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if v, _ := second.sync.Version(); v != 40 {
		t.Fatalf("restored Version() = %d, want 40", v)
	}

	delta, err := second.sync.ApplyDesiredDocument(DocumentFull,
		[]byte(`{"desired":{"led_y":3,"telemetryInterval":5,"$version":2}}`))
	if err != nil {
		t.Fatal(err)
	}
	if delta.Stale {
		t.Fatal("full document with a lower version was ignored")
	}
	if v, _ := second.sync.Version(); v != 2 {
		t.Errorf("Version() after full document = %d, want 2", v)
	}
	if got := second.bank.State(led.Yellow); got != led.BlinkFast {
		t.Errorf("yellow = %v, want BlinkFast", got)
	}
	if second.sync.TelemetryInterval().Seconds() != 5 {
		t.Errorf("interval = %v, want 5s", second.sync.TelemetryInterval())
	}

	for v := 3; v <= 5; v++ {
		doc := []byte(`{"led_y":2,"$version":` + strconv.Itoa(v) + `}`)
		delta, err := second.sync.ApplyDesiredDocument(DocumentPatch, doc)
		if err != nil {
			t.Fatal(err)
		}
		if delta.Stale {
			t.Errorf("patch v%d ignored after full document", v)
		}
	}
	if v, _ := second.sync.Version(); v != 5 {
		t.Errorf("Version() after patches = %d, want 5", v)
	}
	if got := second.bank.State(led.Yellow); got != led.Off {
		t.Errorf("yellow = %v, want Off", got)
	}

	stored, err := repo.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stored.Version != 5 {
		t.Errorf("persisted version = %d, want 5", stored.Version)
	}
}

func TestSynchronizerRestoreDropsOtherAssignment(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db.DB)

	first := newFixture(t, func(o *Options) { o.Repository = repo; o.Identity = "hub-1/node-1" })
	if _, err := first.sync.ApplyDesiredDocument(DocumentPatch,
		[]byte(`{"telemetryInterval":20,"led_y":1,"$version":40}`)); err != nil {
		t.Fatal(err)
	}

	second := newFixture(t, func(o *Options) { o.Repository = repo; o.Identity = "hub-2/node-1" })
	if err := second.sync.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, ok := second.sync.Version(); ok {
		t.Error("version restored from another hub assignment")
	}
	if second.bank.State(led.Yellow) != led.Off {
		t.Errorf("yellow = %v, want Off", second.bank.State(led.Yellow))
	}
	if second.sync.TelemetryInterval().Seconds() != 60 {
		t.Errorf("interval = %v, want default 60s", second.sync.TelemetryInterval())
	}

	delta, err := second.sync.ApplyDesiredDocument(DocumentPatch, []byte(`{"led_y":1,"$version":3}`))
	if err != nil {
		t.Fatal(err)
	}
	if delta.Stale {
		t.Error("patch ignored after switching hub")
	}

	stored, err := repo.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stored.Identity != "hub-2/node-1" || stored.Version != 3 {
		t.Errorf("persisted = %+v, want hub-2/node-1 at version 3", stored)
	}
}
