package twin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/sensornode/internal/led"
)

// Snapshot is the persisted part of the twin bookkeeping.
type Snapshot struct {
	// Identity is the hub assignment the state was saved under.
	Identity string

	Version           int64
	HasVersion        bool
	TelemetryInterval uint32
	HasInterval       bool
	Targets           map[led.Color]Target
}

// Repository persists a Snapshot across restarts.
type Repository interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Keys in the twin_state table.
const (
	keyIdentity      = "identity"
	keyVersion       = "version"
	keyInterval      = "telemetry_interval"
	keyTargetPrefix  = "target."
	twinStateTimeFmt = time.RFC3339
)

// SQLiteRepository stores the snapshot as key/value rows in twin_state.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Load reads the snapshot. An empty table yields a zero Snapshot.
func (r *SQLiteRepository) Load(ctx context.Context) (Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value FROM twin_state")
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying twin state: %w", err)
	}
	defer rows.Close()

	snap := Snapshot{Targets: make(map[led.Color]Target)}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Snapshot{}, fmt.Errorf("scanning twin state: %w", err)
		}
		if err := snap.set(key, value); err != nil {
			return Snapshot{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterating twin state: %w", err)
	}
	return snap, nil
}

func (snap *Snapshot) set(key, value string) error {
	switch {
	case key == keyIdentity:
		snap.Identity = value
	case key == keyVersion:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("twin state %s: %w", key, err)
		}
		snap.Version, snap.HasVersion = v, true
	case key == keyInterval:
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("twin state %s: %w", key, err)
		}
		snap.TelemetryInterval, snap.HasInterval = uint32(v), true
	case strings.HasPrefix(key, keyTargetPrefix):
		c, ok := led.ParseColor(strings.TrimPrefix(key, keyTargetPrefix))
		if !ok {
			return nil
		}
		v, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("twin state %s: %w", key, err)
		}
		snap.Targets[c] = Target(v)
	}
	return nil
}

// Save replaces the stored snapshot in one transaction.
func (r *SQLiteRepository) Save(ctx context.Context, snap Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	// Rows of an earlier snapshot must not outlive it.
	if _, err := tx.ExecContext(ctx, "DELETE FROM twin_state"); err != nil {
		return fmt.Errorf("clearing twin state: %w", err)
	}

	now := time.Now().UTC().Format(twinStateTimeFmt)
	upsert := func(key, value string) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO twin_state (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now)
		return err
	}

	if snap.Identity != "" {
		if err := upsert(keyIdentity, snap.Identity); err != nil {
			return fmt.Errorf("saving identity: %w", err)
		}
	}
	if snap.HasVersion {
		if err := upsert(keyVersion, strconv.FormatInt(snap.Version, 10)); err != nil {
			return fmt.Errorf("saving version: %w", err)
		}
	}
	if snap.HasInterval {
		if err := upsert(keyInterval, strconv.FormatUint(uint64(snap.TelemetryInterval), 10)); err != nil {
			return fmt.Errorf("saving telemetry interval: %w", err)
		}
	}
	for c, t := range snap.Targets {
		if err := upsert(keyTargetPrefix+c.String(), strconv.Itoa(int(t))); err != nil {
			return fmt.Errorf("saving %s target: %w", c, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// Synchronizer persistence
// =============================================================================

func (s *Synchronizer) snapshotLocked() Snapshot {
	targets := make(map[led.Color]Target, len(s.targets))
	for c, t := range s.targets {
		targets[c] = t
	}
	return Snapshot{
		Identity:          s.identity,
		Version:           s.version,
		HasVersion:        s.hasVersion,
		TelemetryInterval: s.interval,
		HasInterval:       s.hasInterval,
		Targets:           targets,
	}
}

// persistLocked saves the snapshot. Failures are logged; the in-memory
// state remains authoritative.
func (s *Synchronizer) persistLocked() {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.repo.Save(ctx, s.snapshotLocked()); err != nil {
		s.getLogger().Error("persisting twin state failed", "error", err)
	}
}

// Restore loads the persisted snapshot and re-applies stored LED targets.
// The restored version keeps replayed patches from regressing the node
// after a restart. A snapshot saved under a different identity is
// discarded and the node starts from defaults.
func (s *Synchronizer) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	snap, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("restoring twin state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Identity != s.identity {
		if snap.HasVersion || snap.HasInterval || len(snap.Targets) > 0 {
			s.getLogger().Warn("discarding twin state saved for another assignment",
				"saved", snap.Identity, "current", s.identity)
			s.persistLocked()
		}
		return nil
	}

	if snap.HasVersion {
		s.version, s.hasVersion = snap.Version, true
		twinVersion.Set(float64(snap.Version))
	}
	if snap.HasInterval && snap.TelemetryInterval > 0 {
		s.interval, s.hasInterval = snap.TelemetryInterval, true
	}

	var errs []error
	for c, t := range snap.Targets {
		if !s.writable[c] {
			continue
		}
		state, ok := t.State()
		if !ok {
			continue
		}
		if err := s.bank.Set(c, state); err != nil {
			errs = append(errs, err)
			continue
		}
		s.targets[c] = t
	}
	return errors.Join(errs...)
}
