// Package securestore emulates the secure element's data zone: small
// opaque values addressed by (zone, slot).
//
// The provisioning controller reads the ID scope from here. SQLiteStore
// keeps slots in the node database; Static serves values fixed at startup.
package securestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSlotEmpty is returned when a slot holds no data.
var ErrSlotEmpty = errors.New("securestore: slot empty")

// Store reads slots.
type Store interface {
	Read(ctx context.Context, zone, slot int) ([]byte, error)
}

// Key addresses one slot.
type Key struct {
	Zone int
	Slot int
}

// =============================================================================
// SQLite
// =============================================================================

// SQLiteStore keeps slots in the secure_slots table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over a migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Read returns the slot's bytes or ErrSlotEmpty.
func (s *SQLiteStore) Read(ctx context.Context, zone, slot int) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM secure_slots WHERE zone = ? AND slot = ?", zone, slot,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: zone %d slot %d", ErrSlotEmpty, zone, slot)
	}
	if err != nil {
		return nil, fmt.Errorf("reading zone %d slot %d: %w", zone, slot, err)
	}
	return []byte(data), nil
}

// Write stores data in the slot, replacing what was there.
func (s *SQLiteStore) Write(ctx context.Context, zone, slot int, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secure_slots (zone, slot, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(zone, slot) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		zone, slot, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing zone %d slot %d: %w", zone, slot, err)
	}
	return nil
}

// =============================================================================
// Static
// =============================================================================

// Static serves a fixed set of slots.
type Static struct {
	mu    sync.RWMutex
	slots map[Key][]byte
}

// NewStatic creates a store holding slots.
func NewStatic(slots map[Key][]byte) *Static {
	copied := make(map[Key][]byte, len(slots))
	for k, v := range slots {
		copied[k] = append([]byte(nil), v...)
	}
	return &Static{slots: copied}
}

// Read returns a copy of the slot's bytes or ErrSlotEmpty.
func (s *Static) Read(_ context.Context, zone, slot int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.slots[Key{Zone: zone, Slot: slot}]
	if !ok || len(v) == 0 {
		return nil, fmt.Errorf("%w: zone %d slot %d", ErrSlotEmpty, zone, slot)
	}
	return append([]byte(nil), v...), nil
}
