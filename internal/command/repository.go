package command

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Entry is one command exchange.
type Entry struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	Name       string    `json:"name"`
	Status     int       `json:"status"`
	Response   string    `json:"response"`
	ReceivedAt time.Time `json:"received_at"`
}

// Repository stores the command log.
type Repository interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// SQLiteRepository keeps the log in the command_log table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record appends e.
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO command_log (request_id, name, status, response, received_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.RequestID, e.Name, e.Status, e.Response, e.ReceivedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording command: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, name, status, response, received_at
		FROM command_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var received string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Name, &e.Status, &e.Response, &received); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		if e.ReceivedAt, err = time.Parse(time.RFC3339Nano, received); err != nil {
			return nil, fmt.Errorf("parsing received_at %q: %w", received, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return entries, nil
}
