package db

import (
	"context"
	"database/sql"
	"fmt"
)

// LoadCursor returns the cursor blob stored for channel, or nil when the
// channel has never been synced.
func (db *DB) LoadCursor(ctx context.Context, channel string) ([]byte, error) {
	var blob string
	err := db.conn.QueryRowContext(ctx, `SELECT blob FROM sync_cursors WHERE channel = ?`, channel).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	return []byte(blob), nil
}

// SaveCursor durably replaces the cursor blob for channel. Cursor writes go
// through the write queue but never notify subscribers.
func (db *DB) SaveCursor(ctx context.Context, channel string, blob []byte) error {
	return db.submit(ctx, true, func(tx *sql.Tx) (Change, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_cursors (channel, blob, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(channel) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at
		`, channel, string(blob), formatTime(db.now()))
		if err != nil {
			return Change{}, fmt.Errorf("save cursor: %w", err)
		}
		return Change{}, nil
	})
}

// ResetCursor forgets everything known about channel; the next round trip
// is a full-send bootstrap.
func (db *DB) ResetCursor(ctx context.Context, channel string) error {
	return db.submit(ctx, true, func(tx *sql.Tx) (Change, error) {
		_, err := tx.ExecContext(ctx, `DELETE FROM sync_cursors WHERE channel = ?`, channel)
		return Change{}, err
	})
}
