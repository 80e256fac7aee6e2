package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// maxHistoryRows bounds the sync_history table.
const maxHistoryRows = 2000

// SyncHistoryEntry represents a row from the sync_history table.
type SyncHistoryEntry struct {
	ID        int64
	Channel   string
	Direction string // "push" or "pull"
	Action    string // "sent", "insert", "update", "skip"
	SyncID    string
	Version   time.Time
	Timestamp time.Time
}

// RecordSyncHistory appends entries and prunes the table to its newest rows.
func (db *DB) RecordSyncHistory(ctx context.Context, entries []SyncHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.submit(ctx, true, func(tx *sql.Tx) (Change, error) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sync_history (channel, direction, action, sync_id, version, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return Change{}, err
		}
		defer stmt.Close()

		now := db.now()
		for _, e := range entries {
			ts := e.Timestamp
			if ts.IsZero() {
				ts = now
			}
			if _, err := stmt.ExecContext(ctx, e.Channel, e.Direction, e.Action, e.SyncID, formatTime(e.Version), formatTime(ts)); err != nil {
				return Change{}, fmt.Errorf("record sync history: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM sync_history WHERE id NOT IN (
				SELECT id FROM sync_history ORDER BY id DESC LIMIT ?
			)`, maxHistoryRows)
		return Change{}, err
	})
}

// GetSyncHistoryTail returns the last N entries in chronological order (oldest first).
func (db *DB) GetSyncHistoryTail(ctx context.Context, limit int) ([]SyncHistoryEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, channel, direction, action, sync_id, version, timestamp
		FROM sync_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SyncHistoryEntry
	for rows.Next() {
		var e SyncHistoryEntry
		var version, ts string
		if err := rows.Scan(&e.ID, &e.Channel, &e.Direction, &e.Action, &e.SyncID, &version, &ts); err != nil {
			return nil, err
		}
		if e.Version, err = parseTime(version); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
