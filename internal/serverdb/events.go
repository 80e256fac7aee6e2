package serverdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Record is one stored event: the client's payload verbatim, its version
// (updatedAt) and the server's receive stamp.
type Record struct {
	SyncID     string
	Version    time.Time
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// ExchangeResult is the outcome of one Exchange call.
type ExchangeResult struct {
	Accepted   int
	Ignored    int
	Changed    []Record
	ServerTime time.Time
}

// Exchange stores incoming records newest-wins and returns every record
// received after since (all of them when since is nil), oldest first.
// A record whose version is not newer than the stored copy is ignored.
// ServerTime is strictly after every returned ReceivedAt and strictly
// before any stamp a later Exchange assigns.
func (db *ServerDB) Exchange(ctx context.Context, incoming []Record, since *time.Time) (*ExchangeResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res := &ExchangeResult{}
	for _, r := range incoming {
		var stored string
		err := tx.QueryRowContext(ctx, `SELECT version FROM events WHERE sync_id = ?`, r.SyncID).Scan(&stored)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return nil, fmt.Errorf("lookup %s: %w", r.SyncID, err)
		case stored >= formatTime(r.Version):
			res.Ignored++
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (sync_id, version, payload, received_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(sync_id) DO UPDATE SET
				version = excluded.version,
				payload = excluded.payload,
				received_at = excluded.received_at`,
			r.SyncID, formatTime(r.Version), string(r.Payload), formatTime(db.stamp()))
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", r.SyncID, err)
		}
		res.Accepted++
	}

	sinceArg := ""
	if since != nil {
		sinceArg = formatTime(*since)
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT sync_id, version, payload, received_at FROM events
		WHERE ? = '' OR received_at > ?
		ORDER BY received_at`, sinceArg, sinceArg)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	res.Changed, err = scanRecords(rows)
	if err != nil {
		return nil, err
	}

	res.ServerTime = db.stamp()
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO schema_info (key, value) VALUES ('last_stamp', ?)`,
		formatTime(res.ServerTime)); err != nil {
		return nil, fmt.Errorf("save stamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// CountEvents returns the number of stored events.
func (db *ServerDB) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			r                 Record
			version, received string
			payload           string
		)
		if err := rows.Scan(&r.SyncID, &version, &payload, &received); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var err error
		if r.Version, err = time.Parse(timeLayout, version); err != nil {
			return nil, fmt.Errorf("event %s version: %w", r.SyncID, err)
		}
		if r.ReceivedAt, err = time.Parse(timeLayout, received); err != nil {
			return nil, fmt.Errorf("event %s received_at: %w", r.SyncID, err)
		}
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}
