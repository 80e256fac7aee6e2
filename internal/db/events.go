package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/cadence/internal/models"
)

const eventColumns = `id, sync_id, title, notes, date, start_at, end_at, duration_minutes,
	difficulty, type, color, status, provider, account_id, google_id, outlook_id, ics_uid,
	created_at, updated_at`

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*models.CalendarEvent, error) {
	var (
		ev                                   models.CalendarEvent
		status, provider                     string
		startAt, endAt, createdAt, updatedAt string
	)
	err := s.Scan(&ev.ID, &ev.SyncID, &ev.Title, &ev.Notes, &ev.Date, &startAt, &endAt,
		&ev.DurationMinutes, &ev.Difficulty, &ev.Type, &ev.Color, &status, &provider,
		&ev.AccountID, &ev.GoogleID, &ev.OutlookID, &ev.ICSUID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	ev.Status = models.Status(status)
	ev.Provider = models.Provider(provider)
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&ev.Start, startAt}, {&ev.End, endAt}, {&ev.CreatedAt, createdAt}, {&ev.UpdatedAt, updatedAt}} {
		t, err := parseTime(f.src)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.ID, err)
		}
		*f.dst = t
	}
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]models.CalendarEvent, error) {
	defer rows.Close()
	var out []models.CalendarEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func insertEvent(ctx context.Context, q queryer, ev *models.CalendarEvent) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO events (sync_id, title, notes, date, start_at, end_at, duration_minutes,
			difficulty, type, color, status, provider, account_id, google_id, outlook_id, ics_uid,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SyncID, ev.Title, ev.Notes, ev.Date, formatTime(ev.Start), formatTime(ev.End), ev.DurationMinutes,
		ev.Difficulty, ev.Type, ev.Color, string(ev.Status), string(ev.Provider), ev.AccountID,
		ev.GoogleID, ev.OutlookID, ev.ICSUID, formatTime(ev.CreatedAt), formatTime(ev.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = id
	return nil
}

func updateEventRow(ctx context.Context, q queryer, ev *models.CalendarEvent) error {
	res, err := q.ExecContext(ctx, `
		UPDATE events SET sync_id = ?, title = ?, notes = ?, date = ?, start_at = ?, end_at = ?,
			duration_minutes = ?, difficulty = ?, type = ?, color = ?, status = ?, provider = ?,
			account_id = ?, google_id = ?, outlook_id = ?, ics_uid = ?, created_at = ?, updated_at = ?
		WHERE id = ?`,
		ev.SyncID, ev.Title, ev.Notes, ev.Date, formatTime(ev.Start), formatTime(ev.End),
		ev.DurationMinutes, ev.Difficulty, ev.Type, ev.Color, string(ev.Status), string(ev.Provider),
		ev.AccountID, ev.GoogleID, ev.OutlookID, ev.ICSUID, formatTime(ev.CreatedAt), formatTime(ev.UpdatedAt),
		ev.ID)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %d: %w", ev.ID, ErrNotFound)
	}
	return nil
}

func getEvent(ctx context.Context, q queryer, id int64) (*models.CalendarEvent, error) {
	ev, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	return ev, err
}

func findBySyncID(ctx context.Context, q queryer, syncID string) (*models.CalendarEvent, error) {
	if syncID == "" {
		return nil, nil
	}
	ev, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE sync_id = ?`, syncID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

// nextVersion returns a fresh updatedAt that is never earlier than prev, so
// local writes keep each event's version stamp monotonic even if the wall
// clock steps back.
func (db *DB) nextVersion(prev time.Time) time.Time {
	now := db.now()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

// CreateEvent inserts a local event, assigning its sync id and timestamps.
func (db *DB) CreateEvent(ctx context.Context, ev *models.CalendarEvent) error {
	return db.submit(ctx, false, func(tx *sql.Tx) (Change, error) {
		if ev.SyncID == "" {
			ev.SyncID = NewSyncID()
		}
		now := db.now()
		ev.CreatedAt = now
		ev.UpdatedAt = now
		ev.Normalize()
		if err := insertEvent(ctx, tx, ev); err != nil {
			return Change{}, err
		}
		return Change{Kind: ChangeInsert, SyncIDs: []string{ev.SyncID}}, nil
	})
}

// UpdateEvent overwrites a local event's fields and bumps its version.
func (db *DB) UpdateEvent(ctx context.Context, ev *models.CalendarEvent) error {
	return db.submit(ctx, false, func(tx *sql.Tx) (Change, error) {
		prev, err := getEvent(ctx, tx, ev.ID)
		if err != nil {
			return Change{}, err
		}
		if ev.SyncID == "" {
			ev.SyncID = prev.SyncID
		}
		ev.CreatedAt = prev.CreatedAt
		ev.UpdatedAt = db.nextVersion(prev.UpdatedAt)
		ev.Normalize()
		if err := updateEventRow(ctx, tx, ev); err != nil {
			return Change{}, err
		}
		return Change{Kind: ChangeUpdate, SyncIDs: []string{ev.SyncID}}, nil
	})
}

// DeleteEvent soft-deletes an event by marking it removed, so the removal
// propagates to peers like any other change.
func (db *DB) DeleteEvent(ctx context.Context, id int64) error {
	return db.submit(ctx, false, func(tx *sql.Tx) (Change, error) {
		ev, err := getEvent(ctx, tx, id)
		if err != nil {
			return Change{}, err
		}
		if ev.Status == models.StatusRemoved {
			return Change{}, nil
		}
		ev.Status = models.StatusRemoved
		ev.UpdatedAt = db.nextVersion(ev.UpdatedAt)
		if err := updateEventRow(ctx, tx, ev); err != nil {
			return Change{}, err
		}
		return Change{Kind: ChangeDelete, SyncIDs: []string{ev.SyncID}}, nil
	})
}

// UpsertBySyncID stores ev exactly as given, keyed by its sync id: the
// existing row's numeric id is kept when one exists. Version stamps are not
// touched.
func (db *DB) UpsertBySyncID(ctx context.Context, ev *models.CalendarEvent) error {
	if ev.SyncID == "" {
		return fmt.Errorf("upsert: empty sync id")
	}
	return db.submit(ctx, false, func(tx *sql.Tx) (Change, error) {
		kind, err := upsertTx(ctx, tx, ev)
		if err != nil {
			return Change{}, err
		}
		return Change{Kind: kind, SyncIDs: []string{ev.SyncID}}, nil
	})
}

func upsertTx(ctx context.Context, tx *sql.Tx, ev *models.CalendarEvent) (ChangeKind, error) {
	existing, err := findBySyncID(ctx, tx, ev.SyncID)
	if err != nil {
		return "", err
	}
	ev.Normalize()
	if existing == nil {
		return ChangeInsert, insertEvent(ctx, tx, ev)
	}
	ev.ID = existing.ID
	return ChangeUpdate, updateEventRow(ctx, tx, ev)
}

// GetEvent returns the event with the given row id.
func (db *DB) GetEvent(ctx context.Context, id int64) (*models.CalendarEvent, error) {
	return getEvent(ctx, db.conn, id)
}

// FindBySyncID returns the event with the given sync id, or nil when there
// is none.
func (db *DB) FindBySyncID(ctx context.Context, syncID string) (*models.CalendarEvent, error) {
	return findBySyncID(ctx, db.conn, syncID)
}

// ListChangedSince returns events whose updatedAt is strictly after since,
// oldest change first. A nil since returns every event.
func (db *DB) ListChangedSince(ctx context.Context, since *time.Time) ([]models.CalendarEvent, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE ? = '' OR updated_at > ?
		ORDER BY updated_at, id`, formatTimePtr(since), formatTimePtr(since))
	if err != nil {
		return nil, fmt.Errorf("list changed: %w", err)
	}
	return scanEvents(rows)
}

// EventFilter narrows ListEvents. Zero values do not filter.
type EventFilter struct {
	From           time.Time
	To             time.Time
	Provider       models.Provider
	AccountID      string
	IncludeRemoved bool
	Limit          int
}

// ListEvents returns events ordered by start time.
func (db *DB) ListEvents(ctx context.Context, f EventFilter) ([]models.CalendarEvent, error) {
	var (
		where []string
		args  []any
	)
	if !f.From.IsZero() {
		where = append(where, "start_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "start_at < ?")
		args = append(args, formatTime(f.To))
	}
	if f.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, string(f.Provider))
	}
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if !f.IncludeRemoved {
		where = append(where, "status != ?")
		args = append(args, string(models.StatusRemoved))
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_at, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return scanEvents(rows)
}

// Tx is the transaction handed to ApplyRemote callbacks.
type Tx struct {
	ctx context.Context
	tx  *sql.Tx
}

// FindBySyncID looks up an event inside the transaction; nil when missing.
func (t *Tx) FindBySyncID(syncID string) (*models.CalendarEvent, error) {
	return findBySyncID(t.ctx, t.tx, syncID)
}

// Insert adds ev as a new row, keeping its version stamps.
func (t *Tx) Insert(ev *models.CalendarEvent) error {
	ev.Normalize()
	return insertEvent(t.ctx, t.tx, ev)
}

// Update overwrites the row identified by ev.ID, keeping ev's version stamps.
func (t *Tx) Update(ev *models.CalendarEvent) error {
	ev.Normalize()
	return updateEventRow(t.ctx, t.tx, ev)
}

// ApplyRemote runs fn in one queued transaction with change notifications
// suppressed: data arriving from a peer must not look like a local edit.
func (db *DB) ApplyRemote(ctx context.Context, fn func(tx *Tx) error) error {
	return db.submit(ctx, true, func(tx *sql.Tx) (Change, error) {
		return Change{}, fn(&Tx{ctx: ctx, tx: tx})
	})
}
