package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/marcus/cadence/internal/models"
)

// ReplaceResult counts what a replace-by-provider pass did.
type ReplaceResult struct {
	Inserted  int
	Updated   int
	Unchanged int
	Removed   int
}

// ReplaceProviderEvents reconciles every event imported for provider and
// accountID against a fresh fetch, in one transaction. Previously imported
// events absent from fetched end up removed; fetched events are upserted by
// their provider-native id. Rows whose content did not change keep their
// version stamp, so an unchanged pull produces nothing for the sync channel.
// Fetched events without an external id are skipped.
func (db *DB) ReplaceProviderEvents(ctx context.Context, provider models.Provider, accountID string, fetched []models.CalendarEvent) (ReplaceResult, error) {
	var res ReplaceResult
	err := db.submit(ctx, false, func(tx *sql.Tx) (Change, error) {
		res = ReplaceResult{}
		rows, err := tx.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE provider = ? AND account_id = ?`,
			string(provider), accountID)
		if err != nil {
			return Change{}, fmt.Errorf("load provider events: %w", err)
		}
		existing, err := scanEvents(rows)
		if err != nil {
			return Change{}, err
		}

		byExternal := make(map[string]*models.CalendarEvent, len(existing))
		for i := range existing {
			if id := existing[i].ExternalID(); id != "" {
				byExternal[id] = &existing[i]
			}
		}

		var touched []string
		seen := make(map[string]bool, len(fetched))
		for i := range fetched {
			ev := fetched[i]
			ev.Provider = provider
			ev.AccountID = accountID
			extID := ev.ExternalID()
			if extID == "" {
				slog.Debug("db: skipping provider event without external id", "provider", provider)
				continue
			}
			if seen[extID] {
				continue
			}
			seen[extID] = true
			ev.Normalize()

			prev, ok := byExternal[extID]
			if !ok {
				now := db.now()
				ev.ID = 0
				ev.SyncID = NewSyncID()
				ev.CreatedAt = now
				ev.UpdatedAt = now
				if err := insertEvent(ctx, tx, &ev); err != nil {
					return Change{}, err
				}
				res.Inserted++
				touched = append(touched, ev.SyncID)
				continue
			}

			if prev.SameContent(&ev) {
				res.Unchanged++
				continue
			}
			ev.ID = prev.ID
			ev.SyncID = prev.SyncID
			ev.CreatedAt = prev.CreatedAt
			ev.UpdatedAt = db.nextVersion(prev.UpdatedAt)
			if err := updateEventRow(ctx, tx, &ev); err != nil {
				return Change{}, err
			}
			res.Updated++
			touched = append(touched, ev.SyncID)
		}

		for i := range existing {
			prev := &existing[i]
			if seen[prev.ExternalID()] || prev.Status == models.StatusRemoved {
				continue
			}
			prev.Status = models.StatusRemoved
			prev.UpdatedAt = db.nextVersion(prev.UpdatedAt)
			if err := updateEventRow(ctx, tx, prev); err != nil {
				return Change{}, err
			}
			res.Removed++
			touched = append(touched, prev.SyncID)
		}

		if len(touched) == 0 {
			return Change{}, nil
		}
		return Change{Kind: ChangeReplace, SyncIDs: touched}, nil
	})
	return res, err
}
