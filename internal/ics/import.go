package ics

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/cadence/internal/db"
	"github.com/marcus/cadence/internal/models"
)

// Importer is the store operation a feed import needs.
type Importer interface {
	ReplaceProviderEvents(ctx context.Context, provider models.Provider, accountID string, fetched []models.CalendarEvent) (db.ReplaceResult, error)
}

// Import makes events the complete set of events stored for feedID. Events
// from an earlier import that are missing now end up removed. Events without
// a start instant are dropped: replicas reject them on the wire.
func Import(ctx context.Context, store Importer, feedID string, events []models.CalendarEvent) (db.ReplaceResult, error) {
	if feedID == "" {
		return db.ReplaceResult{}, fmt.Errorf("import: empty feed id")
	}
	events = withStart(feedID, events)
	res, err := store.ReplaceProviderEvents(ctx, models.ProviderICS, feedID, events)
	if err != nil {
		return db.ReplaceResult{}, fmt.Errorf("import feed %s: %w", feedID, err)
	}
	return res, nil
}

func withStart(feedID string, events []models.CalendarEvent) []models.CalendarEvent {
	kept := events[:0:0]
	for _, ev := range events {
		if ev.Start.IsZero() {
			slog.Warn("ics: dropping event without start", "feed", feedID, "uid", ev.ICSUID, "title", ev.Title)
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

// SyncOptions controls one fetch-parse-expand-import pass.
type SyncOptions struct {
	Location *time.Location
	Cap      int
}

// SyncFeed fetches feed, expands it and imports the result.
func SyncFeed(ctx context.Context, f *Fetcher, store Importer, feed Feed, opts SyncOptions) (db.ReplaceResult, error) {
	fetched, err := f.Fetch(ctx, feed)
	if err != nil {
		return db.ReplaceResult{}, err
	}
	entries, err := ParseFeed(bytes.NewReader(fetched.Body), ParseOptions{Location: opts.Location})
	if err != nil {
		return db.ReplaceResult{}, fmt.Errorf("parse feed %s: %w", feed.ID, err)
	}
	events := Expand(entries, ExpandOptions{Cap: opts.Cap, Location: opts.Location, FeedID: feed.ID})
	return Import(ctx, store, feed.ID, events)
}
