package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/cadence/internal/models"
)

// ChangeSource lists local events changed after a watermark.
type ChangeSource interface {
	ListChangedSince(ctx context.Context, since *time.Time) ([]models.CalendarEvent, error)
}

// BuildChangeSet returns the local changes the peer has not confirmed yet,
// oldest change first. Events without a sync id are not eligible; a version
// already in the acknowledgement cache is never sent again, even when the
// cursor did not advance after it was acknowledged.
func BuildChangeSet(ctx context.Context, src ChangeSource, cur *Cursor) ([]EventPayload, error) {
	events, err := src.ListChangedSince(ctx, cur.changedSince())
	if err != nil {
		return nil, fmt.Errorf("list local changes: %w", err)
	}

	out := make([]EventPayload, 0, len(events))
	var skipped int
	for i := range events {
		ev := &events[i]
		if ev.SyncID == "" {
			continue
		}
		if cur.IsAcknowledged(ev.SyncID, ev.UpdatedAt) {
			skipped++
			continue
		}
		out = append(out, FromEvent(ev))
	}
	if skipped > 0 {
		slog.Debug("sync: skipped acknowledged versions", "count", skipped)
	}
	return out, nil
}

// chunk splits payloads into batches of at most size. An empty change set
// still yields one empty batch: a round trip always asks for remote changes.
func chunk(payloads []EventPayload, size int) [][]EventPayload {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if len(payloads) == 0 {
		return [][]EventPayload{nil}
	}
	var out [][]EventPayload
	for len(payloads) > size {
		out = append(out, payloads[:size])
		payloads = payloads[size:]
	}
	return append(out, payloads)
}
