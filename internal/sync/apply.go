package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/marcus/cadence/internal/db"
)

// RemoteApplier runs a batch of remote writes with local change
// notifications suppressed.
type RemoteApplier interface {
	ApplyRemote(ctx context.Context, fn func(tx *db.Tx) error) error
}

// ApplyResult counts what ApplyRemoteChanges did with each incoming record.
type ApplyResult struct {
	Inserted int
	Updated  int
	Skipped  int // local copy already at this version
	Stale    int // local copy is newer; it goes out on the next round trip
	Dropped  int // unrepresentable records
	Applied  []EventPayload
}

// ApplyRemoteChanges merges incoming records into the local store in one
// suppressed batch. A record whose sync id is unknown is inserted; one whose
// version equals the local copy's is skipped; one older than the local copy
// loses (newest wins); otherwise the local row is overwritten in place,
// keeping its row id. Every version the store ends up holding is
// acknowledged on cur so it is never echoed back to the peer.
func ApplyRemoteChanges(ctx context.Context, store RemoteApplier, changes []EventPayload, cur *Cursor) (ApplyResult, error) {
	var res ApplyResult
	if len(changes) == 0 {
		return res, nil
	}

	var acks []ackEntry
	err := store.ApplyRemote(ctx, func(tx *db.Tx) error {
		res, acks = ApplyResult{}, nil
		for i := range changes {
			p := changes[i]
			incoming, err := p.ToEvent()
			if err != nil {
				if !errors.Is(err, ErrInvalidPayload) {
					return err
				}
				slog.Debug("sync: dropping remote record", "sync_id", p.SyncID, "err", err)
				res.Dropped++
				continue
			}

			local, err := tx.FindBySyncID(incoming.SyncID)
			if err != nil {
				return err
			}
			switch {
			case local == nil:
				if err := tx.Insert(&incoming); err != nil {
					return err
				}
				res.Inserted++
				res.Applied = append(res.Applied, p)
			case local.UpdatedAt.Equal(incoming.UpdatedAt):
				res.Skipped++
			case local.UpdatedAt.After(incoming.UpdatedAt):
				res.Stale++
				continue
			default:
				incoming.ID = local.ID
				if err := tx.Update(&incoming); err != nil {
					return err
				}
				res.Updated++
				res.Applied = append(res.Applied, p)
			}
			acks = append(acks, ackEntry{SyncID: incoming.SyncID, Version: incoming.UpdatedAt})
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	for _, a := range acks {
		cur.Acknowledge(a.SyncID, a.Version)
	}
	return res, nil
}
