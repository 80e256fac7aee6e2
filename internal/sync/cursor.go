package sync

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// DefaultAckCapacity bounds the acknowledgement cache.
const DefaultAckCapacity = 5000

const cursorBlobVersion = 1

// Cursor is the durable sync watermark of one channel.
//
// LastSyncAt is the peer's clock reading at the end of the last complete
// round trip (nil: never synced). ScanFrom is the local clock reading taken
// just before that round trip's change set was built; events edited while
// a round trip is in flight are found again from there. LastNetworkAt is the
// local clock reading when the last round trip finished; it throttles empty
// pulls across processes. The acknowledgement
// cache maps sync ids to the version last confirmed with the peer and
// forgets the oldest entries once it is full.
type Cursor struct {
	LastSyncAt    *time.Time
	ScanFrom      *time.Time
	LastNetworkAt time.Time

	capacity int
	acked    map[string]*list.Element
	order    *list.List // of ackEntry, oldest first
}

type ackEntry struct {
	SyncID  string
	Version time.Time
}

// NewCursor returns an empty cursor. capacity <= 0 means DefaultAckCapacity.
func NewCursor(capacity int) *Cursor {
	if capacity <= 0 {
		capacity = DefaultAckCapacity
	}
	return &Cursor{
		capacity: capacity,
		acked:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Acknowledge records that the peer holds version of syncID.
func (c *Cursor) Acknowledge(syncID string, version time.Time) {
	if el, ok := c.acked[syncID]; ok {
		el.Value = ackEntry{SyncID: syncID, Version: version}
		c.order.MoveToBack(el)
		return
	}
	c.acked[syncID] = c.order.PushBack(ackEntry{SyncID: syncID, Version: version})
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.acked, oldest.Value.(ackEntry).SyncID)
	}
}

// IsAcknowledged reports whether exactly this version of syncID was
// confirmed with the peer.
func (c *Cursor) IsAcknowledged(syncID string, version time.Time) bool {
	el, ok := c.acked[syncID]
	return ok && el.Value.(ackEntry).Version.Equal(version)
}

// AckCount returns the number of cached acknowledgements.
func (c *Cursor) AckCount() int {
	return c.order.Len()
}

// changedSince is the local watermark for the change set: the earlier of
// LastSyncAt and ScanFrom. Anything older was already sent or received.
func (c *Cursor) changedSince() *time.Time {
	switch {
	case c.LastSyncAt == nil:
		return nil
	case c.ScanFrom != nil && c.ScanFrom.Before(*c.LastSyncAt):
		return c.ScanFrom
	default:
		return c.LastSyncAt
	}
}

func (c *Cursor) since() *string {
	if c.LastSyncAt == nil {
		return nil
	}
	s := formatWireTime(*c.LastSyncAt)
	return &s
}

type cursorBlob struct {
	Version       int         `json:"version"`
	LastSyncAt    string      `json:"lastSyncAt,omitempty"`
	ScanFrom      string      `json:"scanFrom,omitempty"`
	LastNetworkAt string      `json:"lastNetworkAt,omitempty"`
	Acked         [][2]string `json:"acked"`
}

// MarshalJSON encodes the cursor as its versioned blob, acknowledgements
// oldest first.
func (c *Cursor) MarshalJSON() ([]byte, error) {
	b := cursorBlob{Version: cursorBlobVersion, Acked: make([][2]string, 0, c.order.Len())}
	if c.LastSyncAt != nil {
		b.LastSyncAt = formatWireTime(*c.LastSyncAt)
	}
	if c.ScanFrom != nil {
		b.ScanFrom = formatWireTime(*c.ScanFrom)
	}
	if !c.LastNetworkAt.IsZero() {
		b.LastNetworkAt = formatWireTime(c.LastNetworkAt)
	}
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(ackEntry)
		b.Acked = append(b.Acked, [2]string{e.SyncID, formatWireTime(e.Version)})
	}
	return json.Marshal(b)
}

// DecodeCursor restores a cursor from its blob.
func DecodeCursor(data []byte, capacity int) (*Cursor, error) {
	var b cursorBlob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	if b.Version != cursorBlobVersion {
		return nil, fmt.Errorf("decode cursor: unsupported version %d", b.Version)
	}
	c := NewCursor(capacity)
	if b.LastSyncAt != "" {
		t, err := parseWireTime(b.LastSyncAt)
		if err != nil {
			return nil, fmt.Errorf("decode cursor: lastSyncAt: %w", err)
		}
		c.LastSyncAt = &t
	}
	if b.ScanFrom != "" {
		if t, err := parseWireTime(b.ScanFrom); err == nil {
			c.ScanFrom = &t
		}
	}
	if b.LastNetworkAt != "" {
		if t, err := parseWireTime(b.LastNetworkAt); err == nil {
			c.LastNetworkAt = t
		}
	}
	for _, a := range b.Acked {
		v, err := parseWireTime(a[1])
		if err != nil {
			continue
		}
		c.Acknowledge(a[0], v)
	}
	return c, nil
}

// CursorDB persists opaque cursor blobs.
type CursorDB interface {
	LoadCursor(ctx context.Context, channel string) ([]byte, error)
	SaveCursor(ctx context.Context, channel string, blob []byte) error
}

// CursorStore loads and saves the cursor of one channel.
type CursorStore struct {
	DB       CursorDB
	Channel  string
	Capacity int
}

// Load returns the stored cursor, or an empty one on first run. A corrupt
// blob is discarded: the next round trip then re-sends everything, which
// the peer absorbs because unchanged versions are no-ops.
func (s *CursorStore) Load(ctx context.Context) (*Cursor, error) {
	blob, err := s.DB.LoadCursor(ctx, s.Channel)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return NewCursor(s.Capacity), nil
	}
	c, err := DecodeCursor(blob, s.Capacity)
	if err != nil {
		slog.Warn("sync: discarding unreadable cursor", "channel", s.Channel, "err", err)
		return NewCursor(s.Capacity), nil
	}
	return c, nil
}

// Save writes c durably.
func (s *CursorStore) Save(ctx context.Context, c *Cursor) error {
	blob, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	if err := s.DB.SaveCursor(ctx, s.Channel, blob); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}
