package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	stdsync "sync"
	"time"

	"github.com/marcus/cadence/internal/db"
)

const (
	// DefaultChannel names the cursor used when Config.Channel is empty.
	DefaultChannel = "default"
	// DefaultBatchSize bounds the events sent per request.
	DefaultBatchSize = 50
	// DefaultMinPullInterval throttles round trips that have nothing to send.
	DefaultMinPullInterval = 60 * time.Second
	// DefaultFollowUpDelay separates a coalesced follow-up from the round
	// trip that absorbed it.
	DefaultFollowUpDelay = 500 * time.Millisecond
)

// ErrCoalesced is returned by Sync when a round trip is already in flight.
// The request is folded into a single follow-up run after the current one.
var ErrCoalesced = errors.New("sync in progress, request coalesced")

// State is the engine's position in its round-trip state machine.
type State string

const (
	StateIdle           State = "idle"
	StateSyncing        State = "syncing"
	StateSyncingPending State = "syncing-with-pending"
)

// Store is the part of the local store the engine needs.
type Store interface {
	ChangeSource
	RemoteApplier
	CursorDB
	RecordSyncHistory(ctx context.Context, entries []db.SyncHistoryEntry) error
}

// Config tunes an Engine. Zero values take the package defaults.
type Config struct {
	Channel         string
	BatchSize       int
	MinPullInterval time.Duration
	FollowUpDelay   time.Duration
	AckCapacity     int
	// Now is the wall clock; tests replace it.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MinPullInterval < 0 {
		c.MinPullInterval = 0
	}
	if c.FollowUpDelay <= 0 {
		c.FollowUpDelay = DefaultFollowUpDelay
	}
	if c.AckCapacity <= 0 {
		c.AckCapacity = DefaultAckCapacity
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Result summarises one round trip.
type Result struct {
	Throttled bool
	Sent      int
	Chunks    int
	Received  int
	Apply     ApplyResult
	SyncedAt  time.Time
}

// Engine owns the sync state of one channel: the cursor with its
// acknowledgement cache, the in-flight flag and the pending follow-up. At
// most one round trip runs at a time; overlapping triggers coalesce into one
// follow-up whose force bit is the OR of every coalesced request.
type Engine struct {
	store     Store
	transport Transport
	cfg       Config
	cursors   *CursorStore

	mu           stdsync.Mutex
	idle         *stdsync.Cond // signalled on every return to StateIdle
	state        State
	pendingForce bool
	cursor       *Cursor
	status       CursorStatus

	baseCtx context.Context
	stop    context.CancelFunc
	wg      stdsync.WaitGroup
}

// CursorStatus is a point-in-time copy of the cursor fields worth showing.
type CursorStatus struct {
	LastSyncAt    *time.Time
	LastNetworkAt time.Time
	Acked         int
}

// NewEngine returns an idle engine. The cursor is loaded on first use.
func NewEngine(store Store, transport Transport, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:     store,
		transport: transport,
		cfg:       cfg,
		cursors:   &CursorStore{DB: store, Channel: cfg.Channel, Capacity: cfg.AckCapacity},
		state:     StateIdle,
		baseCtx:   ctx,
		stop:      cancel,
	}
	e.idle = stdsync.NewCond(&e.mu)
	return e
}

// State reports where the state machine is.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Sync runs a round trip now and returns its result. When one is already in
// flight it returns ErrCoalesced immediately and a follow-up runs after the
// current round trip finishes; force on any coalesced call makes that
// follow-up forced. The round trip already in flight is never upgraded.
func (e *Engine) Sync(ctx context.Context, force bool) (*Result, error) {
	if !e.begin(force) {
		return nil, ErrCoalesced
	}
	res, err := e.roundTrip(ctx, force)
	e.finish()
	return res, err
}

// Request triggers a round trip without waiting for it. Errors are logged.
func (e *Engine) Request(force bool) {
	if !e.begin(force) {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.logResult(e.roundTrip(e.baseCtx, force))
		e.finish()
	}()
}

// Wait blocks until no round trip or follow-up is running or scheduled.
func (e *Engine) Wait() {
	e.mu.Lock()
	for e.state != StateIdle {
		e.idle.Wait()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Close cancels scheduled follow-ups and waits for background work.
func (e *Engine) Close() {
	e.stop()
	e.wg.Wait()
}

// begin moves idle to syncing and reports true, or records a pending
// request and reports false.
func (e *Engine) begin(force bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		e.state = StateSyncingPending
		e.pendingForce = e.pendingForce || force
		return false
	}
	e.state = StateSyncing
	return true
}

// finish ends a round trip: back to idle, or, with a request pending, on to
// a delayed follow-up that consumes the pending flag and its force bit.
func (e *Engine) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateSyncingPending {
		e.state = StateIdle
		e.idle.Broadcast()
		return
	}
	force := e.pendingForce
	e.pendingForce = false
	e.state = StateSyncing

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		t := time.NewTimer(e.cfg.FollowUpDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-e.baseCtx.Done():
			e.mu.Lock()
			e.state = StateIdle
			e.idle.Broadcast()
			e.mu.Unlock()
			return
		}
		slog.Debug("sync: running coalesced follow-up", "channel", e.cfg.Channel, "force", force)
		e.logResult(e.roundTrip(e.baseCtx, force))
		e.finish()
	}()
}

func (e *Engine) logResult(res *Result, err error) {
	if err != nil {
		slog.Warn("sync: round trip failed", "channel", e.cfg.Channel, "err", err)
		return
	}
	if res.Throttled {
		return
	}
	slog.Info("sync: round trip complete", "channel", e.cfg.Channel,
		"sent", res.Sent, "received", res.Received,
		"inserted", res.Apply.Inserted, "updated", res.Apply.Updated)
}

// loadCursor returns the cached cursor, reading it from the store once.
func (e *Engine) loadCursor(ctx context.Context) (*Cursor, error) {
	e.mu.Lock()
	cur := e.cursor
	e.mu.Unlock()
	if cur != nil {
		return cur, nil
	}
	loaded, err := e.cursors.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor == nil {
		e.cursor = loaded
		e.status = statusOf(loaded)
	}
	return e.cursor, nil
}

// saveCursor persists cur and publishes its status for Cursor.
func (e *Engine) saveCursor(ctx context.Context, cur *Cursor) error {
	if err := e.cursors.Save(ctx, cur); err != nil {
		return err
	}
	e.mu.Lock()
	e.status = statusOf(cur)
	e.mu.Unlock()
	return nil
}

func statusOf(c *Cursor) CursorStatus {
	st := CursorStatus{LastNetworkAt: c.LastNetworkAt, Acked: c.AckCount()}
	if c.LastSyncAt != nil {
		t := *c.LastSyncAt
		st.LastSyncAt = &t
	}
	return st
}

// roundTrip is only ever entered by the goroutine holding the syncing
// state, so the cursor itself is not locked; readers go through status.
func (e *Engine) roundTrip(ctx context.Context, force bool) (*Result, error) {
	cur, err := e.loadCursor(ctx)
	if err != nil {
		return nil, err
	}

	scanStart := e.cfg.Now().UTC()
	changes, err := BuildChangeSet(ctx, e.store, cur)
	if err != nil {
		return nil, err
	}

	lastNetwork := cur.LastNetworkAt
	if len(changes) == 0 && cur.LastSyncAt != nil && !force &&
		!lastNetwork.IsZero() && scanStart.Sub(lastNetwork) < e.cfg.MinPullInterval {
		slog.Debug("sync: throttled, nothing to send", "channel", e.cfg.Channel)
		return &Result{Throttled: true}, nil
	}

	res := &Result{}
	incoming := make(map[string]EventPayload)
	incomingVersion := make(map[string]time.Time)
	var serverTime time.Time
	var history []db.SyncHistoryEntry

	for _, batch := range chunk(changes, e.cfg.BatchSize) {
		resp, err := e.transport.Exchange(ctx, &Request{Since: cur.since(), Events: batch})
		if err != nil {
			return nil, fmt.Errorf("exchange chunk %d: %w", res.Chunks+1, err)
		}
		res.Chunks++

		for _, p := range resp.Events {
			v, err := p.Version()
			if err != nil || p.SyncID == "" {
				slog.Debug("sync: dropping remote record without version", "sync_id", p.SyncID)
				continue
			}
			if prev, ok := incomingVersion[p.SyncID]; ok && !v.After(prev) {
				continue
			}
			incoming[p.SyncID] = p
			incomingVersion[p.SyncID] = v
		}
		if resp.ServerTime != "" {
			if t, err := parseWireTime(resp.ServerTime); err == nil && t.After(serverTime) {
				serverTime = t
			}
		}

		// The peer holds this chunk now; remember it before anything else
		// can fail so a restart does not resend it.
		for _, p := range batch {
			v, _ := p.Version()
			cur.Acknowledge(p.SyncID, v)
			history = append(history, db.SyncHistoryEntry{Channel: e.cfg.Channel, Direction: "push", Action: "sent", SyncID: p.SyncID, Version: v})
		}
		res.Sent += len(batch)
		if len(batch) > 0 {
			if err := e.saveCursor(ctx, cur); err != nil {
				return nil, err
			}
		}
	}

	remote := make([]EventPayload, 0, len(incoming))
	for _, p := range incoming {
		remote = append(remote, p)
	}
	sort.Slice(remote, func(i, j int) bool {
		vi, vj := incomingVersion[remote[i].SyncID], incomingVersion[remote[j].SyncID]
		if !vi.Equal(vj) {
			return vi.Before(vj)
		}
		return remote[i].SyncID < remote[j].SyncID
	})
	res.Received = len(remote)

	applied, err := ApplyRemoteChanges(ctx, e.store, remote, cur)
	if err != nil {
		return nil, fmt.Errorf("apply remote changes: %w", err)
	}
	res.Apply = applied
	for _, p := range applied.Applied {
		history = append(history, db.SyncHistoryEntry{Channel: e.cfg.Channel, Direction: "pull", Action: "apply", SyncID: p.SyncID, Version: incomingVersion[p.SyncID]})
	}

	now := e.cfg.Now().UTC()
	if serverTime.IsZero() {
		serverTime = now
	}
	cur.LastSyncAt = &serverTime
	cur.ScanFrom = &scanStart
	cur.LastNetworkAt = now
	if err := e.saveCursor(ctx, cur); err != nil {
		return nil, err
	}
	res.SyncedAt = serverTime

	if err := e.store.RecordSyncHistory(ctx, history); err != nil {
		slog.Warn("sync: record history", "err", err)
	}
	return res, nil
}

// Cursor returns a snapshot of the cursor as of its last load or save. It
// is safe to call while a round trip is running.
func (e *Engine) Cursor(ctx context.Context) (CursorStatus, error) {
	if _, err := e.loadCursor(ctx); err != nil {
		return CursorStatus{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, nil
}
