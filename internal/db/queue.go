package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ChangeKind classifies a committed mutation.
type ChangeKind string

const (
	ChangeInsert  ChangeKind = "insert"
	ChangeUpdate  ChangeKind = "update"
	ChangeDelete  ChangeKind = "delete"
	ChangeReplace ChangeKind = "replace"
)

// Change is delivered to subscribers after a local mutation commits.
type Change struct {
	Kind    ChangeKind
	SyncIDs []string
}

func (c Change) empty() bool { return c.Kind == "" }

type writeOp struct {
	ctx      context.Context
	fn       func(tx *sql.Tx) (Change, error)
	suppress bool
	result   chan error
}

// writer runs every mutation, one transaction at a time, in submission order.
func (db *DB) writer() {
	defer close(db.done)
	for op := range db.writes {
		change, err := db.run(op)
		if err == nil && !op.suppress && !change.empty() {
			db.notify(change)
		}
		op.result <- err
	}
}

func (db *DB) run(op *writeOp) (Change, error) {
	if err := op.ctx.Err(); err != nil {
		return Change{}, err
	}
	var change Change
	err := db.withWriteLock(func() error {
		tx, err := db.conn.BeginTx(op.ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		change, err = op.fn(tx)
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
	return change, err
}

// submit queues fn and waits for its transaction to finish. With suppress
// set, subscribers are not told about the change.
func (db *DB) submit(ctx context.Context, suppress bool, fn func(tx *sql.Tx) (Change, error)) error {
	op := &writeOp{ctx: ctx, fn: fn, suppress: suppress, result: make(chan error, 1)}

	db.closeMu.RLock()
	if db.closed {
		db.closeMu.RUnlock()
		return ErrClosed
	}
	select {
	case db.writes <- op:
	case <-ctx.Done():
		db.closeMu.RUnlock()
		return ctx.Err()
	}
	db.closeMu.RUnlock()

	return <-op.result
}

// Subscribe returns a channel that receives a Change after each committed
// local mutation, and a function that ends the subscription. Delivery never
// blocks the writer: a subscriber that falls behind misses changes, which
// only matters to consumers that need more than a "something changed" signal.
func (db *DB) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 16)
	db.subMu.Lock()
	id := db.nextSub
	db.nextSub++
	db.subs[id] = ch
	db.subMu.Unlock()

	cancel := func() {
		db.subMu.Lock()
		defer db.subMu.Unlock()
		if c, ok := db.subs[id]; ok {
			close(c)
			delete(db.subs, id)
		}
	}
	return ch, cancel
}

func (db *DB) notify(c Change) {
	db.subMu.Lock()
	defer db.subMu.Unlock()
	for id, ch := range db.subs {
		select {
		case ch <- c:
		default:
			slog.Debug("db: subscriber lagging, change dropped", "subscriber", id, "kind", c.Kind)
		}
	}
}
