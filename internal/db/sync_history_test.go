package db

import (
	"context"
	"fmt"
	"testing"
)

func TestRecordSyncHistory_Basic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	entries := []SyncHistoryEntry{
		{Channel: "default", Direction: "push", Action: "sent", SyncID: "a", Version: at(1)},
		{Channel: "default", Direction: "pull", Action: "insert", SyncID: "b", Version: at(2)},
	}
	if err := db.RecordSyncHistory(ctx, entries); err != nil {
		t.Fatalf("RecordSyncHistory: %v", err)
	}

	tail, err := db.GetSyncHistoryTail(ctx, 10)
	if err != nil {
		t.Fatalf("GetSyncHistoryTail: %v", err)
	}
	if len(tail) != 2 || tail[0].SyncID != "a" || tail[1].Direction != "pull" {
		t.Fatalf("unexpected tail: %+v", tail)
	}
	if !tail[1].Version.Equal(at(2)) {
		t.Errorf("version = %v, want %v", tail[1].Version, at(2))
	}
	if tail[0].Timestamp.IsZero() {
		t.Error("missing timestamp should default to the store clock")
	}
}

func TestRecordSyncHistory_KeepsExplicitTimestamp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	entry := SyncHistoryEntry{Channel: "work", Direction: "pull", Action: "apply", SyncID: "x", Version: at(3), Timestamp: at(4)}
	if err := db.RecordSyncHistory(ctx, []SyncHistoryEntry{entry}); err != nil {
		t.Fatal(err)
	}
	tail, _ := db.GetSyncHistoryTail(ctx, 1)
	if len(tail) != 1 || !tail[0].Timestamp.Equal(at(4)) || tail[0].Channel != "work" {
		t.Errorf("unexpected entry: %+v", tail)
	}
}

func TestRecordSyncHistory_EmptySlice(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.RecordSyncHistory(ctx, nil); err != nil {
		t.Fatalf("nil entries: %v", err)
	}
	if err := db.RecordSyncHistory(ctx, []SyncHistoryEntry{}); err != nil {
		t.Fatalf("empty entries: %v", err)
	}
	tail, err := db.GetSyncHistoryTail(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 0 {
		t.Errorf("expected no rows, got %d", len(tail))
	}
}

func TestGetSyncHistoryTail_OrderAndLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var entries []SyncHistoryEntry
	for i := 0; i < 10; i++ {
		entries = append(entries, SyncHistoryEntry{
			Channel:   "default",
			Direction: "push",
			Action:    "sent",
			SyncID:    fmt.Sprintf("ev-%02d", i),
			Version:   at(i),
		})
	}
	if err := db.RecordSyncHistory(ctx, entries); err != nil {
		t.Fatal(err)
	}

	tail, err := db.GetSyncHistoryTail(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(tail))
	}
	for i, want := range []string{"ev-07", "ev-08", "ev-09"} {
		if tail[i].SyncID != want {
			t.Errorf("tail[%d] = %s, want %s", i, tail[i].SyncID, want)
		}
	}
	if tail[0].ID >= tail[1].ID {
		t.Errorf("tail not in chronological order: %d then %d", tail[0].ID, tail[1].ID)
	}
}

func TestRecordSyncHistory_Prunes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	entries := make([]SyncHistoryEntry, maxHistoryRows+25)
	for i := range entries {
		entries[i] = SyncHistoryEntry{Channel: "default", Direction: "pull", Action: "apply", SyncID: fmt.Sprintf("s-%d", i)}
	}
	if err := db.RecordSyncHistory(ctx, entries); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM sync_history`).Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != maxHistoryRows {
		t.Errorf("rows = %d, want %d", count, maxHistoryRows)
	}
	tail, _ := db.GetSyncHistoryTail(ctx, 1)
	if len(tail) != 1 || tail[0].SyncID != fmt.Sprintf("s-%d", len(entries)-1) {
		t.Errorf("newest row should survive pruning, got %+v", tail)
	}
}

func TestRecordSyncHistory_DoesNotNotify(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	changes, cancel := db.Subscribe()
	defer cancel()

	entry := SyncHistoryEntry{Channel: "default", Direction: "push", Action: "sent", SyncID: "quiet", Version: at(5)}
	if err := db.RecordSyncHistory(ctx, []SyncHistoryEntry{entry}); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		t.Errorf("history write must not wake the scheduler: %+v", c)
	default:
	}
}
