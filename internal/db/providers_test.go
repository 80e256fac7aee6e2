package db

import (
	"context"
	"testing"
	"time"

	"github.com/marcus/cadence/internal/models"
)

func googleEvent(id, title string, start time.Time) models.CalendarEvent {
	return models.CalendarEvent{Provider: models.ProviderGoogle, GoogleID: id, Title: title, Start: start, End: start.Add(time.Hour)}
}

func TestReplaceProviderEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	clock := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { clock = clock.Add(time.Second); return clock })

	first := []models.CalendarEvent{
		googleEvent("g1", "Standup", at(9)),
		googleEvent("g2", "Lunch", at(12)),
		googleEvent("g3", "Retro", at(15)),
	}
	res, err := db.ReplaceProviderEvents(ctx, models.ProviderGoogle, "acct-1", first)
	if err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if res.Inserted != 3 {
		t.Fatalf("first replace = %+v, want 3 inserted", res)
	}

	// A local event and another account's event must be left alone
	local := &models.CalendarEvent{Title: "Mine", Start: at(9)}
	if err := db.CreateEvent(ctx, local); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ReplaceProviderEvents(ctx, models.ProviderGoogle, "acct-2", []models.CalendarEvent{googleEvent("g1", "Other", at(9))}); err != nil {
		t.Fatal(err)
	}

	before, _ := db.ListEvents(ctx, EventFilter{Provider: models.ProviderGoogle, AccountID: "acct-1", IncludeRemoved: true})
	versions := map[string]time.Time{}
	syncIDs := map[string]string{}
	for _, ev := range before {
		versions[ev.GoogleID] = ev.UpdatedAt
		syncIDs[ev.GoogleID] = ev.SyncID
	}

	changes, cancel := db.Subscribe()
	defer cancel()

	// g2 retitled, g3 gone, g4 new, g1 unchanged
	second := []models.CalendarEvent{
		googleEvent("g1", "Standup", at(9)),
		googleEvent("g2", "Team lunch", at(12)),
		googleEvent("g4", "Demo", at(16)),
	}
	res, err = db.ReplaceProviderEvents(ctx, models.ProviderGoogle, "acct-1", second)
	if err != nil {
		t.Fatalf("second replace: %v", err)
	}
	want := ReplaceResult{Inserted: 1, Updated: 1, Unchanged: 1, Removed: 1}
	if res != want {
		t.Errorf("second replace = %+v, want %+v", res, want)
	}

	after, _ := db.ListEvents(ctx, EventFilter{Provider: models.ProviderGoogle, AccountID: "acct-1", IncludeRemoved: true})
	byID := map[string]models.CalendarEvent{}
	for _, ev := range after {
		byID[ev.GoogleID] = ev
	}
	if g1 := byID["g1"]; !g1.UpdatedAt.Equal(versions["g1"]) {
		t.Errorf("unchanged event version moved: %v -> %v", versions["g1"], g1.UpdatedAt)
	}
	if g2 := byID["g2"]; g2.Title != "Team lunch" || g2.SyncID != syncIDs["g2"] || !g2.UpdatedAt.After(versions["g2"]) {
		t.Errorf("updated event = %+v", g2)
	}
	if g3 := byID["g3"]; g3.Status != models.StatusRemoved {
		t.Errorf("missing event status = %s, want removed", g3.Status)
	}
	if _, ok := byID["g4"]; !ok {
		t.Error("new event not inserted")
	}

	select {
	case c := <-changes:
		if c.Kind != ChangeReplace || len(c.SyncIDs) != 3 {
			t.Errorf("change = %+v, want replace touching 3 events", c)
		}
	default:
		t.Error("replace should notify subscribers")
	}

	// Same fetch again changes nothing and stays silent
	res, err = db.ReplaceProviderEvents(ctx, models.ProviderGoogle, "acct-1", second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Unchanged != 3 || res.Inserted+res.Updated+res.Removed != 0 {
		t.Errorf("idempotent replace = %+v", res)
	}
	select {
	case c := <-changes:
		t.Errorf("no-op replace notified: %+v", c)
	default:
	}

	if got, _ := db.GetEvent(ctx, local.ID); got.Status != models.StatusActive {
		t.Errorf("local event touched: %+v", got)
	}
	other, _ := db.ListEvents(ctx, EventFilter{AccountID: "acct-2"})
	if len(other) != 1 {
		t.Errorf("other account's events = %d, want 1", len(other))
	}
}
