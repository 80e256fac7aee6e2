package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/cadence/internal/models"
)

func feed(lines ...string) string {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR")
	return strings.Join(all, "\r\n") + "\r\n"
}

func parse(t *testing.T, body string) []RawEntry {
	t.Helper()
	entries, err := ParseFeed(strings.NewReader(body), ParseOptions{})
	if err != nil {
		t.Fatalf("ParseFeed: %v", err)
	}
	return entries
}

const overrideFeed = "" +
	"BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:series-1\r\nSUMMARY:Standup\r\n" +
	"DTSTART:20250301T090000Z\r\nDTEND:20250301T093000Z\r\n" +
	"RRULE:FREQ=DAILY;COUNT=3\r\nRDATE:20250310T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:series-1\r\nSUMMARY:Standup (moved)\r\n" +
	"RECURRENCE-ID:20250302T090000Z\r\n" +
	"DTSTART:20250302T140000Z\r\nDTEND:20250302T143000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:series-1\r\nSTATUS:CANCELLED\r\n" +
	"RECURRENCE-ID:20250301T090000Z\r\nDTSTART:20250301T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseFeed_Basic(t *testing.T) {
	body := feed(
		"BEGIN:VEVENT",
		"UID:abc@example.com",
		"SUMMARY:Dentist",
		"DESCRIPTION:Bring the forms",
		"DTSTART:20250412T150000Z",
		"DTEND:20250412T160000Z",
		"LAST-MODIFIED:20250401T120000Z",
		"END:VEVENT",
	)
	entries := parse(t, body)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.UID != "abc@example.com" || e.Summary != "Dentist" || e.Description != "Bring the forms" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if !e.Start.Equal(time.Date(2025, 4, 12, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", e.Start)
	}
	if !e.LastModified.Equal(time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("LastModified = %v", e.LastModified)
	}
}

func TestParseFeed_FoldedAndMalformedLines(t *testing.T) {
	body := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n" +
		"BEGIN:VEVENT\r\nUID:fold-1\r\n" +
		"SUMMARY:A very long title that the producer\r\n  folded onto two lines\r\n" +
		"this line is garbage\r\n" +
		"DTSTART:20250101T080000Z\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\nUID:fold-2\r\nSUMMARY:Second\r\nDTSTART:20250102T080000Z\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	entries := parse(t, body)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if want := "A very long title that the producer folded onto two lines"; entries[0].Summary != want {
		t.Errorf("Summary = %q, want %q", entries[0].Summary, want)
	}
}

func TestParseFeed_EmptyBody(t *testing.T) {
	if _, err := ParseFeed(strings.NewReader("  \r\n"), ParseOptions{}); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestParseFeed_RecurrenceFields(t *testing.T) {
	entries := parse(t, overrideFeed)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	master := entries[0]
	if master.RRule != "FREQ=DAILY;COUNT=3" {
		t.Errorf("RRule = %q", master.RRule)
	}
	if len(master.RDates) != 1 || master.RDates[0] != "2025-03-10T09:00:00.000Z" {
		t.Errorf("RDates = %v", master.RDates)
	}
	if entries[1].RecurrenceID != "2025-03-02T09:00:00.000Z" {
		t.Errorf("override RecurrenceID = %q", entries[1].RecurrenceID)
	}
	if !entries[2].Cancelled() {
		t.Error("third entry should be cancelled")
	}
}

func TestExpand_OverridePrecedence(t *testing.T) {
	events := Expand(parse(t, overrideFeed), ExpandOptions{FeedID: "feed-1"})
	if len(events) != 3 {
		for _, ev := range events {
			t.Logf("event %s %s %s", ev.ICSUID, ev.Title, ev.Start)
		}
		t.Fatalf("got %d events, want 3", len(events))
	}

	moved := events[0]
	if moved.Title != "Standup (moved)" {
		t.Errorf("first event title = %q, want override title", moved.Title)
	}
	if !moved.Start.Equal(time.Date(2025, 3, 2, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("override start = %v", moved.Start)
	}
	if moved.ICSUID != "series-12025-03-02T09:00:00.000Z" {
		t.Errorf("override keeps the original occurrence key, got %q", moved.ICSUID)
	}

	if events[1].Title != "Standup" || !events[1].Start.Equal(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("second event = %q at %v", events[1].Title, events[1].Start)
	}
	if !events[2].Start.Equal(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("RDATE occurrence start = %v", events[2].Start)
	}
	if d := events[2].End.Sub(events[2].Start); d != 30*time.Minute {
		t.Errorf("RDATE occurrence duration = %v, want master's 30m", d)
	}

	seen := map[string]bool{}
	for _, ev := range events {
		if seen[ev.ICSUID] {
			t.Errorf("duplicate stable id %q", ev.ICSUID)
		}
		seen[ev.ICSUID] = true
		if ev.Provider != models.ProviderICS || ev.AccountID != "feed-1" {
			t.Errorf("event %q: provider=%s account=%s", ev.ICSUID, ev.Provider, ev.AccountID)
		}
	}
}

func TestExpand_Idempotent(t *testing.T) {
	entries := parse(t, overrideFeed)
	a := Expand(entries, ExpandOptions{})
	b := Expand(parse(t, overrideFeed), ExpandOptions{})
	if len(a) != len(b) {
		t.Fatalf("expansion sizes differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ICSUID != b[i].ICSUID || !a[i].Start.Equal(b[i].Start) || a[i].Title != b[i].Title {
			t.Errorf("event %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestExpand_WeeklyInterval(t *testing.T) {
	body := feed(
		"BEGIN:VEVENT",
		"UID:gym",
		"SUMMARY:Gym",
		"DTSTART:20250106T100000Z",
		"DTEND:20250106T113000Z",
		"RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;COUNT=4",
		"END:VEVENT",
	)
	events := Expand(parse(t, body), ExpandOptions{})
	want := []string{"2025-01-06", "2025-01-08", "2025-01-20", "2025-01-22"}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, w := range want {
		if events[i].Date != w {
			t.Errorf("event %d date = %s, want %s", i, events[i].Date, w)
		}
		if events[i].DurationMinutes != 90 {
			t.Errorf("event %d duration = %d, want 90", i, events[i].DurationMinutes)
		}
	}
}

func TestExpand_CapEnforced(t *testing.T) {
	body := feed(
		"BEGIN:VEVENT",
		"UID:forever",
		"DTSTART:20250101T070000Z",
		"RRULE:FREQ=DAILY",
		"END:VEVENT",
	)
	events := Expand(parse(t, body), ExpandOptions{Cap: 40})
	if len(events) != 40 {
		t.Errorf("got %d events, want cap 40", len(events))
	}
}

func TestExpand_FallbackOnBadMaster(t *testing.T) {
	body := feed(
		"BEGIN:VEVENT",
		"UID:broken",
		"SUMMARY:No start",
		"DTSTART:not-a-date",
		"RRULE:FREQ=DAILY;COUNT=5",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:orphan",
		"SUMMARY:Lonely override",
		"RECURRENCE-ID:20250105T090000Z",
		"DTSTART:20250105T100000Z",
		"END:VEVENT",
	)
	events := Expand(parse(t, body), ExpandOptions{})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 standalone events", len(events))
	}
	ids := map[string]bool{}
	for _, ev := range events {
		ids[ev.ICSUID] = true
	}
	if !ids["broken"] {
		t.Errorf("master without occurrences should be emitted unexpanded, got %v", ids)
	}
	if !ids["orphan2025-01-05T09:00:00.000Z"] {
		t.Errorf("override without master should be emitted standalone, got %v", ids)
	}
}

func TestExpand_ExDateAndPlainPassThrough(t *testing.T) {
	body := feed(
		"BEGIN:VEVENT",
		"UID:series",
		"DTSTART;TZID=Europe/Berlin:20250601T090000",
		"RRULE:FREQ=DAILY;COUNT=3",
		"EXDATE;TZID=Europe/Berlin:20250602T090000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:single",
		"STATUS:CANCELLED",
		"DTSTART:20250605T120000Z",
		"END:VEVENT",
	)
	events := Expand(parse(t, body), ExpandOptions{})
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for _, ev := range events {
		if ev.Date == "2025-06-02" {
			t.Errorf("excluded date emitted: %+v", ev)
		}
	}
	last := events[2]
	if last.ICSUID != "single" || last.Status != models.StatusRemoved {
		t.Errorf("cancelled plain entry should pass through as removed, got %q %s", last.ICSUID, last.Status)
	}
}

func TestExport_RoundTrip(t *testing.T) {
	start := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	events := []models.CalendarEvent{
		{SyncID: "s-1", Title: "Planning", Start: start, End: start.Add(time.Hour), Status: models.StatusActive},
		{SyncID: "s-2", Title: "Dropped", Start: start.Add(24 * time.Hour), DurationMinutes: 30, Status: models.StatusRemoved},
		{SyncID: "s-3", Title: "No start"},
	}
	out := Export(events, start)

	entries := parse(t, out)
	if len(entries) != 2 {
		t.Fatalf("got %d exported entries, want 2", len(entries))
	}
	if entries[0].UID != "s-1" || entries[0].Summary != "Planning" || !entries[0].End.Equal(start.Add(time.Hour)) {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if !entries[1].Cancelled() {
		t.Errorf("removed event should export as cancelled, got status %q", entries[1].Status)
	}
	if d := entries[1].End.Sub(entries[1].Start); d != 30*time.Minute {
		t.Errorf("end derived from duration: got %v", d)
	}
}

func TestFetcher_CachesAndFallsBack(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(overrideFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Feed{ID: "work", URL: srv.URL + "/private/token.ics"}
	ctx := context.Background()

	res, err := f.Fetch(ctx, src)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if res.FromCache || string(res.Body) != overrideFeed {
		t.Fatalf("first fetch should be fresh, FromCache=%v", res.FromCache)
	}

	res, err = f.Fetch(ctx, src)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !res.FromCache || string(res.Body) != overrideFeed {
		t.Errorf("304 should serve cached body, FromCache=%v", res.FromCache)
	}

	fail.Store(true)
	res, err = f.Fetch(ctx, src)
	if err != nil {
		t.Fatalf("fetch with server down: %v", err)
	}
	if !res.FromCache {
		t.Error("expected cached body when server fails")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server calls = %d, want 3", n)
	}

	if _, err := NewFetcher(t.TempDir()).Fetch(ctx, src); err == nil {
		t.Error("expected error without cache when server fails")
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://cal.example.com/private/abc123/basic.ics?token=x"); got != "https://cal.example.com/..." {
		t.Errorf("redactURL = %q", got)
	}
}

func TestExpand_WindowsTZID(t *testing.T) {
	body := feed(
		"BEGIN:VEVENT",
		"UID:w1",
		"SUMMARY:Sync with Redmond",
		"DTSTART;TZID=Pacific Standard Time:20250106T100000",
		"DTEND;TZID=Pacific Standard Time:20250106T103000",
		"RRULE:FREQ=DAILY;COUNT=3",
		"EXDATE;TZID=Pacific Standard Time:20250107T100000",
		"RDATE;TZID=Pacific Standard Time:20250110T100000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:w1",
		"SUMMARY:Sync with Redmond (late)",
		"RECURRENCE-ID;TZID=Pacific Standard Time:20250108T100000",
		"DTSTART;TZID=Pacific Standard Time:20250108T150000",
		"DTEND;TZID=Pacific Standard Time:20250108T153000",
		"END:VEVENT",
	)
	entries := parse(t, body)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if want := time.Date(2025, 1, 6, 18, 0, 0, 0, time.UTC); !entries[0].Start.Equal(want) {
		t.Fatalf("Start = %v, want %v", entries[0].Start, want)
	}
	if entries[1].RecurrenceID != "2025-01-08T18:00:00.000Z" {
		t.Errorf("RecurrenceID = %q", entries[1].RecurrenceID)
	}

	events := Expand(entries, ExpandOptions{FeedID: "work"})
	want := []struct {
		start time.Time
		title string
	}{
		{time.Date(2025, 1, 6, 18, 0, 0, 0, time.UTC), "Sync with Redmond"},
		{time.Date(2025, 1, 8, 23, 0, 0, 0, time.UTC), "Sync with Redmond (late)"},
		{time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC), "Sync with Redmond"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		if !events[i].Start.Equal(w.start) || events[i].Title != w.title {
			t.Errorf("event %d = %v %q, want %v %q", i, events[i].Start, events[i].Title, w.start, w.title)
		}
		if events[i].DurationMinutes != 30 {
			t.Errorf("event %d duration = %d, want 30", i, events[i].DurationMinutes)
		}
	}
}

func TestParseFeed_UnknownTZIDUsesFeedLocation(t *testing.T) {
	loc := time.FixedZone("feed", 2*3600)
	body := feed(
		"BEGIN:VEVENT",
		"UID:u1",
		"SUMMARY:Custom zone",
		"DTSTART;TZID=Somewhere Custom Zone:20250301T090000",
		"EXDATE;TZID=Somewhere Custom Zone:20250302T090000",
		"RRULE:FREQ=DAILY;COUNT=2",
		"END:VEVENT",
	)
	entries, err := ParseFeed(strings.NewReader(body), ParseOptions{Location: loc})
	if err != nil {
		t.Fatalf("ParseFeed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if want := time.Date(2025, 3, 1, 9, 0, 0, 0, loc); !e.Start.Equal(want) {
		t.Errorf("Start = %v, want %v", e.Start, want)
	}
	if len(e.ExDates) != 1 || e.ExDates[0] != "2025-03-02T07:00:00.000Z" {
		t.Errorf("ExDates = %v", e.ExDates)
	}
	if events := Expand(entries, ExpandOptions{Location: loc}); len(events) != 1 {
		t.Errorf("got %d events, want 1 after EXDATE", len(events))
	}
}
