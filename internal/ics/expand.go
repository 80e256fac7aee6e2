package ics

import (
	"log/slog"
	"sort"
	"time"

	"github.com/marcus/cadence/internal/models"
	"github.com/marcus/cadence/internal/recurrence"
)

// ExpandOptions controls recurrence expansion of a parsed feed.
type ExpandOptions struct {
	// Cap bounds the occurrences generated per series. Zero means
	// recurrence.DefaultCap.
	Cap int
	// Location is used to derive each event's nominal date. Defaults to UTC.
	Location *time.Location
	// FeedID is stored as the account of every emitted event.
	FeedID string
}

// RecurrenceGroup collects every entry of a feed sharing one UID.
type RecurrenceGroup struct {
	UID       string
	Master    *RawEntry
	Overrides map[string]RawEntry // keyed by occurrence instant
	Cancelled map[string]bool     // occurrence instants
	Plain     []RawEntry          // entries without recurrence data
}

// GroupEntries sorts entries into groups by UID, preserving the order in
// which UIDs first appear. An entry with a RECURRENCE-ID only ever overrides
// or cancels one occurrence of its master.
func GroupEntries(entries []RawEntry) []*RecurrenceGroup {
	byUID := make(map[string]*RecurrenceGroup)
	var order []*RecurrenceGroup

	for _, e := range entries {
		g, ok := byUID[e.UID]
		if !ok {
			g = &RecurrenceGroup{
				UID:       e.UID,
				Overrides: make(map[string]RawEntry),
				Cancelled: make(map[string]bool),
			}
			byUID[e.UID] = g
			order = append(order, g)
		}

		switch {
		case !e.recurring():
			g.Plain = append(g.Plain, e)
		case e.RecurrenceID != "":
			if e.Cancelled() {
				g.Cancelled[e.RecurrenceID] = true
				continue
			}
			if prev, ok := g.Overrides[e.RecurrenceID]; ok && prev.LastModified.After(e.LastModified) {
				continue
			}
			g.Overrides[e.RecurrenceID] = e
		default:
			if g.Master != nil {
				slog.Debug("ics: duplicate master for uid", "uid", e.UID)
				if g.Master.LastModified.After(e.LastModified) {
					continue
				}
			}
			m := e
			g.Master = &m
		}
	}
	return order
}

// Expand groups entries by UID and emits one concrete event per surviving
// occurrence. Each emitted event's ICSUID is the series UID followed by the
// occurrence instant, so occurrences of one series never collide.
//
// A master that yields no occurrences (no usable start) is emitted as is,
// together with its overrides, instead of being dropped.
func Expand(entries []RawEntry, opts ExpandOptions) []models.CalendarEvent {
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	var out []models.CalendarEvent
	for _, g := range GroupEntries(entries) {
		for _, p := range g.Plain {
			out = append(out, buildEvent(p, p.Start, p.End, p.UID, opts))
		}
		out = append(out, expandGroup(g, opts)...)
	}
	return dedupe(out)
}

func expandGroup(g *RecurrenceGroup, opts ExpandOptions) []models.CalendarEvent {
	m := g.Master
	if m == nil {
		// Overrides whose master is missing from the feed.
		return standaloneOverrides(g, opts)
	}

	occurrences := recurrence.Occurrences(m.Start, recurrence.ParseRule(m.RRule), recurrence.Options{
		Extra:   parseKeys(m.RDates),
		Exclude: parseKeys(m.ExDates),
		Cap:     opts.Cap,
	})
	if len(occurrences) == 0 {
		slog.Warn("ics: recurring master produced no occurrences, emitting unexpanded", "uid", g.UID)
		out := []models.CalendarEvent{buildEvent(*m, m.Start, m.End, g.UID, opts)}
		return append(out, standaloneOverrides(g, opts)...)
	}

	duration := time.Duration(0)
	if m.End.After(m.Start) {
		duration = m.End.Sub(m.Start)
	}

	out := make([]models.CalendarEvent, 0, len(occurrences))
	for _, occ := range occurrences {
		key := recurrence.Key(occ)
		if g.Cancelled[key] {
			continue
		}
		id := g.UID + key

		ov, overridden := g.Overrides[key]
		if !overridden {
			out = append(out, buildEvent(*m, occ, occ.Add(duration), id, opts))
			continue
		}

		start := occ
		if !ov.Start.IsZero() {
			start = ov.Start
		}
		end := start.Add(duration)
		if ov.End.After(start) {
			end = ov.End
		}
		out = append(out, buildEvent(ov, start, end, id, opts))
	}
	return out
}

func standaloneOverrides(g *RecurrenceGroup, opts ExpandOptions) []models.CalendarEvent {
	keys := make([]string, 0, len(g.Overrides))
	for k := range g.Overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]models.CalendarEvent, 0, len(keys))
	for _, k := range keys {
		ov := g.Overrides[k]
		out = append(out, buildEvent(ov, ov.Start, ov.End, g.UID+k, opts))
	}
	return out
}

func buildEvent(src RawEntry, start, end time.Time, id string, opts ExpandOptions) models.CalendarEvent {
	ev := models.CalendarEvent{
		Title:     src.Summary,
		Notes:     src.Description,
		Start:     start,
		End:       end,
		Status:    models.StatusActive,
		Provider:  models.ProviderICS,
		AccountID: opts.FeedID,
		ICSUID:    id,
		UpdatedAt: src.LastModified,
	}
	if src.Cancelled() {
		ev.Status = models.StatusRemoved
	}
	if !start.IsZero() {
		ev.Date = start.In(opts.Location).Format(models.DateLayout)
		if end.After(start) {
			ev.DurationMinutes = int(end.Sub(start) / time.Minute)
		}
	}
	ev.Normalize()
	return ev
}

func parseKeys(keys []string) []time.Time {
	out := make([]time.Time, 0, len(keys))
	for _, k := range keys {
		t, err := time.Parse(time.RFC3339, k)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// dedupe keeps one event per ICSUID (the most recently modified) and orders
// the result by start then identifier.
func dedupe(events []models.CalendarEvent) []models.CalendarEvent {
	index := make(map[string]int, len(events))
	out := make([]models.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if i, ok := index[ev.ICSUID]; ok {
			if ev.UpdatedAt.After(out[i].UpdatedAt) {
				out[i] = ev
			}
			continue
		}
		index[ev.ICSUID] = len(out)
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ICSUID < out[j].ICSUID
	})
	return out
}
