// Package ics turns raw calendar feeds into canonical events: parsing VEVENT
// blocks, expanding recurring series and resolving per-occurrence overrides.
package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata" // TZID values must resolve on hosts without zoneinfo

	ical "github.com/emersion/go-ical"

	"github.com/marcus/cadence/internal/recurrence"
)

// RawEntry is one VEVENT as found in a feed, before expansion.
//
// RDates, ExDates and RecurrenceID hold instants rendered with
// recurrence.Key so they can be compared as strings.
type RawEntry struct {
	UID          string
	Summary      string
	Description  string
	Status       string
	Start        time.Time
	End          time.Time
	AllDay       bool
	LastModified time.Time
	RRule        string
	RDates       []string
	ExDates      []string
	RecurrenceID string
}

// Cancelled reports whether the entry carries STATUS:CANCELLED.
func (e *RawEntry) Cancelled() bool {
	return strings.EqualFold(e.Status, "CANCELLED")
}

// recurring reports whether the entry carries any recurrence signal.
func (e *RawEntry) recurring() bool {
	return e.RRule != "" || len(e.RDates) > 0 || e.RecurrenceID != ""
}

// ParseOptions controls how floating and date-only values are interpreted.
type ParseOptions struct {
	// Location applies to values without TZID or UTC suffix. Defaults to UTC.
	Location *time.Location
}

// ParseFeed reads an iCalendar feed and returns its VEVENT entries in feed
// order. Malformed lines are skipped and a VEVENT that cannot be decoded is
// dropped; neither aborts the rest of the feed.
func ParseFeed(r io.Reader, opts ParseOptions) ([]RawEntry, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, errors.New("empty ICS body")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	lines := unfold(string(body))
	blocks := splitEvents(lines)

	entries := make([]RawEntry, 0, len(blocks))
	for i, block := range blocks {
		entry, err := decodeEvent(block, loc)
		if err != nil {
			slog.Warn("ics: skipping undecodable VEVENT", "index", i, "err", err)
			continue
		}
		entries = append(entries, entry)
	}
	slog.Debug("ics: parsed feed", "events", len(entries), "blocks", len(blocks))
	return entries, nil
}

// unfold joins continuation lines (leading space or tab) onto the previous
// content line.
func unfold(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")

	var out []string
	for _, line := range strings.Split(body, "\n") {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += line[1:]
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// validLine reports whether line looks like NAME[;PARAMS]:VALUE.
func validLine(line string) bool {
	end := strings.IndexAny(line, ";:")
	if end <= 0 || !strings.Contains(line[end:], ":") {
		return false
	}
	for _, c := range line[:end] {
		if !(c == '-' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

// splitEvents extracts the content lines of every top-level VEVENT,
// including nested components such as VALARM.
func splitEvents(lines []string) [][]string {
	var (
		blocks  [][]string
		current []string
		depth   int
	)
	for _, line := range lines {
		if !validLine(line) {
			slog.Warn("ics: skipping malformed line", "line", truncate(line, 60))
			continue
		}
		upper := strings.ToUpper(line)
		switch {
		case depth == 0 && upper == "BEGIN:VEVENT":
			depth = 1
			current = []string{"BEGIN:VEVENT"}
		case depth > 0 && strings.HasPrefix(upper, "BEGIN:"):
			depth++
			current = append(current, line)
		case depth > 0 && strings.HasPrefix(upper, "END:"):
			depth--
			current = append(current, line)
			if depth == 0 {
				blocks = append(blocks, current)
				current = nil
			}
		case depth > 0:
			current = append(current, line)
		}
	}
	if depth > 0 {
		slog.Warn("ics: unterminated VEVENT at end of feed", "lines", len(current))
	}
	return blocks
}

func decodeEvent(block []string, loc *time.Location) (RawEntry, error) {
	var sb strings.Builder
	sb.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//cadence//ics//EN\r\n")
	for _, line := range block {
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}
	sb.WriteString("END:VCALENDAR\r\n")

	cal, err := ical.NewDecoder(strings.NewReader(sb.String())).Decode()
	if err != nil {
		return RawEntry{}, err
	}
	events := cal.Events()
	if len(events) != 1 {
		return RawEntry{}, fmt.Errorf("expected 1 VEVENT, decoded %d", len(events))
	}
	normalizeTimezones(events[0].Props)
	return toRawEntry(&events[0], loc), nil
}

func toRawEntry(ev *ical.Event, loc *time.Location) RawEntry {
	var e RawEntry
	e.UID = text(ev.Props, ical.PropUID)
	e.Summary = text(ev.Props, ical.PropSummary)
	e.Description = text(ev.Props, ical.PropDescription)
	e.Status = strings.ToUpper(text(ev.Props, ical.PropStatus))

	if start, err := ev.DateTimeStart(loc); err == nil {
		e.Start = start
	} else {
		slog.Debug("ics: bad DTSTART", "uid", e.UID, "err", err)
	}
	if end, err := ev.DateTimeEnd(loc); err == nil {
		e.End = end
	}
	if p := ev.Props.Get(ical.PropDateTimeStart); p != nil {
		e.AllDay = strings.EqualFold(p.Params.Get(ical.ParamValue), "DATE") || !strings.Contains(p.Value, "T")
	}
	if p := ev.Props.Get(ical.PropLastModified); p != nil {
		if t, err := p.DateTime(time.UTC); err == nil {
			e.LastModified = t
		}
	}
	if p := ev.Props.Get(ical.PropRecurrenceRule); p != nil {
		e.RRule = strings.TrimSpace(p.Value)
	}
	e.RDates = dateList(ev.Props, ical.PropRecurrenceDates, loc)
	e.ExDates = dateList(ev.Props, ical.PropExceptionDates, loc)
	if p := ev.Props.Get(ical.PropRecurrenceID); p != nil {
		if t, err := p.DateTime(loc); err == nil {
			e.RecurrenceID = recurrence.Key(t)
		} else {
			slog.Debug("ics: bad RECURRENCE-ID", "uid", e.UID, "err", err)
		}
	}

	if e.UID == "" {
		e.UID = syntheticUID(e.Summary, e.Start)
	}
	return e
}

func text(props ical.Props, name string) string {
	p := props.Get(name)
	if p == nil {
		return ""
	}
	s, err := p.Text()
	if err != nil {
		return p.Value
	}
	return s
}

// dateList parses every (possibly comma-separated) value of an RDATE or
// EXDATE property. PERIOD values contribute their start.
func dateList(props ical.Props, name string, loc *time.Location) []string {
	var out []string
	for _, p := range props.Values(name) {
		params := make(ical.Params)
		if tz := p.Params.Get(ical.ParamTimezoneID); tz != "" {
			params.Set(ical.ParamTimezoneID, tz)
		}
		if strings.EqualFold(p.Params.Get(ical.ParamValue), "DATE") {
			params.Set(ical.ParamValue, "DATE")
		}
		for _, piece := range strings.Split(p.Value, ",") {
			piece, _, _ = strings.Cut(strings.TrimSpace(piece), "/")
			if piece == "" {
				continue
			}
			single := ical.Prop{Name: p.Name, Params: params, Value: piece}
			t, err := single.DateTime(loc)
			if err != nil {
				slog.Debug("ics: skipping bad date", "prop", name, "value", piece, "err", err)
				continue
			}
			out = append(out, recurrence.Key(t))
		}
	}
	return out
}

func syntheticUID(summary string, start time.Time) string {
	sum := sha256.Sum256([]byte(summary + "|" + recurrence.Key(start)))
	return "cadence-" + hex.EncodeToString(sum[:8])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
