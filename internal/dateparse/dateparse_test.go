package dateparse

import (
	"testing"
	"time"
)

// Fixed reference time: Wednesday, 2026-02-18 12:00:00 UTC
var testNow = time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

func TestDay(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"2026-03-01", "2026-03-01"},
		{"today", "2026-02-18"},
		{"tomorrow", "2026-02-19"},
		{"yesterday", "2026-02-17"},
		{"next-week", "2026-02-23"},
		{"next-month", "2026-03-01"},
		{"+0d", "2026-02-18"},
		{"+10d", "2026-02-28"},
		{"-3d", "2026-02-15"},
		{"+2w", "2026-03-04"},
		{"+1m", "2026-03-18"},
		{"  Tomorrow  ", "2026-02-19"},
	}
	for _, tt := range tests {
		got, err := Day(tt.input, testNow)
		if err != nil {
			t.Errorf("Day(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got.Format("2006-01-02") != tt.want {
			t.Errorf("Day(%q) = %s, want %s", tt.input, got.Format("2006-01-02"), tt.want)
		}
		if got.Hour() != 0 || got.Minute() != 0 {
			t.Errorf("Day(%q) = %v, want midnight", tt.input, got)
		}
	}
}

func TestDay_DayNames(t *testing.T) {
	// testNow is Wednesday 2026-02-18
	tests := []struct {
		input string
		want  string
	}{
		{"monday", "2026-02-23"},
		{"wednesday", "2026-02-25"}, // never today
		{"thursday", "2026-02-19"},
		{"FRI", "2026-02-20"},
		{"sun", "2026-02-22"},
	}
	for _, tt := range tests {
		got, err := Day(tt.input, testNow)
		if err != nil {
			t.Errorf("Day(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got.Format("2006-01-02") != tt.want {
			t.Errorf("Day(%q) = %s, want %s", tt.input, got.Format("2006-01-02"), tt.want)
		}
	}
}

func TestDay_NextWeekOnMonday(t *testing.T) {
	monday := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	got, err := Day("next-week", monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Format("2006-01-02") != "2026-02-23" {
		t.Errorf("next-week on Monday = %s, want 2026-02-23", got.Format("2006-01-02"))
	}
}

func TestDay_KeepsLocation(t *testing.T) {
	loc := time.FixedZone("X", -5*3600)
	now := time.Date(2026, 2, 18, 22, 0, 0, 0, loc) // already the 19th in UTC
	got, err := Day("today", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Location() != loc || got.Day() != 18 {
		t.Errorf("Day(today) = %v, want 2026-02-18 in X", got)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"now", testNow},
		{"09:30", time.Date(2026, 2, 18, 9, 30, 0, 0, time.UTC)},
		{"tomorrow 9am", time.Date(2026, 2, 19, 9, 0, 0, 0, time.UTC)},
		{"friday@2:15pm", time.Date(2026, 2, 20, 14, 15, 0, 0, time.UTC)},
		{"2026-03-01 14:00", time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)},
		{"2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-03-01T09:30:00Z", time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := Parse(tt.input, testNow)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	invalids := []string{
		"",
		"next year",
		"+3x",
		"notaday",
		"2026/03/01",
		"+d",
		"tomorrow 25:00",
		"tomorrow noonish",
	}
	for _, input := range invalids {
		if _, err := Parse(input, testNow); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", input)
		}
	}
}
