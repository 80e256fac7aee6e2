// Package dateparse turns the loose date and time expressions accepted on
// the command line into instants.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var dayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

var clockLayouts = []string{"15:04", "15:04:05", "3pm", "3:04pm"}

// Parse reads a date with an optional time of day, relative to now. The
// result is in now's location. Accepted forms:
//
//	2026-03-01T09:30:00Z   RFC 3339, kept as given
//	now
//	09:30                  today at that time
//	tomorrow 9am           any Day expression followed by a clock time
//	2026-03-01 14:00
//	friday                 midnight of that day
func Parse(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, fmt.Errorf("empty date input")
	}
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}
	lower := strings.ToLower(input)
	if lower == "now" {
		return now, nil
	}
	if h, m, s, ok := parseClock(lower); ok {
		return atClock(startOfDay(now), h, m, s), nil
	}

	dayPart, clockPart := lower, ""
	if i := strings.LastIndexAny(lower, " @"); i > 0 {
		dayPart, clockPart = strings.TrimSpace(lower[:i]), strings.TrimSpace(lower[i+1:])
	}
	day, err := Day(dayPart, now)
	if err != nil {
		return time.Time{}, err
	}
	if clockPart == "" {
		return day, nil
	}
	h, m, s, ok := parseClock(clockPart)
	if !ok {
		return time.Time{}, fmt.Errorf("unrecognized time of day %q", clockPart)
	}
	return atClock(day, h, m, s), nil
}

// Day resolves a day expression to midnight of that day in now's location.
//
// Supported forms:
//   - Exact dates: "2026-03-01"
//   - Relative days: "+7d", "-3d"
//   - Relative weeks: "+2w"
//   - Relative months: "+1m"
//   - Day names: "monday", "fri" (next occurrence, never today)
//   - Keywords: "today", "tomorrow", "yesterday", "next-week", "next-month"
func Day(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return time.Time{}, fmt.Errorf("empty date input")
	}
	today := startOfDay(now)

	if t, err := time.ParseInLocation("2006-01-02", input, now.Location()); err == nil {
		return t, nil
	}

	switch input {
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	case "next-week":
		daysUntilMonday := (int(time.Monday) - int(now.Weekday()) + 7) % 7
		if daysUntilMonday == 0 {
			daysUntilMonday = 7
		}
		return today.AddDate(0, 0, daysUntilMonday), nil
	case "next-month":
		year, month, _ := now.Date()
		return time.Date(year, month+1, 1, 0, 0, 0, 0, now.Location()), nil
	}

	if (input[0] == '+' || input[0] == '-') && len(input) >= 3 {
		unit := input[len(input)-1]
		n, err := strconv.Atoi(input[1 : len(input)-1])
		if err == nil && n >= 0 {
			if input[0] == '-' {
				n = -n
			}
			switch unit {
			case 'd':
				return today.AddDate(0, 0, n), nil
			case 'w':
				return today.AddDate(0, 0, n*7), nil
			case 'm':
				return today.AddDate(0, n, 0), nil
			default:
				return time.Time{}, fmt.Errorf("unknown relative unit %q in %q (use d, w, or m)", string(unit), input)
			}
		}
	}

	if target, ok := dayNames[input]; ok {
		ahead := (int(target) - int(now.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return today.AddDate(0, 0, ahead), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date format: %q", input)
}

func parseClock(s string) (h, m, sec int, ok bool) {
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), t.Second(), true
		}
	}
	return 0, 0, 0, false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func atClock(day time.Time, h, m, s int) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, s, 0, day.Location())
}
