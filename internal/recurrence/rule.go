// Package recurrence parses RRULE strings and expands them into concrete
// occurrence instants by walking forward one calendar day at a time.
package recurrence

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Frequency is the FREQ part of a rule
type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

// Rule is a parsed recurrence rule.
//
// ByDay holds weekday indices (0 = Sunday .. 6 = Saturday). ByMonthDay holds
// days of the month; negative values count back from the month's last day.
type Rule struct {
	Freq       Frequency
	Interval   int
	Count      int
	Until      *time.Time
	ByDay      []time.Weekday
	ByMonthDay []int
}

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

// ParseRule parses a semicolon-delimited KEY=VALUE rule such as
// "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;COUNT=10".
//
// A missing or unsupported FREQ yields nil: callers treat the event as
// non-recurring instead of failing the whole feed. Unparsable parts other
// than FREQ fall back to their defaults.
func ParseRule(s string) *Rule {
	s = strings.TrimSpace(s)
	if len(s) >= 6 && strings.EqualFold(s[:6], "RRULE:") {
		s = s[6:]
	}
	if s == "" {
		return nil
	}

	r := &Rule{Interval: 1}
	for _, part := range strings.Split(s, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			switch f := Frequency(strings.ToUpper(value)); f {
			case Daily, Weekly, Monthly, Yearly:
				r.Freq = f
			}
		case "INTERVAL":
			if n, err := strconv.Atoi(value); err == nil && n >= 1 {
				r.Interval = n
			}
		case "COUNT":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				r.Count = n
			}
		case "UNTIL":
			if t, ok := parseUntil(value); ok {
				r.Until = &t
			} else {
				slog.Debug("recurrence: ignoring unparsable UNTIL", "value", value)
			}
		case "BYDAY":
			r.ByDay = parseByDay(value)
		case "BYMONTHDAY":
			r.ByMonthDay = parseByMonthDay(value)
		}
	}

	if r.Freq == "" {
		return nil
	}
	return r
}

func parseUntil(v string) (time.Time, bool) {
	for _, layout := range []string{"20060102T150405Z", "20060102T150405", "20060102", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			if layout == "20060102" {
				// A date-only UNTIL includes the whole day.
				t = t.Add(24*time.Hour - time.Nanosecond)
			}
			return t, true
		}
	}
	return time.Time{}, false
}

func parseByDay(v string) []time.Weekday {
	seen := make(map[time.Weekday]bool)
	var out []time.Weekday
	for _, item := range strings.Split(v, ",") {
		item = strings.ToUpper(strings.TrimSpace(item))
		if len(item) < 2 {
			continue
		}
		// Ordinal prefixes like "1MO" or "-1FR" are accepted but not honoured.
		wd, ok := weekdayCodes[item[len(item)-2:]]
		if !ok || seen[wd] {
			continue
		}
		seen[wd] = true
		out = append(out, wd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func parseByMonthDay(v string) []int {
	var out []int
	for _, item := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil || n == 0 || n > 31 || n < -31 {
			continue
		}
		out = append(out, n)
	}
	return out
}
