package recurrence

import (
	"sort"
	"time"
)

const (
	// DefaultCap bounds expansion of rules without COUNT or UNTIL.
	DefaultCap = 500

	// maxWalkDays stops the day walk on rules that never (or rarely) match.
	maxWalkDays = 20000

	keyLayout = "2006-01-02T15:04:05.000Z"
)

// Options carries the explicit dates and the occurrence ceiling for Occurrences.
type Options struct {
	Extra   []time.Time // RDATE
	Exclude []time.Time // EXDATE
	Cap     int         // zero means DefaultCap
}

// Key renders t as the ISO-8601 UTC instant used to deduplicate occurrences
// and to build per-occurrence identifiers.
func Key(t time.Time) string {
	return t.UTC().Format(keyLayout)
}

// Occurrences expands rule relative to start. The master start is occurrence
// zero; candidates are found by walking forward one day at a time and testing
// each day against the rule. Extra dates are unioned in and excluded dates
// removed afterwards. The result is sorted, deduplicated by Key and never
// longer than the cap. A nil rule yields the start plus any extra dates.
func Occurrences(start time.Time, rule *Rule, opts Options) []time.Time {
	if start.IsZero() {
		return nil
	}
	limit := opts.Cap
	if limit <= 0 {
		limit = DefaultCap
	}

	set := map[string]time.Time{Key(start): start}

	if rule != nil {
		want := limit
		if rule.Count > 0 && rule.Count < want {
			want = rule.Count
		}
		n := 1
		for day := 1; day <= maxWalkDays && n < want; day++ {
			candidate := start.AddDate(0, 0, day)
			if rule.Until != nil && candidate.After(*rule.Until) {
				break
			}
			if !rule.matches(start, candidate, day) {
				continue
			}
			set[Key(candidate)] = candidate
			n++
		}
	}

	for _, t := range opts.Extra {
		if !t.IsZero() {
			set[Key(t)] = t
		}
	}
	for _, t := range opts.Exclude {
		delete(set, Key(t))
	}

	out := make([]time.Time, 0, len(set))
	for _, t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// matches reports whether candidate, dayOffset days after start, belongs to
// the rule.
func (r *Rule) matches(start, candidate time.Time, dayOffset int) bool {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}

	switch r.Freq {
	case Daily:
		if dayOffset%interval != 0 {
			return false
		}
		return len(r.ByDay) == 0 || containsWeekday(r.ByDay, candidate.Weekday())

	case Weekly:
		if (dayOffset/7)%interval != 0 {
			return false
		}
		if len(r.ByDay) == 0 {
			return candidate.Weekday() == start.Weekday()
		}
		return containsWeekday(r.ByDay, candidate.Weekday())

	case Monthly:
		months := (candidate.Year()-start.Year())*12 + int(candidate.Month()) - int(start.Month())
		if months%interval != 0 {
			return false
		}
		if len(r.ByMonthDay) == 0 {
			return candidate.Day() == start.Day()
		}
		return matchesMonthDay(r.ByMonthDay, candidate)

	case Yearly:
		years := candidate.Year() - start.Year()
		if years <= 0 || years%interval != 0 {
			return false
		}
		return candidate.Month() == start.Month() && candidate.Day() == start.Day()
	}
	return false
}

func containsWeekday(days []time.Weekday, wd time.Weekday) bool {
	for _, d := range days {
		if d == wd {
			return true
		}
	}
	return false
}

func matchesMonthDay(days []int, t time.Time) bool {
	last := daysIn(t.Year(), t.Month())
	for _, d := range days {
		if d > 0 && d == t.Day() {
			return true
		}
		if d < 0 && last+d+1 == t.Day() {
			return true
		}
	}
	return false
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
