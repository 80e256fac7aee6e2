package ics

import (
	"log/slog"
	"strings"
	"time"

	ical "github.com/emersion/go-ical"
)

// windowsToIANA maps the zone names Outlook and Exchange put in TZID to
// their IANA equivalents.
var windowsToIANA = map[string]string{
	"Dateline Standard Time":          "Etc/GMT+12",
	"Hawaiian Standard Time":          "Pacific/Honolulu",
	"Alaskan Standard Time":           "America/Anchorage",
	"Pacific Standard Time":           "America/Los_Angeles",
	"US Mountain Standard Time":       "America/Phoenix",
	"Mountain Standard Time":          "America/Denver",
	"Central Standard Time":           "America/Chicago",
	"Central America Standard Time":   "America/Guatemala",
	"Canada Central Standard Time":    "America/Regina",
	"Eastern Standard Time":           "America/New_York",
	"US Eastern Standard Time":        "America/Indianapolis",
	"Atlantic Standard Time":          "America/Halifax",
	"Newfoundland Standard Time":      "America/St_Johns",
	"E. South America Standard Time":  "America/Sao_Paulo",
	"Argentina Standard Time":         "America/Buenos_Aires",
	"UTC":                             "UTC",
	"GMT Standard Time":               "Europe/London",
	"Greenwich Standard Time":         "Atlantic/Reykjavik",
	"W. Europe Standard Time":         "Europe/Berlin",
	"Central Europe Standard Time":    "Europe/Budapest",
	"Central European Standard Time":  "Europe/Warsaw",
	"Romance Standard Time":           "Europe/Paris",
	"E. Europe Standard Time":         "Europe/Chisinau",
	"FLE Standard Time":               "Europe/Kiev",
	"GTB Standard Time":               "Europe/Bucharest",
	"Israel Standard Time":            "Asia/Jerusalem",
	"South Africa Standard Time":      "Africa/Johannesburg",
	"Russian Standard Time":           "Europe/Moscow",
	"Arabian Standard Time":           "Asia/Dubai",
	"India Standard Time":             "Asia/Kolkata",
	"SE Asia Standard Time":           "Asia/Bangkok",
	"China Standard Time":             "Asia/Shanghai",
	"Singapore Standard Time":         "Asia/Singapore",
	"Tokyo Standard Time":             "Asia/Tokyo",
	"Korea Standard Time":             "Asia/Seoul",
	"AUS Central Standard Time":       "Australia/Darwin",
	"E. Australia Standard Time":      "Australia/Brisbane",
	"AUS Eastern Standard Time":       "Australia/Sydney",
	"New Zealand Standard Time":       "Pacific/Auckland",
	"W. Australia Standard Time":      "Australia/Perth",
	"Cen. Australia Standard Time":    "Australia/Adelaide",
	"Tasmania Standard Time":          "Australia/Hobart",
	"Pacific SA Standard Time":        "America/Santiago",
	"SA Pacific Standard Time":        "America/Bogota",
	"Mexico Standard Time":            "America/Mexico_City",
	"Central Standard Time (Mexico)":  "America/Mexico_City",
	"Turkey Standard Time":            "Europe/Istanbul",
	"Egypt Standard Time":             "Africa/Cairo",
	"Pakistan Standard Time":          "Asia/Karachi",
	"Bangladesh Standard Time":        "Asia/Dhaka",
	"Taipei Standard Time":            "Asia/Taipei",
	"W. Central Africa Standard Time": "Africa/Lagos",
	"E. Africa Standard Time":         "Africa/Nairobi",
}

// timedProps carry date-time values whose TZID must resolve.
var timedProps = []string{
	ical.PropDateTimeStart,
	ical.PropDateTimeEnd,
	ical.PropRecurrenceDates,
	ical.PropExceptionDates,
	ical.PropRecurrenceID,
}

// normalizeTimezones rewrites Windows zone names to IANA ones and drops any
// TZID that still cannot be loaded, so the value floats in the feed location
// instead of failing to parse.
func normalizeTimezones(props ical.Props) {
	for _, name := range timedProps {
		values := props.Values(name)
		for i := range values {
			p := &values[i]
			tzid := strings.Trim(p.Params.Get(ical.ParamTimezoneID), `"`)
			if tzid == "" {
				continue
			}
			if iana, ok := resolveTZID(tzid); ok {
				p.Params.Set(ical.ParamTimezoneID, iana)
				continue
			}
			slog.Debug("ics: unknown TZID, using feed location", "prop", name, "tzid", tzid)
			p.Params.Del(ical.ParamTimezoneID)
		}
	}
}

// resolveTZID returns a name time.LoadLocation accepts.
func resolveTZID(tzid string) (string, bool) {
	if iana, ok := windowsToIANA[tzid]; ok {
		tzid = iana
	}
	if _, err := time.LoadLocation(tzid); err != nil {
		return "", false
	}
	return tzid, true
}
