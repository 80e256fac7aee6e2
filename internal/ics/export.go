package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/marcus/cadence/internal/models"
)

const productID = "-//cadence//calendar export//EN"

// Export serializes events as a VCALENDAR. Removed and cancelled events are
// kept with STATUS:CANCELLED so subscribers drop their copies; events
// without a start are skipped.
func Export(events []models.CalendarEvent, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for i := range events {
		ev := &events[i]
		if ev.Start.IsZero() {
			continue
		}
		uid := ev.SyncID
		if uid == "" {
			uid = ev.ExternalID()
		}
		if uid == "" {
			continue
		}

		vev := cal.AddEvent(uid)
		vev.SetDtStampTime(now.UTC())
		if !ev.CreatedAt.IsZero() {
			vev.SetCreatedTime(ev.CreatedAt.UTC())
		}
		if !ev.UpdatedAt.IsZero() {
			vev.SetModifiedAt(ev.UpdatedAt.UTC())
		}
		vev.SetStartAt(ev.Start.UTC())
		if ev.End.After(ev.Start) {
			vev.SetEndAt(ev.End.UTC())
		} else {
			vev.SetEndAt(ev.Start.Add(time.Duration(ev.DurationMinutes) * time.Minute).UTC())
		}
		vev.SetSummary(ev.Title)
		if ev.Notes != "" {
			vev.SetDescription(ev.Notes)
		}
		switch ev.Status {
		case models.StatusRemoved, models.StatusCancelled:
			vev.SetProperty(ical.ComponentPropertyStatus, "CANCELLED")
		default:
			vev.SetProperty(ical.ComponentPropertyStatus, "CONFIRMED")
		}
	}
	return cal.Serialize()
}
