package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marcus/cadence/internal/models"
)

// DefaultOutlookBaseURL is the Microsoft Graph host.
const DefaultOutlookBaseURL = "https://graph.microsoft.com"

// graphTimeLayout is how Graph formats dateTimeTimeZone values.
const graphTimeLayout = "2006-01-02T15:04:05.9999999"

// OutlookSource lists and deletes events in the signed-in user's default
// Outlook calendar through Microsoft Graph.
type OutlookSource struct {
	BaseURL string
	HTTP    *http.Client
}

type graphTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEvent struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	BodyPreview string    `json:"bodyPreview"`
	IsCancelled bool      `json:"isCancelled"`
	IsAllDay    bool      `json:"isAllDay"`
	ShowAs      string    `json:"showAs"`
	Categories  []string  `json:"categories"`
	Start       graphTime `json:"start"`
	End         graphTime `json:"end"`
}

type graphEventList struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

func (s *OutlookSource) Provider() models.Provider { return models.ProviderOutlook }

func (s *OutlookSource) base() string {
	if s.BaseURL == "" {
		return DefaultOutlookBaseURL
	}
	return strings.TrimRight(s.BaseURL, "/")
}

func (s *OutlookSource) client() *http.Client {
	if s.HTTP == nil {
		return http.DefaultClient
	}
	return s.HTTP
}

// List reads the calendar view for the window, following @odata.nextLink
// until the last page.
func (s *OutlookSource) List(ctx context.Context, token string, w Window) ([]models.CalendarEvent, error) {
	q := url.Values{}
	q.Set("startDateTime", w.From.UTC().Format(time.RFC3339))
	q.Set("endDateTime", w.To.UTC().Format(time.RFC3339))
	q.Set("$top", "100")
	next := s.base() + "/v1.0/me/calendarView?" + q.Encode()

	header := http.Header{}
	header.Set("Prefer", `outlook.timezone="UTC"`)

	var out []models.CalendarEvent
	for next != "" {
		var page graphEventList
		if err := do(ctx, s.client(), http.MethodGet, next, token, header, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Value {
			ev, ok := item.toEvent()
			if !ok {
				slog.Debug("provider: dropping outlook event without start", "id", item.ID)
				continue
			}
			out = append(out, ev)
		}
		next = page.NextLink
	}
	return out, nil
}

// Delete removes the event from Outlook. An event that is already gone
// counts as deleted.
func (s *OutlookSource) Delete(ctx context.Context, token, externalID string) error {
	u := s.base() + "/v1.0/me/events/" + url.PathEscape(externalID)
	err := do(ctx, s.client(), http.MethodDelete, u, token, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (g graphEvent) toEvent() (models.CalendarEvent, bool) {
	start, ok := g.Start.parse()
	if !ok {
		return models.CalendarEvent{}, false
	}
	ev := models.CalendarEvent{
		Title:     g.Subject,
		Notes:     g.BodyPreview,
		Start:     start,
		Type:      g.ShowAs,
		Status:    models.StatusActive,
		Provider:  models.ProviderOutlook,
		OutlookID: g.ID,
	}
	if len(g.Categories) > 0 {
		ev.Color = g.Categories[0]
	}
	if end, ok := g.End.parse(); ok && end.After(start) {
		ev.End = end
	}
	if g.IsCancelled {
		ev.Status = models.StatusRemoved
	}
	ev.Normalize()
	return ev, true
}

func (t graphTime) parse() (time.Time, bool) {
	if t.DateTime == "" {
		return time.Time{}, false
	}
	loc := time.UTC
	if t.TimeZone != "" && t.TimeZone != "UTC" {
		if l, err := time.LoadLocation(t.TimeZone); err == nil {
			loc = l
		}
	}
	v, err := time.ParseInLocation(graphTimeLayout, t.DateTime, loc)
	if err != nil {
		return time.Time{}, false
	}
	return v.UTC(), true
}
