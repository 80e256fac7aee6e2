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

// DefaultGoogleBaseURL is the Google Calendar API host.
const DefaultGoogleBaseURL = "https://www.googleapis.com"

// GoogleSource lists and deletes events in the primary Google calendar.
type GoogleSource struct {
	BaseURL string
	HTTP    *http.Client
}

type googleTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

type googleEvent struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Summary     string     `json:"summary"`
	Description string     `json:"description"`
	ColorID     string     `json:"colorId"`
	EventType   string     `json:"eventType"`
	Start       googleTime `json:"start"`
	End         googleTime `json:"end"`
}

type googleEventList struct {
	Items         []googleEvent `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
}

func (s *GoogleSource) Provider() models.Provider { return models.ProviderGoogle }

func (s *GoogleSource) base() string {
	if s.BaseURL == "" {
		return DefaultGoogleBaseURL
	}
	return strings.TrimRight(s.BaseURL, "/")
}

func (s *GoogleSource) client() *http.Client {
	if s.HTTP == nil {
		return http.DefaultClient
	}
	return s.HTTP
}

// List pages through the window with recurring events expanded to single
// instances.
func (s *GoogleSource) List(ctx context.Context, token string, w Window) ([]models.CalendarEvent, error) {
	var out []models.CalendarEvent
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("timeMin", w.From.UTC().Format(time.RFC3339))
		q.Set("timeMax", w.To.UTC().Format(time.RFC3339))
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")
		q.Set("showDeleted", "true")
		q.Set("maxResults", "250")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page googleEventList
		u := s.base() + "/calendar/v3/calendars/primary/events?" + q.Encode()
		if err := do(ctx, s.client(), http.MethodGet, u, token, nil, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			ev, ok := item.toEvent()
			if !ok {
				slog.Debug("provider: dropping google event without start", "id", item.ID)
				continue
			}
			out = append(out, ev)
		}

		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// Delete removes the event at Google. An event that is already gone counts
// as deleted.
func (s *GoogleSource) Delete(ctx context.Context, token, externalID string) error {
	u := s.base() + "/calendar/v3/calendars/primary/events/" + url.PathEscape(externalID)
	err := do(ctx, s.client(), http.MethodDelete, u, token, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (g googleEvent) toEvent() (models.CalendarEvent, bool) {
	start, ok := g.Start.parse()
	if !ok {
		return models.CalendarEvent{}, false
	}
	ev := models.CalendarEvent{
		Title:    g.Summary,
		Notes:    g.Description,
		Start:    start,
		Color:    g.ColorID,
		Type:     g.EventType,
		Status:   models.StatusActive,
		Provider: models.ProviderGoogle,
		GoogleID: g.ID,
	}
	if end, ok := g.End.parse(); ok && end.After(start) {
		ev.End = end
	}
	if g.Status == "cancelled" {
		ev.Status = models.StatusRemoved
	}
	ev.Normalize()
	return ev, true
}

func (t googleTime) parse() (time.Time, bool) {
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return v.UTC(), true
	}
	if t.Date != "" {
		// All-day events carry a floating date; pin it to UTC midnight so
		// the stored date matches what the provider shows.
		v, err := time.Parse(models.DateLayout, t.Date)
		if err != nil {
			return time.Time{}, false
		}
		return v, true
	}
	return time.Time{}, false
}
