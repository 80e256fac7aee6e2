// Package sync exchanges calendar events with a remote peer: it builds the
// outgoing change set, runs chunked round trips through a Transport, merges
// the peer's changes newest-wins and applies them without echoing them back.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/cadence/internal/models"
)

// Request is the body of one round trip.
type Request struct {
	Since  *string        `json:"since"`
	Events []EventPayload `json:"events"`
}

// Response carries every event the peer received after Since.
type Response struct {
	Events     []EventPayload `json:"events"`
	ServerTime string         `json:"serverTime,omitempty"`
}

// Transport performs one request/response exchange with the remote peer.
type Transport interface {
	Exchange(ctx context.Context, req *Request) (*Response, error)
}

// ErrInvalidPayload marks a wire record that cannot become a CalendarEvent.
var ErrInvalidPayload = errors.New("invalid event payload")

// EventPayload is the wire shape of a CalendarEvent. Times are ISO-8601
// strings; defaults are applied when the record is decoded.
type EventPayload struct {
	SyncID          string `json:"syncId"`
	Title           string `json:"title"`
	Notes           string `json:"notes,omitempty"`
	Date            string `json:"date,omitempty"`
	StartAt         string `json:"startAt"`
	EndAt           string `json:"endAt,omitempty"`
	DurationMinutes int    `json:"durationMinutes"`
	Difficulty      string `json:"difficulty,omitempty"`
	Type            string `json:"type,omitempty"`
	Color           string `json:"color,omitempty"`
	Status          string `json:"status"`
	Provider        string `json:"provider"`
	AccountID       string `json:"accountId,omitempty"`
	GoogleID        string `json:"googleId,omitempty"`
	OutlookID       string `json:"outlookId,omitempty"`
	ICSUID          string `json:"icsUid,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"`
	UpdatedAt       string `json:"updatedAt"`
}

// UnmarshalJSON decodes a payload and fills defaults for a missing
// duration, status or provider.
func (p *EventPayload) UnmarshalJSON(data []byte) error {
	type raw EventPayload
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*p = EventPayload(r)
	if p.DurationMinutes <= 0 {
		p.DurationMinutes = models.DefaultDurationMinutes
	}
	if p.Status == "" {
		p.Status = string(models.StatusActive)
	}
	if p.Provider == "" {
		p.Provider = string(models.ProviderLocal)
	}
	return nil
}

// FromEvent converts a stored event to its wire form.
func FromEvent(ev *models.CalendarEvent) EventPayload {
	return EventPayload{
		SyncID:          ev.SyncID,
		Title:           ev.Title,
		Notes:           ev.Notes,
		Date:            ev.Date,
		StartAt:         formatWireTime(ev.Start),
		EndAt:           formatWireTime(ev.End),
		DurationMinutes: ev.DurationMinutes,
		Difficulty:      ev.Difficulty,
		Type:            ev.Type,
		Color:           ev.Color,
		Status:          string(ev.Status),
		Provider:        string(ev.Provider),
		AccountID:       ev.AccountID,
		GoogleID:        ev.GoogleID,
		OutlookID:       ev.OutlookID,
		ICSUID:          ev.ICSUID,
		CreatedAt:       formatWireTime(ev.CreatedAt),
		UpdatedAt:       formatWireTime(ev.UpdatedAt),
	}
}

// Version returns the payload's updatedAt.
func (p *EventPayload) Version() (time.Time, error) {
	if p.UpdatedAt == "" {
		return time.Time{}, fmt.Errorf("%w: missing updatedAt", ErrInvalidPayload)
	}
	t, err := parseWireTime(p.UpdatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: updatedAt: %v", ErrInvalidPayload, err)
	}
	return t, nil
}

// ToEvent validates the payload and converts it. A record without sync id,
// version or start instant is unrepresentable and yields ErrInvalidPayload.
func (p *EventPayload) ToEvent() (models.CalendarEvent, error) {
	var ev models.CalendarEvent
	if p.SyncID == "" {
		return ev, fmt.Errorf("%w: missing syncId", ErrInvalidPayload)
	}
	version, err := p.Version()
	if err != nil {
		return ev, err
	}
	if p.StartAt == "" {
		return ev, fmt.Errorf("%w: %s has no start", ErrInvalidPayload, p.SyncID)
	}
	start, err := parseWireTime(p.StartAt)
	if err != nil {
		return ev, fmt.Errorf("%w: %s startAt: %v", ErrInvalidPayload, p.SyncID, err)
	}

	ev = models.CalendarEvent{
		SyncID:          p.SyncID,
		Title:           p.Title,
		Notes:           p.Notes,
		Date:            p.Date,
		Start:           start,
		DurationMinutes: p.DurationMinutes,
		Difficulty:      p.Difficulty,
		Type:            p.Type,
		Color:           p.Color,
		Status:          models.Status(p.Status),
		Provider:        models.Provider(p.Provider),
		AccountID:       p.AccountID,
		GoogleID:        p.GoogleID,
		OutlookID:       p.OutlookID,
		ICSUID:          p.ICSUID,
		UpdatedAt:       version,
	}
	if p.EndAt != "" {
		if end, err := parseWireTime(p.EndAt); err == nil {
			ev.End = end
		}
	}
	ev.CreatedAt = version
	if p.CreatedAt != "" {
		if created, err := parseWireTime(p.CreatedAt); err == nil {
			ev.CreatedAt = created
		}
	}
	if !ev.Status.IsValid() {
		ev.Status = models.StatusActive
	}
	if !ev.Provider.IsValid() {
		ev.Provider = models.ProviderLocal
	}
	ev.Normalize()
	return ev, nil
}

func formatWireTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseWireTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
