package models

import (
	"time"
)

// Status represents the lifecycle state of a calendar event
type Status string

const (
	StatusActive    Status = "active"
	StatusRemoved   Status = "removed"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusRemoved, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// Provider identifies where an event originated
type Provider string

const (
	ProviderLocal   Provider = "local"
	ProviderGoogle  Provider = "google"
	ProviderOutlook Provider = "outlook"
	ProviderICS     Provider = "ics"
)

// IsValid reports whether p is a known provider
func (p Provider) IsValid() bool {
	switch p {
	case ProviderLocal, ProviderGoogle, ProviderOutlook, ProviderICS:
		return true
	}
	return false
}

// DefaultDurationMinutes is used when an event carries no duration.
const DefaultDurationMinutes = 30

// DateLayout is the layout of CalendarEvent.Date
const DateLayout = "2006-01-02"

// CalendarEvent is the canonical unit stored locally and exchanged with peers.
//
// SyncID is assigned once at creation and joins the same logical event across
// replicas. UpdatedAt doubles as the event's version stamp.
type CalendarEvent struct {
	ID              int64     `json:"id"`
	SyncID          string    `json:"sync_id"`
	Title           string    `json:"title"`
	Notes           string    `json:"notes,omitempty"`
	Date            string    `json:"date"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Difficulty      string    `json:"difficulty,omitempty"`
	Type            string    `json:"type,omitempty"`
	Color           string    `json:"color,omitempty"`
	Status          Status    `json:"status"`
	Provider        Provider  `json:"provider"`
	AccountID       string    `json:"account_id,omitempty"`
	GoogleID        string    `json:"google_id,omitempty"`
	OutlookID       string    `json:"outlook_id,omitempty"`
	ICSUID          string    `json:"ics_uid,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ExternalID returns the provider-native identifier for the event's provider.
func (e *CalendarEvent) ExternalID() string {
	switch e.Provider {
	case ProviderGoogle:
		return e.GoogleID
	case ProviderOutlook:
		return e.OutlookID
	case ProviderICS:
		return e.ICSUID
	}
	return ""
}

// SetExternalID stores id in the field matching the event's provider.
func (e *CalendarEvent) SetExternalID(id string) {
	switch e.Provider {
	case ProviderGoogle:
		e.GoogleID = id
	case ProviderOutlook:
		e.OutlookID = id
	case ProviderICS:
		e.ICSUID = id
	}
}

// Normalize fills derived fields: Date from Start, End from the duration (or
// the duration from End), and the default duration and status.
func (e *CalendarEvent) Normalize() {
	if e.Status == "" {
		e.Status = StatusActive
	}
	if e.Provider == "" {
		e.Provider = ProviderLocal
	}
	if e.Start.IsZero() {
		if e.DurationMinutes <= 0 {
			e.DurationMinutes = DefaultDurationMinutes
		}
		return
	}
	if e.Date == "" {
		e.Date = e.Start.Format(DateLayout)
	}
	switch {
	case e.End.After(e.Start) && e.DurationMinutes <= 0:
		e.DurationMinutes = int(e.End.Sub(e.Start) / time.Minute)
	case e.End.IsZero() || !e.End.After(e.Start):
		if e.DurationMinutes <= 0 {
			e.DurationMinutes = DefaultDurationMinutes
		}
		e.End = e.Start.Add(time.Duration(e.DurationMinutes) * time.Minute)
	}
	if e.DurationMinutes <= 0 {
		e.DurationMinutes = DefaultDurationMinutes
	}
}

// SameContent reports whether two events carry identical user-visible fields,
// ignoring row identity, sync identity and timestamps.
func (e *CalendarEvent) SameContent(o *CalendarEvent) bool {
	return e.Title == o.Title &&
		e.Notes == o.Notes &&
		e.Date == o.Date &&
		e.Start.Equal(o.Start) &&
		e.End.Equal(o.End) &&
		e.DurationMinutes == o.DurationMinutes &&
		e.Difficulty == o.Difficulty &&
		e.Type == o.Type &&
		e.Color == o.Color &&
		e.Status == o.Status
}

// AccountStatus is the outcome of the last provider pull for an account
type AccountStatus string

const (
	AccountOK      AccountStatus = "ok"
	AccountSyncing AccountStatus = "syncing"
	AccountError   AccountStatus = "error"
)

// Account is a connected Google or Outlook calendar account.
type Account struct {
	ID            string        `json:"id"`
	Provider      Provider      `json:"provider"`
	Email         string        `json:"email"`
	AccessToken   string        `json:"-"`
	RefreshToken  string        `json:"-"`
	TokenExpiry   time.Time     `json:"token_expiry"`
	Status        AccountStatus `json:"status"`
	StatusMessage string        `json:"status_message,omitempty"`
	LastSyncAt    *time.Time    `json:"last_sync_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}
