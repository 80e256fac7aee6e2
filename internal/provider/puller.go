// Package provider pulls events from connected Google and Outlook accounts
// into the local store.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/cadence/internal/db"
	"github.com/marcus/cadence/internal/models"
)

// Pull window defaults.
const (
	DefaultLookBack       = 30 * 24 * time.Hour
	DefaultLookAhead      = 365 * 24 * time.Hour
	DefaultFirstLookAhead = 30 * 24 * time.Hour
)

// Window is the time range a pull covers.
type Window struct {
	From, To time.Time
}

// Source talks to one provider's calendar API.
type Source interface {
	Provider() models.Provider
	List(ctx context.Context, token string, w Window) ([]models.CalendarEvent, error)
	Delete(ctx context.Context, token, externalID string) error
}

// Store is the slice of the local store a Puller needs.
type Store interface {
	TokenStore
	SetAccountStatus(ctx context.Context, id string, status models.AccountStatus, message string, lastSyncAt *time.Time) error
	ReplaceProviderEvents(ctx context.Context, provider models.Provider, accountID string, fetched []models.CalendarEvent) (db.ReplaceResult, error)
}

// Puller mirrors provider calendars into the local store.
type Puller struct {
	Store   Store
	Tokens  *TokenManager
	Sources map[models.Provider]Source

	LookBack       time.Duration
	LookAhead      time.Duration
	FirstLookAhead time.Duration
	Now            func() time.Time
}

// NewPuller returns a Puller with the Google and Outlook sources and the
// default window.
func NewPuller(store Store, tokens *TokenManager) *Puller {
	if tokens.Store == nil {
		tokens.Store = store
	}
	return &Puller{
		Store:  store,
		Tokens: tokens,
		Sources: map[models.Provider]Source{
			models.ProviderGoogle:  &GoogleSource{HTTP: tokens.HTTP},
			models.ProviderOutlook: &OutlookSource{HTTP: tokens.HTTP},
		},
		LookBack:       DefaultLookBack,
		LookAhead:      DefaultLookAhead,
		FirstLookAhead: DefaultFirstLookAhead,
	}
}

func (p *Puller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// window is the pull range for acct. An account that has never synced gets
// the shorter first look-ahead so the first pull stays quick.
func (p *Puller) window(acct *models.Account) Window {
	now := p.now().UTC()
	ahead := p.LookAhead
	if acct.LastSyncAt == nil && p.FirstLookAhead > 0 {
		ahead = p.FirstLookAhead
	}
	return Window{From: now.Add(-p.LookBack), To: now.Add(ahead)}
}

func (p *Puller) source(provider models.Provider) (Source, error) {
	src, ok := p.Sources[provider]
	if !ok {
		return nil, fmt.Errorf("no source for provider %q", provider)
	}
	return src, nil
}

// Pull fetches acct's events for the current window and replaces the
// account's imported events with them. On failure the account is marked
// errored and its events are left as they were.
func (p *Puller) Pull(ctx context.Context, acct *models.Account) (db.ReplaceResult, error) {
	log := slog.With("account", acct.ID, "provider", acct.Provider)

	if err := p.Store.SetAccountStatus(ctx, acct.ID, models.AccountSyncing, "", nil); err != nil {
		return db.ReplaceResult{}, fmt.Errorf("mark syncing: %w", err)
	}

	res, err := p.pull(ctx, acct)
	if err != nil {
		log.Warn("provider pull failed", "err", err)
		// The caller's context may be what failed; record the outcome anyway.
		if serr := p.Store.SetAccountStatus(context.WithoutCancel(ctx), acct.ID, models.AccountError, err.Error(), nil); serr != nil {
			log.Error("record account error", "err", serr)
		}
		acct.Status = models.AccountError
		acct.StatusMessage = err.Error()
		return db.ReplaceResult{}, err
	}

	now := p.now().UTC()
	if err := p.Store.SetAccountStatus(ctx, acct.ID, models.AccountOK, "", &now); err != nil {
		return res, fmt.Errorf("mark ok: %w", err)
	}
	acct.Status = models.AccountOK
	acct.StatusMessage = ""
	acct.LastSyncAt = &now

	log.Info("provider pull", "inserted", res.Inserted, "updated", res.Updated,
		"unchanged", res.Unchanged, "removed", res.Removed)
	return res, nil
}

func (p *Puller) pull(ctx context.Context, acct *models.Account) (db.ReplaceResult, error) {
	src, err := p.source(acct.Provider)
	if err != nil {
		return db.ReplaceResult{}, err
	}
	token, err := p.Tokens.AccessToken(ctx, acct)
	if err != nil {
		return db.ReplaceResult{}, err
	}
	events, err := src.List(ctx, token, p.window(acct))
	if err != nil {
		return db.ReplaceResult{}, fmt.Errorf("list %s events: %w", acct.Provider, err)
	}
	res, err := p.Store.ReplaceProviderEvents(ctx, acct.Provider, acct.ID, events)
	if err != nil {
		return db.ReplaceResult{}, fmt.Errorf("replace events: %w", err)
	}
	return res, nil
}

// PullAll pulls every account in turn. One account failing does not stop
// the others; the failures are joined.
func (p *Puller) PullAll(ctx context.Context, accounts []models.Account) error {
	var errs []error
	for i := range accounts {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := p.Pull(ctx, &accounts[i]); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", accounts[i].ID, err))
		}
	}
	return errors.Join(errs...)
}

// DeleteRemote deletes one event at the account's provider.
func (p *Puller) DeleteRemote(ctx context.Context, acct *models.Account, externalID string) error {
	if externalID == "" {
		return errors.New("delete remote: empty external id")
	}
	src, err := p.source(acct.Provider)
	if err != nil {
		return err
	}
	token, err := p.Tokens.AccessToken(ctx, acct)
	if err != nil {
		return err
	}
	if err := src.Delete(ctx, token, externalID); err != nil {
		return fmt.Errorf("delete %s event %s: %w", acct.Provider, externalID, err)
	}
	return nil
}
