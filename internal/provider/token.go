package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/marcus/cadence/internal/models"
)

// ErrTokenRefresh is returned when neither the provider nor the backend
// could mint a fresh access token.
var ErrTokenRefresh = errors.New("token refresh failed")

// DefaultExpiryMargin is how close to expiry a token may get before it is
// refreshed instead of reused.
const DefaultExpiryMargin = 2 * time.Minute

// OAuthApp is the client registration used to refresh tokens directly at
// the provider.
type OAuthApp struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url,omitempty"`
}

// DefaultTokenURL returns the provider's OAuth token endpoint.
func DefaultTokenURL(p models.Provider) string {
	switch p {
	case models.ProviderGoogle:
		return endpoints.Google.TokenURL
	case models.ProviderOutlook:
		return endpoints.AzureAD("common").TokenURL
	}
	return ""
}

// TokenStore persists refreshed tokens.
type TokenStore interface {
	UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
}

// TokenManager hands out access tokens for connected accounts. A stored token
// is reused until it is within Margin of expiring; then it is refreshed at the
// provider, and if that fails, through the backend's refresh endpoint.
type TokenManager struct {
	Apps       map[models.Provider]OAuthApp
	BackendURL string
	BackendKey string
	Store      TokenStore
	HTTP       *http.Client
	Margin     time.Duration
	Now        func() time.Time
}

// Token is a freshly minted access token.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

func (m *TokenManager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *TokenManager) client() *http.Client {
	if m.HTTP != nil {
		return m.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// AccessToken returns a usable access token for acct, refreshing and
// persisting it when needed. acct is updated in place.
func (m *TokenManager) AccessToken(ctx context.Context, acct *models.Account) (string, error) {
	margin := m.Margin
	if margin <= 0 {
		margin = DefaultExpiryMargin
	}
	if acct.AccessToken != "" && m.now().Add(margin).Before(acct.TokenExpiry) {
		return acct.AccessToken, nil
	}
	if acct.RefreshToken == "" {
		return "", fmt.Errorf("%w: account %s has no refresh token", ErrTokenRefresh, acct.ID)
	}

	tok, directErr := m.refreshDirect(ctx, acct)
	if directErr != nil {
		slog.Warn("provider: direct token refresh failed, trying backend",
			"account", acct.ID, "provider", acct.Provider, "err", directErr)
		var backendErr error
		tok, backendErr = m.refreshBackend(ctx, acct)
		if backendErr != nil {
			return "", fmt.Errorf("%w: direct: %v; backend: %v", ErrTokenRefresh, directErr, backendErr)
		}
	}

	if m.Store != nil {
		if err := m.Store.UpdateAccountTokens(ctx, acct.ID, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
			return "", fmt.Errorf("save refreshed token: %w", err)
		}
	}
	acct.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		acct.RefreshToken = tok.RefreshToken
	}
	acct.TokenExpiry = tok.Expiry
	return tok.AccessToken, nil
}

func (m *TokenManager) refreshDirect(ctx context.Context, acct *models.Account) (*Token, error) {
	app, ok := m.Apps[acct.Provider]
	if !ok || app.ClientID == "" {
		return nil, fmt.Errorf("no oauth client configured for %s", acct.Provider)
	}
	tokenURL := app.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL(acct.Provider)
	}
	conf := &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client())
	t, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: acct.RefreshToken}).Token()
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, Expiry: t.Expiry}, nil
}

type backendRefreshRequest struct {
	AccountID    string `json:"accountId"`
	RefreshToken string `json:"refreshToken"`
}

type backendRefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// refreshBackend asks the backend to refresh on our behalf; it holds the
// client secret when this install does not.
func (m *TokenManager) refreshBackend(ctx context.Context, acct *models.Account) (*Token, error) {
	if m.BackendURL == "" {
		return nil, errors.New("no backend configured")
	}
	body, err := json.Marshal(backendRefreshRequest{AccountID: acct.ID, RefreshToken: acct.RefreshToken})
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(m.BackendURL, "/") + "/v1/oauth/" + string(acct.Provider) + "/refresh"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.BackendKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.BackendKey)
	}

	resp, err := m.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newHTTPError(resp.StatusCode, data)
	}

	var out backendRefreshResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, errors.New("backend returned no access token")
	}
	tok := &Token{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if out.ExpiresIn > 0 {
		tok.Expiry = m.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return tok, nil
}
