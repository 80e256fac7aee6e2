package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marcus/cadence/internal/sync"
)

func TestExchange_SendsAuthAndDecodes(t *testing.T) {
	var got sync.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/sync" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer k1" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"events":[{"syncId":"s2","title":"Remote","startAt":"2025-03-01T09:00:00Z","updatedAt":"2025-03-01T10:00:00Z"}],"serverTime":"2025-03-01T10:00:01Z"}`))
	}))
	defer srv.Close()

	since := "2025-03-01T00:00:00Z"
	c := New(srv.URL+"/", "k1")
	resp, err := c.Exchange(context.Background(), &sync.Request{
		Since:  &since,
		Events: []sync.EventPayload{{SyncID: "s1", Title: "Local", UpdatedAt: "2025-03-01T08:00:00Z"}},
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if got.Since == nil || *got.Since != since || len(got.Events) != 1 || got.Events[0].SyncID != "s1" {
		t.Errorf("server saw %+v", got)
	}
	if len(resp.Events) != 1 || resp.ServerTime != "2025-03-01T10:00:01Z" {
		t.Fatalf("response = %+v", resp)
	}
	// Decoding applies wire defaults
	if ev := resp.Events[0]; ev.DurationMinutes != 30 || ev.Status != "active" || ev.Provider != "local" {
		t.Errorf("defaults not applied: %+v", ev)
	}
}

func TestExchange_NullSinceOnFirstSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		json.NewDecoder(r.Body).Decode(&raw)
		if string(raw["since"]) != "null" {
			t.Errorf("since = %s, want null", raw["since"])
		}
		w.Write([]byte(`{"events":[]}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "").Exchange(context.Background(), &sync.Request{}); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
}

func TestDoRequest_ErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{"error":{"code":"unauthorized","message":"bad key"}}`, ErrUnauthorized},
		{http.StatusForbidden, `{"error":{"code":"forbidden","message":"no"}}`, ErrForbidden},
		{http.StatusNotFound, `not here`, ErrNotFound},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(tc.body))
		}))
		_, err := New(srv.URL, "k").Exchange(context.Background(), &sync.Request{})
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestDoRequest_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":"internal","message":"db down"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Exchange(context.Background(), &sync.Request{})
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("err = %v", err)
	}
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Code != "internal" {
		t.Errorf("expected wrapped apiError, got %T", err)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("health check must not send credentials")
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	resp, err := New(srv.URL, "secret").HealthCheck(context.Background())
	if err != nil || resp.Status != "ok" {
		t.Fatalf("HealthCheck = %+v, %v", resp, err)
	}
}
