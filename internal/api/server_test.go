package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marcus/cadence/internal/serverdb"
)

// newTestServer creates a Server backed by an in-memory server database.
// Zero rate limits are raised so tests only hit the limits they set.
func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	store, err := serverdb.Open(":memory:")
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if cfg.RateLimitSync == 0 {
		cfg.RateLimitSync = 100000
	}
	if cfg.RateLimitOther == 0 {
		cfg.RateLimitOther = 100000
	}
	cfg.ListenAddr = ":0"

	srv, err := NewServer(cfg, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	t.Cleanup(srv.cancel)
	return srv
}

func createTestKey(t *testing.T, srv *Server) string {
	t.Helper()
	token, _, err := srv.store.GenerateAPIKey("test", nil)
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}
	return token
}

func doRequest(srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		json.NewEncoder(&buf).Encode(b)
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func event(syncID, title, updatedAt string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"syncId":%q,"title":%q,"updatedAt":%q}`, syncID, title, updatedAt))
}

func decodeSync(t *testing.T, w *httptest.ResponseRecorder) SyncResponse {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("sync: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp SyncResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode sync response: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{RequireAuth: true})

	w := doRequest(srv, "GET", "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestSyncRequiresAuth(t *testing.T) {
	srv := newTestServer(t, Config{RequireAuth: true})

	w := doRequest(srv, "POST", "/v1/sync", "", SyncRequest{})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = doRequest(srv, "POST", "/v1/sync", "cad_live_bogus", SyncRequest{})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bogus key: expected 401, got %d", w.Code)
	}

	var resp ErrorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != ErrCodeUnauthorized {
		t.Fatalf("expected code %q, got %q", ErrCodeUnauthorized, resp.Error.Code)
	}

	token := createTestKey(t, srv)
	w = doRequest(srv, "POST", "/v1/sync", token, SyncRequest{})
	decodeSync(t, w)
}

func TestSyncRevokedKeyRejected(t *testing.T) {
	srv := newTestServer(t, Config{RequireAuth: true})
	token, key, err := srv.store.GenerateAPIKey("laptop", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := srv.store.RevokeAPIKey(key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	w := doRequest(srv, "POST", "/v1/sync", token, SyncRequest{})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after revoke, got %d", w.Code)
	}
}

func TestSyncPushAndPull(t *testing.T) {
	srv := newTestServer(t, Config{})

	resp := decodeSync(t, doRequest(srv, "POST", "/v1/sync", "", SyncRequest{
		Events: []json.RawMessage{
			event("a", "standup", "2025-01-01T09:00:00Z"),
			event("b", "lunch", "2025-01-01T12:00:00Z"),
		},
	}))
	if resp.Accepted != 2 || resp.Ignored != 0 {
		t.Fatalf("expected 2 accepted, got %+v", resp)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("first sync returns everything, got %d events", len(resp.Events))
	}
	if resp.ServerTime == "" {
		t.Fatal("expected serverTime")
	}

	// Nothing new since the last server time
	since := resp.ServerTime
	resp = decodeSync(t, doRequest(srv, "POST", "/v1/sync", "", SyncRequest{Since: &since}))
	if len(resp.Events) != 0 {
		t.Fatalf("expected no events since %s, got %d", since, len(resp.Events))
	}

	// A newer version comes back verbatim; an older one is ignored
	resp = decodeSync(t, doRequest(srv, "POST", "/v1/sync", "", SyncRequest{
		Since: &since,
		Events: []json.RawMessage{
			event("a", "standup (moved)", "2025-01-02T09:00:00Z"),
			event("b", "stale lunch", "2024-12-31T12:00:00Z"),
		},
	}))
	if resp.Accepted != 1 || resp.Ignored != 1 {
		t.Fatalf("expected 1 accepted 1 ignored, got %+v", resp)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("expected 1 changed event, got %d", len(resp.Events))
	}
	if !strings.Contains(string(resp.Events[0]), "standup (moved)") {
		t.Fatalf("expected new payload, got %s", resp.Events[0])
	}
}

func TestSyncRejectsMalformedEvents(t *testing.T) {
	srv := newTestServer(t, Config{})

	resp := decodeSync(t, doRequest(srv, "POST", "/v1/sync", "", SyncRequest{
		Events: []json.RawMessage{
			json.RawMessage(`{"title":"no id","updatedAt":"2025-01-01T00:00:00Z"}`),
			json.RawMessage(`{"syncId":"x","updatedAt":"yesterday"}`),
			event("ok", "fine", "2025-01-01T00:00:00Z"),
		},
	}))
	if resp.Accepted != 1 || resp.Rejected != 2 {
		t.Fatalf("expected 1 accepted 2 rejected, got %+v", resp)
	}
}

func TestSyncBadRequests(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := doRequest(srv, "POST", "/v1/sync", "", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", w.Code)
	}

	bad := "last tuesday"
	w = doRequest(srv, "POST", "/v1/sync", "", SyncRequest{Since: &bad})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad since: expected 400, got %d", w.Code)
	}

	events := make([]json.RawMessage, maxEventsPerRequest+1)
	for i := range events {
		events[i] = event(fmt.Sprintf("e%d", i), "x", "2025-01-01T00:00:00Z")
	}
	w = doRequest(srv, "POST", "/v1/sync", "", SyncRequest{Events: events})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized batch: expected 400, got %d", w.Code)
	}

	w = doRequest(srv, "GET", "/v1/sync", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: expected 405, got %d", w.Code)
	}
}

func TestSyncBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, Config{MaxBodyBytes: 256})

	big := strings.Repeat("x", 1024)
	w := doRequest(srv, "POST", "/v1/sync", "", SyncRequest{
		Events: []json.RawMessage{event("a", big, "2025-01-01T00:00:00Z")},
	})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSyncRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{RequireAuth: true, RateLimitSync: 3})
	token := createTestKey(t, srv)

	for i := 1; i <= 4; i++ {
		w := doRequest(srv, "POST", "/v1/sync", token, SyncRequest{})
		if i <= 3 && w.Code != http.StatusOK {
			t.Fatalf("sync %d: expected 200, got %d", i, w.Code)
		}
		if i == 4 && w.Code != http.StatusTooManyRequests {
			t.Fatalf("sync %d: expected 429, got %d", i, w.Code)
		}
	}

	events, err := srv.store.RecentRateLimitEvents(10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 1 || events[0].KeyID == "" {
		t.Fatalf("expected one key-scoped event, got %+v", events)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})

	decodeSync(t, doRequest(srv, "POST", "/v1/sync", "", SyncRequest{
		Events: []json.RawMessage{event("a", "x", "2025-01-01T00:00:00Z")},
	}))
	doRequest(srv, "POST", "/v1/sync", "", "{")

	w := doRequest(srv, "GET", "/metricz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap MetricsSnapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if snap.SyncRequests != 1 || snap.EventsAccepted != 1 || snap.EventsReturned != 1 {
		t.Fatalf("unexpected sync metrics: %+v", snap)
	}
	if snap.ClientErrors != 1 {
		t.Fatalf("expected 1 client error, got %d", snap.ClientErrors)
	}
	if snap.Requests < 2 {
		t.Fatalf("expected requests counted, got %d", snap.Requests)
	}
}
