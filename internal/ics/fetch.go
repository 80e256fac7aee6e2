package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Feed is one subscribed ICS calendar.
type Feed struct {
	ID  string
	URL string
}

// FetchResult is the body of a feed, fresh or cached.
type FetchResult struct {
	Feed      Feed
	Body      []byte
	FromCache bool
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher downloads feeds with conditional requests and keeps the last good
// body on disk so a flaky network never empties a calendar.
type Fetcher struct {
	HTTP     *http.Client
	CacheDir string
}

// NewFetcher returns a Fetcher caching under cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	return &Fetcher{
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		CacheDir: cacheDir,
	}
}

// Fetch downloads feed, sending If-None-Match/If-Modified-Since from the
// cache. On 304, a transport error or a non-2xx status the cached body is
// returned when one exists.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (*FetchResult, error) {
	if feed.URL == "" {
		return nil, errors.New("feed url is empty")
	}
	dir := f.cacheDirFor(feed.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create feed cache: %w", err)
	}
	meta, _ := readMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	fallback := func(cause error) (*FetchResult, error) {
		if len(cached) == 0 {
			return nil, cause
		}
		slog.Warn("ics: fetch failed, using cached body", "feed", feed.ID, "url", redactURL(feed.URL), "err", cause)
		return &FetchResult{Feed: feed, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fallback(fmt.Errorf("fetch feed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if len(cached) == 0 {
			return nil, errors.New("304 Not Modified without a cached body")
		}
		slog.Debug("ics: feed not modified", "feed", feed.ID)
		return &FetchResult{Feed: feed, Body: cached, FromCache: true}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(fmt.Errorf("read feed: %w", err))
		}
		next := cacheMeta{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
		}
		if err := writeCache(dir, next, body); err != nil {
			slog.Warn("ics: cache write failed", "feed", feed.ID, "err", err)
		}
		slog.Info("ics: fetched feed", "feed", feed.ID, "url", redactURL(feed.URL), "bytes", len(body))
		return &FetchResult{Feed: feed, Body: body}, nil

	default:
		return fallback(fmt.Errorf("fetch feed: HTTP %d", resp.StatusCode))
	}
}

func (f *Fetcher) cacheDirFor(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.CacheDir, hex.EncodeToString(sum[:8]))
}

func readMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// writeCache stores the body before the metadata so meta never names a
// body that is not on disk.
func writeCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host; private feed URLs carry secrets in the
// path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
