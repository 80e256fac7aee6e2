package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/cadence/internal/models"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.SyncURL() != DefaultSyncURL {
		t.Errorf("SyncURL = %q", cfg.SyncURL())
	}
	if cfg.SyncInterval() != 5*time.Minute || cfg.SyncDebounce() != 2*time.Second {
		t.Errorf("interval/debounce = %v/%v", cfg.SyncInterval(), cfg.SyncDebounce())
	}
	if cfg.Cap() != DefaultOccurrenceCap || cfg.RefreshSchedule() != DefaultRefreshSchedule {
		t.Errorf("cap/refresh = %d/%q", cfg.Cap(), cfg.RefreshSchedule())
	}
	if cfg.LookAhead() != 365*24*time.Hour || cfg.FirstLookAhead() != 30*24*time.Hour {
		t.Errorf("look-ahead = %v/%v", cfg.LookAhead(), cfg.FirstLookAhead())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("CADENCE_HOME", t.TempDir())
	path, err := Path()
	if err != nil {
		t.Fatal(err)
	}

	cfg := &Config{Timezone: "UTC"}
	cfg.Sync.URL = "https://sync.example.com"
	cfg.Sync.Interval = "10m"
	cfg.Providers.Google.ClientID = "gid"
	cfg.AddFeed(FeedConfig{ID: "holidays", URL: "https://example.com/h.ics"})
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config perms = %v, want 0600", info.Mode().Perm())
	}
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SyncURL() != "https://sync.example.com" || got.SyncInterval() != 10*time.Minute {
		t.Errorf("sync = %+v", got.Sync)
	}
	if got.OAuthApps()[models.ProviderGoogle].ClientID != "gid" {
		t.Errorf("google app = %+v", got.Providers.Google)
	}
	if f, ok := got.Feed("holidays"); !ok || f.URL != "https://example.com/h.ics" {
		t.Errorf("feed = %+v, %v", f, ok)
	}
	loc, err := got.Location()
	if err != nil || loc.String() != "UTC" {
		t.Errorf("location = %v, %v", loc, err)
	}
}

func TestEnvOverridesConfig(t *testing.T) {
	cfg := &Config{}
	cfg.Sync.URL = "https://from-file"
	cfg.Sync.APIKey = "file-key"
	cfg.Sync.Debounce = "5s"

	t.Setenv("CADENCE_SYNC_URL", "https://from-env")
	t.Setenv("CADENCE_SYNC_KEY", "env-key")
	t.Setenv("CADENCE_SYNC_DEBOUNCE", "750ms")
	t.Setenv("CADENCE_DATA_DIR", "/tmp/cadence-data")

	if cfg.SyncURL() != "https://from-env" || cfg.SyncAPIKey() != "env-key" {
		t.Errorf("url/key = %q/%q", cfg.SyncURL(), cfg.SyncAPIKey())
	}
	if cfg.SyncDebounce() != 750*time.Millisecond {
		t.Errorf("debounce = %v", cfg.SyncDebounce())
	}
	if dir, _ := cfg.DataPath(); dir != "/tmp/cadence-data" {
		t.Errorf("data path = %q", dir)
	}

	// Unparseable env falls through to the file value
	t.Setenv("CADENCE_SYNC_DEBOUNCE", "soon")
	if cfg.SyncDebounce() != 5*time.Second {
		t.Errorf("debounce with bad env = %v", cfg.SyncDebounce())
	}
}

func TestSetValidates(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Set("sync.interval", "15m"); err != nil {
		t.Fatalf("Set interval: %v", err)
	}
	if cfg.Sync.Interval != "15m" {
		t.Errorf("interval = %q", cfg.Sync.Interval)
	}
	if err := cfg.Set("sync.interval", "often"); err == nil {
		t.Error("expected bad duration to fail")
	}
	if err := cfg.Set("sync.batch_size", "-1"); err == nil {
		t.Error("expected negative batch size to fail")
	}
	if err := cfg.Set("timezone", "Mars/Olympus"); err == nil {
		t.Error("expected unknown timezone to fail")
	}
	if err := cfg.Set("providers.outlook.client_id", "oid"); err != nil || cfg.Providers.Outlook.ClientID != "oid" {
		t.Errorf("outlook client id: %v %q", err, cfg.Providers.Outlook.ClientID)
	}
	if err := cfg.Set("nope", "x"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("unknown key err = %v", err)
	}
	if len(Keys()) == 0 {
		t.Error("expected settable keys")
	}
}

func TestRemoveFeed(t *testing.T) {
	cfg := &Config{}
	cfg.AddFeed(FeedConfig{ID: "a", URL: "u1"})
	cfg.AddFeed(FeedConfig{ID: "b", URL: "u2"})
	cfg.AddFeed(FeedConfig{ID: "a", URL: "u3"})
	if len(cfg.Feeds) != 2 || cfg.Feeds[0].URL != "u3" {
		t.Fatalf("feeds = %+v", cfg.Feeds)
	}
	if !cfg.RemoveFeed("a") || cfg.RemoveFeed("a") {
		t.Fatal("RemoveFeed should succeed once")
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].ID != "b" {
		t.Fatalf("feeds after remove = %+v", cfg.Feeds)
	}
}
