// Package config loads and saves the cadence CLI configuration, a YAML file
// at ~/.config/cadence/config.yaml (or $CADENCE_HOME/config.yaml).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marcus/cadence/internal/models"
	"github.com/marcus/cadence/internal/provider"
)

const configFile = "config.yaml"

// Defaults
const (
	DefaultSyncURL         = "http://localhost:8080"
	DefaultChannel         = "default"
	DefaultBatchSize       = 50
	DefaultAckCapacity     = 5000
	DefaultOccurrenceCap   = 500
	DefaultRefreshSchedule = "@every 15m"
)

// SyncConfig holds the sync peer settings.
type SyncConfig struct {
	URL             string `yaml:"url,omitempty"`
	APIKey          string `yaml:"api_key,omitempty"`
	Channel         string `yaml:"channel,omitempty"`
	BatchSize       int    `yaml:"batch_size,omitempty"`
	AckCapacity     int    `yaml:"ack_capacity,omitempty"`
	MinPullInterval string `yaml:"min_pull_interval,omitempty"` // default "60s"
	FollowUpDelay   string `yaml:"follow_up_delay,omitempty"`   // default "500ms"
	Interval        string `yaml:"interval,omitempty"`          // default "5m"
	Debounce        string `yaml:"debounce,omitempty"`          // default "2s"
}

// ProvidersConfig holds OAuth settings for Google and Outlook.
type ProvidersConfig struct {
	BackendURL     string            `yaml:"backend_url,omitempty"`
	BackendKey     string            `yaml:"backend_key,omitempty"`
	Google         provider.OAuthApp `yaml:"google,omitempty"`
	Outlook        provider.OAuthApp `yaml:"outlook,omitempty"`
	LookBack       string            `yaml:"look_back,omitempty"`        // default "720h"
	LookAhead      string            `yaml:"look_ahead,omitempty"`       // default "8760h"
	FirstLookAhead string            `yaml:"first_look_ahead,omitempty"` // default "720h"
	Refresh        string            `yaml:"refresh,omitempty"`          // cron spec, default "@every 15m"
}

// FeedConfig is one subscribed ICS feed.
type FeedConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// Config is the CLI configuration.
type Config struct {
	DataDir       string          `yaml:"data_dir,omitempty"`
	Timezone      string          `yaml:"timezone,omitempty"`
	OccurrenceCap int             `yaml:"occurrence_cap,omitempty"`
	Sync          SyncConfig      `yaml:"sync,omitempty"`
	Providers     ProvidersConfig `yaml:"providers,omitempty"`
	Feeds         []FeedConfig    `yaml:"feeds,omitempty"`
}

// Dir returns the config directory: $CADENCE_HOME, else ~/.config/cadence.
func Dir() (string, error) {
	if v := os.Getenv("CADENCE_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".config", "cadence"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the config file from Path.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the config at path. A missing file yields an empty config.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the config to path using atomic write (temp file + rename).
// The file holds credentials, so it is private to the user.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.yaml.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}

// DataPath returns the directory holding the local database.
// Priority: CADENCE_DATA_DIR env > data_dir > config dir.
func (c *Config) DataPath() (string, error) {
	if v := os.Getenv("CADENCE_DATA_DIR"); v != "" {
		return v, nil
	}
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return Dir()
}

// Location returns the display and floating-time zone.
// Priority: CADENCE_TZ env > timezone > local.
func (c *Config) Location() (*time.Location, error) {
	name := c.Timezone
	if v := os.Getenv("CADENCE_TZ"); v != "" {
		name = v
	}
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

// Cap returns the per-series occurrence cap.
func (c *Config) Cap() int {
	if c.OccurrenceCap > 0 {
		return c.OccurrenceCap
	}
	return DefaultOccurrenceCap
}

// SyncURL returns the sync server URL.
// Priority: CADENCE_SYNC_URL env > sync.url > default.
func (c *Config) SyncURL() string {
	if v := os.Getenv("CADENCE_SYNC_URL"); v != "" {
		return v
	}
	if c.Sync.URL != "" {
		return c.Sync.URL
	}
	return DefaultSyncURL
}

// SyncAPIKey returns the sync server API key.
// Priority: CADENCE_SYNC_KEY env > sync.api_key.
func (c *Config) SyncAPIKey() string {
	if v := os.Getenv("CADENCE_SYNC_KEY"); v != "" {
		return v
	}
	return c.Sync.APIKey
}

// SyncChannel returns the sync channel name.
func (c *Config) SyncChannel() string {
	if c.Sync.Channel != "" {
		return c.Sync.Channel
	}
	return DefaultChannel
}

// SyncBatchSize returns the number of events pushed per request.
func (c *Config) SyncBatchSize() int {
	if c.Sync.BatchSize > 0 {
		return c.Sync.BatchSize
	}
	return DefaultBatchSize
}

// SyncAckCapacity returns the size of the acknowledgement cache.
func (c *Config) SyncAckCapacity() int {
	if c.Sync.AckCapacity > 0 {
		return c.Sync.AckCapacity
	}
	return DefaultAckCapacity
}

// MinPullInterval returns how long an idle sync waits before pulling again.
func (c *Config) MinPullInterval() time.Duration {
	return duration("CADENCE_SYNC_MIN_PULL_INTERVAL", c.Sync.MinPullInterval, 60*time.Second)
}

// FollowUpDelay returns the pause before a coalesced follow-up sync.
func (c *Config) FollowUpDelay() time.Duration {
	return duration("", c.Sync.FollowUpDelay, 500*time.Millisecond)
}

// SyncInterval returns the periodic sync interval.
// Priority: CADENCE_SYNC_INTERVAL env > sync.interval > 5m
func (c *Config) SyncInterval() time.Duration {
	return duration("CADENCE_SYNC_INTERVAL", c.Sync.Interval, 5*time.Minute)
}

// SyncDebounce returns the quiet period after a local change before syncing.
// Priority: CADENCE_SYNC_DEBOUNCE env > sync.debounce > 2s
func (c *Config) SyncDebounce() time.Duration {
	return duration("CADENCE_SYNC_DEBOUNCE", c.Sync.Debounce, 2*time.Second)
}

// LookBack returns how far into the past provider pulls reach.
func (c *Config) LookBack() time.Duration {
	return duration("", c.Providers.LookBack, provider.DefaultLookBack)
}

// LookAhead returns how far into the future provider pulls reach.
func (c *Config) LookAhead() time.Duration {
	return duration("", c.Providers.LookAhead, provider.DefaultLookAhead)
}

// FirstLookAhead returns the look-ahead of an account's first pull.
func (c *Config) FirstLookAhead() time.Duration {
	return duration("", c.Providers.FirstLookAhead, provider.DefaultFirstLookAhead)
}

// RefreshSchedule returns the cron spec for provider and feed refreshes.
func (c *Config) RefreshSchedule() string {
	if c.Providers.Refresh != "" {
		return c.Providers.Refresh
	}
	return DefaultRefreshSchedule
}

// OAuthApps returns the configured OAuth clients keyed by provider.
func (c *Config) OAuthApps() map[models.Provider]provider.OAuthApp {
	return map[models.Provider]provider.OAuthApp{
		models.ProviderGoogle:  c.Providers.Google,
		models.ProviderOutlook: c.Providers.Outlook,
	}
}

// Feed returns the feed with the given id.
func (c *Config) Feed(id string) (FeedConfig, bool) {
	for _, f := range c.Feeds {
		if f.ID == id {
			return f, true
		}
	}
	return FeedConfig{}, false
}

// AddFeed adds or replaces a feed by id.
func (c *Config) AddFeed(f FeedConfig) {
	for i := range c.Feeds {
		if c.Feeds[i].ID == f.ID {
			c.Feeds[i] = f
			return
		}
	}
	c.Feeds = append(c.Feeds, f)
}

// RemoveFeed drops the feed with the given id, reporting whether it existed.
func (c *Config) RemoveFeed(id string) bool {
	for i := range c.Feeds {
		if c.Feeds[i].ID == id {
			c.Feeds = append(c.Feeds[:i], c.Feeds[i+1:]...)
			return true
		}
	}
	return false
}

// setters maps dotted keys to the scalar fields `config set` may change.
var setters = map[string]func(c *Config, v string) error{
	"data_dir":                   func(c *Config, v string) error { c.DataDir = v; return nil },
	"timezone":                   setTimezone,
	"occurrence_cap":             intSetter(func(c *Config) *int { return &c.OccurrenceCap }),
	"sync.url":                   func(c *Config, v string) error { c.Sync.URL = v; return nil },
	"sync.api_key":               func(c *Config, v string) error { c.Sync.APIKey = v; return nil },
	"sync.channel":               func(c *Config, v string) error { c.Sync.Channel = v; return nil },
	"sync.batch_size":            intSetter(func(c *Config) *int { return &c.Sync.BatchSize }),
	"sync.ack_capacity":          intSetter(func(c *Config) *int { return &c.Sync.AckCapacity }),
	"sync.min_pull_interval":     durationSetter(func(c *Config) *string { return &c.Sync.MinPullInterval }),
	"sync.follow_up_delay":       durationSetter(func(c *Config) *string { return &c.Sync.FollowUpDelay }),
	"sync.interval":              durationSetter(func(c *Config) *string { return &c.Sync.Interval }),
	"sync.debounce":              durationSetter(func(c *Config) *string { return &c.Sync.Debounce }),
	"providers.backend_url":      func(c *Config, v string) error { c.Providers.BackendURL = v; return nil },
	"providers.backend_key":      func(c *Config, v string) error { c.Providers.BackendKey = v; return nil },
	"providers.google.client_id": func(c *Config, v string) error { c.Providers.Google.ClientID = v; return nil },
	"providers.google.client_secret": func(c *Config, v string) error {
		c.Providers.Google.ClientSecret = v
		return nil
	},
	"providers.outlook.client_id": func(c *Config, v string) error { c.Providers.Outlook.ClientID = v; return nil },
	"providers.outlook.client_secret": func(c *Config, v string) error {
		c.Providers.Outlook.ClientSecret = v
		return nil
	},
	"providers.look_back":        durationSetter(func(c *Config) *string { return &c.Providers.LookBack }),
	"providers.look_ahead":       durationSetter(func(c *Config) *string { return &c.Providers.LookAhead }),
	"providers.first_look_ahead": durationSetter(func(c *Config) *string { return &c.Providers.FirstLookAhead }),
	"providers.refresh":          func(c *Config, v string) error { c.Providers.Refresh = v; return nil },
}

// ErrUnknownKey is returned by Set for keys it does not know.
var ErrUnknownKey = errors.New("unknown config key")

// Keys lists the keys accepted by Set.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns value to the dotted key, validating durations and numbers.
func (c *Config) Set(key, value string) error {
	fn, ok := setters[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return fn(c, strings.TrimSpace(value))
}

func setTimezone(c *Config, v string) error {
	if v != "" {
		if _, err := time.LoadLocation(v); err != nil {
			return fmt.Errorf("timezone %q: %w", v, err)
		}
	}
	c.Timezone = v
	return nil
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("expected a non-negative integer, got %q", v)
		}
		*field(c) = n
		return nil
	}
}

func durationSetter(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		if v != "" {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("expected a duration like 5m, got %q", v)
			}
		}
		*field(c) = v
		return nil
	}
}

// duration resolves env > configured > fallback. Unparseable values fall
// through to the next source.
func duration(envKey, configured string, fallback time.Duration) time.Duration {
	if envKey != "" {
		if v := os.Getenv(envKey); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				return d
			}
		}
	}
	if configured != "" {
		if d, err := time.ParseDuration(configured); err == nil && d >= 0 {
			return d
		}
	}
	return fallback
}
