package db

// SchemaVersion is the current database schema version
const SchemaVersion = 1

const schema = `
-- Canonical calendar events. Timestamps are fixed-width UTC text.
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sync_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    date TEXT NOT NULL DEFAULT '',
    start_at TEXT NOT NULL DEFAULT '',
    end_at TEXT NOT NULL DEFAULT '',
    duration_minutes INTEGER NOT NULL DEFAULT 30,
    difficulty TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL DEFAULT '',
    color TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    provider TEXT NOT NULL DEFAULT 'local',
    account_id TEXT NOT NULL DEFAULT '',
    google_id TEXT NOT NULL DEFAULT '',
    outlook_id TEXT NOT NULL DEFAULT '',
    ics_uid TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_sync_id ON events(sync_id) WHERE sync_id != '';
CREATE INDEX IF NOT EXISTS idx_events_updated_at ON events(updated_at);
CREATE INDEX IF NOT EXISTS idx_events_provider ON events(provider, account_id);
CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_at);

-- Opaque sync cursor blobs, one per channel
CREATE TABLE IF NOT EXISTS sync_cursors (
    channel TEXT PRIMARY KEY,
    blob TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Connected provider accounts
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    provider TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    access_token TEXT NOT NULL DEFAULT '',
    refresh_token TEXT NOT NULL DEFAULT '',
    token_expiry TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'ok',
    status_message TEXT NOT NULL DEFAULT '',
    last_sync_at TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT ''
);

-- Per-event log of what each round trip sent and received
CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    channel TEXT NOT NULL,
    direction TEXT NOT NULL,
    action TEXT NOT NULL,
    sync_id TEXT NOT NULL,
    version TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
