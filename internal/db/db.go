package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const dbFile = "cadence.db"

var (
	// ErrNotFound is returned when a row looked up by primary key is missing.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned for writes submitted after Close.
	ErrClosed = errors.New("database closed")
)

// DB wraps the database connection and owns the single writer goroutine.
// Reads go straight to the connection; every mutation is funneled through
// the write queue so that one transaction commits before the next begins.
type DB struct {
	conn    *sql.DB
	baseDir string // empty for in-memory databases

	writes    chan *writeOp
	done      chan struct{}
	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool

	subMu   sync.Mutex
	subs    map[int]chan Change
	nextSub int

	clockMu sync.RWMutex
	clock   func() time.Time
}

// Open opens (creating if needed) the database under dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	conn, err := sql.Open("sqlite", filepath.Join(dir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets readers proceed while the writer goroutine commits
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	// Matches the write lock timeout
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	return initialize(conn, dir)
}

// OpenMemory opens a private in-memory database. Used by tests and by
// callers that need a scratch store.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every connection to :memory: is a separate database
	conn.SetMaxOpenConns(1)
	return initialize(conn, "")
}

func initialize(conn *sql.DB, dir string) (*DB, error) {
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`, SchemaVersion); err != nil {
		conn.Close()
		return nil, fmt.Errorf("record schema version: %w", err)
	}

	db := &DB{
		conn:    conn,
		baseDir: dir,
		writes:  make(chan *writeOp),
		done:    make(chan struct{}),
		subs:    make(map[int]chan Change),
		clock:   time.Now,
	}
	go db.writer()
	return db, nil
}

// Close stops the writer once queued writes finish and closes the connection.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.closeMu.Lock()
		db.closed = true
		close(db.writes)
		db.closeMu.Unlock()
		<-db.done

		db.subMu.Lock()
		for id, ch := range db.subs {
			close(ch)
			delete(db.subs, id)
		}
		db.subMu.Unlock()
	})
	return db.conn.Close()
}

// BaseDir returns the data directory, or "" for in-memory databases.
func (db *DB) BaseDir() string {
	return db.baseDir
}

// SetClock replaces the time source used for created/updated stamps.
func (db *DB) SetClock(now func() time.Time) {
	db.clockMu.Lock()
	db.clock = now
	db.clockMu.Unlock()
}

func (db *DB) now() time.Time {
	db.clockMu.RLock()
	defer db.clockMu.RUnlock()
	return db.clock().UTC()
}

// withWriteLock executes fn while holding an exclusive write lock.
// This prevents concurrent writes from multiple processes sharing a data dir.
func (db *DB) withWriteLock(fn func() error) error {
	if db.baseDir == "" {
		return fn()
	}
	locker := newWriteLocker(db.baseDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

// GetSchemaVersion returns the schema version recorded at open.
func (db *DB) GetSchemaVersion() (int, error) {
	var v int
	err := db.conn.QueryRow("SELECT CAST(value AS INTEGER) FROM schema_info WHERE key = 'version'").Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

// timeLayout is fixed width so lexical order of stored values equals
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: timeLayout, Value: s}
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
