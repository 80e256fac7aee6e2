package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lockFileName   = "cadence.lock"
	defaultTimeout = 500 * time.Millisecond
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// writeLocker guards the data directory against writers in other processes
// (the CLI and a running watcher share one database). The OS drops the lock
// when the holder exits, crashes included.
type writeLocker struct {
	path string
	f    *os.File
}

func newWriteLocker(dataDir string) *writeLocker {
	return &writeLocker{path: filepath.Join(dataDir, lockFileName)}
}

// acquire polls for the exclusive lock with capped exponential backoff.
func (l *writeLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.f = f

	deadline := time.Now().Add(timeout)
	for backoff := initialBackoff; ; backoff = min(backoff*2, maxBackoff) {
		if l.tryLock() == nil {
			l.stamp()
			return nil
		}
		if time.Now().After(deadline) {
			holder := l.holder()
			l.f.Close()
			l.f = nil
			return fmt.Errorf("write lock timeout after %v (holder: %s)", timeout, holder)
		}
		time.Sleep(backoff)
	}
}

func (l *writeLocker) release() error {
	if l.f == nil {
		return nil
	}
	l.f.Truncate(0)
	l.unlock()
	err := l.f.Close()
	l.f = nil
	return err
}

// stamp records the holding process for diagnostics.
func (l *writeLocker) stamp() {
	l.f.Truncate(0)
	l.f.Seek(0, 0)
	fmt.Fprintf(l.f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	l.f.Sync()
}

func (l *writeLocker) holder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "unknown"
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return "unknown"
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return "unknown"
	}
	if !isProcessAlive(pid) {
		return fmt.Sprintf("pid %d since %s, process gone", pid, fields[1])
	}
	return fmt.Sprintf("pid %d since %s", pid, fields[1])
}

// tryLock, unlock and isProcessAlive live in lock_unix.go and lock_windows.go.
