package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/marcus/cadence/internal/db"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultDebounce = 2 * time.Second
)

// Requester accepts sync triggers. *Engine implements it.
type Requester interface {
	Request(force bool)
}

// Scheduler turns the three sync triggers into engine requests: a periodic
// tick, local changes (debounced) and explicit force requests.
type Scheduler struct {
	Engine   Requester
	Interval time.Duration
	Debounce time.Duration

	force chan struct{}
}

// NewScheduler returns a scheduler with default timing.
func NewScheduler(engine Requester) *Scheduler {
	return &Scheduler{
		Engine:   engine,
		Interval: DefaultInterval,
		Debounce: DefaultDebounce,
		force:    make(chan struct{}, 1),
	}
}

// ForceSync asks for a forced round trip, bypassing the pull throttle.
// It never blocks; repeated calls before Run picks one up collapse.
func (s *Scheduler) ForceSync() {
	select {
	case s.force <- struct{}{}:
	default:
	}
}

// Run requests an initial round trip, then serves triggers until ctx is
// done. changes may be nil when there is no local store to watch.
func (s *Scheduler) Run(ctx context.Context, changes <-chan db.Change) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	debounce := s.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Armed on each local change; a burst yields one request.
	var (
		debounceTimer *time.Timer
		debounced     <-chan time.Time
	)
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	s.Engine.Request(false)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Engine.Request(false)
		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			slog.Debug("sync: local change", "kind", c.Kind, "events", len(c.SyncIDs))
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(debounce)
			debounced = debounceTimer.C
		case <-debounced:
			debounceTimer, debounced = nil, nil
			s.Engine.Request(false)
		case <-s.force:
			s.Engine.Request(true)
		}
	}
}
