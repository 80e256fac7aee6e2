package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/marcus/cadence/internal/db"
	"github.com/marcus/cadence/internal/ics"
	"github.com/marcus/cadence/internal/output"
	cadsync "github.com/marcus/cadence/internal/sync"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"daemon"},
	Short:   "Keep syncing in the foreground until interrupted",
	Long: `Run the sync scheduler: a round trip on start, on every sync.interval, and
sync.debounce after local changes. Connected accounts and ICS feeds are
refreshed on the providers.refresh cron schedule.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		engine := newEngine(database)
		defer engine.Close()

		refresh, err := startRefresh(ctx, database)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer func() { <-refresh.Stop().Done() }()

		changes, unsubscribe := database.Subscribe()
		defer unsubscribe()

		sched := cadsync.NewScheduler(engine)
		sched.Interval = cfg.SyncInterval()
		sched.Debounce = cfg.SyncDebounce()
		if force, _ := cmd.Flags().GetBool("force"); force {
			sched.ForceSync()
		}

		slog.Info("watch: started", "server", cfg.SyncURL(), "interval", sched.Interval, "refresh", cfg.RefreshSchedule())
		output.Info("watching; press Ctrl-C to stop")
		sched.Run(ctx, changes)
		engine.Wait()
		return nil
	},
}

// startRefresh schedules provider and feed refreshes. A run that overlaps
// the previous one is skipped.
func startRefresh(ctx context.Context, database *db.DB) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.RefreshSchedule(), func() { refreshSources(ctx, database) }); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// refreshSources pulls every connected account and subscribed feed.
func refreshSources(ctx context.Context, database *db.DB) {
	accounts, err := database.ListAccounts(ctx)
	if err != nil {
		slog.Error("refresh: list accounts", "err", err)
	} else if len(accounts) > 0 {
		if err := newPuller(database).PullAll(ctx, accounts); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("refresh: provider pull", "err", err)
		}
	}

	feeds, _ := selectFeeds(nil)
	if len(feeds) == 0 {
		return
	}
	fetcher, err := newFetcher()
	if err != nil {
		slog.Error("refresh: feeds", "err", err)
		return
	}
	for _, feed := range feeds {
		if ctx.Err() != nil {
			return
		}
		res, err := ics.SyncFeed(ctx, fetcher, database, feed, feedSyncOptions())
		if err != nil {
			slog.Warn("refresh: feed", "feed", feed.ID, "err", err)
			continue
		}
		slog.Info("refresh: feed", "feed", feed.ID, "inserted", res.Inserted, "updated", res.Updated, "removed", res.Removed)
	}
}

func init() {
	watchCmd.Flags().Bool("force", false, "force the first round trip past the pull throttle")
	rootCmd.AddCommand(watchCmd)
}
