package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcus/cadence/internal/db"
	"github.com/marcus/cadence/internal/ics"
	"github.com/marcus/cadence/internal/models"
	"github.com/marcus/cadence/internal/output"
	"github.com/spf13/cobra"
)

var icsCmd = &cobra.Command{
	Use:     "ics",
	Short:   "Import and export iCalendar files",
	GroupID: "calendars",
}

var icsImportCmd = &cobra.Command{
	Use:   "import <file.ics>",
	Short: "Import an .ics file as a calendar",
	Long: `Import an .ics file. Recurring series are expanded into occurrences. The
events are stored under --feed (default: the file name); importing again under
the same id replaces that calendar, removing events the file no longer has.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer f.Close()

		feedID, _ := cmd.Flags().GetString("feed")
		if feedID == "" {
			feedID = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		loc := location()
		entries, err := ics.ParseFeed(f, ics.ParseOptions{Location: loc})
		if err != nil {
			output.Error("%v", err)
			return err
		}
		events := ics.Expand(entries, ics.ExpandOptions{Cap: cfg.Cap(), Location: loc, FeedID: feedID})

		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		res, err := ics.Import(cmd.Context(), database, feedID, events)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		printReplaceResult(feedID, res)
		return nil
	},
}

var icsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export events as an .ics calendar",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		filter, err := listFilterFromFlags(cmd, time.Now().In(location()))
		if err != nil {
			output.Error("%v", err)
			return err
		}
		events, err := database.ListEvents(cmd.Context(), filter)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		body := ics.Export(events, time.Now())
		path, _ := cmd.Flags().GetString("output")
		if path == "" || path == "-" {
			fmt.Print(body)
			return nil
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("exported %d events to %s", len(events), path)
		return nil
	},
}

var feedCmd = &cobra.Command{
	Use:     "feed",
	Aliases: []string{"feeds"},
	Short:   "Manage subscribed ICS feeds",
	GroupID: "calendars",
}

var feedAddCmd = &cobra.Command{
	Use:   "add <id> <url>",
	Short: "Subscribe to an ICS feed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, url := args[0], args[1]
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "webcal://") {
			err := fmt.Errorf("feed url must be http(s) or webcal: %q", url)
			output.Error("%v", err)
			return err
		}
		url = strings.Replace(url, "webcal://", "https://", 1)

		cfg.AddFeed(feedConfig(id, url))
		if err := saveConfig(); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("added feed %s", id)

		if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
			return refreshFeeds(cmd, []string{id})
		}
		return nil
	},
}

var feedListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List subscribed feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(cfg.Feeds)
		}
		if len(cfg.Feeds) == 0 {
			fmt.Println("no feeds")
			return nil
		}
		for _, f := range cfg.Feeds {
			fmt.Printf("%-20s %s\n", f.ID, f.URL)
		}
		return nil
	},
}

var feedRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Unsubscribe from a feed and remove its events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if !cfg.RemoveFeed(id) {
			err := fmt.Errorf("feed %s: %w", id, db.ErrNotFound)
			output.Error("%v", err)
			return err
		}

		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		// An empty import removes everything the feed contributed.
		res, err := ics.Import(cmd.Context(), database, id, nil)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := saveConfig(); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("removed feed %s (%d events)", id, res.Removed)
		return nil
	},
}

var feedRefreshCmd = &cobra.Command{
	Use:   "refresh [id...]",
	Short: "Fetch feeds and update their events",
	RunE: func(cmd *cobra.Command, args []string) error {
		return refreshFeeds(cmd, args)
	},
}

// refreshFeeds syncs the named feeds, or all of them when ids is empty.
func refreshFeeds(cmd *cobra.Command, ids []string) error {
	feeds, err := selectFeeds(ids)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	if len(feeds) == 0 {
		fmt.Println("no feeds")
		return nil
	}

	database, err := openDB()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer database.Close()

	fetcher, err := newFetcher()
	if err != nil {
		output.Error("%v", err)
		return err
	}

	var errs []error
	for _, feed := range feeds {
		res, err := ics.SyncFeed(cmd.Context(), fetcher, database, feed, feedSyncOptions())
		if err != nil {
			output.Error("%s: %v", feed.ID, err)
			errs = append(errs, err)
			continue
		}
		printReplaceResult(feed.ID, res)
	}
	return errors.Join(errs...)
}

func selectFeeds(ids []string) ([]ics.Feed, error) {
	if len(ids) == 0 {
		feeds := make([]ics.Feed, 0, len(cfg.Feeds))
		for _, f := range cfg.Feeds {
			feeds = append(feeds, ics.Feed{ID: f.ID, URL: f.URL})
		}
		return feeds, nil
	}
	feeds := make([]ics.Feed, 0, len(ids))
	for _, id := range ids {
		f, ok := cfg.Feed(id)
		if !ok {
			return nil, fmt.Errorf("feed %s: %w", id, db.ErrNotFound)
		}
		feeds = append(feeds, ics.Feed{ID: f.ID, URL: f.URL})
	}
	return feeds, nil
}

func newFetcher() (*ics.Fetcher, error) {
	dir, err := cfg.DataPath()
	if err != nil {
		return nil, err
	}
	return ics.NewFetcher(filepath.Join(dir, "feeds")), nil
}

func feedSyncOptions() ics.SyncOptions {
	return ics.SyncOptions{Location: location(), Cap: cfg.Cap()}
}

func printReplaceResult(source string, res db.ReplaceResult) {
	output.Success("%s: %d new, %d updated, %d unchanged, %d removed",
		source, res.Inserted, res.Updated, res.Unchanged, res.Removed)
}

func init() {
	icsImportCmd.Flags().String("feed", "", "calendar id to store the events under (default: file name)")

	icsExportCmd.Flags().String("from", "-30d", "range start")
	icsExportCmd.Flags().String("to", "+365d", "range end (exclusive)")
	icsExportCmd.Flags().String("provider", string(models.ProviderLocal), "only events from provider (empty for all)")
	icsExportCmd.Flags().String("account", "", "only events from an account or feed id")
	icsExportCmd.Flags().Bool("all", false, "include removed events")
	icsExportCmd.Flags().Int("limit", 0, "maximum events (0 = no limit)")
	icsExportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")

	feedAddCmd.Flags().Bool("refresh", true, "fetch the feed right away")
	feedListCmd.Flags().Bool("json", false, "JSON output")

	icsCmd.AddCommand(icsImportCmd, icsExportCmd)
	feedCmd.AddCommand(feedAddCmd, feedListCmd, feedRmCmd, feedRefreshCmd)
	rootCmd.AddCommand(icsCmd, feedCmd)
}
