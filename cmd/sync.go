package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/marcus/cadence/internal/db"
	"github.com/marcus/cadence/internal/output"
	cadsync "github.com/marcus/cadence/internal/sync"
	"github.com/marcus/cadence/internal/syncclient"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Exchange changes with the sync server",
	Long:    `Run one sync round trip: push local changes, pull and apply remote ones.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		engine := newEngine(database)
		defer engine.Close()

		force, _ := cmd.Flags().GetBool("force")
		res, err := engine.Sync(cmd.Context(), force)
		if err != nil {
			if errors.Is(err, syncclient.ErrUnauthorized) {
				output.Error("sync rejected the API key; set one with: cadence config set sync.api_key <key>")
			} else {
				output.Error("sync: %v", err)
			}
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(res)
		}
		if res.Throttled {
			output.Info("nothing to send and pulled recently; use --force to pull now")
			return nil
		}
		output.Success("synced: sent %d in %d chunks, received %d (%d new, %d updated, %d unchanged, %d stale)",
			res.Sent, res.Chunks, res.Received, res.Apply.Inserted, res.Apply.Updated, res.Apply.Skipped, res.Apply.Stale)
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync cursor and server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		engine := newEngine(database)
		defer engine.Close()

		st, err := engine.Cursor(cmd.Context())
		if err != nil {
			output.Error("%v", err)
			return err
		}

		fmt.Printf("Server:    %s\n", cfg.SyncURL())
		fmt.Printf("Channel:   %s\n", cfg.SyncChannel())
		if st.LastSyncAt == nil {
			fmt.Println("Last sync: never")
		} else {
			fmt.Printf("Last sync: %s (%s)\n", st.LastSyncAt.In(location()).Format(time.DateTime), output.FormatTimeAgo(*st.LastSyncAt))
		}
		if !st.LastNetworkAt.IsZero() {
			fmt.Printf("Contacted: %s\n", output.FormatTimeAgo(st.LastNetworkAt))
		}
		fmt.Printf("Acked:     %d events\n", st.Acked)

		health, err := syncclient.New(cfg.SyncURL(), cfg.SyncAPIKey()).HealthCheck(cmd.Context())
		if err != nil {
			output.Warning("server unreachable: %v", err)
			return nil
		}
		fmt.Printf("Health:    %s\n", health.Status)
		return nil
	},
}

var syncHistoryCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"tail", "log"},
	Short:   "Show recent sync activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := database.GetSyncHistoryTail(cmd.Context(), limit)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("no sync history")
			return nil
		}
		loc := location()
		for _, e := range entries {
			fmt.Printf("%s  %-4s %-6s %s  v%s\n", e.Timestamp.In(loc).Format(time.DateTime),
				e.Direction, e.Action, e.SyncID, e.Version.UTC().Format(time.RFC3339Nano))
		}
		return nil
	},
}

var syncResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the sync cursor so the next sync resends and repulls everything",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		if err := database.ResetCursor(cmd.Context(), cfg.SyncChannel()); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("reset cursor for channel %s", cfg.SyncChannel())
		return nil
	},
}

// newEngine wires the local store to the configured sync server.
func newEngine(database *db.DB) *cadsync.Engine {
	client := syncclient.New(cfg.SyncURL(), cfg.SyncAPIKey())
	return cadsync.NewEngine(database, client, cadsync.Config{
		Channel:         cfg.SyncChannel(),
		BatchSize:       cfg.SyncBatchSize(),
		MinPullInterval: cfg.MinPullInterval(),
		FollowUpDelay:   cfg.FollowUpDelay(),
		AckCapacity:     cfg.SyncAckCapacity(),
	})
}

func init() {
	syncCmd.Flags().Bool("force", false, "pull even when nothing changed recently")
	syncCmd.Flags().Bool("json", false, "JSON output")
	syncHistoryCmd.Flags().Int("limit", 50, "number of entries")
	syncHistoryCmd.Flags().Bool("json", false, "JSON output")

	syncCmd.AddCommand(syncStatusCmd, syncHistoryCmd, syncResetCmd)
	rootCmd.AddCommand(syncCmd)
}
