package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/cadence/internal/db"
	"github.com/marcus/cadence/internal/models"
)

// setupHome points config and data at a fresh temp dir.
func setupHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CADENCE_HOME", dir)
	t.Setenv("CADENCE_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("CADENCE_TZ", "UTC")
	t.Setenv("CADENCE_SYNC_URL", "")
	t.Setenv("CADENCE_SYNC_KEY", "")
	return dir
}

// runCLI executes the root command with args. Flags left over from earlier
// runs are reset first.
func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	resetFlags(rootCmd)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// openTestDB opens the store the CLI just wrote to.
func openTestDB(t *testing.T, home string) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(home, "data"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func listAll(t *testing.T, d *db.DB) []models.CalendarEvent {
	t.Helper()
	events, err := d.ListEvents(context.Background(), db.EventFilter{IncludeRemoved: true})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	return events
}
