package cmd

import (
	"fmt"
	"time"

	"github.com/marcus/cadence/internal/dateparse"
	"github.com/marcus/cadence/internal/output"
	"github.com/marcus/cadence/internal/recurrence"
	"github.com/spf13/cobra"
)

var recurCmd = &cobra.Command{
	Use:   "recur <rrule>",
	Short: "Preview the occurrences of a recurrence rule",
	Long: `Expand a recurrence rule from a start time and print the occurrences.

Examples:
  cadence recur "FREQ=MONTHLY;BYMONTHDAY=-1;COUNT=6" --start 2026-01-31
  cadence recur "FREQ=WEEKLY;INTERVAL=2;BYDAY=TU,TH" --start "tue 10am" --limit 8`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc := location()
		now := time.Now().In(loc)

		rule := recurrence.ParseRule(args[0])
		if rule == nil {
			err := fmt.Errorf("unsupported recurrence rule %q", args[0])
			output.Error("%v", err)
			return err
		}

		startStr, _ := cmd.Flags().GetString("start")
		start, err := dateparse.Parse(startStr, now)
		if err != nil {
			output.Error("--start: %v", err)
			return err
		}
		opts := recurrence.Options{Cap: cfg.Cap()}
		if n, _ := cmd.Flags().GetInt("limit"); n > 0 {
			opts.Cap = n
		}
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		for _, x := range exclude {
			t, err := dateparse.Parse(x, now)
			if err != nil {
				output.Error("--exclude: %v", err)
				return err
			}
			opts.Exclude = append(opts.Exclude, t)
		}

		occurrences := recurrence.Occurrences(start, rule, opts)
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			keys := make([]string, len(occurrences))
			for i, t := range occurrences {
				keys[i] = recurrence.Key(t)
			}
			return output.JSON(keys)
		}
		for _, t := range occurrences {
			fmt.Println(t.In(loc).Format("Mon 2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	recurCmd.Flags().String("start", "now", "first occurrence")
	recurCmd.Flags().Int("limit", 0, "maximum occurrences (default: occurrence_cap)")
	recurCmd.Flags().StringSlice("exclude", nil, "occurrences to skip (repeatable)")
	recurCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(recurCmd)
}
