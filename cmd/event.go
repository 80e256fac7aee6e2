package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marcus/cadence/internal/dateparse"
	"github.com/marcus/cadence/internal/db"
	"github.com/marcus/cadence/internal/input"
	"github.com/marcus/cadence/internal/models"
	"github.com/marcus/cadence/internal/output"
	"github.com/marcus/cadence/internal/recurrence"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:     "add [title]",
	Aliases: []string{"create", "new"},
	Short:   "Create a local event",
	Long: `Create a local event. Times accept dates ("2026-03-01"), keywords
("today", "tomorrow", "friday", "+3d") and an optional clock time.

Examples:
  cadence add "Standup" --start "tomorrow 9:30" --duration 15
  cadence add "Gym" --start "mon 7am" --rrule "FREQ=WEEKLY;BYDAY=MO,WE,FR;COUNT=12"`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		ev, err := eventFromFlags(cmd, args[0], time.Now().In(location()))
		if err != nil {
			output.Error("%v", err)
			return err
		}

		starts := []time.Time{ev.Start}
		if rrule, _ := cmd.Flags().GetString("rrule"); rrule != "" {
			rule := recurrence.ParseRule(rrule)
			if rule == nil {
				err := fmt.Errorf("unsupported recurrence rule %q", rrule)
				output.Error("%v", err)
				return err
			}
			starts = recurrence.Occurrences(ev.Start, rule, recurrence.Options{Cap: cfg.Cap()})
		}

		created, err := createSeries(cmd.Context(), database, ev, starts)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(created)
		}
		if len(created) == 1 {
			output.Success("created %d: %s", created[0].ID, created[0].Title)
		} else {
			output.Success("created %d events: %s", len(created), ev.Title)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "agenda"},
	Short:   "List events in a time range",
	Long: `List events starting in [--from, --to). Defaults to today through the next
seven days.`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		loc := location()
		filter, err := listFilterFromFlags(cmd, time.Now().In(loc))
		if err != nil {
			output.Error("%v", err)
			return err
		}

		events, err := database.ListEvents(cmd.Context(), filter)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(events)
		}
		if len(events) == 0 {
			fmt.Println("no events")
			return nil
		}

		day := ""
		for i := range events {
			ev := &events[i]
			if d := ev.Start.In(loc).Format("Monday, Jan 2"); d != day {
				fmt.Print(output.SectionHeader(d))
				day = d
			}
			fmt.Println(output.FormatEventShort(ev, loc))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Aliases: []string{"view", "get"},
	Short:   "Show one event in full",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		jsonOut, _ := cmd.Flags().GetBool("json")
		ev, err := resolveEvent(cmd.Context(), database, args[0])
		if err != nil {
			if jsonOut {
				code := output.ErrCodeDatabaseError
				if errors.Is(err, db.ErrNotFound) {
					code = output.ErrCodeNotFound
				}
				output.JSONError(code, err.Error())
			} else {
				output.Error("%v", err)
			}
			return err
		}

		if jsonOut {
			return output.JSON(ev)
		}
		fmt.Print(output.FormatEventLong(ev, location()))
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	Aliases: []string{"update"},
	Short:   "Change an event's fields",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		ev, err := resolveEvent(cmd.Context(), database, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := applyEdits(cmd, ev, time.Now().In(location())); err != nil {
			output.Error("%v", err)
			return err
		}
		if err := database.UpdateEvent(cmd.Context(), ev); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("updated %d: %s", ev.ID, ev.Title)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"delete", "remove"},
	Short:   "Remove events (the removal syncs to peers)",
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		var errs []error
		for _, arg := range args {
			ev, err := resolveEvent(cmd.Context(), database, arg)
			if err == nil {
				err = database.DeleteEvent(cmd.Context(), ev.ID)
			}
			if err != nil {
				output.Error("%s: %v", arg, err)
				errs = append(errs, err)
				continue
			}
			output.Success("removed %d: %s", ev.ID, ev.Title)
		}
		return errors.Join(errs...)
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <id>...",
	Short:   "Mark events done",
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setStatus(cmd, args, models.StatusDone)
	},
}

var cancelCmd = &cobra.Command{
	Use:     "cancel <id>...",
	Short:   "Mark events cancelled",
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setStatus(cmd, args, models.StatusCancelled)
	},
}

func setStatus(cmd *cobra.Command, args []string, status models.Status) error {
	database, err := openDB()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer database.Close()

	var errs []error
	for _, arg := range args {
		ev, err := resolveEvent(cmd.Context(), database, arg)
		if err == nil {
			ev.Status = status
			err = database.UpdateEvent(cmd.Context(), ev)
		}
		if err != nil {
			output.Error("%s: %v", arg, err)
			errs = append(errs, err)
			continue
		}
		fmt.Printf("%s %d: %s\n", output.StatusBadge(status), ev.ID, ev.Title)
	}
	return errors.Join(errs...)
}

// resolveEvent looks an event up by row id, falling back to its sync id.
func resolveEvent(ctx context.Context, database *db.DB, ref string) (*models.CalendarEvent, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		ev, err := database.GetEvent(ctx, id)
		if err == nil {
			return ev, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}
	ev, err := database.FindBySyncID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, fmt.Errorf("event %s: %w", ref, db.ErrNotFound)
	}
	return ev, nil
}

// eventFromFlags builds a new local event from the add flags.
func eventFromFlags(cmd *cobra.Command, title string, now time.Time) (*models.CalendarEvent, error) {
	if title == "" {
		return nil, errors.New("title is required")
	}
	startStr, _ := cmd.Flags().GetString("start")
	start, err := dateparse.Parse(startStr, now)
	if err != nil {
		return nil, fmt.Errorf("--start: %w", err)
	}

	ev := &models.CalendarEvent{
		Title:    title,
		Start:    start,
		Status:   models.StatusActive,
		Provider: models.ProviderLocal,
	}
	if err := applyDetails(cmd, ev, now); err != nil {
		return nil, err
	}
	return ev, nil
}

// applyEdits overwrites the fields whose flags were given.
func applyEdits(cmd *cobra.Command, ev *models.CalendarEvent, now time.Time) error {
	if cmd.Flags().Changed("title") {
		ev.Title, _ = cmd.Flags().GetString("title")
		if ev.Title == "" {
			return errors.New("title cannot be empty")
		}
	}
	if cmd.Flags().Changed("start") {
		startStr, _ := cmd.Flags().GetString("start")
		start, err := dateparse.Parse(startStr, now)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		// Keep the duration; Normalize derives the new end and date.
		ev.Start = start
		ev.End = time.Time{}
		ev.Date = ""
	}
	return applyDetails(cmd, ev, now)
}

func applyDetails(cmd *cobra.Command, ev *models.CalendarEvent, now time.Time) error {
	flags := cmd.Flags()
	if flags.Changed("notes") {
		v, _ := flags.GetString("notes")
		notes, err := input.NewReader().Value(v)
		if err != nil {
			return fmt.Errorf("--notes: %w", err)
		}
		ev.Notes = notes
	}
	if flags.Changed("type") {
		ev.Type, _ = flags.GetString("type")
	}
	if flags.Changed("color") {
		ev.Color, _ = flags.GetString("color")
	}
	if flags.Changed("difficulty") {
		ev.Difficulty, _ = flags.GetString("difficulty")
	}
	if flags.Changed("duration") {
		minutes, _ := flags.GetInt("duration")
		if minutes <= 0 {
			return fmt.Errorf("--duration must be positive, got %d", minutes)
		}
		ev.DurationMinutes = minutes
		ev.End = time.Time{}
	}
	if flags.Changed("end") {
		endStr, _ := flags.GetString("end")
		end, err := dateparse.Parse(endStr, now)
		if err != nil {
			return fmt.Errorf("--end: %w", err)
		}
		if !end.After(ev.Start) {
			return errors.New("--end must be after --start")
		}
		ev.End = end
		ev.DurationMinutes = 0
	}
	ev.Normalize()
	return nil
}

// createSeries stores one event per start, each with its own sync id.
func createSeries(ctx context.Context, database *db.DB, tmpl *models.CalendarEvent, starts []time.Time) ([]models.CalendarEvent, error) {
	length := tmpl.End.Sub(tmpl.Start)
	created := make([]models.CalendarEvent, 0, len(starts))
	for _, start := range starts {
		ev := *tmpl
		ev.Start = start
		ev.End = start.Add(length)
		ev.Date = ""
		ev.SyncID = ""
		if err := database.CreateEvent(ctx, &ev); err != nil {
			return created, fmt.Errorf("create %s: %w", start.Format(time.RFC3339), err)
		}
		created = append(created, ev)
	}
	return created, nil
}

func listFilterFromFlags(cmd *cobra.Command, now time.Time) (db.EventFilter, error) {
	flags := cmd.Flags()
	fromStr, _ := flags.GetString("from")
	toStr, _ := flags.GetString("to")

	from, err := dateparse.Parse(fromStr, now)
	if err != nil {
		return db.EventFilter{}, fmt.Errorf("--from: %w", err)
	}
	to, err := dateparse.Parse(toStr, now)
	if err != nil {
		return db.EventFilter{}, fmt.Errorf("--to: %w", err)
	}
	if !to.After(from) {
		return db.EventFilter{}, errors.New("--to must be after --from")
	}

	f := db.EventFilter{From: from.UTC(), To: to.UTC()}
	f.IncludeRemoved, _ = flags.GetBool("all")
	f.AccountID, _ = flags.GetString("account")
	f.Limit, _ = flags.GetInt("limit")
	if p, _ := flags.GetString("provider"); p != "" {
		f.Provider = models.Provider(p)
		if !f.Provider.IsValid() {
			return db.EventFilter{}, fmt.Errorf("unknown provider %q", p)
		}
	}
	return f, nil
}

func addDetailFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "start time (e.g. \"tomorrow 9am\", \"2026-03-01 14:00\")")
	cmd.Flags().String("end", "", "end time (overrides --duration)")
	cmd.Flags().Int("duration", models.DefaultDurationMinutes, "length in minutes")
	cmd.Flags().String("notes", "", "notes in markdown; @file reads a file, - reads stdin")
	cmd.Flags().String("type", "", "free-form event type")
	cmd.Flags().String("color", "", "display color")
	cmd.Flags().String("difficulty", "", "difficulty label")
}

func init() {
	addDetailFlags(addCmd)
	addCmd.Flags().String("rrule", "", "recurrence rule, e.g. FREQ=WEEKLY;BYDAY=MO;COUNT=4")
	addCmd.Flags().Bool("json", false, "JSON output")
	addCmd.MarkFlagRequired("start")

	listCmd.Flags().String("from", "today", "range start")
	listCmd.Flags().String("to", "+7d", "range end (exclusive)")
	listCmd.Flags().Bool("all", false, "include removed events")
	listCmd.Flags().String("provider", "", "only events from provider (local, google, outlook, ics)")
	listCmd.Flags().String("account", "", "only events from an account or feed id")
	listCmd.Flags().Int("limit", 0, "maximum events (0 = no limit)")
	listCmd.Flags().Bool("json", false, "JSON output")

	showCmd.Flags().Bool("json", false, "JSON output")

	addDetailFlags(editCmd)
	editCmd.Flags().String("title", "", "new title")

	rootCmd.AddCommand(addCmd, listCmd, showCmd, editCmd, rmCmd, doneCmd, cancelCmd)
}
