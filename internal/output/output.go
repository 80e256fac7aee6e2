// Package output provides styled terminal output helpers (success, error,
// warning, event and account formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/cadence/internal/models"
)

var (
	// Styles
	titleStyle    = lipgloss.NewStyle().Bold(true)
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	providerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	statusStyles  = map[models.Status]lipgloss.Style{
		models.StatusActive:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusDone:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusRemoved:   lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
	accountStyles = map[models.AccountStatus]lipgloss.Style{
		models.AccountOK:      successStyle,
		models.AccountSyncing: warningStyle,
		models.AccountError:   errorStyle,
	}
)

// MaxTitleWidth bounds titles in one-line listings.
const MaxTitleWidth = 48

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeDatabaseError = "database_error"
	ErrCodeSyncError     = "sync_error"
	ErrCodeProviderError = "provider_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// FormatStatus formats a status with color
func FormatStatus(s models.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// StatusBadge returns a status indicator with symbol,
// e.g. "● active", "✓ done", "⊘ cancelled", "✗ removed".
func StatusBadge(status models.Status) string {
	symbols := map[models.Status]string{
		models.StatusActive:    "●",
		models.StatusDone:      "✓",
		models.StatusCancelled: "⊘",
		models.StatusRemoved:   "✗",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	if style, ok := statusStyles[status]; ok {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// FormatProvider renders where an event came from; local events print nothing.
func FormatProvider(p models.Provider) string {
	if p == "" || p == models.ProviderLocal {
		return ""
	}
	return providerStyle.Render(string(p))
}

// FormatDuration renders minutes as "45m", "1h" or "1h30m".
func FormatDuration(minutes int) string {
	switch {
	case minutes <= 0:
		return ""
	case minutes < 60:
		return fmt.Sprintf("%dm", minutes)
	case minutes%60 == 0:
		return fmt.Sprintf("%dh", minutes/60)
	default:
		return fmt.Sprintf("%dh%02dm", minutes/60, minutes%60)
	}
}

// FormatEventShort formats an event on one line in loc:
// "Mon 2025-03-03 09:00  #12  Standup  30m  google  [active]".
func FormatEventShort(ev *models.CalendarEvent, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var parts []string
	when := ev.Date
	if !ev.Start.IsZero() {
		when = ev.Start.In(loc).Format("Mon 2006-01-02 15:04")
	}
	parts = append(parts, subtleStyle.Render(when))
	parts = append(parts, titleStyle.Render(fmt.Sprintf("#%d", ev.ID)))
	parts = append(parts, ansi.Truncate(ev.Title, MaxTitleWidth, "…"))
	if d := FormatDuration(ev.DurationMinutes); d != "" {
		parts = append(parts, subtleStyle.Render(d))
	}
	if p := FormatProvider(ev.Provider); p != "" {
		parts = append(parts, p)
	}
	if ev.Status != models.StatusActive {
		parts = append(parts, FormatStatus(ev.Status))
	}
	return strings.Join(parts, "  ")
}

// FormatEventLong formats an event with all its fields.
func FormatEventLong(ev *models.CalendarEvent, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("#%d: %s", ev.ID, ev.Title)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Status: %s\n", StatusBadge(ev.Status)))
	if !ev.Start.IsZero() {
		sb.WriteString(fmt.Sprintf("When: %s - %s (%s)\n",
			ev.Start.In(loc).Format("Mon 2006-01-02 15:04"),
			ev.End.In(loc).Format("15:04"),
			FormatDuration(ev.DurationMinutes)))
	} else if ev.Date != "" {
		sb.WriteString(fmt.Sprintf("Date: %s\n", ev.Date))
	}

	var meta []string
	if ev.Type != "" {
		meta = append(meta, "Type: "+ev.Type)
	}
	if ev.Difficulty != "" {
		meta = append(meta, "Difficulty: "+ev.Difficulty)
	}
	if ev.Color != "" {
		meta = append(meta, "Color: "+ev.Color)
	}
	if len(meta) > 0 {
		sb.WriteString(strings.Join(meta, " | "))
		sb.WriteString("\n")
	}

	if ev.Provider != "" && ev.Provider != models.ProviderLocal {
		sb.WriteString(fmt.Sprintf("Source: %s", FormatProvider(ev.Provider)))
		if ev.AccountID != "" {
			sb.WriteString(" " + subtleStyle.Render(ev.AccountID))
		}
		if id := ev.ExternalID(); id != "" {
			sb.WriteString(subtleStyle.Render(" (" + id + ")"))
		}
		sb.WriteString("\n")
	}

	if ev.Notes != "" {
		sb.WriteString("\n")
		sb.WriteString(subtleStyle.Render("Notes:"))
		sb.WriteString("\n")
		sb.WriteString(RenderNotes(ev.Notes))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(subtleStyle.Render(fmt.Sprintf("sync id %s, updated %s", ev.SyncID, FormatTimeAgo(ev.UpdatedAt))))
	sb.WriteString("\n")
	return sb.String()
}

// FormatAccount formats a connected account on one line.
func FormatAccount(a *models.Account) string {
	status := string(a.Status)
	if style, ok := accountStyles[a.Status]; ok {
		status = style.Render(status)
	}
	parts := []string{
		titleStyle.Render(a.ID),
		FormatProvider(a.Provider),
		a.Email,
		status,
	}
	if a.LastSyncAt != nil {
		parts = append(parts, subtleStyle.Render("synced "+FormatTimeAgo(*a.LastSyncAt)))
	} else {
		parts = append(parts, subtleStyle.Render("never synced"))
	}
	line := strings.Join(parts, "  ")
	if a.Status == models.AccountError && a.StatusMessage != "" {
		line += "\n" + IndentString(errorStyle.Render(a.StatusMessage), 4)
	}
	return line
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nACCOUNTS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
