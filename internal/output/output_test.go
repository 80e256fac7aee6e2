package output

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/cadence/internal/models"
)

// TestFormatTimeAgo covers each bucket of the relative formatter
func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		ago      time.Duration
		expected string
	}{
		{0, "just now"},
		{59 * time.Second, "just now"},
		{time.Minute, "1m ago"},
		{59 * time.Minute, "59m ago"},
		{time.Hour, "1h ago"},
		{23 * time.Hour, "23h ago"},
		{24 * time.Hour, "1d ago"},
		{6 * 24 * time.Hour, "6d ago"},
	}
	for _, tc := range tests {
		if got := FormatTimeAgo(time.Now().Add(-tc.ago)); got != tc.expected {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tc.ago, got, tc.expected)
		}
	}

	old := time.Now().Add(-8 * 24 * time.Hour)
	if got := FormatTimeAgo(old); got != old.Format("2006-01-02") {
		t.Errorf("FormatTimeAgo(-8d) = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[int]string{0: "", 15: "15m", 60: "1h", 90: "1h30m", 125: "2h05m"}
	for in, want := range tests {
		if got := FormatDuration(in); got != want {
			t.Errorf("FormatDuration(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusBadge(t *testing.T) {
	tests := []struct {
		status   models.Status
		contains string
	}{
		{models.StatusActive, "●"},
		{models.StatusDone, "✓"},
		{models.StatusCancelled, "⊘"},
		{models.StatusRemoved, "✗"},
	}
	for _, tc := range tests {
		result := StatusBadge(tc.status)
		if !strings.Contains(result, tc.contains) || !strings.Contains(result, string(tc.status)) {
			t.Errorf("StatusBadge(%q) = %q, should contain %q and the status", tc.status, result, tc.contains)
		}
	}
	if !strings.Contains(StatusBadge(models.Status("odd")), "?") {
		t.Error("unknown status should use ? symbol")
	}
}

func testEvent() *models.CalendarEvent {
	return &models.CalendarEvent{
		ID:              7,
		SyncID:          "s-7",
		Title:           "Quarterly planning with the whole platform group and guests",
		Notes:           "Bring the roadmap",
		Start:           time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
		End:             time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC),
		DurationMinutes: 90,
		Status:          models.StatusActive,
		Provider:        models.ProviderGoogle,
		AccountID:       "acc_1",
		GoogleID:        "g-123",
		UpdatedAt:       time.Now(),
	}
}

func TestFormatEventShort(t *testing.T) {
	ev := testEvent()
	line := FormatEventShort(ev, time.UTC)
	for _, want := range []string{"Mon 2025-03-03 09:00", "#7", "1h30m", "google", "…"} {
		if !strings.Contains(line, want) {
			t.Errorf("short line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "[active]") {
		t.Error("active events should not print their status")
	}

	ev.Status = models.StatusDone
	ev.Provider = models.ProviderLocal
	line = FormatEventShort(ev, time.UTC)
	if !strings.Contains(line, "[done]") || strings.Contains(line, "local") {
		t.Errorf("done local line = %q", line)
	}
}

func TestFormatEventLong(t *testing.T) {
	out := FormatEventLong(testEvent(), time.UTC)
	for _, want := range []string{"#7: Quarterly planning", "● active", "09:00 - 10:30", "acc_1", "g-123", "Bring the roadmap", "sync id s-7"} {
		if !strings.Contains(out, want) {
			t.Errorf("long output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatAccount(t *testing.T) {
	a := &models.Account{ID: "acc_1", Provider: models.ProviderOutlook, Email: "me@example.com",
		Status: models.AccountError, StatusMessage: "token refresh failed"}
	line := FormatAccount(a)
	for _, want := range []string{"acc_1", "outlook", "me@example.com", "error", "never synced", "token refresh failed"} {
		if !strings.Contains(line, want) {
			t.Errorf("account line %q missing %q", line, want)
		}
	}
}

func TestSectionHeaderAndIndent(t *testing.T) {
	if got := SectionHeader("accounts"); got != "\nACCOUNTS:\n" {
		t.Errorf("SectionHeader = %q", got)
	}
	if got := IndentString("a\nb", 2); got != "  a\n  b" {
		t.Errorf("IndentString = %q", got)
	}
	if IndentString("", 4) != "" {
		t.Error("IndentString of empty should stay empty")
	}
}

func TestRenderMarkdownWithWidth(t *testing.T) {
	out, err := RenderMarkdownWithWidth("   ", 40)
	if err != nil || out != "" {
		t.Fatalf("blank input = %q, %v", out, err)
	}
	out, err = RenderMarkdownWithWidth("**agenda**", 5)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "agenda") {
		t.Errorf("rendered = %q", out)
	}
}
