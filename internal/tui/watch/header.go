package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks service health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Database      string
	MessagesTotal int
	Connected     bool
	LastCheck     time.Time
}

type headerView struct {
	health HealthState
	pulse  Pulse
	perMin int
	now    time.Time
	apiURL string
}

func renderHeader(h headerView, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	statusIcon := "✅"
	switch {
	case !h.health.Connected:
		statusText = theme.StatusWarn.Render("CONNECTING")
		statusIcon = "🔌"
	case h.health.Status != "ok" && h.health.Status != "":
		statusText = theme.StatusFailed.Render(strings.ToUpper(h.health.Status))
		statusIcon = "⚠️"
	}

	uptime := formatDuration(time.Duration(h.health.UptimeSeconds) * time.Second)

	lastEvent := "never"
	if !h.pulse.Last().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", h.now.Sub(h.pulse.Last()).Round(time.Second))
	}

	titleText := fmt.Sprintf(" SMS WATCH %s", theme.Dim.Render(h.apiURL))
	clock := theme.Dim.Render(h.now.Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	db := h.health.Database
	if db == "" {
		db = "?"
	}
	dbText := theme.StatusOK.Render(db)
	if db != "ok" {
		dbText = theme.StatusFailed.Render(db)
	}

	statsLine := fmt.Sprintf(" %s %s  ⏱ %s  DB: %s  Stored: %d",
		statusIcon, statusText, uptime, dbText, h.health.MessagesTotal)

	activityLine := fmt.Sprintf(" Last webhook: %s %s  %s",
		lastEvent,
		h.pulse.Render(theme),
		theme.Highlight.Render(fmt.Sprintf("%d/min", h.perMin)),
	)

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
