package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/sms-inbound/internal/events"
)

const streamLines = 8

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for webhooks..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= streamLines {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))

	typeStyle := theme.Dim
	switch e.Type {
	case events.TypeSMSLogged:
		typeStyle = theme.StatusOK
	case events.TypeSMSRejected:
		typeStyle = theme.StatusFailed
	}
	typeName := typeStyle.Render(fmt.Sprintf("%-13s", e.Type))

	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

// describeEvent summarizes an event payload on one line.
func describeEvent(e events.Event) string {
	switch e.Type {
	case events.TypeSMSLogged:
		var d events.SMSLogged
		if err := json.Unmarshal(e.Data, &d); err == nil {
			parts := []string{fmt.Sprintf("[%s]", shortID(d.MessageID)), d.Sender, d.Path}
			if d.Repaired {
				parts = append(parts, "repaired")
			}
			return strings.Join(parts, " ")
		}
	case events.TypeSMSRejected:
		var d events.SMSRejected
		if err := json.Unmarshal(e.Data, &d); err == nil {
			desc := fmt.Sprintf("%s (%d)", d.Code, d.Status)
			if d.AccountID != "" {
				desc += " account " + d.AccountID
			}
			return desc
		}
	}

	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
