package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/sms-inbound/internal/events"
)

const maxFeedRows = 50

// FeedState accumulates webhook outcomes seen on the event stream.
type FeedState struct {
	Accepted int
	Rejected int
	ByCode   map[string]int
	// Messages holds accepted messages, newest first.
	Messages []events.SMSLogged
}

func NewFeedState() *FeedState {
	return &FeedState{ByCode: make(map[string]int)}
}

// Apply folds one event into the feed. It reports whether the event changed
// the message list.
func (f *FeedState) Apply(e events.Event) bool {
	switch e.Type {
	case events.TypeSMSLogged:
		var d events.SMSLogged
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return false
		}
		f.Accepted++
		f.Messages = append([]events.SMSLogged{d}, f.Messages...)
		if len(f.Messages) > maxFeedRows {
			f.Messages = f.Messages[:maxFeedRows]
		}
		return true
	case events.TypeSMSRejected:
		var d events.SMSRejected
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return false
		}
		f.Rejected++
		f.ByCode[d.Code]++
	}
	return false
}

func feedColumns(width int) []table.Column {
	cols := []table.Column{
		{Title: "Time", Width: 8},
		{Title: "ID", Width: 8},
		{Title: "Account", Width: 10},
		{Title: "Sender", Width: 14},
		{Title: "Path", Width: 14},
		{Title: "Runes", Width: 5},
	}
	used := 0
	for _, c := range cols {
		used += c.Width + 2
	}
	preview := width - 4 - used - 2
	if preview < 10 {
		preview = 10
	}
	return append(cols, table.Column{Title: "Preview", Width: preview})
}

func feedRows(msgs []events.SMSLogged) []table.Row {
	rows := make([]table.Row, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, table.Row{
			m.ReceivedAt.Local().Format("15:04:05"),
			shortID(m.MessageID),
			m.AccountID,
			m.Sender,
			m.Path,
			fmt.Sprintf("%d", m.Runes),
			m.Preview,
		})
	}
	return rows
}

func newFeedTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns(feedColumns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	s.Selected = theme.Selected
	t.SetStyles(s)
	return t
}

func renderFeed(t table.Model, f *FeedState, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render(fmt.Sprintf("MESSAGES (%d)", f.Accepted))
	if len(f.Messages) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Dim.Render("  No messages yet"),
		))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, title, t.View()))
}

func renderRejections(f *FeedState, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render(fmt.Sprintf("REJECTIONS (%d)", f.Rejected))
	if f.Rejected == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Dim.Render("  None"),
		))
	}

	codes := make([]string, 0, len(f.ByCode))
	for code := range f.ByCode {
		codes = append(codes, code)
	}
	// Most frequent first, then by name.
	sort.Slice(codes, func(i, j int) bool {
		if f.ByCode[codes[i]] != f.ByCode[codes[j]] {
			return f.ByCode[codes[i]] > f.ByCode[codes[j]]
		}
		return codes[i] < codes[j]
	})

	lines := make([]string, 0, len(codes))
	for _, code := range codes {
		lines = append(lines, fmt.Sprintf("  %s %s",
			theme.StatusFailed.Render(fmt.Sprintf("%-22s", code)),
			theme.Highlight.Render(fmt.Sprintf("%d", f.ByCode[code]))))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		title,
		strings.Join(lines, "\n"),
	))
}
