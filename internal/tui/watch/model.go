package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/sms-inbound/internal/events"
)

const (
	maxEventLog    = 50
	healthInterval = 5 * time.Second
	reconnectDelay = 3 * time.Second
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	client *Client

	width  int
	height int

	health      HealthState
	feed        *FeedState
	eventLog    []events.Event
	lastEventID int64
	now         time.Time

	pulse Pulse
	rate  Rate

	theme Theme
	table table.Model

	hubEvents chan events.Event

	lastError string
}

// New creates a watch model reading from the admin API at apiURL.
func New(apiURL, token string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		client:    NewClient(apiURL, token),
		feed:      NewFeedState(),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		rate:      NewRate(),
		now:       time.Now(),
		theme:     theme,
		table:     newFeedTable(theme),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribe(0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(feedColumns(msg.Width))
		m.table.SetHeight(tableHeight(msg.Height))

	case tickMsg:
		m.now = time.Time(msg)
		m.pulse.Decay(m.now)
		m.rate.PerMinute(m.now)
		return m, tick()

	case eventMsg:
		m = m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Database = msg.Database
		m.health.MessagesTotal = msg.MessagesTotal
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.client.fetchHealth() })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = msg.err.Error() + ", retrying..."
		}
		// The pending receiveNextEvent keeps waiting on the same channel.
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.client.subscribe(m.lastEventID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.client.fetchHealth() })
	}

	return m, nil
}

func (m Model) applyEvent(e events.Event) Model {
	if e.ID > m.lastEventID {
		m.lastEventID = e.ID
	}

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	now := time.Now()
	m.pulse.Hit(now)
	m.rate.Add(now)

	if m.feed.Apply(e) {
		m.table.SetRows(feedRows(m.feed.Messages))
		m.health.MessagesTotal++
	}

	m.health.Connected = true
	m.lastError = ""
	return m
}

// tableHeight leaves room for the header, rejection and event panels.
func tableHeight(h int) int {
	n := h - 30
	if n < 5 {
		return 5
	}
	return n
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to sms-inbound..."
	}

	header := renderHeader(headerView{
		health: m.health,
		pulse:  m.pulse,
		perMin: m.rate.PerMinute(m.now),
		now:    m.now,
		apiURL: m.client.BaseURL,
	}, m.theme, m.width)
	feed := renderFeed(m.table, m.feed, m.theme, m.width)
	rejections := renderRejections(m.feed, m.theme, m.width)
	stream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, feed, rejections, stream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll messages"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
