// Package tokenmgr is an interactive scope picker used by `config token` to
// mint admin API bearer tokens.
package tokenmgr

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/sms-inbound/internal/auth"
)

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2)
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	quitTextStyle   = lipgloss.NewStyle().Margin(1, 0, 2, 4)
)

// Scopes lists every scope the admin API checks, with a description.
var Scopes = []struct {
	Scope string
	Desc  string
}{
	{auth.ScopeAll, "Full administrative access (all scopes)"},
	{auth.ScopeMessagesRO, "Read stored messages and counts"},
	{auth.ScopeMessagesRW, "Read and manage stored messages"},
	{auth.ScopeEventsRO, "Subscribe to the live webhook event stream (SSE)"},
	{auth.ScopeEventsRW, "Full access to the event stream"},
}

type item struct {
	scope    string
	desc     string
	selected bool
}

func (i item) Title() string {
	check := "[ ]"
	if i.selected {
		check = "[x]"
	}
	return fmt.Sprintf("%s %s", check, i.scope)
}
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.scope }

// Model is the BubbleTea model for the scope picker.
type Model struct {
	list     list.Model
	quitting bool
	done     bool
	scopes   []string
}

func New() *Model {
	items := make([]list.Item, 0, len(Scopes))
	for _, s := range Scopes {
		items = append(items, item{scope: s.Scope, desc: s.Desc})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Select Scopes (Space to toggle, Enter to confirm)"
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle

	return &Model{list: l}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit

		case " ":
			if i, ok := m.list.SelectedItem().(item); ok {
				i.selected = !i.selected
				m.list.SetItem(m.list.Index(), i)
			}
			return m, nil

		case "enter":
			m.done = true
			m.scopes = m.selected()
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) selected() []string {
	var out []string
	for _, li := range m.list.Items() {
		if it, ok := li.(item); ok && it.selected {
			out = append(out, it.scope)
		}
	}
	return out
}

func (m Model) View() string {
	if m.quitting {
		return quitTextStyle.Render("Cancelled.")
	}
	if m.done {
		return quitTextStyle.Render(fmt.Sprintf("Selected scopes: %s", strings.Join(m.scopes, ", ")))
	}
	return "\n" + m.list.View()
}

// Result returns the confirmed scopes. ok is false when the picker was
// cancelled or nothing was selected.
func (m Model) Result() (scopes []string, ok bool) {
	if m.quitting || !m.done || len(m.scopes) == 0 {
		return nil, false
	}
	return m.scopes, true
}

// NewToken returns a random 32-byte hex token.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

type tokenEntry struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Snippet renders an api.auth.tokens entry ready to paste into config.yaml.
func Snippet(token string, scopes []string) (string, error) {
	out, err := yaml.Marshal([]tokenEntry{{Token: token, Scopes: scopes}})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
