package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/sms-inbound/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Database      string `json:"database"`
	MessagesTotal int    `json:"messages_total"`
}

type tickMsg time.Time

type errMsg error

// sseDisconnectedMsg reports the end of the event stream; err is set when
// the server refused the subscription.
type sseDisconnectedMsg struct{ err error }

type reconnectMsg struct{}

// Client talks to the admin API.
type Client struct {
	BaseURL string
	Token   string

	// stream has no timeout; health polls use a short one.
	stream *http.Client
	poll   *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		stream:  &http.Client{},
		poll:    &http.Client{Timeout: 2 * time.Second},
	}
}

// --- Commands ---

// subscribe connects to GET /events and feeds parsed events into ch until the
// stream ends. lastID resumes the stream through Last-Event-ID.
func (c *Client) subscribe(lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, c.BaseURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Accept", "text/event-stream")
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := c.stream.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return sseDisconnectedMsg{err: fmt.Errorf("events stream: %s", resp.Status)}
		}

		readSSE(bufio.NewScanner(resp.Body), ch)
		return sseDisconnectedMsg{}
	}
}

// readSSE parses "id:", "event:" and "data:" fields, emitting one event per
// blank-line-terminated block. Comment lines are keep-alives.
func readSSE(scanner *bufio.Scanner, ch chan<- events.Event) {
	var (
		id   int64
		typ  string
		data strings.Builder
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				ch <- events.Event{
					ID:   id,
					Type: typ,
					At:   time.Now().UTC(),
					Data: json.RawMessage(data.String()),
				}
			}
			id, typ = 0, ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			if n, err := strconv.ParseInt(strings.TrimSpace(line[3:]), 10, 64); err == nil {
				id = n
			}
		case strings.HasPrefix(line, "event:"):
			typ = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line[5:], " "))
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries /healthz. A 503 still carries a body describing the
// degraded state, so any decodable response is a healthMsg.
func (c *Client) fetchHealth() tea.Msg {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return errMsg(err)
	}
	resp, err := c.poll.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(fmt.Errorf("decode health: %w", err))
	}
	return h
}
