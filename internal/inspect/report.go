// Package inspect renders a diagnostic report for one stored message, used
// to chase encoding problems after the fact.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mattjoyce/sms-inbound/internal/payload"
	"github.com/mattjoyce/sms-inbound/internal/privacy"
	"github.com/mattjoyce/sms-inbound/internal/storage"
)

// MessageGetter is the read side of storage.Store the report needs.
type MessageGetter interface {
	GetMessage(ctx context.Context, id string) (storage.Message, error)
}

// Options controls what the report reveals.
type Options struct {
	// Reveal prints the full body and unmasked sender.
	Reveal bool
}

// Report is the structured JSON representation of a message report.
type Report struct {
	MessageID  string    `json:"message_id"`
	AccountID  string    `json:"account_id"`
	Sender     string    `json:"sender"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	ReceivedAt time.Time `json:"received_at"`
	Text       Text      `json:"text"`
}

// Text describes the stored body.
type Text struct {
	Runes          int    `json:"runes"`
	Bytes          int    `json:"bytes"`
	Lines          int    `json:"lines"`
	ValidUTF8      bool   `json:"valid_utf8"`
	Replacement    int    `json:"replacement_chars"`
	ContainsArabic bool   `json:"contains_arabic"`
	ContainsRTL    bool   `json:"contains_rtl"`
	Preview        string `json:"preview,omitempty"`
	Body           string `json:"body,omitempty"`
}

// BuildReport renders a terminal-friendly report for a message.
func BuildReport(ctx context.Context, store MessageGetter, messageID string, opts Options) (string, error) {
	r, err := gatherReportData(ctx, store, messageID, opts)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Message Report\n")
	fmt.Fprintf(&out, "Message ID  : %s\n", r.MessageID)
	fmt.Fprintf(&out, "Account ID  : %s\n", r.AccountID)
	fmt.Fprintf(&out, "Sender      : %s\n", renderUnset(r.Sender, "<none>"))
	fmt.Fprintf(&out, "Source      : %s\n", r.Source)
	fmt.Fprintf(&out, "Status      : %s\n", r.Status)
	fmt.Fprintf(&out, "Received at : %s\n", r.ReceivedAt.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&out, "\n")

	t := r.Text
	fmt.Fprintf(&out, "Text\n")
	fmt.Fprintf(&out, "    runes       : %d\n", t.Runes)
	fmt.Fprintf(&out, "    bytes       : %d\n", t.Bytes)
	fmt.Fprintf(&out, "    lines       : %d\n", t.Lines)
	fmt.Fprintf(&out, "    valid utf-8 : %t\n", t.ValidUTF8)
	fmt.Fprintf(&out, "    U+FFFD      : %d\n", t.Replacement)
	fmt.Fprintf(&out, "    arabic      : %t\n", t.ContainsArabic)
	fmt.Fprintf(&out, "    rtl         : %t\n", t.ContainsRTL)
	if opts.Reveal {
		fmt.Fprintf(&out, "    body        :\n%s\n", indent(t.Body, "      "))
	} else {
		fmt.Fprintf(&out, "    preview     : %s\n", renderUnset(t.Preview, "<empty>"))
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, store MessageGetter, messageID string, opts Options) (string, error) {
	r, err := gatherReportData(ctx, store, messageID, opts)
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(out), nil
}

func gatherReportData(ctx context.Context, store MessageGetter, messageID string, opts Options) (*Report, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, errors.New("message id is required")
	}
	msg, err := store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			return nil, fmt.Errorf("message %q not found", messageID)
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}

	r := &Report{
		MessageID:  msg.ID,
		AccountID:  msg.AccountID,
		Sender:     privacy.MaskSender(msg.Sender),
		Source:     msg.Source,
		Status:     msg.Status,
		ReceivedAt: msg.ReceivedAt,
		Text:       describeText(msg.Body),
	}
	if opts.Reveal {
		r.Sender = msg.Sender
		r.Text.Body = msg.Body
	} else {
		r.Text.Preview, _ = privacy.MessagePreview(msg.Body)
	}
	return r, nil
}

func describeText(body string) Text {
	t := Text{
		Runes:          utf8.RuneCountInString(body),
		Bytes:          len(body),
		ValidUTF8:      utf8.ValidString(body),
		Replacement:    strings.Count(body, "\uFFFD"),
		ContainsArabic: payload.ContainsArabic(body),
		ContainsRTL:    payload.ContainsRTL(body),
	}
	if body != "" {
		t.Lines = strings.Count(body, "\n") + 1
	}
	return t
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
