package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/sms-inbound/internal/log"
	"github.com/mattjoyce/sms-inbound/internal/storage"
)

func seedMessage(t *testing.T, body, sender string) (*storage.SQLite, storage.Message) {
	t.Helper()

	ctx := context.Background()
	store, err := storage.OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "sms.db"), log.Discard())
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	acct, err := store.CreateAccount(ctx, "phone", "secret-1")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	msg, err := store.InsertMessage(ctx, storage.NewMessage{
		AccountID: acct.ID,
		Body:      body,
		Sender:    sender,
		Source:    storage.SourceWebhook,
		Status:    storage.StatusReceived,
	})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	return store, msg
}

func TestBuildReportMasksByDefault(t *testing.T) {
	t.Parallel()

	store, msg := seedMessage(t, "رمز التحقق 123456\nلا تشاركه", "+61412345678")

	out, err := BuildReport(context.Background(), store, msg.ID, Options{})
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	for _, want := range []string{
		"Message ID  : " + msg.ID,
		"lines       : 2",
		"arabic      : true",
		"rtl         : true",
		"valid utf-8 : true",
		"preview     :",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "123456") {
		t.Fatalf("report leaked digits:\n%s", out)
	}
	if strings.Contains(out, "+61412345678") {
		t.Fatalf("report leaked sender:\n%s", out)
	}
}

func TestBuildReportReveal(t *testing.T) {
	t.Parallel()

	store, msg := seedMessage(t, "hello 42", "BANK")

	out, err := BuildReport(context.Background(), store, msg.ID, Options{Reveal: true})
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if !strings.Contains(out, "      hello 42") {
		t.Fatalf("expected indented body:\n%s", out)
	}
	if !strings.Contains(out, "Sender      : BANK") {
		t.Fatalf("expected sender:\n%s", out)
	}
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()

	store, msg := seedMessage(t, "bad \uFFFD byte", "")

	out, err := BuildJSONReport(context.Background(), store, msg.ID, Options{})
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var r Report
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if r.MessageID != msg.ID || r.AccountID != msg.AccountID {
		t.Fatalf("unexpected ids: %+v", r)
	}
	if r.Text.Replacement != 1 || r.Text.Runes != 10 || r.Text.Lines != 1 {
		t.Fatalf("unexpected text stats: %+v", r.Text)
	}
	if r.Text.Body != "" {
		t.Fatalf("body should be omitted without Reveal: %+v", r.Text)
	}
}

type failingGetter struct{ err error }

func (f failingGetter) GetMessage(context.Context, string) (storage.Message, error) {
	return storage.Message{}, f.err
}

func TestBuildReportErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, err := BuildReport(ctx, failingGetter{}, " ", Options{}); err == nil {
		t.Fatal("expected error for empty id")
	}

	_, err := BuildReport(ctx, failingGetter{err: storage.ErrMessageNotFound}, "nope", Options{})
	if err == nil || !strings.Contains(err.Error(), `message "nope" not found`) {
		t.Fatalf("unexpected error: %v", err)
	}

	boom := errors.New("boom")
	_, err = BuildJSONReport(ctx, failingGetter{err: boom}, "m1", Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
