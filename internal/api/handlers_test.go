package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/sms-inbound/internal/auth"
	"github.com/mattjoyce/sms-inbound/internal/events"
	smslog "github.com/mattjoyce/sms-inbound/internal/log"
	"github.com/mattjoyce/sms-inbound/internal/storage"
)

const testAPIKey = "test-key-123"

type fakeStore struct {
	messages map[string]storage.Message
	pingErr  error
	countErr error
	getErr   error
}

func (f *fakeStore) GetMessage(_ context.Context, id string) (storage.Message, error) {
	if f.getErr != nil {
		return storage.Message{}, f.getErr
	}
	m, ok := f.messages[id]
	if !ok {
		return storage.Message{}, storage.ErrMessageNotFound
	}
	return m, nil
}

func (f *fakeStore) CountMessages(_ context.Context, accountID string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, m := range f.messages {
		if accountID == "" || m.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func newTestServer(store MessageReader, hub *events.Hub) *Server {
	if hub == nil {
		hub = events.NewHub(16)
	}
	return New(Config{
		Listen:      "127.0.0.1:0",
		APIKey:      testAPIKey,
		WebhookPath: "/webhook/sms",
		Tokens: []auth.TokenConfig{
			{Token: "reader", Scopes: []string{auth.ScopeMessagesRO}},
			{Token: "watcher", Scopes: []string{auth.ScopeEventsRO}},
		},
	}, store, hub, smslog.Discard())
}

func sampleStore() *fakeStore {
	return &fakeStore{messages: map[string]storage.Message{
		"m1": {ID: "m1", AccountID: "a1", Body: "hello", Sender: storage.DefaultSender, Source: storage.SourceWebhook, Status: storage.StatusReceived},
		"m2": {ID: "m2", AccountID: "a2", Body: "world"},
	}}
}

func do(t *testing.T, s *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rr, req)
	return rr
}

func TestHandleHealthz(t *testing.T) {
	rr := do(t, newTestServer(sampleStore(), nil), "/healthz", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp HealthzResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Database != "ok" {
		t.Errorf("unexpected health: %+v", resp)
	}
	if resp.MessagesTotal != 2 {
		t.Errorf("expected 2 messages, got %d", resp.MessagesTotal)
	}
}

func TestHandleHealthz_StoreDown(t *testing.T) {
	rr := do(t, newTestServer(&fakeStore{pingErr: errors.New("dial tcp: refused")}, nil), "/healthz", "")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var resp HealthzResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("expected degraded, got %q", resp.Status)
	}
	if strings.Contains(rr.Body.String(), "refused") {
		t.Error("store error leaked into response")
	}
}

func TestHandleGetMessage(t *testing.T) {
	rr := do(t, newTestServer(sampleStore(), nil), "/messages/m1", testAPIKey)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var msg storage.Message
	if err := json.NewDecoder(rr.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID != "m1" || msg.Body != "hello" || msg.AccountID != "a1" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestHandleGetMessage_NotFound(t *testing.T) {
	rr := do(t, newTestServer(sampleStore(), nil), "/messages/nope", testAPIKey)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestHandleGetMessage_StoreError(t *testing.T) {
	rr := do(t, newTestServer(&fakeStore{getErr: errors.New("boom")}, nil), "/messages/m1", testAPIKey)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestHandleCountMessages(t *testing.T) {
	s := newTestServer(sampleStore(), nil)

	tests := []struct {
		path string
		want int
	}{
		{"/messages/count", 2},
		{"/messages/count?account_id=a1", 1},
		{"/messages/count?account_id=zzz", 0},
	}
	for _, tt := range tests {
		rr := do(t, s, tt.path, "reader")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", tt.path, rr.Code)
		}
		var resp CountResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Count != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, resp.Count)
		}
	}
}

// streamWriter is a concurrency-safe ResponseWriter that supports Flush.
type streamWriter struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
}

func newStreamWriter() *streamWriter {
	return &streamWriter{header: make(http.Header)}
}

func (w *streamWriter) Header() http.Header { return w.header }

func (w *streamWriter) WriteHeader(statusCode int) {
	w.mu.Lock()
	w.status = statusCode
	w.mu.Unlock()
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *streamWriter) Flush() {}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func waitFor(t *testing.T, w *streamWriter, want string) {
	t.Helper()
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(w.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %q in stream, got: %q", want, w.String())
}

func TestHandleEvents_Unauthorized(t *testing.T) {
	rr := do(t, newTestServer(sampleStore(), nil), "/events", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestHandleEvents_ReplayAndLive(t *testing.T) {
	hub := events.NewHub(16)
	server := newTestServer(sampleStore(), hub)
	hub.Publish(events.TypeSMSLogged, events.SMSLogged{MessageID: "m1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer watcher")

	w := newStreamWriter()
	router := server.setupRoutes()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(w, req)
		close(done)
	}()

	waitFor(t, w, "event: sms.logged\n")

	deadline := time.Now().Add(1 * time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(events.TypeSMSRejected, events.SMSRejected{Code: "INVALID_KEY", Status: 401})
	waitFor(t, w, "event: sms.rejected\n")

	if n := strings.Count(w.String(), "event: sms.logged\n"); n != 1 {
		t.Errorf("expected replayed event exactly once, got %d", n)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("stream did not exit after context cancel")
	}
}

func TestHandleEvents_LastEventID(t *testing.T) {
	hub := events.NewHub(16)
	server := newTestServer(sampleStore(), hub)
	hub.Publish(events.TypeSMSLogged, events.SMSLogged{MessageID: "old"})
	hub.Publish(events.TypeSMSLogged, events.SMSLogged{MessageID: "new"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Last-Event-ID", "1")

	w := newStreamWriter()
	done := make(chan struct{})
	go func() {
		server.setupRoutes().ServeHTTP(w, req)
		close(done)
	}()

	waitFor(t, w, `"message_id":"new"`)
	if strings.Contains(w.String(), `"message_id":"old"`) {
		t.Error("event before Last-Event-ID was replayed")
	}

	cancel()
	<-done
}

func TestParseLastEventID(t *testing.T) {
	tests := map[string]int64{"": 0, "7": 7, "-1": 0, "abc": 0}
	for in, want := range tests {
		if got := parseLastEventID(in); got != want {
			t.Errorf("parseLastEventID(%q) = %d, want %d", in, got, want)
		}
	}
}
