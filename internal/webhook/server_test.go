package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sms-inbound/internal/auth"
	"github.com/mattjoyce/sms-inbound/internal/config"
	"github.com/mattjoyce/sms-inbound/internal/events"
	smslog "github.com/mattjoyce/sms-inbound/internal/log"
	"github.com/mattjoyce/sms-inbound/internal/storage"
	"github.com/mattjoyce/sms-inbound/internal/webhook/mocks"
)

const testSecret = "s3cret-key"

var testAccount = storage.Account{ID: "acct-1", Name: "phone", SecretKey: testSecret}

func post(t *testing.T, h http.Handler, body string, headers map[string]string) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, DefaultPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp), "response must be JSON")
	return rec.Code, resp
}

func withSecret(secret string) map[string]string {
	return map[string]string{"X-Secret-Key": secret}
}

func newMockServer(t *testing.T, cfg Config) (*mocks.MockStore, http.Handler) {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	return store, New(cfg, store, nil, smslog.Discard()).Handler()
}

func TestHandleSMS_MissingSecret(t *testing.T) {
	_, h := newMockServer(t, Config{})

	status, resp := post(t, h, `{"message_body":"hi"}`, nil)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, resp.OK)
	assert.Equal(t, CodeMissingSecretKey, resp.Code)
	assert.Equal(t, "The x-secret-key header is required.", resp.Message)
	assert.Empty(t, resp.ID)
}

func TestHandleSMS_BlankSecretIsMissing(t *testing.T) {
	_, h := newMockServer(t, Config{})

	status, resp := post(t, h, `{"message_body":"hi"}`, withSecret("   "))

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeMissingSecretKey, resp.Code)
}

func TestHandleSMS_InvalidKey(t *testing.T) {
	store, h := newMockServer(t, Config{})
	store.EXPECT().LookupAccount(gomock.Any(), "wrong").Return(storage.Account{}, storage.ErrAccountNotFound)

	status, resp := post(t, h, `{"message_body":"hi"}`, withSecret("wrong"))

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, CodeInvalidKey, resp.Code)
	assert.Equal(t, MessageInvalidKey, resp.Message)
}

func TestHandleSMS_LookupFailure(t *testing.T) {
	store, h := newMockServer(t, Config{})
	store.EXPECT().LookupAccount(gomock.Any(), testSecret).Return(storage.Account{}, errors.New("connection refused by 10.0.0.5"))

	status, resp := post(t, h, `{"message_body":"hi"}`, withSecret(testSecret))

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternalError, resp.Code)
	assert.Equal(t, MessageInternalError, resp.Message)
	assert.NotContains(t, resp.Message, "10.0.0.5")
}

func TestHandleSMS_MissingMessageBody(t *testing.T) {
	bodies := map[string]string{
		"empty object":        `{}`,
		"empty string":        `{"message_body":""}`,
		"empty nested":        `{"message_body":{"message_body":""}}`,
		"number":              `{"message_body":42}`,
		"unparseable":         `not json at all`,
		"empty body":          ``,
		"top-level array":     `["message_body"]`,
		"empty b64 field":     `{"message_body_b64":"","encoding":"base64"}`,
		"undecodable base64":  `{"message_body_b64":"!!!","encoding":"base64"}`,
		"secret only in body": `{"secret_key":"s3cret-key"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			store, h := newMockServer(t, Config{})
			store.EXPECT().LookupAccount(gomock.Any(), testSecret).Return(testAccount, nil)

			status, resp := post(t, h, body, withSecret(testSecret))

			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, CodeMissingMessageBody, resp.Code)
			assert.Equal(t, MessageMissingMessageBody, resp.Message)
		})
	}
}

func TestHandleSMS_Success(t *testing.T) {
	store, h := newMockServer(t, Config{})
	receivedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store.EXPECT().LookupAccount(gomock.Any(), testSecret).Return(testAccount, nil)
	store.EXPECT().InsertMessage(gomock.Any(), storage.NewMessage{
		AccountID: "acct-1",
		Body:      "Your code is 1234",
		Sender:    storage.DefaultSender,
		Source:    storage.SourceWebhook,
		Status:    storage.StatusReceived,
	}).Return(storage.Message{ID: "msg-1", AccountID: "acct-1", ReceivedAt: receivedAt}, nil)

	status, resp := post(t, h, `{"message_body":"Your code is 1234"}`, withSecret(testSecret))

	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.OK)
	assert.Equal(t, CodeSMSLogged, resp.Code)
	assert.Equal(t, "msg-1", resp.ID)
	assert.Equal(t, MessageSMSLogged, resp.Message)
	assert.Nil(t, resp.Debug, "debug object only in debug mode")
}

func TestHandleSMS_SenderFromBody(t *testing.T) {
	store, h := newMockServer(t, Config{DefaultSender: "Gateway"})

	store.EXPECT().LookupAccount(gomock.Any(), testSecret).Return(testAccount, nil).Times(2)
	gomock.InOrder(
		store.EXPECT().InsertMessage(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, m storage.NewMessage) (storage.Message, error) {
				assert.Equal(t, "+15550001111", m.Sender)
				return storage.Message{ID: "a"}, nil
			}),
		store.EXPECT().InsertMessage(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, m storage.NewMessage) (storage.Message, error) {
				assert.Equal(t, "Gateway", m.Sender)
				return storage.Message{ID: "b"}, nil
			}),
	)

	status, _ := post(t, h, `{"message_body":"x","sender":"+15550001111"}`, withSecret(testSecret))
	assert.Equal(t, http.StatusOK, status)
	status, _ = post(t, h, `{"message_body":"x","sender":""}`, withSecret(testSecret))
	assert.Equal(t, http.StatusOK, status)
}

func TestHandleSMS_InsertFailure(t *testing.T) {
	store, h := newMockServer(t, Config{})
	store.EXPECT().LookupAccount(gomock.Any(), testSecret).Return(testAccount, nil)
	store.EXPECT().InsertMessage(gomock.Any(), gomock.Any()).Return(storage.Message{}, errors.New("disk full"))

	status, resp := post(t, h, `{"message_body":"hi"}`, withSecret(testSecret))

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternalError, resp.Code)
	assert.False(t, resp.OK)
}

func TestHandleSMS_StoreTimeout(t *testing.T) {
	store, h := newMockServer(t, Config{StoreTimeout: 20 * time.Millisecond})
	store.EXPECT().LookupAccount(gomock.Any(), testSecret).Return(testAccount, nil)
	store.EXPECT().InsertMessage(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ storage.NewMessage) (storage.Message, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			<-ctx.Done()
			return storage.Message{}, ctx.Err()
		})

	start := time.Now()
	status, resp := post(t, h, `{"message_body":"hi"}`, withSecret(testSecret))

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternalError, resp.Code)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHandleSMS_PayloadTooLarge(t *testing.T) {
	_, h := newMockServer(t, Config{MaxBodySize: 16})

	status, resp := post(t, h, `{"message_body":"this body is well over sixteen bytes"}`, withSecret(testSecret))

	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, CodePayloadTooLarge, resp.Code)
}

func TestHandleSMS_Signature(t *testing.T) {
	body := `{"message_body":"signed"}`
	cfg := Config{SignatureSecret: "hmac-secret"}

	t.Run("missing", func(t *testing.T) {
		_, h := newMockServer(t, cfg)
		status, resp := post(t, h, body, withSecret(testSecret))
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, CodeInvalidSignature, resp.Code)
	})

	t.Run("valid", func(t *testing.T) {
		store, h := newMockServer(t, cfg)
		store.EXPECT().LookupAccount(gomock.Any(), testSecret).Return(testAccount, nil)
		store.EXPECT().InsertMessage(gomock.Any(), gomock.Any()).Return(storage.Message{ID: "m"}, nil)

		headers := withSecret(testSecret)
		headers[DefaultSignatureHeader] = computeSignature([]byte(body), "hmac-secret")
		status, resp := post(t, h, body, headers)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, CodeSMSLogged, resp.Code)
	})
}

func TestHandleSMS_BodyCredentialSource(t *testing.T) {
	cfg := Config{Credential: auth.SecretConfig{Source: auth.SourceBody}}

	t.Run("header ignored", func(t *testing.T) {
		_, h := newMockServer(t, cfg)
		status, resp := post(t, h, `{"message_body":"hi"}`, withSecret(testSecret))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, CodeMissingSecretKey, resp.Code)
		assert.Equal(t, "The secret_key field is required.", resp.Message)
	})

	t.Run("body secret accepted", func(t *testing.T) {
		store, h := newMockServer(t, cfg)
		store.EXPECT().LookupAccount(gomock.Any(), testSecret).Return(testAccount, nil)
		store.EXPECT().InsertMessage(gomock.Any(), gomock.Any()).Return(storage.Message{ID: "m"}, nil)

		status, resp := post(t, h, `{"secret_key":"s3cret-key","message_body":"hi"}`, nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "m", resp.ID)
	})

	t.Run("whitespace body secret is invalid", func(t *testing.T) {
		store, h := newMockServer(t, cfg)
		store.EXPECT().LookupAccount(gomock.Any(), "   ").Return(storage.Account{}, storage.ErrAccountNotFound)

		status, resp := post(t, h, `{"secret_key":"   ","message_body":"hi"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, CodeInvalidKey, resp.Code)
	})

	t.Run("empty body secret is missing", func(t *testing.T) {
		_, h := newMockServer(t, cfg)
		status, resp := post(t, h, `{"secret_key":"","message_body":"hi"}`, nil)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, CodeMissingSecretKey, resp.Code)
	})
}

func TestHandleSMS_DebugResponse(t *testing.T) {
	store, h := newMockServer(t, Config{Debug: true})
	receivedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.EXPECT().LookupAccount(gomock.Any(), testSecret).Return(testAccount, nil)
	store.EXPECT().InsertMessage(gomock.Any(), gomock.Any()).Return(storage.Message{ID: "m", ReceivedAt: receivedAt}, nil)

	status, resp := post(t, h, "{\"message_body\":\"مرحبا\nworld\"}", withSecret(testSecret))

	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Debug)
	assert.Equal(t, "plain", resp.Debug.Path)
	assert.True(t, resp.Debug.Repaired)
	assert.True(t, resp.Debug.ContainsArabic)
	assert.True(t, resp.Debug.ContainsRTL)
	assert.Equal(t, []string{"message_body"}, resp.Debug.BodyKeys)
	assert.Equal(t, "header", resp.Debug.CredentialSource)
	assert.NotEmpty(t, resp.Debug.RequestID)
	require.NotNil(t, resp.Debug.ReceivedAt)
	assert.True(t, receivedAt.Equal(*resp.Debug.ReceivedAt))
}

func TestHandleSMS_DebugOnRejection(t *testing.T) {
	_, h := newMockServer(t, Config{Debug: true})

	status, resp := post(t, h, `{"message_body":"hi"}`, nil)

	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Debug)
	assert.Equal(t, []string{"message_body"}, resp.Debug.BodyKeys)
}

func TestHandleSMS_PublishesEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	hub := events.NewHub(10)
	h := New(Config{}, store, hub, smslog.Discard()).Handler()

	store.EXPECT().LookupAccount(gomock.Any(), testSecret).Return(testAccount, nil)
	store.EXPECT().InsertMessage(gomock.Any(), gomock.Any()).Return(storage.Message{ID: "msg-9", Sender: storage.DefaultSender}, nil)

	post(t, h, `{"message_body":"Code 987654 expires soon"}`, withSecret(testSecret))
	post(t, h, `{"message_body":"x"}`, nil)

	evs := hub.SnapshotSince(0)
	require.Len(t, evs, 2)

	assert.Equal(t, events.TypeSMSLogged, evs[0].Type)
	var logged events.SMSLogged
	require.NoError(t, json.Unmarshal(evs[0].Data, &logged))
	assert.Equal(t, "msg-9", logged.MessageID)
	assert.Equal(t, "acct-1", logged.AccountID)
	assert.Equal(t, "plain", logged.Path)
	assert.NotContains(t, logged.Preview, "987654")

	assert.Equal(t, events.TypeSMSRejected, evs[1].Type)
	var rejected events.SMSRejected
	require.NoError(t, json.Unmarshal(evs[1].Data, &rejected))
	assert.Equal(t, CodeMissingSecretKey, rejected.Code)
	assert.Equal(t, http.StatusBadRequest, rejected.Status)
}

func TestHandleSMS_MethodNotAllowed(t *testing.T) {
	_, h := newMockServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, DefaultPath, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// The remaining tests run against a real SQLite store.

func newSQLiteServer(t *testing.T, cfg Config) (*storage.SQLite, http.Handler) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "sms.db"), smslog.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.CreateAccount(ctx, "phone", testSecret)
	require.NoError(t, err)

	return store, New(cfg, store, nil, smslog.Discard()).Handler()
}

func TestHandleSMS_DuplicateRequestsCreateDistinctRows(t *testing.T) {
	store, h := newSQLiteServer(t, Config{})
	body := `{"message_body":"same text"}`

	status1, resp1 := post(t, h, body, withSecret(testSecret))
	status2, resp2 := post(t, h, body, withSecret(testSecret))

	require.Equal(t, http.StatusOK, status1)
	require.Equal(t, http.StatusOK, status2)
	assert.NotEqual(t, resp1.ID, resp2.ID)

	n, err := store.CountMessages(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHandleSMS_RejectedRequestsWriteNothing(t *testing.T) {
	store, h := newSQLiteServer(t, Config{})

	post(t, h, `{"message_body":"a"}`, nil)
	post(t, h, `{"message_body":"a"}`, withSecret("not-the-key"))
	post(t, h, `{}`, withSecret(testSecret))

	n, err := store.CountMessages(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleSMS_StoredText(t *testing.T) {
	arabic := "رمز التحقق الخاص بك هو 4821"

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "plain unicode", body: `{"message_body":"` + arabic + `"}`, want: arabic},
		{name: "raw newline repaired", body: "{\"message_body\":\"line one\nline two\r\n\tend\"}", want: "line one\nline two\r\n\tend"},
		{name: "nested", body: `{"message_body":{"message_body":"inner"}}`, want: "inner"},
		{
			name: "base64",
			body: `{"message_body_b64":"` + base64.StdEncoding.EncodeToString([]byte(arabic)) + `","encoding":"base64"}`,
			want: arabic,
		},
		{name: "base64 literal", body: `{"message_body_b64":"plain words"}`, want: "plain words"},
		{name: "escaped json", body: `{"message_body":"tab\there \"quoted\""}`, want: "tab\there \"quoted\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, h := newSQLiteServer(t, Config{})

			status, resp := post(t, h, tt.body, withSecret(testSecret))
			require.Equal(t, http.StatusOK, status, "code=%s", resp.Code)

			msg, err := store.GetMessage(context.Background(), resp.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Body)
			assert.Equal(t, storage.DefaultSender, msg.Sender)
			assert.Equal(t, storage.SourceWebhook, msg.Source)
			assert.Equal(t, storage.StatusReceived, msg.Status)
		})
	}
}

func TestFromGlobalConfig(t *testing.T) {
	_, err := FromGlobalConfig(nil)
	assert.Error(t, err)

	global := config.Defaults()
	global.Service.Debug = true
	global.Webhook.CredentialSource = "body"
	global.Webhook.MaxBodySize = "64KB"

	cfg, err := FromGlobalConfig(global)
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Listen)
	assert.Equal(t, DefaultPath, cfg.Path)
	assert.Equal(t, auth.SourceBody, cfg.Credential.Source)
	assert.Equal(t, "secret_key", cfg.Credential.BodyField)
	assert.EqualValues(t, 64*1024, cfg.MaxBodySize)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.True(t, cfg.Debug)

	global.Webhook.MaxBodySize = "huge"
	_, err = FromGlobalConfig(global)
	assert.Error(t, err)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestStart_ShutdownDrainsInFlightInsert(t *testing.T) {
	addr := freeAddr(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	entered := make(chan struct{})
	release := make(chan struct{})
	store.EXPECT().LookupAccount(gomock.Any(), testSecret).Return(testAccount, nil)
	store.EXPECT().InsertMessage(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, m storage.NewMessage) (storage.Message, error) {
			close(entered)
			<-release
			return storage.Message{ID: "m-drained", AccountID: m.AccountID, Body: m.Body}, nil
		})

	srv := New(Config{Listen: addr}, store, nil, smslog.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startErr := make(chan error, 1)
	go func() { startErr <- srv.Start(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	type result struct {
		status int
		resp   Response
		err    error
	}
	results := make(chan result, 1)
	go func() {
		req, err := http.NewRequest(http.MethodPost, "http://"+addr+DefaultPath, strings.NewReader(`{"message_body":"hi"}`))
		if err != nil {
			results <- result{err: err}
			return
		}
		req.Header.Set("X-Secret-Key", testSecret)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			results <- result{err: err}
			return
		}
		defer res.Body.Close()
		var resp Response
		err = json.NewDecoder(res.Body).Decode(&resp)
		results <- result{status: res.StatusCode, resp: resp, err: err}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("insert was never reached")
	}
	cancel()

	select {
	case err := <-startErr:
		t.Fatalf("Start returned while an insert was in flight: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	r := <-results
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "m-drained", r.resp.ID)

	select {
	case err := <-startErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after the request drained")
	}
}
