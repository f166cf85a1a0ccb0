package webhook

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mattjoyce/sms-inbound/internal/auth"
	"github.com/mattjoyce/sms-inbound/internal/events"
	"github.com/mattjoyce/sms-inbound/internal/payload"
	"github.com/mattjoyce/sms-inbound/internal/privacy"
	"github.com/mattjoyce/sms-inbound/internal/storage"
	"github.com/mattjoyce/sms-inbound/internal/tracing"
)

var errBodyTooLarge = errors.New("request body exceeds limit")

// Server represents the webhook HTTP server.
type Server struct {
	config Config
	store  Store
	auth   *auth.Authenticator
	events events.Publisher
	logger *slog.Logger
	server *http.Server

	missingSecret string
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// New creates a webhook server. publisher may be nil.
func New(config Config, store Store, publisher events.Publisher, logger *slog.Logger) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultStoreTimeout
	}
	if config.DefaultSender == "" {
		config.DefaultSender = storage.DefaultSender
	}
	if config.SignatureHeader == "" {
		config.SignatureHeader = DefaultSignatureHeader
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		config:        config,
		store:         store,
		auth:          auth.NewAuthenticator(config.Credential, store),
		events:        publisher,
		logger:        logger,
		missingSecret: missingSecretMessage(config.Credential),
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting",
		"listen", s.config.Listen,
		"path", s.config.Path,
		"credential_source", s.auth.Source(),
		"signed", s.config.SignatureSecret != "",
		"debug", s.config.Debug,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post(s.config.Path, s.handleSMS)

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleSMS runs one request through body capture, authentication,
// normalization and a single insert.
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "webhook.sms",
		attribute.String("credential_source", string(s.auth.Source())))
	defer span.End()

	reqID := middleware.GetReqID(ctx)
	logger := s.logger.With("request_id", reqID)
	if traceID := tracing.TraceID(ctx); traceID != "" {
		logger = logger.With("trace_id", traceID)
	}
	dbg := &DebugInfo{
		RequestID:        reqID,
		CredentialSource: string(s.auth.Source()),
		BodyKeys:         []string{},
	}

	raw, err := readBody(r.Body, s.config.MaxBodySize)
	if err != nil {
		s.fail(ctx, w, logger, err, "", dbg)
		return
	}
	dbg.BodyBytes = len(raw)

	if s.config.Debug {
		logger.Debug("raw request body",
			"body", string(raw),
			"bytes", len(raw),
			"hex_len", hex.EncodedLen(len(raw)),
			"content_type", r.Header.Get("Content-Type"),
			"user_agent", r.UserAgent(),
		)
	}

	if s.config.SignatureSecret != "" {
		if err := verifyHMACSignature(raw, r.Header.Get(s.config.SignatureHeader), s.config.SignatureSecret); err != nil {
			s.fail(ctx, w, logger, err, "", dbg)
			return
		}
	}

	body := payload.Parse(raw)
	dbg.BodyKeys = body.Keys()
	dbg.Repaired = body.Repaired
	dbg.Malformed = body.Malformed
	switch {
	case body.Repaired:
		logger.Debug("request body repaired",
			"parse_error", body.ParseError,
			"fields", privacy.MaskSensitiveFields(body.Fields),
		)
	case body.Malformed:
		logger.Debug("request body unparseable, treating as empty object", "error", body.ParseError)
	}

	acct, err := s.authenticate(ctx, r, body)
	if err != nil {
		s.fail(ctx, w, logger, err, "", dbg)
		return
	}
	ctx = auth.WithAccount(ctx, acct)
	logger = logger.With("account_id", acct.ID)

	res, err := payload.Extract(body)
	if err != nil {
		logger.Debug("no message text found", "body_keys", dbg.BodyKeys)
		s.fail(ctx, w, logger, err, acct.ID, dbg)
		return
	}
	dbg.Path = string(res.Path)
	dbg.Runes = utf8.RuneCountInString(res.Text)
	dbg.ContainsArabic = payload.ContainsArabic(res.Text)
	dbg.ContainsRTL = payload.ContainsRTL(res.Text)

	if s.config.Debug {
		logger.Debug("message extracted",
			"path", res.Path,
			"text", res.Text,
			"runes", dbg.Runes,
			"bytes", len(res.Text),
			"contains_arabic", dbg.ContainsArabic,
			"contains_rtl", dbg.ContainsRTL,
		)
	}

	sender := s.config.DefaultSender
	if v, ok := body.String(payload.FieldSender); ok {
		sender = v
	}

	msg, err := s.insert(ctx, storage.NewMessage{
		AccountID: acct.ID,
		Body:      res.Text,
		Sender:    sender,
		Source:    storage.SourceWebhook,
		Status:    storage.StatusReceived,
	})
	if err != nil {
		s.fail(ctx, w, logger, err, acct.ID, dbg)
		return
	}
	dbg.ReceivedAt = &msg.ReceivedAt

	preview, runes := privacy.MessagePreview(res.Text)
	logger.Info("sms logged",
		"message_id", msg.ID,
		"path", res.Path,
		"repaired", res.Repaired,
		"preview", preview,
		"runes", runes,
	)
	if s.config.Debug {
		logger.Debug("stored message",
			"message_id", msg.ID,
			"received_at", msg.ReceivedAt,
			"stored_text", msg.Body,
			"matches_input", msg.Body == res.Text,
		)
	}

	s.events.Publish(events.TypeSMSLogged, events.SMSLogged{
		MessageID:  msg.ID,
		AccountID:  acct.ID,
		Sender:     privacy.MaskSender(msg.Sender),
		Preview:    preview,
		Runes:      runes,
		Path:       string(res.Path),
		Repaired:   res.Repaired,
		ReceivedAt: msg.ReceivedAt,
		RequestID:  reqID,
	})

	resp := Response{OK: true, Code: CodeSMSLogged, ID: msg.ID, Message: MessageSMSLogged}
	if s.config.Debug {
		resp.Debug = dbg
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) authenticate(ctx context.Context, r *http.Request, body payload.Body) (storage.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "webhook.authenticate")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	acct, err := s.auth.Authenticate(ctx, s.auth.Credential(r, body.Fields))
	if err != nil {
		tracing.RecordError(ctx, err)
		return storage.Account{}, err
	}
	return acct, nil
}

func (s *Server) insert(ctx context.Context, m storage.NewMessage) (storage.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "webhook.persist")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	msg, err := s.store.InsertMessage(ctx, m)
	if err != nil {
		tracing.RecordError(ctx, err)
		return storage.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// failureFor maps a handler error to its HTTP status, response code and
// client message. Unrecognised errors are internal.
func (s *Server) failureFor(err error) (int, string, string) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, CodePayloadTooLarge, MessagePayloadTooLarge
	case errors.Is(err, errInvalidSignature):
		return http.StatusUnauthorized, CodeInvalidSignature, MessageInvalidSignature
	case errors.Is(err, auth.ErrMissingCredential):
		return http.StatusBadRequest, CodeMissingSecretKey, s.missingSecret
	case errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized, CodeInvalidKey, MessageInvalidKey
	case errors.Is(err, payload.ErrMissingMessageBody):
		return http.StatusBadRequest, CodeMissingMessageBody, MessageMissingMessageBody
	default:
		return http.StatusInternalServerError, CodeInternalError, MessageInternalError
	}
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error, accountID string, dbg *DebugInfo) {
	status, code, message := s.failureFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("sms request failed", "code", code, "error", err)
	} else {
		logger.Warn("sms request rejected", "code", code, "status", status)
	}
	tracing.RecordError(ctx, err, attribute.String("code", code))

	s.events.Publish(events.TypeSMSRejected, events.SMSRejected{
		Code:      code,
		Status:    status,
		AccountID: accountID,
		RequestID: dbg.RequestID,
	})

	resp := Response{OK: false, Code: code, Message: message}
	if s.config.Debug {
		resp.Debug = dbg
	}
	s.respondJSON(w, status, resp)
}

func readBody(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func missingSecretMessage(cfg auth.SecretConfig) string {
	if cfg.Source == auth.SourceBody {
		field := cfg.BodyField
		if field == "" {
			field = auth.DefaultSecretBodyField
		}
		return fmt.Sprintf("The %s field is required.", field)
	}
	header := cfg.Header
	if header == "" {
		header = auth.DefaultSecretHeader
	}
	return fmt.Sprintf("The %s header is required.", strings.ToLower(header))
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
