package webhook

import (
	"context"
	"time"

	"github.com/mattjoyce/sms-inbound/internal/auth"
	"github.com/mattjoyce/sms-inbound/internal/storage"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/sms-inbound/internal/webhook Store

// Store is the persistence the endpoint needs. storage.Store satisfies it.
type Store interface {
	LookupAccount(ctx context.Context, secret string) (storage.Account, error)
	InsertMessage(ctx context.Context, m storage.NewMessage) (storage.Message, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen string
	Path   string

	// Credential selects where the per-account secret is read from.
	Credential auth.SecretConfig

	// DefaultSender is stored when the body carries no sender.
	DefaultSender string

	// MaxBodySize is the largest accepted request body in bytes.
	MaxBodySize int64

	// StoreTimeout bounds each store call.
	StoreTimeout time.Duration

	// Debug adds a debug object to responses and logs message content.
	Debug bool

	// SignatureSecret enables HMAC-SHA256 body verification when set.
	SignatureSecret string
	SignatureHeader string
}

// Response is the JSON body of every webhook reply.
type Response struct {
	OK      bool       `json:"ok"`
	Code    string     `json:"code"`
	ID      string     `json:"id,omitempty"`
	Message string     `json:"message"`
	Debug   *DebugInfo `json:"debug,omitempty"`
}

// DebugInfo is attached to responses in debug mode.
type DebugInfo struct {
	RequestID        string     `json:"request_id,omitempty"`
	CredentialSource string     `json:"credential_source"`
	BodyBytes        int        `json:"body_bytes"`
	BodyKeys         []string   `json:"body_keys"`
	Repaired         bool       `json:"repaired"`
	Malformed        bool       `json:"malformed"`
	Path             string     `json:"path,omitempty"`
	Runes            int        `json:"runes,omitempty"`
	ContainsArabic   bool       `json:"contains_arabic,omitempty"`
	ContainsRTL      bool       `json:"contains_rtl,omitempty"`
	ReceivedAt       *time.Time `json:"received_at,omitempty"`
}

// Response codes.
const (
	CodeSMSLogged          = "SMS_LOGGED"
	CodeMissingSecretKey   = "MISSING_SECRET_KEY"
	CodeInvalidKey         = "INVALID_KEY"
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeMissingMessageBody = "MISSING_MESSAGE_BODY"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Response messages.
const (
	MessageSMSLogged          = "SMS successfully received and queued for processing."
	MessageInvalidKey         = "The provided secret key is invalid or not associated with any account."
	MessageInvalidSignature   = "The request signature is invalid."
	MessageMissingMessageBody = "The message_body field is required."
	MessagePayloadTooLarge    = "The request body exceeds the maximum allowed size."
	MessageInternalError      = "An internal error occurred while processing the SMS."
)

// Default values
const (
	DefaultPath            = "/webhook/sms"
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultStoreTimeout    = 5 * time.Second
	DefaultSignatureHeader = "X-Signature-256"
)
