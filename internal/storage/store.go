// Package storage persists accounts and received SMS messages.
//
// Two backends implement Store: Postgres (pgx connection pool) for hosted
// deployments and SQLite for local use and tests. Both generate message ids
// and receipt timestamps in the application so rows look the same whichever
// backend wrote them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAccountNotFound is returned when no account owns the secret.
	ErrAccountNotFound = errors.New("account not found")

	// ErrMessageNotFound is returned when no message has the id.
	ErrMessageNotFound = errors.New("message not found")
)

// Message field defaults.
const (
	DefaultSender  = "Mobile Automation"
	SourceWebhook  = "webhook"
	StatusReceived = "received"
)

// Account is a client identity that may submit messages.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SecretKey string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a persisted SMS. Messages are never updated or deleted.
type Message struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Body       string    `json:"message_body"`
	Sender     string    `json:"sender"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewMessage is the input to InsertMessage.
type NewMessage struct {
	AccountID string
	Body      string
	Sender    string
	Source    string
	Status    string
}

// Store is the persistence contract shared by all backends. Implementations
// are safe for concurrent use.
type Store interface {
	// LookupAccount returns the account whose secret equals secret, or
	// ErrAccountNotFound.
	LookupAccount(ctx context.Context, secret string) (Account, error)

	// CreateAccount registers a new account. Used by administrative tooling;
	// the webhook never mutates accounts.
	CreateAccount(ctx context.Context, name, secret string) (Account, error)

	// InsertMessage writes exactly one row. There is no idempotency key:
	// identical inputs produce distinct rows.
	InsertMessage(ctx context.Context, m NewMessage) (Message, error)

	GetMessage(ctx context.Context, id string) (Message, error)
	CountMessages(ctx context.Context, accountID string) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options selects and tunes a backend.
type Options struct {
	Driver string

	// URL is the Postgres connection string (DATABASE_URL).
	URL string

	// Path is the SQLite database file.
	Path string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// InsecureSkipVerify accepts any server certificate when TLS is in use.
	InsecureSkipVerify bool

	// Bootstrap creates missing tables on open.
	Bootstrap bool
}

// Open opens the backend named by opts.Driver.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(opts.Driver) {
	case DriverPostgres, "postgresql", "pgx":
		return OpenPostgres(ctx, opts, logger)
	case DriverSQLite, "":
		return OpenSQLiteStore(ctx, opts.Path, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
}

// newMessageRow fills the generated fields of a message. Timestamps are
// truncated to microseconds, the precision Postgres keeps.
func newMessageRow(m NewMessage, now time.Time) (Message, error) {
	if m.AccountID == "" {
		return Message{}, errors.New("account id is required")
	}
	msg := Message{
		ID:         uuid.NewString(),
		AccountID:  m.AccountID,
		Body:       m.Body,
		Sender:     m.Sender,
		Source:     m.Source,
		Status:     m.Status,
		ReceivedAt: now.UTC().Truncate(time.Microsecond),
	}
	if msg.Sender == "" {
		msg.Sender = DefaultSender
	}
	if msg.Source == "" {
		msg.Source = SourceWebhook
	}
	if msg.Status == "" {
		msg.Status = StatusReceived
	}
	return msg, nil
}

func newAccountRow(name, secret string, now time.Time) (Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Account{}, errors.New("account name is required")
	}
	if secret == "" {
		return Account{}, errors.New("account secret is required")
	}
	return Account{
		ID:        uuid.NewString(),
		Name:      name,
		SecretKey: secret,
		CreatedAt: now.UTC().Truncate(time.Microsecond),
	}, nil
}
