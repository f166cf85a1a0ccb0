package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mattjoyce/sms-inbound/internal/storage"
)

var (
	// ErrMissingCredential is returned when the client supplied no secret.
	ErrMissingCredential = errors.New("secret key is required")

	// ErrInvalidCredential is returned when no account matches the secret.
	ErrInvalidCredential = errors.New("secret key does not match any account")
)

// CredentialSource selects where the client secret is read from.
type CredentialSource string

const (
	SourceHeader CredentialSource = "header"
	SourceBody   CredentialSource = "body"
)

const (
	DefaultSecretHeader    = "X-Secret-Key"
	DefaultSecretBodyField = "secret_key"
)

// AccountLookup resolves an account by its shared secret.
type AccountLookup interface {
	LookupAccount(ctx context.Context, secret string) (storage.Account, error)
}

// SecretConfig configures the credential source.
type SecretConfig struct {
	Source    CredentialSource
	Header    string
	BodyField string
}

// Authenticator validates per-account shared secrets.
type Authenticator struct {
	cfg    SecretConfig
	lookup AccountLookup
}

// NewAuthenticator returns an Authenticator reading secrets from the source in
// cfg. Empty fields take the defaults.
func NewAuthenticator(cfg SecretConfig, lookup AccountLookup) *Authenticator {
	if cfg.Source == "" {
		cfg.Source = SourceHeader
	}
	if cfg.Header == "" {
		cfg.Header = DefaultSecretHeader
	}
	if cfg.BodyField == "" {
		cfg.BodyField = DefaultSecretBodyField
	}
	return &Authenticator{cfg: cfg, lookup: lookup}
}

// Source reports the configured credential source.
func (a *Authenticator) Source() CredentialSource {
	return a.cfg.Source
}

// Credential returns the client secret from the configured source. Only one
// source is consulted; fields is the parsed request body.
//
// A body field is used verbatim, so " " is a (wrong) secret rather than a
// missing one. Header values lose leading and trailing spaces and tabs, as
// an HTTP parser strips optional whitespace.
func (a *Authenticator) Credential(r *http.Request, fields map[string]any) string {
	if a.cfg.Source == SourceBody {
		s, _ := fields[a.cfg.BodyField].(string)
		return s
	}
	return strings.Trim(r.Header.Get(a.cfg.Header), " \t")
}

// Authenticate resolves the account owning secret. It returns
// ErrMissingCredential for an empty secret and ErrInvalidCredential when no
// account matches; any other error is a lookup failure.
func (a *Authenticator) Authenticate(ctx context.Context, secret string) (storage.Account, error) {
	if secret == "" {
		return storage.Account{}, ErrMissingCredential
	}

	acct, err := a.lookup.LookupAccount(ctx, secret)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return storage.Account{}, ErrInvalidCredential
		}
		return storage.Account{}, fmt.Errorf("lookup account: %w", err)
	}

	// Stores match on plain equality; the returned secret must still be
	// byte-identical.
	if !constantTimeEqual(secret, acct.SecretKey) {
		return storage.Account{}, ErrInvalidCredential
	}
	return acct, nil
}

type accountKey struct{}

// WithAccount binds the authenticated account to ctx.
func WithAccount(ctx context.Context, acct storage.Account) context.Context {
	return context.WithValue(ctx, accountKey{}, acct)
}

// AccountFromContext returns the account bound by WithAccount.
func AccountFromContext(ctx context.Context) (storage.Account, bool) {
	acct, ok := ctx.Value(accountKey{}).(storage.Account)
	return acct, ok
}
