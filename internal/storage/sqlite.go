package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := validateSQLiteFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
  id          TEXT PRIMARY KEY,
  name        TEXT NOT NULL,
  secret_key  TEXT NOT NULL UNIQUE,
  created_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS sms_messages (
  id            TEXT PRIMARY KEY,
  account_id    TEXT NOT NULL REFERENCES accounts(id),
  message_body  TEXT NOT NULL,
  sender        TEXT NOT NULL,
  source        TEXT NOT NULL DEFAULT 'webhook',
  status        TEXT NOT NULL DEFAULT 'received',
  received_at   TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS sms_messages_account_received_idx ON sms_messages(account_id, received_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// SQLite is a Store backed by a local SQLite file.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLiteStore opens the database at path and wraps it as a Store.
func OpenSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	db, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("sqlite store opened", "path", path)
	return &SQLite{db: db, logger: logger, now: time.Now}, nil
}

// DB exposes the underlying handle for tests and tooling.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) LookupAccount(ctx context.Context, secret string) (Account, error) {
	var (
		acct    Account
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, secret_key, created_at FROM accounts WHERE secret_key = ?;`,
		secret,
	).Scan(&acct.ID, &acct.Name, &acct.SecretKey, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("select account: %w", err)
	}
	acct.CreatedAt, err = parseTime(created)
	if err != nil {
		return Account{}, fmt.Errorf("account %s created_at: %w", acct.ID, err)
	}
	return acct, nil
}

func (s *SQLite) CreateAccount(ctx context.Context, name, secret string) (Account, error) {
	acct, err := newAccountRow(name, secret, s.now())
	if err != nil {
		return Account{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts(id, name, secret_key, created_at) VALUES(?, ?, ?, ?);`,
		acct.ID, acct.Name, acct.SecretKey, formatTime(acct.CreatedAt),
	)
	if err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return acct, nil
}

func (s *SQLite) InsertMessage(ctx context.Context, m NewMessage) (Message, error) {
	msg, err := newMessageRow(m, s.now())
	if err != nil {
		return Message{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sms_messages(id, account_id, message_body, sender, source, status, received_at)
VALUES(?, ?, ?, ?, ?, ?, ?);`,
		msg.ID, msg.AccountID, msg.Body, msg.Sender, msg.Source, msg.Status, formatTime(msg.ReceivedAt),
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *SQLite) GetMessage(ctx context.Context, id string) (Message, error) {
	var (
		msg      Message
		received string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, message_body, sender, source, status, received_at
FROM sms_messages WHERE id = ?;`,
		id,
	).Scan(&msg.ID, &msg.AccountID, &msg.Body, &msg.Sender, &msg.Source, &msg.Status, &received)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("select message: %w", err)
	}
	msg.ReceivedAt, err = parseTime(received)
	if err != nil {
		return Message{}, fmt.Errorf("message %s received_at: %w", msg.ID, err)
	}
	return msg, nil
}

// CountMessages counts messages for accountID, or all messages when
// accountID is empty.
func (s *SQLite) CountMessages(ctx context.Context, accountID string) (int, error) {
	var (
		n   int
		err error
	)
	if accountID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sms_messages;`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sms_messages WHERE account_id = ?;`, accountID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
