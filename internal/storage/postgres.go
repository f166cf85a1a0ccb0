package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool defaults for a single webhook process.
const (
	DefaultMaxConns        = 10
	DefaultMinConns        = 1
	DefaultMaxConnLifetime = 30 * time.Minute
	DefaultMaxConnIdleTime = 5 * time.Minute
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
  id          TEXT PRIMARY KEY,
  name        TEXT NOT NULL,
  secret_key  TEXT NOT NULL UNIQUE,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS sms_messages (
  id            TEXT PRIMARY KEY,
  account_id    TEXT NOT NULL REFERENCES accounts(id),
  message_body  TEXT NOT NULL,
  sender        TEXT NOT NULL,
  source        TEXT NOT NULL DEFAULT 'webhook',
  status        TEXT NOT NULL DEFAULT 'received',
  received_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS sms_messages_account_received_idx ON sms_messages(account_id, received_at);
`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// OpenPostgres connects to opts.URL, verifies the connection and optionally
// bootstraps the schema.
func OpenPostgres(ctx context.Context, opts Options, logger *slog.Logger) (*Postgres, error) {
	if opts.URL == "" {
		return nil, errors.New("postgres url is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := poolConfigFor(opts)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(cctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if opts.Bootstrap {
		if _, err := pool.Exec(cctx, postgresSchema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("bootstrap postgres: %w", err)
		}
	}

	stat := pool.Stat()
	logger.Info("postgres store opened",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
		"max_conns", stat.MaxConns(),
		"total_conns", stat.TotalConns(),
		"tls", poolConfig.ConnConfig.TLSConfig != nil,
		"insecure_skip_verify", opts.InsecureSkipVerify,
	)

	return &Postgres{pool: pool, logger: logger, now: time.Now}, nil
}

func poolConfigFor(opts Options) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = orDefault(opts.MaxConns, DefaultMaxConns)
	poolConfig.MinConns = orDefault(opts.MinConns, DefaultMinConns)
	if poolConfig.MinConns > poolConfig.MaxConns {
		poolConfig.MinConns = poolConfig.MaxConns
	}
	poolConfig.MaxConnLifetime = orDefault(opts.MaxConnLifetime, DefaultMaxConnLifetime)
	poolConfig.MaxConnIdleTime = orDefault(opts.MaxConnIdleTime, DefaultMaxConnIdleTime)
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	if opts.InsecureSkipVerify {
		if tc := poolConfig.ConnConfig.TLSConfig; tc != nil {
			tc.InsecureSkipVerify = true
		}
		for _, fb := range poolConfig.ConnConfig.Fallbacks {
			if fb.TLSConfig != nil {
				fb.TLSConfig.InsecureSkipVerify = true
			}
		}
	}
	return poolConfig, nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func (p *Postgres) LookupAccount(ctx context.Context, secret string) (Account, error) {
	var acct Account
	err := p.pool.QueryRow(ctx,
		`SELECT id::text, name, secret_key, created_at FROM accounts WHERE secret_key = $1`,
		secret,
	).Scan(&acct.ID, &acct.Name, &acct.SecretKey, &acct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("select account: %w", err)
	}
	acct.CreatedAt = acct.CreatedAt.UTC()
	return acct, nil
}

func (p *Postgres) CreateAccount(ctx context.Context, name, secret string) (Account, error) {
	acct, err := newAccountRow(name, secret, p.now())
	if err != nil {
		return Account{}, err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, secret_key, created_at) VALUES ($1, $2, $3, $4)`,
		acct.ID, acct.Name, acct.SecretKey, acct.CreatedAt,
	)
	if err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return acct, nil
}

func (p *Postgres) InsertMessage(ctx context.Context, m NewMessage) (Message, error) {
	msg, err := newMessageRow(m, p.now())
	if err != nil {
		return Message{}, err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO sms_messages (id, account_id, message_body, sender, source, status, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.AccountID, msg.Body, msg.Sender, msg.Source, msg.Status, msg.ReceivedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (p *Postgres) GetMessage(ctx context.Context, id string) (Message, error) {
	var msg Message
	err := p.pool.QueryRow(ctx,
		`SELECT id::text, account_id::text, message_body, sender, source, status, received_at
FROM sms_messages WHERE id = $1`,
		id,
	).Scan(&msg.ID, &msg.AccountID, &msg.Body, &msg.Sender, &msg.Source, &msg.Status, &msg.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("select message: %w", err)
	}
	msg.ReceivedAt = msg.ReceivedAt.UTC()
	return msg, nil
}

// CountMessages counts messages for accountID, or all messages when
// accountID is empty.
func (p *Postgres) CountMessages(ctx context.Context, accountID string) (int, error) {
	var (
		n   int64
		err error
	)
	if accountID == "" {
		err = p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sms_messages`).Scan(&n)
	} else {
		err = p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sms_messages WHERE account_id = $1`, accountID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return int(n), nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
