package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfigForDefaults(t *testing.T) {
	cfg, err := poolConfigFor(Options{URL: "postgres://u:p@localhost:5432/sms?sslmode=disable"})
	require.NoError(t, err)

	assert.EqualValues(t, DefaultMaxConns, cfg.MaxConns)
	assert.EqualValues(t, DefaultMinConns, cfg.MinConns)
	assert.Equal(t, DefaultMaxConnLifetime, cfg.MaxConnLifetime)
	assert.Equal(t, DefaultMaxConnIdleTime, cfg.MaxConnIdleTime)
	assert.Nil(t, cfg.ConnConfig.TLSConfig)
}

func TestPoolConfigForOverrides(t *testing.T) {
	cfg, err := poolConfigFor(Options{
		URL:             "postgres://u:p@localhost:5432/sms?sslmode=disable",
		MaxConns:        4,
		MinConns:        9,
		MaxConnLifetime: time.Hour,
	})
	require.NoError(t, err)

	assert.EqualValues(t, 4, cfg.MaxConns)
	assert.EqualValues(t, 4, cfg.MinConns, "min is clamped to max")
	assert.Equal(t, time.Hour, cfg.MaxConnLifetime)
}

func TestPoolConfigForInsecureSkipVerify(t *testing.T) {
	url := "postgres://u:p@db.example.com:5432/sms?sslmode=verify-full"

	cfg, err := poolConfigFor(Options{URL: url})
	require.NoError(t, err)
	require.NotNil(t, cfg.ConnConfig.TLSConfig)
	assert.False(t, cfg.ConnConfig.TLSConfig.InsecureSkipVerify)

	cfg, err = poolConfigFor(Options{URL: url, InsecureSkipVerify: true})
	require.NoError(t, err)
	require.NotNil(t, cfg.ConnConfig.TLSConfig)
	assert.True(t, cfg.ConnConfig.TLSConfig.InsecureSkipVerify)
	for _, fb := range cfg.ConnConfig.Fallbacks {
		if fb.TLSConfig != nil {
			assert.True(t, fb.TLSConfig.InsecureSkipVerify)
		}
	}
}

func TestPoolConfigForBadURL(t *testing.T) {
	_, err := poolConfigFor(Options{URL: "postgres://u:p@localhost:notaport/sms"})
	assert.Error(t, err)
}

// openTestPostgres connects to SMS_TEST_DATABASE_URL or skips.
func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("SMS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SMS_TEST_DATABASE_URL not set")
	}
	p, err := OpenPostgres(context.Background(), Options{URL: url, Bootstrap: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPostgresRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := openTestPostgres(t)

	secret := "pg-test-" + time.Now().Format("150405.000000000")
	acct, err := p.CreateAccount(ctx, "pg-phone", secret)
	require.NoError(t, err)

	got, err := p.LookupAccount(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	_, err = p.LookupAccount(ctx, secret+"-nope")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	in := NewMessage{AccountID: acct.ID, Body: "سلام\nworld"}
	a, err := p.InsertMessage(ctx, in)
	require.NoError(t, err)
	b, err := p.InsertMessage(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	stored, err := p.GetMessage(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Body, stored.Body)
	assert.True(t, a.ReceivedAt.Equal(stored.ReceivedAt))

	n, err := p.CountMessages(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = p.GetMessage(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}
