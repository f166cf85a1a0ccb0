package api

import (
	"context"

	"github.com/mattjoyce/sms-inbound/internal/events"
	"github.com/mattjoyce/sms-inbound/internal/storage"
)

// MessageReader is the read side of the message store.
type MessageReader interface {
	GetMessage(ctx context.Context, id string) (storage.Message, error)
	CountMessages(ctx context.Context, accountID string) (int, error)
	Ping(ctx context.Context) error
}

// EventSource is the subscriber side of events.Hub.
type EventSource interface {
	SnapshotSince(lastID int64) []events.Event
	Subscribe() (<-chan events.Event, func())
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Database      string `json:"database"`
	MessagesTotal int    `json:"messages_total"`
}

// CountResponse is returned by GET /messages/count.
type CountResponse struct {
	AccountID string `json:"account_id,omitempty"`
	Count     int    `json:"count"`
}
