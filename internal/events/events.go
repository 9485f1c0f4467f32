// Package events carries ledger notifications to downstream consumers.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// TopicTransactionPosted is the default topic for journal notifications.
const TopicTransactionPosted = "ledger.transaction_posted"

// TransactionPosted is emitted once per committed journal record.
type TransactionPosted struct {
	EventID       string          `json:"event_id"`
	Operation     string          `json:"operation"`
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	SubAccountID  string          `json:"sub_account_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, events ...TransactionPosted) error
}

// LogPublisher writes events to the logger instead of a broker.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish logs each event at debug level.
func (p LogPublisher) Publish(ctx context.Context, events ...TransactionPosted) error {
	if p.Logger == nil {
		return nil
	}
	for _, evt := range events {
		p.Logger.DebugContext(ctx, "transaction posted",
			slog.String("operation", evt.Operation),
			slog.String("transaction_id", evt.TransactionID),
			slog.String("user_id", evt.UserID),
			slog.String("amount", evt.Amount.StringFixed(2)),
		)
	}
	return nil
}
