package events

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := LogPublisher{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	require.NoError(t, p.Publish(t.Context(), TransactionPosted{
		Operation: "deposit", TransactionID: "t1", UserID: "100000000001", Amount: decimal.RequireFromString("12.5"),
	}))
	require.Contains(t, buf.String(), "transaction posted")
	require.Contains(t, buf.String(), "amount=12.50")

	require.NoError(t, LogPublisher{}.Publish(t.Context(), TransactionPosted{}))
}
