package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-bank/internal/events"
	"github.com/odyssey-erp/odyssey-bank/internal/events/kafka"
	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
	"github.com/odyssey-erp/odyssey-bank/internal/ledger/memory"
	"github.com/odyssey-erp/odyssey-bank/internal/platform/db"
	"github.com/odyssey-erp/odyssey-bank/internal/shared"
)

// LedgerBackend bundles the storage chosen by LEDGER_STORE.
type LedgerBackend struct {
	Repo  ledger.Repository
	Audit ledger.AuditPort
	// Pool is nil for the memory store.
	Pool *pgxpool.Pool
}

// Close releases the database pool, if any.
func (b *LedgerBackend) Close() {
	if b != nil && b.Pool != nil {
		b.Pool.Close()
	}
}

// OpenLedger connects the configured store and applies migrations when asked.
func OpenLedger(ctx context.Context, cfg *Config, logger *slog.Logger) (*LedgerBackend, error) {
	switch cfg.LedgerStore {
	case StoreMemory:
		logger.Warn("using in-memory ledger store; data is lost on restart")
		return &LedgerBackend{Repo: memory.NewStore()}, nil
	case StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		if cfg.PGMigrate {
			if err := db.Migrate(pool, logger); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return &LedgerBackend{
			Repo:  ledger.NewRepository(pool),
			Audit: shared.NewAuditLogger(pool),
			Pool:  pool,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported LEDGER_STORE %q", cfg.LedgerStore)
	}
}

// Publisher is an events.Publisher that may hold broker connections.
type Publisher interface {
	events.Publisher
	Close() error
}

type nopCloser struct{ events.Publisher }

func (nopCloser) Close() error { return nil }

// NewPublisher selects Kafka when brokers are configured and logging otherwise.
func NewPublisher(cfg *Config, logger *slog.Logger) Publisher {
	if cfg.KafkaEnabled() {
		logger.Info("publishing ledger events to kafka",
			slog.Any("brokers", cfg.KafkaBrokers), slog.String("topic", cfg.KafkaTopic))
		return kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	return nopCloser{events.LogPublisher{Logger: logger}}
}
