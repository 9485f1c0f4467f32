package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-bank/internal/app"
	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
)

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.LedgerStore != app.StorePostgres {
		log.Fatalf("seed requires LEDGER_STORE=%s", app.StorePostgres)
	}
	logger := app.NewLogger(cfg)

	backend, err := app.OpenLedger(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer backend.Close()

	service := ledger.NewService(backend.Repo, backend.Audit, nil, ledger.ServiceConfig{
		AccountNumberAttempts: cfg.LedgerAccountNumberAttempts,
		PasswordCost:          cfg.LedgerPasswordCost,
		Logger:                logger,
	})

	fmt.Println("→ Seeding users...")
	if err := seedUsers(ctx, service, logger); err != nil {
		log.Fatalf("seed users: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedUsers(ctx context.Context, service *ledger.Service, logger *slog.Logger) error {
	users := []ledger.RegisterInput{
		{
			LoginID:  getenv("SEED_ADMIN_LOGIN", "admin"),
			RealName: "Administrator",
			Password: getenv("SEED_ADMIN_PASSWORD", "admin123"),
			Role:     ledger.RoleAdmin,
		},
		{
			LoginID:        "demo",
			RealName:       "Demo Customer",
			Password:       "demo123",
			InitialDeposit: decimal.NewFromInt(1000),
		},
	}
	for _, in := range users {
		user, err := service.Register(ctx, in)
		if errors.Is(err, ledger.ErrDuplicateLoginID) {
			logger.Info("user exists", slog.String("login_id", in.LoginID))
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", in.LoginID, err)
		}
		logger.Info("user created", slog.String("login_id", in.LoginID), slog.String("account_number", user.ID))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
