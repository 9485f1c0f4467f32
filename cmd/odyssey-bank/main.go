package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-bank/cmd/odyssey-bank/cli"
	"github.com/odyssey-erp/odyssey-bank/internal/app"
	"github.com/odyssey-erp/odyssey-bank/internal/auth"
	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
	"github.com/odyssey-erp/odyssey-bank/internal/observability"
	"github.com/odyssey-erp/odyssey-bank/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-bank/internal/shared"
	"github.com/odyssey-erp/odyssey-bank/jobs"
)

const usage = `usage: odyssey-bank [command]

commands:
  serve                    run the HTTP API (default)
  integrity [-json]        check ledger integrity once and exit
  jobs trigger <task>      enqueue a background task
  jobs stats               print queue statistics
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "integrity":
		os.Exit(integrity(ctx, cfg, logger, args))
	case "jobs":
		err = jobsCommand(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	backend, err := app.OpenLedger(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer backend.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	publisher := app.NewPublisher(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("publisher close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	ledgerService := ledger.NewService(backend.Repo, backend.Audit, publisher, ledger.ServiceConfig{
		AccountNumberAttempts: cfg.LedgerAccountNumberAttempts,
		PasswordCost:          cfg.LedgerPasswordCost,
		PublishTimeout:        cfg.KafkaPublishTimeout,
		Logger:                logger,
		Metrics:               metrics,
	})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownGrace)
		defer cancel()
		if err := ledgerService.Flush(flushCtx); err != nil {
			logger.Warn("flush ledger events", slog.Any("error", err))
		}
	}()
	idempotency := shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)

	authHandler := auth.NewHandler(logger, auth.NewService(backend.Repo))
	ledgerHandler := ledger.NewHandler(logger, ledgerService, idempotency)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	asynqClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobs.NewClient(asynqClient), logger)

	readiness := map[string]app.Pinger{"redis": cache.Pinger{Client: redisClient}}
	if backend.Pool != nil {
		readiness["postgres"] = backend.Pool
	}

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		AuthHandler:   authHandler,
		LedgerHandler: ledgerHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
		Readiness:     readiness,
	})

	return app.Serve(ctx, app.NewServer(cfg, router), logger)
}

func integrity(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("integrity", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return cli.ExitFailure
	}
	backend, err := app.OpenLedger(ctx, cfg, logger)
	if err != nil {
		logger.Error("open ledger", slog.Any("error", err))
		return cli.ExitFailure
	}
	defer backend.Close()

	service := ledger.NewService(backend.Repo, nil, nil, ledger.ServiceConfig{Logger: logger})
	return cli.IntegrityCommand(ctx, service, cli.IntegrityOptions{JSONOutput: *jsonOut})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	c := cli.NewJobsCLI(cfg.RedisAddr)
	defer c.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("jobs trigger: task name required (e.g. %s)", jobs.TaskLedgerIntegrityScan)
		}
		info, err := c.Trigger(ctx, args[1], "cli")
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s on %s\n", info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(stats)
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[0])
	}
}
