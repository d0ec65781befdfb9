package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tlb-diamond/tlbd-backend/internal/bonuses"
	"github.com/tlb-diamond/tlbd-backend/internal/cron"
	"github.com/tlb-diamond/tlbd-backend/internal/transactions"
	"github.com/tlb-diamond/tlbd-backend/internal/transfers"
	"github.com/tlb-diamond/tlbd-backend/internal/users"
	"github.com/tlb-diamond/tlbd-backend/internal/wallets"
	"github.com/tlb-diamond/tlbd-backend/pkg/config"
	"github.com/tlb-diamond/tlbd-backend/pkg/db"
	"github.com/tlb-diamond/tlbd-backend/pkg/gateway"
	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
	"github.com/tlb-diamond/tlbd-backend/pkg/metrics"
	"github.com/tlb-diamond/tlbd-backend/pkg/migrate"
	"github.com/tlb-diamond/tlbd-backend/pkg/outbox"
	"github.com/tlb-diamond/tlbd-backend/pkg/redis"
)

const lockKeyFormat = "tlbd:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayClient, err := gateway.NewClient(context.Background(), cfg.Gateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	usersRepo := users.NewRepository(gormDB)
	transactionsRepo := transactions.NewRepository(gormDB)
	outboxRepo := outbox.NewRepository(gormDB)
	outboxService := outbox.NewService(outboxRepo, logg)

	walletsService, err := wallets.NewService(wallets.ServiceParams{
		Repo:   wallets.NewRepository(gormDB),
		Ledger: transactionsRepo,
		Tx:     dbClient,
		Config: cfg.Wallet,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create wallets service", err)
		os.Exit(1)
	}

	bonusesService, err := bonuses.NewService(bonuses.ServiceParams{
		Repo:    bonuses.NewRepository(gormDB),
		Wallets: walletsService,
		Users:   usersRepo,
		Outbox:  outboxService,
		Tx:      dbClient,
		Config:  cfg.Bonus,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create bonuses service", err)
		os.Exit(1)
	}

	transfersService, err := transfers.NewService(transfers.ServiceParams{
		Wallets: walletsService,
		Ledger:  transactionsRepo,
		Users:   usersRepo,
		Outbox:  outboxService,
		Gateway: gatewayClient,
		Tx:      dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create transfers service", err)
		os.Exit(1)
	}

	bonusExpiryJob, err := cron.NewBonusExpiryJob(cron.BonusExpiryJobParams{
		Logger:    logg,
		Bonuses:   bonusesService,
		BatchSize: cfg.Bonus.ExpirySweepBatch,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create bonus expiry job", err)
		os.Exit(1)
	}

	topupTimeoutJob, err := cron.NewTopupTimeoutJob(cron.TopupTimeoutJobParams{
		Logger:    logg,
		Transfers: transfersService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create topup timeout job", err)
		os.Exit(1)
	}

	outboxRetentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		Retention:   int(cfg.Outbox.Retention.Hours() / 24),
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	registry.Register(bonusExpiryJob)
	registry.Register(topupTimeoutJob)
	registry.Register(outboxRetentionJob)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
