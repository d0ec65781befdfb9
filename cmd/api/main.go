package main

import (
	"context"
	"net/http"
	"os"

	"github.com/tlb-diamond/tlbd-backend/api/routes"
	"github.com/tlb-diamond/tlbd-backend/internal/auth"
	"github.com/tlb-diamond/tlbd-backend/internal/bonuses"
	"github.com/tlb-diamond/tlbd-backend/internal/transactions"
	"github.com/tlb-diamond/tlbd-backend/internal/transfers"
	"github.com/tlb-diamond/tlbd-backend/internal/users"
	"github.com/tlb-diamond/tlbd-backend/internal/wallets"
	"github.com/tlb-diamond/tlbd-backend/pkg/auth/session"
	"github.com/tlb-diamond/tlbd-backend/pkg/config"
	"github.com/tlb-diamond/tlbd-backend/pkg/db"
	"github.com/tlb-diamond/tlbd-backend/pkg/gateway"
	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
	"github.com/tlb-diamond/tlbd-backend/pkg/migrate"
	"github.com/tlb-diamond/tlbd-backend/pkg/outbox"
	"github.com/tlb-diamond/tlbd-backend/pkg/redis"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	gatewayClient, err := gateway.NewClient(context.Background(), cfg.Gateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	usersRepo := users.NewRepository(gormDB)
	transactionsRepo := transactions.NewRepository(gormDB)
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)

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

	transactionsService, err := transactions.NewService(transactions.ServiceParams{
		Repo: transactionsRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create transactions service", err)
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

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       usersRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	registerService, err := auth.NewRegisterService(auth.RegisterServiceParams{
		TxRunner: dbClient,
		UserRepoFactory: func(tx *gorm.DB) auth.RegisterUserRepository {
			return users.NewRepository(tx)
		},
		Wallets:        walletsService,
		Bonuses:        bonusesService,
		Outbox:         outboxService,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create register service", err)
		os.Exit(1)
	}

	adminRegisterService, err := auth.NewAdminRegisterService(auth.AdminRegisterServiceParams{
		DB:             dbClient,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create admin register service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			sessionManager,
			authService,
			registerService,
			adminRegisterService,
			walletsService,
			transactionsService,
			bonusesService,
			transfersService,
			gatewayClient,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
