package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tlb-diamond/tlbd-backend/api/controllers"
	webhookcontrollers "github.com/tlb-diamond/tlbd-backend/api/controllers/webhooks"
	"github.com/tlb-diamond/tlbd-backend/api/middleware"
	"github.com/tlb-diamond/tlbd-backend/internal/auth"
	"github.com/tlb-diamond/tlbd-backend/internal/bonuses"
	"github.com/tlb-diamond/tlbd-backend/internal/transactions"
	"github.com/tlb-diamond/tlbd-backend/internal/transfers"
	"github.com/tlb-diamond/tlbd-backend/internal/wallets"
	"github.com/tlb-diamond/tlbd-backend/pkg/auth/session"
	"github.com/tlb-diamond/tlbd-backend/pkg/config"
	"github.com/tlb-diamond/tlbd-backend/pkg/db"
	"github.com/tlb-diamond/tlbd-backend/pkg/gateway"
	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
	"github.com/tlb-diamond/tlbd-backend/pkg/redis"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(context.Context, string, string) (string, string, error)
	Revoke(context.Context, string) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	sessionManager sessionManager,
	authService auth.Service,
	registerService auth.RegisterService,
	adminRegisterService auth.AdminRegisterService,
	walletsService wallets.Service,
	transactionsService transactions.Service,
	bonusesService bonuses.Service,
	transfersService transfers.Service,
	gatewayClient *gateway.Client,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)
	apiPolicy := middleware.NewRateLimitPolicy(
		cfg.APIRateLimit.Window,
		cfg.APIRateLimit.UserLimit,
	)
	apiRateLimit := middleware.RateLimit(apiPolicy, nil, logg)
	apiIdempotency := middleware.Idempotency(nil, logg)
	if redisClient != nil {
		apiRateLimit = middleware.RateLimit(apiPolicy, redisClient, logg)
		apiIdempotency = middleware.Idempotency(redisClient, logg)
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Post("/validate", controllers.PublicValidate(logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/gateway", webhookcontrollers.GatewayWebhook(transfersService, gatewayClient, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, redisClient, logg)).Post("/login", controllers.AuthLogin(authService, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, redisClient, logg)).Post("/register", controllers.AuthRegister(registerService, authService, logg))
		r.Post("/logout", controllers.AuthLogout(sessionManager, cfg.JWT, logg))
		r.Post("/refresh", controllers.AuthRefresh(sessionManager, cfg.JWT, logg))
	})

	r.Route("/api/admin/v1/auth", func(r chi.Router) {
		if !cfg.App.IsProd() {
			r.Post("/register", controllers.AdminAuthRegister(adminRegisterService, authService, cfg, logg))
		}
		r.With(middleware.AuthRateLimit(loginPolicy, redisClient, logg)).Post("/login", controllers.AdminAuthLogin(authService, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessionManager, logg))
		r.Use(apiIdempotency)
		r.Use(apiRateLimit)

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/wallet", func(r chi.Router) {
			r.Get("/", controllers.WalletFetch(walletsService, logg))
			r.Post("/send", controllers.WalletSend(transfersService, logg))
			r.Post("/request", controllers.WalletRequest(transfersService, logg))
			r.Post("/topup", controllers.WalletTopup(transfersService, logg))
		})

		r.Route("/v1/transactions", func(r chi.Router) {
			r.Get("/", controllers.TransactionList(transactionsService, logg))
			r.Get("/{transactionId}", controllers.TransactionDetail(transactionsService, logg))
		})

		r.Route("/v1/bonuses", func(r chi.Router) {
			r.Get("/", controllers.BonusList(bonusesService, logg))
			r.Get("/{bonusId}", controllers.BonusDetail(bonusesService, logg))
			r.Post("/{bonusId}/claim", controllers.BonusClaim(bonusesService, logg))
			r.Post("/{bonusId}/forward", controllers.BonusForward(bonusesService, logg))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessionManager, logg))
		r.Use(middleware.RequireRole("admin", logg))
		r.Use(apiIdempotency)
		r.Use(apiRateLimit)
		r.Get("/ping", controllers.AdminPing())
		r.Post("/v1/bonuses", controllers.AdminBonusGrant(bonusesService, logg))
	})

	return r
}
