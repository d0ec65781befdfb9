package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/tlb-diamond/tlbd-backend/api/responses"
	"github.com/tlb-diamond/tlbd-backend/pkg/config"
	"github.com/tlb-diamond/tlbd-backend/pkg/db"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
	"github.com/tlb-diamond/tlbd-backend/pkg/redis"
)

const readinessTimeout = 2 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-TLBD-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-TLBD-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		failed := false

		checks["postgres"] = "ok"
		if dbP != nil {
			if err := dbP.Ping(ctx); err != nil {
				checks["postgres"] = "unreachable"
				failed = true
				if logg != nil {
					logg.Error(ctx, "readiness check failed for postgres", err)
				}
			}
		}

		checks["redis"] = "ok"
		if redisP != nil {
			if err := redisP.Ping(ctx); err != nil {
				checks["redis"] = "unreachable"
				failed = true
				if logg != nil {
					logg.Error(ctx, "readiness check failed for redis", err)
				}
			}
		}

		if failed {
			err := pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").
				WithDetails(checks)
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
