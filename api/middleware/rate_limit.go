package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tlb-diamond/tlbd-backend/api/responses"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
)

// RateLimitPolicy defines the fixed-window budget for authenticated traffic.
type RateLimitPolicy struct {
	window    time.Duration
	userLimit int
}

// NewRateLimitPolicy builds a per-user policy with the supplied window and limit.
func NewRateLimitPolicy(window time.Duration, userLimit int) RateLimitPolicy {
	return RateLimitPolicy{window: window, userLimit: userLimit}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && p.userLimit > 0
}

func (p RateLimitPolicy) userKey(userID string) string {
	return fmt.Sprintf("rl:user:%s", userID)
}

// RateLimit throttles authenticated requests per user. Requests without a
// user in context fall back to the client IP.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			subject := UserIDFromContext(ctx)
			if subject == "" {
				subject = clientIP(r)
			}
			if subject == "" {
				next.ServeHTTP(w, r)
				return
			}

			count, err := store.IncrWithTTL(ctx, policy.userKey(subject), policy.window)
			if err != nil {
				responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}
			if count > int64(policy.userLimit) {
				if logg != nil {
					logCtx := logg.WithFields(ctx, map[string]any{
						"attempts":       count,
						"limit":          policy.userLimit,
						"window_seconds": int(policy.window.Seconds()),
					})
					logg.Warn(logCtx, "api.rate_limit.blocked")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
