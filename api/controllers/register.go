package controllers

import (
	"net/http"

	"github.com/tlb-diamond/tlbd-backend/api/responses"
	"github.com/tlb-diamond/tlbd-backend/api/validators"
	"github.com/tlb-diamond/tlbd-backend/internal/auth"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
)

// AuthRegister handles onboarding new users with their wallet.
func AuthRegister(reg auth.RegisterService, svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil || svc == nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body auth.RegisterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := reg.Register(r.Context(), body)
		if err != nil {
			if logg != nil {
				logg.Error(r.Context(), "register failed", err)
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Login(r.Context(), auth.LoginRequest{Email: body.Email, Password: body.Password})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set("X-TLBD-Token", result.AccessToken)
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"user":          result.User,
			"wallet_id":     created.WalletID,
			"refresh_token": result.RefreshToken,
		})
	}
}
