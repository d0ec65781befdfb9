package controllers

import (
	"net/http"

	"github.com/tlb-diamond/tlbd-backend/api/responses"
	"github.com/tlb-diamond/tlbd-backend/api/validators"
	"github.com/tlb-diamond/tlbd-backend/internal/auth"
	"github.com/tlb-diamond/tlbd-backend/internal/users"
	"github.com/tlb-diamond/tlbd-backend/pkg/config"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
)

// AdminAuthRegister provisions an admin account. Disabled outside dev environments.
func AdminAuthRegister(adminRegister auth.AdminRegisterService, svc auth.Service, cfg *config.Config, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.App.IsProd() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin register disabled in production"))
			return
		}
		if adminRegister == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin register unavailable"))
			return
		}

		var body auth.AdminRegisterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if _, err := adminRegister.Register(r.Context(), body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.AdminLogin(r.Context(), auth.LoginRequest{
			Email:    body.Email,
			Password: body.Password,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set("X-TLBD-Token", result.AccessToken)
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]*users.UserDTO{
			"user": result.User,
		})
	}
}
