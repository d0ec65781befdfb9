package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tlb-diamond/tlbd-backend/api/middleware"
	"github.com/tlb-diamond/tlbd-backend/api/responses"
	"github.com/tlb-diamond/tlbd-backend/api/validators"
	"github.com/tlb-diamond/tlbd-backend/internal/bonuses"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
)

// BonusList returns the caller's bonuses, newest first.
func BonusList(svc bonuses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bonuses service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := bonuses.ListParams{
			UserID: userID,
			Status: strings.TrimSpace(r.URL.Query().Get("status")),
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		limit, err := queryLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.Limit = limit

		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  bonusDTOs(result.Items),
			"cursor": result.Cursor,
		})
	}
}

// BonusDetail returns one of the caller's bonuses by id.
func BonusDetail(svc bonuses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bonuses service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bonusID, err := pathUUID(r, "bonusId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		bonus, err := svc.Get(r.Context(), userID, bonusID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, bonusDTO(bonus))
	}
}

// BonusClaim credits the bonus amount into the caller's wallet.
func BonusClaim(svc bonuses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bonuses service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bonusID, err := pathUUID(r, "bonusId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Claim(r.Context(), userID, bonusID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"bonus":       bonusDTO(result.Bonus),
			"wallet":      walletDTO(result.Wallet),
			"transaction": transactionDTO(result.Transaction),
		})
	}
}

type bonusForwardRequest struct {
	RecipientID uuid.UUID `json:"recipient_id" validate:"required"`
}

// BonusForward hands an unclaimed bonus to another member.
func BonusForward(svc bonuses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bonuses service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bonusID, err := pathUUID(r, "bonusId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body bonusForwardRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		bonus, err := svc.Forward(r.Context(), bonuses.ForwardInput{
			UserID:       userID,
			BonusID:      bonusID,
			TargetUserID: body.RecipientID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, bonusDTO(bonus))
	}
}

type adminBonusGrantRequest struct {
	RecipientID uuid.UUID  `json:"recipient_id" validate:"required"`
	Type        string     `json:"type" validate:"required"`
	Amount      string     `json:"amount" validate:"required"`
	Title       string     `json:"title" validate:"required,max=128"`
	Description *string    `json:"description,omitempty"`
	CanForward  bool       `json:"can_forward"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// AdminBonusGrant issues a bonus to any member on behalf of an admin.
func AdminBonusGrant(svc bonuses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bonuses service unavailable"))
			return
		}

		var body adminBonusGrantRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := parseAmount(body.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bonusType, err := enums.ParseBonusType(strings.TrimSpace(body.Type))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid bonus type"))
			return
		}

		input := bonuses.GrantInput{
			RecipientID: body.RecipientID,
			Type:        bonusType,
			Amount:      amount,
			Title:       body.Title,
			Description: body.Description,
			CanForward:  body.CanForward,
			ExpiresAt:   body.ExpiresAt,
		}
		if raw := middleware.UserIDFromContext(r.Context()); raw != "" {
			if giver, parseErr := uuid.Parse(raw); parseErr == nil {
				input.GiverID = &giver
			}
		}

		bonus, err := svc.Grant(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, bonusDTO(bonus))
	}
}
