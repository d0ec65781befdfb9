package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tlb-diamond/tlbd-backend/api/responses"
	"github.com/tlb-diamond/tlbd-backend/api/validators"
	"github.com/tlb-diamond/tlbd-backend/internal/transfers"
	"github.com/tlb-diamond/tlbd-backend/internal/wallets"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
)

// WalletFetch returns the caller's wallet with all buckets and accumulators.
func WalletFetch(svc wallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallets service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		wallet, err := svc.GetWallet(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, walletDTO(wallet))
	}
}

// sendRequest names the recipient either by id or by a handle (email or
// username) in the recipient field.
type sendRequest struct {
	RecipientID uuid.UUID `json:"recipient_id,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
	Amount      string    `json:"amount" validate:"required"`
	Description *string   `json:"description,omitempty"`
}

// WalletSend moves funds from the caller to another member.
func WalletSend(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transfers service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body sendRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := parseAmount(body.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Send(r.Context(), transfers.SendInput{
			SenderID:    userID,
			RecipientID: body.RecipientID,
			Recipient:   body.Recipient,
			Amount:      amount,
			Description: body.Description,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"transaction": transactionDTO(result.SentTransaction),
			"wallet":      walletDTO(result.SenderWallet),
		})
	}
}

type moneyRequestBody struct {
	RecipientID uuid.UUID `json:"recipient_id,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
	Amount      string    `json:"amount" validate:"required"`
	Description *string   `json:"description,omitempty"`
}

// WalletRequest records a money request addressed to another member.
func WalletRequest(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transfers service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body moneyRequestBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := parseAmount(body.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.RequestMoney(r.Context(), transfers.RequestInput{
			RequesterID: userID,
			RecipientID: body.RecipientID,
			Recipient:   body.Recipient,
			Amount:      amount,
			Description: body.Description,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"transaction": transactionDTO(txn)})
	}
}

type topupRequest struct {
	Amount    string `json:"amount" validate:"required"`
	Method    string `json:"method" validate:"required"`
	ReturnURL string `json:"return_url,omitempty" validate:"omitempty,url"`
}

// WalletTopup opens a pending top-up against the payment gateway.
func WalletTopup(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transfers service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body topupRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := parseAmount(body.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParseTopupMethod(strings.TrimSpace(body.Method))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid top-up method"))
			return
		}

		result, err := svc.InitiateTopup(r.Context(), transfers.TopupInput{
			UserID:         userID,
			Amount:         amount,
			Method:         method,
			ReturnURL:      body.ReturnURL,
			IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"transaction":  transactionDTO(result.Transaction),
			"gateway_ref":  result.GatewayRef,
			"redirect_url": result.RedirectURL,
		})
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	return amount, nil
}
