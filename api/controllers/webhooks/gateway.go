package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tlb-diamond/tlbd-backend/api/responses"
	"github.com/tlb-diamond/tlbd-backend/pkg/db/models"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
)

const gatewaySignatureHeader = "X-Gateway-Signature"

const (
	eventChargeSucceeded = "charge.succeeded"
	eventChargeFailed    = "charge.failed"
)

type topupSettler interface {
	CompleteTopup(ctx context.Context, reference, gatewayRef string) (*models.Transaction, error)
	FailTopup(ctx context.Context, reference, reason string) (*models.Transaction, error)
}

type signatureVerifier interface {
	VerifySignature(payload []byte, header string) bool
}

type gatewayEvent struct {
	Event     string `json:"event"`
	ChargeID  string `json:"charge_id"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

// GatewayWebhook settles top-ups off the payment gateway's charge callbacks.
// Redeliveries are safe: settlement is idempotent on the ledger row status.
func GatewayWebhook(svc topupSettler, verifier signatureVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transfers service unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gateway client unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(gatewaySignatureHeader))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "gateway signature missing"))
			return
		}
		if !verifier.VerifySignature(payload, signature) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid gateway signature"))
			return
		}

		var event gatewayEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode gateway event"))
			return
		}
		if strings.TrimSpace(event.Reference) == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "charge reference missing"))
			return
		}

		switch event.Event {
		case eventChargeSucceeded:
			if _, err := svc.CompleteTopup(ctx, event.Reference, event.ChargeID); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		case eventChargeFailed:
			reason := event.Reason
			if reason == "" {
				reason = "gateway reported charge failure"
			}
			if _, err := svc.FailTopup(ctx, event.Reference, reason); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		default:
			if logg != nil {
				logg.Info(logg.WithField(ctx, "gateway_event", event.Event), "ignoring unhandled gateway event")
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "received"})
	}
}
