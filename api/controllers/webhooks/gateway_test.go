package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tlb-diamond/tlbd-backend/pkg/db/models"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
)

type stubSettler struct {
	completedRef string
	completedCh  string
	failedRef    string
	failedReason string
	err          error
}

func (s *stubSettler) CompleteTopup(ctx context.Context, reference, gatewayRef string) (*models.Transaction, error) {
	s.completedRef = reference
	s.completedCh = gatewayRef
	return &models.Transaction{}, s.err
}

func (s *stubSettler) FailTopup(ctx context.Context, reference, reason string) (*models.Transaction, error) {
	s.failedRef = reference
	s.failedReason = reason
	return &models.Transaction{}, s.err
}

type stubVerifier struct {
	ok bool
}

func (s stubVerifier) VerifySignature(payload []byte, header string) bool {
	return s.ok
}

func postEvent(t *testing.T, handler http.HandlerFunc, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Gateway-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGatewayWebhookChargeSucceeded(t *testing.T) {
	settler := &stubSettler{}
	handler := GatewayWebhook(settler, stubVerifier{ok: true}, nil)

	rec := postEvent(t, handler, `{"event":"charge.succeeded","charge_id":"ch_123","reference":"TXN-abc"}`, "sig")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if settler.completedRef != "TXN-abc" || settler.completedCh != "ch_123" {
		t.Fatalf("expected settlement recorded got %+v", settler)
	}
}

func TestGatewayWebhookChargeFailed(t *testing.T) {
	settler := &stubSettler{}
	handler := GatewayWebhook(settler, stubVerifier{ok: true}, nil)

	rec := postEvent(t, handler, `{"event":"charge.failed","reference":"TXN-abc","reason":"card declined"}`, "sig")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if settler.failedRef != "TXN-abc" || settler.failedReason != "card declined" {
		t.Fatalf("expected failure recorded got %+v", settler)
	}
}

func TestGatewayWebhookDefaultsFailureReason(t *testing.T) {
	settler := &stubSettler{}
	handler := GatewayWebhook(settler, stubVerifier{ok: true}, nil)

	rec := postEvent(t, handler, `{"event":"charge.failed","reference":"TXN-abc"}`, "sig")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if settler.failedReason == "" {
		t.Fatal("expected a default failure reason")
	}
}

func TestGatewayWebhookRejectsMissingSignature(t *testing.T) {
	handler := GatewayWebhook(&stubSettler{}, stubVerifier{ok: true}, nil)

	rec := postEvent(t, handler, `{"event":"charge.succeeded","reference":"TXN-abc"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestGatewayWebhookRejectsBadSignature(t *testing.T) {
	settler := &stubSettler{}
	handler := GatewayWebhook(settler, stubVerifier{ok: false}, nil)

	rec := postEvent(t, handler, `{"event":"charge.succeeded","reference":"TXN-abc"}`, "bad")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if settler.completedRef != "" {
		t.Fatal("expected no settlement on bad signature")
	}
}

func TestGatewayWebhookRequiresReference(t *testing.T) {
	handler := GatewayWebhook(&stubSettler{}, stubVerifier{ok: true}, nil)

	rec := postEvent(t, handler, `{"event":"charge.succeeded","charge_id":"ch_123"}`, "sig")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestGatewayWebhookAcksUnknownEvents(t *testing.T) {
	settler := &stubSettler{}
	handler := GatewayWebhook(settler, stubVerifier{ok: true}, nil)

	rec := postEvent(t, handler, `{"event":"charge.refunded","reference":"TXN-abc"}`, "sig")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if settler.completedRef != "" || settler.failedRef != "" {
		t.Fatal("expected no settlement for unhandled event")
	}
}

func TestGatewayWebhookPropagatesSettlementErrors(t *testing.T) {
	settler := &stubSettler{err: pkgerrors.New(pkgerrors.CodeStateConflict, "transaction already settled")}
	handler := GatewayWebhook(settler, stubVerifier{ok: true}, nil)

	rec := postEvent(t, handler, `{"event":"charge.succeeded","charge_id":"ch_123","reference":"TXN-abc"}`, "sig")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
}
