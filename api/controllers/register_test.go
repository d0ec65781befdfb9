package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/tlb-diamond/tlbd-backend/internal/auth"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
)

type stubRegisterService struct {
	resp *auth.RegisterResponse
	err  error
	last *auth.RegisterRequest
}

func (s *stubRegisterService) Register(ctx context.Context, req auth.RegisterRequest) (*auth.RegisterResponse, error) {
	s.last = &req
	return s.resp, s.err
}

func registerBody() []byte {
	return []byte(`{
		"first_name": "Alice",
		"last_name": "Diamond",
		"email": "alice@example.com",
		"username": "alice",
		"password": "Secret123!",
		"referral_code": "bob",
		"accept_tos": true
	}`)
}

func TestAuthRegisterSuccess(t *testing.T) {
	user := testUserDTO(enums.UserRoleMember)
	walletID := uuid.New()
	reg := &stubRegisterService{resp: &auth.RegisterResponse{User: user, WalletID: walletID}}
	svc := stubAuthService{loginResp: &auth.LoginResponse{
		AccessToken:  "new-token",
		RefreshToken: "refresh",
		User:         user,
	}}
	handler := AuthRegister(reg, svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader(registerBody()))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	if got := rec.Header().Get("X-TLBD-Token"); got != "new-token" {
		t.Fatalf("expected token header new-token got %s", got)
	}
	if reg.last == nil || reg.last.Username != "alice" {
		t.Fatalf("expected register payload forwarded got %+v", reg.last)
	}

	var envelope struct {
		Data struct {
			WalletID     uuid.UUID `json:"wallet_id"`
			RefreshToken string    `json:"refresh_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.WalletID != walletID {
		t.Fatalf("expected wallet id %s got %s", walletID, envelope.Data.WalletID)
	}
	if envelope.Data.RefreshToken != "refresh" {
		t.Fatalf("expected refresh token in payload got %s", envelope.Data.RefreshToken)
	}
}

func TestAuthRegisterPropagatesError(t *testing.T) {
	reg := &stubRegisterService{err: pkgerrors.New(pkgerrors.CodeConflict, "email already registered")}
	handler := AuthRegister(reg, stubAuthService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader(registerBody()))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
}

func TestAuthRegisterInvalidPayload(t *testing.T) {
	handler := AuthRegister(&stubRegisterService{}, stubAuthService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader([]byte(`{"email":"alice@example.com"}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}
