package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tlb-diamond/tlbd-backend/internal/bonuses"
	"github.com/tlb-diamond/tlbd-backend/pkg/db/models"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
)

type stubBonusService struct {
	bonus        *models.Bonus
	listResult   *bonuses.ListResult
	claimResult  *bonuses.ClaimResult
	grantInput   *bonuses.GrantInput
	forwardInput *bonuses.ForwardInput
	err          error
}

func (s *stubBonusService) Grant(ctx context.Context, input bonuses.GrantInput) (*models.Bonus, error) {
	s.grantInput = &input
	return s.bonus, s.err
}

func (s *stubBonusService) GrantWelcomeInTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.Bonus, error) {
	return s.bonus, s.err
}

func (s *stubBonusService) Get(ctx context.Context, userID, bonusID uuid.UUID) (*models.Bonus, error) {
	return s.bonus, s.err
}

func (s *stubBonusService) List(ctx context.Context, params bonuses.ListParams) (*bonuses.ListResult, error) {
	return s.listResult, s.err
}

func (s *stubBonusService) Claim(ctx context.Context, userID, bonusID uuid.UUID) (*bonuses.ClaimResult, error) {
	return s.claimResult, s.err
}

func (s *stubBonusService) Forward(ctx context.Context, input bonuses.ForwardInput) (*models.Bonus, error) {
	s.forwardInput = &input
	return s.bonus, s.err
}

func (s *stubBonusService) ExpireSweep(ctx context.Context, batchSize int) (int, error) {
	return 0, s.err
}

func testBonus(recipientID uuid.UUID) *models.Bonus {
	return &models.Bonus{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Type:        enums.BonusTypeWelcome,
		Status:      enums.BonusStatusAvailable,
		Amount:      decimal.RequireFromString("10.00"),
		Currency:    enums.CurrencyTLB,
		Title:       "Welcome bonus",
		ExpiresAt:   time.Now().Add(30 * 24 * time.Hour),
	}
}

func TestBonusList(t *testing.T) {
	userID := uuid.New()
	svc := &stubBonusService{listResult: &bonuses.ListResult{
		Items:  []models.Bonus{*testBonus(userID)},
		Cursor: "",
	}}
	handler := BonusList(svc, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/bonuses?status=available", nil, userID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	var envelope struct {
		Data struct {
			Items []*BonusDTO `json:"items"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.Items) != 1 || envelope.Data.Items[0].Amount != "10.00" {
		t.Fatalf("unexpected items %+v", envelope.Data.Items)
	}
}

func TestBonusClaim(t *testing.T) {
	userID := uuid.New()
	bonus := testBonus(userID)
	svc := &stubBonusService{claimResult: &bonuses.ClaimResult{
		Bonus:       bonus,
		Wallet:      testWallet(userID),
		Transaction: testTransaction(userID, enums.TransactionTypeBonus),
	}}

	router := chi.NewRouter()
	router.Post("/api/v1/bonuses/{bonusId}/claim", BonusClaim(svc, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/bonuses/"+bonus.ID.String()+"/claim", nil, userID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	var envelope struct {
		Data struct {
			Bonus       *BonusDTO       `json:"bonus"`
			Wallet      *WalletDTO      `json:"wallet"`
			Transaction *TransactionDTO `json:"transaction"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Bonus == nil || envelope.Data.Bonus.ID != bonus.ID {
		t.Fatalf("expected bonus in payload got %+v", envelope.Data.Bonus)
	}
	if envelope.Data.Wallet == nil || envelope.Data.Transaction == nil {
		t.Fatal("expected wallet and transaction in payload")
	}
}

func TestBonusClaimExpired(t *testing.T) {
	svc := &stubBonusService{err: pkgerrors.New(pkgerrors.CodeStateConflict, "bonus has expired")}

	router := chi.NewRouter()
	router.Post("/api/v1/bonuses/{bonusId}/claim", BonusClaim(svc, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/bonuses/"+uuid.NewString()+"/claim", nil, uuid.New()))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
}

func TestBonusForward(t *testing.T) {
	userID := uuid.New()
	targetID := uuid.New()
	bonus := testBonus(targetID)
	svc := &stubBonusService{bonus: bonus}

	router := chi.NewRouter()
	router.Post("/api/v1/bonuses/{bonusId}/forward", BonusForward(svc, nil))

	body := []byte(`{"recipient_id":"` + targetID.String() + `"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/bonuses/"+bonus.ID.String()+"/forward", body, userID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.forwardInput == nil {
		t.Fatal("expected forward input captured")
	}
	if svc.forwardInput.UserID != userID || svc.forwardInput.TargetUserID != targetID {
		t.Fatalf("unexpected forward parties %+v", svc.forwardInput)
	}
}

func TestAdminBonusGrant(t *testing.T) {
	adminID := uuid.New()
	recipientID := uuid.New()
	svc := &stubBonusService{bonus: testBonus(recipientID)}
	handler := AdminBonusGrant(svc, nil)

	body := []byte(`{"recipient_id":"` + recipientID.String() + `","type":"promotion","amount":"15.00","title":"Launch promo","can_forward":true}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/admin/v1/bonuses", body, adminID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.grantInput == nil {
		t.Fatal("expected grant input captured")
	}
	if svc.grantInput.RecipientID != recipientID {
		t.Fatalf("expected recipient %s got %s", recipientID, svc.grantInput.RecipientID)
	}
	if svc.grantInput.GiverID == nil || *svc.grantInput.GiverID != adminID {
		t.Fatalf("expected giver %s got %+v", adminID, svc.grantInput.GiverID)
	}
	if !svc.grantInput.Amount.Equal(decimal.RequireFromString("15.00")) {
		t.Fatalf("expected amount 15.00 got %s", svc.grantInput.Amount)
	}
	if !svc.grantInput.CanForward {
		t.Fatal("expected can_forward true")
	}
}

func TestAdminBonusGrantRejectsUnknownType(t *testing.T) {
	handler := AdminBonusGrant(&stubBonusService{}, nil)

	body := []byte(`{"recipient_id":"` + uuid.NewString() + `","type":"mystery","amount":"15.00","title":"Launch promo"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/admin/v1/bonuses", body, uuid.New()))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}
