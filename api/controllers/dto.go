package controllers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tlb-diamond/tlbd-backend/pkg/db/models"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
)

// WalletDTO is the transport shape of a wallet.
type WalletDTO struct {
	ID               uuid.UUID      `json:"id"`
	UserID           uuid.UUID      `json:"user_id"`
	AvailableBalance string         `json:"available_balance"`
	LockedBalance    string         `json:"locked_balance"`
	PendingBalance   string         `json:"pending_balance"`
	TotalBalance     string         `json:"total_balance"`
	TotalEarned      string         `json:"total_earned"`
	TotalSpent       string         `json:"total_spent"`
	MonthlyEarned    string         `json:"monthly_earned"`
	MonthlySpent     string         `json:"monthly_spent"`
	MonthlyBonuses   string         `json:"monthly_bonuses"`
	DailySpent       string         `json:"daily_spent"`
	DailyLimit       string         `json:"daily_limit"`
	Currency         enums.Currency `json:"currency"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func walletDTO(w *models.Wallet) *WalletDTO {
	if w == nil {
		return nil
	}
	return &WalletDTO{
		ID:               w.ID,
		UserID:           w.UserID,
		AvailableBalance: w.AvailableBalance.StringFixed(2),
		LockedBalance:    w.LockedBalance.StringFixed(2),
		PendingBalance:   w.PendingBalance.StringFixed(2),
		TotalBalance:     w.TotalBalance().StringFixed(2),
		TotalEarned:      w.TotalEarned.StringFixed(2),
		TotalSpent:       w.TotalSpent.StringFixed(2),
		MonthlyEarned:    w.MonthlyEarned.StringFixed(2),
		MonthlySpent:     w.MonthlySpent.StringFixed(2),
		MonthlyBonuses:   w.MonthlyBonuses.StringFixed(2),
		DailySpent:       w.DailySpent.StringFixed(2),
		DailyLimit:       w.DailyLimit.StringFixed(2),
		Currency:         w.Currency,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
}

// TransactionDTO is the transport shape of a ledger row.
type TransactionDTO struct {
	ID                   uuid.UUID               `json:"id"`
	WalletID             uuid.UUID               `json:"wallet_id"`
	UserID               uuid.UUID               `json:"user_id"`
	Type                 enums.TransactionType   `json:"type"`
	Status               enums.TransactionStatus `json:"status"`
	Amount               string                  `json:"amount"`
	FeeAmount            string                  `json:"fee_amount"`
	NetAmount            string                  `json:"net_amount"`
	BalanceBefore        string                  `json:"balance_before"`
	BalanceAfter         string                  `json:"balance_after"`
	Currency             enums.Currency          `json:"currency"`
	Description          *string                 `json:"description,omitempty"`
	Reference            string                  `json:"reference"`
	RelatedUserID        *uuid.UUID              `json:"related_user_id,omitempty"`
	RelatedTransactionID *uuid.UUID              `json:"related_transaction_id,omitempty"`
	Metadata             json.RawMessage         `json:"metadata,omitempty"`
	ProcessedAt          *time.Time              `json:"processed_at,omitempty"`
	CreatedAt            time.Time               `json:"created_at"`
}

func transactionDTO(t *models.Transaction) *TransactionDTO {
	if t == nil {
		return nil
	}
	return &TransactionDTO{
		ID:                   t.ID,
		WalletID:             t.WalletID,
		UserID:               t.UserID,
		Type:                 t.Type,
		Status:               t.Status,
		Amount:               t.Amount.StringFixed(2),
		FeeAmount:            t.FeeAmount.StringFixed(2),
		NetAmount:            t.NetAmount.StringFixed(2),
		BalanceBefore:        t.BalanceBefore.StringFixed(2),
		BalanceAfter:         t.BalanceAfter.StringFixed(2),
		Currency:             t.Currency,
		Description:          t.Description,
		Reference:            t.Reference,
		RelatedUserID:        t.RelatedUserID,
		RelatedTransactionID: t.RelatedTransactionID,
		Metadata:             t.Metadata,
		ProcessedAt:          t.ProcessedAt,
		CreatedAt:            t.CreatedAt,
	}
}

func transactionDTOs(items []models.Transaction) []*TransactionDTO {
	dtos := make([]*TransactionDTO, 0, len(items))
	for i := range items {
		dtos = append(dtos, transactionDTO(&items[i]))
	}
	return dtos
}

// BonusDTO is the transport shape of a bonus voucher.
type BonusDTO struct {
	ID           uuid.UUID         `json:"id"`
	RecipientID  uuid.UUID         `json:"recipient_id"`
	GiverID      *uuid.UUID        `json:"giver_id,omitempty"`
	Type         enums.BonusType   `json:"type"`
	Status       enums.BonusStatus `json:"status"`
	Amount       string            `json:"amount"`
	Currency     enums.Currency    `json:"currency"`
	Title        string            `json:"title"`
	Description  *string           `json:"description,omitempty"`
	CanForward   bool              `json:"can_forward"`
	ForwardCount int               `json:"forward_count"`
	MaxForwards  int               `json:"max_forwards"`
	ExpiresAt    time.Time         `json:"expires_at"`
	ClaimedAt    *time.Time        `json:"claimed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func bonusDTO(b *models.Bonus) *BonusDTO {
	if b == nil {
		return nil
	}
	return &BonusDTO{
		ID:           b.ID,
		RecipientID:  b.RecipientID,
		GiverID:      b.GiverID,
		Type:         b.Type,
		Status:       b.Status,
		Amount:       b.Amount.StringFixed(2),
		Currency:     b.Currency,
		Title:        b.Title,
		Description:  b.Description,
		CanForward:   b.CanForward,
		ForwardCount: b.ForwardCount,
		MaxForwards:  b.MaxForwards,
		ExpiresAt:    b.ExpiresAt,
		ClaimedAt:    b.ClaimedAt,
		CreatedAt:    b.CreatedAt,
	}
}

func bonusDTOs(items []models.Bonus) []*BonusDTO {
	dtos := make([]*BonusDTO, 0, len(items))
	for i := range items {
		dtos = append(dtos, bonusDTO(&items[i]))
	}
	return dtos
}
