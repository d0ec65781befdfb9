package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
)

// TransferCompletedEvent is emitted after both legs of a P2P transfer commit.
type TransferCompletedEvent struct {
	SenderID              uuid.UUID       `json:"sender_id"`
	RecipientID           uuid.UUID       `json:"recipient_id"`
	SentTransactionID     uuid.UUID       `json:"sent_transaction_id"`
	ReceivedTransactionID uuid.UUID       `json:"received_transaction_id"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              enums.Currency  `json:"currency"`
	CompletedAt           time.Time       `json:"completed_at"`
}

// TopupInitiatedEvent records a topup handed off to the payment gateway.
type TopupInitiatedEvent struct {
	UserID        uuid.UUID         `json:"user_id"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	GatewayRef    string            `json:"gateway_ref"`
	Method        enums.TopupMethod `json:"method"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      enums.Currency    `json:"currency"`
}

// TopupCompletedEvent is emitted when the gateway confirms a charge.
type TopupCompletedEvent struct {
	UserID        uuid.UUID       `json:"user_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	GatewayRef    string          `json:"gateway_ref"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      enums.Currency  `json:"currency"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// TopupFailedEvent is emitted when the gateway rejects a charge or it times out.
type TopupFailedEvent struct {
	UserID        uuid.UUID       `json:"user_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	GatewayRef    string          `json:"gateway_ref"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason,omitempty"`
	FailedAt      time.Time       `json:"failed_at"`
}

// BonusClaimedEvent is emitted when a recipient claims an available bonus.
type BonusClaimedEvent struct {
	BonusID       uuid.UUID       `json:"bonus_id"`
	RecipientID   uuid.UUID       `json:"recipient_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Type          enums.BonusType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	ClaimedAt     time.Time       `json:"claimed_at"`
}

// BonusForwardedEvent is emitted when a bonus is regifted to another user.
type BonusForwardedEvent struct {
	OriginalBonusID uuid.UUID       `json:"original_bonus_id"`
	NewBonusID      uuid.UUID       `json:"new_bonus_id"`
	FromUserID      uuid.UUID       `json:"from_user_id"`
	ToUserID        uuid.UUID       `json:"to_user_id"`
	Amount          decimal.Decimal `json:"amount"`
	ForwardCount    int             `json:"forward_count"`
}

// BonusExpiredEvent is emitted by the expiry sweep for each lapsed bonus.
type BonusExpiredEvent struct {
	BonusID     uuid.UUID       `json:"bonus_id"`
	RecipientID uuid.UUID       `json:"recipient_id"`
	Amount      decimal.Decimal `json:"amount"`
	ExpiredAt   time.Time       `json:"expired_at"`
}

// MoneyRequestedEvent notifies the counterparty that funds were requested.
type MoneyRequestedEvent struct {
	RequesterID   uuid.UUID       `json:"requester_id"`
	RecipientID   uuid.UUID       `json:"recipient_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
}

// UserRegisteredEvent is emitted once per signup alongside the wallet row.
type UserRegisteredEvent struct {
	UserID     uuid.UUID  `json:"user_id"`
	WalletID   uuid.UUID  `json:"wallet_id"`
	Email      string     `json:"email"`
	ReferredBy *uuid.UUID `json:"referred_by,omitempty"`
}
