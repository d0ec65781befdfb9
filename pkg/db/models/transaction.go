package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
)

// Transaction records one balance-affecting event. Rows are append-only:
// after creation only status and processed_at may change, and processed_at
// is stamped exactly once on the first transition into completed.
type Transaction struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID uuid.UUID `gorm:"column:wallet_id;type:uuid;not null;index"`
	UserID   uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`

	Type   enums.TransactionType   `gorm:"column:type;type:transaction_type_enum;not null"`
	Status enums.TransactionStatus `gorm:"column:status;type:transaction_status_enum;not null;default:'pending'"`

	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	FeeAmount decimal.Decimal `gorm:"column:fee_amount;type:numeric(12,2);not null;default:0"`
	NetAmount decimal.Decimal `gorm:"column:net_amount;type:numeric(12,2);not null"`

	BalanceBefore decimal.Decimal `gorm:"column:balance_before;type:numeric(12,2);not null"`
	BalanceAfter  decimal.Decimal `gorm:"column:balance_after;type:numeric(12,2);not null"`

	Currency    enums.Currency `gorm:"column:currency;type:currency_enum;not null;default:'TLB'"`
	Description *string        `gorm:"column:description"`
	Reference   string         `gorm:"column:reference;not null;uniqueIndex"`

	RelatedUserID        *uuid.UUID `gorm:"column:related_user_id;type:uuid"`
	RelatedTransactionID *uuid.UUID `gorm:"column:related_transaction_id;type:uuid"`

	Metadata    json.RawMessage `gorm:"column:metadata;type:jsonb"`
	ProcessedAt *time.Time      `gorm:"column:processed_at"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// IsDebit reports whether this transaction removed funds from its wallet.
func (t Transaction) IsDebit() bool {
	return t.Type.IsDebit()
}
