package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
)

// Bonus is a credit-granting voucher. Claiming it credits the recipient's
// wallet and writes a bonus transaction; the bonus itself never appears in
// the ledger. Forwarding creates a fresh bonus for the new recipient rather
// than mutating this row.
type Bonus struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RecipientID uuid.UUID  `gorm:"column:recipient_id;type:uuid;not null;index"`
	GiverID     *uuid.UUID `gorm:"column:giver_id;type:uuid"`
	OrderRef    *string    `gorm:"column:order_ref"`

	Type   enums.BonusType   `gorm:"column:type;type:bonus_type_enum;not null"`
	Status enums.BonusStatus `gorm:"column:status;type:bonus_status_enum;not null;default:'available'"`

	Amount   decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency enums.Currency  `gorm:"column:currency;type:currency_enum;not null;default:'TLB'"`

	Title       string  `gorm:"column:title;not null"`
	Description *string `gorm:"column:description"`

	CanForward   bool `gorm:"column:can_forward;not null;default:false"`
	ForwardCount int  `gorm:"column:forward_count;not null;default:0"`
	MaxForwards  int  `gorm:"column:max_forwards;not null;default:0"`

	ExpiresAt time.Time  `gorm:"column:expires_at;not null;index"`
	ClaimedAt *time.Time `gorm:"column:claimed_at"`

	Metadata  json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// IsExpired reports whether the bonus passed its expiry at the given instant,
// regardless of whether the sweep has flipped the status yet.
func (b Bonus) IsExpired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}

// CanBeForwarded reports whether the forwarding budget allows another hop.
func (b Bonus) CanBeForwarded() bool {
	return b.CanForward && b.ForwardCount < b.MaxForwards
}
