package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
)

// Wallet is the per-user balance container. Balances live in three disjoint
// buckets (available/locked/pending); lifetime and period accumulators track
// cash flow. All money columns are NUMERIC(12,2) and guarded by non-negative
// CHECK constraints in the schema.
type Wallet struct {
	ID     uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`

	AvailableBalance decimal.Decimal `gorm:"column:available_balance;type:numeric(12,2);not null;default:0"`
	LockedBalance    decimal.Decimal `gorm:"column:locked_balance;type:numeric(12,2);not null;default:0"`
	PendingBalance   decimal.Decimal `gorm:"column:pending_balance;type:numeric(12,2);not null;default:0"`

	TotalEarned decimal.Decimal `gorm:"column:total_earned;type:numeric(12,2);not null;default:0"`
	TotalSpent  decimal.Decimal `gorm:"column:total_spent;type:numeric(12,2);not null;default:0"`

	MonthlyEarned    decimal.Decimal `gorm:"column:monthly_earned;type:numeric(12,2);not null;default:0"`
	MonthlySpent     decimal.Decimal `gorm:"column:monthly_spent;type:numeric(12,2);not null;default:0"`
	MonthlyBonuses   decimal.Decimal `gorm:"column:monthly_bonuses;type:numeric(12,2);not null;default:0"`
	LastMonthlyReset time.Time       `gorm:"column:last_monthly_reset;not null"`

	DailySpent     decimal.Decimal `gorm:"column:daily_spent;type:numeric(12,2);not null;default:0"`
	DailyLimit     decimal.Decimal `gorm:"column:daily_limit;type:numeric(12,2);not null"`
	LastDailyReset time.Time       `gorm:"column:last_daily_reset;not null"`

	Currency  enums.Currency `gorm:"column:currency;type:currency_enum;not null;default:'TLB'"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TotalBalance returns the sum of all three buckets.
func (w Wallet) TotalBalance() decimal.Decimal {
	return w.AvailableBalance.Add(w.LockedBalance).Add(w.PendingBalance)
}

// CanSpend reports whether a deduct of amount would pass both the available
// balance and the daily limit check.
func (w Wallet) CanSpend(amount decimal.Decimal) bool {
	if amount.Sign() <= 0 {
		return false
	}
	if w.AvailableBalance.LessThan(amount) {
		return false
	}
	return w.DailySpent.Add(amount).LessThanOrEqual(w.DailyLimit)
}
