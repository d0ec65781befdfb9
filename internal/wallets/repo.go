package wallets

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tlb-diamond/tlbd-backend/pkg/db/models"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
)

// Repository manages wallet persistence. Balance mutations run as
// conditional UPDATEs so a stale read can never drive a bucket negative; the
// CHECK constraints in the schema are the final backstop.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, wallet *models.Wallet) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	PersistResets(ctx context.Context, walletID uuid.UUID, now time.Time, stale StalePeriods) error
	Credit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, category enums.FundCategory) (bool, error)
	Debit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, countDaily bool) (bool, error)
	MoveAvailableToLocked(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (bool, error)
	MoveLockedToAvailable(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (bool, error)
	MoveToPending(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, source enums.BalanceBucket) (bool, error)
	ResolvePending(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, target enums.BalanceBucket) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *repository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// GetByUserIDForUpdate takes a row lock so concurrent balance operations on
// the same wallet serialize for the rest of the transaction.
func (r *repository) GetByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// PersistResets zeroes the lapsed accumulators. The WHERE clauses repeat the
// staleness check so two racing transactions cannot both reset the same
// window with different timestamps.
func (r *repository) PersistResets(ctx context.Context, walletID uuid.UUID, now time.Time, stale StalePeriods) error {
	now = now.UTC()
	db := r.db.WithContext(ctx)
	if stale.Daily {
		err := db.Model(&models.Wallet{}).
			Where("id = ? AND last_daily_reset < ?", walletID, startOfDay(now)).
			Updates(map[string]any{
				"daily_spent":      decimal.Zero,
				"last_daily_reset": now,
			}).Error
		if err != nil {
			return err
		}
	}
	if stale.Monthly {
		err := db.Model(&models.Wallet{}).
			Where("id = ? AND last_monthly_reset < ?", walletID, startOfMonth(now)).
			Updates(map[string]any{
				"monthly_earned":     decimal.Zero,
				"monthly_spent":      decimal.Zero,
				"monthly_bonuses":    decimal.Zero,
				"last_monthly_reset": now,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// Credit adds to the available bucket and moves the accumulators that match
// the fund category. Bonuses count in their own monthly bucket only; topups
// do not count as earnings at all.
func (r *repository) Credit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, category enums.FundCategory) (bool, error) {
	updates := map[string]any{
		"available_balance": gorm.Expr("available_balance + ?", amount),
	}
	switch category {
	case enums.FundCategoryBonus:
		updates["monthly_bonuses"] = gorm.Expr("monthly_bonuses + ?", amount)
	case enums.FundCategoryTopup:
	default:
		updates["total_earned"] = gorm.Expr("total_earned + ?", amount)
		updates["monthly_earned"] = gorm.Expr("monthly_earned + ?", amount)
	}
	res := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// Debit removes from the available bucket. The guard rejects the update when
// funds are insufficient or, for limit-counted spends, when the daily limit
// would be exceeded.
func (r *repository) Debit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, countDaily bool) (bool, error) {
	updates := map[string]any{
		"available_balance": gorm.Expr("available_balance - ?", amount),
		"total_spent":       gorm.Expr("total_spent + ?", amount),
		"monthly_spent":     gorm.Expr("monthly_spent + ?", amount),
	}
	query := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND available_balance >= ?", walletID, amount)
	if countDaily {
		updates["daily_spent"] = gorm.Expr("daily_spent + ?", amount)
		query = query.Where("daily_spent + ? <= daily_limit", amount)
	}
	res := query.Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MoveAvailableToLocked(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND available_balance >= ?", walletID, amount).
		Updates(map[string]any{
			"available_balance": gorm.Expr("available_balance - ?", amount),
			"locked_balance":    gorm.Expr("locked_balance + ?", amount),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MoveLockedToAvailable(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND locked_balance >= ?", walletID, amount).
		Updates(map[string]any{
			"locked_balance":    gorm.Expr("locked_balance - ?", amount),
			"available_balance": gorm.Expr("available_balance + ?", amount),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MoveToPending(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, source enums.BalanceBucket) (bool, error) {
	var res *gorm.DB
	switch source {
	case enums.BucketAvailable:
		res = r.db.WithContext(ctx).Model(&models.Wallet{}).
			Where("id = ? AND available_balance >= ?", walletID, amount).
			Updates(map[string]any{
				"available_balance": gorm.Expr("available_balance - ?", amount),
				"pending_balance":   gorm.Expr("pending_balance + ?", amount),
			})
	case enums.BucketLocked:
		res = r.db.WithContext(ctx).Model(&models.Wallet{}).
			Where("id = ? AND locked_balance >= ?", walletID, amount).
			Updates(map[string]any{
				"locked_balance":  gorm.Expr("locked_balance - ?", amount),
				"pending_balance": gorm.Expr("pending_balance + ?", amount),
			})
	default:
		return false, errInvalidBucket
	}
	return res.RowsAffected > 0, res.Error
}

// ResolvePending settles pending funds into their final bucket. The deduct
// target removes the funds entirely and counts them as spend.
func (r *repository) ResolvePending(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, target enums.BalanceBucket) (bool, error) {
	updates := map[string]any{
		"pending_balance": gorm.Expr("pending_balance - ?", amount),
	}
	switch target {
	case enums.BucketAvailable:
		updates["available_balance"] = gorm.Expr("available_balance + ?", amount)
	case enums.BucketLocked:
		updates["locked_balance"] = gorm.Expr("locked_balance + ?", amount)
	case enums.BucketDeduct:
		updates["total_spent"] = gorm.Expr("total_spent + ?", amount)
		updates["monthly_spent"] = gorm.Expr("monthly_spent + ?", amount)
	default:
		return false, errInvalidBucket
	}
	res := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND pending_balance >= ?", walletID, amount).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
