package bonuses

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tlb-diamond/tlbd-backend/pkg/db/models"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
	"github.com/tlb-diamond/tlbd-backend/pkg/pagination"
)

// Repository manages bonus rows. Status changes go through conditional
// UPDATEs that repeat the current status, so a concurrent claim, forward or
// expiry sweep loses cleanly instead of double-applying.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, bonus *models.Bonus) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Bonus, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Bonus, error)
	List(ctx context.Context, params listBonusesParams) ([]models.Bonus, *pagination.Cursor, error)
	MarkClaimed(ctx context.Context, id uuid.UUID, claimedAt time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error)
	MarkExpired(ctx context.Context, id uuid.UUID) (bool, error)
	ExpireBatch(ctx context.Context, now time.Time, limit int) ([]models.Bonus, error)
}

type listBonusesParams struct {
	RecipientID uuid.UUID
	Status      *enums.BonusStatus
	Limit       int
	Cursor      *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a bonuses repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, bonus *models.Bonus) error {
	return r.db.WithContext(ctx).Create(bonus).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Bonus, error) {
	var bonus models.Bonus
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&bonus).Error; err != nil {
		return nil, err
	}
	return &bonus, nil
}

func (r *repository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Bonus, error) {
	var bonus models.Bonus
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&bonus).Error
	if err != nil {
		return nil, err
	}
	return &bonus, nil
}

func (r *repository) List(ctx context.Context, params listBonusesParams) ([]models.Bonus, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Bonus{}).Where("recipient_id = ?", params.RecipientID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var bonuses []models.Bonus
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&bonuses).Error; err != nil {
		return nil, nil, err
	}

	if len(bonuses) > normalized {
		bonuses = bonuses[:normalized]
		last := bonuses[len(bonuses)-1]
		return bonuses, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return bonuses, nil, nil
}

func (r *repository) MarkClaimed(ctx context.Context, id uuid.UUID, claimedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Bonus{}).
		Where("id = ? AND status = ?", id, enums.BonusStatusAvailable).
		Updates(map[string]any{
			"status":     enums.BonusStatusClaimed,
			"claimed_at": claimedAt,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Bonus{}).
		Where("id = ? AND status = ?", id, enums.BonusStatusAvailable).
		Update("status", enums.BonusStatusCancelled)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Bonus{}).
		Where("id = ? AND status = ?", id, enums.BonusStatusAvailable).
		Update("status", enums.BonusStatusExpired)
	return res.RowsAffected > 0, res.Error
}

// ExpireBatch flips one batch of lapsed bonuses to expired and returns them.
// Candidates are locked with SKIP LOCKED so concurrent sweeps and claims
// never contend: a row mid-claim is simply skipped this round.
func (r *repository) ExpireBatch(ctx context.Context, now time.Time, limit int) ([]models.Bonus, error) {
	var batch []models.Bonus
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND expires_at <= ?", enums.BonusStatusAvailable, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&batch).Error
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(batch))
	for _, bonus := range batch {
		ids = append(ids, bonus.ID)
	}
	err = r.db.WithContext(ctx).Model(&models.Bonus{}).
		Where("id IN ? AND status = ?", ids, enums.BonusStatusAvailable).
		Update("status", enums.BonusStatusExpired).Error
	if err != nil {
		return nil, err
	}
	for i := range batch {
		batch[i].Status = enums.BonusStatusExpired
	}
	return batch, nil
}
