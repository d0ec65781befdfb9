package transactions

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

// Repository manages transaction rows. The ledger is append-only: after
// insert only status and processed_at ever change, and both go through
// UpdateStatus.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	CreateInTx(ctx context.Context, tx *gorm.DB, txn *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
	List(ctx context.Context, params ListFilter) ([]models.Transaction, *pagination.Cursor, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, current, next enums.TransactionStatus, processedAt *time.Time) (bool, error)
	SetRelatedTransaction(ctx context.Context, id, relatedID uuid.UUID) (bool, error)
	ListStaleTopups(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)
}

// ListFilter narrows a user's ledger history query.
type ListFilter struct {
	UserID uuid.UUID
	Type   *enums.TransactionType
	Status *enums.TransactionStatus
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a transactions repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

// CreateInTx appends a ledger row inside the caller's transaction so the
// balance update and its record commit together.
func (r *repository) CreateInTx(ctx context.Context, tx *gorm.DB, txn *models.Transaction) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Create(txn).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) List(ctx context.Context, params ListFilter) ([]models.Transaction, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", params.UserID)
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var txns []models.Transaction
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&txns).Error; err != nil {
		return nil, nil, err
	}

	if len(txns) > normalized {
		txns = txns[:normalized]
		last := txns[len(txns)-1]
		return txns, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return txns, nil, nil
}

// UpdateStatus moves a row through the status machine. Edges missing from
// the machine are refused outright, the WHERE repeats the current status so
// a concurrent transition loses cleanly, and processed_at is written only on
// the first hop into completed.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, current, next enums.TransactionStatus, processedAt *time.Time) (bool, error) {
	if !current.CanTransitionTo(next) {
		return false, nil
	}
	updates := map[string]any{"status": next}
	query := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, current)
	if next == enums.TransactionStatusCompleted && processedAt != nil {
		updates["processed_at"] = *processedAt
		query = query.Where("processed_at IS NULL")
	}
	res := query.Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// SetRelatedTransaction cross-links the two legs of a transfer. The link is
// written once: a row that already points somewhere is left alone.
func (r *repository) SetRelatedTransaction(ctx context.Context, id, relatedID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND related_transaction_id IS NULL", id).
		Update("related_transaction_id", relatedID)
	return res.RowsAffected > 0, res.Error
}

// ListStaleTopups returns topups still open past the cutoff, oldest first.
// The partial status index keeps this cheap as the ledger grows.
func (r *repository) ListStaleTopups(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.db.WithContext(ctx).
		Where("type = ? AND status IN ? AND created_at < ?",
			enums.TransactionTypeTopup,
			[]enums.TransactionStatus{enums.TransactionStatusPending, enums.TransactionStatusProcessing},
			cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}
