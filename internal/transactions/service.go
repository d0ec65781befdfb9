package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tlb-diamond/tlbd-backend/pkg/db/models"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
	"github.com/tlb-diamond/tlbd-backend/pkg/pagination"
)

// Service exposes transaction reads and the status machine.
type Service interface {
	Get(ctx context.Context, userID, transactionID uuid.UUID) (*models.Transaction, error)
	GetByReference(ctx context.Context, userID uuid.UUID, reference string) (*models.Transaction, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Transition(ctx context.Context, transactionID uuid.UUID, next enums.TransactionStatus) (*models.Transaction, error)
}

// ListParams configures filters and pagination for a user's ledger history.
type ListParams struct {
	UserID uuid.UUID
	Type   string
	Status string
	Limit  int
	Cursor string
}

// ListResult wraps returned transactions and the cursor for the next page.
type ListResult struct {
	Items  []models.Transaction `json:"items"`
	Cursor string               `json:"cursor"`
}

type service struct {
	repo Repository
	now  func() time.Time
}

// ServiceParams wire the transaction service dependencies.
type ServiceParams struct {
	Repo Repository
	Now  func() time.Time
}

// NewService validates dependencies and returns the transaction service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transactions repository required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{repo: params.Repo, now: now}, nil
}

func (s *service) Get(ctx context.Context, userID, transactionID uuid.UUID) (*models.Transaction, error) {
	if userID == uuid.Nil || transactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and transaction id required")
	}
	txn, err := s.repo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, mapTransactionError(err)
	}
	if txn.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return txn, nil
}

func (s *service) GetByReference(ctx context.Context, userID uuid.UUID, reference string) (*models.Transaction, error) {
	if userID == uuid.Nil || reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and reference required")
	}
	txn, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return nil, mapTransactionError(err)
	}
	if txn.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return txn, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	query := ListFilter{
		UserID: params.UserID,
		Limit:  params.Limit,
	}
	if params.Type != "" {
		parsed, err := enums.ParseTransactionType(params.Type)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type filter")
		}
		query.Type = &parsed
	}
	if params.Status != "" {
		parsed, err := enums.ParseTransactionStatus(params.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &parsed
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

// Transition moves a transaction to the next status, enforcing the machine's
// allowed edges and stamping processed_at on the first completion.
func (s *service) Transition(ctx context.Context, transactionID uuid.UUID, next enums.TransactionStatus) (*models.Transaction, error) {
	if transactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	if !next.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction status")
	}

	txn, err := s.repo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, mapTransactionError(err)
	}
	if !txn.Status.CanTransitionTo(next) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction status transition not allowed")
	}

	var processedAt *time.Time
	if next == enums.TransactionStatusCompleted && txn.ProcessedAt == nil {
		ts := s.now().UTC()
		processedAt = &ts
	}
	ok, err := s.repo.UpdateStatus(ctx, transactionID, txn.Status, next, processedAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update transaction status")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction status changed concurrently")
	}

	txn.Status = next
	if processedAt != nil {
		txn.ProcessedAt = processedAt
	}
	return txn, nil
}

func mapTransactionError(err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "transaction not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transaction lookup failed")
}
