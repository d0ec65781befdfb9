package wallets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tlb-diamond/tlbd-backend/pkg/config"
	"github.com/tlb-diamond/tlbd-backend/pkg/db/models"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
)

var errInvalidBucket = errors.New("invalid balance bucket")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ledgerWriter appends transaction rows inside the caller's transaction.
type ledgerWriter interface {
	CreateInTx(ctx context.Context, tx *gorm.DB, txn *models.Transaction) error
}

// MutationInput captures a balance operation against one wallet.
type MutationInput struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Type        enums.TransactionType
	Category    enums.FundCategory
	Description *string
	Reference   string
	RelatedUser *uuid.UUID
	RelatedTxn  *uuid.UUID
	Metadata    []byte
}

// MutationResult returns the post-operation wallet and the ledger row.
type MutationResult struct {
	Wallet      *models.Wallet
	Transaction *models.Transaction
}

// Service exposes the wallet balance operations. Every mutation runs in a
// single database transaction: row lock, lazy period reset, conditional
// balance update, then the ledger append.
type Service interface {
	CreateForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.Wallet, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	LockPairInTx(ctx context.Context, tx *gorm.DB, a, b uuid.UUID) error
	AddFunds(ctx context.Context, input MutationInput) (*MutationResult, error)
	AddFundsInTx(ctx context.Context, tx *gorm.DB, input MutationInput) (*MutationResult, error)
	DeductFunds(ctx context.Context, input MutationInput) (*MutationResult, error)
	DeductFundsInTx(ctx context.Context, tx *gorm.DB, input MutationInput) (*MutationResult, error)
	CreditInTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, category enums.FundCategory) (*models.Wallet, error)
	LockFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error)
	UnlockFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error)
	MoveToPending(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, source enums.BalanceBucket) (*models.Wallet, error)
	ResolvePending(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, target enums.BalanceBucket) (*models.Wallet, error)
}

// ServiceParams wire the wallet service dependencies.
type ServiceParams struct {
	Repo   Repository
	Ledger ledgerWriter
	Tx     txRunner
	Config config.WalletConfig
	Now    func() time.Time
}

type service struct {
	repo   Repository
	ledger ledgerWriter
	tx     txRunner
	cfg    config.WalletConfig
	now    func() time.Time
}

// NewService validates dependencies and returns the wallet service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger writer required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:   params.Repo,
		ledger: params.Ledger,
		tx:     params.Tx,
		cfg:    params.Config,
		now:    now,
	}, nil
}

// CreateForUser provisions the user's wallet inside the caller's transaction
// so registration and wallet creation commit together.
func (s *service) CreateForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	limit, err := decimal.NewFromString(s.cfg.DefaultDailyLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "invalid default daily limit")
	}
	now := s.now().UTC()
	wallet := &models.Wallet{
		UserID:           userID,
		DailyLimit:       limit,
		LastDailyReset:   now,
		LastMonthlyReset: now,
		Currency:         enums.Currency(s.cfg.DefaultCurrency),
	}
	repo := s.repo
	if tx != nil {
		repo = s.repo.WithTx(tx)
	}
	if err := repo.Create(ctx, wallet); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create wallet")
	}
	return wallet, nil
}

// GetWallet loads the wallet, lazily persisting any lapsed period resets so
// callers always observe fresh accumulators.
func (s *service) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	var wallet *models.Wallet
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		w, err := repo.GetByUserIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		now := s.now()
		if stale := stalePeriods(*w, now); stale.Any() {
			if err := repo.PersistResets(ctx, w.ID, now, stale); err != nil {
				return err
			}
			applyResets(w, now, stale)
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, mapWalletError(err)
	}
	return wallet, nil
}

// LockPairInTx takes row locks on both users' wallets in ascending user id
// order. Two opposing transfers then always queue on the same first row
// instead of deadlocking each other. Lazy period resets apply under the
// lock the same as any single-wallet operation.
func (s *service) LockPairInTx(ctx context.Context, tx *gorm.DB, a, b uuid.UUID) error {
	if a == uuid.Nil || b == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	first, second := a, b
	if bytes.Compare(second[:], first[:]) < 0 {
		first, second = second, first
	}
	repo := s.repo.WithTx(tx)
	if _, err := s.lockAndReset(ctx, repo, first); err != nil {
		return mapWalletError(err)
	}
	if _, err := s.lockAndReset(ctx, repo, second); err != nil {
		return mapWalletError(err)
	}
	return nil
}

func (s *service) AddFunds(ctx context.Context, input MutationInput) (*MutationResult, error) {
	var result *MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.AddFundsInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, mapWalletError(err)
	}
	return result, nil
}

// AddFundsInTx credits the wallet inside the caller's transaction so a claim
// or transfer commits with its ledger rows atomically.
func (s *service) AddFundsInTx(ctx context.Context, tx *gorm.DB, input MutationInput) (*MutationResult, error) {
	if err := validateMutation(input); err != nil {
		return nil, err
	}
	if !input.Category.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid fund category")
	}
	repo := s.repo.WithTx(tx)
	wallet, err := s.lockAndReset(ctx, repo, input.UserID)
	if err != nil {
		return nil, mapWalletError(err)
	}
	ok, err := repo.Credit(ctx, wallet.ID, input.Amount, input.Category)
	if err != nil {
		return nil, mapWalletError(err)
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "wallet credit did not apply")
	}
	before := wallet.AvailableBalance
	after := before.Add(input.Amount)
	txn, err := s.appendLedger(ctx, tx, wallet, input, before, after)
	if err != nil {
		return nil, mapWalletError(err)
	}
	wallet.AvailableBalance = after
	return &MutationResult{Wallet: wallet, Transaction: txn}, nil
}

func (s *service) DeductFunds(ctx context.Context, input MutationInput) (*MutationResult, error) {
	var result *MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.DeductFundsInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, mapWalletError(err)
	}
	return result, nil
}

// DeductFundsInTx debits the wallet inside the caller's transaction. The
// precise check runs under the row lock so the error names the real cause;
// the conditional UPDATE is the backstop.
func (s *service) DeductFundsInTx(ctx context.Context, tx *gorm.DB, input MutationInput) (*MutationResult, error) {
	if err := validateMutation(input); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	wallet, err := s.lockAndReset(ctx, repo, input.UserID)
	if err != nil {
		return nil, mapWalletError(err)
	}
	if wallet.AvailableBalance.LessThan(input.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient available balance")
	}
	countDaily := input.Type.IsDebit()
	if countDaily && wallet.DailySpent.Add(input.Amount).GreaterThan(wallet.DailyLimit) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "daily spend limit exceeded").
			WithDetails(map[string]any{"reason": "daily_limit", "daily_limit": wallet.DailyLimit, "daily_spent": wallet.DailySpent})
	}
	ok, err := repo.Debit(ctx, wallet.ID, input.Amount, countDaily)
	if err != nil {
		return nil, mapWalletError(err)
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient available balance")
	}
	before := wallet.AvailableBalance
	after := before.Sub(input.Amount)
	txn, err := s.appendLedger(ctx, tx, wallet, input, before, after)
	if err != nil {
		return nil, mapWalletError(err)
	}
	wallet.AvailableBalance = after
	return &MutationResult{Wallet: wallet, Transaction: txn}, nil
}

// CreditInTx applies a bare wallet credit with no ledger append. It exists
// for settlements whose ledger row already exists, such as a topup pending
// row completing off a gateway webhook.
func (s *service) CreditInTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, category enums.FundCategory) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !category.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid fund category")
	}
	repo := s.repo.WithTx(tx)
	wallet, err := s.lockAndReset(ctx, repo, userID)
	if err != nil {
		return nil, mapWalletError(err)
	}
	ok, err := repo.Credit(ctx, wallet.ID, amount, category)
	if err != nil {
		return nil, mapWalletError(err)
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "wallet credit did not apply")
	}
	wallet.AvailableBalance = wallet.AvailableBalance.Add(amount)
	return wallet, nil
}

func (s *service) LockFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	return s.moveBuckets(ctx, userID, amount, func(ctx context.Context, repo Repository, walletID uuid.UUID) (bool, error) {
		return repo.MoveAvailableToLocked(ctx, walletID, amount)
	})
}

func (s *service) UnlockFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	return s.moveBuckets(ctx, userID, amount, func(ctx context.Context, repo Repository, walletID uuid.UUID) (bool, error) {
		return repo.MoveLockedToAvailable(ctx, walletID, amount)
	})
}

func (s *service) MoveToPending(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, source enums.BalanceBucket) (*models.Wallet, error) {
	if !source.IsSource() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pending moves must originate from available or locked")
	}
	return s.moveBuckets(ctx, userID, amount, func(ctx context.Context, repo Repository, walletID uuid.UUID) (bool, error) {
		return repo.MoveToPending(ctx, walletID, amount, source)
	})
}

func (s *service) ResolvePending(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, target enums.BalanceBucket) (*models.Wallet, error) {
	if !target.IsResolveTarget() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid pending resolution target")
	}
	return s.moveBuckets(ctx, userID, amount, func(ctx context.Context, repo Repository, walletID uuid.UUID) (bool, error) {
		return repo.ResolvePending(ctx, walletID, amount, target)
	})
}

type bucketMove func(ctx context.Context, repo Repository, walletID uuid.UUID) (bool, error)

func (s *service) moveBuckets(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, move bucketMove) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	var wallet *models.Wallet
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		w, err := s.lockAndReset(ctx, repo, userID)
		if err != nil {
			return err
		}
		ok, err := move(ctx, repo, w.ID)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient funds in source bucket")
		}
		wallet, err = repo.GetByUserID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, mapWalletError(err)
	}
	return wallet, nil
}

// lockAndReset loads the wallet under a row lock and applies lazy period
// resets before the caller mutates balances.
func (s *service) lockAndReset(ctx context.Context, repo Repository, userID uuid.UUID) (*models.Wallet, error) {
	wallet, err := repo.GetByUserIDForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if stale := stalePeriods(*wallet, now); stale.Any() {
		if err := repo.PersistResets(ctx, wallet.ID, now, stale); err != nil {
			return nil, err
		}
		applyResets(wallet, now, stale)
	}
	return wallet, nil
}

func (s *service) appendLedger(ctx context.Context, tx *gorm.DB, wallet *models.Wallet, input MutationInput, before, after decimal.Decimal) (*models.Transaction, error) {
	now := s.now().UTC()
	reference := input.Reference
	if reference == "" {
		reference = NewReference()
	}
	txn := &models.Transaction{
		WalletID:             wallet.ID,
		UserID:               wallet.UserID,
		Type:                 input.Type,
		Status:               enums.TransactionStatusCompleted,
		Amount:               input.Amount,
		NetAmount:            input.Amount,
		BalanceBefore:        before,
		BalanceAfter:         after,
		Currency:             wallet.Currency,
		Description:          input.Description,
		Reference:            reference,
		RelatedUserID:        input.RelatedUser,
		RelatedTransactionID: input.RelatedTxn,
		Metadata:             input.Metadata,
		ProcessedAt:          &now,
	}
	if err := s.ledger.CreateInTx(ctx, tx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// NewReference returns a unique ledger reference.
func NewReference() string {
	return fmt.Sprintf("TXN-%s", uuid.NewString())
}

func validateMutation(input MutationInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction type")
	}
	return nil
}

func mapWalletError(err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "wallet not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "wallet operation failed")
}
