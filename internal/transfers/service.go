package transfers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tlb-diamond/tlbd-backend/internal/transactions"
	"github.com/tlb-diamond/tlbd-backend/internal/wallets"
	"github.com/tlb-diamond/tlbd-backend/pkg/db/models"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
	"github.com/tlb-diamond/tlbd-backend/pkg/gateway"
	"github.com/tlb-diamond/tlbd-backend/pkg/outbox"
	"github.com/tlb-diamond/tlbd-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type walletMutator interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	LockPairInTx(ctx context.Context, tx *gorm.DB, a, b uuid.UUID) error
	AddFundsInTx(ctx context.Context, tx *gorm.DB, input wallets.MutationInput) (*wallets.MutationResult, error)
	DeductFundsInTx(ctx context.Context, tx *gorm.DB, input wallets.MutationInput) (*wallets.MutationResult, error)
	CreditInTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, category enums.FundCategory) (*models.Wallet, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type userFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

type chargeGateway interface {
	CreateCharge(ctx context.Context, params gateway.ChargeParams) (*gateway.Charge, error)
}

// SendInput describes a P2P transfer.
type SendInput struct {
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	// Recipient holds an email or username when RecipientID is unset.
	Recipient   string
	Amount      decimal.Decimal
	Description *string
}

// SendResult carries both ledger legs and the sender's refreshed wallet.
type SendResult struct {
	SentTransaction     *models.Transaction
	ReceivedTransaction *models.Transaction
	SenderWallet        *models.Wallet
}

// RequestInput describes a money request. It moves no funds: the request is
// an inert pending ledger row plus a notification event.
type RequestInput struct {
	RequesterID uuid.UUID
	RecipientID uuid.UUID
	// Recipient holds an email or username when RecipientID is unset.
	Recipient   string
	Amount      decimal.Decimal
	Description *string
}

// TopupInput hands a wallet top-up to the payment gateway.
type TopupInput struct {
	UserID         uuid.UUID
	Amount         decimal.Decimal
	Method         enums.TopupMethod
	ReturnURL      string
	IdempotencyKey string
}

// TopupResult pairs the pending ledger row with the gateway redirect.
type TopupResult struct {
	Transaction *models.Transaction
	GatewayRef  string
	RedirectURL string
}

// topupMetadata is the payload stashed in the topup row's metadata column.
type topupMetadata struct {
	GatewayRef string            `json:"gateway_ref"`
	Method     enums.TopupMethod `json:"method"`
}

// Service implements money movement between users and in from the gateway.
type Service interface {
	Send(ctx context.Context, input SendInput) (*SendResult, error)
	RequestMoney(ctx context.Context, input RequestInput) (*models.Transaction, error)
	InitiateTopup(ctx context.Context, input TopupInput) (*TopupResult, error)
	CompleteTopup(ctx context.Context, reference, gatewayRef string) (*models.Transaction, error)
	FailTopup(ctx context.Context, reference, reason string) (*models.Transaction, error)
	TimeoutStaleTopups(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// ServiceParams wire the transfer service dependencies.
type ServiceParams struct {
	Wallets walletMutator
	Ledger  transactions.Repository
	Users   userFinder
	Outbox  outboxPublisher
	Gateway chargeGateway
	Tx      txRunner
	Now     func() time.Time
}

type service struct {
	wallets walletMutator
	ledger  transactions.Repository
	users   userFinder
	outbox  outboxPublisher
	gateway chargeGateway
	tx      txRunner
	now     func() time.Time
}

// NewService validates dependencies and returns the transfer service.
func NewService(params ServiceParams) (Service, error) {
	if params.Wallets == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user finder required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		wallets: params.Wallets,
		ledger:  params.Ledger,
		users:   params.Users,
		outbox:  params.Outbox,
		gateway: params.Gateway,
		tx:      params.Tx,
		now:     now,
	}, nil
}

// resolveRecipient turns whatever the caller handed us into a verified user
// id. A raw id wins when present; otherwise the handle is treated as an
// email when it contains "@" and a username otherwise.
func (s *service) resolveRecipient(ctx context.Context, id uuid.UUID, handle string) (uuid.UUID, error) {
	var (
		user *models.User
		err  error
	)
	switch {
	case id != uuid.Nil:
		user, err = s.users.FindByID(ctx, id)
	case strings.Contains(handle, "@"):
		user, err = s.users.FindByEmail(ctx, strings.TrimSpace(handle))
	case strings.TrimSpace(handle) != "":
		user, err = s.users.FindByUsername(ctx, strings.TrimSpace(handle))
	default:
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient required")
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "recipient not found")
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up recipient")
	}
	return user.ID, nil
}

// Send moves funds between two wallets atomically. Both ledger legs, the
// cross-link between them and the outbox event ride the same transaction:
// either everything commits or nothing does.
func (s *service) Send(ctx context.Context, input SendInput) (*SendResult, error) {
	if input.SenderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sender required")
	}
	if input.SenderID == input.RecipientID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot send funds to yourself")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	recipientID, err := s.resolveRecipient(ctx, input.RecipientID, input.Recipient)
	if err != nil {
		return nil, err
	}
	input.RecipientID = recipientID
	// A handle can still resolve back to the sender.
	if input.SenderID == input.RecipientID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot send funds to yourself")
	}

	var result SendResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// Both rows lock up front in a fixed order; the deduct and the
		// credit below then re-enter locks this transaction already holds.
		if err := s.wallets.LockPairInTx(ctx, tx, input.SenderID, input.RecipientID); err != nil {
			return err
		}

		debit, err := s.wallets.DeductFundsInTx(ctx, tx, wallets.MutationInput{
			UserID:      input.SenderID,
			Amount:      input.Amount,
			Type:        enums.TransactionTypeSent,
			Description: input.Description,
			RelatedUser: &input.RecipientID,
		})
		if err != nil {
			return err
		}

		credit, err := s.wallets.AddFundsInTx(ctx, tx, wallets.MutationInput{
			UserID:      input.RecipientID,
			Amount:      input.Amount,
			Type:        enums.TransactionTypeReceived,
			Category:    enums.FundCategoryTransfer,
			Description: input.Description,
			RelatedUser: &input.SenderID,
			RelatedTxn:  &debit.Transaction.ID,
		})
		if err != nil {
			return err
		}

		ok, err := s.ledger.WithTx(tx).SetRelatedTransaction(ctx, debit.Transaction.ID, credit.Transaction.ID)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInternal, "could not cross-link transfer legs")
		}
		debit.Transaction.RelatedTransactionID = &credit.Transaction.ID

		now := s.now().UTC()
		event := outbox.DomainEvent{
			EventType:     enums.EventTransferCompleted,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   debit.Transaction.ID,
			Actor:         &outbox.ActorRef{UserID: input.SenderID, Role: string(enums.UserRoleMember)},
			Data: payloads.TransferCompletedEvent{
				SenderID:              input.SenderID,
				RecipientID:           input.RecipientID,
				SentTransactionID:     debit.Transaction.ID,
				ReceivedTransactionID: credit.Transaction.ID,
				Amount:                input.Amount,
				Currency:              debit.Wallet.Currency,
				CompletedAt:           now,
			},
			Version: 1,
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		result = SendResult{
			SentTransaction:     debit.Transaction,
			ReceivedTransaction: credit.Transaction,
			SenderWallet:        debit.Wallet,
		}
		return nil
	})
	if err != nil {
		return nil, mapTransferError(err)
	}
	return &result, nil
}

// RequestMoney records a pending request row against the requester's wallet.
// No balances move until the counterparty answers with a Send.
func (s *service) RequestMoney(ctx context.Context, input RequestInput) (*models.Transaction, error) {
	if input.RequesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requester required")
	}
	if input.RequesterID == input.RecipientID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot request funds from yourself")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	recipientID, err := s.resolveRecipient(ctx, input.RecipientID, input.Recipient)
	if err != nil {
		return nil, err
	}
	input.RecipientID = recipientID
	if input.RequesterID == input.RecipientID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot request funds from yourself")
	}

	wallet, err := s.wallets.GetWallet(ctx, input.RequesterID)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		WalletID:      wallet.ID,
		UserID:        input.RequesterID,
		Type:          enums.TransactionTypeRequest,
		Status:        enums.TransactionStatusPending,
		Amount:        input.Amount,
		NetAmount:     input.Amount,
		BalanceBefore: wallet.AvailableBalance,
		BalanceAfter:  wallet.AvailableBalance,
		Currency:      wallet.Currency,
		Description:   input.Description,
		Reference:     wallets.NewReference(),
		RelatedUserID: &input.RecipientID,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.ledger.CreateInTx(ctx, tx, txn); err != nil {
			return err
		}
		description := ""
		if input.Description != nil {
			description = *input.Description
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventMoneyRequested,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: input.RequesterID, Role: string(enums.UserRoleMember)},
			Data: payloads.MoneyRequestedEvent{
				RequesterID:   input.RequesterID,
				RecipientID:   input.RecipientID,
				TransactionID: txn.ID,
				Amount:        input.Amount,
				Description:   description,
			},
			Version: 1,
		}
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return nil, mapTransferError(err)
	}
	return txn, nil
}

// InitiateTopup creates the gateway charge and records a pending topup row.
// The wallet is not credited here: settlement arrives on the gateway
// webhook, never on a timer.
func (s *service) InitiateTopup(ctx context.Context, input TopupInput) (*TopupResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid topup method")
	}

	wallet, err := s.wallets.GetWallet(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	reference := wallets.NewReference()
	charge, err := s.gateway.CreateCharge(ctx, gateway.ChargeParams{
		Reference:      reference,
		Amount:         input.Amount,
		Currency:       wallet.Currency,
		Method:         input.Method,
		ReturnURL:      input.ReturnURL,
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	metadata, err := json.Marshal(topupMetadata{GatewayRef: charge.ID, Method: input.Method})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode topup metadata")
	}
	txn := &models.Transaction{
		WalletID:      wallet.ID,
		UserID:        input.UserID,
		Type:          enums.TransactionTypeTopup,
		Status:        enums.TransactionStatusPending,
		Amount:        input.Amount,
		NetAmount:     input.Amount,
		BalanceBefore: wallet.AvailableBalance,
		BalanceAfter:  wallet.AvailableBalance,
		Currency:      wallet.Currency,
		Reference:     reference,
		Metadata:      metadata,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.ledger.CreateInTx(ctx, tx, txn); err != nil {
			return err
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventTopupInitiated,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID, Role: string(enums.UserRoleMember)},
			Data: payloads.TopupInitiatedEvent{
				UserID:        input.UserID,
				TransactionID: txn.ID,
				GatewayRef:    charge.ID,
				Method:        input.Method,
				Amount:        input.Amount,
				Currency:      wallet.Currency,
			},
			Version: 1,
		}
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return nil, mapTransferError(err)
	}
	return &TopupResult{
		Transaction: txn,
		GatewayRef:  charge.ID,
		RedirectURL: charge.RedirectURL,
	}, nil
}

// CompleteTopup settles a topup confirmed by the gateway. Redelivered
// webhooks are harmless: a row already completed returns as-is.
func (s *service) CompleteTopup(ctx context.Context, reference, gatewayRef string) (*models.Transaction, error) {
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}

	var settled *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := s.lockTopup(ctx, tx, reference)
		if err != nil {
			return err
		}
		if txn.Status == enums.TransactionStatusCompleted {
			settled = txn
			return nil
		}
		if !topupSettleable(txn.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("topup already %s", txn.Status))
		}

		if _, err := s.wallets.CreditInTx(ctx, tx, txn.UserID, txn.Amount, enums.FundCategoryTopup); err != nil {
			return err
		}

		now := s.now().UTC()
		ok, err := s.ledger.WithTx(tx).UpdateStatus(ctx, txn.ID, txn.Status, enums.TransactionStatusCompleted, &now)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "topup settled concurrently")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventTopupCompleted,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.TopupCompletedEvent{
				UserID:        txn.UserID,
				TransactionID: txn.ID,
				GatewayRef:    gatewayRef,
				Amount:        txn.Amount,
				Currency:      txn.Currency,
				CompletedAt:   now,
			},
			Version: 1,
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		txn.Status = enums.TransactionStatusCompleted
		txn.ProcessedAt = &now
		settled = txn
		return nil
	})
	if err != nil {
		return nil, mapTransferError(err)
	}
	return settled, nil
}

// FailTopup marks a topup failed without touching the wallet. Like
// completion it tolerates webhook redelivery.
func (s *service) FailTopup(ctx context.Context, reference, reason string) (*models.Transaction, error) {
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}

	var failed *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := s.lockTopup(ctx, tx, reference)
		if err != nil {
			return err
		}
		if txn.Status == enums.TransactionStatusFailed {
			failed = txn
			return nil
		}
		if !topupSettleable(txn.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("topup already %s", txn.Status))
		}

		ok, err := s.ledger.WithTx(tx).UpdateStatus(ctx, txn.ID, txn.Status, enums.TransactionStatusFailed, nil)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "topup settled concurrently")
		}

		var meta topupMetadata
		if len(txn.Metadata) > 0 {
			_ = json.Unmarshal(txn.Metadata, &meta)
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventTopupFailed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.TopupFailedEvent{
				UserID:        txn.UserID,
				TransactionID: txn.ID,
				GatewayRef:    meta.GatewayRef,
				Amount:        txn.Amount,
				Reason:        reason,
				FailedAt:      s.now().UTC(),
			},
			Version: 1,
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		txn.Status = enums.TransactionStatusFailed
		failed = txn
		return nil
	})
	if err != nil {
		return nil, mapTransferError(err)
	}
	return failed, nil
}

// TimeoutStaleTopups fails topups the gateway never answered for. It backs
// the cron sweep that replaces any in-process timer.
func (s *service) TimeoutStaleTopups(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "timeout window must be positive")
	}
	if limit <= 0 {
		limit = 100
	}
	cutoff := s.now().UTC().Add(-olderThan)
	stale, err := s.ledger.ListStaleTopups(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale topups")
	}

	failed := 0
	for _, txn := range stale {
		if _, err := s.FailTopup(ctx, txn.Reference, "gateway confirmation timed out"); err != nil {
			// A concurrent webhook may have settled it; skip and move on.
			if domainErr := pkgerrors.As(err); domainErr != nil && domainErr.Code() == pkgerrors.CodeStateConflict {
				continue
			}
			return failed, err
		}
		failed++
	}
	return failed, nil
}

// topupSettleable reports whether a topup row may still be settled either
// way. Completed stays out even though it has a refund edge: a settled,
// wallet-credited topup must never flip to failed.
func topupSettleable(status enums.TransactionStatus) bool {
	return status == enums.TransactionStatusPending || status == enums.TransactionStatusProcessing
}

func (s *service) lockTopup(ctx context.Context, tx *gorm.DB, reference string) (*models.Transaction, error) {
	ledger := s.ledger.WithTx(tx)
	txn, err := ledger.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Type != enums.TransactionTypeTopup {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is not a topup")
	}
	return ledger.GetByIDForUpdate(ctx, txn.ID)
}

func mapTransferError(err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "transaction not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transfer operation failed")
}
