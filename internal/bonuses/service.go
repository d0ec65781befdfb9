package bonuses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tlb-diamond/tlbd-backend/internal/wallets"
	"github.com/tlb-diamond/tlbd-backend/pkg/config"
	"github.com/tlb-diamond/tlbd-backend/pkg/db/models"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
	"github.com/tlb-diamond/tlbd-backend/pkg/outbox"
	"github.com/tlb-diamond/tlbd-backend/pkg/outbox/payloads"
	"github.com/tlb-diamond/tlbd-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type walletCreditor interface {
	AddFundsInTx(ctx context.Context, tx *gorm.DB, input wallets.MutationInput) (*wallets.MutationResult, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type userFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// GrantInput describes a bonus to issue.
type GrantInput struct {
	RecipientID uuid.UUID
	GiverID     *uuid.UUID
	Type        enums.BonusType
	Amount      decimal.Decimal
	Title       string
	Description *string
	CanForward  bool
	ExpiresAt   *time.Time
}

// ForwardInput regifts an unclaimed bonus to another user.
type ForwardInput struct {
	UserID       uuid.UUID
	BonusID      uuid.UUID
	TargetUserID uuid.UUID
}

// ClaimResult carries the claimed bonus together with the wallet credit.
type ClaimResult struct {
	Bonus       *models.Bonus
	Wallet      *models.Wallet
	Transaction *models.Transaction
}

// ListParams configures filters and pagination for a user's bonuses.
type ListParams struct {
	UserID uuid.UUID
	Status string
	Limit  int
	Cursor string
}

// ListResult wraps returned bonuses and the cursor for the next page.
type ListResult struct {
	Items  []models.Bonus `json:"items"`
	Cursor string         `json:"cursor"`
}

// Service exposes the bonus lifecycle: grant, claim, forward, expire.
type Service interface {
	Grant(ctx context.Context, input GrantInput) (*models.Bonus, error)
	GrantWelcomeInTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.Bonus, error)
	Get(ctx context.Context, userID, bonusID uuid.UUID) (*models.Bonus, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Claim(ctx context.Context, userID, bonusID uuid.UUID) (*ClaimResult, error)
	Forward(ctx context.Context, input ForwardInput) (*models.Bonus, error)
	ExpireSweep(ctx context.Context, batchSize int) (int, error)
}

// ServiceParams wire the bonus service dependencies.
type ServiceParams struct {
	Repo    Repository
	Wallets walletCreditor
	Users   userFinder
	Outbox  outboxPublisher
	Tx      txRunner
	Config  config.BonusConfig
	Now     func() time.Time
}

type service struct {
	repo    Repository
	wallets walletCreditor
	users   userFinder
	outbox  outboxPublisher
	tx      txRunner
	cfg     config.BonusConfig
	now     func() time.Time
}

// NewService validates dependencies and returns the bonus service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("bonus repository required")
	}
	if params.Wallets == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user finder required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:    params.Repo,
		wallets: params.Wallets,
		users:   params.Users,
		outbox:  params.Outbox,
		tx:      params.Tx,
		cfg:     params.Config,
		now:     now,
	}, nil
}

func (s *service) Grant(ctx context.Context, input GrantInput) (*models.Bonus, error) {
	bonus, err := s.buildBonus(input)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, bonus); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create bonus")
	}
	return bonus, nil
}

// GrantWelcomeInTx issues the signup bonus inside the registration
// transaction so the user, wallet and bonus commit together.
func (s *service) GrantWelcomeInTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.Bonus, error) {
	amount, err := decimal.NewFromString(s.cfg.WelcomeAmount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "invalid welcome bonus amount")
	}
	bonus, err := s.buildBonus(GrantInput{
		RecipientID: userID,
		Type:        enums.BonusTypeWelcome,
		Amount:      amount,
		Title:       "Welcome bonus",
		CanForward:  true,
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.WithTx(tx).Create(ctx, bonus); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create welcome bonus")
	}
	return bonus, nil
}

func (s *service) Get(ctx context.Context, userID, bonusID uuid.UUID) (*models.Bonus, error) {
	if userID == uuid.Nil || bonusID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and bonus id required")
	}
	bonus, err := s.repo.GetByID(ctx, bonusID)
	if err != nil {
		return nil, mapBonusError(err)
	}
	if bonus.RecipientID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bonus not found")
	}
	return bonus, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	query := listBonusesParams{
		RecipientID: params.UserID,
		Limit:       params.Limit,
	}
	if params.Status != "" {
		parsed, err := enums.ParseBonusStatus(params.Status)
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
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list bonuses")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

// Claim credits the bonus amount into the recipient's wallet. The bonus row
// flip, the wallet credit, its ledger row and the outbox event commit in one
// transaction.
func (s *service) Claim(ctx context.Context, userID, bonusID uuid.UUID) (*ClaimResult, error) {
	if userID == uuid.Nil || bonusID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and bonus id required")
	}

	var lapsed bool
	var result ClaimResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		bonus, err := s.lockClaimable(ctx, repo, tx, userID, bonusID)
		if errors.Is(err, errBonusLapsed) {
			lapsed = true
			return nil
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		ok, err := repo.MarkClaimed(ctx, bonus.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "bonus was claimed concurrently")
		}

		description := bonus.Title
		mutation, err := s.wallets.AddFundsInTx(ctx, tx, wallets.MutationInput{
			UserID:      userID,
			Amount:      bonus.Amount,
			Type:        enums.TransactionTypeBonus,
			Category:    enums.FundCategoryBonus,
			Description: &description,
		})
		if err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventBonusClaimed,
			AggregateType: enums.AggregateBonus,
			AggregateID:   bonus.ID,
			Actor:         &outbox.ActorRef{UserID: userID, Role: string(enums.UserRoleMember)},
			Data: payloads.BonusClaimedEvent{
				BonusID:       bonus.ID,
				RecipientID:   userID,
				TransactionID: mutation.Transaction.ID,
				Type:          bonus.Type,
				Amount:        bonus.Amount,
				ClaimedAt:     now,
			},
			Version: 1,
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		bonus.Status = enums.BonusStatusClaimed
		bonus.ClaimedAt = &now
		result = ClaimResult{Bonus: bonus, Wallet: mutation.Wallet, Transaction: mutation.Transaction}
		return nil
	})
	if err != nil {
		return nil, mapBonusError(err)
	}
	if lapsed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "bonus expired")
	}
	return &result, nil
}

// Forward cancels the caller's unclaimed bonus and issues a fresh one to the
// target user, carrying the forwarding budget forward.
func (s *service) Forward(ctx context.Context, input ForwardInput) (*models.Bonus, error) {
	if input.UserID == uuid.Nil || input.BonusID == uuid.Nil || input.TargetUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id, bonus id and target user id required")
	}
	if input.TargetUserID == input.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot forward a bonus to yourself")
	}

	var lapsed bool
	var forwarded *models.Bonus
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		bonus, err := s.lockClaimable(ctx, repo, tx, input.UserID, input.BonusID)
		if errors.Is(err, errBonusLapsed) {
			lapsed = true
			return nil
		}
		if err != nil {
			return err
		}
		if !bonus.CanBeForwarded() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "bonus cannot be forwarded")
		}
		if _, err := s.users.FindByID(ctx, input.TargetUserID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "target user not found")
			}
			return err
		}

		ok, err := repo.MarkCancelled(ctx, bonus.ID)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "bonus changed concurrently")
		}

		next := &models.Bonus{
			RecipientID:  input.TargetUserID,
			GiverID:      &input.UserID,
			OrderRef:     bonus.OrderRef,
			Type:         bonus.Type,
			Status:       enums.BonusStatusAvailable,
			Amount:       bonus.Amount,
			Currency:     bonus.Currency,
			Title:        bonus.Title,
			Description:  bonus.Description,
			CanForward:   bonus.CanForward,
			ForwardCount: bonus.ForwardCount + 1,
			MaxForwards:  bonus.MaxForwards,
			ExpiresAt:    bonus.ExpiresAt,
			Metadata:     forwardMetadata(bonus, input.UserID),
		}
		if err := repo.Create(ctx, next); err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventBonusForwarded,
			AggregateType: enums.AggregateBonus,
			AggregateID:   bonus.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID, Role: string(enums.UserRoleMember)},
			Data: payloads.BonusForwardedEvent{
				OriginalBonusID: bonus.ID,
				NewBonusID:      next.ID,
				FromUserID:      input.UserID,
				ToUserID:        input.TargetUserID,
				Amount:          bonus.Amount,
				ForwardCount:    next.ForwardCount,
			},
			Version: 1,
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		forwarded = next
		return nil
	})
	if err != nil {
		return nil, mapBonusError(err)
	}
	if lapsed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "bonus expired")
	}
	return forwarded, nil
}

// forwardMetadata copies the bonus metadata and stamps where the new bonus
// came from. Unparseable metadata is replaced rather than propagated.
func forwardMetadata(bonus *models.Bonus, forwarder uuid.UUID) json.RawMessage {
	meta := map[string]any{}
	if len(bonus.Metadata) > 0 {
		if err := json.Unmarshal(bonus.Metadata, &meta); err != nil {
			meta = map[string]any{}
		}
	}
	meta["forwarded_from"] = map[string]any{
		"bonus_id": bonus.ID.String(),
		"user_id":  forwarder.String(),
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return bonus.Metadata
	}
	return encoded
}

// ExpireSweep flips one batch of lapsed bonuses and emits an event per row.
// Callers loop until the returned count is below the batch size.
func (s *service) ExpireSweep(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.ExpirySweepBatch
	}
	now := s.now().UTC()

	var expired int
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		batch, err := repo.ExpireBatch(ctx, now, batchSize)
		if err != nil {
			return err
		}
		for _, bonus := range batch {
			event := outbox.DomainEvent{
				EventType:     enums.EventBonusExpired,
				AggregateType: enums.AggregateBonus,
				AggregateID:   bonus.ID,
				Data: payloads.BonusExpiredEvent{
					BonusID:     bonus.ID,
					RecipientID: bonus.RecipientID,
					Amount:      bonus.Amount,
					ExpiredAt:   now,
				},
				Version: 1,
			}
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return err
			}
		}
		expired = len(batch)
		return nil
	})
	if err != nil {
		return 0, mapBonusError(err)
	}
	return expired, nil
}

// errBonusLapsed signals that the bonus expired before the operation. The
// caller must let the transaction commit so the expiry flip and its event
// survive, then refuse the operation itself.
var errBonusLapsed = errors.New("bonus lapsed")

// lockClaimable loads the bonus under a row lock and verifies it still
// belongs to the caller and is claimable. A lapsed bonus is flipped to
// expired on the spot rather than waiting for the sweep; the flip is
// reported as errBonusLapsed so it commits while the claim does not.
func (s *service) lockClaimable(ctx context.Context, repo Repository, tx *gorm.DB, userID, bonusID uuid.UUID) (*models.Bonus, error) {
	bonus, err := repo.GetByIDForUpdate(ctx, bonusID)
	if err != nil {
		return nil, err
	}
	if bonus.RecipientID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bonus not found")
	}
	switch bonus.Status {
	case enums.BonusStatusAvailable:
	case enums.BonusStatusClaimed:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "bonus already claimed")
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("bonus is %s", bonus.Status))
	}
	now := s.now().UTC()
	if bonus.IsExpired(now) {
		if _, err := s.expireNow(ctx, repo, tx, bonus, now); err != nil {
			return nil, err
		}
		return nil, errBonusLapsed
	}
	return bonus, nil
}

func (s *service) expireNow(ctx context.Context, repo Repository, tx *gorm.DB, bonus *models.Bonus, now time.Time) (bool, error) {
	ok, err := repo.MarkExpired(ctx, bonus.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventBonusExpired,
		AggregateType: enums.AggregateBonus,
		AggregateID:   bonus.ID,
		Data: payloads.BonusExpiredEvent{
			BonusID:     bonus.ID,
			RecipientID: bonus.RecipientID,
			Amount:      bonus.Amount,
			ExpiredAt:   now,
		},
		Version: 1,
	}
	return true, s.outbox.Emit(ctx, tx, event)
}

func (s *service) buildBonus(input GrantInput) (*models.Bonus, error) {
	if input.RecipientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid bonus type")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title required")
	}

	expiresAt := s.now().UTC().AddDate(0, 0, s.cfg.DefaultExpiryDays)
	if input.ExpiresAt != nil {
		expiresAt = input.ExpiresAt.UTC()
	}
	maxForwards := 0
	if input.CanForward {
		maxForwards = s.cfg.DefaultMaxForwards
	}
	return &models.Bonus{
		RecipientID: input.RecipientID,
		GiverID:     input.GiverID,
		Type:        input.Type,
		Status:      enums.BonusStatusAvailable,
		Amount:      input.Amount,
		Currency:    enums.CurrencyTLB,
		Title:       input.Title,
		Description: input.Description,
		CanForward:  input.CanForward,
		MaxForwards: maxForwards,
		ExpiresAt:   expiresAt,
	}, nil
}

func mapBonusError(err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "bonus not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "bonus operation failed")
}
