package wallets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tlb-diamond/tlbd-backend/pkg/config"
	"github.com/tlb-diamond/tlbd-backend/pkg/db/models"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeLedger struct {
	rows []*models.Transaction
	err  error
}

func (f *fakeLedger) CreateInTx(ctx context.Context, tx *gorm.DB, txn *models.Transaction) error {
	if f.err != nil {
		return f.err
	}
	txn.ID = uuid.New()
	f.rows = append(f.rows, txn)
	return nil
}

type fakeRepo struct {
	wallet      *models.Wallet
	resetCalls  int
	creditOK    bool
	debitOK     bool
	moveOK      bool
	lastCredit  decimal.Decimal
	lastDebit   decimal.Decimal
	countedDay  bool
	lastSource  enums.BalanceBucket
	lastTarget  enums.BalanceBucket
	resolveOK   bool
	lastResolve decimal.Decimal
}

func (f *fakeRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepo) Create(ctx context.Context, wallet *models.Wallet) error {
	wallet.ID = uuid.New()
	f.wallet = wallet
	return nil
}

func (f *fakeRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if f.wallet == nil {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *f.wallet
	return &copied, nil
}

func (f *fakeRepo) GetByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return f.GetByUserID(ctx, userID)
}

func (f *fakeRepo) PersistResets(ctx context.Context, walletID uuid.UUID, now time.Time, stale StalePeriods) error {
	f.resetCalls++
	applyResets(f.wallet, now, stale)
	return nil
}

func (f *fakeRepo) Credit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, category enums.FundCategory) (bool, error) {
	f.lastCredit = amount
	if f.creditOK {
		f.wallet.AvailableBalance = f.wallet.AvailableBalance.Add(amount)
	}
	return f.creditOK, nil
}

func (f *fakeRepo) Debit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, countDaily bool) (bool, error) {
	f.lastDebit = amount
	f.countedDay = countDaily
	if f.debitOK {
		f.wallet.AvailableBalance = f.wallet.AvailableBalance.Sub(amount)
		if countDaily {
			f.wallet.DailySpent = f.wallet.DailySpent.Add(amount)
		}
	}
	return f.debitOK, nil
}

func (f *fakeRepo) MoveAvailableToLocked(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (bool, error) {
	if f.moveOK {
		f.wallet.AvailableBalance = f.wallet.AvailableBalance.Sub(amount)
		f.wallet.LockedBalance = f.wallet.LockedBalance.Add(amount)
	}
	return f.moveOK, nil
}

func (f *fakeRepo) MoveLockedToAvailable(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (bool, error) {
	if f.moveOK {
		f.wallet.LockedBalance = f.wallet.LockedBalance.Sub(amount)
		f.wallet.AvailableBalance = f.wallet.AvailableBalance.Add(amount)
	}
	return f.moveOK, nil
}

func (f *fakeRepo) MoveToPending(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, source enums.BalanceBucket) (bool, error) {
	f.lastSource = source
	return f.moveOK, nil
}

func (f *fakeRepo) ResolvePending(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, target enums.BalanceBucket) (bool, error) {
	f.lastTarget = target
	f.lastResolve = amount
	return f.resolveOK, nil
}

func newTestWallet(available, dailySpent, dailyLimit string) *models.Wallet {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	return &models.Wallet{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		AvailableBalance: decimal.RequireFromString(available),
		DailySpent:       decimal.RequireFromString(dailySpent),
		DailyLimit:       decimal.RequireFromString(dailyLimit),
		LastDailyReset:   now,
		LastMonthlyReset: now,
		Currency:         enums.CurrencyTLB,
	}
}

func newTestService(t *testing.T, repo *fakeRepo, ledger *fakeLedger, now time.Time) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Ledger: ledger,
		Tx:     fakeTxRunner{},
		Config: config.WalletConfig{DefaultDailyLimit: "1000.00", DefaultCurrency: "TLB"},
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestAddFundsWritesLedgerRow(t *testing.T) {
	wallet := newTestWallet("100.00", "0", "1000.00")
	repo := &fakeRepo{wallet: wallet, creditOK: true}
	ledger := &fakeLedger{}
	svc := newTestService(t, repo, ledger, wallet.LastDailyReset.Add(time.Hour))

	result, err := svc.AddFunds(context.Background(), MutationInput{
		UserID:   wallet.UserID,
		Amount:   decimal.RequireFromString("25.50"),
		Type:     enums.TransactionTypeTopup,
		Category: enums.FundCategoryTopup,
	})
	if err != nil {
		t.Fatalf("add funds: %v", err)
	}
	if len(ledger.rows) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(ledger.rows))
	}
	txn := ledger.rows[0]
	if txn.Status != enums.TransactionStatusCompleted {
		t.Fatalf("unexpected status %s", txn.Status)
	}
	if txn.ProcessedAt == nil {
		t.Fatalf("processed_at not stamped")
	}
	if !txn.BalanceBefore.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("unexpected balance_before %s", txn.BalanceBefore)
	}
	if !txn.BalanceAfter.Equal(decimal.RequireFromString("125.50")) {
		t.Fatalf("unexpected balance_after %s", txn.BalanceAfter)
	}
	if txn.Reference == "" {
		t.Fatalf("reference not generated")
	}
	if !result.Wallet.AvailableBalance.Equal(decimal.RequireFromString("125.50")) {
		t.Fatalf("unexpected wallet balance %s", result.Wallet.AvailableBalance)
	}
}

func TestAddFundsRejectsNonPositiveAmount(t *testing.T) {
	wallet := newTestWallet("100.00", "0", "1000.00")
	repo := &fakeRepo{wallet: wallet, creditOK: true}
	svc := newTestService(t, repo, &fakeLedger{}, time.Now())

	for _, amount := range []string{"0", "-5.00"} {
		_, err := svc.AddFunds(context.Background(), MutationInput{
			UserID:   wallet.UserID,
			Amount:   decimal.RequireFromString(amount),
			Type:     enums.TransactionTypeTopup,
			Category: enums.FundCategoryTopup,
		})
		if err == nil {
			t.Fatalf("expected rejection for amount %s", amount)
		}
		if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeValidation {
			t.Fatalf("expected validation error, got %v", err)
		}
	}
}

func TestDeductFundsInsufficientBalance(t *testing.T) {
	wallet := newTestWallet("10.00", "0", "1000.00")
	repo := &fakeRepo{wallet: wallet, debitOK: true}
	svc := newTestService(t, repo, &fakeLedger{}, wallet.LastDailyReset.Add(time.Hour))

	_, err := svc.DeductFunds(context.Background(), MutationInput{
		UserID: wallet.UserID,
		Amount: decimal.RequireFromString("10.01"),
		Type:   enums.TransactionTypePurchase,
	})
	if err == nil {
		t.Fatal("expected insufficient funds error")
	}
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds code, got %v", err)
	}
}

func TestDeductFundsDailyLimit(t *testing.T) {
	wallet := newTestWallet("500.00", "90.00", "100.00")
	repo := &fakeRepo{wallet: wallet, debitOK: true}
	svc := newTestService(t, repo, &fakeLedger{}, wallet.LastDailyReset.Add(time.Hour))

	_, err := svc.DeductFunds(context.Background(), MutationInput{
		UserID: wallet.UserID,
		Amount: decimal.RequireFromString("10.01"),
		Type:   enums.TransactionTypePurchase,
	})
	if err == nil {
		t.Fatal("expected daily limit error")
	}
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds code, got %v", err)
	}
	details, ok := domainErr.Details().(map[string]any)
	if !ok || details["reason"] != "daily_limit" {
		t.Fatalf("expected daily_limit detail, got %v", domainErr.Details())
	}

	// Exactly reaching the limit is allowed.
	ledger := &fakeLedger{}
	svc = newTestService(t, repo, ledger, wallet.LastDailyReset.Add(time.Hour))
	if _, err := svc.DeductFunds(context.Background(), MutationInput{
		UserID: wallet.UserID,
		Amount: decimal.RequireFromString("10.00"),
		Type:   enums.TransactionTypePurchase,
	}); err != nil {
		t.Fatalf("limit-exact deduct should pass: %v", err)
	}
	if !repo.countedDay {
		t.Fatalf("purchase should count toward the daily limit")
	}
}

func TestDeductFundsResetsStaleDailyWindow(t *testing.T) {
	wallet := newTestWallet("500.00", "100.00", "100.00")
	repo := &fakeRepo{wallet: wallet, debitOK: true}
	// Next calendar day: daily_spent must reset before the limit check.
	now := wallet.LastDailyReset.Add(24 * time.Hour)
	svc := newTestService(t, repo, &fakeLedger{}, now)

	_, err := svc.DeductFunds(context.Background(), MutationInput{
		UserID: wallet.UserID,
		Amount: decimal.RequireFromString("50.00"),
		Type:   enums.TransactionTypePurchase,
	})
	if err != nil {
		t.Fatalf("deduct after reset: %v", err)
	}
	if repo.resetCalls != 1 {
		t.Fatalf("expected one reset persist, got %d", repo.resetCalls)
	}
}

func TestTransferCreditDoesNotCountDailyLimit(t *testing.T) {
	wallet := newTestWallet("0.00", "0", "100.00")
	repo := &fakeRepo{wallet: wallet, creditOK: true}
	ledger := &fakeLedger{}
	svc := newTestService(t, repo, ledger, wallet.LastDailyReset.Add(time.Hour))

	if _, err := svc.AddFunds(context.Background(), MutationInput{
		UserID:   wallet.UserID,
		Amount:   decimal.RequireFromString("500.00"),
		Type:     enums.TransactionTypeReceived,
		Category: enums.FundCategoryTransfer,
	}); err != nil {
		t.Fatalf("credit beyond daily limit should pass: %v", err)
	}
}

// gormTxRunner runs closures inside a real database transaction so rollback
// behavior is exercised for real, unlike the pass-through fake.
type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func TestDeductFundsRollsBackWalletOnLedgerFailure(t *testing.T) {
	db := setupWalletsTestDB(t)
	wallet := seedWallet(t, db, "100.00", "0", "0")
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(db),
		Ledger: &fakeLedger{err: errors.New("ledger insert rejected")},
		Tx:     gormTxRunner{db: db},
		Config: config.WalletConfig{DefaultDailyLimit: "1000.00", DefaultCurrency: "TLB"},
		Now:    func() time.Time { return wallet.LastDailyReset.Add(time.Hour) },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.DeductFunds(context.Background(), MutationInput{
		UserID: wallet.UserID,
		Amount: decimal.RequireFromString("40.00"),
		Type:   enums.TransactionTypePurchase,
	})
	if err == nil {
		t.Fatal("deduct must fail when the ledger append fails")
	}

	// The balance update already applied inside the transaction; the
	// rollback must take it back out along with the accumulators.
	got := reloadWallet(t, db, wallet.ID)
	if !got.AvailableBalance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("wallet balance changed despite rollback: %s", got.AvailableBalance)
	}
	if !got.DailySpent.Equal(decimal.Zero) || !got.TotalSpent.Equal(decimal.Zero) {
		t.Fatalf("spend accumulators changed despite rollback: daily %s total %s", got.DailySpent, got.TotalSpent)
	}
}

// pairLockRepo serves two wallets and records the order row locks are taken.
type pairLockRepo struct {
	fakeRepo
	byUser   map[uuid.UUID]*models.Wallet
	lockSeen []uuid.UUID
}

func (f *pairLockRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *pairLockRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, ok := f.byUser[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *w
	return &copied, nil
}

func (f *pairLockRepo) GetByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	f.lockSeen = append(f.lockSeen, userID)
	return f.GetByUserID(ctx, userID)
}

func TestLockPairInTxLocksInAscendingUserOrder(t *testing.T) {
	low := newTestWallet("10.00", "0", "100.00")
	low.UserID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	high := newTestWallet("10.00", "0", "100.00")
	high.UserID = uuid.MustParse("eeeeeeee-eeee-eeee-eeee-eeeeeeeeeeee")
	repo := &pairLockRepo{byUser: map[uuid.UUID]*models.Wallet{
		low.UserID:  low,
		high.UserID: high,
	}}
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Ledger: &fakeLedger{},
		Tx:     fakeTxRunner{},
		Config: config.WalletConfig{DefaultDailyLimit: "1000.00", DefaultCurrency: "TLB"},
		Now:    func() time.Time { return low.LastDailyReset.Add(time.Hour) },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	// Argument order must not change which row locks first.
	if err := svc.LockPairInTx(context.Background(), nil, high.UserID, low.UserID); err != nil {
		t.Fatalf("lock pair: %v", err)
	}
	if err := svc.LockPairInTx(context.Background(), nil, low.UserID, high.UserID); err != nil {
		t.Fatalf("lock pair: %v", err)
	}
	want := []uuid.UUID{low.UserID, high.UserID, low.UserID, high.UserID}
	if len(repo.lockSeen) != len(want) {
		t.Fatalf("expected %d lock acquisitions, got %d", len(want), len(repo.lockSeen))
	}
	for i, id := range want {
		if repo.lockSeen[i] != id {
			t.Fatalf("lock %d: expected %s, got %s", i, id, repo.lockSeen[i])
		}
	}
}

func TestMoveToPendingValidatesSource(t *testing.T) {
	wallet := newTestWallet("100.00", "0", "1000.00")
	repo := &fakeRepo{wallet: wallet, moveOK: true}
	svc := newTestService(t, repo, &fakeLedger{}, wallet.LastDailyReset.Add(time.Hour))

	if _, err := svc.MoveToPending(context.Background(), wallet.UserID, decimal.RequireFromString("10.00"), enums.BucketPending); err == nil {
		t.Fatal("pending is not a valid source bucket")
	}
	if _, err := svc.MoveToPending(context.Background(), wallet.UserID, decimal.RequireFromString("10.00"), enums.BucketAvailable); err != nil {
		t.Fatalf("available source should pass: %v", err)
	}
	if repo.lastSource != enums.BucketAvailable {
		t.Fatalf("unexpected source %s", repo.lastSource)
	}
}

func TestResolvePendingValidatesTarget(t *testing.T) {
	wallet := newTestWallet("100.00", "0", "1000.00")
	repo := &fakeRepo{wallet: wallet, resolveOK: true}
	svc := newTestService(t, repo, &fakeLedger{}, wallet.LastDailyReset.Add(time.Hour))

	if _, err := svc.ResolvePending(context.Background(), wallet.UserID, decimal.RequireFromString("10.00"), enums.BucketPending); err == nil {
		t.Fatal("pending cannot resolve into itself")
	}
	if _, err := svc.ResolvePending(context.Background(), wallet.UserID, decimal.RequireFromString("10.00"), enums.BucketDeduct); err != nil {
		t.Fatalf("deduct target should pass: %v", err)
	}
	if repo.lastTarget != enums.BucketDeduct {
		t.Fatalf("unexpected target %s", repo.lastTarget)
	}
}

func TestCreateForUserUsesDefaults(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(t, repo, &fakeLedger{}, time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))

	wallet, err := svc.CreateForUser(context.Background(), nil, uuid.New())
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if !wallet.DailyLimit.Equal(decimal.RequireFromString("1000.00")) {
		t.Fatalf("unexpected daily limit %s", wallet.DailyLimit)
	}
	if wallet.Currency != enums.CurrencyTLB {
		t.Fatalf("unexpected currency %s", wallet.Currency)
	}
	if wallet.LastDailyReset.IsZero() || wallet.LastMonthlyReset.IsZero() {
		t.Fatalf("reset markers not initialized")
	}
}
