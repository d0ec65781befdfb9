package transfers

import (
	"context"
	"encoding/json"
	"testing"
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
	"github.com/tlb-diamond/tlbd-backend/pkg/pagination"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeWalletSvc struct {
	wallets   map[uuid.UUID]*models.Wallet
	deducts   []wallets.MutationInput
	adds      []wallets.MutationInput
	credits   []decimal.Decimal
	lockPairs [][2]uuid.UUID
	debitErr  error
}

func newFakeWalletSvc() *fakeWalletSvc {
	return &fakeWalletSvc{wallets: map[uuid.UUID]*models.Wallet{}}
}

func (f *fakeWalletSvc) seed(userID uuid.UUID, available string) *models.Wallet {
	w := &models.Wallet{
		ID:               uuid.New(),
		UserID:           userID,
		AvailableBalance: decimal.RequireFromString(available),
		Currency:         enums.CurrencyTLB,
	}
	f.wallets[userID] = w
	return w
}

func (f *fakeWalletSvc) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, ok := f.wallets[userID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
	}
	copied := *w
	return &copied, nil
}

func (f *fakeWalletSvc) LockPairInTx(ctx context.Context, tx *gorm.DB, a, b uuid.UUID) error {
	f.lockPairs = append(f.lockPairs, [2]uuid.UUID{a, b})
	return nil
}

func (f *fakeWalletSvc) AddFundsInTx(ctx context.Context, tx *gorm.DB, input wallets.MutationInput) (*wallets.MutationResult, error) {
	f.adds = append(f.adds, input)
	w := f.wallets[input.UserID]
	w.AvailableBalance = w.AvailableBalance.Add(input.Amount)
	return &wallets.MutationResult{
		Wallet: w,
		Transaction: &models.Transaction{
			ID:                   uuid.New(),
			WalletID:             w.ID,
			UserID:               input.UserID,
			Type:                 input.Type,
			Amount:               input.Amount,
			RelatedTransactionID: input.RelatedTxn,
		},
	}, nil
}

func (f *fakeWalletSvc) DeductFundsInTx(ctx context.Context, tx *gorm.DB, input wallets.MutationInput) (*wallets.MutationResult, error) {
	if f.debitErr != nil {
		return nil, f.debitErr
	}
	f.deducts = append(f.deducts, input)
	w := f.wallets[input.UserID]
	w.AvailableBalance = w.AvailableBalance.Sub(input.Amount)
	return &wallets.MutationResult{
		Wallet: w,
		Transaction: &models.Transaction{
			ID:       uuid.New(),
			WalletID: w.ID,
			UserID:   input.UserID,
			Type:     input.Type,
			Amount:   input.Amount,
		},
	}, nil
}

func (f *fakeWalletSvc) CreditInTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, category enums.FundCategory) (*models.Wallet, error) {
	f.credits = append(f.credits, amount)
	w := f.wallets[userID]
	w.AvailableBalance = w.AvailableBalance.Add(amount)
	return w, nil
}

type fakeLedger struct {
	byID  map[uuid.UUID]*models.Transaction
	stale []models.Transaction
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{byID: map[uuid.UUID]*models.Transaction{}}
}

func (f *fakeLedger) WithTx(tx *gorm.DB) transactions.Repository { return f }

func (f *fakeLedger) Create(ctx context.Context, txn *models.Transaction) error {
	return f.CreateInTx(ctx, nil, txn)
}

func (f *fakeLedger) CreateInTx(ctx context.Context, tx *gorm.DB, txn *models.Transaction) error {
	txn.ID = uuid.New()
	f.byID[txn.ID] = txn
	return nil
}

func (f *fakeLedger) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, ok := f.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *txn
	return &copied, nil
}

func (f *fakeLedger) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeLedger) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	for _, txn := range f.byID {
		if txn.Reference == reference {
			copied := *txn
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeLedger) List(ctx context.Context, params transactions.ListFilter) ([]models.Transaction, *pagination.Cursor, error) {
	return nil, nil, nil
}

func (f *fakeLedger) UpdateStatus(ctx context.Context, id uuid.UUID, current, next enums.TransactionStatus, processedAt *time.Time) (bool, error) {
	txn, ok := f.byID[id]
	if !ok || txn.Status != current {
		return false, nil
	}
	txn.Status = next
	if processedAt != nil {
		txn.ProcessedAt = processedAt
	}
	return true, nil
}

func (f *fakeLedger) SetRelatedTransaction(ctx context.Context, id, relatedID uuid.UUID) (bool, error) {
	txn, ok := f.byID[id]
	if !ok || txn.RelatedTransactionID != nil {
		return false, nil
	}
	txn.RelatedTransactionID = &relatedID
	return true, nil
}

func (f *fakeLedger) ListStaleTopups(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	return f.stale, nil
}

type fakeUsers struct {
	known      map[uuid.UUID]bool
	byEmail    map[string]uuid.UUID
	byUsername map[string]uuid.UUID
}

func (f *fakeUsers) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if !f.known[id] {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.User{ID: id}, nil
}

func (f *fakeUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	id, ok := f.byEmail[email]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.User{ID: id, Email: email}, nil
}

func (f *fakeUsers) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	id, ok := f.byUsername[username]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.User{ID: id, Username: username}, nil
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeGateway struct {
	lastParams gateway.ChargeParams
	err        error
}

func (f *fakeGateway) CreateCharge(ctx context.Context, params gateway.ChargeParams) (*gateway.Charge, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastParams = params
	return &gateway.Charge{
		ID:          "ch_" + uuid.NewString(),
		Reference:   params.Reference,
		Status:      "pending",
		Amount:      params.Amount,
		Currency:    string(params.Currency),
		RedirectURL: "https://sandbox.pay.tlb-diamond.com/checkout/ch_1",
	}, nil
}

type transferFixture struct {
	wallets *fakeWalletSvc
	ledger  *fakeLedger
	users   *fakeUsers
	outbox  *fakeOutbox
	gateway *fakeGateway
	svc     Service
	now     time.Time
}

func newTransferFixture(t *testing.T) *transferFixture {
	t.Helper()

	f := &transferFixture{
		wallets: newFakeWalletSvc(),
		ledger:  newFakeLedger(),
		users: &fakeUsers{
			known:      map[uuid.UUID]bool{},
			byEmail:    map[string]uuid.UUID{},
			byUsername: map[string]uuid.UUID{},
		},
		outbox:  &fakeOutbox{},
		gateway: &fakeGateway{},
		now:     time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(ServiceParams{
		Wallets: f.wallets,
		Ledger:  f.ledger,
		Users:   f.users,
		Outbox:  f.outbox,
		Gateway: f.gateway,
		Tx:      fakeTxRunner{},
		Now:     func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func TestSendCrossLinksBothLegs(t *testing.T) {
	f := newTransferFixture(t)
	sender := uuid.New()
	recipient := uuid.New()
	f.users.known[recipient] = true
	f.wallets.seed(sender, "100.00")
	f.wallets.seed(recipient, "0.00")

	result, err := f.svc.Send(context.Background(), SendInput{
		SenderID:    sender,
		RecipientID: recipient,
		Amount:      decimal.RequireFromString("40.00"),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if result.SentTransaction.Type != enums.TransactionTypeSent {
		t.Fatalf("unexpected sent leg type %s", result.SentTransaction.Type)
	}
	if result.ReceivedTransaction.Type != enums.TransactionTypeReceived {
		t.Fatalf("unexpected received leg type %s", result.ReceivedTransaction.Type)
	}
	if result.SentTransaction.RelatedTransactionID == nil ||
		*result.SentTransaction.RelatedTransactionID != result.ReceivedTransaction.ID {
		t.Fatalf("sent leg not linked to received leg")
	}
	if result.ReceivedTransaction.RelatedTransactionID == nil ||
		*result.ReceivedTransaction.RelatedTransactionID != result.SentTransaction.ID {
		t.Fatalf("received leg not linked to sent leg")
	}
	if len(f.wallets.adds) != 1 || f.wallets.adds[0].Category != enums.FundCategoryTransfer {
		t.Fatalf("recipient credit must use the transfer category")
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventTransferCompleted {
		t.Fatalf("transfer completed event not emitted")
	}
	if len(f.wallets.lockPairs) != 1 ||
		f.wallets.lockPairs[0] != [2]uuid.UUID{sender, recipient} {
		t.Fatalf("both wallets must be pair-locked before funds move")
	}
}

func TestSendValidations(t *testing.T) {
	f := newTransferFixture(t)
	sender := uuid.New()
	f.wallets.seed(sender, "100.00")

	_, err := f.svc.Send(context.Background(), SendInput{SenderID: sender, RecipientID: sender, Amount: decimal.RequireFromString("1.00")})
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("self-send must fail validation, got %v", err)
	}

	_, err = f.svc.Send(context.Background(), SendInput{SenderID: sender, RecipientID: uuid.New(), Amount: decimal.Zero})
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("zero amount must fail validation, got %v", err)
	}

	_, err = f.svc.Send(context.Background(), SendInput{SenderID: sender, RecipientID: uuid.New(), Amount: decimal.RequireFromString("1.00")})
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("unknown recipient must be not found, got %v", err)
	}
}

func TestSendResolvesRecipientHandle(t *testing.T) {
	f := newTransferFixture(t)
	sender := uuid.New()
	recipient := uuid.New()
	f.wallets.seed(sender, "100.00")
	f.wallets.seed(recipient, "0.00")
	f.users.byEmail["rosa@tlb-diamond.com"] = recipient
	f.users.byUsername["rosa"] = recipient

	for _, handle := range []string{"rosa@tlb-diamond.com", "rosa"} {
		result, err := f.svc.Send(context.Background(), SendInput{
			SenderID:  sender,
			Recipient: handle,
			Amount:    decimal.RequireFromString("5.00"),
		})
		if err != nil {
			t.Fatalf("send to %q: %v", handle, err)
		}
		if result.ReceivedTransaction.UserID != recipient {
			t.Fatalf("handle %q resolved to %s, expected %s", handle, result.ReceivedTransaction.UserID, recipient)
		}
	}

	_, err := f.svc.Send(context.Background(), SendInput{
		SenderID:  sender,
		Recipient: "nobody",
		Amount:    decimal.RequireFromString("5.00"),
	})
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("unknown handle must be not found, got %v", err)
	}

	_, err = f.svc.Send(context.Background(), SendInput{
		SenderID: sender,
		Amount:   decimal.RequireFromString("5.00"),
	})
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("missing recipient must fail validation, got %v", err)
	}
}

func TestSendPropagatesInsufficientFunds(t *testing.T) {
	f := newTransferFixture(t)
	sender := uuid.New()
	recipient := uuid.New()
	f.users.known[recipient] = true
	f.wallets.seed(sender, "5.00")
	f.wallets.seed(recipient, "0.00")
	f.wallets.debitErr = pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient available balance")

	_, err := f.svc.Send(context.Background(), SendInput{
		SenderID:    sender,
		RecipientID: recipient,
		Amount:      decimal.RequireFromString("10.00"),
	})
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if len(f.wallets.adds) != 0 {
		t.Fatalf("recipient must not be credited on a failed debit")
	}
	if len(f.outbox.events) != 0 {
		t.Fatalf("no event on a failed transfer")
	}
}

func TestRequestMoneyCreatesInertRow(t *testing.T) {
	f := newTransferFixture(t)
	requester := uuid.New()
	recipient := uuid.New()
	f.users.known[recipient] = true
	wallet := f.wallets.seed(requester, "75.00")

	txn, err := f.svc.RequestMoney(context.Background(), RequestInput{
		RequesterID: requester,
		RecipientID: recipient,
		Amount:      decimal.RequireFromString("30.00"),
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if txn.Type != enums.TransactionTypeRequest || txn.Status != enums.TransactionStatusPending {
		t.Fatalf("unexpected row %s/%s", txn.Type, txn.Status)
	}
	if !txn.BalanceBefore.Equal(txn.BalanceAfter) {
		t.Fatalf("request must not move funds")
	}
	if !wallet.AvailableBalance.Equal(decimal.RequireFromString("75.00")) {
		t.Fatalf("wallet balance changed on a request")
	}
	if txn.RelatedUserID == nil || *txn.RelatedUserID != recipient {
		t.Fatalf("counterparty not recorded")
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventMoneyRequested {
		t.Fatalf("money requested event not emitted")
	}
}

func TestInitiateTopupRecordsGatewayRef(t *testing.T) {
	f := newTransferFixture(t)
	userID := uuid.New()
	f.wallets.seed(userID, "0.00")

	result, err := f.svc.InitiateTopup(context.Background(), TopupInput{
		UserID: userID,
		Amount: decimal.RequireFromString("50.00"),
		Method: enums.TopupMethodCard,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.Transaction.Status != enums.TransactionStatusPending {
		t.Fatalf("topup row must start pending, got %s", result.Transaction.Status)
	}
	if f.gateway.lastParams.Reference != result.Transaction.Reference {
		t.Fatalf("gateway charge must carry the ledger reference")
	}
	var meta topupMetadata
	if err := json.Unmarshal(result.Transaction.Metadata, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta.GatewayRef != result.GatewayRef || meta.Method != enums.TopupMethodCard {
		t.Fatalf("metadata missing gateway details: %+v", meta)
	}
	if result.RedirectURL == "" {
		t.Fatalf("redirect url not surfaced")
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventTopupInitiated {
		t.Fatalf("topup initiated event not emitted")
	}
}

func TestCompleteTopupCreditsExactlyOnce(t *testing.T) {
	f := newTransferFixture(t)
	userID := uuid.New()
	f.wallets.seed(userID, "0.00")

	initiated, err := f.svc.InitiateTopup(context.Background(), TopupInput{
		UserID: userID,
		Amount: decimal.RequireFromString("50.00"),
		Method: enums.TopupMethodCard,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.outbox.events = nil

	settled, err := f.svc.CompleteTopup(context.Background(), initiated.Transaction.Reference, initiated.GatewayRef)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if settled.Status != enums.TransactionStatusCompleted || settled.ProcessedAt == nil {
		t.Fatalf("topup not settled: %s", settled.Status)
	}
	if len(f.wallets.credits) != 1 {
		t.Fatalf("expected one wallet credit, got %d", len(f.wallets.credits))
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventTopupCompleted {
		t.Fatalf("topup completed event not emitted")
	}

	// Webhook redelivery: no second credit, no second event.
	again, err := f.svc.CompleteTopup(context.Background(), initiated.Transaction.Reference, initiated.GatewayRef)
	if err != nil {
		t.Fatalf("redelivered complete: %v", err)
	}
	if again.Status != enums.TransactionStatusCompleted {
		t.Fatalf("unexpected status %s", again.Status)
	}
	if len(f.wallets.credits) != 1 || len(f.outbox.events) != 1 {
		t.Fatalf("redelivery must be a no-op")
	}
}

func TestFailTopup(t *testing.T) {
	f := newTransferFixture(t)
	userID := uuid.New()
	f.wallets.seed(userID, "0.00")

	initiated, err := f.svc.InitiateTopup(context.Background(), TopupInput{
		UserID: userID,
		Amount: decimal.RequireFromString("50.00"),
		Method: enums.TopupMethodCard,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.outbox.events = nil

	failed, err := f.svc.FailTopup(context.Background(), initiated.Transaction.Reference, "card declined")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != enums.TransactionStatusFailed {
		t.Fatalf("unexpected status %s", failed.Status)
	}
	if len(f.wallets.credits) != 0 {
		t.Fatalf("failed topup must not credit the wallet")
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventTopupFailed {
		t.Fatalf("topup failed event not emitted")
	}

	// Redelivery is a no-op; completion after failure conflicts.
	if _, err := f.svc.FailTopup(context.Background(), initiated.Transaction.Reference, "card declined"); err != nil {
		t.Fatalf("redelivered fail: %v", err)
	}
	_, err = f.svc.CompleteTopup(context.Background(), initiated.Transaction.Reference, initiated.GatewayRef)
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("completing a failed topup must conflict, got %v", err)
	}
}

func TestFailTopupRefusesSettledTopup(t *testing.T) {
	f := newTransferFixture(t)
	userID := uuid.New()
	f.wallets.seed(userID, "0.00")

	initiated, err := f.svc.InitiateTopup(context.Background(), TopupInput{
		UserID: userID,
		Amount: decimal.RequireFromString("50.00"),
		Method: enums.TopupMethodCard,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.svc.CompleteTopup(context.Background(), initiated.Transaction.Reference, initiated.GatewayRef); err != nil {
		t.Fatalf("complete: %v", err)
	}
	f.outbox.events = nil

	// A late charge.failed webhook for a settled topup must not unwind it.
	_, err = f.svc.FailTopup(context.Background(), initiated.Transaction.Reference, "late decline")
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("failing a completed topup must conflict, got %v", err)
	}
	txn, err := f.ledger.GetByReference(context.Background(), initiated.Transaction.Reference)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if txn.Status != enums.TransactionStatusCompleted {
		t.Fatalf("settled topup was unwound to %s", txn.Status)
	}
	if len(f.outbox.events) != 0 {
		t.Fatalf("no event may be emitted for the refused failure")
	}
}

func TestTimeoutStaleTopups(t *testing.T) {
	f := newTransferFixture(t)
	userID := uuid.New()
	f.wallets.seed(userID, "0.00")

	first, err := f.svc.InitiateTopup(context.Background(), TopupInput{
		UserID: userID, Amount: decimal.RequireFromString("10.00"), Method: enums.TopupMethodCard,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	second, err := f.svc.InitiateTopup(context.Background(), TopupInput{
		UserID: userID, Amount: decimal.RequireFromString("20.00"), Method: enums.TopupMethodCard,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.ledger.stale = []models.Transaction{*first.Transaction, *second.Transaction}

	count, err := f.svc.TimeoutStaleTopups(context.Background(), time.Hour, 100)
	if err != nil {
		t.Fatalf("timeout sweep: %v", err)
	}
	if count != 2 {
		t.Fatalf("unexpected fail count %d", count)
	}
	for _, ref := range []string{first.Transaction.Reference, second.Transaction.Reference} {
		txn, err := f.ledger.GetByReference(context.Background(), ref)
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if txn.Status != enums.TransactionStatusFailed {
			t.Fatalf("stale topup not failed: %s", txn.Status)
		}
	}
}
