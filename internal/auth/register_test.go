package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tlb-diamond/tlbd-backend/internal/users"
	"github.com/tlb-diamond/tlbd-backend/pkg/config"
	pkgmodels "github.com/tlb-diamond/tlbd-backend/pkg/db/models"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
	"github.com/tlb-diamond/tlbd-backend/pkg/outbox"
	"github.com/tlb-diamond/tlbd-backend/pkg/outbox/payloads"
)

type stubTxRunner struct{}

func (s stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubUserRepository struct {
	byEmail    map[string]*pkgmodels.User
	byUsername map[string]*pkgmodels.User
	created    *pkgmodels.User
	createErr  error
}

func newStubUserRepository() *stubUserRepository {
	return &stubUserRepository{
		byEmail:    map[string]*pkgmodels.User{},
		byUsername: map[string]*pkgmodels.User{},
	}
}

func (s *stubUserRepository) add(user *pkgmodels.User) {
	s.byEmail[user.Email] = user
	s.byUsername[user.Username] = user
}

func (s *stubUserRepository) FindByEmail(ctx context.Context, email string) (*pkgmodels.User, error) {
	if user, ok := s.byEmail[email]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUserRepository) FindByUsername(ctx context.Context, username string) (*pkgmodels.User, error) {
	if user, ok := s.byUsername[username]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUserRepository) Create(ctx context.Context, dto users.CreateUserDTO) (*pkgmodels.User, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	user := dto.ToModel()
	user.ID = uuid.New()
	s.add(user)
	s.created = user
	return user, nil
}

type stubWallets struct {
	created map[uuid.UUID]uuid.UUID
	err     error
}

func (s *stubWallets) CreateForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*pkgmodels.Wallet, error) {
	if s.err != nil {
		return nil, s.err
	}
	walletID := uuid.New()
	if s.created == nil {
		s.created = map[uuid.UUID]uuid.UUID{}
	}
	s.created[userID] = walletID
	return &pkgmodels.Wallet{ID: walletID, UserID: userID}, nil
}

type stubBonuses struct {
	grantedFor []uuid.UUID
	err        error
}

func (s *stubBonuses) GrantWelcomeInTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*pkgmodels.Bonus, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.grantedFor = append(s.grantedFor, userID)
	return &pkgmodels.Bonus{ID: uuid.New(), RecipientID: userID}, nil
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type registerTestSetup struct {
	service  RegisterService
	userRepo *stubUserRepository
	wallets  *stubWallets
	bonuses  *stubBonuses
	outbox   *stubOutbox
}

func newRegisterTestSetup(t *testing.T) *registerTestSetup {
	t.Helper()
	userRepo := newStubUserRepository()
	wallets := &stubWallets{}
	bonuses := &stubBonuses{}
	events := &stubOutbox{}
	svc, err := NewRegisterService(RegisterServiceParams{
		TxRunner: stubTxRunner{},
		UserRepoFactory: func(tx *gorm.DB) RegisterUserRepository {
			return userRepo
		},
		Wallets:        wallets,
		Bonuses:        bonuses,
		Outbox:         events,
		PasswordConfig: config.PasswordConfig{},
	})
	if err != nil {
		t.Fatalf("new register service: %v", err)
	}
	return &registerTestSetup{
		service:  svc,
		userRepo: userRepo,
		wallets:  wallets,
		bonuses:  bonuses,
		outbox:   events,
	}
}

func sampleRegisterRequest(email, username string) RegisterRequest {
	return RegisterRequest{
		FirstName: "Jamie",
		LastName:  "Rivera",
		Email:     email,
		Username:  username,
		Password:  "Secret123!",
		AcceptTOS: true,
	}
}

func TestRegisterProvisionsWalletAndWelcomeBonus(t *testing.T) {
	setup := newRegisterTestSetup(t)

	resp, err := setup.service.Register(context.Background(), sampleRegisterRequest("new@example.com", "newbie"))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	created := setup.userRepo.created
	if created == nil {
		t.Fatalf("expected user to be created")
	}
	if created.Role != enums.UserRoleMember {
		t.Fatalf("expected member role, got %s", created.Role)
	}
	walletID, ok := setup.wallets.created[created.ID]
	if !ok {
		t.Fatalf("expected wallet provisioned for new user")
	}
	if resp.WalletID != walletID {
		t.Fatalf("response wallet id mismatch")
	}
	if len(setup.bonuses.grantedFor) != 1 || setup.bonuses.grantedFor[0] != created.ID {
		t.Fatalf("expected welcome bonus for new user")
	}
	if len(setup.outbox.events) != 1 {
		t.Fatalf("expected one registration event, got %d", len(setup.outbox.events))
	}
	event := setup.outbox.events[0]
	if event.EventType != enums.EventUserRegistered {
		t.Fatalf("unexpected event type %s", event.EventType)
	}
	payload, ok := event.Data.(payloads.UserRegisteredEvent)
	if !ok {
		t.Fatalf("unexpected event payload %T", event.Data)
	}
	if payload.WalletID != walletID {
		t.Fatalf("event wallet id mismatch")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	setup := newRegisterTestSetup(t)
	setup.userRepo.add(&pkgmodels.User{
		ID:       uuid.New(),
		Email:    "taken@example.com",
		Username: "taken",
	})

	_, err := setup.service.Register(context.Background(), sampleRegisterRequest("taken@example.com", "fresh"))
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}

	_, err = setup.service.Register(context.Background(), sampleRegisterRequest("fresh@example.com", "taken"))
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict for duplicate username, got %v", err)
	}

	if setup.userRepo.created != nil {
		t.Fatalf("expected no user creation on conflict")
	}
}

func TestRegisterResolvesReferralCode(t *testing.T) {
	setup := newRegisterTestSetup(t)
	referrer := &pkgmodels.User{
		ID:       uuid.New(),
		Email:    "referrer@example.com",
		Username: "referrer",
	}
	setup.userRepo.add(referrer)

	req := sampleRegisterRequest("new@example.com", "newbie")
	req.ReferralCode = strPtr("Referrer")

	if _, err := setup.service.Register(context.Background(), req); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	created := setup.userRepo.created
	if created.ReferredBy == nil || *created.ReferredBy != referrer.ID {
		t.Fatalf("expected referred_by to point at referrer")
	}
}

func TestRegisterRejectsUnknownReferralCode(t *testing.T) {
	setup := newRegisterTestSetup(t)

	req := sampleRegisterRequest("new@example.com", "newbie")
	req.ReferralCode = strPtr("nobody")

	_, err := setup.service.Register(context.Background(), req)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for unknown referral code, got %v", err)
	}
}

func TestRegisterRequiresAcceptedTOS(t *testing.T) {
	setup := newRegisterTestSetup(t)

	req := sampleRegisterRequest("new@example.com", "newbie")
	req.AcceptTOS = false

	_, err := setup.service.Register(context.Background(), req)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error without tos, got %v", err)
	}
	if len(setup.outbox.events) != 0 {
		t.Fatalf("expected no events on rejected signup")
	}
}
