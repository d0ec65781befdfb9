package auth

import (
	"github.com/google/uuid"

	"github.com/tlb-diamond/tlbd-backend/internal/users"
)

// LoginRequest captures the user credentials sent to the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse contains the tokens and user produced by a successful login.
type LoginResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	User         *users.UserDTO `json:"user"`
}

// RegisterRequest contains the payload required for signing up a new member.
type RegisterRequest struct {
	FirstName    string  `json:"first_name" validate:"required"`
	LastName     string  `json:"last_name" validate:"required"`
	Email        string  `json:"email" validate:"required,email"`
	Username     string  `json:"username" validate:"required,min=3,max=32"`
	Password     string  `json:"password" validate:"required,min=8"`
	Phone        *string `json:"phone,omitempty"`
	ReferralCode *string `json:"referral_code,omitempty"`
	AcceptTOS    bool    `json:"accept_tos"`
}

// RegisterResponse returns the created user alongside their provisioned wallet.
type RegisterResponse struct {
	User     *users.UserDTO `json:"user"`
	WalletID uuid.UUID      `json:"wallet_id"`
}
