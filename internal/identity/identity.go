// Package identity wraps the account store used to turn a verified phone number
// into a live session. The hosted BaaS auth API is the production backend; a
// Postgres-backed provider issues its own tokens for self-hosted deployments.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAccountExists is returned by CreateAccount when the phone is already registered.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidCredentials is returned when a password or token is rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRefreshTokenReuseDetected is returned when a rotated refresh token is presented again.
	ErrRefreshTokenReuseDetected = errors.New("refresh token reuse detected")
)

// Provider is the identity backend consumed by the OTP login flow.
type Provider interface {
	CreateAccount(ctx context.Context, phone, password string) (*User, error)
	SignInWithPassword(ctx context.Context, phone, password string) (*Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
	GetUser(ctx context.Context, accessToken string) (*User, error)
}

// User is the identity object returned to clients alongside the tokens
type User struct {
	ID               string     `json:"id"`
	Phone            string     `json:"phone"`
	Role             string     `json:"role,omitempty"`
	PhoneConfirmedAt *time.Time `json:"phone_confirmed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Session is the token bundle relayed to the client
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

// ProviderError carries the status and message reported by a remote provider
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider %d: %s", e.Status, e.Message)
}
