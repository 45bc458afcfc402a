package model

import (
	"time"

	"github.com/google/uuid"
)

// OtpRecord represents one issued one-time code for a phone number
type OtpRecord struct {
	ID         uuid.UUID
	Phone      string
	Code       string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	VerifiedAt *time.Time
	RequestIP  *string
}

// Account represents an identity held by the local identity provider
type Account struct {
	ID               uuid.UUID
	Phone            string
	PasswordHash     string
	PhoneConfirmedAt *time.Time
	CreatedAt        time.Time
}

// RefreshSession represents a refresh token session
type RefreshSession struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
}
