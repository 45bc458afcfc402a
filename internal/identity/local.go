package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zooz/otpauth/internal/model"
	"github.com/zooz/otpauth/internal/repo"
	"golang.org/x/crypto/bcrypt"
)

// LocalProvider keeps accounts in Postgres and issues its own JWT sessions
type LocalProvider struct {
	accounts   repo.AccountRepo
	sessions   repo.RefreshRepo
	jwt        *JWTService
	refreshTTL time.Duration
	now        func() time.Time
}

// NewLocalProvider creates a new local identity provider
func NewLocalProvider(accounts repo.AccountRepo, sessions repo.RefreshRepo, jwtService *JWTService, refreshTTL time.Duration) *LocalProvider {
	return &LocalProvider{
		accounts:   accounts,
		sessions:   sessions,
		jwt:        jwtService,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// CreateAccount stores a phone-confirmed account with a bcrypt hash of the password
func (p *LocalProvider) CreateAccount(ctx context.Context, phone, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	acc, created, err := p.accounts.CreateIfAbsent(ctx, phone, string(hash))
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if !created {
		return nil, ErrAccountExists
	}
	user := userFromAccount(acc)
	return &user, nil
}

// SignInWithPassword checks the password and issues a fresh session
func (p *LocalProvider) SignInWithPassword(ctx context.Context, phone, password string) (*Session, error) {
	acc, err := p.accounts.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	session, _, err := p.issueSession(ctx, acc)
	return session, err
}

// RefreshSession rotates a refresh token. Presenting an already rotated token
// revokes every session of the account.
func (p *LocalProvider) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	stored, err := p.sessions.FindByTokenHashIncludeRevoked(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find refresh session: %w", err)
	}

	if stored.RevokedAt != nil {
		if err := p.sessions.RevokeAllForAccount(ctx, stored.AccountID); err != nil {
			return nil, fmt.Errorf("revoke sessions after reuse: %w", err)
		}
		return nil, ErrRefreshTokenReuseDetected
	}
	if !p.now().Before(stored.ExpiresAt) {
		return nil, ErrInvalidCredentials
	}

	acc, err := p.accounts.GetByID(ctx, stored.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	session, newID, err := p.issueSession(ctx, acc)
	if err != nil {
		return nil, err
	}
	if err := p.sessions.RevokeAndSetReplacedBy(ctx, stored.ID, newID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// a concurrent refresh rotated the same token first
			if revokeErr := p.sessions.RevokeAllForAccount(ctx, stored.AccountID); revokeErr != nil {
				return nil, fmt.Errorf("revoke sessions after reuse: %w", revokeErr)
			}
			return nil, ErrRefreshTokenReuseDetected
		}
		return nil, fmt.Errorf("rotate refresh session: %w", err)
	}
	return session, nil
}

// GetUser validates an access token and loads its account
func (p *LocalProvider) GetUser(ctx context.Context, accessToken string) (*User, error) {
	claims, err := p.jwt.VerifyToken(accessToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	acc, err := p.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	user := userFromAccount(acc)
	return &user, nil
}

func (p *LocalProvider) issueSession(ctx context.Context, acc model.Account) (*Session, uuid.UUID, error) {
	now := p.now()
	accessToken, err := p.jwt.SignAccessToken(acc.ID, acc.Phone, now)
	if err != nil {
		return nil, uuid.Nil, err
	}
	refreshToken, refreshHash, err := GenerateRefreshToken()
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("generate refresh token: %w", err)
	}
	sessionID, err := p.sessions.Create(ctx, acc.ID, refreshHash, now.Add(p.refreshTTL))
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("store refresh session: %w", err)
	}

	ttl := p.jwt.TTL()
	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(ttl.Seconds()),
		ExpiresAt:    now.Add(ttl).Unix(),
		TokenType:    "bearer",
		User:         userFromAccount(acc),
	}, sessionID, nil
}

func userFromAccount(acc model.Account) User {
	return User{
		ID:               acc.ID.String(),
		Phone:            acc.Phone,
		Role:             "authenticated",
		PhoneConfirmedAt: acc.PhoneConfirmedAt,
		CreatedAt:        acc.CreatedAt,
	}
}
