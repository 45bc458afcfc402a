package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zooz/otpauth/internal/model"
)

// RefreshRepo defines the interface for refresh session repository operations
type RefreshRepo interface {
	Create(ctx context.Context, accountID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error)
	FindByTokenHashIncludeRevoked(ctx context.Context, tokenHash string) (model.RefreshSession, error)
	RevokeAndSetReplacedBy(ctx context.Context, sessionID uuid.UUID, replacedBy uuid.UUID) error
	RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) error
}

type refreshRepo struct {
	db *sql.DB
}

// NewRefreshRepo creates a new RefreshRepo instance
func NewRefreshRepo(db *sql.DB) RefreshRepo {
	return &refreshRepo{db: db}
}

// Create inserts a new refresh session
func (r *refreshRepo) Create(ctx context.Context, accountID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO refresh_sessions (account_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, accountID, tokenHash, expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert refresh session: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse session ID: %w", err)
	}
	return id, nil
}

// FindByTokenHashIncludeRevoked returns the session regardless of revocation status (used for reuse detection)
func (r *refreshRepo) FindByTokenHashIncludeRevoked(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var s model.RefreshSession
	var idStr, accountIDStr string
	var replacedByStr sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, token_hash, created_at, expires_at, revoked_at, replaced_by
		FROM refresh_sessions
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&idStr,
		&accountIDStr,
		&s.TokenHash,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.RevokedAt,
		&replacedByStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshSession{}, ErrNotFound
		}
		return model.RefreshSession{}, fmt.Errorf("find session: %w", err)
	}
	if s.ID, err = uuid.Parse(idStr); err != nil {
		return model.RefreshSession{}, fmt.Errorf("parse session ID: %w", err)
	}
	if s.AccountID, err = uuid.Parse(accountIDStr); err != nil {
		return model.RefreshSession{}, fmt.Errorf("parse account ID: %w", err)
	}
	if replacedByStr.Valid && replacedByStr.String != "" {
		u, err := uuid.Parse(replacedByStr.String)
		if err != nil {
			return model.RefreshSession{}, fmt.Errorf("parse replaced_by: %w", err)
		}
		s.ReplacedBy = &u
	}
	return s, nil
}

// RevokeAndSetReplacedBy sets revoked_at and replaced_by for a session that is
// still active. ErrNotFound means a concurrent rotation won.
func (r *refreshRepo) RevokeAndSetReplacedBy(ctx context.Context, sessionID uuid.UUID, replacedBy uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions
		SET revoked_at = now(), replaced_by = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, sessionID, replacedBy)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return expectOneRow(result)
}

// RevokeAllForAccount revokes all active refresh sessions for an account (reuse/theft response)
func (r *refreshRepo) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = now() WHERE account_id = $1 AND revoked_at IS NULL
	`, accountID)
	if err != nil {
		return fmt.Errorf("revoke all sessions for account: %w", err)
	}
	return nil
}
