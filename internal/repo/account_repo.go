package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/zooz/otpauth/internal/model"
)

// AccountRepo defines the interface for local account repository operations
type AccountRepo interface {
	CreateIfAbsent(ctx context.Context, phone, passwordHash string) (model.Account, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Account, error)
	GetByPhone(ctx context.Context, phone string) (model.Account, error)
}

type accountRepo struct {
	db *sql.DB
}

// NewAccountRepo creates a new AccountRepo instance
func NewAccountRepo(db *sql.DB) AccountRepo {
	return &accountRepo{db: db}
}

// CreateIfAbsent inserts a phone-confirmed account. The boolean is false when an
// account for the phone already existed; the insert is a single atomic statement
// so concurrent callers never both create.
func (r *accountRepo) CreateIfAbsent(ctx context.Context, phone, passwordHash string) (model.Account, bool, error) {
	var acc model.Account
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (phone, password_hash, phone_confirmed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (phone) DO NOTHING
		RETURNING id, phone, password_hash, phone_confirmed_at, created_at
	`, phone, passwordHash).Scan(
		&idStr,
		&acc.Phone,
		&acc.PasswordHash,
		&acc.PhoneConfirmedAt,
		&acc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			existing, getErr := r.GetByPhone(ctx, phone)
			if getErr != nil {
				return model.Account{}, false, getErr
			}
			return existing, false, nil
		}
		return model.Account{}, false, fmt.Errorf("failed to insert account: %w", err)
	}
	acc.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Account{}, false, fmt.Errorf("failed to parse account ID: %w", err)
	}
	return acc, true, nil
}

// GetByID retrieves an account by ID
func (r *accountRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Account, error) {
	return r.getOne(ctx, `
		SELECT id, phone, password_hash, phone_confirmed_at, created_at
		FROM accounts
		WHERE id = $1
	`, id)
}

// GetByPhone retrieves an account by phone number
func (r *accountRepo) GetByPhone(ctx context.Context, phone string) (model.Account, error) {
	return r.getOne(ctx, `
		SELECT id, phone, password_hash, phone_confirmed_at, created_at
		FROM accounts
		WHERE phone = $1
	`, phone)
}

func (r *accountRepo) getOne(ctx context.Context, query string, arg any) (model.Account, error) {
	var acc model.Account
	var idStr string
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&idStr,
		&acc.Phone,
		&acc.PasswordHash,
		&acc.PhoneConfirmedAt,
		&acc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, fmt.Errorf("failed to query account: %w", err)
	}
	acc.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Account{}, fmt.Errorf("failed to parse account ID: %w", err)
	}
	return acc, nil
}
