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

// ErrNotFound is returned when a lookup or conditional update matches no row
var ErrNotFound = errors.New("not found")

// OtpRepo defines the interface for OTP record repository operations
type OtpRepo interface {
	Create(ctx context.Context, phone, code string, expiresAt time.Time, requestIP *string) (model.OtpRecord, error)
	Latest(ctx context.Context, phone string) (model.OtpRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
	MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error
	CountRecent(ctx context.Context, phone string, since time.Time) (int, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

// Create inserts a new OTP record. Earlier records for the phone are left as is;
// lookups always take the newest one.
func (r *otpRepo) Create(ctx context.Context, phone, code string, expiresAt time.Time, requestIP *string) (model.OtpRecord, error) {
	rec := model.OtpRecord{
		Phone:     phone,
		Code:      code,
		ExpiresAt: expiresAt,
		RequestIP: requestIP,
	}
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO otp_codes (phone, code, expires_at, request_ip)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, phone, code, expiresAt, requestIP).Scan(&idStr, &rec.CreatedAt)
	if err != nil {
		return model.OtpRecord{}, fmt.Errorf("insert otp: %w", err)
	}
	rec.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.OtpRecord{}, fmt.Errorf("parse otp ID: %w", err)
	}
	return rec, nil
}

// Latest returns the newest OTP record for the phone. Expired and soft-consumed
// rows are returned so the caller can classify them; an older row never
// becomes current once a newer one exists.
func (r *otpRepo) Latest(ctx context.Context, phone string) (model.OtpRecord, error) {
	var rec model.OtpRecord
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, phone, code, created_at, expires_at, verified_at, request_ip
		FROM otp_codes
		WHERE phone = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, phone).Scan(
		&idStr,
		&rec.Phone,
		&rec.Code,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.VerifiedAt,
		&rec.RequestIP,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpRecord{}, ErrNotFound
		}
		return model.OtpRecord{}, fmt.Errorf("query otp: %w", err)
	}

	rec.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.OtpRecord{}, fmt.Errorf("parse otp ID: %w", err)
	}
	return rec, nil
}

// Delete removes the record (hard consumption). ErrNotFound means another
// request consumed it first.
func (r *otpRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return expectOneRow(result)
}

// MarkVerified stamps verified_at only if the record is still unverified.
func (r *otpRepo) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otp_codes SET verified_at = $2
		WHERE id = $1 AND verified_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark otp verified: %w", err)
	}
	return expectOneRow(result)
}

// CountRecent returns the number of codes issued for the phone since the given time (for rate limiting).
func (r *otpRepo) CountRecent(ctx context.Context, phone string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM otp_codes
		WHERE phone = $1 AND created_at >= $2
	`, phone, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent otps: %w", err)
	}
	return count, nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
