package tests

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zooz/otpauth/internal/db"
)

// RunMigrations applies the embedded migrations.
func RunMigrations(database *sql.DB) error {
	return db.Migrate(database)
}

// TruncateAuthTables truncates OTP and account tables for a clean test state.
func TruncateAuthTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, "TRUNCATE TABLE refresh_sessions, accounts, otp_codes RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate auth tables: %w", err)
	}
	return nil
}

// InsertOTP stores a code directly, bypassing issuance and delivery.
func InsertOTP(ctx context.Context, database *sql.DB, phone, code string, createdAt, expiresAt time.Time) error {
	_, err := database.ExecContext(ctx, `
		INSERT INTO otp_codes (phone, code, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, phone, code, createdAt, expiresAt)
	if err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}
	return nil
}
