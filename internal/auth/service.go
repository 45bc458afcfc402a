package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/zooz/otpauth/internal/identity"
	"github.com/zooz/otpauth/internal/logger"
	"github.com/zooz/otpauth/internal/messaging"
	"github.com/zooz/otpauth/internal/model"
	"github.com/zooz/otpauth/internal/repo"
	"go.uber.org/zap"
)

const (
	otpDigits       = 6
	maxOTPPerWindow = 3
	otpWindow       = 10 * time.Minute
)

// Options configures the AuthService
type Options struct {
	Pepper    string
	OTPTTL    time.Duration
	DevMode   bool
	DemoPhone string
}

// AuthService orchestrates OTP issuance, verification and session issuance
type AuthService struct {
	otps     repo.OtpRepo
	provider identity.Provider
	sender   messaging.Sender
	log      *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(
	otps repo.OtpRepo,
	provider identity.Provider,
	sender messaging.Sender,
	log *zap.Logger,
	opts Options,
) *AuthService {
	return &AuthService{
		otps:     otps,
		provider: provider,
		sender:   sender,
		log:      log.With(zap.String("component", "auth_service")),
		opts:     opts,
		now:      time.Now,
	}
}

// RequestOTP issues a new code for phone and delivers it. The code is returned
// only in dev mode.
func (s *AuthService) RequestOTP(ctx context.Context, phone, ip string) (string, error) {
	if phone == "" {
		return "", ErrBadRequest
	}
	log := s.log.With(logger.Phone(phone))
	now := s.now()

	count, err := s.otps.CountRecent(ctx, phone, now.Add(-otpWindow))
	if err != nil {
		return "", wrap(ErrUnexpected, err)
	}
	if count >= maxOTPPerWindow {
		log.Info("otp request rate limited", zap.Int("recent", count))
		return "", ErrRateLimited
	}

	code, err := generateCode(otpDigits)
	if err != nil {
		return "", wrap(ErrUnexpected, fmt.Errorf("generate code: %w", err))
	}

	var requestIP *string
	if ip != "" {
		requestIP = &ip
	}
	rec, err := s.otps.Create(ctx, phone, code, now.Add(s.opts.OTPTTL), requestIP)
	if err != nil {
		return "", wrap(ErrUnexpected, err)
	}
	log = log.With(zap.String("otp_id", rec.ID.String()))

	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.opts.OTPTTL.Minutes()))
	if err := s.sender.Send(ctx, phone, body); err != nil {
		log.Warn("otp delivery failed", zap.Error(err))
		return "", wrap(ErrSendFailed, err)
	}
	log.Info("otp issued", zap.Time("expires_at", rec.ExpiresAt))

	if s.opts.DevMode {
		return code, nil
	}
	return "", nil
}

// VerifyOnly validates the code and deletes the record on success.
func (s *AuthService) VerifyOnly(ctx context.Context, phone, code string) error {
	rec, err := s.lookupAndValidate(ctx, phone, code)
	if err != nil {
		return err
	}
	log := s.log.With(logger.Phone(phone), zap.String("otp_id", rec.ID.String()))

	if err := s.otps.Delete(ctx, rec.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Info("otp consumed concurrently")
			return ErrOTPNotFound
		}
		return wrap(ErrUnexpected, err)
	}
	log.Info("otp verified and deleted")
	return nil
}

// VerifyAndLogin validates the code, marks the record verified, makes sure an
// account exists and signs in with the derived password.
func (s *AuthService) VerifyAndLogin(ctx context.Context, phone, code string) (*identity.Session, error) {
	rec, err := s.lookupAndValidate(ctx, phone, code)
	if err != nil {
		return nil, err
	}
	log := s.log.With(logger.Phone(phone), zap.String("otp_id", rec.ID.String()))

	if err := s.otps.MarkVerified(ctx, rec.ID, s.now()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Info("otp consumed concurrently")
			return nil, ErrOTPNotFound
		}
		return nil, wrap(ErrUnexpected, err)
	}
	log.Info("otp marked verified")

	return s.login(ctx, log, phone)
}

// DemoLogin signs in the configured demo phone without a code.
func (s *AuthService) DemoLogin(ctx context.Context) (*identity.Session, error) {
	if s.opts.DemoPhone == "" {
		return nil, ErrDemoDisabled
	}
	log := s.log.With(logger.Phone(s.opts.DemoPhone), zap.Bool("demo", true))
	return s.login(ctx, log, s.opts.DemoPhone)
}

// Refresh exchanges a refresh token for a new session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	if refreshToken == "" {
		return nil, ErrBadRequest
	}
	session, err := s.provider.RefreshSession(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrRefreshTokenReuseDetected) {
			s.log.Warn("refresh token reuse detected")
		}
		return nil, wrap(ErrUnauthorized, err)
	}
	return session, nil
}

// CurrentUser resolves the account behind an access token.
func (s *AuthService) CurrentUser(ctx context.Context, accessToken string) (*identity.User, error) {
	user, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		return nil, wrap(ErrUnauthorized, err)
	}
	return user, nil
}

func (s *AuthService) lookupAndValidate(ctx context.Context, phone, code string) (*model.OtpRecord, error) {
	if phone == "" || code == "" {
		return nil, ErrBadRequest
	}
	log := s.log.With(logger.Phone(phone))

	var rec *model.OtpRecord
	found, err := s.otps.Latest(ctx, phone)
	switch {
	case err == nil:
		rec = &found
	case !errors.Is(err, repo.ErrNotFound):
		log.Error("otp lookup failed", zap.Error(err))
		return nil, wrap(ErrUnexpected, err)
	}

	now := s.now()
	outcome := Validate(rec, code, now)
	if outcome != OutcomeOK {
		fields := []zap.Field{zap.Stringer("outcome", outcome)}
		if rec != nil {
			fields = append(fields,
				zap.String("otp_id", rec.ID.String()),
				zap.Time("created_at", rec.CreatedAt),
				zap.Time("expires_at", rec.ExpiresAt),
			)
		}
		log.Info("otp rejected", fields...)
		return nil, outcome.Err()
	}
	return rec, nil
}

func (s *AuthService) login(ctx context.Context, log *zap.Logger, phone string) (*identity.Session, error) {
	password := DerivePassword(phone, s.opts.Pepper)

	if err := s.ensureAccount(ctx, log, phone, password); err != nil {
		return nil, err
	}

	session, err := s.provider.SignInWithPassword(ctx, phone, password)
	if err != nil {
		log.Error("sign in failed", zap.Error(err))
		return nil, wrap(ErrSignInFailed, signInCause(err))
	}
	log.Info("session issued", zap.String("user_id", session.User.ID))
	return session, nil
}

// ensureAccount creates the account unless it already exists. Any failure other
// than a conflict aborts the login.
func (s *AuthService) ensureAccount(ctx context.Context, log *zap.Logger, phone, password string) error {
	_, err := s.provider.CreateAccount(ctx, phone, password)
	switch {
	case err == nil:
		log.Info("account provisioned")
		return nil
	case errors.Is(err, identity.ErrAccountExists):
		log.Debug("account already exists")
		return nil
	default:
		log.Error("account provisioning failed", zap.Error(err))
		return wrap(ErrProvisioningFailed, err)
	}
}

// signInCause keeps the provider message as the client facing cause.
func signInCause(err error) error {
	var perr *identity.ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		return errors.New(perr.Message)
	}
	return err
}

func generateCode(digits int) (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < digits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	s := n.String()
	return strings.Repeat("0", digits-len(s)) + s, nil
}
