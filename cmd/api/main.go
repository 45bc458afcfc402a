package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/zooz/otpauth/internal/auth"
	"github.com/zooz/otpauth/internal/config"
	"github.com/zooz/otpauth/internal/db"
	httphandler "github.com/zooz/otpauth/internal/http"
	"github.com/zooz/otpauth/internal/identity"
	"github.com/zooz/otpauth/internal/logger"
	"github.com/zooz/otpauth/internal/messaging"
	"github.com/zooz/otpauth/internal/middleware"
	"github.com/zooz/otpauth/internal/repo"
	"go.uber.org/zap"
)

const (
	sendWindow    = 10 * time.Minute
	sendPerIP     = 10
	verifyPerIP   = 20
	shutdownGrace = 10 * time.Second
)

func main() {
	// env vars override .env
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL, zl)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	provider, err := newProvider(cfg, database)
	if err != nil {
		return err
	}

	sender, err := newSender(cfg, zl)
	if err != nil {
		return err
	}

	sendLimiter, verifyLimiter, closeLimiters, err := newLimiters(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiters()

	authService := auth.NewAuthService(repo.NewOtpRepo(database), provider, sender, zl, auth.Options{
		Pepper:    cfg.PasswordPepper,
		OTPTTL:    cfg.OTPTTL,
		DevMode:   cfg.OTPDevMode,
		DemoPhone: cfg.DemoPhone,
	})

	router := httphandler.NewRouter(httphandler.RouterConfig{
		Service:        authService,
		Logger:         zl,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		SendLimiter:    sendLimiter,
		VerifyLimiter:  verifyLimiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if cfg.IsProduction() && cfg.OTPDevMode {
		zl.Warn("OTP_DEV_MODE is enabled in production; codes are returned to clients")
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("identity_provider", cfg.IdentityProvider),
			zap.Bool("otp_dev_mode", cfg.OTPDevMode),
			zap.Bool("demo_login", cfg.DemoEnabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}

	zl.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	zl.Info("server exited")
	return nil
}

func newProvider(cfg *config.Config, database *sql.DB) (identity.Provider, error) {
	switch cfg.IdentityProvider {
	case config.ProviderLocal:
		return identity.NewLocalProvider(
			repo.NewAccountRepo(database),
			repo.NewRefreshRepo(database),
			identity.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL),
			cfg.RefreshTokenTTL,
		), nil
	default:
		p, err := identity.NewBaaSProvider(identity.BaaSConfig{
			URL:            cfg.BaaSURL,
			AnonKey:        cfg.BaaSAnonKey,
			ServiceRoleKey: cfg.BaaSServiceRoleKey,
		})
		if err != nil {
			return nil, fmt.Errorf("baas provider: %w", err)
		}
		return p, nil
	}
}

func newSender(cfg *config.Config, zl *zap.Logger) (messaging.Sender, error) {
	if cfg.OTPDevMode && cfg.TwilioAccountSID == "" {
		return messaging.NewLogSender(zl), nil
	}
	s, err := messaging.NewWhatsAppSender(messaging.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioWhatsAppFrom,
	}, zl)
	if err != nil {
		return nil, fmt.Errorf("whatsapp sender: %w", err)
	}
	return s, nil
}

// newLimiters returns the per-IP limiters for issuance and verification,
// shared through Redis when REDIS_URL is set.
func newLimiters(ctx context.Context, cfg *config.Config) (send, verify middleware.Limiter, closeFn func(), err error) {
	if cfg.RedisURL == "" {
		s := middleware.NewRateLimiter(sendWindow, sendPerIP)
		v := middleware.NewRateLimiter(sendWindow, verifyPerIP)
		return s, v, func() { s.Close(); v.Close() }, nil
	}

	client, err := middleware.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	send = middleware.NewRedisRateLimiter(client, "send", sendWindow, sendPerIP)
	verify = middleware.NewRedisRateLimiter(client, "verify", sendWindow, verifyPerIP)
	return send, verify, func() { _ = client.Close() }, nil
}
