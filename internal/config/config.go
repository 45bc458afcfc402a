package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	ProviderBaaS  = "baas"
	ProviderLocal = "local"
)

// Config holds the application configuration
type Config struct {
	Env         string
	LogLevel    string
	Port        string
	DatabaseURL string
	RedisURL    string

	// Pepper mixed into the derived phone password. Never logged.
	PasswordPepper string

	IdentityProvider   string
	BaaSURL            string
	BaaSAnonKey        string
	BaaSServiceRoleKey string

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	OTPTTL     time.Duration
	OTPDevMode bool

	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioWhatsAppFrom string

	DemoPhone          string
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables. Missing secrets are a
// fatal startup condition, so every required variable is checked here.
func Load() (*Config, error) {
	cfg := &Config{
		Env:                getenv("APP_ENV", "development"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		Port:               getenv("PORT", "8080"),
		IdentityProvider:   strings.ToLower(getenv("IDENTITY_PROVIDER", ProviderBaaS)),
		RedisURL:           os.Getenv("REDIS_URL"),
		DemoPhone:          strings.TrimSpace(os.Getenv("DEMO_PHONE")),
		OTPDevMode:         os.Getenv("OTP_DEV_MODE") == "true",
		CORSAllowedOrigins: splitList(getenv("CORS_ALLOWED_ORIGINS", "*")),
	}

	var err error
	if cfg.DatabaseURL, err = requireEnv("DATABASE_URL"); err != nil {
		return nil, err
	}
	if cfg.PasswordPepper, err = requireEnv("PHONE_PASSWORD_PEPPER"); err != nil {
		return nil, err
	}

	switch cfg.IdentityProvider {
	case ProviderBaaS:
		if cfg.BaaSURL, err = requireEnv("BAAS_URL"); err != nil {
			return nil, err
		}
		if _, err := url.ParseRequestURI(cfg.BaaSURL); err != nil {
			return nil, fmt.Errorf("BAAS_URL is not a valid URL: %w", err)
		}
		cfg.BaaSURL = strings.TrimRight(cfg.BaaSURL, "/")
		if cfg.BaaSAnonKey, err = requireEnv("BAAS_ANON_KEY"); err != nil {
			return nil, err
		}
		if cfg.BaaSServiceRoleKey, err = requireEnv("BAAS_SERVICE_ROLE_KEY"); err != nil {
			return nil, err
		}
	case ProviderLocal:
		if cfg.JWTSecret, err = requireEnv("JWT_SECRET"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("IDENTITY_PROVIDER must be %q or %q, got %q", ProviderBaaS, ProviderLocal, cfg.IdentityProvider)
	}

	if cfg.AccessTokenTTL, err = duration("ACCESS_TOKEN_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = duration("REFRESH_TOKEN_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.OTPTTL, err = duration("OTP_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	cfg.TwilioAccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	cfg.TwilioAuthToken = strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN"))
	cfg.TwilioWhatsAppFrom = strings.TrimSpace(os.Getenv("TWILIO_WHATSAPP_FROM"))

	// Twilio credentials are only optional when codes are echoed in dev mode
	if !cfg.OTPDevMode {
		for _, key := range []string{"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_WHATSAPP_FROM"} {
			if _, err := requireEnv(key); err != nil {
				return nil, err
			}
		}
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production defaults
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DemoEnabled reports whether the demo login endpoint is served
func (c *Config) DemoEnabled() bool {
	return c.DemoPhone != ""
}

func requireEnv(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("%s environment variable is required", key)
	}
	return v, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. 5m): %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
