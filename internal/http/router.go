package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/zooz/otpauth/internal/http/handlers"
	"github.com/zooz/otpauth/internal/middleware"
	"go.uber.org/zap"
)

// RouterConfig carries everything the router wires together
type RouterConfig struct {
	Service        handlers.AuthService
	Logger         *zap.Logger
	AllowedOrigins []string
	SendLimiter    middleware.Limiter
	VerifyLimiter  middleware.Limiter
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "apikey", "x-client-info"},
		MaxAge:         300,
	}))

	otpHandler := handlers.NewOTPHandler(cfg.Service, cfg.Logger)
	sessionHandler := handlers.NewSessionHandler(cfg.Service, cfg.Logger)

	r.Get("/health", handlers.NewHealthHandler().ServeHTTP)

	r.Route("/functions", func(r chi.Router) {
		r.With(middleware.RateLimitMiddleware(cfg.SendLimiter, middleware.GetIPKey, cfg.Logger)).
			Post("/send-otp", otpHandler.HandleSendOTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitMiddleware(cfg.VerifyLimiter, middleware.GetIPKey, cfg.Logger))
			r.Post("/verify-otp", otpHandler.HandleVerifyOTP)
			r.Post("/verify-otp-login", otpHandler.HandleVerifyOTPLogin)
			r.Post("/demo-login", otpHandler.HandleDemoLogin)
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/refresh", sessionHandler.HandleRefresh)
	})

	// Protected routes (require a valid access token)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.Service))
		r.Get("/me", sessionHandler.HandleMe)
	})

	return r
}
