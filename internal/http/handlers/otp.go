package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/zooz/otpauth/internal/auth"
	"github.com/zooz/otpauth/internal/identity"
	"github.com/zooz/otpauth/internal/logger"
	"github.com/zooz/otpauth/internal/middleware"
	"go.uber.org/zap"
)

// AuthService is the set of flows exposed over HTTP
type AuthService interface {
	RequestOTP(ctx context.Context, phone, ip string) (string, error)
	VerifyOnly(ctx context.Context, phone, code string) error
	VerifyAndLogin(ctx context.Context, phone, code string) (*identity.Session, error)
	DemoLogin(ctx context.Context) (*identity.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*identity.Session, error)
	CurrentUser(ctx context.Context, accessToken string) (*identity.User, error)
}

// OTPHandler handles the OTP function endpoints
type OTPHandler struct {
	svc AuthService
	log *zap.Logger
}

// NewOTPHandler creates a new OTP handler
func NewOTPHandler(svc AuthService, log *zap.Logger) *OTPHandler {
	return &OTPHandler{svc: svc, log: log}
}

type sendOTPRequest struct {
	Phone string `json:"phone" validate:"required"`
}

type sendOTPResponse struct {
	Success bool   `json:"success"`
	DevOTP  string `json:"dev_otp,omitempty"`
}

type verifyOTPRequest struct {
	Phone string `json:"phone" validate:"required"`
	OTP   string `json:"otp" validate:"required"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type failure struct {
	status  int
	message string
	code    string
}

// HandleSendOTP handles POST /functions/send-otp
func (h *OTPHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "phone required", CodeBadRequest)
		return
	}

	devOTP, err := h.svc.RequestOTP(r.Context(), req.Phone, middleware.ClientIP(r))
	if err != nil {
		f := failure{http.StatusInternalServerError, auth.Cause(err), CodeUnexpected}
		switch {
		case errors.Is(err, auth.ErrBadRequest):
			f = failure{http.StatusBadRequest, "phone required", CodeBadRequest}
		case errors.Is(err, auth.ErrRateLimited):
			f = failure{http.StatusTooManyRequests, "rate limit exceeded", CodeRateLimited}
		case errors.Is(err, auth.ErrSendFailed):
			f = failure{http.StatusBadGateway, "send_failed", CodeSendFailed}
		default:
			h.log.Error("send otp failed", logger.Phone(req.Phone), zap.Error(err))
		}
		respondWithError(w, f.status, f.message, f.code)
		return
	}

	h.encode(w, http.StatusOK, sendOTPResponse{Success: true, DevOTP: devOTP})
}

// HandleVerifyOTP handles POST /functions/verify-otp (verify only, record is deleted)
func (h *OTPHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "phone & otp required", CodeBadRequest)
		return
	}

	if err := h.svc.VerifyOnly(r.Context(), req.Phone, req.OTP); err != nil {
		f := verifyOnlyFailure(err)
		if f.code == CodeUnexpected {
			h.log.Error("verify otp failed", logger.Phone(req.Phone), zap.Error(err))
		}
		respondWithError(w, f.status, f.message, f.code)
		return
	}

	h.encode(w, http.StatusOK, successResponse{Success: true})
}

// HandleVerifyOTPLogin handles POST /functions/verify-otp-login
func (h *OTPHandler) HandleVerifyOTPLogin(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "phone & otp required", CodeBadRequest)
		return
	}

	session, err := h.svc.VerifyAndLogin(r.Context(), req.Phone, req.OTP)
	if err != nil {
		f := loginFailure(err)
		respondWithError(w, f.status, f.message, f.code)
		return
	}

	h.encode(w, http.StatusOK, session)
}

// HandleDemoLogin handles POST /functions/demo-login
func (h *OTPHandler) HandleDemoLogin(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.DemoLogin(r.Context())
	if err != nil {
		f := loginFailure(err)
		if errors.Is(err, auth.ErrDemoDisabled) {
			f = failure{http.StatusNotFound, "demo login disabled", CodeDemoDisabled}
		}
		respondWithError(w, f.status, f.message, f.code)
		return
	}

	h.encode(w, http.StatusOK, session)
}

func (h *OTPHandler) encode(w http.ResponseWriter, status int, v any) {
	if err := respondWithJSON(w, status, v); err != nil {
		h.log.Warn("failed to encode response", zap.Error(err))
	}
}

func verifyOnlyFailure(err error) failure {
	switch {
	case errors.Is(err, auth.ErrBadRequest):
		return failure{http.StatusBadRequest, "phone & otp required", CodeBadRequest}
	case errors.Is(err, auth.ErrOTPNotFound):
		return failure{http.StatusNotFound, "no otp found", CodeOTPNotFound}
	case errors.Is(err, auth.ErrOTPExpired):
		return failure{http.StatusBadRequest, "expired", CodeOTPExpired}
	case errors.Is(err, auth.ErrOTPInvalid):
		return failure{http.StatusBadRequest, "invalid", CodeOTPInvalid}
	}
	return failure{http.StatusInternalServerError, auth.Cause(err), CodeUnexpected}
}

func loginFailure(err error) failure {
	switch {
	case errors.Is(err, auth.ErrBadRequest):
		return failure{http.StatusBadRequest, "phone & otp required", CodeBadRequest}
	case errors.Is(err, auth.ErrOTPNotFound):
		return failure{http.StatusNotFound, "otp_not_found", CodeOTPNotFound}
	case errors.Is(err, auth.ErrOTPInvalid):
		return failure{http.StatusBadRequest, "otp_invalid", CodeOTPInvalid}
	case errors.Is(err, auth.ErrOTPExpired):
		return failure{http.StatusBadRequest, "otp_expired", CodeOTPExpired}
	case errors.Is(err, auth.ErrProvisioningFailed):
		return failure{http.StatusInternalServerError, "provisioning_failed", CodeProvisioningFailed}
	case errors.Is(err, auth.ErrSignInFailed):
		return failure{http.StatusInternalServerError, auth.Cause(err), CodeSignInFailed}
	}
	return failure{http.StatusInternalServerError, auth.Cause(err), CodeUnexpected}
}
