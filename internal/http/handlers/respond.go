package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Error codes returned next to the short error string
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeOTPNotFound        = "OTP_NOT_FOUND"
	CodeOTPInvalid         = "OTP_INVALID"
	CodeOTPExpired         = "OTP_EXPIRED"
	CodeSignInFailed       = "SIGN_IN_FAILED"
	CodeProvisioningFailed = "PROVISIONING_FAILED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeSendFailed         = "SEND_FAILED"
	CodeDemoDisabled       = "DEMO_DISABLED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeUnexpected         = "UNEXPECTED"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeAndValidate reads a JSON body into dst and checks its validate tags
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

func respondWithJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message, code string) {
	_ = respondWithJSON(w, statusCode, errorResponse{Error: message, Code: code})
}
