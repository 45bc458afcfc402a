package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// BaaSConfig holds the endpoint and keys of the hosted auth API
type BaaSConfig struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string
	HTTPClient     *http.Client
}

// BaaSProvider talks to a GoTrue-compatible auth API
type BaaSProvider struct {
	baseURL        string
	anonKey        string
	serviceRoleKey string
	client         *http.Client
}

// NewBaaSProvider validates the configuration and returns a provider
func NewBaaSProvider(cfg BaaSConfig) (*BaaSProvider, error) {
	if cfg.URL == "" || cfg.AnonKey == "" || cfg.ServiceRoleKey == "" {
		return nil, errors.New("baas provider requires URL, anon key and service role key")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &BaaSProvider{
		baseURL:        strings.TrimRight(cfg.URL, "/"),
		anonKey:        cfg.AnonKey,
		serviceRoleKey: cfg.ServiceRoleKey,
		client:         client,
	}, nil
}

type adminCreateUserRequest struct {
	Phone        string `json:"phone"`
	Password     string `json:"password"`
	PhoneConfirm bool   `json:"phone_confirm"`
}

type passwordGrantRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type refreshGrantRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// errorBody covers the error shapes the auth API has used across versions
type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// CreateAccount creates a phone-confirmed user through the admin API
func (p *BaaSProvider) CreateAccount(ctx context.Context, phone, password string) (*User, error) {
	body := adminCreateUserRequest{Phone: phone, Password: password, PhoneConfirm: true}
	var user User
	if err := p.do(ctx, http.MethodPost, "/auth/v1/admin/users", p.serviceRoleKey, p.serviceRoleKey, body, &user); err != nil {
		if isAlreadyRegistered(err) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &user, nil
}

// SignInWithPassword exchanges phone and password for a session
func (p *BaaSProvider) SignInWithPassword(ctx context.Context, phone, password string) (*Session, error) {
	var session Session
	err := p.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", p.anonKey, p.anonKey,
		passwordGrantRequest{Phone: phone, Password: password}, &session)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return &session, nil
}

// RefreshSession exchanges a refresh token for a new session
func (p *BaaSProvider) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	var session Session
	err := p.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", p.anonKey, p.anonKey,
		refreshGrantRequest{RefreshToken: refreshToken}, &session)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && perr.Status >= 400 && perr.Status < 500 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, perr.Message)
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return &session, nil
}

// GetUser resolves the user behind an access token
func (p *BaaSProvider) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := p.do(ctx, http.MethodGet, "/auth/v1/user", p.anonKey, accessToken, nil, &user); err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && (perr.Status == http.StatusUnauthorized || perr.Status == http.StatusForbidden) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// do sends a JSON request. The apikey header carries the project key; bearer is
// the key or user token the call is authorized with.
func (p *BaaSProvider) do(ctx context.Context, method, path, apiKey, bearer string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return decodeProviderError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeProviderError(status int, raw []byte) *ProviderError {
	perr := &ProviderError{Status: status}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		perr.Message = strings.TrimSpace(string(raw))
		if perr.Message == "" {
			perr.Message = http.StatusText(status)
		}
		return perr
	}
	perr.Code = body.ErrorCode
	if perr.Code == "" {
		if s, ok := body.Code.(string); ok {
			perr.Code = s
		}
	}
	for _, m := range []string{body.Msg, body.Message, body.ErrorDescription, body.Error} {
		if m != "" {
			perr.Message = m
			break
		}
	}
	if perr.Message == "" {
		perr.Message = http.StatusText(status)
	}
	return perr
}

func isAlreadyRegistered(err error) bool {
	var perr *ProviderError
	if !errors.As(err, &perr) {
		return false
	}
	switch perr.Code {
	case "phone_exists", "user_already_exists", "email_exists":
		return true
	}
	msg := strings.ToLower(perr.Message)
	return (perr.Status == http.StatusUnprocessableEntity || perr.Status == http.StatusBadRequest) &&
		strings.Contains(msg, "already") && strings.Contains(msg, "registered")
}
