package auth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zooz/otpauth/internal/identity"
	"github.com/zooz/otpauth/internal/model"
	"github.com/zooz/otpauth/internal/repo"
)

type memOtpRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*model.OtpRecord
	failErr error
}

func newMemOtpRepo() *memOtpRepo {
	return &memOtpRepo{records: make(map[uuid.UUID]*model.OtpRecord)}
}

func (m *memOtpRepo) put(phone, code string, createdAt, expiresAt time.Time) model.OtpRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &model.OtpRecord{ID: uuid.New(), Phone: phone, Code: code, CreatedAt: createdAt, ExpiresAt: expiresAt}
	m.records[rec.ID] = rec
	return *rec
}

func (m *memOtpRepo) get(id uuid.UUID) (model.OtpRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return model.OtpRecord{}, false
	}
	return *rec, true
}

func (m *memOtpRepo) Create(_ context.Context, phone, code string, expiresAt time.Time, requestIP *string) (model.OtpRecord, error) {
	if m.failErr != nil {
		return model.OtpRecord{}, m.failErr
	}
	rec := m.put(phone, code, time.Now(), expiresAt)
	rec.RequestIP = requestIP
	return rec, nil
}

func (m *memOtpRepo) Latest(_ context.Context, phone string) (model.OtpRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return model.OtpRecord{}, m.failErr
	}
	var candidates []*model.OtpRecord
	for _, rec := range m.records {
		if rec.Phone == phone {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return model.OtpRecord{}, repo.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
	return *candidates[0], nil
}

func (m *memOtpRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *memOtpRepo) MarkVerified(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.VerifiedAt != nil {
		return repo.ErrNotFound
	}
	rec.VerifiedAt = &at
	return nil
}

func (m *memOtpRepo) CountRecent(_ context.Context, phone string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.Phone == phone && !rec.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// fakeProvider behaves like a unique-constrained identity store
type fakeProvider struct {
	mu         sync.Mutex
	passwords  map[string]string
	createErr  error
	signInErr  error
	creates    int
	signInHook func()
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{passwords: make(map[string]string)}
}

func (f *fakeProvider) CreateAccount(_ context.Context, phone, password string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.passwords[phone]; ok {
		return nil, identity.ErrAccountExists
	}
	f.passwords[phone] = password
	return &identity.User{ID: "user-" + phone, Phone: phone}, nil
}

func (f *fakeProvider) SignInWithPassword(_ context.Context, phone, password string) (*identity.Session, error) {
	if f.signInHook != nil {
		f.signInHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	if stored, ok := f.passwords[phone]; !ok || stored != password {
		return nil, &identity.ProviderError{Status: 400, Code: "invalid_grant", Message: "Invalid login credentials"}
	}
	return &identity.Session{
		AccessToken:  "access-" + phone,
		RefreshToken: "refresh-" + phone,
		ExpiresIn:    3600,
		TokenType:    "bearer",
		User:         identity.User{ID: "user-" + phone, Phone: phone},
	}, nil
}

func (f *fakeProvider) RefreshSession(_ context.Context, refreshToken string) (*identity.Session, error) {
	if refreshToken == "reused" {
		return nil, identity.ErrRefreshTokenReuseDetected
	}
	if refreshToken != "refresh-+15551234567" {
		return nil, identity.ErrInvalidCredentials
	}
	return &identity.Session{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600, TokenType: "bearer"}, nil
}

func (f *fakeProvider) GetUser(_ context.Context, accessToken string) (*identity.User, error) {
	if accessToken != "access-+15551234567" {
		return nil, identity.ErrInvalidCredentials
	}
	return &identity.User{ID: "user-+15551234567", Phone: "+15551234567"}, nil
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	phone string
	err   error
}

func (s *recordingSender) Send(_ context.Context, phone, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.phone = phone
	s.sent = append(s.sent, body)
	return nil
}

var errDB = errors.New("connection refused")
