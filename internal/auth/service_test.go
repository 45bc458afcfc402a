package auth

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zooz/otpauth/internal/identity"
	"go.uber.org/zap"
)

const (
	testPhone  = "+15551234567"
	testPepper = "test-pepper"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *AuthService
	otps     *memOtpRepo
	provider *fakeProvider
	sender   *recordingSender
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	if opts.Pepper == "" {
		opts.Pepper = testPepper
	}
	if opts.OTPTTL == 0 {
		opts.OTPTTL = 5 * time.Minute
	}
	f := &fixture{
		otps:     newMemOtpRepo(),
		provider: newFakeProvider(),
		sender:   &recordingSender{},
	}
	f.svc = NewAuthService(f.otps, f.provider, f.sender, zap.NewNop(), opts)
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) seed(code string, expiresIn time.Duration) {
	f.otps.put(testPhone, code, testNow.Add(-time.Minute), testNow.Add(expiresIn))
}

func TestVerify_missingFields(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.VerifyOnly(ctx, "", "4821"), ErrBadRequest)
	assert.ErrorIs(t, f.svc.VerifyOnly(ctx, testPhone, ""), ErrBadRequest)
	_, err := f.svc.VerifyAndLogin(ctx, testPhone, "")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestVerify_noRecordIsNotFoundForBothFlows(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.VerifyOnly(ctx, testPhone, "4821"), ErrOTPNotFound)
	_, err := f.svc.VerifyAndLogin(ctx, testPhone, "4821")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestVerify_expiredMatchingCodeIsExpiredForBothFlows(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.seed("4821", -time.Second)

	assert.ErrorIs(t, f.svc.VerifyOnly(ctx, testPhone, "4821"), ErrOTPExpired)
	_, err := f.svc.VerifyAndLogin(ctx, testPhone, "4821")
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestVerify_mismatchBeatsExpiry(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.seed("4821", -time.Second)

	assert.ErrorIs(t, f.svc.VerifyOnly(ctx, testPhone, "0000"), ErrOTPInvalid)
	_, err := f.svc.VerifyAndLogin(ctx, testPhone, "0000")
	assert.ErrorIs(t, err, ErrOTPInvalid)
}

func TestVerify_newestRecordWins(t *testing.T) {
	f := newFixture(t, Options{})
	f.otps.put(testPhone, "1111", testNow.Add(-3*time.Minute), testNow.Add(time.Minute))
	f.otps.put(testPhone, "2222", testNow.Add(-time.Minute), testNow.Add(time.Minute))

	assert.ErrorIs(t, f.svc.VerifyOnly(context.Background(), testPhone, "1111"), ErrOTPInvalid)
	assert.NoError(t, f.svc.VerifyOnly(context.Background(), testPhone, "2222"))
}

func TestVerifyAndLogin_supersededCodeStaysDeadAfterNewerIsConsumed(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.otps.put(testPhone, "1111", testNow.Add(-3*time.Minute), testNow.Add(2*time.Minute))
	f.otps.put(testPhone, "2222", testNow.Add(-time.Minute), testNow.Add(4*time.Minute))

	_, err := f.svc.VerifyAndLogin(ctx, testPhone, "1111")
	assert.ErrorIs(t, err, ErrOTPInvalid)

	_, err = f.svc.VerifyAndLogin(ctx, testPhone, "2222")
	require.NoError(t, err)

	_, err = f.svc.VerifyAndLogin(ctx, testPhone, "1111")
	assert.ErrorIs(t, err, ErrOTPNotFound)
	assert.ErrorIs(t, f.svc.VerifyOnly(ctx, testPhone, "1111"), ErrOTPNotFound)
}

func TestVerifyOnly_consumesOnce(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.seed("4821", 5*time.Minute)

	require.NoError(t, f.svc.VerifyOnly(ctx, testPhone, "4821"))
	assert.ErrorIs(t, f.svc.VerifyOnly(ctx, testPhone, "4821"), ErrOTPNotFound)
	assert.Empty(t, f.otps.records)
}

func TestVerifyAndLogin_softConsumesAndRejectsReplay(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.seed("4821", 5*time.Minute)

	session, err := f.svc.VerifyAndLogin(ctx, testPhone, "4821")
	require.NoError(t, err)
	assert.Equal(t, "access-"+testPhone, session.AccessToken)
	assert.Equal(t, "bearer", session.TokenType)

	require.Len(t, f.otps.records, 1, "record is kept for audit")
	for id := range f.otps.records {
		rec, _ := f.otps.get(id)
		require.NotNil(t, rec.VerifiedAt)
		assert.Equal(t, testNow, *rec.VerifiedAt)
	}

	_, err = f.svc.VerifyAndLogin(ctx, testPhone, "4821")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestVerifyAndLogin_exampleScenario(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, Options{})
	f.seed("4821", 5*time.Minute)
	_, err := f.svc.VerifyAndLogin(ctx, testPhone, "0000")
	assert.ErrorIs(t, err, ErrOTPInvalid)
	session, err := f.svc.VerifyAndLogin(ctx, testPhone, "4821")
	require.NoError(t, err)
	assert.NotEmpty(t, session.RefreshToken)

	late := newFixture(t, Options{})
	late.seed("4821", 5*time.Minute)
	late.svc.now = func() time.Time { return testNow.Add(5 * time.Minute) }
	_, err = late.svc.VerifyAndLogin(ctx, testPhone, "4821")
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestVerifyAndLogin_existingAccountIsNotAnError(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.provider.CreateAccount(ctx, testPhone, DerivePassword(testPhone, testPepper))
	require.NoError(t, err)
	f.seed("4821", 5*time.Minute)

	_, err = f.svc.VerifyAndLogin(ctx, testPhone, "4821")
	assert.NoError(t, err)
}

func TestVerifyAndLogin_unknownProvisioningFailureIsFatal(t *testing.T) {
	f := newFixture(t, Options{})
	f.provider.createErr = &identity.ProviderError{Status: 500, Message: "database is down"}
	f.seed("4821", 5*time.Minute)

	_, err := f.svc.VerifyAndLogin(context.Background(), testPhone, "4821")
	assert.ErrorIs(t, err, ErrProvisioningFailed)
}

func TestVerifyAndLogin_signInFailureCarriesProviderMessage(t *testing.T) {
	f := newFixture(t, Options{})
	f.provider.signInErr = &identity.ProviderError{Status: 400, Code: "invalid_grant", Message: "Invalid login credentials"}
	f.seed("4821", 5*time.Minute)

	_, err := f.svc.VerifyAndLogin(context.Background(), testPhone, "4821")
	require.ErrorIs(t, err, ErrSignInFailed)
	assert.Equal(t, "Invalid login credentials", Cause(err))
}

func TestVerify_lookupErrorIsUnexpected(t *testing.T) {
	f := newFixture(t, Options{})
	f.otps.failErr = errDB

	err := f.svc.VerifyOnly(context.Background(), testPhone, "4821")
	require.ErrorIs(t, err, ErrUnexpected)
	assert.True(t, errors.Is(err, errDB))
	assert.Equal(t, "connection refused", Cause(err))
}

func TestLogin_concurrentProvisioningSamePhoneAllGetSessions(t *testing.T) {
	f := newFixture(t, Options{DemoPhone: testPhone})

	// widen the window between create and sign in
	f.provider.signInHook = func() { time.Sleep(5 * time.Millisecond) }

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.DemoLogin(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, n, f.provider.creates)
	assert.Len(t, f.provider.passwords, 1)
}

func TestVerifyAndLogin_concurrentSameCodeSingleWinner(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed("4821", 5*time.Minute)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.VerifyAndLogin(context.Background(), testPhone, "4821")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrOTPNotFound)
	}
	assert.Equal(t, 1, wins)
}

func TestRequestOTP(t *testing.T) {
	f := newFixture(t, Options{DevMode: true})
	ctx := context.Background()

	code, err := f.svc.RequestOTP(ctx, testPhone, "203.0.113.7")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)
	require.Len(t, f.sender.sent, 1)
	assert.Contains(t, f.sender.sent[0], code)
	assert.Equal(t, testPhone, f.sender.phone)

	rec, err := f.otps.Latest(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, code, rec.Code)
	assert.Equal(t, testNow.Add(5*time.Minute), rec.ExpiresAt)
	require.NotNil(t, rec.RequestIP)
	assert.Equal(t, "203.0.113.7", *rec.RequestIP)
}

func TestRequestOTP_codeHiddenOutsideDevMode(t *testing.T) {
	f := newFixture(t, Options{})
	code, err := f.svc.RequestOTP(context.Background(), testPhone, "")
	require.NoError(t, err)
	assert.Empty(t, code)
	assert.Len(t, f.sender.sent, 1)
}

func TestRequestOTP_rateLimitedPerPhone(t *testing.T) {
	f := newFixture(t, Options{})
	for i := 0; i < maxOTPPerWindow; i++ {
		f.otps.put(testPhone, "1234", testNow.Add(-time.Minute), testNow.Add(time.Minute))
	}
	f.otps.put("+15550000000", "1234", testNow.Add(-time.Minute), testNow.Add(time.Minute))

	_, err := f.svc.RequestOTP(context.Background(), testPhone, "")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = f.svc.RequestOTP(context.Background(), "+15550000000", "")
	assert.NoError(t, err)
}

func TestRequestOTP_errors(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.RequestOTP(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrBadRequest)

	f.sender.err = errors.New("twilio down")
	_, err = f.svc.RequestOTP(context.Background(), testPhone, "")
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestDemoLogin_disabled(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.DemoLogin(context.Background())
	assert.ErrorIs(t, err, ErrDemoDisabled)
}

func TestRefreshAndCurrentUser(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	session, err := f.svc.Refresh(ctx, "refresh-"+testPhone)
	require.NoError(t, err)
	assert.Equal(t, "access-2", session.AccessToken)

	_, err = f.svc.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = f.svc.Refresh(ctx, "reused")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, identity.ErrRefreshTokenReuseDetected)

	user, err := f.svc.CurrentUser(ctx, "access-"+testPhone)
	require.NoError(t, err)
	assert.Equal(t, testPhone, user.Phone)
	_, err = f.svc.CurrentUser(ctx, "bad")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode(6)
		require.NoError(t, err)
		assert.Len(t, code, 6)
	}
}
