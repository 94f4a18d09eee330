package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"authgate/internal/credentials"
	"authgate/internal/otp"
	"authgate/internal/session"
	"authgate/internal/token"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Register(ctx, "alice@co.com", "hunter22"))
	assert.ErrorIs(t, f.svc.Register(ctx, "alice@co.com", "other"), ErrAlreadyRegistered)

	user, err := f.creds.FindUser(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", user.PasswordHash)
	assert.True(t, user.Active)
}

func TestRegister_RejectsForeignDomains(t *testing.T) {
	f := newFixture(t)

	for _, addr := range []string{"bob@other.com", "bob@co.com.evil.com", "bob@sub.co.com", "bob@CO.COM"} {
		err := f.svc.Register(context.Background(), addr, "hunter22")
		assert.ErrorIs(t, err, ErrDomainNotAllowed, addr)
	}
}

func TestRegister_RejectsMalformedInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, addr := range []string{"not-an-email", "Alice <alice@co.com>", "@co.com", ""} {
		assert.ErrorIs(t, f.svc.Register(ctx, addr, "hunter22"), ErrInvalidEmail, addr)
	}

	assert.ErrorIs(t, f.svc.Register(ctx, "alice@co.com", ""), ErrInvalidPassword)
	long := make([]byte, 73)
	for i := range long {
		long[i] = 'x'
	}
	assert.ErrorIs(t, f.svc.Register(ctx, "alice@co.com", string(long)), ErrInvalidPassword)
}

func TestRegister_EmailRulesMatchRequestBinding(t *testing.T) {
	f := newFixture(t)
	binding := validator.New()

	for _, addr := range []string{
		"plain@co.com",
		`"john doe"@co.com`,
		"a..b@co.com",
		"first.last+tag@co.com",
		"no-at-sign.co.com",
		"two@@co.com",
	} {
		wantInvalid := binding.Var(addr, "required,email") != nil

		err := f.svc.Register(context.Background(), addr, "hunter22")
		if wantInvalid {
			assert.ErrorIs(t, err, ErrInvalidEmail, addr)
		} else {
			assert.NoError(t, err, addr)
		}
	}
}

func TestLoginVerifyOTPVerifyToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.login(t, "alice@co.com")
	require.True(t, otp.Valid(code), "emailed code %q", code)

	resp, err := f.svc.VerifyOTP(ctx, "alice@co.com", code)
	require.NoError(t, err)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, int64(1800), resp.ExpiresIn)

	subject, err := f.svc.VerifyToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice@co.com", subject)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, "alice@co.com", "hunter22"))

	assert.ErrorIs(t, f.svc.Login(ctx, "alice@co.com", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, f.svc.Login(ctx, "nobody@co.com", "hunter22"), ErrInvalidCredentials)
	assert.ErrorIs(t, f.svc.Login(ctx, "alice@co.com", ""), ErrInvalidCredentials)
	assert.Zero(t, f.mailer.callCount(), "no OTP is issued without a password match")
}

func TestLogin_ForeignDomainNeverReachesOTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Register(ctx, "a@other.com", "pw"), ErrDomainNotAllowed)
	assert.ErrorIs(t, f.svc.Login(ctx, "a@other.com", "pw"), ErrInvalidCredentials)
	assert.Zero(t, f.mailer.callCount())
}

func TestLogin_DeliveryFailureRevokesCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, "alice@co.com", "hunter22"))

	var issued string
	f.svc.(*service).GenerateOTP = func() (string, error) {
		issued = "424242"
		return issued, nil
	}
	f.mailer.err = errors.New("smtp: 451 try later")

	err := f.svc.Login(ctx, "alice@co.com", "hunter22")
	assert.ErrorIs(t, err, ErrDeliveryFailed)

	_, err = f.svc.VerifyOTP(ctx, "alice@co.com", issued)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOTP, "undelivered code must not be redeemable")
}

func TestLogin_DeliveryTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, "alice@co.com", "hunter22"))

	f.svc.(*service).DeliveryTimeout = 20 * time.Millisecond
	f.mailer.block = true

	start := time.Now()
	err := f.svc.Login(ctx, "alice@co.com", "hunter22")
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestVerifyOTP_Window(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.login(t, "alice@co.com")
	f.clock.Advance(5*time.Minute + time.Second)

	_, err := f.svc.VerifyOTP(ctx, "alice@co.com", code)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOTP)
}

func TestVerifyOTP_SingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.login(t, "alice@co.com")
	_, err := f.svc.VerifyOTP(ctx, "alice@co.com", code)
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(ctx, "alice@co.com", code)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOTP)
}

func TestVerifyOTP_WrongInputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.login(t, "alice@co.com")

	for _, tc := range []struct{ email, code string }{
		{"alice@co.com", "12345"},
		{"alice@co.com", "abcdef"},
		{"bob@co.com", code},
	} {
		_, err := f.svc.VerifyOTP(ctx, tc.email, tc.code)
		assert.ErrorIs(t, err, ErrInvalidOrExpiredOTP, "%s/%s", tc.email, tc.code)
	}

	// The real code still works after the failed attempts
	_, err := f.svc.VerifyOTP(ctx, "alice@co.com", code)
	assert.NoError(t, err)
}

func TestVerifyOTP_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	code := f.login(t, "alice@co.com")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.VerifyOTP(context.Background(), "alice@co.com", code); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrInvalidOrExpiredOTP) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestVerifyToken_RejectsTamperedAndExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.authenticate(t, "alice@co.com")

	_, err := f.svc.VerifyToken(ctx, tok+"x")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	f.clock.Advance(31 * time.Minute)
	_, err = f.svc.VerifyToken(ctx, tok)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, token.ErrExpiredToken)
}

func TestSessionHandoffLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.authenticate(t, "alice@co.com")

	id, err := f.svc.CreateSession(ctx, tok)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h, err := f.svc.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "alice@co.com", h.Email)
		assert.Equal(t, tok, h.Token)
		f.clock.Advance(5 * time.Minute)
	}

	f.clock.Advance(15*time.Minute + time.Second)
	_, err = f.svc.GetSession(ctx, id)
	assert.ErrorIs(t, err, session.ErrSessionExpired)

	_, err = f.svc.GetSession(ctx, id)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestCreateSession_InvalidToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateSession(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrUnauthorized)

	keys, _ := f.sessions.Keys(context.Background())
	assert.Empty(t, keys)
}

func TestDeleteSession_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateSession(ctx, f.authenticate(t, "alice@co.com"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteSession(ctx, "bob@co.com", id), ErrForbidden)
	require.NoError(t, f.svc.DeleteSession(ctx, "alice@co.com", id))

	_, err = f.svc.GetSession(ctx, id)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestCleanupSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.authenticate(t, "alice@co.com")

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateSession(ctx, tok)
		require.NoError(t, err)
	}
	f.clock.Advance(20 * time.Minute)
	fresh, err := f.svc.CreateSession(ctx, f.authenticate(t, "bob@co.com"))
	require.NoError(t, err)
	f.clock.Advance(11 * time.Minute)

	n, err := f.svc.CleanupSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.svc.CleanupSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.GetSession(ctx, fresh)
	assert.NoError(t, err)
}

// brokenStore fails every lookup as an unreachable database would
type brokenStore struct {
	credentials.Store
}

func (brokenStore) FindUser(ctx context.Context, email string) (*credentials.User, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) ConsumeOTP(ctx context.Context, email, code string, now time.Time, window time.Duration) (*credentials.OTPChallenge, error) {
	return nil, errors.New("connection refused")
}

func TestStorageFailuresAreDistinct(t *testing.T) {
	f := newFixture(t)
	f.svc.(*service).Credentials = brokenStore{Store: f.creds}

	err := f.svc.Login(context.Background(), "alice@co.com", "hunter22")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.VerifyOTP(context.Background(), "alice@co.com", "123456")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}
