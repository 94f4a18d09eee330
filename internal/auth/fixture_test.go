package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"authgate/internal/credentials"
	"authgate/internal/logger"
	"authgate/internal/password"
	"authgate/internal/session"
	"authgate/internal/token"

	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeMailer records the codes it was asked to send
type fakeMailer struct {
	mu    sync.Mutex
	codes map[string]string
	calls int
	err   error
	block bool
}

func (m *fakeMailer) SendOTP(ctx context.Context, recipient, code string) error {
	m.mu.Lock()
	m.calls++
	block, err := m.block, m.err
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[recipient] = code
	return nil
}

func (m *fakeMailer) lastCode(recipient string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[recipient]
}

func (m *fakeMailer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fixture struct {
	svc      Service
	clock    *fakeClock
	mailer   *fakeMailer
	creds    *credentials.MemoryStore
	sessions *session.MemoryStore
	issuer   *token.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	creds := credentials.NewMemoryStore().WithClock(clock.Now)

	issuer, err := token.NewIssuer(token.Config{Secret: []byte(testSecret), TTL: 30 * time.Minute})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	issuer = issuer.WithClock(clock.Now)

	store := session.NewMemoryStore()
	mgr := session.NewManager(store, issuer, session.WithClock(clock.Now), session.WithLogger(logger.Discard()))
	mailer := &fakeMailer{}

	svc := NewService(Deps{
		Credentials:     creds,
		Hasher:          password.NewBcrypt(bcrypt.MinCost),
		Tokens:          issuer,
		Sessions:        mgr,
		Mailer:          mailer,
		AllowedDomain:   "co.com",
		DeliveryTimeout: time.Second,
		Now:             clock.Now,
		Logger:          logger.Discard(),
	})

	return &fixture{svc: svc, clock: clock, mailer: mailer, creds: creds, sessions: store, issuer: issuer}
}

// login registers email and runs the password step, returning the emailed code
func (f *fixture) login(t *testing.T, email string) string {
	t.Helper()
	ctx := context.Background()
	if err := f.svc.Register(ctx, email, "hunter22"); err != nil && !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("register: %v", err)
	}
	if err := f.svc.Login(ctx, email, "hunter22"); err != nil {
		t.Fatalf("login: %v", err)
	}
	return f.mailer.lastCode(email)
}

// authenticate runs the whole flow and returns a bearer token
func (f *fixture) authenticate(t *testing.T, email string) string {
	t.Helper()
	code := f.login(t, email)
	resp, err := f.svc.VerifyOTP(context.Background(), email, code)
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	return resp.AccessToken
}
