// Package auth orchestrates registration, password + OTP login, bearer token
// verification and the cross-application session handoff.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"authgate/internal/config"
	"authgate/internal/credentials"
	"authgate/internal/email"
	"authgate/internal/otp"
	"authgate/internal/password"
	"authgate/internal/session"
)

// TokenType is the OAuth2 token type returned to clients
const TokenType = "bearer"

var (
	// ErrInvalidEmail is returned for malformed email addresses
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidPassword is returned when a password cannot be accepted
	ErrInvalidPassword = errors.New("invalid password")
	// ErrDomainNotAllowed is returned when the email domain is not the company domain
	ErrDomainNotAllowed = errors.New("email domain not allowed")
	// ErrAlreadyRegistered is returned when the email already has an account
	ErrAlreadyRegistered = errors.New("email already registered")
	// ErrInvalidCredentials is returned for unknown users, inactive users and wrong passwords alike
	ErrInvalidCredentials = errors.New("incorrect email or password")
	// ErrInvalidOrExpiredOTP is returned when no live challenge matches
	ErrInvalidOrExpiredOTP = errors.New("invalid or expired OTP")
	// ErrDeliveryFailed is returned when the OTP could not be handed to the mail transport
	ErrDeliveryFailed = errors.New("failed to send OTP email")
	// ErrUnauthorized is returned for invalid or expired bearer tokens
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a caller acts on another user's handoff
	ErrForbidden = errors.New("forbidden")
	// ErrStorageUnavailable wraps backend failures
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Service defines the authentication service interface
type Service interface {
	Register(ctx context.Context, email, password string) error
	Login(ctx context.Context, email, password string) error
	VerifyOTP(ctx context.Context, email, code string) (*TokenResponse, error)
	VerifyToken(ctx context.Context, token string) (string, error)

	CreateSession(ctx context.Context, token string) (string, error)
	GetSession(ctx context.Context, sessionID string) (*session.Handoff, error)
	DeleteSession(ctx context.Context, requesterEmail, sessionID string) error
	CleanupSessions(ctx context.Context) (int, error)
}

// TokenIssuer signs and verifies bearer tokens
type TokenIssuer interface {
	Issue(subject string) (string, time.Time, error)
	Verify(token string) (string, error)
	TTL() time.Duration
}

// Deps wires the service to its collaborators
type Deps struct {
	Credentials credentials.Store
	Hasher      password.Hasher
	Tokens      TokenIssuer
	Sessions    session.Manager
	Mailer      email.Sender

	// GenerateOTP defaults to otp.Generate
	GenerateOTP otp.Generator
	// AllowedDomain is the only domain accepted at registration
	AllowedDomain string
	// DeliveryTimeout bounds the mail transport call; defaults to 10s
	DeliveryTimeout time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

// service implements the Service interface
type service struct {
	Deps

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a new authentication service
func NewService(d Deps) Service {
	if d.GenerateOTP == nil {
		d.GenerateOTP = otp.Generate
	}
	if d.DeliveryTimeout <= 0 {
		d.DeliveryTimeout = 10 * time.Second
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &service{Deps: d}
}

// Register creates an account for an address in the allowed domain
func (s *service) Register(ctx context.Context, emailAddr, pw string) error {
	if err := validateEmail(emailAddr); err != nil {
		return err
	}
	if domainOf(emailAddr) != s.AllowedDomain {
		return ErrDomainNotAllowed
	}

	hash, err := s.Hasher.Hash(pw)
	if err != nil {
		if errors.Is(err, password.ErrEmptyPassword) || errors.Is(err, password.ErrPasswordTooLong) {
			return fmt.Errorf("%w: %w", ErrInvalidPassword, err)
		}
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if _, err := s.Credentials.CreateUser(ctx, emailAddr, hash); err != nil {
		if errors.Is(err, credentials.ErrDuplicateEmail) {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	s.Logger.Info("User registered", "email", emailAddr)
	return nil
}

// Login checks the password and emails a fresh OTP. No token is issued yet.
func (s *service) Login(ctx context.Context, emailAddr, pw string) error {
	user, err := s.Credentials.FindUser(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, credentials.ErrUserNotFound) {
			// Spend the same bcrypt time as a real check
			s.Hasher.Verify(pw, s.timingHash())
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	if !s.Hasher.Verify(pw, user.PasswordHash) || !user.Active {
		return ErrInvalidCredentials
	}

	code, err := s.GenerateOTP()
	if err != nil {
		return fmt.Errorf("failed to generate OTP: %w", err)
	}

	challenge, err := s.Credentials.CreateOTP(ctx, emailAddr, code)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.DeliveryTimeout)
	defer cancel()

	if err := s.Mailer.SendOTP(sendCtx, emailAddr, code); err != nil {
		// The code never reached the user; make sure it cannot be redeemed
		if markErr := s.Credentials.MarkUsed(context.WithoutCancel(ctx), challenge.ID); markErr != nil {
			s.Logger.Error("Failed to revoke undelivered OTP", "email", emailAddr, "error", markErr)
		}
		s.Logger.Error("OTP delivery failed", "email", emailAddr, "error", err)
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	s.Logger.Info("OTP issued", "email", emailAddr)
	return nil
}

// VerifyOTP consumes a live challenge and issues a bearer token
func (s *service) VerifyOTP(ctx context.Context, emailAddr, code string) (*TokenResponse, error) {
	if !otp.Valid(code) {
		return nil, ErrInvalidOrExpiredOTP
	}

	if _, err := s.Credentials.ConsumeOTP(ctx, emailAddr, code, s.Now(), config.OTPWindow); err != nil {
		if errors.Is(err, credentials.ErrOTPNotFound) {
			return nil, ErrInvalidOrExpiredOTP
		}
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	accessToken, _, err := s.Tokens.Issue(emailAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.Logger.Info("OTP verified", "email", emailAddr)
	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   TokenType,
		ExpiresIn:   int64(s.Tokens.TTL().Seconds()),
	}, nil
}

// VerifyToken returns the subject of a valid bearer token
func (s *service) VerifyToken(ctx context.Context, tok string) (string, error) {
	subject, err := s.Tokens.Verify(tok)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return subject, nil
}

// CreateSession stores a handoff for the token's subject
func (s *service) CreateSession(ctx context.Context, tok string) (string, error) {
	id, err := s.Sessions.Create(ctx, tok)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return "", fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return id, nil
}

// GetSession returns a live handoff. Not found, expired and corrupt records
// are reported with the session package errors.
func (s *service) GetSession(ctx context.Context, sessionID string) (*session.Handoff, error) {
	h, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		if isHandoffOutcome(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return h, nil
}

// DeleteSession revokes a handoff owned by requesterEmail
func (s *service) DeleteSession(ctx context.Context, requesterEmail, sessionID string) error {
	h, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if h.Email != requesterEmail {
		return ErrForbidden
	}

	if err := s.Sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// CleanupSessions sweeps expired handoffs
func (s *service) CleanupSessions(ctx context.Context) (int, error) {
	n, err := s.Sessions.Cleanup(ctx)
	if err != nil {
		return n, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return n, nil
}

// timingHash returns a hash of a throwaway password, computed once
func (s *service) timingHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.Hasher.Hash("timing-equalisation-password")
		if err != nil {
			s.Logger.Error("Failed to compute timing hash", "error", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func isHandoffOutcome(err error) bool {
	return errors.Is(err, session.ErrSessionNotFound) ||
		errors.Is(err, session.ErrSessionExpired) ||
		errors.Is(err, session.ErrInvalidSession)
}

func domainOf(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return ""
	}
	return addr[i+1:]
}
