// Package session implements the cross-application handoff store: a short-lived
// record that lets a user authenticated in one application be recognised by
// another. Records live behind a key/value Store (memory, file, Redis or S3).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"authgate/internal/config"

	"github.com/google/uuid"
)

// DefaultTTL is how long a handoff stays redeemable
const DefaultTTL = config.HandoffTTL

// retentionGrace keeps expired records around long enough for a read to
// report "expired" rather than "not found" on backends with native expiry.
const retentionGrace = time.Hour

var (
	// ErrSessionNotFound is returned when a session is not found
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when a session has expired
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidSession is returned when session data is invalid
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidToken is returned when the token handed to Create does not verify
	ErrInvalidToken = errors.New("invalid token")
)

// TokenVerifier checks a bearer token and returns its subject email
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Manager defines the interface for handoff operations
type Manager interface {
	Create(ctx context.Context, token string) (string, error)
	Get(ctx context.Context, sessionID string) (*Handoff, error)
	Delete(ctx context.Context, sessionID string) error
	Cleanup(ctx context.Context) (int, error)
}

// Option configures a manager
type Option func(*manager)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *manager) { m.now = now }
}

// WithTTL overrides the handoff lifetime
func WithTTL(ttl time.Duration) Option {
	return func(m *manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithLogger sets the logger used for sweep and corruption reports
func WithLogger(logger *slog.Logger) Option {
	return func(m *manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// manager implements Manager interface
type manager struct {
	store    Store
	verifier TokenVerifier
	now      func() time.Time
	ttl      time.Duration
	logger   *slog.Logger
	locks    keyLocks
}

// NewManager creates a new handoff manager
func NewManager(store Store, verifier TokenVerifier, opts ...Option) Manager {
	m := &manager{
		store:    store,
		verifier: verifier,
		now:      time.Now,
		ttl:      DefaultTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create verifies token and stores a new handoff for its subject
func (m *manager) Create(ctx context.Context, token string) (string, error) {
	email, err := m.verifier.Verify(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	sessionID := uuid.NewString()
	now := m.now().UTC()
	handoff := &Handoff{
		SessionID: sessionID,
		Email:     email,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	data, err := json.Marshal(handoff)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := m.store.Set(ctx, sessionID, string(data), m.ttl+retentionGrace); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	return sessionID, nil
}

// Get returns the handoff while it is live. Expired and corrupt records are
// deleted on read.
func (m *manager) Get(ctx context.Context, sessionID string) (*Handoff, error) {
	if !canonicalID(sessionID) {
		return nil, ErrSessionNotFound
	}

	unlock := m.locks.lock(sessionID)
	defer unlock()

	data, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	handoff, err := decode(data)
	if err != nil {
		m.logger.Warn("Removing corrupt session record", "session_id", sessionID, "error", err)
		if delErr := m.store.Delete(ctx, sessionID); delErr != nil {
			return nil, fmt.Errorf("failed to delete corrupt session: %w", delErr)
		}
		return nil, ErrInvalidSession
	}

	if handoff.ExpiredAt(m.now()) {
		if err := m.store.Delete(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("failed to delete expired session: %w", err)
		}
		return nil, ErrSessionExpired
	}

	handoff.SessionID = sessionID
	return handoff, nil
}

// Delete removes a session
func (m *manager) Delete(ctx context.Context, sessionID string) error {
	if !canonicalID(sessionID) {
		return ErrSessionNotFound
	}

	unlock := m.locks.lock(sessionID)
	defer unlock()

	if err := m.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Cleanup removes every expired or unreadable record and returns how many were
// deleted. A record that fails to delete is skipped and reported in the error.
func (m *manager) Cleanup(ctx context.Context) (int, error) {
	keys, err := m.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	var (
		cleaned int
		errs    []error
	)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}

		removed, err := m.sweep(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			cleaned++
		}
	}

	if cleaned > 0 {
		m.logger.Info("Cleaned up expired sessions", "count", cleaned)
	}
	return cleaned, errors.Join(errs...)
}

func (m *manager) sweep(ctx context.Context, key string) (bool, error) {
	unlock := m.locks.lock(key)
	defer unlock()

	data, err := m.store.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}

	if err == nil {
		handoff, decodeErr := decode(data)
		if decodeErr == nil && !handoff.ExpiredAt(m.now()) {
			return false, nil
		}
	}

	if err := m.store.Delete(ctx, key); err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return true, nil
}

func decode(data string) (*Handoff, error) {
	var handoff Handoff
	if err := json.Unmarshal([]byte(data), &handoff); err != nil {
		return nil, err
	}
	if !handoff.valid() {
		return nil, errors.New("missing required fields")
	}
	return &handoff, nil
}

func canonicalID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}
