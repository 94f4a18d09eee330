package credentials

import (
	"context"
	"sync"
	"time"
)

// challengeRetention bounds how long spent or stale challenges are kept in memory
const challengeRetention = time.Hour

// MemoryStore is an in-process Store. Safe for concurrent use.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]User
	challenges map[string][]OTPChallenge
	nextID     int64
	now        func() time.Time
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]User),
		challenges: make(map[string][]OTPChallenge),
		now:        time.Now,
	}
}

// WithClock sets the clock used for created_at timestamps
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *MemoryStore) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[email]; exists {
		return nil, ErrDuplicateEmail
	}

	u := User{
		Email:        email,
		PasswordHash: passwordHash,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	s.users[email] = u
	return &u, nil
}

func (s *MemoryStore) FindUser(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryStore) CreateOTP(ctx context.Context, email, code string) (*OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.pruneLocked(email, now)

	s.nextID++
	c := OTPChallenge{
		ID:        s.nextID,
		Email:     email,
		Code:      code,
		CreatedAt: now,
	}
	s.challenges[email] = append(s.challenges[email], c)
	return &c, nil
}

func (s *MemoryStore) FindValidOTP(ctx context.Context, email, code string, now time.Time, window time.Duration) (*OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findLocked(email, code, now, window)
	if idx < 0 {
		return nil, ErrOTPNotFound
	}
	c := s.challenges[email][idx]
	return &c, nil
}

func (s *MemoryStore) MarkUsed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for email, list := range s.challenges {
		for i := range list {
			if list[i].ID != id {
				continue
			}
			if list[i].Used {
				return ErrOTPAlreadyUsed
			}
			s.challenges[email][i].Used = true
			return nil
		}
	}
	return ErrOTPNotFound
}

func (s *MemoryStore) ConsumeOTP(ctx context.Context, email, code string, now time.Time, window time.Duration) (*OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findLocked(email, code, now, window)
	if idx < 0 {
		return nil, ErrOTPNotFound
	}
	s.challenges[email][idx].Used = true
	c := s.challenges[email][idx]
	return &c, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// findLocked returns the index of the newest live match, or -1
func (s *MemoryStore) findLocked(email, code string, now time.Time, window time.Duration) int {
	list := s.challenges[email]
	best := -1
	for i := range list {
		c := &list[i]
		if c.Code != code || !c.LiveAt(now, window) {
			continue
		}
		if best < 0 || !c.CreatedAt.Before(list[best].CreatedAt) {
			best = i
		}
	}
	return best
}

func (s *MemoryStore) pruneLocked(email string, now time.Time) {
	list := s.challenges[email]
	kept := list[:0]
	for _, c := range list {
		if now.Sub(c.CreatedAt) < challengeRetention {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(s.challenges, email)
		return
	}
	s.challenges[email] = kept
}
