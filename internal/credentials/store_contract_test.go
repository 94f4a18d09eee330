package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const window = 5 * time.Minute

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)}
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

// storeFactory returns a fresh, empty store whose timestamps come from clock
type storeFactory func(t *testing.T, clock *fakeClock) Store

func runStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("CreateAndFindUser", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		u, err := s.CreateUser(ctx, "a@co.com", "hash")
		require.NoError(t, err)
		assert.Equal(t, "a@co.com", u.Email)
		assert.True(t, u.Active)

		found, err := s.FindUser(ctx, "a@co.com")
		require.NoError(t, err)
		assert.Equal(t, "hash", found.PasswordHash)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		_, err := s.CreateUser(ctx, "a@co.com", "hash")
		require.NoError(t, err)
		_, err = s.CreateUser(ctx, "a@co.com", "other")
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})

	t.Run("EmailIsCaseSensitive", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		_, err := s.CreateUser(ctx, "a@co.com", "hash")
		require.NoError(t, err)
		_, err = s.FindUser(ctx, "A@co.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("FindUserMissing", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		_, err := s.FindUser(ctx, "nobody@co.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("FindValidOTPWithinWindow", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)

		created, err := s.CreateOTP(ctx, "a@co.com", "123456")
		require.NoError(t, err)

		clock.Advance(4 * time.Minute)
		found, err := s.FindValidOTP(ctx, "a@co.com", "123456", clock.Now(), window)
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
		assert.False(t, found.Used)

		_, err = s.FindValidOTP(ctx, "a@co.com", "654321", clock.Now(), window)
		assert.ErrorIs(t, err, ErrOTPNotFound)
		_, err = s.FindValidOTP(ctx, "b@co.com", "123456", clock.Now(), window)
		assert.ErrorIs(t, err, ErrOTPNotFound)
	})

	t.Run("FindValidOTPExpired", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)

		_, err := s.CreateOTP(ctx, "a@co.com", "123456")
		require.NoError(t, err)

		clock.Advance(window)
		_, err = s.FindValidOTP(ctx, "a@co.com", "123456", clock.Now(), window)
		assert.ErrorIs(t, err, ErrOTPNotFound, "created_at must be strictly newer than now-window")
	})

	t.Run("NewestChallengeWins", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)

		_, err := s.CreateOTP(ctx, "a@co.com", "111111")
		require.NoError(t, err)
		clock.Advance(time.Minute)
		second, err := s.CreateOTP(ctx, "a@co.com", "111111")
		require.NoError(t, err)

		found, err := s.FindValidOTP(ctx, "a@co.com", "111111", clock.Now(), window)
		require.NoError(t, err)
		assert.Equal(t, second.ID, found.ID)
	})

	t.Run("MarkUsed", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)

		c, err := s.CreateOTP(ctx, "a@co.com", "123456")
		require.NoError(t, err)

		require.NoError(t, s.MarkUsed(ctx, c.ID))
		assert.ErrorIs(t, s.MarkUsed(ctx, c.ID), ErrOTPAlreadyUsed)
		assert.ErrorIs(t, s.MarkUsed(ctx, c.ID+1000), ErrOTPNotFound)

		_, err = s.FindValidOTP(ctx, "a@co.com", "123456", clock.Now(), window)
		assert.ErrorIs(t, err, ErrOTPNotFound)
	})

	t.Run("ConsumeOTPOnce", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)

		_, err := s.CreateOTP(ctx, "a@co.com", "123456")
		require.NoError(t, err)

		c, err := s.ConsumeOTP(ctx, "a@co.com", "123456", clock.Now(), window)
		require.NoError(t, err)
		assert.True(t, c.Used)

		_, err = s.ConsumeOTP(ctx, "a@co.com", "123456", clock.Now(), window)
		assert.ErrorIs(t, err, ErrOTPNotFound)
	})

	t.Run("ConcurrentConsumeExactlyOneWins", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)

		_, err := s.CreateOTP(ctx, "a@co.com", "123456")
		require.NoError(t, err)

		const workers = 32
		var (
			wins  atomic.Int32
			wg    sync.WaitGroup
			start = make(chan struct{})
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := s.ConsumeOTP(ctx, "a@co.com", "123456", clock.Now(), window)
				switch {
				case err == nil:
					wins.Add(1)
				case !errors.Is(err, ErrOTPNotFound):
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})
}
