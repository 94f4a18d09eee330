// Package credentials persists user accounts and OTP challenges.
package credentials

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateEmail is returned when a user with the same email exists
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrUserNotFound is returned when no user matches the email
	ErrUserNotFound = errors.New("user not found")
	// ErrOTPNotFound is returned when no live challenge matches
	ErrOTPNotFound = errors.New("no matching one-time passcode")
	// ErrOTPAlreadyUsed is returned when marking an already consumed challenge
	ErrOTPAlreadyUsed = errors.New("one-time passcode already used")
)

// Store defines credential persistence. All lookups are keyed by email.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)
	FindUser(ctx context.Context, email string) (*User, error)

	CreateOTP(ctx context.Context, email, code string) (*OTPChallenge, error)
	// FindValidOTP returns the newest unused challenge for email+code created after now-window.
	FindValidOTP(ctx context.Context, email, code string, now time.Time, window time.Duration) (*OTPChallenge, error)
	// MarkUsed flips a challenge to used. It fails with ErrOTPAlreadyUsed if it was used already.
	MarkUsed(ctx context.Context, id int64) error
	// ConsumeOTP atomically finds and marks a live challenge. At most one concurrent
	// caller succeeds for a given challenge.
	ConsumeOTP(ctx context.Context, email, code string, now time.Time, window time.Duration) (*OTPChallenge, error)

	Ping(ctx context.Context) error
}
