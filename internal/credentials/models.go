package credentials

import "time"

// User is a registered account
type User struct {
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// OTPChallenge is a passcode issued after a successful password check
type OTPChallenge struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	Used      bool      `json:"used"`
}

// LiveAt reports whether the challenge can still be redeemed at now
func (c *OTPChallenge) LiveAt(now time.Time, window time.Duration) bool {
	return !c.Used && c.CreatedAt.After(now.Add(-window))
}
