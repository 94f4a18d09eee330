package session

import "time"

// Handoff is a short-lived capsule carrying an authenticated identity between applications
type Handoff struct {
	SessionID string    `json:"-"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the handoff is past its expiry at now
func (h *Handoff) ExpiredAt(now time.Time) bool {
	return now.After(h.ExpiresAt)
}

func (h *Handoff) valid() bool {
	return h.Email != "" && h.Token != "" && !h.ExpiresAt.IsZero()
}
