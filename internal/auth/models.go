package auth

import "time"

// RegisterRequest is the payload for POST /register
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest is the payload for POST /login
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// VerifyOTPRequest is the payload for POST /verify-otp
type VerifyOTPRequest struct {
	Email   string `json:"email" binding:"required,email"`
	OTPCode string `json:"otp_code" binding:"required,number,len=6"`
}

// TokenResponse is returned after a successful OTP verification
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	// ExpiresIn is the token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`
}

// SessionResponse is returned by POST /create-session
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// HandoffResponse is returned by GET /get-session/:session_id
type HandoffResponse struct {
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyTokenResponse is returned by GET /verify-token
type VerifyTokenResponse struct {
	Email string `json:"email"`
}

// MessageResponse carries a human-readable outcome
type MessageResponse struct {
	Message string `json:"message"`
}

// CleanupResponse is returned by DELETE /cleanup-sessions
type CleanupResponse struct {
	Message string `json:"message"`
	Cleaned int    `json:"cleaned"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Detail string `json:"detail"`
}
