package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"authgate/internal/middleware"
	"authgate/internal/session"

	"github.com/gin-gonic/gin"
)

// HealthCheck is a named dependency check reported by GET /health
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler handles authentication-related HTTP requests
type Handler struct {
	service Service
	checks  []HealthCheck
	logger  *slog.Logger
}

// NewHandler creates a new authentication handler
func NewHandler(service Service, logger *slog.Logger, checks ...HealthCheck) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		checks:  checks,
		logger:  logger,
	}
}

// Register handles POST /register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if failedTag(err, "Email", "email") {
			abort(c, http.StatusBadRequest, "Invalid email address")
			return
		}
		abort(c, http.StatusBadRequest, "email and password are required")
		return
	}

	if err := h.service.Register(c.Request.Context(), req.Email, req.Password); err != nil {
		switch {
		case errors.Is(err, ErrDomainNotAllowed):
			abort(c, http.StatusBadRequest, "Registration is not allowed for this email domain")
		case errors.Is(err, ErrAlreadyRegistered):
			abort(c, http.StatusBadRequest, "Email already registered")
		case errors.Is(err, ErrInvalidEmail):
			abort(c, http.StatusBadRequest, "Invalid email address")
		case errors.Is(err, ErrInvalidPassword):
			abort(c, http.StatusBadRequest, "Password must be between 1 and 72 bytes")
		default:
			h.serverError(c, "Registration failed", err)
		}
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "User registered successfully"})
}

// Login handles POST /login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusUnauthorized, "Incorrect email or password")
		return
	}

	if err := h.service.Login(c.Request.Context(), req.Email, req.Password); err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			c.Header("WWW-Authenticate", "Bearer")
			abort(c, http.StatusUnauthorized, "Incorrect email or password")
		case errors.Is(err, ErrDeliveryFailed):
			h.serverError(c, "Failed to send OTP email", err)
		default:
			h.serverError(c, "Login failed", err)
		}
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "OTP sent to your email"})
}

// VerifyOTP handles POST /verify-otp
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Invalid or expired OTP")
		return
	}

	resp, err := h.service.VerifyOTP(c.Request.Context(), req.Email, req.OTPCode)
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredOTP) {
			abort(c, http.StatusBadRequest, "Invalid or expired OTP")
			return
		}
		h.serverError(c, "OTP verification failed", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// VerifyToken handles GET /verify-token behind BearerAuth
func (h *Handler) VerifyToken(c *gin.Context) {
	c.JSON(http.StatusOK, VerifyTokenResponse{Email: middleware.Email(c)})
}

// CreateSession handles POST /create-session behind BearerAuth
func (h *Handler) CreateSession(c *gin.Context) {
	sessionID, err := h.service.CreateSession(c.Request.Context(), middleware.Token(c))
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			abort(c, http.StatusUnauthorized, "Invalid token")
			return
		}
		h.serverError(c, "Failed to create session", err)
		return
	}

	c.JSON(http.StatusOK, SessionResponse{SessionID: sessionID})
}

// GetSession handles GET /get-session/:session_id
func (h *Handler) GetSession(c *gin.Context) {
	handoff, err := h.service.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.sessionError(c, err, "Failed to retrieve session")
		return
	}

	c.JSON(http.StatusOK, HandoffResponse{
		Email:     handoff.Email,
		Token:     handoff.Token,
		CreatedAt: handoff.CreatedAt,
		ExpiresAt: handoff.ExpiresAt,
	})
}

// DeleteSession handles DELETE /sessions/:session_id behind BearerAuth
func (h *Handler) DeleteSession(c *gin.Context) {
	err := h.service.DeleteSession(c.Request.Context(), middleware.Email(c), c.Param("session_id"))
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			abort(c, http.StatusForbidden, "Session belongs to another user")
			return
		}
		h.sessionError(c, err, "Failed to delete session")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "Session deleted"})
}

// CleanupSessions handles DELETE /cleanup-sessions
func (h *Handler) CleanupSessions(c *gin.Context) {
	cleaned, err := h.service.CleanupSessions(c.Request.Context())
	if err != nil {
		h.logger.Error("Session cleanup failed", "error", err, "cleaned", cleaned,
			"request_id", c.GetString(middleware.RequestIDKey))
		c.JSON(http.StatusOK, CleanupResponse{Message: "Cleanup failed", Cleaned: cleaned})
		return
	}

	c.JSON(http.StatusOK, CleanupResponse{
		Message: fmt.Sprintf("Cleaned up %d expired sessions", cleaned),
		Cleaned: cleaned,
	})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	status := "healthy"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(h.checks))

	for _, hc := range h.checks {
		if err := hc.Check(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", "check", hc.Name, "error", err)
			checks[hc.Name] = "down"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		checks[hc.Name] = "up"
	}

	c.JSON(httpStatus, gin.H{
		"status":  status,
		"service": "auth-service",
		"checks":  checks,
	})
}

func (h *Handler) sessionError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		abort(c, http.StatusNotFound, "Session not found")
	case errors.Is(err, session.ErrSessionExpired):
		abort(c, http.StatusUnauthorized, "Session expired")
	default:
		h.serverError(c, fallback, err)
	}
}

func (h *Handler) serverError(c *gin.Context, detail string, err error) {
	_ = c.Error(err)
	h.logger.Error(detail, "error", err, "request_id", c.GetString(middleware.RequestIDKey))
	abort(c, http.StatusInternalServerError, detail)
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Detail: detail})
}
