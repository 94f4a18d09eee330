package auth

import (
	"context"

	"authgate/internal/middleware"

	"github.com/gin-gonic/gin"
)

// tokenVerifier adapts Service to middleware.TokenVerifier
type tokenVerifier struct {
	service Service
}

func (v tokenVerifier) Verify(ctx context.Context, token string) (string, error) {
	return v.service.VerifyToken(ctx, token)
}

// RegisterRoutes mounts the auth endpoints on r
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)

	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.POST("/verify-otp", h.VerifyOTP)

	r.GET("/get-session/:session_id", h.GetSession)
	r.DELETE("/cleanup-sessions", h.CleanupSessions)

	authed := r.Group("/")
	authed.Use(middleware.BearerAuth(tokenVerifier{service: h.service}))
	{
		authed.GET("/verify-token", h.VerifyToken)
		authed.POST("/create-session", h.CreateSession)
		authed.DELETE("/sessions/:session_id", h.DeleteSession)
	}
}
