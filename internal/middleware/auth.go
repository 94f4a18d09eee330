// Package middleware holds the gin middleware shared by the HTTP services.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by BearerAuth
const (
	EmailKey = "email"
	TokenKey = "token"
)

// TokenVerifier checks a bearer token and returns its subject email
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// BearerAuth rejects requests without a valid bearer token and stores the
// subject email and raw token in the gin context
func BearerAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c)
			return
		}

		email, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			slog.Warn("Rejected bearer token",
				"error", err.Error(),
				"request_id", c.GetString(RequestIDKey),
			)
			unauthorized(c)
			return
		}

		c.Set(EmailKey, email)
		c.Set(TokenKey, token)

		c.Next()
	}
}

// Email returns the authenticated subject set by BearerAuth
func Email(c *gin.Context) string {
	return c.GetString(EmailKey)
}

// Token returns the raw bearer token set by BearerAuth
func Token(c *gin.Context) string {
	return c.GetString(TokenKey)
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"detail": "Invalid token",
	})
}
