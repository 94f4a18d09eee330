package email

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler serves the email worker's health endpoints
type Handler struct {
	store  *IdempotencyStore
	logger *slog.Logger
}

// NewHandler creates a new email service handler
func NewHandler(store *IdempotencyStore, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes mounts the handler on r
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.HealthCheck)
	r.GET("/stats", h.Stats)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	redisStatus := "connected"
	if err := h.store.Ping(ctx); err != nil {
		redisStatus = "disconnected"
		h.logger.Error("Redis health check failed", "error", err)
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if redisStatus != "connected" {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"service":   "email-service",
		"redis":     redisStatus,
		"timestamp": time.Now().UTC(),
	})
}

// Stats handles GET /stats
func (h *Handler) Stats(c *gin.Context) {
	recordCount, err := h.store.Count(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"idempotency_records": recordCount,
		"ttl_hours":           int(h.store.TTL().Hours()),
	})
}
