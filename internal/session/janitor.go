package session

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically sweeps expired handoffs
type Janitor struct {
	manager  Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewJanitor creates a janitor; an interval of zero disables it
func NewJanitor(manager Manager, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{manager: manager, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		j.logger.Info("Session janitor disabled")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("Session janitor started", "interval", j.interval)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Session janitor stopped")
			return
		case <-ticker.C:
			n, err := j.manager.Cleanup(ctx)
			if err != nil && ctx.Err() == nil {
				j.logger.Error("Session sweep failed", "cleaned", n, "error", err)
			}
		}
	}
}
