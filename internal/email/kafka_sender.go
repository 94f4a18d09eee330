package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventPublisher publishes an event and waits for the broker acknowledgement
type EventPublisher interface {
	PublishSync(ctx context.Context, topic, key string, event any) error
}

// KafkaSender queues OTP emails for the email worker. A nil error means the
// event is durably queued, not that the email has been delivered.
type KafkaSender struct {
	publisher EventPublisher
	topic     string
	now       func() time.Time
	logger    *slog.Logger
}

// NewKafkaSender creates a sender publishing to topic
func NewKafkaSender(publisher EventPublisher, topic string, logger *slog.Logger) *KafkaSender {
	return &KafkaSender{
		publisher: publisher,
		topic:     topic,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *KafkaSender) SendOTP(ctx context.Context, recipient, code string) error {
	event := NewOTPEvent(recipient, code, s.now())

	// Keyed by recipient so one user's codes stay ordered within a partition
	if err := s.publisher.PublishSync(ctx, s.topic, recipient, event); err != nil {
		return fmt.Errorf("failed to queue otp email: %w", err)
	}

	s.logger.Info("OTP email queued", "email", recipient, "message_id", event.MessageID)
	return nil
}
