package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// DeadLetterPublisher receives events that could not be delivered
type DeadLetterPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Topic         string
	DLQTopic      string
	ConsumerGroup string
	MaxRetries    int
}

// Consumer reads EmailEvents from Kafka and delivers them exactly once per message_id
type Consumer struct {
	consumer         *kafka.Consumer
	sender           EventSender
	idempotencyStore *IdempotencyStore
	dlq              DeadLetterPublisher
	config           *ConsumerConfig
	logger           *slog.Logger
	backoff          func(attempt int) time.Duration
}

// NewConsumer creates a consumer from librdkafka settings
func NewConsumer(
	kafkaConfig *kafka.ConfigMap,
	config *ConsumerConfig,
	sender EventSender,
	idempotencyStore *IdempotencyStore,
	dlq DeadLetterPublisher,
	logger *slog.Logger,
) (*Consumer, error) {
	c, err := kafka.NewConsumer(kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	consumer := newConsumer(config, sender, idempotencyStore, dlq, logger)
	consumer.consumer = c

	logger.Info("Kafka consumer initialized",
		"topic", config.Topic,
		"group", config.ConsumerGroup)

	return consumer, nil
}

func newConsumer(config *ConsumerConfig, sender EventSender, store *IdempotencyStore, dlq DeadLetterPublisher, logger *slog.Logger) *Consumer {
	return &Consumer{
		sender:           sender,
		idempotencyStore: store,
		dlq:              dlq,
		config:           config,
		logger:           logger,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * time.Second
		},
	}
}

// Start consumes messages until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.consumer.Subscribe(c.config.Topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	c.logger.Info("Starting to consume messages", "topic", c.config.Topic)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer shutting down...")
			return nil
		default:
		}

		msg, err := c.consumer.ReadMessage(time.Second)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			c.logger.Error("Error reading message", "error", err)
			continue
		}

		c.logger.Debug("Received email event",
			"topic", *msg.TopicPartition.Topic,
			"partition", msg.TopicPartition.Partition,
			"offset", msg.TopicPartition.Offset)

		if c.process(ctx, msg.Value) {
			c.commitMessage(msg)
		}
	}
}

// process handles one raw event and reports whether its offset may be committed
func (c *Consumer) process(ctx context.Context, value []byte) bool {
	var event EmailEvent
	if err := json.Unmarshal(value, &event); err != nil {
		c.logger.Error("Failed to parse email event", "error", err)
		return true
	}

	if event.MessageID == "" {
		c.logger.Error("Email event missing message_id",
			"recipient", event.Recipient,
			"type", event.EventType)
		return true
	}

	isProcessed, err := c.idempotencyStore.IsProcessed(ctx, event.MessageID)
	if err != nil {
		c.logger.Error("Failed to check idempotency", "messageID", event.MessageID, "error", err)
		return false
	}
	if isProcessed {
		c.logger.Warn("Duplicate email event detected, skipping",
			"messageID", event.MessageID,
			"recipient", event.Recipient)
		return true
	}

	if err := c.processWithRetry(ctx, event); err != nil {
		if ctx.Err() != nil {
			return false
		}
		c.logger.Error("Failed to process email event after retries",
			"messageID", event.MessageID,
			"error", err)
		c.sendToDLQ(ctx, event, err)
		return true
	}

	success, err := c.idempotencyStore.MarkAsProcessed(ctx, event)
	if err != nil {
		c.logger.Error("Failed to mark as processed", "messageID", event.MessageID, "error", err)
		return false
	}
	if !success {
		c.logger.Warn("Message was processed by another consumer", "messageID", event.MessageID)
	}

	c.logger.Info("Email event processed successfully",
		"messageID", event.MessageID,
		"recipient", event.Recipient,
		"type", event.EventType)
	return true
}

// processWithRetry attempts to send the email with linear backoff
func (c *Consumer) processWithRetry(ctx context.Context, event EmailEvent) error {
	maxRetries := c.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := c.sender.SendEmailEvent(ctx, event)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("Email sent successfully after retry",
					"messageID", event.MessageID,
					"attempt", attempt)
			}
			return nil
		}

		lastErr = err
		c.logger.Warn("Failed to send email, will retry",
			"messageID", event.MessageID,
			"attempt", attempt,
			"maxRetries", maxRetries,
			"error", err)

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// sendToDLQ sends a failed event to the dead letter topic
func (c *Consumer) sendToDLQ(ctx context.Context, event EmailEvent, processingError error) {
	if c.dlq == nil {
		return
	}

	dlqEvent := map[string]any{
		"original_event": event,
		"error":          processingError.Error(),
		"failed_at":      time.Now().UTC(),
		"consumer_group": c.config.ConsumerGroup,
	}

	if err := c.dlq.Publish(ctx, c.config.DLQTopic, event.MessageID, dlqEvent); err != nil {
		c.logger.Error("Failed to send to DLQ", "messageID", event.MessageID, "error", err)
		return
	}

	c.logger.Warn("Email event sent to DLQ",
		"messageID", event.MessageID,
		"recipient", event.Recipient,
		"dlq_topic", c.config.DLQTopic)
}

// commitMessage commits the Kafka offset
func (c *Consumer) commitMessage(msg *kafka.Message) {
	if _, err := c.consumer.CommitMessage(msg); err != nil {
		c.logger.Error("Failed to commit offset",
			"topic", *msg.TopicPartition.Topic,
			"partition", msg.TopicPartition.Partition,
			"offset", msg.TopicPartition.Offset,
			"error", err)
	}
}

// Close closes the consumer
func (c *Consumer) Close() {
	c.logger.Info("Closing Kafka consumer...")
	if c.consumer != nil {
		c.consumer.Close()
	}
	c.logger.Info("Kafka consumer closed")
}
