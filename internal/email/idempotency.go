package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyPrefix = "email:sent:"
	idempotencyTTL    = 24 * time.Hour
)

// ErrMetadataNotFound is returned when no record exists for a message ID
var ErrMetadataNotFound = errors.New("message not found")

// IdempotencyStore handles deduplication of email events
type IdempotencyStore struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewIdempotencyStore creates a new idempotency store
func NewIdempotencyStore(redisClient *redis.Client, logger *slog.Logger) *IdempotencyStore {
	return &IdempotencyStore{
		redis:  redisClient,
		ttl:    idempotencyTTL,
		logger: logger,
	}
}

// TTL returns how long processed records are retained
func (s *IdempotencyStore) TTL() time.Duration {
	return s.ttl
}

func (s *IdempotencyStore) buildKey(messageID string) string {
	return idempotencyPrefix + messageID
}

// IsProcessed checks if an email event has already been processed
func (s *IdempotencyStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	exists, err := s.redis.Exists(ctx, s.buildKey(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if message is processed: %w", err)
	}
	return exists > 0, nil
}

// MarkAsProcessed records the event with SET NX. It returns false when another
// consumer already marked it.
func (s *IdempotencyStore) MarkAsProcessed(ctx context.Context, event EmailEvent) (bool, error) {
	metadataJSON, err := json.Marshal(EmailMetadata{
		SentAt:    time.Now().UTC(),
		Recipient: event.Recipient,
		EventType: event.EventType,
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	success, err := s.redis.SetNX(ctx, s.buildKey(event.MessageID), metadataJSON, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark message as processed: %w", err)
	}

	if !success {
		s.logger.Warn("Email already processed (duplicate detected)",
			"messageID", event.MessageID,
			"recipient", event.Recipient)
	}
	return success, nil
}

// GetMetadata retrieves the metadata for a processed email
func (s *IdempotencyStore) GetMetadata(ctx context.Context, messageID string) (*EmailMetadata, error) {
	data, err := s.redis.Get(ctx, s.buildKey(messageID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMetadataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	var metadata EmailMetadata
	if err := json.Unmarshal([]byte(data), &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &metadata, nil
}

// Count returns the number of live deduplication records
func (s *IdempotencyStore) Count(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		count  int64
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, idempotencyPrefix+"*", 100).Result()
		if err != nil {
			return count, fmt.Errorf("failed to scan keys: %w", err)
		}
		count += int64(len(keys))
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

// Ping checks the Redis connection
func (s *IdempotencyStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
