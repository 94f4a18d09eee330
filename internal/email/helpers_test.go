package email

import (
	"context"
	"errors"
	"sync"
	"testing"

	"authgate/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// recordingSender captures deliveries and fails the first failN calls
type recordingSender struct {
	mu    sync.Mutex
	sent  []EmailEvent
	calls int
	failN int
}

func (s *recordingSender) SendOTP(ctx context.Context, recipient, code string) error {
	return s.SendEmailEvent(ctx, EmailEvent{EventType: EmailTypeOTPCode, Recipient: recipient, Data: map[string]any{"code": code}})
}

func (s *recordingSender) SendEmailEvent(ctx context.Context, event EmailEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, event)
	return nil
}

// recordingPublisher captures published events
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	keys   []string
	events []any
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	return p.PublishSync(ctx, topic, key, event)
}

func (p *recordingPublisher) PublishSync(ctx context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.events = append(p.events, event)
	return nil
}

func newTestIdempotencyStore(t *testing.T) (*IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewIdempotencyStore(client, logger.Discard()), mr
}
