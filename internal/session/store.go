package session

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by a Store when the key does not exist
var ErrKeyNotFound = errors.New("key not found")

// Store defines the interface for session storage operations.
//
// The ttl passed to Set is a retention hint. Expiry decisions are made by the
// Manager against the timestamp inside the record; backends without native
// expiry ignore ttl.
type Store interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
