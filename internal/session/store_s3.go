package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"authgate/internal/storage"
)

// DefaultS3Prefix is the object key prefix for handoff records
const DefaultS3Prefix = "handoff/"

// S3Store implements Store on top of an S3-compatible bucket so that several
// service instances can share handoffs without a shared filesystem.
type S3Store struct {
	storage storage.Service
	prefix  string
}

// NewS3Store creates a store writing objects under prefix
func NewS3Store(svc storage.Service, prefix string) *S3Store {
	if prefix == "" {
		prefix = DefaultS3Prefix
	}
	return &S3Store{storage: svc, prefix: prefix}
}

func (s *S3Store) key(k string) string {
	return s.prefix + k + fileExt
}

// Set writes the record; S3 has no per-object TTL so ttl is ignored
func (s *S3Store) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return s.storage.PutObject(ctx, s.key(key), []byte(value), "application/json")
}

func (s *S3Store) Get(ctx context.Context, key string) (string, error) {
	data, err := s.storage.GetObject(ctx, s.key(key))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", ErrKeyNotFound
		}
		return "", err
	}
	return string(data), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	return s.storage.DeleteObject(ctx, s.key(key))
}

func (s *S3Store) Keys(ctx context.Context) ([]string, error) {
	objects, err := s.storage.ListKeys(ctx, s.prefix)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj, s.prefix)
		if !strings.HasSuffix(name, fileExt) || strings.Contains(name, "/") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	return keys, nil
}
