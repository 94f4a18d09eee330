package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 is an in-memory stand-in for the S3 client
type fakeS3 struct {
	mu            sync.Mutex
	objects       map[string][]byte
	bucketExists  bool
	createdBucket bool
	pageSize      int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), bucketExists: true, pageSize: 2}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == aws.ToString(in.ContinuationToken) {
				start = i
				break
			}
		}
	}
	end := start + f.pageSize
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.bucketExists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucketExists = true
	f.createdBucket = true
	return &s3.CreateBucketOutput{}, nil
}

func TestService_ObjectLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewWithClient(newFakeS3(), "handoffs")

	if err := svc.PutObject(ctx, "handoff/a.json", []byte(`{"a":1}`), "application/json"); err != nil {
		t.Fatalf("put: %v", err)
	}

	data, err := svc.GetObject(ctx, "handoff/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("unexpected body %q", data)
	}

	if err := svc.DeleteObject(ctx, "handoff/a.json"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetObject(ctx, "handoff/a.json"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	if err := svc.DeleteObject(ctx, "handoff/a.json"); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
}

func TestService_ListKeysPaginates(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	svc := NewWithClient(fake, "handoffs")

	for _, k := range []string{"handoff/1.json", "handoff/2.json", "handoff/3.json", "handoff/4.json", "handoff/5.json", "other/x"} {
		if err := svc.PutObject(ctx, k, []byte("x"), "text/plain"); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	keys, err := svc.ListKeys(ctx, "handoff/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 5 {
		t.Fatalf("expected 5 keys across pages, got %d: %v", len(keys), keys)
	}
}

func TestService_EnsureBucketExists(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	fake.bucketExists = false
	svc := NewWithClient(fake, "handoffs")

	if err := svc.Health(ctx); err == nil {
		t.Error("expected health check to fail without bucket")
	}
	if err := svc.EnsureBucketExists(ctx); err != nil {
		t.Fatalf("ensure bucket: %v", err)
	}
	if !fake.createdBucket {
		t.Error("expected bucket to be created")
	}
	if err := svc.Health(ctx); err != nil {
		t.Errorf("expected healthy bucket, got %v", err)
	}
}

func TestService_PutRejectsEmptyKey(t *testing.T) {
	svc := NewWithClient(newFakeS3(), "handoffs")
	if err := svc.PutObject(context.Background(), "", nil, "text/plain"); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "s", BucketName: "b"}
	if err := cfg.validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
	cfg.BucketName = ""
	if err := cfg.validate(); err == nil || !strings.Contains(err.Error(), "S3_BUCKET_NAME") {
		t.Errorf("expected bucket error, got %v", err)
	}
}
