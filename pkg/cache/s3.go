package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of *s3.Client used by S3Adapter.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Adapter stores each cache entry as one object in a bucket.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	adapter := cache.NewS3Adapter(s3.NewFromConfig(cfg), "my-bucket",
//	    cache.WithS3Prefix("katai/"))
type S3Adapter struct {
	client      S3API
	bucket      string
	prefix      string
	contentType string
	closed      atomic.Bool
}

// S3Option configures S3Adapter.
type S3Option func(*s3Config)

type s3Config struct {
	prefix      string
	contentType string
}

// WithS3Prefix sets the object key prefix (e.g. "katai/").
func WithS3Prefix(prefix string) S3Option {
	return func(c *s3Config) {
		c.prefix = prefix
	}
}

// WithS3ContentType sets the content type stored with each object.
// Default: "application/json".
func WithS3ContentType(contentType string) S3Option {
	return func(c *s3Config) {
		c.contentType = contentType
	}
}

// NewS3Adapter creates an adapter storing objects in bucket.
func NewS3Adapter(client S3API, bucket string, opts ...S3Option) *S3Adapter {
	cfg := &s3Config{contentType: "application/json"}
	for _, opt := range opts {
		opt(cfg)
	}
	return &S3Adapter{
		client:      client,
		bucket:      bucket,
		prefix:      cfg.prefix,
		contentType: cfg.contentType,
	}
}

func (s *S3Adapter) objectKey(key string) string {
	return s.prefix + key
}

func (s *S3Adapter) Read(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrAdapterClosed
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Adapter) Write(ctx context.Context, key string, data []byte) error {
	if s.closed.Load() {
		return ErrAdapterClosed
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(s.contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func (s *S3Adapter) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrAdapterClosed
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

// Close marks the adapter closed.
func (s *S3Adapter) Close() error {
	s.closed.Store(true)
	return nil
}
