package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vango-dev/katai/internal/config"
	"github.com/vango-dev/katai/internal/errors"
	"github.com/vango-dev/katai/pkg/cache"
)

// backend is an opened cache adapter plus whatever must be released with it.
type backend struct {
	adapter cache.Adapter
	codec   cache.Codec
	closers []func() error
}

func (b *backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openBackend builds the adapter named by cfg.Cache.Backend. The adapter is
// nil for the "none" backend.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	codec, err := cache.CodecByName(cfg.Cache.Codec)
	if err != nil {
		return nil, errors.New("K040").Wrap(err)
	}
	b := &backend{codec: codec}

	switch cfg.Cache.Backend {
	case config.BackendNone:
		return b, nil

	case config.BackendMemory:
		m := cache.NewMemoryAdapter()
		b.adapter = m
		b.closers = append(b.closers, m.Close)

	case config.BackendSQLite:
		db, err := openSQLite(cfg.Cache.SQLite.Path)
		if err != nil {
			return nil, errors.New("K022").Wrap(err)
		}
		a := cache.NewSQLAdapter(db,
			cache.WithSQLTableName(cfg.Cache.SQLite.Table),
			cache.WithSQLDialect(cache.DialectSQLite),
		)
		if err := a.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, errors.New("K022").Wrap(fmt.Errorf("create cache table: %w", err))
		}
		b.adapter = a
		b.closers = append(b.closers, db.Close, a.Close)

	case config.BackendS3:
		a := cache.NewS3Adapter(newS3Client(cfg.Cache.S3), cfg.Cache.S3.Bucket,
			cache.WithS3Prefix(cfg.Cache.S3.Prefix),
			cache.WithS3ContentType(contentType(codec)),
		)
		b.adapter = a
		b.closers = append(b.closers, a.Close)

	default:
		return nil, errors.New("K040").
			WithDetail(fmt.Sprintf("cache.backend = %q", cfg.Cache.Backend))
	}
	return b, nil
}

// openSQLite opens sqlite with a single connection.
func openSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// newS3Client builds a client from static settings and the standard AWS
// credential environment variables.
func newS3Client(cfg config.S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.PathStyle,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				id := os.Getenv("AWS_ACCESS_KEY_ID")
				secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
				if id == "" || secret == "" {
					return aws.Credentials{}, fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
				}
				return aws.Credentials{
					AccessKeyID:     id,
					SecretAccessKey: secret,
					SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
					Source:          "katai-env",
				}, nil
			},
		)),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func contentType(codec cache.Codec) string {
	if codec.Name() == "yaml" {
		return "application/yaml"
	}
	return "application/json"
}
