// Package objectstore uploads listing photos to durable storage.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// Uploader stores a file and returns a publicly addressable URL for it.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// PublicBaseURL overrides the URL prefix returned for uploaded objects,
	// e.g. a CDN in front of the bucket.
	PublicBaseURL string
}

// MinioStore is an Uploader backed by an S3 compatible bucket.
type MinioStore struct {
	client *minio.Client
	cfg    Config
}

// NewMinioStore connects and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("created bucket")
	}

	return &MinioStore{client: client, cfg: cfg}, nil
}

func (s *MinioStore) Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return s.objectURL(key), nil
}

// Healthy checks the bucket is reachable.
func (s *MinioStore) Healthy(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.cfg.Bucket); err != nil {
		return fmt.Errorf("bucket %s unreachable: %w", s.cfg.Bucket, err)
	}
	return nil
}

func (s *MinioStore) objectURL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return joinURL(s.cfg.PublicBaseURL, key)
	}
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	return joinURL(fmt.Sprintf("%s://%s/%s", scheme, s.client.EndpointURL().Host, s.cfg.Bucket), key)
}

func joinURL(base, key string) string {
	u, err := url.JoinPath(base, key)
	if err != nil {
		return base + "/" + key
	}
	return u
}
