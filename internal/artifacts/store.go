// Package artifacts persists screenshot and pdf bytes in S3-compatible
// object storage and composes their permanent public URLs.
package artifacts

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/ids"
)

// Store is the object-storage client plus the CDN host that fronts the
// bucket. Public URLs are a pure function of the object key and that host.
type Store struct {
	client  *minio.Client
	bucket  string
	cdnHost string
}

// Config carries the storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	CDNHost   string
}

// New connects to object storage and verifies the bucket exists. A missing
// bucket is a deployment error, not something the gateway creates on the fly.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage bucket check: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("storage bucket %q does not exist", cfg.Bucket)
	}

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Str("bucket", cfg.Bucket).
		Str("cdn_host", cfg.CDNHost).
		Msg("Artifact storage ready")

	return &Store{client: client, bucket: cfg.Bucket, cdnHost: cfg.CDNHost}, nil
}

// Put writes an artifact under key with the given content type.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("storage put %s: %w", key, err)
	}
	return nil
}

// Delete removes an artifact. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage delete %s: %w", key, err)
	}
	return nil
}

// PublicURL composes the permanent URL for an object key.
func (s *Store) PublicURL(key string) string {
	return ids.PublicURL(s.cdnHost, key)
}

// ContentType maps an artifact kind and image format to its MIME type.
func ContentType(kind, format string) string {
	if kind == "pdf" {
		return "application/pdf"
	}
	if format == "" {
		format = "png"
	}
	return "image/" + format
}
