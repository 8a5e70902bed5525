// Package objectstore uploads media to an S3-compatible bucket (R2, MinIO,
// S3) and hands out URLs the transcription provider can fetch.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vietddude/noteably/internal/core/apperr"
)

// Config holds object storage settings.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	// PublicURL, when set, is the public base URL of the bucket. Otherwise
	// uploads are exposed through presigned GET URLs.
	PublicURL     string        `yaml:"public_url"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

// Store is a bucket-backed media store.
type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
	expiry    time.Duration
	log       *slog.Logger
}

// New creates a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object storage bucket not configured")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 24 * time.Hour
	}
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		expiry:    cfg.PresignExpiry,
		log:       slog.Default().With("component", "objectstore"),
	}, nil
}

// ObjectKey returns a collision-free key for filename.
func ObjectKey(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return uuid.NewString() + "/" + name
}

// Upload stores r under a fresh key and returns the key and a URL for it.
func (s *Store) Upload(ctx context.Context, filename, contentType string, r io.Reader, size int64) (string, string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := ObjectKey(filename)

	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return "", "", apperr.Wrap(apperr.KindUpload, err, "failed to upload file")
	}
	s.log.Debug("Uploaded object", "key", key, "size", size)

	u, err := s.URL(ctx, key)
	if err != nil {
		return key, "", err
	}
	return key, u, nil
}

// URL returns the address of key: public if configured, presigned otherwise.
func (s *Store) URL(ctx context.Context, key string) (string, error) {
	if s.publicURL != "" {
		return s.publicURL + "/" + key, nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, url.Values{})
	if err != nil {
		return "", apperr.Wrap(apperr.KindDownload, err, "failed to presign object URL")
	}
	return u.String(), nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return apperr.Wrap(apperr.KindUpload, err, "failed to delete object")
	}
	s.log.Debug("Deleted object", "key", key)
	return nil
}
